package gas

import (
	"math/big"
	"sync"
	"time"
)

// Fixed offers the same price regardless of elapsed time and attempt count.
// The price can be changed while handles are using it; a handle never drops
// below the price of its previous attempt though.
type Fixed struct {
	lock  sync.RWMutex
	price *big.Int
}

var _ GasPrice = (*Fixed)(nil)

func NewFixed(price *big.Int) *Fixed {
	return &Fixed{price: new(big.Int).Set(price)}
}

func (f *Fixed) PriceFor(time.Duration, int) *big.Int {
	f.lock.RLock()
	defer f.lock.RUnlock()
	return new(big.Int).Set(f.price)
}

// Update replaces the offered price. Running handles pick it up on their next
// resubmission.
func (f *Fixed) Update(price *big.Int) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.price = new(big.Int).Set(price)
}
