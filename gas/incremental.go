package gas

import (
	"math/big"
	"time"

	"github.com/pkg/errors"
)

// Incremental bumps the price every interval by the larger of a percentage and
// a fixed amount of wei, the same rule the engine applies when a node refuses
// a replacement as underpriced.
type Incremental struct {
	initial *big.Int
	percent uint64
	wei     *big.Int
	every   time.Duration
	max     *big.Int
}

var _ GasPrice = (*Incremental)(nil)

func NewIncremental(initial *big.Int, percent uint64, wei *big.Int, every time.Duration, max *big.Int) (*Incremental, error) {
	if initial == nil || initial.Sign() <= 0 {
		return nil, errors.New("initial price must be positive")
	}
	if wei == nil {
		wei = big.NewInt(0)
	}
	if percent == 0 && wei.Sign() == 0 {
		return nil, errors.New("either a bump percent or a bump wei amount is required")
	}
	if every <= 0 {
		return nil, errors.Errorf("bump interval must be positive, got %v", every)
	}
	if max == nil || max.Cmp(initial) < 0 {
		return nil, errors.Errorf("max price %v must not be lower than initial price %v", max, initial)
	}
	return &Incremental{
		initial: new(big.Int).Set(initial),
		percent: percent,
		wei:     new(big.Int).Set(wei),
		every:   every,
		max:     new(big.Int).Set(max),
	}, nil
}

func (inc *Incremental) PriceFor(elapsed time.Duration, _ int) *big.Int {
	n := periods(elapsed, inc.every)
	price := new(big.Int).Set(inc.initial)
	for i := int64(0); i < n; i++ {
		bumped, err := Bump(price, inc.percent, inc.wei, inc.max)
		if err != nil {
			return bumped
		}
		price = bumped
	}
	return price
}
