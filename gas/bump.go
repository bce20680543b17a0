package gas

import (
	"math/big"

	"github.com/pkg/errors"
)

// ErrBumpCeiling is returned by Bump when the bumped price would exceed the
// configured maximum.
var ErrBumpCeiling = errors.New("gas price bump ceiling reached")

// Bump computes the next gas price to attempt as the largest of:
// - A percentage bump on top of the original price.
// - A fixed amount of wei on top of the original price.
// The result is capped at maxPrice, in which case ErrBumpCeiling is returned
// together with maxPrice.
func Bump(originalPrice *big.Int, percent uint64, wei *big.Int, maxPrice *big.Int) (*big.Int, error) {
	priceByPercentage := new(big.Int).Mul(originalPrice, new(big.Int).SetUint64(100+percent))
	priceByPercentage.Div(priceByPercentage, big.NewInt(100))

	priceByIncrement := new(big.Int).Set(originalPrice)
	if wei != nil {
		priceByIncrement.Add(priceByIncrement, wei)
	}

	bumped := maxBig(priceByPercentage, priceByIncrement)
	if maxPrice != nil && bumped.Cmp(maxPrice) > 0 {
		return new(big.Int).Set(maxPrice), errors.Wrapf(ErrBumpCeiling,
			"bumped gas price of %s would exceed configured max gas price of %s (original price was %s)",
			bumped, maxPrice, originalPrice)
	}
	if bumped.Cmp(originalPrice) == 0 {
		return bumped, errors.Errorf("bumped gas price of %s is equal to original gas price of %s."+
			" ACTION REQUIRED: This is a configuration error, you must increase either "+
			"GasBumpPercent or GasBumpWei", bumped, originalPrice)
	}
	return bumped, nil
}
