package gas

import (
	"math/big"
	"time"

	"github.com/pkg/errors"
)

// DefaultCoefficient is the growth factor applied every interval when none is
// given. 1.125 keeps every step above the 10% minimum replacement bump nodes
// enforce while growing slowly.
const DefaultCoefficient = 1.125

// Geometric starts at an initial price and multiplies it by a coefficient
// every interval since the first submission, capped at a maximum:
//
//	price = min(floor(initial * coefficient^floor(elapsed/every)), max)
type Geometric struct {
	initial     *big.Int
	coefficient *big.Float
	every       time.Duration
	max         *big.Int
}

var _ GasPrice = (*Geometric)(nil)

// NewGeometric validates its parameters; a coefficient of 0 selects
// DefaultCoefficient.
func NewGeometric(initial *big.Int, coefficient float64, every time.Duration, max *big.Int) (*Geometric, error) {
	if coefficient == 0 {
		coefficient = DefaultCoefficient
	}
	if initial == nil || initial.Sign() <= 0 {
		return nil, errors.New("initial price must be positive")
	}
	if coefficient <= 1 {
		return nil, errors.Errorf("coefficient must be greater than 1, got %v", coefficient)
	}
	if every <= 0 {
		return nil, errors.Errorf("growth interval must be positive, got %v", every)
	}
	if max == nil || max.Cmp(initial) < 0 {
		return nil, errors.Errorf("max price %v must not be lower than initial price %v", max, initial)
	}
	return &Geometric{
		initial:     new(big.Int).Set(initial),
		coefficient: big.NewFloat(coefficient),
		every:       every,
		max:         new(big.Int).Set(max),
	}, nil
}

// MustNewGeometric is NewGeometric for statically known parameters.
func MustNewGeometric(initial *big.Int, coefficient float64, every time.Duration, max *big.Int) *Geometric {
	g, err := NewGeometric(initial, coefficient, every, max)
	if err != nil {
		panic(err)
	}
	return g
}

func (g *Geometric) PriceFor(elapsed time.Duration, _ int) *big.Int {
	n := periods(elapsed, g.every)
	maxF := new(big.Float).SetInt(g.max)
	price := new(big.Float).SetInt(g.initial)
	for i := int64(0); i < n; i++ {
		price.Mul(price, g.coefficient)
		// Once capped every further call returns max, so stop multiplying.
		if price.Cmp(maxF) >= 0 {
			return new(big.Int).Set(g.max)
		}
	}
	wei, _ := price.Int(nil)
	return minBig(wei, g.max)
}
