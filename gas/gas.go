// Package gas holds the gas price strategies a transaction handle consults on
// every (re)submission.
package gas

import (
	"math/big"
	"time"
)

// GWei is the amount of wei in one gwei.
var GWei = big.NewInt(1000000000)

// GasPrice computes the price to offer for an attempt. elapsed is the time
// since the handle's first submission and attempt is the zero based index of
// the attempt about to be submitted.
//
// Implementations must be safe for concurrent use, since one strategy value may
// be shared by several handles. Fixed, Geometric and Incremental are the
// provided variants; a new policy only has to satisfy this interface.
type GasPrice interface {
	PriceFor(elapsed time.Duration, attempt int) *big.Int
}

// FromGwei converts a gwei amount, possibly fractional, into wei.
func FromGwei(gwei float64) *big.Int {
	f := new(big.Float).Mul(big.NewFloat(gwei), new(big.Float).SetInt(GWei))
	wei, _ := f.Int(nil)
	return wei
}

// ToGwei converts wei into gwei, for logging.
func ToGwei(wei *big.Int) float64 {
	if wei == nil {
		return 0
	}
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(wei), new(big.Float).SetInt(GWei)).Float64()
	return f
}

func maxBig(a, b *big.Int) *big.Int {
	if a.Cmp(b) >= 0 {
		return a
	}
	return b
}

func minBig(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}

// periods returns how many whole intervals fit in elapsed.
func periods(elapsed, every time.Duration) int64 {
	if elapsed <= 0 || every <= 0 {
		return 0
	}
	return int64(elapsed / every)
}
