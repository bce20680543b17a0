package gas_test

import (
	"math/big"
	"testing"
	"time"

	"github.com/celer-network/eth-txmgr/gas"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gwei(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), gas.GWei)
}

func TestFixed_PriceFor(t *testing.T) {
	f := gas.NewFixed(gwei(2))

	for _, elapsed := range []time.Duration{0, time.Second, time.Hour} {
		for attempt := 0; attempt < 3; attempt++ {
			assert.Equal(t, gwei(2), f.PriceFor(elapsed, attempt))
		}
	}

	t.Run("returned price is a copy", func(t *testing.T) {
		p := f.PriceFor(0, 0)
		p.SetInt64(1)
		assert.Equal(t, gwei(2), f.PriceFor(0, 0))
	})

	t.Run("update takes effect on the next call", func(t *testing.T) {
		f.Update(gwei(5))
		assert.Equal(t, gwei(5), f.PriceFor(0, 1))
	})
}

func TestGeometric_Validation(t *testing.T) {
	_, err := gas.NewGeometric(big.NewInt(0), 1.5, time.Second, gwei(1))
	require.Error(t, err)

	_, err = gas.NewGeometric(gwei(1), 1, time.Second, gwei(2))
	require.Error(t, err)

	_, err = gas.NewGeometric(gwei(1), 0.5, time.Second, gwei(2))
	require.Error(t, err)

	_, err = gas.NewGeometric(gwei(1), 1.5, 0, gwei(2))
	require.Error(t, err)

	_, err = gas.NewGeometric(gwei(2), 1.5, time.Second, gwei(1))
	require.Error(t, err)

	g, err := gas.NewGeometric(gwei(1), 0, time.Second, gwei(2))
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(1125000000), g.PriceFor(time.Second, 1))
}

func TestGeometric_PriceFor(t *testing.T) {
	g := gas.MustNewGeometric(gwei(1), 1.125, 30*time.Second, gwei(2000))

	assert.Equal(t, gwei(1), g.PriceFor(0, 0))
	assert.Equal(t, gwei(1), g.PriceFor(29*time.Second, 0))
	assert.Equal(t, big.NewInt(1125000000), g.PriceFor(30*time.Second, 1))
	assert.Equal(t, big.NewInt(1265625000), g.PriceFor(60*time.Second, 2))

	t.Run("price at 150s is bounded and not below the price at 120s", func(t *testing.T) {
		at120 := g.PriceFor(120*time.Second, 4)
		at150 := g.PriceFor(150*time.Second, 5)
		assert.True(t, at150.Cmp(gwei(2000)) <= 0)
		assert.True(t, at150.Cmp(at120) >= 0)
		// floor(1e9 * 1.125^5)
		assert.Equal(t, big.NewInt(1802032470), at150)
	})

	t.Run("monotonic and capped", func(t *testing.T) {
		prev := big.NewInt(0)
		for i := 0; i < 200; i++ {
			p := g.PriceFor(time.Duration(i)*30*time.Second, i)
			assert.True(t, p.Cmp(prev) >= 0, "price decreased at step %d", i)
			assert.True(t, p.Cmp(gwei(2000)) <= 0, "price above max at step %d", i)
			prev = p
		}
		assert.Equal(t, gwei(2000), prev)
	})
}

func TestIncremental_PriceFor(t *testing.T) {
	inc, err := gas.NewIncremental(gwei(10), 10, gwei(1), time.Minute, gwei(13))
	require.NoError(t, err)

	assert.Equal(t, gwei(10), inc.PriceFor(0, 0))
	assert.Equal(t, gwei(11), inc.PriceFor(time.Minute, 1))
	assert.Equal(t, big.NewInt(12100000000), inc.PriceFor(2*time.Minute, 2))
	assert.Equal(t, gwei(13), inc.PriceFor(10*time.Minute, 3))

	_, err = gas.NewIncremental(gwei(10), 0, nil, time.Minute, gwei(13))
	require.Error(t, err)
}

func TestBump(t *testing.T) {
	t.Run("percentage wins", func(t *testing.T) {
		bumped, err := gas.Bump(gwei(100), 10, gwei(1), gwei(1000))
		require.NoError(t, err)
		assert.Equal(t, gwei(110), bumped)
	})

	t.Run("fixed wei wins", func(t *testing.T) {
		bumped, err := gas.Bump(gwei(1), 10, gwei(5), gwei(1000))
		require.NoError(t, err)
		assert.Equal(t, gwei(6), bumped)
	})

	t.Run("capped at max", func(t *testing.T) {
		bumped, err := gas.Bump(gwei(950), 10, gwei(5), gwei(1000))
		require.Error(t, err)
		assert.True(t, errors.Is(err, gas.ErrBumpCeiling))
		assert.Equal(t, gwei(1000), bumped)
	})

	t.Run("no bump configured", func(t *testing.T) {
		_, err := gas.Bump(gwei(1), 0, big.NewInt(0), gwei(1000))
		require.Error(t, err)
	})
}

func TestGweiConversion(t *testing.T) {
	assert.Equal(t, big.NewInt(800000000), gas.FromGwei(0.8))
	assert.Equal(t, 2.5, gas.ToGwei(big.NewInt(2500000000)))
}
