package txmanager

import (
	"math/big"
	"testing"
	"time"

	"github.com/celer-network/eth-txmgr/gas"
	"github.com/celer-network/eth-txmgr/store/models"
	gethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithJitter(t *testing.T) {
	d := 100 * time.Millisecond
	for i := 0; i < 1000; i++ {
		j := withJitter(d)
		assert.GreaterOrEqual(t, j, 90*time.Millisecond)
		assert.Less(t, j, 110*time.Millisecond)
	}
	assert.Equal(t, time.Duration(3), withJitter(3))
}

func TestStartStopOnce(t *testing.T) {
	var once StartStopOnce
	assert.Equal(t, StartStopOnce_Unstarted, once.State())
	assert.Error(t, once.StopOnce("thing", func() error { return nil }))

	calls := 0
	require.NoError(t, once.StartOnce("thing", func() error { calls++; return nil }))
	assert.Error(t, once.StartOnce("thing", func() error { calls++; return nil }))
	assert.Equal(t, 1, calls)
	assert.Equal(t, StartStopOnce_Started, once.State())

	require.NoError(t, once.StopOnce("thing", func() error { return nil }))
	assert.Error(t, once.StopOnce("thing", func() error { return nil }))
	assert.Equal(t, StartStopOnce_Stopped, once.State())
}

func TestBackoffSleeper(t *testing.T) {
	bs := NewBackoffSleeper(10*time.Millisecond, 40*time.Millisecond)
	assert.Equal(t, time.Duration(0), bs.After())
	for i := 0; i < 10; i++ {
		d := bs.After()
		assert.Greater(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, 40*time.Millisecond)
	}
	bs.Reset()
	assert.Equal(t, time.Duration(0), bs.After())
}

func TestWithKind(t *testing.T) {
	cause := errors.New("replacement transaction underpriced")
	err := withKind(ErrSubmissionRejected, cause)
	assert.True(t, errors.Is(err, ErrSubmissionRejected))
	assert.True(t, errors.Is(err, cause))
	assert.False(t, errors.Is(err, ErrConnectivity))
	assert.Equal(t, "submission rejected by node: replacement transaction underpriced", err.Error())

	wrapped := errors.Wrap(err, "replacement failed")
	assert.True(t, errors.Is(wrapped, ErrSubmissionRejected))
	assert.Nil(t, withKind(ErrConnectivity, nil))

	revert := &RevertError{Fingerprint: gethCommon.HexToHash("0x01"), Reason: "Vat/not-allowed"}
	assert.True(t, errors.Is(errors.WithStack(revert), ErrExecutionReverted))
	assert.Contains(t, revert.Error(), "Vat/not-allowed")
}

func TestTxHandle_ResolvesOnce(t *testing.T) {
	h := newTxHandle(TxIntent{From: gethCommon.HexToAddress("0x01"), Value: big.NewInt(1)}, 4, gas.NewFixed(gas.GWei), nil)
	assert.Equal(t, models.TxStatePending, h.State())
	assert.Nil(t, h.Outcome())

	h.lock.Lock()
	assert.True(t, h.resolveLocked(&Outcome{State: models.TxStateMinedSuccess}))
	assert.False(t, h.resolveLocked(&Outcome{State: models.TxStateReplaced}))
	h.lock.Unlock()

	assert.Equal(t, models.TxStateMinedSuccess, h.State())
	assert.Equal(t, models.TxStateMinedSuccess, h.Outcome().State)
	select {
	case <-h.Done():
	default:
		t.Fatal("done channel not closed")
	}

	// The handle keeps its own copy of the intent.
	intent := h.Intent()
	intent.Value.SetInt64(100)
	assert.Equal(t, int64(1), h.Intent().Value.Int64())
}

func TestMetrics_Outcome(t *testing.T) {
	m := NewMetrics()
	// Collectors are shared between instances.
	assert.Same(t, m.outcomes, NewMetrics().outcomes)

	before := testutil.ToFloat64(m.outcomes.WithLabelValues(string(models.TxStateTimedOut)))
	h := newTxHandle(TxIntent{From: gethCommon.HexToAddress("0x01")}, 0, gas.NewFixed(gas.GWei), nil)
	h.lock.Lock()
	h.resolveLocked(&Outcome{State: models.TxStateTimedOut, Err: ErrTimeout})
	m.Outcome(h)
	h.lock.Unlock()
	assert.Equal(t, before+1, testutil.ToFloat64(m.outcomes.WithLabelValues(string(models.TxStateTimedOut))))
}
