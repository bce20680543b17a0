package testing

import (
	"testing"
	"time"

	"github.com/celer-network/eth-txmgr/store/models"
	"github.com/onsi/gomega"
)

// DefaultWaitTimeout bounds how long a test waits for a handle to resolve.
const DefaultWaitTimeout = 5 * time.Second

type stateful interface {
	State() models.TxState
}

// WaitForState waits until h reaches state.
func WaitForState(t testing.TB, h stateful, state models.TxState) {
	t.Helper()

	g := gomega.NewWithT(t)
	g.Eventually(func() models.TxState {
		return h.State()
	}, DefaultWaitTimeout, 10*time.Millisecond).Should(gomega.Equal(state))
}

// AssertStaysPending checks that h does not leave the pending state for the
// given duration.
func AssertStaysPending(t testing.TB, h stateful, d time.Duration) {
	t.Helper()

	g := gomega.NewWithT(t)
	g.Consistently(func() models.TxState {
		return h.State()
	}, d, 10*time.Millisecond).Should(gomega.Equal(models.TxStatePending))
}
