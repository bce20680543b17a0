package txmanager

import (
	"time"

	"github.com/jpillora/backoff"
	"github.com/tevino/abool"
)

// Sleeper interface is used for tasks that need to be done on some
// interval, like retrying after the node could not be reached.
type Sleeper interface {
	Reset()
	After() time.Duration
}

// BackoffSleeper is a sleeper that backs off on subsequent attempts.
type BackoffSleeper struct {
	backoff.Backoff
	beenRun *abool.AtomicBool
}

var _ Sleeper = (*BackoffSleeper)(nil)

// NewBackoffSleeper returns a BackoffSleeper that is configured to
// sleep for 0 seconds initially, then backs off from min to max.
func NewBackoffSleeper(min, max time.Duration) *BackoffSleeper {
	return &BackoffSleeper{
		Backoff: backoff.Backoff{
			Min:    min,
			Max:    max,
			Jitter: true,
		},
		beenRun: abool.New(),
	}
}

// After returns the duration for the next stop, and increments the backoff.
func (bs *BackoffSleeper) After() time.Duration {
	if bs.beenRun.SetToIf(false, true) {
		return 0
	}
	return bs.Backoff.Duration()
}

// Reset resets the backoff intervals.
func (bs *BackoffSleeper) Reset() {
	bs.beenRun.UnSet()
	bs.Backoff.Reset()
}
