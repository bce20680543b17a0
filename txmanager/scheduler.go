package txmanager

import (
	"context"
	"sync"

	"github.com/celer-network/eth-txmgr/store/models"
	"github.com/celer-network/eth-txmgr/types"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/tevino/abool"
	"go.uber.org/multierr"
)

// SubmissionScheduler runs each handle's monitor loop in its own goroutine
// and lets callers wait on any set of handles.
type SubmissionScheduler struct {
	monitor *txMonitor
	logger  types.Logger

	ctx    context.Context
	cancel context.CancelFunc
	// Guards wg.Add and idle against a concurrent Stop.
	lock sync.Mutex
	wg   sync.WaitGroup
	// handles created but not scheduled yet
	idle   map[uuid.UUID]*TxHandle
	closed *abool.AtomicBool
}

func NewSubmissionScheduler(monitor *txMonitor, logger types.Logger) *SubmissionScheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &SubmissionScheduler{
		monitor: monitor,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		idle:    make(map[uuid.UUID]*TxHandle),
		closed:  abool.New(),
	}
}

// track keeps h until it is scheduled so that Stop can resolve it.
func (s *SubmissionScheduler) track(h *TxHandle) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.closed.IsSet() {
		return ErrManagerStopped
	}
	s.idle[h.id] = h
	return nil
}

// Schedule starts monitoring h in the background. A handle can be scheduled
// once.
func (s *SubmissionScheduler) Schedule(h *TxHandle) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.closed.IsSet() {
		return ErrManagerStopped
	}
	if !h.scheduled.SetToIf(false, true) {
		return errors.Wrapf(ErrAlreadyScheduled, "transaction %v", h.id)
	}
	delete(s.idle, h.id)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.monitor.run(s.ctx, h)
	}()
	return nil
}

// Wait blocks until every handle is resolved or ctx is done, and returns the
// outcomes in the order of hs. The error combines the outcome errors of all
// handles that did not succeed.
func (s *SubmissionScheduler) Wait(ctx context.Context, hs ...*TxHandle) ([]*Outcome, error) {
	outcomes := make([]*Outcome, len(hs))
	var merr error
	for i, h := range hs {
		outcome, err := h.Wait(ctx)
		outcomes[i] = outcome
		if err == nil {
			continue
		}
		if outcome == nil {
			// ctx is done, the remaining handles would fail the same way.
			return outcomes, multierr.Append(merr, err)
		}
		merr = multierr.Append(merr, errors.Wrapf(err, "transaction %v", h.id))
	}
	return outcomes, merr
}

// Stop cancels every running loop and waits for them to return. Handles
// still pending, scheduled or not, resolve as timed_out with
// ErrManagerStopped.
func (s *SubmissionScheduler) Stop() {
	s.lock.Lock()
	s.closed.Set()
	idle := s.idle
	s.idle = make(map[uuid.UUID]*TxHandle)
	s.lock.Unlock()

	s.cancel()
	s.wg.Wait()
	for _, h := range idle {
		s.resolveIdle(h)
	}
	s.logger.Debug("TxManager: submission scheduler stopped")
}

func (s *SubmissionScheduler) resolveIdle(h *TxHandle) {
	h.lock.Lock()
	defer h.lock.Unlock()
	if h.state.Terminal() {
		return
	}
	s.monitor.releaseNonceLocked(h)
	h.resolveLocked(&Outcome{State: models.TxStateTimedOut, Err: ErrManagerStopped})
	s.monitor.afterResolveLocked(h)
}
