package txmanager

import (
	"context"

	"github.com/celer-network/eth-txmgr/gas"
	"github.com/celer-network/eth-txmgr/store/models"
	gethTypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
)

// ReplacementCoordinator lets a new intent take over the nonce of a pending
// handle.
type ReplacementCoordinator struct {
	monitor   *txMonitor
	nonces    *NonceTracker
	scheduler *SubmissionScheduler
}

func NewReplacementCoordinator(monitor *txMonitor, nonces *NonceTracker, scheduler *SubmissionScheduler) *ReplacementCoordinator {
	return &ReplacementCoordinator{
		monitor:   monitor,
		nonces:    nonces,
		scheduler: scheduler,
	}
}

// Replace submits intent under old's nonce at the price given by gasPrice
// and, once the node accepts it, marks old as replaced and schedules the new
// handle.
//
// old's lock is held throughout, so neither its escalation loop nor a mined
// outcome can interleave. If old is already terminal the call fails with
// ErrAlreadyResolved and nothing is allocated. If the node refuses the new
// transaction the error is returned and old stays pending. A send that got no
// answer counts as sent.
func (rc *ReplacementCoordinator) Replace(ctx context.Context, old *TxHandle, intent TxIntent, gasPrice gas.GasPrice) (_ *TxHandle, err error) {
	defer func() {
		if err != nil {
			rc.monitor.metrics.Replacement("rejected")
		}
	}()
	if err := intent.validate(); err != nil {
		return nil, err
	}
	if gasPrice == nil {
		return nil, errors.New("replacement requires a gas price strategy")
	}
	if intent.From != old.intent.From {
		return nil, errors.Errorf("replacement sender %s differs from %s", intent.From.Hex(), old.intent.From.Hex())
	}

	old.lock.Lock()
	defer old.lock.Unlock()

	if old.state.Terminal() {
		return nil, errors.Wrapf(ErrAlreadyResolved, "transaction %v is %s", old.id, old.state)
	}
	if err := rc.nonces.ReserveSame(old.intent.From, old.nonce); err != nil {
		return nil, errors.Wrap(err, "replacement failed")
	}

	h := newTxHandle(intent, old.nonce, gasPrice, old)
	if last := old.lastPriceLocked(); last != nil {
		if first := gasPrice.PriceFor(0, 0); first.Cmp(last) <= 0 {
			return nil, withKind(ErrSubmissionRejected,
				errors.Errorf("replacement gas price %s must exceed the replaced transaction's %s", first, last))
		}
	}

	h.lock.Lock()
	err = rc.monitor.submitLocked(ctx, h)
	if err != nil && errors.Is(err, ErrConnectivity) && len(h.attempts) > 0 {
		// The node may hold the replacement already. Its loop rebroadcasts it.
		rc.monitor.logger.Warnw("TxManager: replacement sent without an answer from the node",
			"txID", old.id,
			"replacementTxID", h.id,
			"error", err,
		)
		err = nil
	}
	if err == nil && len(h.attempts) == 0 {
		err = errors.New("replacement was not broadcast")
	}
	nonceTooLow := h.nonceTooLow
	h.lock.Unlock()

	if err != nil {
		rc.monitor.finish(h, &Outcome{State: models.TxStateFailed, Err: err})
		if nonceTooLow && rc.oldMinedLocked(ctx, old) {
			return nil, errors.Wrapf(ErrAlreadyResolved, "transaction %v is %s", old.id, old.state)
		}
		return nil, errors.Wrap(err, "replacement failed")
	}

	old.replacedBy = h
	old.resolveLocked(&Outcome{State: models.TxStateReplaced, ReplacedBy: h.id})
	rc.monitor.afterResolveLocked(old)
	rc.monitor.metrics.Replacement("accepted")
	rc.monitor.logger.Infow("TxManager: transaction replaced",
		"txID", old.id,
		"replacementTxID", h.id,
		"nonce", h.nonce,
		"gasPriceWei", h.LastGasPrice(),
	)

	if err := rc.scheduler.Schedule(h); err != nil {
		rc.monitor.finish(h, &Outcome{State: models.TxStateTimedOut, Err: ErrManagerStopped})
		return h, errors.Wrap(err, "replacement sent but not scheduled")
	}
	return h, nil
}

// oldMinedLocked checks whether one of old's attempts was mined, resolving
// old if so. old's lock must be held.
func (rc *ReplacementCoordinator) oldMinedLocked(ctx context.Context, old *TxHandle) bool {
	fps := old.fingerprintsLocked()
	for i := len(fps) - 1; i >= 0; i-- {
		receipt := rc.monitor.fetchReceipt(ctx, fps[i])
		if receipt == nil {
			continue
		}
		outcome := &Outcome{
			State:       models.TxStateMinedSuccess,
			Fingerprint: fps[i],
			Receipt:     receipt,
		}
		if receipt.Status != gethTypes.ReceiptStatusSuccessful {
			outcome.State = models.TxStateMinedReverted
			outcome.RevertReason = rc.monitor.resolver.Resolve(ctx, fps[i])
			outcome.Err = &RevertError{Fingerprint: fps[i], Reason: outcome.RevertReason}
		}
		old.resolveLocked(outcome)
		rc.monitor.afterResolveLocked(old)
		return true
	}
	return false
}
