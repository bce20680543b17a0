package txmanager

import (
	"context"
	"math/big"
	"time"

	"github.com/celer-network/eth-txmgr/client"
	"github.com/celer-network/eth-txmgr/gas"
	"github.com/celer-network/eth-txmgr/store/models"
	"github.com/celer-network/eth-txmgr/types"

	ethereum "github.com/ethereum/go-ethereum"
	gethCommon "github.com/ethereum/go-ethereum/common"
	gethTypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
)

const (
	// How many polls in a row must see the account's confirmed nonce past
	// ours, without any of our fingerprints being mined, before the nonce is
	// considered consumed by someone else. Receipts can lag the nonce.
	nonceConsumedConfirmations = 2

	minRetryBackoff = 100 * time.Millisecond
)

// txMonitor runs the submit, escalate and confirm loop of handles. One
// monitor serves every handle of a TxManager; per handle state lives in the
// handle itself.
type txMonitor struct {
	ethClient client.Client
	keyStore  client.KeyStoreInterface
	journal   *journal
	nonces    *NonceTracker
	resolver  *RevertResolver
	metrics   *Metrics
	config    *types.Config
	logger    types.Logger
}

// run drives h until it is resolved or stopped. A canceled ctx resolves a
// still pending handle as timed_out with ErrManagerStopped.
func (m *txMonitor) run(ctx context.Context, h *TxHandle) {
	m.logger.Debugw("TxManager: monitoring transaction", "txID", h.id, "nonce", h.nonce, "description", h.intent.Description)

	var deadline <-chan time.Time
	if m.config.Deadline > 0 {
		deadlineTimer := time.NewTimer(m.config.Deadline - time.Since(h.createdAt))
		defer deadlineTimer.Stop()
		deadline = deadlineTimer.C
	}
	pollTicker := time.NewTicker(m.config.PollInterval)
	defer pollTicker.Stop()

	sleeper := NewBackoffSleeper(minRetryBackoff, m.config.ResubmitInterval)
	// A replacement arrives here with its first attempt already sent.
	submitNow := len(h.Attempts()) == 0
	for {
		wait := withJitter(m.config.ResubmitInterval)
		if submitNow {
			if err := m.submit(ctx, h); err != nil {
				if h.State().Terminal() {
					return
				}
				wait = sleeper.After()
				m.logger.Warnw("TxManager: submission failed, retrying",
					"txID", h.id,
					"nonce", h.nonce,
					"retryIn", wait,
					"error", err,
				)
			} else {
				sleeper.Reset()
			}
		}
		submitNow = true

		resubmitTimer := time.NewTimer(wait)
	waitForResubmit:
		for {
			select {
			case <-h.chStop:
				resubmitTimer.Stop()
				return
			case <-ctx.Done():
				resubmitTimer.Stop()
				m.finish(h, &Outcome{State: models.TxStateTimedOut, Err: ErrManagerStopped})
				return
			case <-deadline:
				resubmitTimer.Stop()
				// Last look before giving up.
				if m.checkReceipts(ctx, h) {
					return
				}
				m.finish(h, &Outcome{State: models.TxStateTimedOut, Err: errors.Wrapf(ErrTimeout, "after %v", m.config.Deadline)})
				return
			case <-pollTicker.C:
				if m.checkReceipts(ctx, h) {
					resubmitTimer.Stop()
					return
				}
			case <-resubmitTimer.C:
				break waitForResubmit
			}
		}
	}
}

func (m *txMonitor) submit(ctx context.Context, h *TxHandle) error {
	h.lock.Lock()
	defer h.lock.Unlock()
	if h.state.Terminal() {
		return nil
	}
	return m.submitLocked(ctx, h)
}

// submitLocked sends the next attempt of h, or rebroadcasts the latest one if
// the strategy's price has not moved past it. The handle's lock must be held.
//
// Errors that end the handle resolve it as failed before being returned.
// Any other returned error is transient for the loop.
func (m *txMonitor) submitLocked(ctx context.Context, h *TxHandle) error {
	if h.gasLimit == 0 {
		if err := m.estimateGasLocked(ctx, h); err != nil {
			return err
		}
	}

	var elapsed time.Duration
	if !h.firstSubmitAt.IsZero() {
		elapsed = time.Since(h.firstSubmitAt)
	}
	price := h.gasPrice.PriceFor(elapsed, len(h.attempts))
	if h.priceFloor != nil {
		price = maxBig(price, h.priceFloor)
	}
	if price.Cmp(m.config.MaxGasPrice) > 0 {
		price = new(big.Int).Set(m.config.MaxGasPrice)
	}

	last := h.lastAttemptLocked()
	if last != nil && price.Cmp(last.GasPrice) <= 0 {
		return m.rebroadcastLocked(ctx, h, last)
	}

	attempt, err := newAttempt(m.keyStore, m.config.ChainID, h, price)
	if err != nil {
		if last != nil {
			// Keep monitoring what was already sent.
			return err
		}
		m.releaseNonceLocked(h)
		return m.failLocked(h, withKind(ErrSubmissionRejected, err))
	}

	sendErr := sendTransaction(ctx, m.ethClient, attempt.SignedTx, m.logger)
	if sendErr == nil {
		m.metrics.Submission("accepted")
		if last != nil {
			m.metrics.Escalation()
			m.logger.Infow("TxManager: escalated gas price",
				"txID", h.id,
				"nonce", h.nonce,
				"attempt", len(h.attempts),
				"previousGasPriceWei", last.GasPrice,
				"gasPriceWei", price,
			)
		}
		m.addAttemptLocked(h, attempt)
		return nil
	}
	return m.handleSendErrorLocked(ctx, h, attempt, sendErr)
}

func (m *txMonitor) handleSendErrorLocked(ctx context.Context, h *TxHandle, attempt *Attempt, sendErr *client.SendError) error {
	firstAttempt := len(h.attempts) == 0
	lg := []interface{}{
		"txID", h.id,
		"nonce", h.nonce,
		"txHash", attempt.Fingerprint,
		"gasPriceWei", attempt.GasPrice,
		"error", sendErr,
	}

	switch {
	case sendErr.IsConnectivityError():
		m.metrics.Submission("connectivity")
		// The node may have received it anyway, so it stays a candidate.
		m.addAttemptLocked(h, attempt)
		return withKind(ErrConnectivity, sendErr)

	case sendErr.IsReplacementUnderpriced() || sendErr.IsTerminallyUnderpriced() || sendErr.IsTemporarilyUnderpriced():
		m.metrics.Submission("underpriced")
		floor, err := gas.Bump(attempt.GasPrice, m.config.GasBumpPercent, m.config.GasBumpWei, m.config.MaxGasPrice)
		if err != nil {
			m.logger.Warnw("TxManager: cannot raise gas price floor any further", append(lg, "bumpError", err)...)
		}
		h.priceFloor = floor
		m.logger.Warnw("TxManager: node rejected gas price as too low, raising floor", append(lg, "floorWei", floor)...)
		return withKind(ErrSubmissionRejected, sendErr)

	case sendErr.IsNonceTooLowError():
		m.metrics.Submission("nonce_too_low")
		if firstAttempt && h.replaces == nil {
			// Nothing of ours can have used this nonce.
			if err := m.nonces.Sync(ctx, h.intent.From); err != nil {
				m.logger.Warnw("TxManager: nonce sync failed", "address", h.intent.From.Hex(), "error", err)
			}
			return m.failLocked(h, withKind(ErrSubmissionRejected, sendErr))
		}
		h.nonceTooLow = true
		m.logger.Infow("TxManager: nonce already used, waiting for receipt", lg...)
		return withKind(ErrSubmissionRejected, sendErr)

	case firstAttempt:
		m.metrics.Submission("rejected")
		m.releaseNonceLocked(h)
		return m.failLocked(h, withKind(ErrSubmissionRejected, sendErr))

	default:
		// Earlier attempts are still in the mempool and may be mined.
		m.metrics.Submission("rejected")
		m.logger.Warnw("TxManager: node rejected resubmission, keeping earlier attempts", lg...)
		return withKind(ErrSubmissionRejected, sendErr)
	}
}

// rebroadcastLocked sends the latest attempt again so a transaction dropped
// from the mempool gets back in.
func (m *txMonitor) rebroadcastLocked(ctx context.Context, h *TxHandle, last *Attempt) error {
	sendErr := sendTransaction(ctx, m.ethClient, last.SignedTx, m.logger)
	switch {
	case sendErr == nil:
		m.metrics.Submission("rebroadcast")
		return nil
	case sendErr.IsNonceTooLowError():
		// Most likely mined. The next poll finds out.
		h.nonceTooLow = true
		return nil
	case sendErr.IsConnectivityError():
		m.metrics.Submission("connectivity")
		return withKind(ErrConnectivity, sendErr)
	default:
		m.logger.Debugw("TxManager: rebroadcast rejected", "txID", h.id, "txHash", last.Fingerprint, "error", sendErr)
		return nil
	}
}

func (m *txMonitor) estimateGasLocked(ctx context.Context, h *TxHandle) error {
	var to *gethCommon.Address
	if h.intent.To != ZeroAddress {
		to = &h.intent.To
	}
	estimateCtx, cancel := context.WithTimeout(ctx, maxEthNodeRequestTime)
	defer cancel()
	gasLimit, err := m.ethClient.EstimateGas(estimateCtx, ethereum.CallMsg{
		From:  h.intent.From,
		To:    to,
		Value: h.intent.value(),
		Data:  h.intent.Data,
	})
	if err == nil {
		h.gasLimit = gasLimit
		return nil
	}
	if client.IsConnectivityError(err) {
		return withKind(ErrConnectivity, err)
	}

	reason, _ := m.resolver.DecodeRevert(err)
	if m.config.GasEstimateForBadTxs > 0 {
		m.logger.Warnw("TxManager: gas estimation failed, sending with fallback gas limit",
			"txID", h.id,
			"gasLimit", m.config.GasEstimateForBadTxs,
			"reason", reason,
			"error", err,
		)
		h.gasLimit = m.config.GasEstimateForBadTxs
		return nil
	}

	m.releaseNonceLocked(h)
	err = withKind(ErrGasEstimation, err)
	h.resolveLocked(&Outcome{
		State:        models.TxStateFailed,
		RevertReason: reason,
		Err:          err,
	})
	m.afterResolveLocked(h)
	return err
}

// releaseNonceLocked gives the nonce back if h never broadcast anything and
// owns the nonce. A replacement shares its nonce with a live transaction.
func (m *txMonitor) releaseNonceLocked(h *TxHandle) {
	if h.replaces != nil || len(h.attempts) > 0 {
		return
	}
	if m.nonces.Release(h.intent.From, h.nonce) {
		m.logger.Debugw("TxManager: released unused nonce", "address", h.intent.From.Hex(), "nonce", h.nonce)
	}
}

func (m *txMonitor) addAttemptLocked(h *TxHandle, attempt *Attempt) {
	attempt.SubmittedAt = time.Now()
	if h.firstSubmitAt.IsZero() {
		h.firstSubmitAt = attempt.SubmittedAt
	}
	h.attempts = append(h.attempts, attempt)
	h.nonceTooLow = false
	h.consumedChecks = 0
	m.journal.saveAttemptLocked(h, attempt)
	m.logger.Debugw("TxManager: attempt submitted",
		"txID", h.id,
		"nonce", h.nonce,
		"attempt", len(h.attempts)-1,
		"txHash", attempt.Fingerprint,
		"gasPriceWei", attempt.GasPrice,
	)
}

func (m *txMonitor) failLocked(h *TxHandle, err error) error {
	h.resolveLocked(&Outcome{State: models.TxStateFailed, Err: err})
	m.afterResolveLocked(h)
	return err
}

// checkReceipts looks for a mined receipt among the handle's fingerprints,
// newest first, then among those of the handles it replaced. It reports
// whether the handle is resolved.
func (m *txMonitor) checkReceipts(ctx context.Context, h *TxHandle) bool {
	h.lock.Lock()
	if h.state.Terminal() {
		h.lock.Unlock()
		return true
	}
	fps := h.fingerprintsLocked()
	nonceTooLow := h.nonceTooLow
	h.lock.Unlock()

	for i := len(fps) - 1; i >= 0; i-- {
		if receipt := m.fetchReceipt(ctx, fps[i]); receipt != nil {
			return m.resolveMined(ctx, h, fps[i], receipt)
		}
	}

	for _, fp := range h.predecessorFingerprints() {
		if receipt := m.fetchReceipt(ctx, fp); receipt != nil {
			return m.finish(h, &Outcome{
				State:       models.TxStateReplaced,
				Fingerprint: fp,
				Receipt:     receipt,
				Err:         errors.Wrapf(ErrNonceConsumed, "replaced transaction %s was mined", fp.Hex()),
			})
		}
	}

	if nonceTooLow {
		return m.checkNonceConsumed(ctx, h)
	}
	return false
}

func (m *txMonitor) checkNonceConsumed(ctx context.Context, h *TxHandle) bool {
	nonceCtx, cancel := context.WithTimeout(ctx, maxEthNodeRequestTime)
	defer cancel()
	confirmed, err := m.ethClient.NonceAt(nonceCtx, h.intent.From, nil)
	if err != nil {
		m.logger.Debugw("TxManager: could not get confirmed nonce", "address", h.intent.From.Hex(), "error", err)
		return false
	}
	if confirmed <= h.nonce {
		return false
	}

	h.lock.Lock()
	h.consumedChecks++
	checks := h.consumedChecks
	h.lock.Unlock()
	if checks < nonceConsumedConfirmations {
		return false
	}
	return m.finish(h, &Outcome{
		State: models.TxStateReplaced,
		Err:   errors.Wrapf(ErrNonceConsumed, "nonce %d confirmed by a transaction not sent by this handle", h.nonce),
	})
}

func (m *txMonitor) fetchReceipt(ctx context.Context, fingerprint gethCommon.Hash) *gethTypes.Receipt {
	ctx, cancel := context.WithTimeout(ctx, maxEthNodeRequestTime)
	defer cancel()
	receipt, err := m.ethClient.TransactionReceipt(ctx, fingerprint)
	if err != nil {
		if !errors.Is(err, ethereum.NotFound) {
			m.logger.Debugw("TxManager: receipt fetch failed", "txHash", fingerprint, "error", err)
		}
		return nil
	}
	if receipt == nil || receipt.BlockNumber == nil {
		return nil
	}
	return receipt
}

// resolveMined resolves h with a receipt of one of its own fingerprints.
func (m *txMonitor) resolveMined(ctx context.Context, h *TxHandle, fingerprint gethCommon.Hash, receipt *gethTypes.Receipt) bool {
	if receipt.Status == gethTypes.ReceiptStatusSuccessful {
		return m.finish(h, &Outcome{
			State:       models.TxStateMinedSuccess,
			Fingerprint: fingerprint,
			Receipt:     receipt,
		})
	}
	reason := m.resolver.Resolve(ctx, fingerprint)
	return m.finish(h, &Outcome{
		State:        models.TxStateMinedReverted,
		Fingerprint:  fingerprint,
		Receipt:      receipt,
		RevertReason: reason,
		Err:          &RevertError{Fingerprint: fingerprint, Reason: reason},
	})
}

// finish resolves h unless something else did first. It always reports true
// since either way the handle is terminal afterwards.
func (m *txMonitor) finish(h *TxHandle, outcome *Outcome) bool {
	h.lock.Lock()
	defer h.lock.Unlock()
	if h.resolveLocked(outcome) {
		m.afterResolveLocked(h)
	}
	return true
}

func (m *txMonitor) afterResolveLocked(h *TxHandle) {
	m.journal.saveTxLocked(h)
	m.metrics.Outcome(h)
	o := h.outcome
	lg := []interface{}{
		"txID", h.id,
		"nonce", h.nonce,
		"state", o.State,
		"attempts", len(h.attempts),
	}
	if o.Fingerprint != (gethCommon.Hash{}) {
		lg = append(lg, "txHash", o.Fingerprint)
	}
	if o.RevertReason != "" {
		lg = append(lg, "reason", o.RevertReason)
	}
	if o.Err != nil {
		lg = append(lg, "error", o.Err)
	}
	switch o.State {
	case models.TxStateMinedSuccess, models.TxStateReplaced:
		m.logger.Infow("TxManager: transaction resolved", lg...)
	default:
		m.logger.Warnw("TxManager: transaction resolved", lg...)
	}
}
