package txmanager

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/celer-network/eth-txmgr/gas"
	"github.com/celer-network/eth-txmgr/store/models"
	gethCommon "github.com/ethereum/go-ethereum/common"
	gethTypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"github.com/tevino/abool"
)

// Attempt is one signed submission of a handle. Every attempt shares the
// handle's nonce; its fingerprint is the hash of the signed transaction.
type Attempt struct {
	ID          uuid.UUID
	Fingerprint gethCommon.Hash
	GasPrice    *big.Int
	SignedTx    *gethTypes.Transaction
	SubmittedAt time.Time
}

// Outcome is the terminal disposition of a handle.
type Outcome struct {
	State models.TxState
	// Fingerprint of the mined transaction. Zero if nothing was mined.
	Fingerprint  gethCommon.Hash
	Receipt      *gethTypes.Receipt
	RevertReason string
	// Set when the handle was explicitly replaced.
	ReplacedBy uuid.UUID
	// Nil for mined_success and explicit replacement.
	Err error
}

// TxHandle tracks one TxIntent from nonce assignment to a terminal state.
//
// The mutable fields are guarded by lock. They are written by the handle's
// own monitor loop and by a concurrent replacement, never by anyone else.
type TxHandle struct {
	id        uuid.UUID
	intent    TxIntent
	nonce     uint64
	gasPrice  gas.GasPrice
	replaces  *TxHandle
	createdAt time.Time

	lock          sync.Mutex
	state         models.TxState
	gasLimit      uint64
	attempts      []*Attempt
	firstSubmitAt time.Time
	// Minimum price of the next attempt, raised when the node reports the
	// offered price as too low.
	priceFloor *big.Int
	// The node reported our nonce as used. Cleared on a successful send.
	nonceTooLow    bool
	consumedChecks int
	replacedBy     *TxHandle
	outcome        *Outcome
	resolvedAt     time.Time

	scheduled *abool.AtomicBool
	chStop    chan struct{}
	chDone    chan struct{}
}

func newTxHandle(intent TxIntent, nonce uint64, gasPrice gas.GasPrice, replaces *TxHandle) *TxHandle {
	return &TxHandle{
		id:        uuid.New(),
		intent:    intent.copy(),
		nonce:     nonce,
		gasPrice:  gasPrice,
		replaces:  replaces,
		createdAt: time.Now(),
		state:     models.TxStatePending,
		gasLimit:  intent.GasLimit,
		scheduled: abool.New(),
		chStop:    make(chan struct{}),
		chDone:    make(chan struct{}),
	}
}

func (h *TxHandle) ID() uuid.UUID {
	return h.id
}

func (h *TxHandle) Intent() TxIntent {
	return h.intent.copy()
}

func (h *TxHandle) Nonce() uint64 {
	return h.nonce
}

// Replaces returns the handle this one superseded, if any.
func (h *TxHandle) Replaces() *TxHandle {
	return h.replaces
}

func (h *TxHandle) State() models.TxState {
	h.lock.Lock()
	defer h.lock.Unlock()
	return h.state
}

// Attempts returns the submitted attempts, oldest first.
func (h *TxHandle) Attempts() []Attempt {
	h.lock.Lock()
	defer h.lock.Unlock()
	attempts := make([]Attempt, 0, len(h.attempts))
	for _, a := range h.attempts {
		c := *a
		c.GasPrice = new(big.Int).Set(a.GasPrice)
		attempts = append(attempts, c)
	}
	return attempts
}

// Fingerprints returns the hashes of every submitted attempt, oldest first.
func (h *TxHandle) Fingerprints() []gethCommon.Hash {
	h.lock.Lock()
	defer h.lock.Unlock()
	return h.fingerprintsLocked()
}

func (h *TxHandle) fingerprintsLocked() []gethCommon.Hash {
	fps := make([]gethCommon.Hash, 0, len(h.attempts))
	for _, a := range h.attempts {
		fps = append(fps, a.Fingerprint)
	}
	return fps
}

// LastGasPrice is the price of the most recent attempt, nil before the first
// submission.
func (h *TxHandle) LastGasPrice() *big.Int {
	h.lock.Lock()
	defer h.lock.Unlock()
	if last := h.lastPriceLocked(); last != nil {
		return new(big.Int).Set(last)
	}
	return nil
}

func (h *TxHandle) lastPriceLocked() *big.Int {
	if len(h.attempts) == 0 {
		return nil
	}
	return h.attempts[len(h.attempts)-1].GasPrice
}

func (h *TxHandle) lastAttemptLocked() *Attempt {
	if len(h.attempts) == 0 {
		return nil
	}
	return h.attempts[len(h.attempts)-1]
}

// Replaced returns the handle that superseded this one, if any.
func (h *TxHandle) Replaced() *TxHandle {
	h.lock.Lock()
	defer h.lock.Unlock()
	return h.replacedBy
}

// Outcome returns nil while the handle is pending.
func (h *TxHandle) Outcome() *Outcome {
	h.lock.Lock()
	defer h.lock.Unlock()
	if h.outcome == nil {
		return nil
	}
	o := *h.outcome
	return &o
}

// Done is closed once the handle reaches a terminal state.
func (h *TxHandle) Done() <-chan struct{} {
	return h.chDone
}

// Wait blocks until the handle is resolved or ctx is done. The returned
// error is the outcome's error, or ctx's if it ended first.
func (h *TxHandle) Wait(ctx context.Context) (*Outcome, error) {
	select {
	case <-h.chDone:
		o := h.Outcome()
		return o, o.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// resolveLocked moves the handle into a terminal state. It returns false if
// the handle was already resolved, in which case nothing changes.
func (h *TxHandle) resolveLocked(outcome *Outcome) bool {
	if h.state.Terminal() {
		return false
	}
	h.state = outcome.State
	h.outcome = outcome
	h.resolvedAt = time.Now()
	close(h.chStop)
	close(h.chDone)
	return true
}

// predecessorFingerprints collects the fingerprints of every handle this one
// transitively replaced. Any of them may still be the one that gets mined.
func (h *TxHandle) predecessorFingerprints() []gethCommon.Hash {
	var fps []gethCommon.Hash
	for p := h.replaces; p != nil; p = p.replaces {
		fps = append(fps, p.Fingerprints()...)
	}
	return fps
}
