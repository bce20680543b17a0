package txmanager

import (
	"fmt"

	gethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

var (
	// ErrSubmissionRejected means the node refused a raw transaction: bad
	// nonce, a price too low relative to a prior attempt, insufficient balance.
	ErrSubmissionRejected = errors.New("submission rejected by node")
	// ErrConnectivity means the node could not be reached. Callers may retry.
	ErrConnectivity = errors.New("node unreachable")
	// ErrExecutionReverted means the transaction was mined but its execution
	// failed. Use errors.As with *RevertError to get the reason.
	ErrExecutionReverted = errors.New("execution reverted")
	// ErrAlreadyResolved is returned when replacing a handle that has already
	// reached a terminal state.
	ErrAlreadyResolved = errors.New("not replaceable, already resolved")
	// ErrTimeout means the deadline passed with no mined outcome.
	ErrTimeout = errors.New("deadline exceeded with no mined outcome")

	ErrNonceSeed        = errors.New("could not seed nonce from node")
	ErrGasEstimation    = errors.New("gas estimation failed")
	ErrNonceConsumed    = errors.New("nonce consumed by another transaction")
	ErrManagerStopped   = errors.New("transaction manager stopped")
	ErrAlreadyScheduled = errors.New("handle already scheduled")
)

// RevertError is the outcome error of a mined_reverted handle.
type RevertError struct {
	Fingerprint gethCommon.Hash
	Reason      string
}

func (e *RevertError) Error() string {
	return fmt.Sprintf("transaction %s reverted: %s", e.Fingerprint.Hex(), e.Reason)
}

func (e *RevertError) Is(target error) bool {
	return target == ErrExecutionReverted
}
