package txmanager

import (
	"github.com/celer-network/eth-txmgr/store"
	"github.com/celer-network/eth-txmgr/store/models"
	"github.com/celer-network/eth-txmgr/types"
	"github.com/google/uuid"
)

// journal mirrors handles into the store. A failed write is logged and
// never changes the lifecycle of the handle.
type journal struct {
	store  store.Store
	logger types.Logger
}

func newJournal(store store.Store, logger types.Logger) *journal {
	return &journal{store: store, logger: logger}
}

// saveTxLocked writes the handle's current record. The handle's lock must be
// held.
func (j *journal) saveTxLocked(h *TxHandle) {
	if err := j.store.PutTx(txRecordLocked(h)); err != nil {
		j.logger.Errorw("TxManager: could not persist transaction",
			"txID", h.id,
			"state", h.state,
			"error", err,
		)
	}
}

// saveAttemptLocked writes a new attempt together with the handle's record.
// The handle's lock must be held and the attempt already appended.
func (j *journal) saveAttemptLocked(h *TxHandle, attempt *Attempt) {
	rawTx, err := attempt.SignedTx.MarshalBinary()
	if err != nil {
		j.logger.Errorw("TxManager: could not encode attempt", "txID", h.id, "txHash", attempt.Fingerprint, "error", err)
		return
	}
	record := txRecordLocked(h)
	// The new attempt is linked by AddAttemptToTx.
	record.TxAttemptIDs = record.TxAttemptIDs[1:]
	err = j.store.AddAttemptToTx(record, &models.TxAttempt{
		ID:          attempt.ID,
		TxID:        h.id,
		GasPrice:    models.NewWei(attempt.GasPrice),
		SignedRawTx: rawTx,
		Hash:        attempt.Fingerprint,
		SubmittedAt: attempt.SubmittedAt,
	})
	if err != nil {
		j.logger.Errorw("TxManager: could not persist attempt",
			"txID", h.id,
			"txHash", attempt.Fingerprint,
			"error", err,
		)
	}
}

func txRecordLocked(h *TxHandle) *models.Tx {
	tx := &models.Tx{
		ID:             h.id,
		Nonce:          h.nonce,
		FromAddress:    h.intent.From,
		ToAddress:      h.intent.To,
		EncodedPayload: h.intent.Data,
		Value:          models.NewWei(h.intent.value()),
		GasLimit:       h.gasLimit,
		Description:    h.intent.Description,
		State:          h.state,
		CreatedAt:      h.createdAt,
	}
	if h.replaces != nil {
		tx.ReplacesID = h.replaces.id
	}
	if h.replacedBy != nil {
		tx.ReplacedByID = h.replacedBy.id
	}
	// Prices strictly increase across attempts, so newest first is the
	// descending gas price order the store keeps.
	tx.TxAttemptIDs = make([]uuid.UUID, 0, len(h.attempts))
	for i := len(h.attempts) - 1; i >= 0; i-- {
		tx.TxAttemptIDs = append(tx.TxAttemptIDs, h.attempts[i].ID)
	}
	if o := h.outcome; o != nil {
		tx.RevertReason = o.RevertReason
		tx.MinedHash = o.Fingerprint
		if o.Receipt != nil && o.Receipt.BlockNumber != nil {
			tx.BlockNumber = o.Receipt.BlockNumber.Uint64()
		}
		if o.Err != nil {
			tx.Error = o.Err.Error()
		}
		tx.ResolvedAt = h.resolvedAt
	}
	return tx
}
