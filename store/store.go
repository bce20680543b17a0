package store

import (
	"github.com/celer-network/eth-txmgr/store/models"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

var (
	ErrNotFound = errors.New("not found")
)

// Store is the journal of accounts, transactions and their attempts.
type Store interface {
	PutAccount(account *models.Account) error
	GetAccount(address common.Address) (*models.Account, error)
	GetAccounts() ([]*models.Account, error)
	GetNextNonce(address common.Address) (uint64, error)
	// SetNextNonce creates the account if it does not exist yet.
	SetNextNonce(address common.Address, nextNonce uint64) error

	// PutTx inserts or updates a Tx and indexes it under its sender.
	PutTx(tx *models.Tx) error
	GetTx(id uuid.UUID) (*models.Tx, error)
	// GetTxs returns the sender's Txs ordered by nonce, oldest first.
	GetTxs(fromAddress common.Address) ([]*models.Tx, error)

	PutTxAttempt(attempt *models.TxAttempt) error
	GetTxAttempt(id uuid.UUID) (*models.TxAttempt, error)
	GetAttemptsForTx(tx *models.Tx) ([]*models.TxAttempt, error)
	AddAttemptToTx(tx *models.Tx, attempt *models.TxAttempt) error
}
