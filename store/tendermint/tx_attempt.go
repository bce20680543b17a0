package tendermint

import (
	"sort"

	"github.com/celer-network/eth-txmgr/store/models"
	"github.com/google/uuid"
)

var (
	prefixTxAttempt = []byte("tat")
)

func (store *TMStore) PutTxAttempt(attempt *models.TxAttempt) error {
	return set(store.nsTxAttempt, attempt.ID[:], attempt)
}

func (store *TMStore) GetTxAttempt(id uuid.UUID) (*models.TxAttempt, error) {
	var attempt models.TxAttempt
	err := get(store.nsTxAttempt, id[:], &attempt)
	if err != nil {
		return nil, err
	}
	return &attempt, nil
}

func (store *TMStore) GetAttemptsForTx(tx *models.Tx) ([]*models.TxAttempt, error) {
	var attempts []*models.TxAttempt
	for _, attemptID := range tx.TxAttemptIDs {
		attempt, err := store.GetTxAttempt(attemptID)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, attempt)
	}
	return attempts, nil
}

// AddAttemptToTx stores the attempt and links it to tx, keeping the attempt
// IDs sorted by descending gas price.
func (store *TMStore) AddAttemptToTx(tx *models.Tx, attempt *models.TxAttempt) error {
	if err := store.PutTxAttempt(attempt); err != nil {
		return err
	}
	if !containsID(tx.TxAttemptIDs, attempt.ID) {
		tx.TxAttemptIDs = append(tx.TxAttemptIDs, attempt.ID)
	}
	if err := store.sortAttemptsByGasPriceForTx(tx); err != nil {
		return err
	}
	return store.PutTx(tx)
}

func (store *TMStore) sortAttemptsByGasPriceForTx(tx *models.Tx) error {
	attempts, err := store.GetAttemptsForTx(tx)
	if err != nil {
		return err
	}

	// Sort attempts by descending GasPrice
	sort.SliceStable(attempts, func(i int, j int) bool {
		return attempts[i].GasPrice.ToInt().Cmp(attempts[j].GasPrice.ToInt()) == 1
	})

	attemptIDs := make([]uuid.UUID, 0, len(attempts))
	for _, attempt := range attempts {
		attemptIDs = append(attemptIDs, attempt.ID)
	}
	tx.TxAttemptIDs = attemptIDs
	return nil
}
