package tendermint

import (
	"sort"

	esStore "github.com/celer-network/eth-txmgr/store"
	"github.com/celer-network/eth-txmgr/store/models"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

var (
	prefixTx = []byte("tx")
)

func (store *TMStore) PutTx(tx *models.Tx) error {
	account, err := store.getOrNewAccount(tx.FromAddress)
	if err != nil {
		return err
	}
	if !containsID(account.TxIDs, tx.ID) {
		account.TxIDs = append(account.TxIDs, tx.ID)
		if err := store.PutAccount(account); err != nil {
			return err
		}
	}
	return set(store.nsTx, tx.ID[:], tx)
}

func (store *TMStore) GetTx(id uuid.UUID) (*models.Tx, error) {
	var tx models.Tx
	err := get(store.nsTx, id[:], &tx)
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

func (store *TMStore) GetTxs(fromAddress common.Address) ([]*models.Tx, error) {
	account, err := store.GetAccount(fromAddress)
	if err != nil {
		return nil, err
	}
	var txs []*models.Tx
	for _, txID := range account.TxIDs {
		tx, err := store.GetTx(txID)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	if len(txs) == 0 {
		return nil, esStore.ErrNotFound
	}
	// Replacements share their predecessor's nonce, so keep insertion order
	// among equal nonces.
	sort.SliceStable(txs, func(i, j int) bool {
		return txs[i].Nonce < txs[j].Nonce
	})
	return txs, nil
}

func containsID(ids []uuid.UUID, id uuid.UUID) bool {
	for _, existing := range ids {
		if existing == id {
			return true
		}
	}
	return false
}
