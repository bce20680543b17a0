package tendermint

import (
	esStore "github.com/celer-network/eth-txmgr/store"
	"github.com/celer-network/eth-txmgr/store/models"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	errStrDecodeAccount = "could not decode Account"
)

var (
	prefixAccount = []byte("act")
)

func (store *TMStore) PutAccount(account *models.Account) error {
	return set(store.nsAccount, account.Address.Bytes(), account)
}

func (store *TMStore) GetAccount(fromAddress common.Address) (*models.Account, error) {
	var account models.Account
	err := get(store.nsAccount, fromAddress.Bytes(), &account)
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (store *TMStore) GetAccounts() ([]*models.Account, error) {
	iter, err := store.nsAccount.Iterator(nil, nil)
	if err != nil {
		return nil, toCreateIterError(err)
	}
	defer iter.Close()
	var accounts []*models.Account
	for ; iter.Valid(); iter.Next() {
		var account models.Account
		if err := msgpack.Unmarshal(iter.Value(), &account); err != nil {
			return nil, toDecodeAccountError(err)
		}
		accounts = append(accounts, &account)
	}
	if len(accounts) == 0 {
		return nil, esStore.ErrNotFound
	}
	return accounts, nil
}

func (store *TMStore) GetNextNonce(address common.Address) (uint64, error) {
	account, err := store.GetAccount(address)
	if err != nil {
		return 0, err
	}
	return account.NextNonce, nil
}

func (store *TMStore) SetNextNonce(address common.Address, nextNonce uint64) error {
	account, err := store.getOrNewAccount(address)
	if err != nil {
		return err
	}
	account.NextNonce = nextNonce
	return store.PutAccount(account)
}

func (store *TMStore) getOrNewAccount(address common.Address) (*models.Account, error) {
	account, err := store.GetAccount(address)
	if errors.Is(err, esStore.ErrNotFound) {
		return &models.Account{Address: address}, nil
	}
	return account, err
}

func toDecodeAccountError(err error) error {
	return errors.Wrap(err, errStrDecodeAccount)
}
