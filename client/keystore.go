package client

import (
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	gethTypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

//go:generate mockery --name KeyStoreInterface --output ../internal/mocks/ --case=underscore

// ErrKeyNotFound is returned when no key for an address is held by the key
// store.
var ErrKeyNotFound = errors.New("no key for address")

// KeyStoreInterface is the set of key operations transaction signing needs.
type KeyStoreInterface interface {
	Accounts() []accounts.Account
	HasAccountWithAddress(common.Address) bool
	Unlock(password string) error
	NewAccount(passphrase string) (accounts.Account, error)
	Import(keyJSON []byte, passphrase string) (accounts.Account, error)
	SignTx(account accounts.Account, tx *gethTypes.Transaction, chainID *big.Int) (*gethTypes.Transaction, error)
	GetAccountByAddress(common.Address) (accounts.Account, error)
}

// ScryptParams are the key derivation parameters of newly created keys.
type ScryptParams struct{ N, P int }

// DefaultScryptParams is for use in production.
var DefaultScryptParams = ScryptParams{N: keystore.StandardScryptN, P: keystore.StandardScryptP}

// FastScryptParams is for use in tests, where seconds per key derivation add
// up quickly.
var FastScryptParams = ScryptParams{N: 2, P: 1}

// KeyStore manages encrypted keys on disk, all unlocked with a single
// password.
type KeyStore struct {
	*keystore.KeyStore
	lock     sync.Mutex
	password string
}

var _ KeyStoreInterface = (*KeyStore)(nil)

// NewKeyStore creates a key store backed by the given directory.
func NewKeyStore(keyDir string, scryptParams ScryptParams) *KeyStore {
	return &KeyStore{
		KeyStore: keystore.NewKeyStore(keyDir, scryptParams.N, scryptParams.P),
	}
}

func (ks *KeyStore) HasAccountWithAddress(address common.Address) bool {
	for _, acct := range ks.Accounts() {
		if acct.Address == address {
			return true
		}
	}
	return false
}

// Unlock unlocks every account held with the given password and remembers it
// for accounts added later.
func (ks *KeyStore) Unlock(password string) error {
	ks.lock.Lock()
	defer ks.lock.Unlock()

	var merr error
	for _, account := range ks.Accounts() {
		if err := ks.KeyStore.Unlock(account, password); err != nil {
			merr = multierr.Append(merr, errors.Wrapf(err, "invalid password for account %s", account.Address.Hex()))
		}
	}
	ks.password = password
	return merr
}

// NewAccount adds an account to the store and unlocks it.
func (ks *KeyStore) NewAccount(passphrase string) (accounts.Account, error) {
	account, err := ks.KeyStore.NewAccount(passphrase)
	if err != nil {
		return accounts.Account{}, err
	}
	err = ks.KeyStore.Unlock(account, passphrase)
	return account, err
}

// Import adds a JSON encoded key to the store and unlocks it.
func (ks *KeyStore) Import(keyJSON []byte, passphrase string) (accounts.Account, error) {
	ks.lock.Lock()
	defer ks.lock.Unlock()

	account, err := ks.KeyStore.Import(keyJSON, passphrase, ks.password)
	if err != nil {
		return accounts.Account{}, errors.Wrap(err, "could not import ETH key")
	}
	err = ks.KeyStore.Unlock(account, ks.password)
	return account, err
}

// SignTx signs with the account's key. The key must be unlocked.
func (ks *KeyStore) SignTx(account accounts.Account, tx *gethTypes.Transaction, chainID *big.Int) (*gethTypes.Transaction, error) {
	return ks.KeyStore.SignTx(account, tx, chainID)
}

func (ks *KeyStore) GetAccountByAddress(address common.Address) (accounts.Account, error) {
	for _, account := range ks.Accounts() {
		if account.Address == address {
			return account, nil
		}
	}
	return accounts.Account{}, errors.Wrap(ErrKeyNotFound, address.Hex())
}
