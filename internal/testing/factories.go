package testing

import (
	"crypto/ecdsa"
	"crypto/rand"
	"math/big"
	"testing"
	"time"

	"github.com/celer-network/eth-txmgr/client"
	eslogger "github.com/celer-network/eth-txmgr/logger"
	"github.com/celer-network/eth-txmgr/store"
	"github.com/celer-network/eth-txmgr/store/tendermint"
	"github.com/celer-network/eth-txmgr/types"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	tmdb "github.com/tendermint/tm-db"
	"go.uber.org/zap"
)

const (
	Password = "password"
)

// ChainID of the simulated node and of NewConfig.
var ChainID = big.NewInt(1337)

// NewStore creates a new Store for testing
func NewStore(t testing.TB) store.Store {
	t.Helper()

	return tendermint.NewTMStore(tmdb.NewMemDB())
}

// NewConfig creates a new Config for testing, with intervals short enough
// for a simulated node.
func NewConfig(t testing.TB) *types.Config {
	t.Helper()

	logger, err := zap.NewDevelopment()
	require.NoError(t, err)
	return &types.Config{
		Logger:           eslogger.NewZapLogger(logger.Sugar()),
		ChainID:          new(big.Int).Set(ChainID),
		PollInterval:     20 * time.Millisecond,
		ResubmitInterval: 100 * time.Millisecond,
		Deadline:         10 * time.Second,
		DefaultGasPrice:  big.NewInt(1000000000),
		MaxGasPrice:      big.NewInt(5000000000000),
		GasBumpPercent:   10,
		GasBumpWei:       big.NewInt(1),
		KeysDir:          t.TempDir(),
	}
}

// NewHash return random Keccak256
func NewHash() common.Hash {
	return common.BytesToHash(randomBytes(32))
}

// NewAddress return a random new address
func NewAddress() common.Address {
	return common.BytesToAddress(randomBytes(20))
}

func randomBytes(n int) []byte {
	b := make([]byte, n)
	rand.Read(b)
	return b
}

// MustNewKeyStore creates an unlocked key store in a temporary directory.
func MustNewKeyStore(t testing.TB) *client.KeyStore {
	t.Helper()

	keyStore := client.NewKeyStore(t.TempDir(), client.FastScryptParams)
	require.NoError(t, keyStore.Unlock(Password))
	return keyStore
}

func MustAddRandomAccountToKeystore(t testing.TB, keyStore client.KeyStoreInterface) common.Address {
	t.Helper()

	keyJSONBytes, address := MustGenerateRandomKey(t)
	require.NoError(t, keyStore.Unlock(Password))
	_, err := keyStore.Import(keyJSONBytes, Password)
	require.NoError(t, err)
	return address
}

// MustGenerateRandomKey returns an encrypted key file for a new random key.
func MustGenerateRandomKey(t testing.TB) (keyJSONBytes []byte, address common.Address) {
	t.Helper()

	privateKeyECDSA, err := ecdsa.GenerateKey(crypto.S256(), rand.Reader)
	require.NoError(t, err)
	k := &keystore.Key{
		Id:         uuid.New(),
		Address:    crypto.PubkeyToAddress(privateKeyECDSA.PublicKey),
		PrivateKey: privateKeyECDSA,
	}
	keyJSONBytes, err = keystore.EncryptKey(k, Password, client.FastScryptParams.N, client.FastScryptParams.P)
	require.NoError(t, err)
	return keyJSONBytes, k.Address
}
