package client_test

import (
	"math/big"
	"testing"

	"github.com/celer-network/eth-txmgr/client"
	gethCommon "github.com/ethereum/go-ethereum/common"
	gethTypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyStore_SignTx(t *testing.T) {
	ks := client.NewKeyStore(t.TempDir(), client.FastScryptParams)
	require.NoError(t, ks.Unlock("password"))

	account, err := ks.NewAccount("password")
	require.NoError(t, err)
	assert.True(t, ks.HasAccountWithAddress(account.Address))

	found, err := ks.GetAccountByAddress(account.Address)
	require.NoError(t, err)
	assert.Equal(t, account.Address, found.Address)

	chainID := big.NewInt(1337)
	to := gethCommon.HexToAddress("0x00000000000000000000000000000000000000ff")
	tx := gethTypes.NewTx(&gethTypes.LegacyTx{Nonce: 3, To: &to, Value: big.NewInt(1), Gas: 21000, GasPrice: big.NewInt(1e9)})
	signed, err := ks.SignTx(account, tx, chainID)
	require.NoError(t, err)

	sender, err := gethTypes.Sender(gethTypes.LatestSignerForChainID(chainID), signed)
	require.NoError(t, err)
	assert.Equal(t, account.Address, sender)

	_, err = ks.GetAccountByAddress(to)
	require.Error(t, err)
	assert.True(t, errors.Is(err, client.ErrKeyNotFound))
}
