package txmanager_test

import (
	"context"
	"math/big"
	"strings"
	"testing"

	esTesting "github.com/celer-network/eth-txmgr/internal/testing"
	"github.com/celer-network/eth-txmgr/txmanager"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const vatABI = `[
	{"type":"error","name":"InsufficientBalance","inputs":[{"name":"available","type":"uint256"},{"name":"required","type":"uint256"}]},
	{"type":"error","name":"Unauthorized","inputs":[]}
]`

func TestRevertResolver_DecodeRevert(t *testing.T) {
	config := esTesting.NewConfig(t)
	parsed, err := abi.JSON(strings.NewReader(vatABI))
	require.NoError(t, err)
	resolver := txmanager.NewRevertResolver(esTesting.NewSimulatedNode(), esTesting.ChainID, config.Logger, parsed)

	insufficient := parsed.Errors["InsufficientBalance"]
	args, err := insufficient.Inputs.Pack(big.NewInt(1), big.NewInt(2))
	require.NoError(t, err)
	customData := append(append([]byte{}, insufficient.ID[:4]...), args...)
	unauthorized := parsed.Errors["Unauthorized"]

	tests := []struct {
		name   string
		err    error
		reason string
		ok     bool
	}{
		{"Error(string) data", esTesting.NewRevertError("Vat/ilk-already-init"), "Vat/ilk-already-init", true},
		{"custom error", &esTesting.RPCError{Code: 3, Message: "execution reverted", Data: hexutil.Encode(customData)}, "InsufficientBalance(available=1,required=2)", true},
		{"custom error without inputs", &esTesting.RPCError{Code: 3, Message: "execution reverted", Data: hexutil.Encode(unauthorized.ID[:4])}, "Unauthorized()", true},
		{"message only", errors.New("execution reverted: Vat/not-allowed"), "Vat/not-allowed", true},
		{"wrapped message", errors.Wrap(errors.New("execution reverted: Vat/not-allowed"), "eth_call failed"), "Vat/not-allowed", true},
		{"unknown selector", &esTesting.RPCError{Code: 3, Message: "execution reverted", Data: "0xdeadbeef"}, "", false},
		{"bare revert", errors.New("execution reverted"), "", false},
		{"not a revert", errors.New("connection refused"), "", false},
		{"nil", nil, "", false},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			reason, ok := resolver.DecodeRevert(test.err)
			assert.Equal(t, test.ok, ok)
			assert.Equal(t, test.reason, reason)
		})
	}
}

func TestRevertResolver_Resolve(t *testing.T) {
	config := esTesting.NewConfig(t)
	node := esTesting.NewSimulatedNode()
	resolver := txmanager.NewRevertResolver(node, esTesting.ChainID, config.Logger)
	ctx := context.Background()

	t.Run("unknown transaction", func(t *testing.T) {
		assert.Equal(t, txmanager.NoRevertReason, resolver.Resolve(ctx, esTesting.NewHash()))
	})

	t.Run("node unreachable", func(t *testing.T) {
		node.SetDown(true)
		defer node.SetDown(false)
		assert.Equal(t, txmanager.NoRevertReason, resolver.Resolve(ctx, esTesting.NewHash()))
	})
}
