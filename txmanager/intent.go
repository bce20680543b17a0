package txmanager

import (
	"math/big"

	gethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

// TxIntent describes what to send. The nonce and gas price are assigned when
// the transaction is submitted.
type TxIntent struct {
	From  gethCommon.Address
	To    gethCommon.Address
	Value *big.Int
	// ABI encoded call, empty for plain transfers
	Data []byte
	// Zero means the gas limit is estimated on first submission.
	GasLimit uint64
	// Free form label used in logs and the journal, e.g. "join 6 units of collateral".
	Description string
}

func (intent TxIntent) validate() error {
	if intent.From == ZeroAddress {
		return errors.New("intent has no sender")
	}
	if intent.Value != nil && intent.Value.Sign() < 0 {
		return errors.Errorf("intent value %s is negative", intent.Value)
	}
	return nil
}

func (intent TxIntent) value() *big.Int {
	if intent.Value == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(intent.Value)
}

// copy returns an intent that shares no mutable memory with the original.
func (intent TxIntent) copy() TxIntent {
	c := intent
	c.Value = intent.value()
	c.Data = append([]byte(nil), intent.Data...)
	return c
}
