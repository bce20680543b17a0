package models

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
)

type TxState string

const (
	TxStatePending       = TxState("pending")
	TxStateMinedSuccess  = TxState("mined_success")
	TxStateMinedReverted = TxState("mined_reverted")
	TxStateReplaced      = TxState("replaced")
	TxStateTimedOut      = TxState("timed_out")
	TxStateFailed        = TxState("failed")
)

// Terminal reports whether no further transition can happen from s.
func (s TxState) Terminal() bool {
	return s != TxStatePending && s != ""
}

type Account struct {
	Address common.Address
	// This is the nonce that should be used for the next transaction.
	// Conceptually equivalent to geth's `PendingNonceAt` but more reliable
	// because we have a better view of our own transactions
	NextNonce uint64
	TxIDs     []uuid.UUID
}

// Tx is the journal record of one transaction handle.
type Tx struct {
	ID             uuid.UUID
	Nonce          uint64
	FromAddress    common.Address
	ToAddress      common.Address
	EncodedPayload []byte
	Value          *Wei
	GasLimit       uint64
	Description    string
	State          TxState
	Error          string
	RevertReason   string
	// Set when this transaction was submitted as a replacement of another one.
	ReplacesID uuid.UUID
	// Set when this transaction has been replaced.
	ReplacedByID uuid.UUID
	MinedHash    common.Hash
	BlockNumber  uint64
	CreatedAt    time.Time
	ResolvedAt   time.Time
	// Ordered by descending gas price
	TxAttemptIDs []uuid.UUID
}

func (tx *Tx) GetError() error {
	if tx.Error == "" {
		return nil
	}
	return errors.New(tx.Error)
}

// TxAttempt is one signed submission of a Tx.
type TxAttempt struct {
	ID          uuid.UUID
	TxID        uuid.UUID
	GasPrice    *Wei
	SignedRawTx []byte
	Hash        common.Hash
	SubmittedAt time.Time
}

// GetSignedTx decodes the SignedRawTx into a types.Transaction struct
func (a *TxAttempt) GetSignedTx() (*types.Transaction, error) {
	signedTx := new(types.Transaction)
	if err := signedTx.UnmarshalBinary(a.SignedRawTx); err != nil {
		return nil, errors.Wrap(err, "could not decode signed transaction")
	}
	return signedTx, nil
}

// Wei is a big.Int that survives a MessagePack round trip.
type Wei big.Int

var (
	_ msgpack.CustomEncoder = (*Wei)(nil)
	_ msgpack.CustomDecoder = (*Wei)(nil)
)

func NewWei(i *big.Int) *Wei {
	if i == nil {
		return nil
	}
	return (*Wei)(new(big.Int).Set(i))
}

// ToInt returns a copy of w as a big.Int. A nil Wei is zero.
func (w *Wei) ToInt() *big.Int {
	if w == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set((*big.Int)(w))
}

func (w *Wei) String() string {
	return w.ToInt().String()
}

func (w *Wei) EncodeMsgpack(enc *msgpack.Encoder) error {
	return enc.EncodeString((*big.Int)(w).String())
}

func (w *Wei) DecodeMsgpack(dec *msgpack.Decoder) error {
	s, err := dec.DecodeString()
	if err != nil {
		return err
	}
	if _, ok := (*big.Int)(w).SetString(s, 10); !ok {
		return errors.Errorf("invalid wei amount %q", s)
	}
	return nil
}
