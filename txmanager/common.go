package txmanager

import (
	"context"
	"math/big"
	"time"

	"github.com/celer-network/eth-txmgr/client"
	"github.com/celer-network/eth-txmgr/types"
	"github.com/google/uuid"

	gethAccounts "github.com/ethereum/go-ethereum/accounts"
	gethCommon "github.com/ethereum/go-ethereum/common"
	gethTypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
)

const (
	// maxEthNodeRequestTime is the worst case time we will wait for a response
	// from the eth node before we consider it to be an error
	maxEthNodeRequestTime = 15 * time.Second
)

var (
	ZeroAddress = gethCommon.Address{}
)

// newAttempt signs the handle's intent at the given gas price. The handle's
// lock must be held.
func newAttempt(keyStore client.KeyStoreInterface, chainID *big.Int, h *TxHandle, gasPrice *big.Int) (*Attempt, error) {
	account, err := keyStore.GetAccountByAddress(h.intent.From)
	if err != nil {
		return nil, errors.Wrapf(err, "error getting account %s for transaction %v", h.intent.From.String(), h.id)
	}

	var to *gethCommon.Address
	if h.intent.To != ZeroAddress {
		to = &h.intent.To
	}
	transaction := gethTypes.NewTx(&gethTypes.LegacyTx{
		Nonce:    h.nonce,
		To:       to,
		Value:    h.intent.value(),
		Gas:      h.gasLimit,
		GasPrice: gasPrice,
		Data:     h.intent.Data,
	})
	signedTx, err := signTx(keyStore, account, transaction, chainID)
	if err != nil {
		return nil, errors.Wrapf(err, "error using account %s to sign transaction %v", h.intent.From.String(), h.id)
	}

	return &Attempt{
		ID:          uuid.New(),
		Fingerprint: signedTx.Hash(),
		GasPrice:    new(big.Int).Set(gasPrice),
		SignedTx:    signedTx,
	}, nil
}

func signTx(keyStore client.KeyStoreInterface, account gethAccounts.Account, tx *gethTypes.Transaction, chainID *big.Int) (*gethTypes.Transaction, error) {
	signedTx, err := keyStore.SignTx(account, tx, chainID)
	if err != nil {
		return nil, errors.Wrap(err, "signTx failed")
	}
	return signedTx, nil
}

// sendTransaction broadcasts the transaction to the ethereum network and
// returns an error (or nil) depending on the status
func sendTransaction(ctx context.Context, ethClient client.Client, signedTx *gethTypes.Transaction, logger types.Logger) *client.SendError {
	ctx, cancel := context.WithTimeout(ctx, maxEthNodeRequestTime)
	defer cancel()
	err := ethClient.SendTransaction(ctx, signedTx)

	logger.Debugw("TxManager: Broadcasting transaction",
		"txHash", signedTx.Hash(),
		"nonce", signedTx.Nonce(),
		"gasPriceWei", signedTx.GasPrice(),
	)
	sendErr := client.NewSendError(err)
	if sendErr.IsTransactionAlreadyInMempool() {
		logger.Debugw("transaction already in mempool", "txHash", signedTx.Hash(), "nodeErr", sendErr.Error())
		return nil
	}
	return sendErr
}

// kindError tags an error with one of the package's sentinels so that
// errors.Is matches both the sentinel and the underlying cause.
type kindError struct {
	kind error
	err  error
}

func (e *kindError) Error() string {
	return e.kind.Error() + ": " + e.err.Error()
}

func (e *kindError) Unwrap() []error {
	return []error{e.kind, e.err}
}

func withKind(kind, err error) error {
	if err == nil {
		return nil
	}
	return errors.WithStack(&kindError{kind: kind, err: err})
}

// WrapIfError decorates an error with the given message.  It is intended to
// be used with `defer` statements, like so:
//
//	func SomeFunction() (err error) {
//		defer WrapIfError(&err, "error in SomeFunction:")
//
//		...
//	}
func WrapIfError(err *error, msg string) {
	if *err != nil {
		*err = errors.Wrap(*err, msg)
	}
}
