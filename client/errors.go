package client

import (
	"context"
	"net"
	"regexp"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/pkg/errors"
)

// SendError wraps an error returned by an ethereum node in response to
// eth_sendRawTransaction and classifies it.
type SendError struct {
	err error
}

func (s *SendError) Error() string {
	return s.err.Error()
}

func (s *SendError) Unwrap() error {
	return s.err
}

// Fatal indicates whether the error should be considered fatal or not.
// Fatal errors mean that no matter how many times the send is retried, no
// node will ever accept this transaction.
func (s *SendError) Fatal() bool {
	return s != nil && isFatalSendError(s.err)
}

func NewSendError(e error) *SendError {
	if e == nil {
		return nil
	}
	return &SendError{err: errors.WithStack(e)}
}

// Geth
// See: https://github.com/ethereum/go-ethereum/blob/master/core/txpool/errors.go
//
// Parity
// See: https://github.com/openethereum/openethereum/blob/master/rpc/src/v1/helpers/errors.rs
var (
	// Geth
	gethNonceTooLow                       = regexp.MustCompile(`(: |^)nonce too low`)
	gethReplacementTransactionUnderpriced = regexp.MustCompile(`(: |^)replacement transaction underpriced(:|$)`)
	gethKnownTransaction                  = regexp.MustCompile(`(: |^)(?i)(known transaction|already known)`)
	gethTransactionUnderpriced            = regexp.MustCompile(`(: |^)transaction underpriced(:|$)`)
	gethInsufficientEth                   = regexp.MustCompile(`(: |^)(insufficient funds for transfer|insufficient funds for gas \* price \+ value|insufficient balance for transfer)`)

	// Geth Fatal
	gethFatal = regexp.MustCompile(`(: |^)(exceeds block gas limit|invalid sender|negative value|oversized data|gas uint64 overflow|intrinsic gas too low|nonce too high|max fee per gas less than block base fee)`)

	// Parity
	parityTooCheapToReplace    = regexp.MustCompile(`^Transaction gas price .+is too low. There is another transaction with same nonce in the queue`)
	parityLimitReached         = regexp.MustCompile(`^There are too many transactions in the queue. Your transaction was dropped due to limit. Try increasing the fee.$`)
	parityAlreadyImported      = regexp.MustCompile(`^Transaction with the same hash was already imported.$`)
	parityOld                  = regexp.MustCompile(`^Transaction nonce is too low. Try incrementing the nonce.$`)
	parityInsufficientGasPrice = regexp.MustCompile(`^Transaction gas price is too low. It does not satisfy your node's minimal gas price`)
	parityInsufficientEth      = regexp.MustCompile(`^(Insufficient funds. The account you tried to send transaction from does not have enough funds.|Insufficient balance for transaction.)`)

	// Parity Fatal
	parityFatal = regexp.MustCompile(`^(Supplied gas is beyond limit|Sender is banned in local queue|Code is banned in local queue|Transaction is not permitted|Transaction is too big, see chain specification for the limit|Invalid RLP data)`)
)

// IsReplacementUnderpriced indicates that a transaction already exists in the
// mempool with this nonce but a different gas price or payload
func (s *SendError) IsReplacementUnderpriced() bool {
	if s == nil || s.err == nil {
		return false
	}
	str := s.Error()
	return gethReplacementTransactionUnderpriced.MatchString(str) || parityTooCheapToReplace.MatchString(str)
}

func (s *SendError) IsNonceTooLowError() bool {
	if s == nil || s.err == nil {
		return false
	}
	str := s.Error()
	return gethNonceTooLow.MatchString(str) || parityOld.MatchString(str)
}

// IsTransactionAlreadyInMempool is a geth-specific error code that indicates
// the node already has this exact transaction.
func (s *SendError) IsTransactionAlreadyInMempool() bool {
	if s == nil || s.err == nil {
		return false
	}
	str := s.Error()
	return gethKnownTransaction.MatchString(str) || parityAlreadyImported.MatchString(str)
}

// IsTerminallyUnderpriced indicates that this transaction is so far
// underpriced the node won't even accept it in the first place
func (s *SendError) IsTerminallyUnderpriced() bool {
	if s == nil || s.err == nil {
		return false
	}
	str := s.Error()
	return gethTransactionUnderpriced.MatchString(str) || parityInsufficientGasPrice.MatchString(str)
}

func (s *SendError) IsTemporarilyUnderpriced() bool {
	if s == nil || s.err == nil {
		return false
	}
	return parityLimitReached.MatchString(s.Error())
}

func (s *SendError) IsInsufficientEth() bool {
	if s == nil || s.err == nil {
		return false
	}
	str := s.Error()
	return gethInsufficientEth.MatchString(str) || parityInsufficientEth.MatchString(str)
}

// IsRejected reports whether the node answered the request and refused the
// transaction, as opposed to the request never getting an answer.
func (s *SendError) IsRejected() bool {
	if s == nil || s.err == nil {
		return false
	}
	var rpcErr rpc.Error
	if errors.As(s.err, &rpcErr) {
		return true
	}
	return s.Fatal() || s.IsNonceTooLowError() || s.IsReplacementUnderpriced() ||
		s.IsTerminallyUnderpriced() || s.IsInsufficientEth() || s.IsTransactionAlreadyInMempool()
}

// IsConnectivityError reports whether the node could not be reached or did
// not answer in time. Such sends may be retried unchanged.
func (s *SendError) IsConnectivityError() bool {
	if s == nil || s.err == nil || s.Fatal() {
		return false
	}
	return IsConnectivityError(s.err)
}

// IsConnectivityError reports whether err stems from the transport rather
// than from a JSON-RPC error response.
func IsConnectivityError(err error) bool {
	if err == nil {
		return false
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		return true
	}
	return !NewSendError(err).IsRejected()
}

func isFatalSendError(err error) bool {
	if err == nil {
		return false
	}
	str := err.Error()
	return gethFatal.MatchString(str) || parityFatal.MatchString(str)
}
