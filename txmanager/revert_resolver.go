package txmanager

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/celer-network/eth-txmgr/client"
	"github.com/celer-network/eth-txmgr/types"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	gethCommon "github.com/ethereum/go-ethereum/common"
	gethTypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/pkg/errors"
)

// NoRevertReason is returned when a revert carries no decodable reason.
const NoRevertReason = "reverted, no reason available"

const revertedPrefix = "execution reverted: "

// RevertResolver recovers human readable revert reasons by replaying failed
// transactions as calls.
type RevertResolver struct {
	ethClient client.Client
	chainID   *big.Int
	abis      []abi.ABI
	logger    types.Logger
}

// NewRevertResolver creates a resolver. Custom errors declared in abis are
// decoded as Name(arg=value,...).
func NewRevertResolver(ethClient client.Client, chainID *big.Int, logger types.Logger, abis ...abi.ABI) *RevertResolver {
	return &RevertResolver{
		ethClient: ethClient,
		chainID:   chainID,
		abis:      abis,
		logger:    logger,
	}
}

// Resolve replays the transaction with the given fingerprint at the block it
// was mined in (latest if it has no receipt yet) and decodes the error. It
// never fails; NoRevertReason stands in for anything it cannot recover.
func (r *RevertResolver) Resolve(ctx context.Context, fingerprint gethCommon.Hash) string {
	ctx, cancel := context.WithTimeout(ctx, maxEthNodeRequestTime)
	defer cancel()

	tx, _, err := r.ethClient.TransactionByHash(ctx, fingerprint)
	if err != nil {
		r.logger.Warnw("RevertResolver: could not load transaction", "txHash", fingerprint, "error", err)
		return NoRevertReason
	}
	from, err := gethTypes.Sender(gethTypes.LatestSignerForChainID(r.chainID), tx)
	if err != nil {
		r.logger.Warnw("RevertResolver: could not recover sender", "txHash", fingerprint, "error", err)
		return NoRevertReason
	}

	var blockNumber *big.Int
	receipt, err := r.ethClient.TransactionReceipt(ctx, fingerprint)
	if err == nil && receipt != nil {
		blockNumber = receipt.BlockNumber
	}

	_, callErr := r.ethClient.CallContract(ctx, ethereum.CallMsg{
		From:     from,
		To:       tx.To(),
		Gas:      tx.Gas(),
		GasPrice: tx.GasPrice(),
		Value:    tx.Value(),
		Data:     tx.Data(),
	}, blockNumber)
	if callErr == nil {
		r.logger.Debugw("RevertResolver: replay did not revert", "txHash", fingerprint, "blockNumber", blockNumber)
		return NoRevertReason
	}
	if reason, ok := r.DecodeRevert(callErr); ok {
		return reason
	}
	r.logger.Debugw("RevertResolver: replay error carried no reason", "txHash", fingerprint, "error", callErr)
	return NoRevertReason
}

// DecodeRevert extracts the revert reason from an error returned by a call or
// gas estimation. It understands Error(string), Panic(uint256), custom errors
// of the registered ABIs and geth's "execution reverted: <reason>" message.
func (r *RevertResolver) DecodeRevert(err error) (string, bool) {
	if err == nil {
		return "", false
	}

	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		if data := revertData(dataErr.ErrorData()); len(data) >= 4 {
			if reason, uErr := abi.UnpackRevert(data); uErr == nil {
				return reason, true
			}
			if reason, ok := r.decodeCustomError(data); ok {
				return reason, true
			}
		}
	}

	msg := err.Error()
	if i := strings.Index(msg, revertedPrefix); i >= 0 {
		if reason := strings.TrimSpace(msg[i+len(revertedPrefix):]); reason != "" {
			return reason, true
		}
	}
	return "", false
}

func (r *RevertResolver) decodeCustomError(data []byte) (string, bool) {
	for _, contractABI := range r.abis {
		for _, abiError := range contractABI.Errors {
			if !bytes.Equal(data[:4], abiError.ID[:4]) {
				continue
			}

			unpacked, uErr := abiError.Unpack(data)
			if uErr != nil {
				continue
			}

			values, ok := unpacked.([]interface{})
			if !ok {
				values = make([]interface{}, len(abiError.Inputs))
				for i := range values {
					values[i] = "?"
				}
			}

			params := make([]string, len(abiError.Inputs))
			for i, input := range abiError.Inputs {
				name := input.Name
				if name == "" {
					name = fmt.Sprintf("arg%d", i)
				}
				params[i] = fmt.Sprintf("%s=%v", name, values[i])
			}
			return fmt.Sprintf("%s(%s)", abiError.Name, strings.Join(params, ",")), true
		}
	}
	return "", false
}

func revertData(data interface{}) []byte {
	switch d := data.(type) {
	case string:
		return gethCommon.FromHex(d)
	case []byte:
		return d
	default:
		return nil
	}
}
