package client

import (
	"context"
	"math/big"
	"net/url"
	"strings"
	"sync"

	"github.com/celer-network/eth-txmgr/types"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethTypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/pkg/errors"
)

//go:generate mockery --name Client --output ../internal/mocks/ --case=underscore

// Client is the interface used to interact with an ethereum node.
type Client interface {
	GethClient

	Dial(ctx context.Context) error
	Close()
}

// GethClient is the subset of go-ethereum's own ethclient the transaction
// manager needs.
// https://github.com/ethereum/go-ethereum/blob/master/ethclient/ethclient.go
type GethClient interface {
	ChainID(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *gethTypes.Transaction) error
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*gethTypes.Receipt, error)
	TransactionByHash(ctx context.Context, txHash common.Hash) (tx *gethTypes.Transaction, isPending bool, err error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Impl implements the Client interface on top of go-ethereum's ethclient.
type Impl struct {
	GethClient
	rpcClient            *rpc.Client
	url                  *url.URL // For reestablishing the connection after a disconnect
	SecondaryGethClients []GethClient
	secondaryRPCClients  []*rpc.Client
	secondaryURLs        []*url.URL
	logger               types.Logger
}

var _ Client = (*Impl)(nil)

// NewImpl creates a new client implementation
func NewImpl(config *types.Config) (*Impl, error) {
	if config.RPCURL == nil {
		return nil, errors.New("missing Ethereum RPC URL")
	}
	rpcURL := config.RPCURL
	switch rpcURL.Scheme {
	case "ws", "wss", "http", "https":
	default:
		return nil, errors.Errorf("Ethereum URL scheme must be websocket or http(s): %s", rpcURL.String())
	}

	secondaryRPCURLs := config.SecondaryRPCURLs
	for _, url := range secondaryRPCURLs {
		if url.Scheme != "http" && url.Scheme != "https" {
			return nil, errors.Errorf("secondary Ethereum RPC URL scheme must be http(s): %s", url.String())
		}
	}
	return &Impl{url: rpcURL, secondaryURLs: secondaryRPCURLs, logger: config.Logger}, nil
}

// NewImplWithGethClient wraps an already connected client, e.g. a simulated
// backend in tests.
func NewImplWithGethClient(gethClient GethClient, logger types.Logger) *Impl {
	return &Impl{GethClient: gethClient, logger: logger}
}

func (client *Impl) Dial(ctx context.Context) error {
	client.logger.Debugw("eth.Client#Dial(...)")
	if client.GethClient != nil {
		if client.url == nil {
			return nil
		}
		panic("eth.Client.Dial(...) should only be called once during the application's lifetime.")
	}

	rpcClient, err := rpc.DialContext(ctx, client.url.String())
	if err != nil {
		return errors.Wrapf(err, "failed to dial %s", client.url.Redacted())
	}
	client.rpcClient = rpcClient
	client.GethClient = ethclient.NewClient(rpcClient)

	client.SecondaryGethClients = []GethClient{}
	client.secondaryRPCClients = []*rpc.Client{}
	for _, url := range client.secondaryURLs {
		secondaryRPCClient, err := rpc.DialContext(ctx, url.String())
		if err != nil {
			return errors.Wrapf(err, "failed to dial secondary %s", url.Redacted())
		}
		client.secondaryRPCClients = append(client.secondaryRPCClients, secondaryRPCClient)
		client.SecondaryGethClients = append(client.SecondaryGethClients, ethclient.NewClient(secondaryRPCClient))
	}
	return nil
}

func (client *Impl) Close() {
	if client.rpcClient != nil {
		client.rpcClient.Close()
	}
	for _, c := range client.secondaryRPCClients {
		c.Close()
	}
}

// TransactionReceipt wraps the GethClient's `TransactionReceipt` method so that we can ignore the
// error that arises when we're talking to a Parity node that has no receipt yet.
func (client *Impl) TransactionReceipt(ctx context.Context, txHash common.Hash) (*gethTypes.Receipt, error) {
	client.logger.Tracew("eth.Client#TransactionReceipt(...)",
		"txHash", txHash,
	)
	receipt, err := client.GethClient.TransactionReceipt(ctx, txHash)
	if err != nil && strings.Contains(err.Error(), "missing required field") {
		return nil, ethereum.NotFound
	}
	return receipt, err
}

func (client *Impl) TransactionByHash(ctx context.Context, txHash common.Hash) (*gethTypes.Transaction, bool, error) {
	client.logger.Tracew("eth.Client#TransactionByHash(...)",
		"txHash", txHash,
	)
	return client.GethClient.TransactionByHash(ctx, txHash)
}

func (client *Impl) ChainID(ctx context.Context) (*big.Int, error) {
	client.logger.Debugw("eth.Client#ChainID(...)")
	return client.GethClient.ChainID(ctx)
}

// SendTransaction also uses the secondary HTTP RPC URL if set
func (client *Impl) SendTransaction(ctx context.Context, tx *gethTypes.Transaction) error {
	client.logger.Debugw("eth.Client#SendTransaction(...)",
		"txHash", tx.Hash(),
		"nonce", tx.Nonce(),
		"gasPrice", tx.GasPrice(),
	)

	var wg sync.WaitGroup
	defer wg.Wait()
	for _, gethClient := range client.SecondaryGethClients {
		// Parallel send to secondary node
		client.logger.Tracew("eth.SecondaryClient#SendTransaction(...)", "txHash", tx.Hash())

		wg.Add(1)
		go func(gethClient GethClient) {
			defer wg.Done()
			err := NewSendError(gethClient.SendTransaction(ctx, tx))
			if err == nil || err.IsNonceTooLowError() || err.IsTransactionAlreadyInMempool() {
				// Nonce too low or transaction known errors are expected since
				// the primary SendTransaction may well have succeeded already
				return
			}
			client.logger.Warnw("secondary eth client returned error", "err", err, "txHash", tx.Hash())
		}(gethClient)
	}

	return client.GethClient.SendTransaction(ctx, tx)
}

func (client *Impl) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	client.logger.Debugw("eth.Client#PendingNonceAt(...)",
		"account", account,
	)
	return client.GethClient.PendingNonceAt(ctx, account)
}

func (client *Impl) NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error) {
	client.logger.Tracew("eth.Client#NonceAt(...)",
		"account", account,
		"blockNumber", blockNumber,
	)
	return client.GethClient.NonceAt(ctx, account, blockNumber)
}

func (client *Impl) EstimateGas(ctx context.Context, call ethereum.CallMsg) (gas uint64, err error) {
	client.logger.Debugw("eth.Client#EstimateGas(...)",
		"from", call.From,
		"to", call.To,
	)
	return client.GethClient.EstimateGas(ctx, call)
}

func (client *Impl) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	client.logger.Debugw("eth.Client#CallContract(...)",
		"from", msg.From,
		"to", msg.To,
		"blockNumber", blockNumber,
	)
	return client.GethClient.CallContract(ctx, msg, blockNumber)
}
