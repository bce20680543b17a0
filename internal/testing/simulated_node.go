package testing

import (
	"context"
	"math/big"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/celer-network/eth-txmgr/client"
	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gethTypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
)

// Error codes of geth's JSON-RPC server.
const (
	errCodeDefault  = -32000
	errCodeReverted = 3
)

var revertSelector = []byte{0x08, 0xc3, 0x79, 0xa0}

// RPCError is a JSON-RPC error response as returned by rpc.Client.
type RPCError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *RPCError) Error() string          { return e.Message }
func (e *RPCError) ErrorCode() int         { return e.Code }
func (e *RPCError) ErrorData() interface{} { return e.Data }

// NewRevertError builds the error geth returns for a call reverting with an
// Error(string) reason.
func NewRevertError(reason string) *RPCError {
	return &RPCError{
		Code:    errCodeReverted,
		Message: "execution reverted: " + reason,
		Data:    hexutil.Encode(EncodeRevertReason(reason)),
	}
}

// EncodeRevertReason ABI encodes reason as Error(string) revert data.
func EncodeRevertReason(reason string) []byte {
	stringType, _ := abi.NewType("string", "", nil)
	packed, err := abi.Arguments{{Type: stringType}}.Pack(reason)
	if err != nil {
		panic(err)
	}
	return append(append([]byte{}, revertSelector...), packed...)
}

// SimulatedNode is an in-memory node with a mempool of one transaction per
// sender and nonce. Transactions are mined by Mine, in nonce order, when
// their gas price is at least the node's minimum.
type SimulatedNode struct {
	chainID *big.Int
	signer  gethTypes.Signer

	lock        sync.Mutex
	down        bool
	minGasPrice *big.Int
	// revert reason per hex encoded call data
	reverts     map[string]string
	mempool     map[common.Address]map[uint64]*gethTypes.Transaction
	confirmed   map[common.Address]uint64
	txs         map[common.Hash]*gethTypes.Transaction
	receipts    map[common.Hash]*gethTypes.Receipt
	blockNumber uint64
	sendCount   int
}

var _ client.Client = (*SimulatedNode)(nil)

func NewSimulatedNode() *SimulatedNode {
	return &SimulatedNode{
		chainID:     new(big.Int).Set(ChainID),
		signer:      gethTypes.LatestSignerForChainID(ChainID),
		minGasPrice: big.NewInt(1),
		reverts:     make(map[string]string),
		mempool:     make(map[common.Address]map[uint64]*gethTypes.Transaction),
		confirmed:   make(map[common.Address]uint64),
		txs:         make(map[common.Hash]*gethTypes.Transaction),
		receipts:    make(map[common.Hash]*gethTypes.Receipt),
	}
}

// SetMinGasPrice sets the price below which transactions stay in the mempool.
func (n *SimulatedNode) SetMinGasPrice(price *big.Int) {
	n.lock.Lock()
	defer n.lock.Unlock()
	n.minGasPrice = new(big.Int).Set(price)
}

// AddRevert makes calls and transactions with the given data revert.
func (n *SimulatedNode) AddRevert(data []byte, reason string) {
	n.lock.Lock()
	defer n.lock.Unlock()
	n.reverts[hexutil.Encode(data)] = reason
}

// SetDown makes every request fail as if the node were unreachable.
func (n *SimulatedNode) SetDown(down bool) {
	n.lock.Lock()
	defer n.lock.Unlock()
	n.down = down
}

// SendCount is the number of transactions the node accepted.
func (n *SimulatedNode) SendCount() int {
	n.lock.Lock()
	defer n.lock.Unlock()
	return n.sendCount
}

// ConsumeNonce confirms the next nonce of from with a transaction sent
// elsewhere, dropping whatever waited in the mempool under it.
func (n *SimulatedNode) ConsumeNonce(from common.Address) {
	n.lock.Lock()
	defer n.lock.Unlock()
	nonce := n.confirmed[from]
	delete(n.mempool[from], nonce)
	n.confirmed[from] = nonce + 1
	n.blockNumber++
}

// Mine includes every minable mempool transaction in a new block and returns
// how many were included.
func (n *SimulatedNode) Mine() int {
	n.lock.Lock()
	defer n.lock.Unlock()

	n.blockNumber++
	blockNumber := new(big.Int).SetUint64(n.blockNumber)
	blockHash := common.BigToHash(blockNumber)
	mined := 0
	for from, pool := range n.mempool {
		for {
			nonce := n.confirmed[from]
			tx, ok := pool[nonce]
			if !ok || tx.GasPrice().Cmp(n.minGasPrice) < 0 {
				break
			}
			status := gethTypes.ReceiptStatusSuccessful
			if _, reverts := n.reverts[hexutil.Encode(tx.Data())]; reverts {
				status = gethTypes.ReceiptStatusFailed
			}
			n.receipts[tx.Hash()] = &gethTypes.Receipt{
				Status:           status,
				TxHash:           tx.Hash(),
				GasUsed:          tx.Gas(),
				BlockHash:        blockHash,
				BlockNumber:      blockNumber,
				TransactionIndex: uint(mined),
			}
			delete(pool, nonce)
			n.confirmed[from] = nonce + 1
			mined++
		}
	}
	return mined
}

// AutoMine mines a block every interval until the test ends.
func (n *SimulatedNode) AutoMine(t testing.TB, interval time.Duration) {
	chStop := make(chan struct{})
	chDone := make(chan struct{})
	go func() {
		defer close(chDone)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				n.Mine()
			case <-chStop:
				return
			}
		}
	}()
	t.Cleanup(func() {
		close(chStop)
		<-chDone
	})
}

func (n *SimulatedNode) Dial(context.Context) error { return nil }

func (n *SimulatedNode) Close() {}

func (n *SimulatedNode) ChainID(context.Context) (*big.Int, error) {
	if err := n.checkDown(); err != nil {
		return nil, err
	}
	return new(big.Int).Set(n.chainID), nil
}

func (n *SimulatedNode) SendTransaction(_ context.Context, tx *gethTypes.Transaction) error {
	n.lock.Lock()
	defer n.lock.Unlock()
	if n.down {
		return unreachable()
	}

	from, err := gethTypes.Sender(n.signer, tx)
	if err != nil {
		return &RPCError{Code: errCodeDefault, Message: "invalid sender"}
	}
	if _, known := n.txs[tx.Hash()]; known {
		if _, mined := n.receipts[tx.Hash()]; mined {
			return &RPCError{Code: errCodeDefault, Message: "nonce too low"}
		}
		if n.mempool[from][tx.Nonce()] != nil && n.mempool[from][tx.Nonce()].Hash() == tx.Hash() {
			return &RPCError{Code: errCodeDefault, Message: "already known"}
		}
	}
	if tx.Nonce() < n.confirmed[from] {
		return &RPCError{Code: errCodeDefault, Message: "nonce too low"}
	}

	pool, ok := n.mempool[from]
	if !ok {
		pool = make(map[uint64]*gethTypes.Transaction)
		n.mempool[from] = pool
	}
	if existing, ok := pool[tx.Nonce()]; ok {
		// geth's default price bump
		threshold := new(big.Int).Mul(existing.GasPrice(), big.NewInt(110))
		threshold.Div(threshold, big.NewInt(100))
		if tx.GasPrice().Cmp(threshold) < 0 {
			return &RPCError{Code: errCodeDefault, Message: "replacement transaction underpriced"}
		}
	}
	pool[tx.Nonce()] = tx
	n.txs[tx.Hash()] = tx
	n.sendCount++
	return nil
}

func (n *SimulatedNode) PendingNonceAt(_ context.Context, account common.Address) (uint64, error) {
	n.lock.Lock()
	defer n.lock.Unlock()
	if n.down {
		return 0, unreachable()
	}
	nonce := n.confirmed[account]
	for {
		if _, ok := n.mempool[account][nonce]; !ok {
			return nonce, nil
		}
		nonce++
	}
}

func (n *SimulatedNode) NonceAt(_ context.Context, account common.Address, _ *big.Int) (uint64, error) {
	n.lock.Lock()
	defer n.lock.Unlock()
	if n.down {
		return 0, unreachable()
	}
	return n.confirmed[account], nil
}

func (n *SimulatedNode) TransactionReceipt(_ context.Context, txHash common.Hash) (*gethTypes.Receipt, error) {
	n.lock.Lock()
	defer n.lock.Unlock()
	if n.down {
		return nil, unreachable()
	}
	receipt, ok := n.receipts[txHash]
	if !ok {
		return nil, ethereum.NotFound
	}
	r := *receipt
	return &r, nil
}

func (n *SimulatedNode) TransactionByHash(_ context.Context, txHash common.Hash) (*gethTypes.Transaction, bool, error) {
	n.lock.Lock()
	defer n.lock.Unlock()
	if n.down {
		return nil, false, unreachable()
	}
	tx, ok := n.txs[txHash]
	if !ok {
		return nil, false, ethereum.NotFound
	}
	_, mined := n.receipts[txHash]
	return tx, !mined, nil
}

func (n *SimulatedNode) EstimateGas(_ context.Context, call ethereum.CallMsg) (uint64, error) {
	n.lock.Lock()
	defer n.lock.Unlock()
	if n.down {
		return 0, unreachable()
	}
	if reason, ok := n.reverts[hexutil.Encode(call.Data)]; ok {
		return 0, NewRevertError(reason)
	}
	return 21000 + 68*uint64(len(call.Data)), nil
}

func (n *SimulatedNode) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	n.lock.Lock()
	defer n.lock.Unlock()
	if n.down {
		return nil, unreachable()
	}
	if reason, ok := n.reverts[hexutil.Encode(msg.Data)]; ok {
		return nil, NewRevertError(reason)
	}
	return nil, nil
}

func (n *SimulatedNode) checkDown() error {
	n.lock.Lock()
	defer n.lock.Unlock()
	if n.down {
		return unreachable()
	}
	return nil
}

func unreachable() error {
	return errors.WithStack(&net.OpError{
		Op:  "dial",
		Net: "tcp",
		Err: errors.New("connect: connection refused"),
	})
}
