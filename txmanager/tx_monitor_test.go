package txmanager_test

import (
	"context"
	"math/big"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/celer-network/eth-txmgr/gas"
	"github.com/celer-network/eth-txmgr/internal/mocks"
	esTesting "github.com/celer-network/eth-txmgr/internal/testing"
	"github.com/celer-network/eth-txmgr/store/models"
	"github.com/celer-network/eth-txmgr/txmanager"
	ethereum "github.com/ethereum/go-ethereum"
	gethAccounts "github.com/ethereum/go-ethereum/accounts"
	gethCommon "github.com/ethereum/go-ethereum/common"
	gethTypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// sentTxs records what a mocked node was sent and mines on demand.
type sentTxs struct {
	lock  sync.Mutex
	txs   []*gethTypes.Transaction
	mined map[gethCommon.Hash]bool
}

func (s *sentTxs) record(args mock.Arguments) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.txs = append(s.txs, args.Get(1).(*gethTypes.Transaction))
}

func (s *sentTxs) all() []*gethTypes.Transaction {
	s.lock.Lock()
	defer s.lock.Unlock()
	return append([]*gethTypes.Transaction(nil), s.txs...)
}

func (s *sentTxs) mineLast() {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.mined = map[gethCommon.Hash]bool{s.txs[len(s.txs)-1].Hash(): true}
}

func (s *sentTxs) mine(hash gethCommon.Hash) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.mined == nil {
		s.mined = make(map[gethCommon.Hash]bool)
	}
	s.mined[hash] = true
}

func (s *sentTxs) receipt(_ context.Context, hash gethCommon.Hash) *gethTypes.Receipt {
	s.lock.Lock()
	defer s.lock.Unlock()
	if !s.mined[hash] {
		return nil
	}
	return &gethTypes.Receipt{
		Status:      gethTypes.ReceiptStatusSuccessful,
		TxHash:      hash,
		BlockNumber: big.NewInt(42),
	}
}

func (s *sentTxs) receiptErr(_ context.Context, hash gethCommon.Hash) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if !s.mined[hash] {
		return ethereum.NotFound
	}
	return nil
}

func newMockedTxManager(t *testing.T, ethClient *mocks.Client) (txmanager.TxManager, gethCommon.Address) {
	t.Helper()

	config := esTesting.NewConfig(t)
	keyStore := esTesting.MustNewKeyStore(t)
	from := esTesting.MustAddRandomAccountToKeystore(t, keyStore)
	txm, err := txmanager.NewTxManager(ethClient, keyStore, esTesting.NewStore(t), config)
	require.NoError(t, err)
	require.NoError(t, txm.Start())
	t.Cleanup(func() { txm.Stop() })
	return txm, from
}

func TestTxMonitor_RetriesAfterConnectivityError(t *testing.T) {
	ethClient := new(mocks.Client)
	sent := &sentTxs{}
	txm, from := newMockedTxManager(t, ethClient)

	ethClient.On("PendingNonceAt", mock.Anything, from).Return(uint64(7), nil)
	ethClient.On("SendTransaction", mock.Anything, mock.Anything).
		Run(sent.record).
		Return(errors.WithStack(&net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")})).
		Once()
	ethClient.On("SendTransaction", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			sent.record(args)
			sent.mineLast()
		}).
		Return(nil)
	ethClient.On("TransactionReceipt", mock.Anything, mock.Anything).Return(sent.receipt, sent.receiptErr)

	h, outcome, err := txm.Transact(context.Background(), txmanager.TxIntent{
		From:     from,
		To:       esTesting.NewAddress(),
		GasLimit: 21000,
	}, gas.NewFixed(gas.FromGwei(3)))
	require.NoError(t, err)
	assert.Equal(t, models.TxStateMinedSuccess, outcome.State)
	assert.Equal(t, uint64(7), h.Nonce())

	// The unanswered attempt is kept and sent again unchanged.
	txs := sent.all()
	require.GreaterOrEqual(t, len(txs), 2)
	assert.Equal(t, txs[0].Hash(), txs[1].Hash())
	require.Len(t, h.Attempts(), 1)
	assert.Equal(t, txs[0].Hash(), outcome.Fingerprint)
	ethClient.AssertExpectations(t)
}

func TestTxMonitor_RaisesPriceWhenUnderpriced(t *testing.T) {
	messages := map[string]string{
		"bare":         "transaction underpriced",
		"with tip cap": "transaction underpriced: gas tip cap 10000000000, minimum needed 10500000000",
		"replacement":  "replacement transaction underpriced",
	}
	for name, message := range messages {
		message := message
		t.Run(name, func(t *testing.T) {
			ethClient := new(mocks.Client)
			sent := &sentTxs{}
			txm, from := newMockedTxManager(t, ethClient)

			ethClient.On("PendingNonceAt", mock.Anything, from).Return(uint64(0), nil)
			ethClient.On("SendTransaction", mock.Anything, mock.Anything).
				Run(sent.record).
				Return(&esTesting.RPCError{Code: -32000, Message: message}).
				Once()
			ethClient.On("SendTransaction", mock.Anything, mock.Anything).
				Run(func(args mock.Arguments) {
					sent.record(args)
					sent.mineLast()
				}).
				Return(nil)
			ethClient.On("TransactionReceipt", mock.Anything, mock.Anything).Return(sent.receipt, sent.receiptErr)

			h, outcome, err := txm.Transact(context.Background(), txmanager.TxIntent{
				From:     from,
				To:       esTesting.NewAddress(),
				GasLimit: 21000,
			}, gas.NewFixed(gas.FromGwei(10)))
			require.NoError(t, err)
			assert.Equal(t, models.TxStateMinedSuccess, outcome.State)

			txs := sent.all()
			require.GreaterOrEqual(t, len(txs), 2)
			assert.Equal(t, gas.FromGwei(10), txs[0].GasPrice())
			assert.Equal(t, gas.FromGwei(11), txs[1].GasPrice())
			// Only the accepted attempt counts.
			require.Len(t, h.Attempts(), 1)
			assert.Equal(t, txs[1].Hash(), h.Attempts()[0].Fingerprint)
		})
	}
}

func TestTxMonitor_EscalatesFromBelowNodeMinimum(t *testing.T) {
	ethClient := new(mocks.Client)
	sent := &sentTxs{}
	txm, from := newMockedTxManager(t, ethClient)
	minimum := gas.FromGwei(1)

	ethClient.On("PendingNonceAt", mock.Anything, from).Return(uint64(0), nil)
	ethClient.On("SendTransaction", mock.Anything, mock.Anything).
		Run(sent.record).
		Return(func(_ context.Context, tx *gethTypes.Transaction) error {
			if tx.GasPrice().Cmp(minimum) < 0 {
				return &esTesting.RPCError{Code: -32000, Message: "transaction underpriced: gas tip cap " + tx.GasPrice().String() + ", minimum needed " + minimum.String()}
			}
			sent.mineLast()
			return nil
		})
	ethClient.On("TransactionReceipt", mock.Anything, mock.Anything).Return(sent.receipt, sent.receiptErr)

	strategy := gas.MustNewGeometric(gas.FromGwei(0.8), 0, time.Hour, gas.FromGwei(100))
	h, outcome, err := txm.Transact(context.Background(), txmanager.TxIntent{
		From:     from,
		To:       esTesting.NewAddress(),
		GasLimit: 21000,
	}, strategy)
	require.NoError(t, err)
	assert.Equal(t, models.TxStateMinedSuccess, outcome.State)
	require.Len(t, h.Attempts(), 1)
	assert.True(t, h.LastGasPrice().Cmp(minimum) >= 0)

	txs := sent.all()
	require.GreaterOrEqual(t, len(txs), 2)
	assert.Equal(t, gas.FromGwei(0.8), txs[0].GasPrice())
	for i := 1; i < len(txs); i++ {
		assert.True(t, txs[i].GasPrice().Cmp(txs[i-1].GasPrice()) >= 0)
	}
}

func TestTxMonitor_FirstSubmissionRejected(t *testing.T) {
	ethClient := new(mocks.Client)
	txm, from := newMockedTxManager(t, ethClient)

	ethClient.On("PendingNonceAt", mock.Anything, from).Return(uint64(3), nil)
	ethClient.On("SendTransaction", mock.Anything, mock.Anything).
		Return(&esTesting.RPCError{Code: -32000, Message: "insufficient funds for gas * price + value"}).
		Once()

	h, outcome, err := txm.Transact(context.Background(), txmanager.TxIntent{
		From:     from,
		To:       esTesting.NewAddress(),
		Value:    big.NewInt(1000),
		GasLimit: 21000,
	}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, txmanager.ErrSubmissionRejected))
	assert.Equal(t, models.TxStateFailed, outcome.State)
	assert.Empty(t, h.Attempts())

	record, err := txm.GetTxRecord(h.ID())
	require.NoError(t, err)
	assert.Equal(t, models.TxStateFailed, record.State)
	assert.Contains(t, record.Error, "insufficient funds")
	ethClient.AssertExpectations(t)
}

func TestTxMonitor_ChainIDLoadedOnStart(t *testing.T) {
	ethClient := new(mocks.Client)
	config := esTesting.NewConfig(t)
	config.ChainID = nil
	keyStore := esTesting.MustNewKeyStore(t)

	ethClient.On("ChainID", mock.Anything).Return(big.NewInt(5), nil).Once()
	txm, err := txmanager.NewTxManager(ethClient, keyStore, nil, config)
	require.NoError(t, err)
	require.NoError(t, txm.Start())
	defer txm.Stop()

	assert.Equal(t, big.NewInt(5), config.ChainID)
	assert.Error(t, txm.Start())
	ethClient.AssertExpectations(t)

	t.Run("unreachable node", func(t *testing.T) {
		ethClient := new(mocks.Client)
		config := esTesting.NewConfig(t)
		config.ChainID = nil
		ethClient.On("ChainID", mock.Anything).Return(nil, errors.WithStack(&net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}))

		txm, err := txmanager.NewTxManager(ethClient, keyStore, nil, config)
		require.NoError(t, err)
		err = txm.Start()
		require.Error(t, err)
		assert.True(t, errors.Is(err, txmanager.ErrConnectivity))
	})
}

func TestTxMonitor_RebroadcastsWhileWaiting(t *testing.T) {
	ethClient := new(mocks.Client)
	sent := &sentTxs{}
	txm, from := newMockedTxManager(t, ethClient)

	ethClient.On("PendingNonceAt", mock.Anything, from).Return(uint64(0), nil)
	ethClient.On("SendTransaction", mock.Anything, mock.Anything).Run(sent.record).Return(nil)
	ethClient.On("TransactionReceipt", mock.Anything, mock.Anything).Return(nil, ethereum.NotFound)

	h, err := txm.TransactAsync(context.Background(), txmanager.TxIntent{
		From:     from,
		To:       esTesting.NewAddress(),
		GasLimit: 21000,
	}, gas.NewFixed(gas.FromGwei(1)))
	require.NoError(t, err)

	// Resubmission interval is 100ms in tests.
	time.Sleep(500 * time.Millisecond)
	assert.Len(t, h.Attempts(), 1)
	assert.Equal(t, models.TxStatePending, h.State())
	txs := sent.all()
	assert.Greater(t, len(txs), 2)
	for _, tx := range txs {
		assert.Equal(t, h.Attempts()[0].Fingerprint, tx.Hash())
	}
}

func TestTxMonitor_SigningFailure(t *testing.T) {
	node := esTesting.NewSimulatedNode()
	keyStore := new(mocks.KeyStoreInterface)
	config := esTesting.NewConfig(t)
	from := esTesting.NewAddress()
	account := gethAccounts.Account{Address: from}

	keyStore.On("GetAccountByAddress", from).Return(account, nil)
	keyStore.On("SignTx", account, mock.Anything, config.ChainID).Return(nil, errors.New("account locked"))

	txm, err := txmanager.NewTxManager(node, keyStore, esTesting.NewStore(t), config)
	require.NoError(t, err)
	require.NoError(t, txm.Start())
	defer txm.Stop()

	h, outcome, err := txm.Transact(context.Background(), txmanager.TxIntent{
		From:     from,
		To:       esTesting.NewAddress(),
		GasLimit: 21000,
	}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, txmanager.ErrSubmissionRejected))
	assert.Contains(t, err.Error(), "account locked")
	assert.Equal(t, models.TxStateFailed, outcome.State)
	assert.Equal(t, 0, node.SendCount())

	// The nonce was never used and is handed out again.
	next, err := txm.NewTx(context.Background(), txmanager.TxIntent{From: from, To: esTesting.NewAddress()}, nil)
	require.NoError(t, err)
	assert.Equal(t, h.Nonce(), next.Nonce())
	keyStore.AssertExpectations(t)
}

func TestTxMonitor_ReplacedTransactionMinedAfterReplace(t *testing.T) {
	ethClient := new(mocks.Client)
	sent := &sentTxs{}
	txm, from := newMockedTxManager(t, ethClient)
	ctx := context.Background()

	ethClient.On("PendingNonceAt", mock.Anything, from).Return(uint64(4), nil)
	ethClient.On("SendTransaction", mock.Anything, mock.Anything).Run(sent.record).Return(nil)
	ethClient.On("TransactionReceipt", mock.Anything, mock.Anything).Return(sent.receipt, sent.receiptErr)

	intent := txmanager.TxIntent{From: from, To: esTesting.NewAddress(), GasLimit: 21000}
	old, err := txm.TransactAsync(ctx, intent, gas.NewFixed(gas.FromGwei(1)))
	require.NoError(t, err)
	waitForAttempts(t, old, 1)

	replacement, err := txm.Replace(ctx, old, intent, gas.NewFixed(gas.FromGwei(2)))
	require.NoError(t, err)
	require.Equal(t, models.TxStateReplaced, old.State())

	// The node mines the replaced attempt after all.
	oldFingerprint := old.Fingerprints()[0]
	sent.mine(oldFingerprint)

	outcome, err := replacement.Wait(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, txmanager.ErrNonceConsumed))
	assert.Equal(t, models.TxStateReplaced, outcome.State)
	assert.Equal(t, oldFingerprint, outcome.Fingerprint)
	require.NotNil(t, outcome.Receipt)
	assert.Equal(t, oldFingerprint, outcome.Receipt.TxHash)

	// The replaced handle keeps its own outcome.
	assert.Equal(t, models.TxStateReplaced, old.State())
	assert.Equal(t, replacement.ID(), old.Outcome().ReplacedBy)
}

func TestTxMonitor_ReplacedTransactionMinedDuringReplace(t *testing.T) {
	ethClient := new(mocks.Client)
	sent := &sentTxs{}
	txm, from := newMockedTxManager(t, ethClient)
	ctx := context.Background()
	replacementPrice := gas.FromGwei(2)

	var oldFingerprint gethCommon.Hash
	ethClient.On("PendingNonceAt", mock.Anything, from).Return(uint64(9), nil)
	ethClient.On("SendTransaction", mock.Anything, mock.Anything).
		Run(sent.record).
		Return(func(_ context.Context, tx *gethTypes.Transaction) error {
			if tx.GasPrice().Cmp(replacementPrice) < 0 {
				return nil
			}
			// The replaced transaction lands in the block just before.
			sent.mine(oldFingerprint)
			return &esTesting.RPCError{Code: -32000, Message: "nonce too low"}
		})
	ethClient.On("TransactionReceipt", mock.Anything, mock.Anything).Return(sent.receipt, sent.receiptErr)

	intent := txmanager.TxIntent{From: from, To: esTesting.NewAddress(), GasLimit: 21000}
	old, err := txm.TransactAsync(ctx, intent, gas.NewFixed(gas.FromGwei(1)))
	require.NoError(t, err)
	waitForAttempts(t, old, 1)
	oldFingerprint = old.Fingerprints()[0]

	replacement, err := txm.Replace(ctx, old, intent, gas.NewFixed(replacementPrice))
	require.Error(t, err)
	assert.Nil(t, replacement)
	assert.True(t, errors.Is(err, txmanager.ErrAlreadyResolved))

	assert.Equal(t, models.TxStateMinedSuccess, old.State())
	outcome, err := old.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, oldFingerprint, outcome.Fingerprint)
	assert.Nil(t, old.Replaced())
}
