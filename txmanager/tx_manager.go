package txmanager

import (
	"context"

	esClient "github.com/celer-network/eth-txmgr/client"
	"github.com/celer-network/eth-txmgr/gas"
	esStore "github.com/celer-network/eth-txmgr/store"
	"github.com/celer-network/eth-txmgr/store/models"
	"github.com/celer-network/eth-txmgr/store/tendermint"
	esTypes "github.com/celer-network/eth-txmgr/types"
	"github.com/ethereum/go-ethereum/accounts/abi"
	gethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	tmdb "github.com/tendermint/tm-db"
)

const storeName = "txmgr"

// TxManager is the session owning everything needed to send transactions:
// node client, signer, journal, nonce tracker, scheduler, replacement
// coordinator and revert resolver.
type TxManager interface {
	Start() error
	Stop() error

	// NewTx allocates a nonce for intent and returns its pending handle
	// without submitting it.
	NewTx(ctx context.Context, intent TxIntent, gasPrice gas.GasPrice) (*TxHandle, error)
	// Submit starts monitoring a handle created by NewTx in the background.
	Submit(h *TxHandle) error
	// Transact submits intent and blocks until it is resolved or ctx is done.
	Transact(ctx context.Context, intent TxIntent, gasPrice gas.GasPrice) (*TxHandle, *Outcome, error)
	// TransactAsync submits intent and returns at once.
	TransactAsync(ctx context.Context, intent TxIntent, gasPrice gas.GasPrice) (*TxHandle, error)
	// Replace supersedes a pending handle with intent under the same nonce.
	Replace(ctx context.Context, old *TxHandle, intent TxIntent, gasPrice gas.GasPrice) (*TxHandle, error)
	WaitAll(ctx context.Context, hs ...*TxHandle) ([]*Outcome, error)

	RevertReason(ctx context.Context, fingerprint gethCommon.Hash) string

	GetTxRecord(id uuid.UUID) (*models.Tx, error)
	GetTxRecords(from gethCommon.Address) ([]*models.Tx, error)
}

type txManager struct {
	StartStopOnce

	ethClient esClient.Client
	store     esStore.Store
	config    *esTypes.Config
	logger    esTypes.Logger

	nonces      *NonceTracker
	resolver    *RevertResolver
	monitor     *txMonitor
	scheduler   *SubmissionScheduler
	coordinator *ReplacementCoordinator
}

var _ TxManager = (*txManager)(nil)

// NewTxManager wires a session. A nil store keeps the journal in memory
// unless config.StoreDir names a directory. Custom errors declared in abis are
// decoded in revert reasons.
func NewTxManager(
	ethClient esClient.Client,
	keyStore esClient.KeyStoreInterface,
	store esStore.Store,
	config *esTypes.Config,
	abis ...abi.ABI,
) (TxManager, error) {
	if ethClient == nil || keyStore == nil || config == nil || config.Logger == nil {
		return nil, errors.New("eth client, key store, config and logger are required")
	}
	config.SetDefaults()
	if store == nil {
		if config.StoreDir != "" {
			var err error
			store, err = tendermint.NewGoLevelDBStore(storeName, config.StoreDir)
			if err != nil {
				return nil, err
			}
		} else {
			store = tendermint.NewTMStore(tmdb.NewMemDB())
		}
	}

	logger := config.Logger
	nonces := NewNonceTracker(ethClient, store, logger)
	resolver := NewRevertResolver(ethClient, config.ChainID, logger, abis...)
	monitor := &txMonitor{
		ethClient: ethClient,
		keyStore:  keyStore,
		journal:   newJournal(store, logger),
		nonces:    nonces,
		resolver:  resolver,
		metrics:   NewMetrics(),
		config:    config,
		logger:    logger,
	}
	scheduler := NewSubmissionScheduler(monitor, logger)
	return &txManager{
		ethClient:   ethClient,
		store:       store,
		config:      config,
		logger:      logger,
		nonces:      nonces,
		resolver:    resolver,
		monitor:     monitor,
		scheduler:   scheduler,
		coordinator: NewReplacementCoordinator(monitor, nonces, scheduler),
	}, nil
}

func (txm *txManager) Start() error {
	return txm.StartOnce("TxManager", func() error {
		if txm.config.ChainID == nil {
			ctx, cancel := context.WithTimeout(context.Background(), maxEthNodeRequestTime)
			defer cancel()
			chainID, err := txm.ethClient.ChainID(ctx)
			if err != nil {
				return withKind(ErrConnectivity, errors.Wrap(err, "could not get chain ID"))
			}
			txm.config.ChainID = chainID
			txm.resolver.chainID = chainID
		}
		txm.logger.Infow("TxManager: started", "chainID", txm.config.ChainID)
		return nil
	})
}

// Stop stops every monitor loop. Pending handles, including those from NewTx
// never submitted, resolve as timed_out with ErrManagerStopped.
func (txm *txManager) Stop() error {
	return txm.StopOnce("TxManager", func() error {
		txm.scheduler.Stop()
		txm.logger.Info("TxManager: stopped")
		return nil
	})
}

func (txm *txManager) checkStarted() error {
	switch txm.State() {
	case StartStopOnce_Started:
		return nil
	case StartStopOnce_Stopped:
		return ErrManagerStopped
	default:
		return errors.New("TxManager is not started")
	}
}

func (txm *txManager) NewTx(ctx context.Context, intent TxIntent, gasPrice gas.GasPrice) (_ *TxHandle, err error) {
	defer WrapIfError(&err, "NewTx failed")
	if err := txm.checkStarted(); err != nil {
		return nil, err
	}
	if err := intent.validate(); err != nil {
		return nil, err
	}
	if gasPrice == nil {
		gasPrice = gas.NewFixed(txm.config.DefaultGasPrice)
	}

	nonce, err := txm.nonces.Next(ctx, intent.From)
	if err != nil {
		return nil, err
	}
	h := newTxHandle(intent, nonce, gasPrice, nil)
	if err := txm.scheduler.track(h); err != nil {
		txm.nonces.Release(intent.From, nonce)
		return nil, err
	}
	h.lock.Lock()
	txm.monitor.journal.saveTxLocked(h)
	h.lock.Unlock()
	txm.logger.Debugw("TxManager: new transaction",
		"txID", h.id,
		"from", intent.From.Hex(),
		"nonce", nonce,
		"description", intent.Description,
	)
	return h, nil
}

func (txm *txManager) Submit(h *TxHandle) error {
	if err := txm.checkStarted(); err != nil {
		return err
	}
	return txm.scheduler.Schedule(h)
}

func (txm *txManager) TransactAsync(ctx context.Context, intent TxIntent, gasPrice gas.GasPrice) (*TxHandle, error) {
	h, err := txm.NewTx(ctx, intent, gasPrice)
	if err != nil {
		return nil, err
	}
	if err := txm.Submit(h); err != nil {
		return nil, err
	}
	return h, nil
}

func (txm *txManager) Transact(ctx context.Context, intent TxIntent, gasPrice gas.GasPrice) (*TxHandle, *Outcome, error) {
	h, err := txm.TransactAsync(ctx, intent, gasPrice)
	if err != nil {
		return nil, nil, err
	}
	outcome, err := h.Wait(ctx)
	return h, outcome, err
}

func (txm *txManager) Replace(ctx context.Context, old *TxHandle, intent TxIntent, gasPrice gas.GasPrice) (*TxHandle, error) {
	if err := txm.checkStarted(); err != nil {
		return nil, err
	}
	return txm.coordinator.Replace(ctx, old, intent, gasPrice)
}

func (txm *txManager) WaitAll(ctx context.Context, hs ...*TxHandle) ([]*Outcome, error) {
	return txm.scheduler.Wait(ctx, hs...)
}

func (txm *txManager) RevertReason(ctx context.Context, fingerprint gethCommon.Hash) string {
	return txm.resolver.Resolve(ctx, fingerprint)
}

func (txm *txManager) GetTxRecord(id uuid.UUID) (*models.Tx, error) {
	return txm.store.GetTx(id)
}

func (txm *txManager) GetTxRecords(from gethCommon.Address) ([]*models.Tx, error) {
	return txm.store.GetTxs(from)
}
