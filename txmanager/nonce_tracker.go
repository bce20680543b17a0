package txmanager

import (
	"context"
	"fmt"
	"sync"

	"github.com/celer-network/eth-txmgr/client"
	"github.com/celer-network/eth-txmgr/store"
	"github.com/celer-network/eth-txmgr/types"
	gethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

// NonceTracker hands out nonces per account. Each account's counter is
// seeded from the node's pending transaction count on first use; after that
// the tracker's own view is authoritative.
type NonceTracker struct {
	ethClient client.Client
	store     store.Store
	logger    types.Logger

	lock sync.Mutex
	// next nonce to hand out, per account
	next map[gethCommon.Address]uint64
}

func NewNonceTracker(ethClient client.Client, store store.Store, logger types.Logger) *NonceTracker {
	return &NonceTracker{
		ethClient: ethClient,
		store:     store,
		logger:    logger,
		next:      make(map[gethCommon.Address]uint64),
	}
}

// Next allocates the next nonce for address. A failed seed read is returned
// as ErrNonceSeed and not retried.
func (nt *NonceTracker) Next(ctx context.Context, address gethCommon.Address) (uint64, error) {
	nt.lock.Lock()
	defer nt.lock.Unlock()

	nonce, ok := nt.next[address]
	if !ok {
		seed, err := nt.loadNonce(ctx, address)
		if err != nil {
			return 0, withKind(ErrNonceSeed, err)
		}
		nonce = seed
	}
	nt.setNextLocked(address, nonce+1)
	return nonce, nil
}

// ReserveSame confirms that nonce has been handed out for address, so that a
// replacement may reuse it. It never allocates.
func (nt *NonceTracker) ReserveSame(address gethCommon.Address, nonce uint64) error {
	nt.lock.Lock()
	defer nt.lock.Unlock()

	next, ok := nt.next[address]
	if !ok || nonce >= next {
		return errors.Errorf("nonce %d was never allocated for %s", nonce, address.Hex())
	}
	return nil
}

// Release gives back a nonce that was never broadcast. Only the most recently
// allocated nonce can be given back; any other leaves a gap that the chain
// fills only once something is sent with it.
func (nt *NonceTracker) Release(address gethCommon.Address, nonce uint64) bool {
	nt.lock.Lock()
	defer nt.lock.Unlock()

	next, ok := nt.next[address]
	if !ok || next != nonce+1 {
		return false
	}
	nt.setNextLocked(address, nonce)
	return true
}

// Sync raises the counter to the node's pending nonce when transactions were
// sent from address outside this tracker. It never lowers it.
func (nt *NonceTracker) Sync(ctx context.Context, address gethCommon.Address) error {
	nt.lock.Lock()
	defer nt.lock.Unlock()

	pending, err := nt.pendingNonceAt(ctx, address)
	if err != nil {
		return errors.Wrap(err, "nonce sync failed")
	}
	if next, ok := nt.next[address]; ok && pending > next {
		nt.logger.Warnw("TxManager: nonce was used outside the transaction manager, skipping ahead",
			"address", address.Hex(),
			"nextNonce", next,
			"pendingNonce", pending,
		)
		nt.setNextLocked(address, pending)
	}
	return nil
}

func (nt *NonceTracker) setNextLocked(address gethCommon.Address, next uint64) {
	nt.next[address] = next
	if err := nt.store.SetNextNonce(address, next); err != nil {
		nt.logger.Errorw("TxManager: could not persist next nonce",
			"address", address.Hex(),
			"nextNonce", next,
			"error", err,
		)
	}
}

func (nt *NonceTracker) loadNonce(ctx context.Context, address gethCommon.Address) (uint64, error) {
	nt.logger.Debugw("TxManager: loading next nonce from eth node", "address", address.Hex())
	nonce, err := nt.pendingNonceAt(ctx, address)
	if err != nil {
		return 0, err
	}
	if stored, err := nt.store.GetNextNonce(address); err == nil && stored != nonce {
		nt.logger.Infow("TxManager: journal nonce differs from node, using node",
			"address", address.Hex(),
			"journalNonce", stored,
			"nodeNonce", nonce,
		)
	}
	if nonce == 0 {
		nt.logger.Infow(
			fmt.Sprintf("TxManager: first use of address %s, starting from nonce 0", address.Hex()),
			"address", address.Hex(),
			"nextNonce", nonce,
		)
	} else {
		nt.logger.Warnw(fmt.Sprintf("TxManager: address %s has been used before. Starting from nonce %v."+
			" Please note that using the accounts with an external wallet is NOT SUPPORTED and can lead to missed or stuck transactions.",
			address.Hex(), nonce),
			"address", address.Hex(),
			"nextNonce", nonce,
		)
	}
	return nonce, nil
}

func (nt *NonceTracker) pendingNonceAt(ctx context.Context, address gethCommon.Address) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, maxEthNodeRequestTime)
	defer cancel()
	nonce, err := nt.ethClient.PendingNonceAt(ctx, address)
	return nonce, errors.WithStack(err)
}
