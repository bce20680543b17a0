package tendermint

import (
	"github.com/celer-network/eth-txmgr/store"
	"github.com/pkg/errors"
	tmdb "github.com/tendermint/tm-db"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	errStrCreateIter = "could not create iterator"
)

// TMStore is a Store implementation using Tendermint tm-db
type TMStore struct {
	nsAccount   *tmdb.PrefixDB
	nsTx        *tmdb.PrefixDB
	nsTxAttempt *tmdb.PrefixDB
}

var _ store.Store = (*TMStore)(nil)

// NewTMStore creates a new TMStore
func NewTMStore(db tmdb.DB) *TMStore {
	return &TMStore{
		nsAccount:   tmdb.NewPrefixDB(db, prefixAccount),
		nsTx:        tmdb.NewPrefixDB(db, prefixTx),
		nsTxAttempt: tmdb.NewPrefixDB(db, prefixTxAttempt),
	}
}

// NewGoLevelDBStore opens (or creates) an on-disk store under dir.
func NewGoLevelDBStore(name, dir string) (*TMStore, error) {
	db, err := tmdb.NewGoLevelDB(name, dir)
	if err != nil {
		return nil, errors.Wrapf(err, "could not open store %s in %s", name, dir)
	}
	return NewTMStore(db), nil
}

// get will retrieve the binary data under the given key from the DB and decode it into the given
// entity. The provided entity needs to be a pointer to an initialized entity of the correct type.
func get(db tmdb.DB, key []byte, entity interface{}) error {
	value, err := db.Get(key)
	if err != nil {
		return errors.Wrap(err, "could not get data")
	}
	if value == nil {
		return store.ErrNotFound
	}
	err = msgpack.Unmarshal(value, entity)
	if err != nil {
		return errors.Wrap(err, "could not decode data")
	}
	return nil
}

// set will encode the given entity using MessagePack and will insert the resulting binary data in
// the DB under the provided key.
func set(db tmdb.DB, key []byte, entity interface{}) error {
	val, err := msgpack.Marshal(entity)
	if err != nil {
		return errors.Wrap(err, "could not encode entity")
	}
	err = db.Set(key, val)
	if err != nil {
		return errors.Wrap(err, "could not store data")
	}
	return nil
}

func toCreateIterError(err error) error {
	return errors.Wrap(err, errStrCreateIter)
}
