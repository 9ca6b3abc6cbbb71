// Package keyValStore is the durable ordered storage the broker keeps its
// tables in. It wraps BadgerDB and splits one database into independently
// addressed tables and cells.
package keyValStore

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"
)

var ErrClosed = errors.New("keyValStore: store closed")

type StoreConfig struct {
	Paths            []string // absolute path at the moment only first path is supported
	MinimumFreeSpace int      // in GB
	// InMemory keeps everything in RAM. Paths and MinimumFreeSpace are ignored.
	InMemory bool
	// Logger receives store logs. When set it is also handed to BadgerDB.
	Logger *logrus.Logger
}

// Stats counts operations since the store was opened.
type Stats struct {
	Reads  uint64 `json:"reads"`
	Writes uint64 `json:"writes"`
}

type KeyValStore struct {
	config   StoreConfig
	log      *logrus.Logger
	badgerDB *badger.DB

	// writeMu serializes read-write transactions so a check and the
	// mutation it guards never interleave with another writer.
	writeMu sync.Mutex
	closed  atomic.Bool

	readCounter  uint64
	writeCounter uint64
}

func NewKeyValStore(config StoreConfig) (*KeyValStore, error) { // A
	log := config.Logger
	if log == nil {
		log = logrus.New()
		log.SetOutput(io.Discard)
	}

	err := config.checkConfig()
	if err != nil {
		return nil, fmt.Errorf("error checking config for KeyValStore: %w", err)
	}

	var opts badger.Options
	if config.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(config.Paths[0])
		opts.ValueLogFileSize = 1024 * 1024 * 100 // Set max size of each value log file to 100MB
		opts.SyncWrites = true
	}
	if config.Logger != nil {
		opts.Logger = config.Logger
	} else {
		opts.Logger = nil
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}

	if !config.InMemory {
		displayDiskUsage(log, config.Paths)
	}

	return &KeyValStore{
		config:   config,
		log:      log,
		badgerDB: db,
	}, nil
}

// Update runs fn in a read-write transaction. Either every write fn made is
// committed or none is. Update calls are serialized.
func (k *KeyValStore) Update(fn func(txn *Txn) error) error { // A
	if k.closed.Load() {
		return ErrClosed
	}
	k.writeMu.Lock()
	defer k.writeMu.Unlock()

	err := k.badgerDB.Update(func(btxn *badger.Txn) error {
		return fn(&Txn{store: k, txn: btxn, writable: true})
	})
	if errors.Is(err, badger.ErrTxnTooBig) {
		k.log.WithError(err).Error("transaction exceeded badger limits")
	}
	return err
}

// View runs fn against a consistent snapshot.
func (k *KeyValStore) View(fn func(txn *Txn) error) error { // A
	if k.closed.Load() {
		return ErrClosed
	}
	return k.badgerDB.View(func(btxn *badger.Txn) error {
		return fn(&Txn{store: k, txn: btxn})
	})
}

func (k *KeyValStore) Stats() Stats {
	return Stats{
		Reads:  atomic.LoadUint64(&k.readCounter),
		Writes: atomic.LoadUint64(&k.writeCounter),
	}
}

func (k *KeyValStore) Close() error {
	if !k.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := k.Clean(); err != nil {
		k.log.WithError(err).Warn("clean before close failed")
	}
	return k.badgerDB.Close()
}

// Clean syncs the database and reclaims value log space.
func (k *KeyValStore) Clean() error {
	if k.config.InMemory {
		return nil
	}

	err := k.badgerDB.Sync()
	if err != nil {
		return fmt.Errorf("error syncing db: %w", err)
	}

	for {
		err = k.badgerDB.RunValueLogGC(0.5)
		if err != nil {
			break
		}
		k.log.Debug("value log rewritten")
	}
	if !errors.Is(err, badger.ErrNoRewrite) && !errors.Is(err, badger.ErrRejected) {
		return fmt.Errorf("error cleaning db: %w", err)
	}

	return nil
}
