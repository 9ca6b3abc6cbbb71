/*
Package keybroker is an access-controlled key derivation broker. Principals
own named keys, grant other principals Read, ReadWrite or ReadWriteManage on
them, fetch derived key material encrypted to a transport key and keep
encrypted values in maps guarded by the same rights.
*/
package keybroker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/i5heu/ouroboros-keybroker/internal/keyValStore"
	"github.com/i5heu/ouroboros-keybroker/pkg/encryptedMaps"
	"github.com/i5heu/ouroboros-keybroker/pkg/keyManager"
)

var (
	ErrNotInitialized     = errors.New("keybroker: not initialized")
	ErrAlreadyInitialized = errors.New("keybroker: already initialized")
	ErrClosed             = errors.New("keybroker: closed")
)

const (
	keyManagerNamespace    = "key_manager"
	encryptedMapsNamespace = "encrypted_maps"
)

// Broker owns the store and the two services layered on it. Every operation
// takes the caller identity explicitly; the Broker never looks it up.
type Broker struct {
	log    *slog.Logger
	config Config

	mu            sync.RWMutex
	started       bool
	closed        bool
	store         *keyValStore.KeyValStore
	keyManager    *keyManager.KeyManager
	encryptedMaps *encryptedMaps.EncryptedMaps

	stopGC chan struct{}
	gcDone chan struct{}
}

// New validates conf. It does not touch the disk; call Start for that.
func New(conf Config) (*Broker, error) { // A
	if !conf.InMemory && len(conf.Paths) == 0 {
		return nil, fmt.Errorf("at least one path must be provided in config")
	}
	if conf.VetKD == nil {
		return nil, fmt.Errorf("a vetkd client must be provided in config")
	}
	if conf.MaxValueSize < 0 {
		return nil, fmt.Errorf("max value size must not be negative")
	}
	if conf.Logger == nil {
		conf.Logger = defaultLogger()
	}
	return &Broker{
		log:    conf.Logger,
		config: conf,
	}, nil
}

// Start opens the store and initializes both services. It may succeed only
// once per Broker.
func (b *Broker) Start(ctx context.Context) error { // A
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	if b.started {
		return ErrAlreadyInitialized
	}

	storeConfig := keyValStore.StoreConfig{
		InMemory:         b.config.InMemory,
		MinimumFreeSpace: int(b.config.MinimumFreeGB),
		Logger:           b.config.StoreLogger,
	}
	if !b.config.InMemory {
		dataRoot := b.config.Paths[0]
		kvPath := filepath.Join(dataRoot, "kv")
		if err := os.MkdirAll(kvPath, 0o700); err != nil {
			return fmt.Errorf("mkdir %s: %w", kvPath, err)
		}
		storeConfig.Paths = []string{kvPath}
	}

	store, err := keyValStore.NewKeyValStore(storeConfig)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}

	km, err := keyManager.Init(store, keyManager.Config{
		DomainSeparator: b.config.DomainSeparator,
		Tables:          keyManager.DefaultTables(keyManagerNamespace),
		VetKD:           b.config.VetKD,
		VetKDKeyID:      b.config.VetKDKeyID,
		Logger:          b.log.With("service", "keyManager"),
	})
	if err != nil {
		return errors.Join(fmt.Errorf("init key manager: %w", err), store.Close())
	}

	em, err := encryptedMaps.Init(store, encryptedMaps.Config{
		DomainSeparator: b.config.DomainSeparator,
		Tables:          encryptedMaps.DefaultTables(encryptedMapsNamespace),
		VetKD:           b.config.VetKD,
		VetKDKeyID:      b.config.VetKDKeyID,
		MaxValueSize:    b.config.MaxValueSize,
		Logger:          b.log.With("service", "encryptedMaps"),
	})
	if err != nil {
		return errors.Join(fmt.Errorf("init encrypted maps: %w", err), store.Close())
	}

	b.store = store
	b.keyManager = km
	b.encryptedMaps = em
	b.started = true

	if b.config.GarbageCollectionInterval > 0 && !b.config.InMemory {
		b.stopGC = make(chan struct{})
		b.gcDone = make(chan struct{})
		go b.collectGarbage(b.config.GarbageCollectionInterval)
	}

	b.log.Info("keybroker started",
		"inMemory", b.config.InMemory,
		"paths", b.config.Paths,
		"domainSeparator", km.DomainSeparator())
	return nil
}

func (b *Broker) collectGarbage(interval time.Duration) {
	defer close(b.gcDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-b.stopGC:
			return
		case <-ticker.C:
			if err := b.store.Clean(); err != nil {
				b.log.Warn("value log garbage collection failed", "error", err)
			}
		}
	}
}

// Run starts the broker, blocks until ctx is canceled and then closes it
// within a bounded time.
func (b *Broker) Run(ctx context.Context) error { // A
	if err := b.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return b.Close(shutdownCtx)
}

// Close stops background work and closes the store. It is idempotent.
func (b *Broker) Close(ctx context.Context) error { // A
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	store := b.store
	stopGC, gcDone := b.stopGC, b.gcDone
	b.mu.Unlock()

	if stopGC != nil {
		close(stopGC)
		select {
		case <-gcDone:
		case <-ctx.Done():
			return fmt.Errorf("wait for garbage collection: %w", ctx.Err())
		}
	}

	if store == nil {
		return nil
	}
	if err := store.Close(); err != nil {
		return fmt.Errorf("close store: %w", err)
	}
	b.log.Info("keybroker closed")
	return nil
}

func (b *Broker) ready() error {
	if b.closed {
		return ErrClosed
	}
	if !b.started {
		return ErrNotInitialized
	}
	return nil
}

// KeyManager returns the key manager service.
func (b *Broker) KeyManager() (*keyManager.KeyManager, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := b.ready(); err != nil {
		return nil, err
	}
	return b.keyManager, nil
}

// EncryptedMaps returns the encrypted maps service.
func (b *Broker) EncryptedMaps() (*encryptedMaps.EncryptedMaps, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := b.ready(); err != nil {
		return nil, err
	}
	return b.encryptedMaps, nil
}

// Stats reports store operation counters.
func (b *Broker) Stats() (keyValStore.Stats, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := b.ready(); err != nil {
		return keyValStore.Stats{}, err
	}
	return b.store.Stats(), nil
}
