// Package tidemark assembles the TidemarkDB services: a local
// content-addressed page store with per-page commit history, client-side
// encryption, and optional cloud sync against a relay.
package tidemark

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tidemark-io/tidemark-db/internal/cloudsync"
	encryptionimpl "github.com/tidemark-io/tidemark-db/internal/encryption"
	"github.com/tidemark-io/tidemark-db/internal/keyValStore"
	storageimpl "github.com/tidemark-io/tidemark-db/internal/storage"
	"github.com/tidemark-io/tidemark-db/pkg/cloud"
	"github.com/tidemark-io/tidemark-db/pkg/encryption"
	"github.com/tidemark-io/tidemark-db/pkg/logging"
	"github.com/tidemark-io/tidemark-db/pkg/storage"
	workerpool "github.com/tidemark-io/tidemark-db/pkg/workerPool"
)

type Config struct {
	// Paths holds the storage directories; the first is primary.
	Paths []string
	// MinimumFreeGB refuses startup below this much free disk.
	MinimumFreeGB int
	// GarbageCollectionInterval between unreachable-object sweeps.
	// Zero disables background collection.
	GarbageCollectionInterval time.Duration
	// SyncInterval between background sync cycles once a provider is
	// attached.
	SyncInterval time.Duration
	// MasterKey is the root secret all page keys derive from. At
	// least 32 bytes.
	MasterKey []byte
	// Logger defaults to the package logger when nil.
	Logger *slog.Logger
}

// DB is the top-level handle. Storage is always available; Sync is nil
// until AttachProvider.
type DB struct {
	Storage    storage.StorageService
	Encryption encryption.EncryptionService

	logger *slog.Logger
	config Config

	mu     sync.Mutex
	sync   *cloudsync.SyncManager
	gcStop chan struct{}
	gcDone chan struct{}
	closed bool
}

func New(conf Config) (*DB, error) {
	logger := conf.Logger
	if logger == nil {
		logger = logging.Logger
	}

	kv, err := keyValStore.NewKeyValStore(keyValStore.StoreConfig{
		Paths:            conf.Paths,
		MinimumFreeSpace: conf.MinimumFreeGB,
	})
	if err != nil {
		return nil, fmt.Errorf("create key-value store: %w", err)
	}

	enc, err := encryptionimpl.NewEncryptionService(conf.MasterKey)
	if err != nil {
		kv.Close()
		return nil, fmt.Errorf("create encryption service: %w", err)
	}

	ss := storageimpl.NewStorage(kv, workerpool.NewWorkerPool(workerpool.Config{}))

	db := &DB{
		Storage:    ss,
		Encryption: enc,
		logger:     logger,
		config:     conf,
	}

	if conf.GarbageCollectionInterval > 0 {
		db.gcStop = make(chan struct{})
		db.gcDone = make(chan struct{})
		go db.collectGarbage()
	}

	return db, nil
}

// AttachProvider starts background sync against a cloud relay. Call at
// most once.
func (db *DB) AttachProvider(provider cloud.Provider) *cloudsync.SyncManager {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.sync != nil {
		return db.sync
	}
	interval := db.config.SyncInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	db.sync = cloudsync.NewSyncManager(db.logger, db.Storage, provider, db.Encryption, interval)
	return db.sync
}

// Sync returns the sync manager, or nil when no provider is attached.
func (db *DB) Sync() *cloudsync.SyncManager {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.sync
}

func (db *DB) collectGarbage() {
	defer close(db.gcDone)
	ticker := time.NewTicker(db.config.GarbageCollectionInterval)
	defer ticker.Stop()
	for {
		select {
		case <-db.gcStop:
			return
		case <-ticker.C:
			if err := db.Storage.GarbageCollect(context.Background()); err != nil {
				db.logger.Warn("garbage collection failed", "error", err)
			}
		}
	}
}

func (db *DB) Close() {
	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return
	}
	db.closed = true
	syncMgr := db.sync
	db.mu.Unlock()

	if syncMgr != nil {
		syncMgr.Stop()
	}
	if db.gcStop != nil {
		close(db.gcStop)
		<-db.gcDone
	}
	db.Storage.Close()
}
