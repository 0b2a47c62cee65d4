// Package keyValStore wraps the badger key-value store that backs all
// persistent state of TidemarkDB: objects, chunks, commits and sync
// metadata.
package keyValStore

import (
	"encoding/hex"
	"fmt"
	"runtime"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"github.com/tidemark-io/tidemark-db/pkg/types"
)

// FormatVersion is stamped into the store on first open. A store written by
// a different format refuses to open instead of misinterpreting bytes.
const FormatVersion = "29"

var versionKey = []byte("tidemark:format-version")

type StoreConfig struct {
	Paths            []string // at the moment only the first path is used
	MinimumFreeSpace int      // in GB
	Logger           *logrus.Logger
}

type KeyValStore struct {
	config       StoreConfig
	log          *logrus.Logger
	badgerDB     *badger.DB
	readCounter  uint64
	writeCounter uint64
}

func NewKeyValStore(config StoreConfig) (*KeyValStore, error) {
	if config.Logger == nil {
		config.Logger = logrus.New()
	}

	if err := config.checkConfig(); err != nil {
		return nil, fmt.Errorf("error checking config for KeyValStore: %w", err)
	}

	opts := badger.DefaultOptions(config.Paths[0])
	opts.Logger = nil
	opts.ValueLogFileSize = 1024 * 1024 * 100
	opts.SyncWrites = false

	db, err := badger.Open(opts)
	if err != nil {
		return nil, types.WrapError(types.StatusIOError, "open badger store", err)
	}

	k := &KeyValStore{
		config:   config,
		log:      config.Logger,
		badgerDB: db,
	}

	if err := k.checkFormatVersion(); err != nil {
		db.Close()
		return nil, err
	}

	if err := displayDiskUsage(config.Logger, config.Paths); err != nil {
		k.log.Warnf("could not read disk usage: %v", err)
	}

	return k, nil
}

// checkFormatVersion stamps a fresh store and refuses a mismatched one.
func (k *KeyValStore) checkFormatVersion() error {
	stored, err := k.Read(versionKey)
	if err != nil {
		if types.StatusOf(err) == types.StatusNotFound {
			return k.Write(versionKey, []byte(FormatVersion))
		}
		return err
	}

	if string(stored) != FormatVersion {
		return types.NewError(types.StatusIOError, fmt.Sprintf(
			"storage format version mismatch: store has %q, this build expects %q",
			stored, FormatVersion))
	}

	return nil
}

func (k *KeyValStore) Write(key []byte, content []byte) error {
	atomic.AddUint64(&k.writeCounter, 1)

	err := k.badgerDB.Update(func(txn *badger.Txn) error {
		return txn.Set(key, content)
	})
	if err != nil {
		return types.WrapError(types.StatusIOError,
			"writing key "+hex.EncodeToString(key), err)
	}
	return nil
}

func (k *KeyValStore) WriteBatch(batch [][2][]byte) error {
	err := k.badgerDB.Update(func(txn *badger.Txn) error {
		for _, kv := range batch {
			atomic.AddUint64(&k.writeCounter, 1)
			if err := txn.Set(kv[0], kv[1]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return types.WrapError(types.StatusIOError, "writing batch", err)
	}
	return nil
}

// WriteBatchWithDeletes applies the writes and the deletes in a single
// transaction, so a crash never leaves the writes visible without the
// deletes.
func (k *KeyValStore) WriteBatchWithDeletes(writes [][2][]byte, deletes [][]byte) error {
	err := k.badgerDB.Update(func(txn *badger.Txn) error {
		for _, kv := range writes {
			atomic.AddUint64(&k.writeCounter, 1)
			if err := txn.Set(kv[0], kv[1]); err != nil {
				return err
			}
		}
		for _, key := range deletes {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return types.WrapError(types.StatusIOError, "writing batch with deletes", err)
	}
	return nil
}

// BatchWriteNonExisting skips keys that are already present, which is what
// makes content-addressed writes idempotent.
func (k *KeyValStore) BatchWriteNonExisting(batch [][2][]byte) error {
	var keys [][]byte
	for _, kv := range batch {
		keys = append(keys, kv[0])
	}

	existsMap, err := k.BatchCheckKeyExistence(keys)
	if err != nil {
		return fmt.Errorf("error checking key existence: %w", err)
	}

	wb := k.badgerDB.NewWriteBatch()
	defer wb.Cancel()

	for _, kv := range batch {
		if existsMap[string(kv[0])] {
			continue
		}
		atomic.AddUint64(&k.writeCounter, 1)
		if err := wb.Set(kv[0], kv[1]); err != nil {
			return types.WrapError(types.StatusIOError, "writing non-existing key", err)
		}
	}

	if err := wb.Flush(); err != nil {
		return types.WrapError(types.StatusIOError, "flushing batch", err)
	}
	return nil
}

func (k *KeyValStore) BatchCheckKeyExistence(keys [][]byte) (map[string]bool, error) {
	existsMap := make(map[string]bool)

	err := k.badgerDB.View(func(txn *badger.Txn) error {
		for _, key := range keys {
			atomic.AddUint64(&k.readCounter, 1)
			_, err := txn.Get(key)
			if err != nil {
				if err == badger.ErrKeyNotFound {
					existsMap[string(key)] = false
				} else {
					return err
				}
			} else {
				existsMap[string(key)] = true
			}
		}
		return nil
	})
	if err != nil {
		return nil, types.WrapError(types.StatusIOError, "checking key existence", err)
	}

	return existsMap, nil
}

func (k *KeyValStore) Read(key []byte) ([]byte, error) {
	atomic.AddUint64(&k.readCounter, 1)

	var value []byte
	err := k.badgerDB.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if err == badger.ErrKeyNotFound {
		return nil, types.NewError(types.StatusNotFound,
			"key "+hex.EncodeToString(key))
	}
	if err != nil {
		return nil, types.WrapError(types.StatusIOError,
			"reading key "+hex.EncodeToString(key), err)
	}
	return value, nil
}

func (k *KeyValStore) Delete(key []byte) error {
	err := k.badgerDB.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
	if err != nil {
		return types.WrapError(types.StatusIOError,
			"deleting key "+hex.EncodeToString(key), err)
	}
	return nil
}

// GetItemsWithPrefix returns all keys and values with the given prefix.
func (k *KeyValStore) GetItemsWithPrefix(prefix []byte) ([][][]byte, error) {
	var keysAndValues [][][]byte
	atomic.AddUint64(&k.readCounter, 1)

	err := k.badgerDB.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key := item.KeyCopy(nil)
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			keysAndValues = append(keysAndValues, [][]byte{key, value})
		}
		return nil
	})
	if err != nil {
		return nil, types.WrapError(types.StatusIOError, "prefix scan", err)
	}
	return keysAndValues, nil
}

func (k *KeyValStore) Close() {
	if err := k.Clean(); err != nil {
		k.log.Warnf("cleanup on close failed: %v", err)
	}
	k.badgerDB.Close()
}

func (k *KeyValStore) Clean() error {
	if err := k.badgerDB.Sync(); err != nil {
		return fmt.Errorf("error syncing db: %w", err)
	}

	if err := k.badgerDB.Flatten(runtime.NumCPU()); err != nil {
		return fmt.Errorf("error flattening db: %w", err)
	}

	if err := k.badgerDB.RunValueLogGC(0.1); err != nil {
		if err != badger.ErrNoRewrite {
			return fmt.Errorf("error cleaning db: %w", err)
		}
	}

	return nil
}
