// Package storage implements the content-addressed object store and per-page
// commit DAG of TidemarkDB on top of the badger key-value store.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/tidemark-io/tidemark-db/internal/keyValStore"
	"github.com/tidemark-io/tidemark-db/pkg/buzhashChunker"
	"github.com/tidemark-io/tidemark-db/pkg/crypt"
	"github.com/tidemark-io/tidemark-db/pkg/storage"
	"github.com/tidemark-io/tidemark-db/pkg/types"
	workerpool "github.com/tidemark-io/tidemark-db/pkg/workerPool"
)

type Storage struct {
	kv *keyValStore.KeyValStore
	wp *workerpool.WorkerPool

	// Serializes DAG mutations, object puts and garbage collection. Sync
	// runs one actor per page, but the local API has no such guarantee.
	mu sync.Mutex

	// Objects put by this process that no commit references yet. The
	// garbage collector treats them as reachable until it sees a commit
	// referencing them; a restart clears the set, so abandoned puts are
	// collected on the next cycle after reopen.
	pinMu  sync.Mutex
	pinned map[types.ObjectID]bool
}

func NewStorage(kv *keyValStore.KeyValStore, wp *workerpool.WorkerPool) *Storage {
	return &Storage{
		kv:     kv,
		wp:     wp,
		pinned: make(map[types.ObjectID]bool),
	}
}

func (s *Storage) Close() {
	s.kv.Close()
}

// PutObject splits data into content-defined chunks, compresses and persists
// the ones not already present, then persists a manifest under the object's
// content-derived id.
func (s *Storage) PutObject(ctx context.Context, data []byte) (types.ObjectID, error) {
	if data == nil {
		return types.ObjectID{}, types.NewError(types.StatusInvalidArgument,
			"cannot store nil object")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := crypt.SHA256WithLengthHash(data)

	// Pinned before any write lands, so the object survives garbage
	// collection until a commit references it.
	s.pinMu.Lock()
	s.pinned[id] = true
	s.pinMu.Unlock()

	exists, err := s.kv.BatchCheckKeyExistence([][]byte{objectKey(id)})
	if err != nil {
		return types.ObjectID{}, err
	}
	if exists[string(objectKey(id))] {
		// Content addressing makes the second put of the same bytes a no-op.
		return id, nil
	}

	chunks, err := buzhashchunker.ChunkBytes(data)
	if err != nil {
		return types.ObjectID{}, types.WrapError(types.StatusInternalError, "chunking object", err)
	}

	room := s.wp.CreateRoom(100)
	room.AsyncCollector()

	for _, chunkTmp := range chunks {
		chunk := chunkTmp
		room.NewTaskWaitForFreeSlot(func() interface{} {
			compressed, err := compressChunk(chunk.Data)
			if err != nil {
				return err
			}
			return [2][]byte{chunkKey(chunk.Hash), compressed}
		})
	}

	results, err := room.GetAsyncResults()
	if err != nil {
		return types.ObjectID{}, types.WrapError(types.StatusInternalError, "compressing chunks", err)
	}

	batch := make([][2][]byte, 0, len(results))
	for _, r := range results {
		switch v := r.(type) {
		case error:
			return types.ObjectID{}, types.WrapError(types.StatusInternalError, "compressing chunk", v)
		case [2][]byte:
			batch = append(batch, v)
		}
	}

	if err := s.kv.BatchWriteNonExisting(batch); err != nil {
		return types.ObjectID{}, err
	}

	manifest := objectManifest{Size: uint64(len(data))}
	for _, chunk := range chunks {
		manifest.Chunks = append(manifest.Chunks, chunk.Hash)
	}

	manifestBytes, err := serialize(manifest)
	if err != nil {
		return types.ObjectID{}, types.WrapError(types.StatusInternalError, "encoding manifest", err)
	}

	if err := s.kv.Write(objectKey(id), manifestBytes); err != nil {
		return types.ObjectID{}, err
	}

	return id, nil
}

func (s *Storage) GetObject(ctx context.Context, id types.ObjectID) ([]byte, error) {
	manifestBytes, err := s.kv.Read(objectKey(id))
	if err != nil {
		return nil, err
	}

	var manifest objectManifest
	if err := deserialize(manifestBytes, &manifest); err != nil {
		return nil, types.WrapError(types.StatusInternalError, "decoding manifest", err)
	}

	data := make([]byte, 0, manifest.Size)
	for _, chunkHash := range manifest.Chunks {
		compressed, err := s.kv.Read(chunkKey(chunkHash))
		if err != nil {
			return nil, fmt.Errorf("reading chunk of object %s: %w", id, err)
		}

		chunk, err := decompressChunk(compressed)
		if err != nil {
			return nil, types.WrapError(types.StatusInternalError, "decompressing chunk", err)
		}

		data = append(data, chunk...)
	}

	if crypt.SHA256WithLengthHash(data) != id {
		return nil, types.NewError(types.StatusInternalError,
			"object content does not match its id")
	}

	return data, nil
}

func (s *Storage) GetEntries(ctx context.Context, root types.ObjectID) ([]types.Entry, error) {
	data, err := s.GetObject(ctx, root)
	if err != nil {
		return nil, err
	}
	return DecodeEntries(data)
}

func (s *Storage) GetSyncMetadata(ctx context.Context, page types.PageID, key string) ([]byte, error) {
	return s.kv.Read(syncMetaKey(page, key))
}

func (s *Storage) SetSyncMetadata(ctx context.Context, page types.PageID, key string, value []byte) error {
	return s.kv.Write(syncMetaKey(page, key), value)
}

var _ storage.StorageService = (*Storage)(nil)

func compressChunk(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf)
	if err != nil {
		return nil, err
	}
	if _, err := enc.Write(data); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompressChunk(data []byte) ([]byte, error) {
	dec, err := zstd.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	return io.ReadAll(dec)
}
