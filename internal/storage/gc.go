package storage

import (
	"context"

	"github.com/tidemark-io/tidemark-db/pkg/types"
)

// GarbageCollect drops objects and chunks unreachable from any commit of any
// page, then compacts the underlying store. The DAG is append-only, so
// everything referenced by a commit is reachable and cycles cannot occur.
func (s *Storage) GarbageCollect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	reachableObjects := make(map[string]bool)
	reachableChunks := make(map[string]bool)

	commits, err := s.kv.GetItemsWithPrefix([]byte(commitPrefix))
	if err != nil {
		return err
	}

	for _, kv := range commits {
		var record commitRecord
		if err := deserialize(kv[1], &record); err != nil {
			return types.WrapError(types.StatusInternalError, "decoding commit during gc", err)
		}

		if err := s.markObject(record.Root, reachableObjects, reachableChunks); err != nil {
			return err
		}

		// Snapshot roots reference the value objects of their entries.
		entries, err := s.GetEntries(ctx, record.Root)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if err := s.markObject(e.Object, reachableObjects, reachableChunks); err != nil {
				return err
			}
		}
	}

	// Objects put by a still-running operation are reachable even though no
	// commit references them yet. Pins for objects a commit now covers are
	// released after the sweep.
	s.pinMu.Lock()
	pins := make([]types.ObjectID, 0, len(s.pinned))
	for id := range s.pinned {
		pins = append(pins, id)
	}
	s.pinMu.Unlock()

	var committed []types.ObjectID
	for _, id := range pins {
		if reachableObjects[string(objectKey(id))] {
			committed = append(committed, id)
			continue
		}
		if err := s.markObject(id, reachableObjects, reachableChunks); err != nil {
			return err
		}
	}

	if err := s.sweepPrefix(objectPrefix, reachableObjects); err != nil {
		return err
	}
	if err := s.sweepPrefix(chunkPrefix, reachableChunks); err != nil {
		return err
	}

	s.pinMu.Lock()
	for _, id := range committed {
		delete(s.pinned, id)
	}
	s.pinMu.Unlock()

	return s.kv.Clean()
}

func (s *Storage) markObject(id types.ObjectID, objects, chunks map[string]bool) error {
	key := string(objectKey(id))
	if objects[key] {
		return nil
	}
	objects[key] = true

	manifestBytes, err := s.kv.Read(objectKey(id))
	if err != nil {
		if types.StatusOf(err) == types.StatusNotFound {
			// Lazy entries may reference objects that were never fetched
			// from the cloud. Nothing local to mark.
			return nil
		}
		return err
	}

	var manifest objectManifest
	if err := deserialize(manifestBytes, &manifest); err != nil {
		return types.WrapError(types.StatusInternalError, "decoding manifest during gc", err)
	}

	for _, chunkHash := range manifest.Chunks {
		chunks[string(chunkKey(chunkHash))] = true
	}

	return nil
}

func (s *Storage) sweepPrefix(prefix string, reachable map[string]bool) error {
	items, err := s.kv.GetItemsWithPrefix([]byte(prefix))
	if err != nil {
		return err
	}

	for _, kv := range items {
		if reachable[string(kv[0])] {
			continue
		}
		if err := s.kv.Delete(kv[0]); err != nil {
			return err
		}
	}

	return nil
}
