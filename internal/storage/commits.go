package storage

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"

	"github.com/tidemark-io/tidemark-db/pkg/crypt"
	"github.com/tidemark-io/tidemark-db/pkg/types"
)

// ComputeCommitID hashes a commit's serialized fields. Parents are sorted
// first so every device serializes the same commit identically.
func ComputeCommitID(parents []types.CommitID, root types.ObjectID, ts types.Timestamp) types.CommitID {
	sorted := make([]types.CommitID, len(parents))
	copy(sorted, parents)
	types.SortHashes(sorted)

	var buf bytes.Buffer
	for _, p := range sorted {
		buf.Write(p[:])
	}
	buf.Write(root[:])
	buf.Write(ts.Bytes())

	return crypt.SHA256WithLengthHash(buf.Bytes())
}

func (s *Storage) CreateCommit(ctx context.Context, page types.PageID, parents []types.CommitID, root types.ObjectID) (types.Commit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ts types.Timestamp
	ts.SetToNow()

	return s.createCommitLocked(page, parents, root, ts, true)
}

// createCommitLocked persists a commit and maintains the head set and the
// local sequence log. Callers hold s.mu.
func (s *Storage) createCommitLocked(page types.PageID, parents []types.CommitID, root types.ObjectID, ts types.Timestamp, local bool) (types.Commit, error) {
	sorted := make([]types.CommitID, len(parents))
	copy(sorted, parents)
	types.SortHashes(sorted)

	for _, parent := range sorted {
		exists, err := s.kv.BatchCheckKeyExistence([][]byte{commitKey(page, parent)})
		if err != nil {
			return types.Commit{}, err
		}
		if !exists[string(commitKey(page, parent))] {
			return types.Commit{}, types.NewError(types.StatusInvalidArgument,
				fmt.Sprintf("parent commit %s unknown locally", parent))
		}
	}

	commit := types.Commit{
		ID:        ComputeCommitID(sorted, root, ts),
		Parents:   sorted,
		Root:      root,
		Timestamp: ts,
	}

	existing, err := s.kv.BatchCheckKeyExistence([][]byte{commitKey(page, commit.ID)})
	if err != nil {
		return types.Commit{}, err
	}
	if existing[string(commitKey(page, commit.ID))] {
		// Already present; content addressing makes this a no-op.
		return commit, nil
	}

	record, err := serialize(commitRecord{
		Parents:   commit.Parents,
		Root:      commit.Root,
		Timestamp: commit.Timestamp,
	})
	if err != nil {
		return types.Commit{}, types.WrapError(types.StatusInternalError, "encoding commit", err)
	}

	batch := [][2][]byte{
		{commitKey(page, commit.ID), record},
		{headKey(page, commit.ID), []byte{1}},
	}

	if local {
		seq, err := s.nextSeqLocked(page)
		if err != nil {
			return types.Commit{}, err
		}
		batch = append(batch, [2][]byte{seqLogKey(page, seq), commit.ID.Bytes()})

		seqBytes := make([]byte, 8)
		binary.LittleEndian.PutUint64(seqBytes, seq)
		batch = append(batch, [2][]byte{seqKey(page), seqBytes})
	}

	// The new commit supersedes its parents as heads. Head removal rides in
	// the same transaction as the commit, so a crash cannot leave a parent
	// and its child both listed as heads.
	deletes := make([][]byte, 0, len(commit.Parents))
	for _, parent := range commit.Parents {
		deletes = append(deletes, headKey(page, parent))
	}

	if err := s.kv.WriteBatchWithDeletes(batch, deletes); err != nil {
		return types.Commit{}, err
	}

	return commit, nil
}

func (s *Storage) nextSeqLocked(page types.PageID) (uint64, error) {
	current, err := s.kv.Read(seqKey(page))
	if err != nil {
		if types.StatusOf(err) == types.StatusNotFound {
			return 1, nil
		}
		return 0, err
	}
	return binary.LittleEndian.Uint64(current) + 1, nil
}

// ApplyRemoteCommit ingests a commit from cloud sync. The id is recomputed
// from the fields; a mismatch means tampering or corruption and nothing is
// persisted.
func (s *Storage) ApplyRemoteCommit(ctx context.Context, page types.PageID, commit types.Commit, rootData []byte) error {
	if ComputeCommitID(commit.Parents, commit.Root, commit.Timestamp) != commit.ID {
		return types.NewError(types.StatusInvalidArgument,
			"remote commit id does not match its content")
	}

	rootID, err := s.PutObject(ctx, rootData)
	if err != nil {
		return err
	}
	if rootID != commit.Root {
		return types.NewError(types.StatusInvalidArgument,
			"remote commit root does not match its snapshot data")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.createCommitLocked(page, commit.Parents, commit.Root, commit.Timestamp, false)
	return err
}

func (s *Storage) GetCommit(ctx context.Context, page types.PageID, id types.CommitID) (types.Commit, error) {
	data, err := s.kv.Read(commitKey(page, id))
	if err != nil {
		return types.Commit{}, err
	}

	var record commitRecord
	if err := deserialize(data, &record); err != nil {
		return types.Commit{}, types.WrapError(types.StatusInternalError, "decoding commit", err)
	}

	return types.Commit{
		ID:        id,
		Parents:   record.Parents,
		Root:      record.Root,
		Timestamp: record.Timestamp,
	}, nil
}

func (s *Storage) GetHeads(ctx context.Context, page types.PageID) ([]types.CommitID, error) {
	items, err := s.kv.GetItemsWithPrefix(headPagePrefix(page))
	if err != nil {
		return nil, err
	}

	prefixLen := len(headPagePrefix(page))
	heads := make([]types.CommitID, 0, len(items))
	for _, kv := range items {
		id, err := types.HashFromHex(string(kv[0][prefixLen:]))
		if err != nil {
			return nil, types.WrapError(types.StatusInternalError, "decoding head key", err)
		}
		heads = append(heads, id)
	}

	types.SortHashes(heads)
	return heads, nil
}

// CommitsSince returns locally created commits after the given sequence
// position, oldest first. Remote commits never re-enter the upload queue.
func (s *Storage) CommitsSince(ctx context.Context, page types.PageID, position uint64) ([]types.Commit, uint64, error) {
	items, err := s.kv.GetItemsWithPrefix(seqLogPagePrefix(page))
	if err != nil {
		return nil, position, err
	}

	prefixLen := len(seqLogPagePrefix(page))
	newPosition := position

	var commits []types.Commit
	for _, kv := range items {
		var seq uint64
		if _, err := fmt.Sscanf(string(kv[0][prefixLen:]), "%020d", &seq); err != nil {
			return nil, position, types.WrapError(types.StatusInternalError, "decoding sequence key", err)
		}
		if seq <= position {
			continue
		}

		var id types.CommitID
		if err := id.HashFromBytes(kv[1]); err != nil {
			return nil, position, types.WrapError(types.StatusInternalError, "decoding sequence value", err)
		}

		commit, err := s.GetCommit(ctx, page, id)
		if err != nil {
			return nil, position, err
		}

		commits = append(commits, commit)
		if seq > newPosition {
			newPosition = seq
		}
	}

	return commits, newPosition, nil
}
