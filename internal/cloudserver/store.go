package cloudserver

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"encoding/hex"
	"fmt"
	"io"
	"sync"

	"github.com/ulikunitz/xz/lzma"

	"github.com/tidemark-io/tidemark-db/internal/keyValStore"
	"github.com/tidemark-io/tidemark-db/pkg/cloud"
	"github.com/tidemark-io/tidemark-db/pkg/types"
)

// Key layout in the server's store. Commit logs are append-only per
// page; the sequence counter gives every page a dense, ordered index
// that doubles as the position cursor handed back to devices.
const (
	commitLogPrefix  = "CloudCommit:"
	commitSeenPrefix = "CloudSeen:"
	commitSeqPrefix  = "CloudSeq:"
	objectPrefix     = "CloudObject:"
)

// store persists relayed commits and objects. Payloads are lzma
// compressed at rest; they are already encrypted by the device, so the
// ratio is modest, but commit metadata and gob framing compress well.
type store struct {
	kv *keyValStore.KeyValStore
	mu sync.Mutex
}

func newStore(kv *keyValStore.KeyValStore) *store {
	return &store{kv: kv}
}

func pageHex(page types.PageID) string {
	return hex.EncodeToString(page[:])
}

func commitLogKey(page types.PageID, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d", commitLogPrefix, pageHex(page), seq))
}

func commitSeenKey(page types.PageID, id types.CommitID) []byte {
	return []byte(commitSeenPrefix + pageHex(page) + ":" + id.String())
}

func commitSeqKey(page types.PageID) []byte {
	return []byte(commitSeqPrefix + pageHex(page))
}

func objectKey(page types.PageID, id types.ObjectID) []byte {
	return []byte(objectPrefix + pageHex(page) + ":" + id.String())
}

func compressRecord(rec cloud.CommitRecord) ([]byte, error) {
	var raw bytes.Buffer
	if err := gob.NewEncoder(&raw).Encode(rec); err != nil {
		return nil, types.WrapError(types.StatusInternalError, "encode commit record", err)
	}
	var out bytes.Buffer
	w, err := lzma.NewWriter(&out)
	if err != nil {
		return nil, types.WrapError(types.StatusInternalError, "create lzma writer", err)
	}
	if _, err := w.Write(raw.Bytes()); err != nil {
		return nil, types.WrapError(types.StatusInternalError, "compress commit record", err)
	}
	if err := w.Close(); err != nil {
		return nil, types.WrapError(types.StatusInternalError, "flush lzma writer", err)
	}
	return out.Bytes(), nil
}

func decompressRecord(data []byte) (cloud.CommitRecord, error) {
	var rec cloud.CommitRecord
	r, err := lzma.NewReader(bytes.NewReader(data))
	if err != nil {
		return rec, types.WrapError(types.StatusIOError, "create lzma reader", err)
	}
	raw, err := io.ReadAll(r)
	if err != nil {
		return rec, types.WrapError(types.StatusIOError, "decompress commit record", err)
	}
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&rec); err != nil {
		return rec, types.WrapError(types.StatusIOError, "decode commit record", err)
	}
	return rec, nil
}

func compressBlob(data []byte) ([]byte, error) {
	var out bytes.Buffer
	w, err := lzma.NewWriter(&out)
	if err != nil {
		return nil, types.WrapError(types.StatusInternalError, "create lzma writer", err)
	}
	if _, err := w.Write(data); err != nil {
		return nil, types.WrapError(types.StatusInternalError, "compress blob", err)
	}
	if err := w.Close(); err != nil {
		return nil, types.WrapError(types.StatusInternalError, "flush lzma writer", err)
	}
	return out.Bytes(), nil
}

func decompressBlob(data []byte) ([]byte, error) {
	r, err := lzma.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, types.WrapError(types.StatusIOError, "create lzma reader", err)
	}
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, types.WrapError(types.StatusIOError, "decompress blob", err)
	}
	return raw, nil
}

func (s *store) seqLocked(page types.PageID) (uint64, error) {
	data, err := s.kv.Read(commitSeqKey(page))
	if err != nil {
		if types.StatusOf(err) == types.StatusNotFound {
			return 0, nil
		}
		return 0, err
	}
	return binary.LittleEndian.Uint64(data), nil
}

// appendCommits adds the not-yet-seen records to the page's log.
// Re-uploads of known commits are silently skipped.
func (s *store) appendCommits(page types.PageID, commits []cloud.CommitRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	seq, err := s.seqLocked(page)
	if err != nil {
		return err
	}

	var batch [][2][]byte
	batched := make(map[types.CommitID]bool)
	for _, rec := range commits {
		if batched[rec.ID] {
			continue
		}
		seenKey := commitSeenKey(page, rec.ID)
		exists, err := s.kv.BatchCheckKeyExistence([][]byte{seenKey})
		if err != nil {
			return err
		}
		if exists[string(seenKey)] {
			continue
		}
		packed, err := compressRecord(rec)
		if err != nil {
			return err
		}
		batch = append(batch,
			[2][]byte{commitLogKey(page, seq), packed},
			[2][]byte{seenKey, {}})
		batched[rec.ID] = true
		seq++
	}
	if len(batch) == 0 {
		return nil
	}

	seqBytes := make([]byte, 8)
	binary.LittleEndian.PutUint64(seqBytes, seq)
	batch = append(batch, [2][]byte{commitSeqKey(page), seqBytes})

	return s.kv.WriteBatch(batch)
}

// commitsAfter returns the log entries past the given cursor and the
// cursor just beyond the last returned entry.
func (s *store) commitsAfter(page types.PageID, after []byte) ([]cloud.CommitRecord, []byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := uint64(0)
	if len(after) == 8 {
		start = binary.LittleEndian.Uint64(after)
	}
	end, err := s.seqLocked(page)
	if err != nil {
		return nil, nil, err
	}
	if start > end {
		start = end
	}

	out := make([]cloud.CommitRecord, 0, end-start)
	for seq := start; seq < end; seq++ {
		data, err := s.kv.Read(commitLogKey(page, seq))
		if err != nil {
			return nil, nil, err
		}
		rec, err := decompressRecord(data)
		if err != nil {
			return nil, nil, err
		}
		out = append(out, rec)
	}

	pos := make([]byte, 8)
	binary.LittleEndian.PutUint64(pos, end)
	return out, pos, nil
}

func (s *store) putObject(page types.PageID, id types.ObjectID, ciphertext []byte) error {
	packed, err := compressBlob(ciphertext)
	if err != nil {
		return err
	}
	return s.kv.BatchWriteNonExisting([][2][]byte{{objectKey(page, id), packed}})
}

func (s *store) getObject(page types.PageID, id types.ObjectID) ([]byte, error) {
	data, err := s.kv.Read(objectKey(page, id))
	if err != nil {
		return nil, err
	}
	return decompressBlob(data)
}

// erase drops every relayed commit and object.
func (s *store) erase() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, prefix := range []string{commitLogPrefix, commitSeenPrefix, commitSeqPrefix, objectPrefix} {
		items, err := s.kv.GetItemsWithPrefix([]byte(prefix))
		if err != nil {
			return err
		}
		for _, kv := range items {
			if err := s.kv.Delete(kv[0]); err != nil {
				return err
			}
		}
	}
	return nil
}
