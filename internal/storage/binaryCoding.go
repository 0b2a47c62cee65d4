package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"

	"github.com/tidemark-io/tidemark-db/pkg/types"
)

// objectManifest lists the chunks an object was split into.
type objectManifest struct {
	Chunks []types.Hash
	Size   uint64
}

// commitRecord is the persisted form of a commit. The ID is not stored; it
// is recomputed from the fields on load, which keeps tampering detectable.
type commitRecord struct {
	Parents   []types.CommitID
	Root      types.ObjectID
	Timestamp types.Timestamp
}

func serialize(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, fmt.Errorf("gob encode: %w", err)
	}
	return buf.Bytes(), nil
}

func deserialize(data []byte, v interface{}) error {
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(v); err != nil {
		return fmt.Errorf("gob decode: %w", err)
	}
	return nil
}

// EncodeEntries writes a snapshot in canonical binary form: entries sorted
// by key, each length-prefixed. Canonical bytes mean canonical object ids,
// so two devices encoding the same view produce the same root.
func EncodeEntries(entries []types.Entry) ([]byte, error) {
	for i := 1; i < len(entries); i++ {
		if entries[i-1].Key >= entries[i].Key {
			return nil, types.NewError(types.StatusInvalidArgument,
				"entries not sorted by unique key")
		}
	}

	var buf bytes.Buffer

	countBytes := make([]byte, 4)
	binary.LittleEndian.PutUint32(countBytes, uint32(len(entries)))
	buf.Write(countBytes)

	lenBytes := make([]byte, 4)
	for _, e := range entries {
		binary.LittleEndian.PutUint32(lenBytes, uint32(len(e.Key)))
		buf.Write(lenBytes)
		buf.WriteString(e.Key)
		buf.Write(e.Object[:])
		buf.Write(e.Priority.Bytes())
	}

	return buf.Bytes(), nil
}

// DecodeEntries reverses EncodeEntries.
func DecodeEntries(data []byte) ([]types.Entry, error) {
	if len(data) < 4 {
		return nil, types.NewError(types.StatusInternalError, "snapshot too short")
	}

	count := binary.LittleEndian.Uint32(data[:4])
	data = data[4:]

	entries := make([]types.Entry, 0, count)
	for i := uint32(0); i < count; i++ {
		if len(data) < 4 {
			return nil, types.NewError(types.StatusInternalError, "truncated snapshot entry")
		}
		keyLen := binary.LittleEndian.Uint32(data[:4])
		data = data[4:]

		// Compared in uint64: a hostile keyLen near MaxUint32 must not wrap.
		if uint64(len(data)) < uint64(keyLen)+32+1 {
			return nil, types.NewError(types.StatusInternalError, "truncated snapshot entry")
		}

		var e types.Entry
		e.Key = string(data[:keyLen])
		data = data[keyLen:]

		copy(e.Object[:], data[:32])
		data = data[32:]

		if err := e.Priority.FromBytes(data[:1]); err != nil {
			return nil, types.WrapError(types.StatusInternalError, "snapshot priority", err)
		}
		data = data[1:]

		entries = append(entries, e)
	}

	if len(data) != 0 {
		return nil, types.NewError(types.StatusInternalError, "trailing bytes in snapshot")
	}

	return entries, nil
}
