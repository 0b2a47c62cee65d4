package types

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// Hash is the fixed 32-byte SHA-256 based digest that identifies objects and
// commits. Content addressing means the digest is derived from the bytes it
// names, so two devices storing the same data arrive at the same Hash.
type Hash [32]byte

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

func (h Hash) Bytes() []byte {
	return h[:]
}

func (h *Hash) HashFromBytes(b []byte) error {
	if len(b) != 32 {
		return fmt.Errorf("invalid byte length for Hash: %d", len(b))
	}
	copy(h[:], b)
	return nil
}

func HashFromHex(s string) (Hash, error) {
	var h Hash
	b, err := hex.DecodeString(s)
	if err != nil {
		return Hash{}, fmt.Errorf("invalid hex for Hash: %w", err)
	}
	if err := h.HashFromBytes(b); err != nil {
		return Hash{}, err
	}
	return h, nil
}

// ObjectID names an immutable content-addressed blob.
type ObjectID = Hash

// CommitID names a commit in a page's DAG.
type CommitID = Hash

// PageID identifies a page, a logical key-value namespace that syncs
// independently. The all-zero id is reserved for the default/root page.
type PageID [16]byte

func (p PageID) String() string {
	return hex.EncodeToString(p[:])
}

func (p PageID) Bytes() []byte {
	return p[:]
}

func (p PageID) IsRoot() bool {
	return p == PageID{}
}

func (p *PageID) PageIDFromBytes(b []byte) error {
	if len(b) != 16 {
		return fmt.Errorf("invalid byte length for PageID: %d", len(b))
	}
	copy(p[:], b)
	return nil
}

// Priority defines how eagerly an entry's object is replicated. Eager objects
// are pushed with the commit, Lazy objects are fetched on first read.
type Priority int

const (
	Eager Priority = iota
	Lazy
)

func (p Priority) String() string {
	switch p {
	case Eager:
		return "Eager"
	case Lazy:
		return "Lazy"
	}
	return "Unknown"
}

func (p Priority) Bytes() []byte {
	return []byte{byte(p)}
}

func (p *Priority) FromBytes(b []byte) error {
	if len(b) != 1 {
		return fmt.Errorf("invalid byte length for Priority: %d", len(b))
	}
	*p = Priority(b[0])
	return nil
}

// Timestamp is a unix timestamp in nanoseconds. Device clocks are not
// trusted for ordering, only for human-facing display; ordering disputes are
// settled by commit hash.
type Timestamp int64

func (t Timestamp) Bytes() []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, uint64(t))
	return b
}

func (t Timestamp) String() string {
	return strconv.FormatInt(int64(t), 10)
}

func (t Timestamp) Time() time.Time {
	return time.Unix(0, int64(t))
}

func (t *Timestamp) SetToNow() {
	*t = Timestamp(time.Now().UnixNano())
}

// SortHashes orders digests lexicographically in place. Both devices of a
// sync pair must serialize parent lists identically, so every multi-parent
// list goes through this before hashing.
func SortHashes(hashes []Hash) {
	for i := 1; i < len(hashes); i++ {
		for j := i; j > 0 && bytes.Compare(hashes[j][:], hashes[j-1][:]) < 0; j-- {
			hashes[j], hashes[j-1] = hashes[j-1], hashes[j]
		}
	}
}
