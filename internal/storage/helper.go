package storage

import (
	"encoding/hex"

	"github.com/tidemark-io/tidemark-db/pkg/types"
)

const (
	chunkPrefix    = "Chunk:"
	objectPrefix   = "Object:"
	commitPrefix   = "Commit:"
	headPrefix     = "Head:"
	seqPrefix      = "Seq:"
	seqLogPrefix   = "SeqLog:"
	syncMetaPrefix = "SyncMeta:"
)

func generateKeyFromPrefixAndHash(prefix string, hash types.Hash) []byte {
	return append([]byte(prefix), []byte(hex.EncodeToString(hash[:]))...)
}

func chunkKey(hash types.Hash) []byte {
	return generateKeyFromPrefixAndHash(chunkPrefix, hash)
}

func objectKey(id types.ObjectID) []byte {
	return generateKeyFromPrefixAndHash(objectPrefix, id)
}

func commitKey(page types.PageID, id types.CommitID) []byte {
	key := append([]byte(commitPrefix), []byte(page.String())...)
	key = append(key, ':')
	return append(key, []byte(id.String())...)
}

func commitPagePrefix(page types.PageID) []byte {
	key := append([]byte(commitPrefix), []byte(page.String())...)
	return append(key, ':')
}

func headKey(page types.PageID, id types.CommitID) []byte {
	key := append([]byte(headPrefix), []byte(page.String())...)
	key = append(key, ':')
	return append(key, []byte(id.String())...)
}

func headPagePrefix(page types.PageID) []byte {
	key := append([]byte(headPrefix), []byte(page.String())...)
	return append(key, ':')
}

func seqKey(page types.PageID) []byte {
	return append([]byte(seqPrefix), []byte(page.String())...)
}

func seqLogKey(page types.PageID, seq uint64) []byte {
	key := append([]byte(seqLogPrefix), []byte(page.String())...)
	key = append(key, ':')
	return append(key, []byte(formatSeq(seq))...)
}

func seqLogPagePrefix(page types.PageID) []byte {
	key := append([]byte(seqLogPrefix), []byte(page.String())...)
	return append(key, ':')
}

func syncMetaKey(page types.PageID, key string) []byte {
	k := append([]byte(syncMetaPrefix), []byte(page.String())...)
	k = append(k, ':')
	return append(k, []byte(key)...)
}

// formatSeq renders a sequence number as a fixed-width decimal so the badger
// key order equals the numeric order.
func formatSeq(seq uint64) string {
	const width = 20
	buf := [width]byte{}
	for i := width - 1; i >= 0; i-- {
		buf[i] = byte('0' + seq%10)
		seq /= 10
	}
	return string(buf[:])
}
