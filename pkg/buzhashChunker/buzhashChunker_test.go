package buzhashchunker

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidemark-io/tidemark-db/pkg/crypt"
)

func TestChunkBytes_Reassembles(t *testing.T) {
	data := make([]byte, 1<<20)
	for i := range data {
		data[i] = byte(i * 31)
	}

	chunks, err := ChunkBytes(data)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	var reassembled []byte
	for _, c := range chunks {
		assert.Equal(t, crypt.SHA256WithLengthHash(c.Data), c.Hash)
		assert.Equal(t, uint32(len(c.Data)), c.DataLength)
		reassembled = append(reassembled, c.Data...)
	}

	assert.True(t, bytes.Equal(data, reassembled))
}

func TestChunkBytes_Deterministic(t *testing.T) {
	data := bytes.Repeat([]byte("tidemark"), 1<<16)

	first, err := ChunkBytes(data)
	require.NoError(t, err)
	second, err := ChunkBytes(data)
	require.NoError(t, err)

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].Hash, second[i].Hash)
	}
}

func TestChunkBytes_Empty(t *testing.T) {
	chunks, err := ChunkBytes(nil)
	require.NoError(t, err)
	assert.Empty(t, chunks)
}
