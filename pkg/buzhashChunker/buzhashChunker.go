// Package buzhashchunker splits object payloads into content-defined chunks
// so unchanged regions of a value deduplicate across commits and devices.
package buzhashchunker

import (
	"bytes"
	"fmt"
	"io"

	chunker "github.com/ipfs/boxo/chunker"

	"github.com/tidemark-io/tidemark-db/pkg/crypt"
	"github.com/tidemark-io/tidemark-db/pkg/types"
)

type ChunkData struct {
	Hash       types.Hash
	Data       []byte
	DataLength uint32
}

func ChunkBytes(data []byte) ([]ChunkData, error) {
	return ChunkReader(bytes.NewReader(data))
}

// ChunkReader splits the stream at buzhash boundaries and hashes each chunk.
// Chunk order follows stream order.
func ChunkReader(reader io.Reader) ([]ChunkData, error) {
	bz := chunker.NewBuzhash(reader)

	var chunks []ChunkData
	for {
		chunk, err := bz.NextBytes()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error reading chunk: %w", err)
		}

		chunks = append(chunks, ChunkData{
			Hash:       crypt.SHA256WithLengthHash(chunk),
			Data:       chunk,
			DataLength: uint32(len(chunk)),
		})
	}

	return chunks, nil
}

func (c ChunkData) PrettyPrint() string {
	return fmt.Sprintf("ChunkData{Hash: %s, Data(length): %d}", c.Hash, len(c.Data))
}
