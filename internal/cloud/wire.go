package cloud

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"

	"github.com/tidemark-io/tidemark-db/pkg/cloud"
	"github.com/tidemark-io/tidemark-db/pkg/types"
)

// Wire protocol shared by the QUIC provider client and cloudserverd.
// Each request uses its own QUIC stream. Frame format, both directions:
//
//	[1 byte verb/status][4 bytes big-endian length][zstd(gob(body))]
//
// Requests carry a verb byte; responses carry a status byte where 0 is
// success and any other value is a types.Status to surface to the
// caller.
const (
	ALPNProtocol = "tidemark-cloud"

	VerbUploadCommits = 0x01
	VerbGetCommits    = 0x02
	VerbUploadObject  = 0x03
	VerbGetObject     = 0x04
	VerbErase         = 0x05

	responseOK = 0x00

	maxFrameLength = 64 << 20
)

type UploadCommitsRequest struct {
	Page    types.PageID
	Commits []cloud.CommitRecord
}

type GetCommitsRequest struct {
	Page  types.PageID
	After []byte
}

type GetCommitsResponse struct {
	Commits  []cloud.CommitRecord
	Position []byte
}

type UploadObjectRequest struct {
	Page       types.PageID
	ID         types.ObjectID
	Ciphertext []byte
}

type GetObjectRequest struct {
	Page types.PageID
	ID   types.ObjectID
}

type GetObjectResponse struct {
	Ciphertext []byte
}

type ErrorResponse struct {
	Message string
}

// WriteFrame gob-encodes body, compresses it and writes a single frame.
// A nil body writes an empty frame.
func WriteFrame(w io.Writer, tag byte, body interface{}) error {
	var payload []byte
	if body != nil {
		var buf bytes.Buffer
		if err := gob.NewEncoder(&buf).Encode(body); err != nil {
			return fmt.Errorf("encode frame body: %w", err)
		}
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return fmt.Errorf("create compressor: %w", err)
		}
		payload = enc.EncodeAll(buf.Bytes(), nil)
		_ = enc.Close()
	}
	if len(payload) > maxFrameLength {
		return fmt.Errorf("frame too large: %d bytes", len(payload))
	}

	header := make([]byte, 5)
	header[0] = tag
	binary.BigEndian.PutUint32(header[1:], uint32(len(payload)))
	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("write frame header: %w", err)
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return fmt.Errorf("write frame payload: %w", err)
		}
	}
	return nil
}

// ReadFrame reads one frame and returns its tag byte and raw
// compressed payload.
func ReadFrame(r io.Reader) (byte, []byte, error) {
	header := make([]byte, 5)
	if _, err := io.ReadFull(r, header); err != nil {
		return 0, nil, fmt.Errorf("read frame header: %w", err)
	}
	length := binary.BigEndian.Uint32(header[1:])
	if length > maxFrameLength {
		return 0, nil, fmt.Errorf("frame too large: %d bytes", length)
	}
	var payload []byte
	if length > 0 {
		payload = make([]byte, length)
		if _, err := io.ReadFull(r, payload); err != nil {
			return 0, nil, fmt.Errorf("read frame payload: %w", err)
		}
	}
	return header[0], payload, nil
}

// DecodeFrame decompresses and gob-decodes a frame payload into body.
func DecodeFrame(payload []byte, body interface{}) error {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return fmt.Errorf("create decompressor: %w", err)
	}
	defer dec.Close()
	raw, err := dec.DecodeAll(payload, nil)
	if err != nil {
		return fmt.Errorf("decompress frame: %w", err)
	}
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(body); err != nil {
		return fmt.Errorf("decode frame body: %w", err)
	}
	return nil
}

// ResponseError converts a non-OK response frame back into the error
// the server reported.
func ResponseError(status byte, payload []byte) error {
	msg := "remote error"
	var er ErrorResponse
	if len(payload) > 0 && DecodeFrame(payload, &er) == nil && er.Message != "" {
		msg = er.Message
	}
	st := types.Status(status)
	if st == types.StatusOK || st.String() == "UNKNOWN" {
		st = types.StatusInternalError
	}
	return types.NewError(st, msg)
}
