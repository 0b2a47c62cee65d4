package cloud

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidemark-io/tidemark-db/pkg/cloud"
	"github.com/tidemark-io/tidemark-db/pkg/types"
)

func testPage(b byte) types.PageID {
	var p types.PageID
	p[0] = b
	return p
}

func testRecord(b byte) cloud.CommitRecord {
	var id types.CommitID
	id[0] = b
	var root types.ObjectID
	root[31] = b
	return cloud.CommitRecord{
		ID:      id,
		Root:    root,
		Payload: []byte{b, b, b},
	}
}

func TestMemoryProvider_UploadIsIdempotent(t *testing.T) {
	p := NewMemoryProvider()
	ctx := context.Background()
	page := testPage(1)

	rec := testRecord(1)
	require.NoError(t, p.UploadCommits(ctx, page, []cloud.CommitRecord{rec}))
	require.NoError(t, p.UploadCommits(ctx, page, []cloud.CommitRecord{rec}))

	got, _, err := p.GetCommits(ctx, page, nil)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestMemoryProvider_PositionPagesThroughLog(t *testing.T) {
	p := NewMemoryProvider()
	ctx := context.Background()
	page := testPage(1)

	require.NoError(t, p.UploadCommits(ctx, page, []cloud.CommitRecord{testRecord(1)}))

	first, pos, err := p.GetCommits(ctx, page, nil)
	require.NoError(t, err)
	require.Len(t, first, 1)

	require.NoError(t, p.UploadCommits(ctx, page, []cloud.CommitRecord{testRecord(2)}))

	second, pos2, err := p.GetCommits(ctx, page, pos)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, testRecord(2).ID, second[0].ID)

	rest, _, err := p.GetCommits(ctx, page, pos2)
	require.NoError(t, err)
	assert.Empty(t, rest)
}

func TestMemoryProvider_ObjectRoundTrip(t *testing.T) {
	p := NewMemoryProvider()
	ctx := context.Background()
	page := testPage(1)
	var id types.ObjectID
	id[0] = 7

	require.NoError(t, p.UploadObject(ctx, page, id, []byte("ciphertext")))
	got, err := p.GetObject(ctx, page, id)
	require.NoError(t, err)
	assert.Equal(t, []byte("ciphertext"), got)

	var unknown types.ObjectID
	unknown[0] = 8
	_, err = p.GetObject(ctx, page, unknown)
	require.Error(t, err)
	assert.Equal(t, types.StatusNotFound, types.StatusOf(err))
}

func TestMemoryProvider_Erase(t *testing.T) {
	p := NewMemoryProvider()
	ctx := context.Background()
	page := testPage(1)

	require.NoError(t, p.UploadCommits(ctx, page, []cloud.CommitRecord{testRecord(1)}))
	require.NoError(t, p.Erase(ctx))

	got, _, err := p.GetCommits(ctx, page, nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMemoryProvider_FailNext(t *testing.T) {
	p := NewMemoryProvider()
	ctx := context.Background()
	page := testPage(1)
	boom := types.NewError(types.StatusNetworkError, "injected")

	p.FailNext(1, boom)
	err := p.UploadCommits(ctx, page, []cloud.CommitRecord{testRecord(1)})
	require.ErrorIs(t, err, boom)

	require.NoError(t, p.UploadCommits(ctx, page, []cloud.CommitRecord{testRecord(1)}))
}

func TestWireFrameRoundTrip(t *testing.T) {
	req := UploadCommitsRequest{
		Page:    testPage(3),
		Commits: []cloud.CommitRecord{testRecord(9)},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, VerbUploadCommits, &req))

	tag, payload, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, byte(VerbUploadCommits), tag)

	var decoded UploadCommitsRequest
	require.NoError(t, DecodeFrame(payload, &decoded))
	assert.Equal(t, req.Page, decoded.Page)
	require.Len(t, decoded.Commits, 1)
	assert.Equal(t, req.Commits[0].ID, decoded.Commits[0].ID)
	assert.Equal(t, req.Commits[0].Payload, decoded.Commits[0].Payload)
}

func TestWireFrame_EmptyBody(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, VerbErase, nil))

	tag, payload, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, byte(VerbErase), tag)
	assert.Empty(t, payload)
}

func TestResponseError_MapsStatus(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, byte(types.StatusNotFound), &ErrorResponse{Message: "no such object"}))
	status, payload, err := ReadFrame(&buf)
	require.NoError(t, err)

	mapped := ResponseError(status, payload)
	assert.Equal(t, types.StatusNotFound, types.StatusOf(mapped))
	assert.Contains(t, mapped.Error(), "no such object")
}
