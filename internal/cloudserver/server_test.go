package cloudserver

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	transport "github.com/tidemark-io/tidemark-db/internal/cloud"
	"github.com/tidemark-io/tidemark-db/internal/keyValStore"
	"github.com/tidemark-io/tidemark-db/pkg/cloud"
	"github.com/tidemark-io/tidemark-db/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T) *store {
	t.Helper()
	kv, err := keyValStore.NewKeyValStore(keyValStore.StoreConfig{
		Paths: []string{t.TempDir()},
	})
	require.NoError(t, err)
	t.Cleanup(kv.Close)
	return newStore(kv)
}

func testPage(b byte) types.PageID {
	var p types.PageID
	p[0] = b
	return p
}

func testRecord(b byte) cloud.CommitRecord {
	var id types.CommitID
	id[0] = b
	return cloud.CommitRecord{ID: id, Payload: []byte{b, b}}
}

func TestStore_AppendDeduplicates(t *testing.T) {
	s := newTestStore(t)
	page := testPage(1)

	require.NoError(t, s.appendCommits(page, []cloud.CommitRecord{testRecord(1), testRecord(1)}))
	require.NoError(t, s.appendCommits(page, []cloud.CommitRecord{testRecord(1), testRecord(2)}))

	records, _, err := s.commitsAfter(page, nil)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, testRecord(1).ID, records[0].ID)
	assert.Equal(t, testRecord(2).ID, records[1].ID)
}

func TestStore_CommitsAfterCursor(t *testing.T) {
	s := newTestStore(t)
	page := testPage(1)

	require.NoError(t, s.appendCommits(page, []cloud.CommitRecord{testRecord(1)}))
	_, pos, err := s.commitsAfter(page, nil)
	require.NoError(t, err)

	require.NoError(t, s.appendCommits(page, []cloud.CommitRecord{testRecord(2)}))
	records, _, err := s.commitsAfter(page, pos)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, testRecord(2).ID, records[0].ID)
}

func TestStore_PayloadSurvivesCompression(t *testing.T) {
	s := newTestStore(t)
	page := testPage(1)

	rec := testRecord(1)
	rec.Payload = []byte("opaque ciphertext with enough length to be worth compressing")
	require.NoError(t, s.appendCommits(page, []cloud.CommitRecord{rec}))

	records, _, err := s.commitsAfter(page, nil)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, rec.Payload, records[0].Payload)
}

func TestStore_ObjectRoundTrip(t *testing.T) {
	s := newTestStore(t)
	page := testPage(1)
	var id types.ObjectID
	id[5] = 9

	require.NoError(t, s.putObject(page, id, []byte("blob")))
	got, err := s.getObject(page, id)
	require.NoError(t, err)
	assert.Equal(t, []byte("blob"), got)

	var unknown types.ObjectID
	_, err = s.getObject(page, unknown)
	require.Error(t, err)
	assert.Equal(t, types.StatusNotFound, types.StatusOf(err))
}

func TestStore_Erase(t *testing.T) {
	s := newTestStore(t)
	page := testPage(1)

	require.NoError(t, s.appendCommits(page, []cloud.CommitRecord{testRecord(1)}))
	var id types.ObjectID
	require.NoError(t, s.putObject(page, id, []byte("blob")))

	require.NoError(t, s.erase())

	records, _, err := s.commitsAfter(page, nil)
	require.NoError(t, err)
	assert.Empty(t, records)
	_, err = s.getObject(page, id)
	assert.Equal(t, types.StatusNotFound, types.StatusOf(err))
}

func TestServer_ServesQUICProvider(t *testing.T) {
	kv, err := keyValStore.NewKeyValStore(keyValStore.StoreConfig{
		Paths: []string{t.TempDir()},
	})
	require.NoError(t, err)
	t.Cleanup(kv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := NewServer(testLogger(), kv)
	require.NoError(t, srv.Listen(ctx, "127.0.0.1:0"))
	defer func() { _ = srv.Close() }()

	client := transport.NewQUICProvider(testLogger(), srv.Addr())
	defer func() { _ = client.Close() }()

	page := testPage(1)
	rec := testRecord(7)
	rec.Payload = []byte("relayed ciphertext")

	require.NoError(t, client.UploadCommits(ctx, page, []cloud.CommitRecord{rec}))

	records, pos, err := client.GetCommits(ctx, page, nil)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, rec.ID, records[0].ID)
	assert.Equal(t, rec.Payload, records[0].Payload)
	assert.NotEmpty(t, pos)

	var id types.ObjectID
	id[0] = 3
	require.NoError(t, client.UploadObject(ctx, page, id, []byte("object bytes")))
	got, err := client.GetObject(ctx, page, id)
	require.NoError(t, err)
	assert.Equal(t, []byte("object bytes"), got)

	// Errors must cross the wire with their status intact.
	var unknown types.ObjectID
	unknown[0] = 4
	_, err = client.GetObject(ctx, page, unknown)
	require.Error(t, err)
	assert.Equal(t, types.StatusNotFound, types.StatusOf(err))

	require.NoError(t, client.Erase(ctx))
	records, _, err = client.GetCommits(ctx, page, nil)
	require.NoError(t, err)
	assert.Empty(t, records)
}
