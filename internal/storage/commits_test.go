package storage

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidemark-io/tidemark-db/pkg/types"
)

func mustPutSnapshot(t *testing.T, s *Storage, entries []types.Entry) types.ObjectID {
	t.Helper()

	snapshot, err := EncodeEntries(entries)
	require.NoError(t, err)
	root, err := s.PutObject(context.Background(), snapshot)
	require.NoError(t, err)
	return root
}

func TestCreateCommit_FirstCommit(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	page := testPage(1)

	root := mustPutSnapshot(t, s, nil)

	commit, err := s.CreateCommit(ctx, page, nil, root)
	require.NoError(t, err)
	assert.Equal(t, root, commit.Root)
	assert.Empty(t, commit.Parents)

	heads, err := s.GetHeads(ctx, page)
	require.NoError(t, err)
	require.Len(t, heads, 1)
	assert.Equal(t, commit.ID, heads[0])
}

func TestCreateCommit_UnknownParentRejected(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	page := testPage(1)

	root := mustPutSnapshot(t, s, nil)
	var bogus types.CommitID
	bogus[0] = 0xff

	_, err := s.CreateCommit(ctx, page, []types.CommitID{bogus}, root)
	require.Error(t, err)
	assert.Equal(t, types.StatusInvalidArgument, types.StatusOf(err))
}

func TestCreateCommit_ChildReplacesParentAsHead(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	page := testPage(1)

	root := mustPutSnapshot(t, s, nil)

	first, err := s.CreateCommit(ctx, page, nil, root)
	require.NoError(t, err)
	second, err := s.CreateCommit(ctx, page, []types.CommitID{first.ID}, root)
	require.NoError(t, err)

	heads, err := s.GetHeads(ctx, page)
	require.NoError(t, err)
	require.Len(t, heads, 1)
	assert.Equal(t, second.ID, heads[0])
}

func TestGetCommit_RoundTrip(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	page := testPage(1)

	root := mustPutSnapshot(t, s, nil)
	created, err := s.CreateCommit(ctx, page, nil, root)
	require.NoError(t, err)

	loaded, err := s.GetCommit(ctx, page, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, loaded.ID)
	assert.Equal(t, created.Root, loaded.Root)
	assert.Equal(t, created.Timestamp, loaded.Timestamp)
}

func TestComputeCommitID_ParentOrderIrrelevant(t *testing.T) {
	a := types.CommitID{0x01}
	b := types.CommitID{0x02}
	root := types.ObjectID{0x03}
	ts := types.Timestamp(77)

	first := ComputeCommitID([]types.CommitID{a, b}, root, ts)
	second := ComputeCommitID([]types.CommitID{b, a}, root, ts)

	assert.Equal(t, first, second)
}

func TestApplyRemoteCommit_Idempotent(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	page := testPage(1)

	snapshot, err := EncodeEntries(nil)
	require.NoError(t, err)
	root, err := s.PutObject(ctx, snapshot)
	require.NoError(t, err)

	var ts types.Timestamp
	ts.SetToNow()

	remote := types.Commit{
		ID:        ComputeCommitID(nil, root, ts),
		Root:      root,
		Timestamp: ts,
	}

	require.NoError(t, s.ApplyRemoteCommit(ctx, page, remote, snapshot))
	require.NoError(t, s.ApplyRemoteCommit(ctx, page, remote, snapshot))

	heads, err := s.GetHeads(ctx, page)
	require.NoError(t, err)
	assert.Len(t, heads, 1)
}

func TestApplyRemoteCommit_TamperedIDRejected(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	snapshot, err := EncodeEntries(nil)
	require.NoError(t, err)
	root, err := s.PutObject(ctx, snapshot)
	require.NoError(t, err)

	var ts types.Timestamp
	ts.SetToNow()

	remote := types.Commit{
		ID:        types.CommitID{0xde, 0xad},
		Root:      root,
		Timestamp: ts,
	}

	err = s.ApplyRemoteCommit(ctx, testPage(1), remote, snapshot)
	require.Error(t, err)
	assert.Equal(t, types.StatusInvalidArgument, types.StatusOf(err))
}

func TestApplyRemoteCommit_NotInUploadQueue(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	page := testPage(1)

	snapshot, err := EncodeEntries(nil)
	require.NoError(t, err)
	root, err := s.PutObject(ctx, snapshot)
	require.NoError(t, err)

	var ts types.Timestamp
	ts.SetToNow()
	remote := types.Commit{ID: ComputeCommitID(nil, root, ts), Root: root, Timestamp: ts}
	require.NoError(t, s.ApplyRemoteCommit(ctx, page, remote, snapshot))

	commits, _, err := s.CommitsSince(ctx, page, 0)
	require.NoError(t, err)
	assert.Empty(t, commits)
}

func TestCommitsSince(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	page := testPage(1)

	root := mustPutSnapshot(t, s, nil)

	first, err := s.CreateCommit(ctx, page, nil, root)
	require.NoError(t, err)
	second, err := s.CreateCommit(ctx, page, []types.CommitID{first.ID}, root)
	require.NoError(t, err)

	commits, position, err := s.CommitsSince(ctx, page, 0)
	require.NoError(t, err)
	require.Len(t, commits, 2)
	assert.Equal(t, first.ID, commits[0].ID)
	assert.Equal(t, second.ID, commits[1].ID)
	assert.Equal(t, uint64(2), position)

	// Resuming from the returned position yields nothing new.
	commits, position, err = s.CommitsSince(ctx, page, position)
	require.NoError(t, err)
	assert.Empty(t, commits)
	assert.Equal(t, uint64(2), position)
}

// Random valid commit sequences must never produce a parent-link cycle; the
// topological walk terminating proves acyclicity.
func TestCommitDAG_Acyclic(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	page := testPage(1)

	rng := rand.New(rand.NewSource(7))

	root := mustPutSnapshot(t, s, nil)
	genesis, err := s.CreateCommit(ctx, page, nil, root)
	require.NoError(t, err)

	ids := []types.CommitID{genesis.ID}
	for i := 0; i < 50; i++ {
		// Pick one or two random existing commits as parents.
		parents := []types.CommitID{ids[rng.Intn(len(ids))]}
		if rng.Intn(2) == 0 {
			other := ids[rng.Intn(len(ids))]
			if other != parents[0] {
				parents = append(parents, other)
			}
		}

		entries := []types.Entry{{Key: "k", Object: types.Hash{byte(i)}, Priority: types.Eager}}
		commitRoot := mustPutSnapshot(t, s, entries)

		commit, err := s.CreateCommit(ctx, page, parents, commitRoot)
		require.NoError(t, err)
		ids = append(ids, commit.ID)
	}

	// Walk every commit's ancestry; the visit set bounds the walk, and any
	// cycle would revisit a commit on the current path.
	for _, id := range ids {
		visited := make(map[types.CommitID]bool)
		var walk func(types.CommitID, map[types.CommitID]bool)
		walk = func(current types.CommitID, path map[types.CommitID]bool) {
			require.False(t, path[current], "cycle detected at %s", current)
			if visited[current] {
				return
			}
			visited[current] = true
			path[current] = true

			commit, err := s.GetCommit(ctx, page, current)
			require.NoError(t, err)
			for _, parent := range commit.Parents {
				walk(parent, path)
			}
			delete(path, current)
		}
		walk(id, make(map[types.CommitID]bool))
	}
}
