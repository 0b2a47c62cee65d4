package storage

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidemark-io/tidemark-db/pkg/types"
)

func TestCommonAncestor_LinearHistory(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	page := testPage(1)

	root := mustPutSnapshot(t, s, nil)
	a, err := s.CreateCommit(ctx, page, nil, root)
	require.NoError(t, err)
	b, err := s.CreateCommit(ctx, page, []types.CommitID{a.ID}, root)
	require.NoError(t, err)

	ancestor, err := s.CommonAncestor(ctx, page, a.ID, b.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, ancestor)
}

func TestCommonAncestor_Divergent(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	page := testPage(1)

	base := mustPutSnapshot(t, s, nil)
	genesis, err := s.CreateCommit(ctx, page, nil, base)
	require.NoError(t, err)

	leftRoot := mustPutSnapshot(t, s, []types.Entry{{Key: "l", Object: types.Hash{1}}})
	left, err := s.CreateCommit(ctx, page, []types.CommitID{genesis.ID}, leftRoot)
	require.NoError(t, err)

	rightRoot := mustPutSnapshot(t, s, []types.Entry{{Key: "r", Object: types.Hash{2}}})
	right, err := s.CreateCommit(ctx, page, []types.CommitID{genesis.ID}, rightRoot)
	require.NoError(t, err)

	ancestor, err := s.CommonAncestor(ctx, page, left.ID, right.ID)
	require.NoError(t, err)
	assert.Equal(t, genesis.ID, ancestor)
}

func TestCommonAncestor_NoSharedHistory(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	page := testPage(1)

	rootA := mustPutSnapshot(t, s, []types.Entry{{Key: "a", Object: types.Hash{1}}})
	a, err := s.CreateCommit(ctx, page, nil, rootA)
	require.NoError(t, err)

	rootB := mustPutSnapshot(t, s, []types.Entry{{Key: "b", Object: types.Hash{2}}})
	b, err := s.CreateCommit(ctx, page, nil, rootB)
	require.NoError(t, err)

	_, err = s.CommonAncestor(ctx, page, a.ID, b.ID)
	require.Error(t, err)
	assert.Equal(t, types.StatusInternalError, types.StatusOf(err))
}

func TestMergeHeads_SingleHeadNoOp(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	page := testPage(1)

	root := mustPutSnapshot(t, s, nil)
	commit, err := s.CreateCommit(ctx, page, nil, root)
	require.NoError(t, err)

	head, err := s.MergeHeads(ctx, page)
	require.NoError(t, err)
	assert.Equal(t, commit.ID, head)
}

func TestMergeHeads_NonConflicting(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	page := testPage(1)

	valA, err := s.PutObject(ctx, []byte("va"))
	require.NoError(t, err)
	valB, err := s.PutObject(ctx, []byte("vb"))
	require.NoError(t, err)

	base := mustPutSnapshot(t, s, nil)
	genesis, err := s.CreateCommit(ctx, page, nil, base)
	require.NoError(t, err)

	leftRoot := mustPutSnapshot(t, s, []types.Entry{{Key: "a", Object: valA, Priority: types.Eager}})
	_, err = s.CreateCommit(ctx, page, []types.CommitID{genesis.ID}, leftRoot)
	require.NoError(t, err)

	rightRoot := mustPutSnapshot(t, s, []types.Entry{{Key: "b", Object: valB, Priority: types.Eager}})
	_, err = s.CreateCommit(ctx, page, []types.CommitID{genesis.ID}, rightRoot)
	require.NoError(t, err)

	mergedHead, err := s.MergeHeads(ctx, page)
	require.NoError(t, err)

	merged, err := s.GetCommit(ctx, page, mergedHead)
	require.NoError(t, err)
	assert.True(t, merged.IsMerge())

	entries, err := s.GetEntries(ctx, merged.Root)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "a", entries[0].Key)
	assert.Equal(t, "b", entries[1].Key)
}

func TestMergeHeads_ConflictDeterministic(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	page := testPage(1)

	valBase, err := s.PutObject(ctx, []byte("v1"))
	require.NoError(t, err)
	valLeft, err := s.PutObject(ctx, []byte("v2"))
	require.NoError(t, err)
	valRight, err := s.PutObject(ctx, []byte("v3"))
	require.NoError(t, err)

	baseRoot := mustPutSnapshot(t, s, []types.Entry{{Key: "k", Object: valBase, Priority: types.Eager}})
	genesis, err := s.CreateCommit(ctx, page, nil, baseRoot)
	require.NoError(t, err)

	leftRoot := mustPutSnapshot(t, s, []types.Entry{{Key: "k", Object: valLeft, Priority: types.Eager}})
	left, err := s.CreateCommit(ctx, page, []types.CommitID{genesis.ID}, leftRoot)
	require.NoError(t, err)

	rightRoot := mustPutSnapshot(t, s, []types.Entry{{Key: "k", Object: valRight, Priority: types.Eager}})
	right, err := s.CreateCommit(ctx, page, []types.CommitID{genesis.ID}, rightRoot)
	require.NoError(t, err)

	mergedHead, err := s.MergeHeads(ctx, page)
	require.NoError(t, err)

	merged, err := s.GetCommit(ctx, page, mergedHead)
	require.NoError(t, err)

	entries, err := s.GetEntries(ctx, merged.Root)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	// The side with the lexicographically larger commit hash wins.
	expected := valLeft
	if bytes.Compare(right.ID[:], left.ID[:]) > 0 {
		expected = valRight
	}
	assert.Equal(t, expected, entries[0].Object)
}

func TestThreeWayMerge_DeleteVsUnchanged(t *testing.T) {
	base := []types.Entry{
		{Key: "keep", Object: types.Hash{1}},
		{Key: "gone", Object: types.Hash{2}},
	}
	// A deleted "gone", B is unchanged.
	a := []types.Entry{{Key: "keep", Object: types.Hash{1}}}
	b := base

	merged := threeWayMerge(base, a, b, false)
	require.Len(t, merged, 1)
	assert.Equal(t, "keep", merged[0].Key)
}

func TestThreeWayMerge_BothSameChange(t *testing.T) {
	base := []types.Entry{{Key: "k", Object: types.Hash{1}}}
	changed := []types.Entry{{Key: "k", Object: types.Hash{9}}}

	merged := threeWayMerge(base, changed, changed, true)
	require.Len(t, merged, 1)
	assert.Equal(t, types.Hash{9}, merged[0].Object)
}

func TestThreeWayMerge_DeleteVsEditConflict(t *testing.T) {
	base := []types.Entry{{Key: "k", Object: types.Hash{1}}}
	deleted := []types.Entry{}
	edited := []types.Entry{{Key: "k", Object: types.Hash{2}}}

	// Winner A deleted: the key stays gone.
	merged := threeWayMerge(base, deleted, edited, true)
	assert.Empty(t, merged)

	// Winner B edited: the edit survives.
	merged = threeWayMerge(base, deleted, edited, false)
	require.Len(t, merged, 1)
	assert.Equal(t, types.Hash{2}, merged[0].Object)
}
