package storage

import (
	"bytes"
	"context"
	"sort"

	"github.com/tidemark-io/tidemark-db/pkg/types"
)

// CommonAncestor walks the DAG upward from b in breadth order and returns
// the first commit that is also an ancestor of a. Parent lists are sorted,
// so the walk order and the result are deterministic.
func (s *Storage) CommonAncestor(ctx context.Context, page types.PageID, a, b types.CommitID) (types.CommitID, error) {
	ancestorsOfA := make(map[types.CommitID]bool)

	queue := []types.CommitID{a}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if ancestorsOfA[id] {
			continue
		}
		ancestorsOfA[id] = true

		commit, err := s.GetCommit(ctx, page, id)
		if err != nil {
			return types.CommitID{}, err
		}
		queue = append(queue, commit.Parents...)
	}

	visited := make(map[types.CommitID]bool)
	queue = []types.CommitID{b}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if visited[id] {
			continue
		}
		visited[id] = true

		if ancestorsOfA[id] {
			return id, nil
		}

		commit, err := s.GetCommit(ctx, page, id)
		if err != nil {
			return types.CommitID{}, err
		}
		queue = append(queue, commit.Parents...)
	}

	return types.CommitID{}, types.NewError(types.StatusInternalError,
		"commits share no common ancestor")
}

// MergeHeads reduces the page's heads to a single deterministic merge
// commit. Both devices of a sync pair compute the identical commit: the
// three-way merge is deterministic, the merge timestamp is the max of the
// parents' timestamps and the parents are sorted before hashing.
func (s *Storage) MergeHeads(ctx context.Context, page types.PageID) (types.CommitID, error) {
	for {
		heads, err := s.GetHeads(ctx, page)
		if err != nil {
			return types.CommitID{}, err
		}

		if len(heads) == 0 {
			return types.CommitID{}, types.NewError(types.StatusNotFound, "page has no commits")
		}
		if len(heads) == 1 {
			return heads[0], nil
		}

		// Heads are sorted; merging the first two each round keeps the
		// reduction order identical on every device.
		if err := s.mergeTwo(ctx, page, heads[0], heads[1]); err != nil {
			return types.CommitID{}, err
		}
	}
}

func (s *Storage) mergeTwo(ctx context.Context, page types.PageID, a, b types.CommitID) error {
	base, err := s.CommonAncestor(ctx, page, a, b)
	if err != nil {
		return err
	}

	commitA, err := s.GetCommit(ctx, page, a)
	if err != nil {
		return err
	}
	commitB, err := s.GetCommit(ctx, page, b)
	if err != nil {
		return err
	}
	commitBase, err := s.GetCommit(ctx, page, base)
	if err != nil {
		return err
	}

	entriesA, err := s.GetEntries(ctx, commitA.Root)
	if err != nil {
		return err
	}
	entriesB, err := s.GetEntries(ctx, commitB.Root)
	if err != nil {
		return err
	}
	entriesBase, err := s.GetEntries(ctx, commitBase.Root)
	if err != nil {
		return err
	}

	// The side with the larger commit hash wins both-changed conflicts.
	winnerIsA := bytes.Compare(a[:], b[:]) > 0

	merged := threeWayMerge(entriesBase, entriesA, entriesB, winnerIsA)

	snapshot, err := EncodeEntries(merged)
	if err != nil {
		return err
	}
	root, err := s.PutObject(ctx, snapshot)
	if err != nil {
		return err
	}

	ts := commitA.Timestamp
	if commitB.Timestamp > ts {
		ts = commitB.Timestamp
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.createCommitLocked(page, []types.CommitID{a, b}, root, ts, true)
	return err
}

// threeWayMerge merges two divergent key-value views against their common
// base. Per key: an unchanged side yields to a changed one; both changed to
// the same state keeps it; both changed differently takes the winner's
// state, including absence (a delete-vs-edit conflict).
func threeWayMerge(base, a, b []types.Entry, winnerIsA bool) []types.Entry {
	baseMap := entryMap(base)
	aMap := entryMap(a)
	bMap := entryMap(b)

	keys := make(map[string]bool)
	for k := range baseMap {
		keys[k] = true
	}
	for k := range aMap {
		keys[k] = true
	}
	for k := range bMap {
		keys[k] = true
	}

	var merged []types.Entry
	for key := range keys {
		baseE, inBase := baseMap[key]
		aE, inA := aMap[key]
		bE, inB := bMap[key]

		aChanged := inA != inBase || (inA && !aE.Equals(baseE))
		bChanged := inB != inBase || (inB && !bE.Equals(baseE))

		var result types.Entry
		var present bool
		switch {
		case !aChanged && !bChanged:
			result, present = baseE, inBase
		case aChanged && !bChanged:
			result, present = aE, inA
		case bChanged && !aChanged:
			result, present = bE, inB
		case winnerIsA:
			result, present = aE, inA
		default:
			result, present = bE, inB
		}

		if present {
			merged = append(merged, result)
		}
	}

	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Key < merged[j].Key
	})

	return merged
}

func entryMap(entries []types.Entry) map[string]types.Entry {
	m := make(map[string]types.Entry, len(entries))
	for _, e := range entries {
		m[e.Key] = e
	}
	return m
}
