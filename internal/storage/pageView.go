package storage

import (
	"context"
	"sort"

	"github.com/tidemark-io/tidemark-db/pkg/types"
)

// headEntries resolves the page's current single head and its snapshot,
// merging first when a conflict left multiple heads. A page with no commits
// yields an empty view.
func (s *Storage) headEntries(ctx context.Context, page types.PageID) (types.CommitID, []types.Entry, bool, error) {
	heads, err := s.GetHeads(ctx, page)
	if err != nil {
		return types.CommitID{}, nil, false, err
	}

	if len(heads) == 0 {
		return types.CommitID{}, nil, false, nil
	}

	head := heads[0]
	if len(heads) > 1 {
		head, err = s.MergeHeads(ctx, page)
		if err != nil {
			return types.CommitID{}, nil, false, err
		}
	}

	commit, err := s.GetCommit(ctx, page, head)
	if err != nil {
		return types.CommitID{}, nil, false, err
	}

	entries, err := s.GetEntries(ctx, commit.Root)
	if err != nil {
		return types.CommitID{}, nil, false, err
	}

	return head, entries, true, nil
}

func (s *Storage) PutKey(ctx context.Context, page types.PageID, key string, value []byte, priority types.Priority) (types.Commit, error) {
	if key == "" {
		return types.Commit{}, types.NewError(types.StatusInvalidArgument, "empty key")
	}

	object, err := s.PutObject(ctx, value)
	if err != nil {
		return types.Commit{}, err
	}

	head, entries, hasHead, err := s.headEntries(ctx, page)
	if err != nil {
		return types.Commit{}, err
	}

	updated := upsertEntry(entries, types.Entry{
		Key:      key,
		Object:   object,
		Priority: priority,
	})

	snapshot, err := EncodeEntries(updated)
	if err != nil {
		return types.Commit{}, err
	}
	root, err := s.PutObject(ctx, snapshot)
	if err != nil {
		return types.Commit{}, err
	}

	var parents []types.CommitID
	if hasHead {
		parents = []types.CommitID{head}
	}

	return s.CreateCommit(ctx, page, parents, root)
}

func (s *Storage) GetKey(ctx context.Context, page types.PageID, key string) ([]byte, error) {
	_, entries, hasHead, err := s.headEntries(ctx, page)
	if err != nil {
		return nil, err
	}

	if hasHead {
		for _, e := range entries {
			if e.Key == key {
				return s.GetObject(ctx, e.Object)
			}
		}
	}

	// Absence is an ordinary state under eventual consistency, not a
	// failure.
	return nil, types.NewError(types.StatusNotFound, "key "+key)
}

func (s *Storage) DeleteKey(ctx context.Context, page types.PageID, key string) (types.Commit, error) {
	head, entries, hasHead, err := s.headEntries(ctx, page)
	if err != nil {
		return types.Commit{}, err
	}

	if !hasHead {
		return types.Commit{}, types.NewError(types.StatusNotFound, "key "+key)
	}

	remaining := make([]types.Entry, 0, len(entries))
	found := false
	for _, e := range entries {
		if e.Key == key {
			found = true
			continue
		}
		remaining = append(remaining, e)
	}

	if !found {
		return types.Commit{}, types.NewError(types.StatusNotFound, "key "+key)
	}

	snapshot, err := EncodeEntries(remaining)
	if err != nil {
		return types.Commit{}, err
	}
	root, err := s.PutObject(ctx, snapshot)
	if err != nil {
		return types.Commit{}, err
	}

	return s.CreateCommit(ctx, page, []types.CommitID{head}, root)
}

func upsertEntry(entries []types.Entry, entry types.Entry) []types.Entry {
	out := make([]types.Entry, 0, len(entries)+1)
	replaced := false
	for _, e := range entries {
		if e.Key == entry.Key {
			out = append(out, entry)
			replaced = true
			continue
		}
		out = append(out, e)
	}
	if !replaced {
		out = append(out, entry)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Key < out[j].Key
	})

	return out
}
