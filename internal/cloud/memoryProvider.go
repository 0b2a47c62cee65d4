package cloud

import (
	"context"
	"encoding/binary"
	"sync"

	"github.com/tidemark-io/tidemark-db/pkg/cloud"
	"github.com/tidemark-io/tidemark-db/pkg/types"
)

// MemoryProvider is an in-process cloud.Provider used by tests and by
// single-machine setups that want sync semantics without a network.
// Commits are kept in arrival order per page; positions are the
// little-endian index into that log.
type MemoryProvider struct {
	mu      sync.Mutex
	commits map[types.PageID][]cloud.CommitRecord
	seen    map[types.PageID]map[types.CommitID]struct{}
	objects map[types.PageID]map[types.ObjectID][]byte

	// FailNext makes the next n calls fail with the given error
	// before any state change. Tests use it to exercise retry paths.
	failNext int
	failWith error
}

func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{
		commits: make(map[types.PageID][]cloud.CommitRecord),
		seen:    make(map[types.PageID]map[types.CommitID]struct{}),
		objects: make(map[types.PageID]map[types.ObjectID][]byte),
	}
}

// FailNext arranges for the next n provider calls to return err.
func (m *MemoryProvider) FailNext(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = n
	m.failWith = err
}

func (m *MemoryProvider) maybeFailLocked() error {
	if m.failNext > 0 {
		m.failNext--
		return m.failWith
	}
	return nil
}

func (m *MemoryProvider) UploadCommits(ctx context.Context, page types.PageID, commits []cloud.CommitRecord) error {
	if err := ctx.Err(); err != nil {
		return types.WrapError(types.StatusNetworkError, "upload cancelled", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.maybeFailLocked(); err != nil {
		return err
	}
	seen := m.seen[page]
	if seen == nil {
		seen = make(map[types.CommitID]struct{})
		m.seen[page] = seen
	}
	for _, c := range commits {
		if _, ok := seen[c.ID]; ok {
			continue
		}
		seen[c.ID] = struct{}{}
		m.commits[page] = append(m.commits[page], c)
	}
	return nil
}

func (m *MemoryProvider) GetCommits(ctx context.Context, page types.PageID, after cloud.Position) ([]cloud.CommitRecord, cloud.Position, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, types.WrapError(types.StatusNetworkError, "download cancelled", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.maybeFailLocked(); err != nil {
		return nil, nil, err
	}
	log := m.commits[page]
	start := uint64(0)
	if len(after) == 8 {
		start = binary.LittleEndian.Uint64(after)
	}
	if start > uint64(len(log)) {
		start = uint64(len(log))
	}
	out := make([]cloud.CommitRecord, len(log)-int(start))
	copy(out, log[start:])
	pos := make(cloud.Position, 8)
	binary.LittleEndian.PutUint64(pos, uint64(len(log)))
	return out, pos, nil
}

func (m *MemoryProvider) UploadObject(ctx context.Context, page types.PageID, id types.ObjectID, ciphertext []byte) error {
	if err := ctx.Err(); err != nil {
		return types.WrapError(types.StatusNetworkError, "upload cancelled", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.maybeFailLocked(); err != nil {
		return err
	}
	objs := m.objects[page]
	if objs == nil {
		objs = make(map[types.ObjectID][]byte)
		m.objects[page] = objs
	}
	if _, ok := objs[id]; !ok {
		objs[id] = append([]byte(nil), ciphertext...)
	}
	return nil
}

func (m *MemoryProvider) GetObject(ctx context.Context, page types.PageID, id types.ObjectID) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, types.WrapError(types.StatusNetworkError, "download cancelled", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.maybeFailLocked(); err != nil {
		return nil, err
	}
	data, ok := m.objects[page][id]
	if !ok {
		return nil, types.NewError(types.StatusNotFound, "object not in cloud")
	}
	return append([]byte(nil), data...), nil
}

func (m *MemoryProvider) Erase(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return types.WrapError(types.StatusNetworkError, "erase cancelled", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.maybeFailLocked(); err != nil {
		return err
	}
	m.commits = make(map[types.PageID][]cloud.CommitRecord)
	m.seen = make(map[types.PageID]map[types.CommitID]struct{})
	m.objects = make(map[types.PageID]map[types.ObjectID][]byte)
	return nil
}

var _ cloud.Provider = (*MemoryProvider)(nil)
