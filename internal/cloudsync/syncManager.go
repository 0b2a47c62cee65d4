package cloudsync

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tidemark-io/tidemark-db/pkg/backoff"
	"github.com/tidemark-io/tidemark-db/pkg/cloud"
	"github.com/tidemark-io/tidemark-db/pkg/encryption"
	"github.com/tidemark-io/tidemark-db/pkg/storage"
	"github.com/tidemark-io/tidemark-db/pkg/types"
)

// SyncManager runs one PageSynchronizer per tracked page. Pages are
// registered lazily on first use and keep syncing until Stop.
type SyncManager struct {
	logger     *slog.Logger
	store      storage.StorageService
	provider   cloud.Provider
	enc        encryption.EncryptionService
	interval   time.Duration
	newBackoff func() backoff.Backoff

	mu      sync.Mutex
	pages   map[types.PageID]*PageSynchronizer
	cancel  context.CancelFunc
	baseCtx context.Context
	stopped bool
}

func NewSyncManager(
	logger *slog.Logger,
	store storage.StorageService,
	provider cloud.Provider,
	enc encryption.EncryptionService,
	interval time.Duration,
) *SyncManager {
	ctx, cancel := context.WithCancel(context.Background())
	return &SyncManager{
		logger:     logger,
		store:      store,
		provider:   provider,
		enc:        enc,
		interval:   interval,
		newBackoff: func() backoff.Backoff { return backoff.NewExponential() },
		pages:      make(map[types.PageID]*PageSynchronizer),
		baseCtx:    ctx,
		cancel:     cancel,
	}
}

// TrackPage ensures a synchronizer is running for the page and returns
// it. Idempotent.
func (m *SyncManager) TrackPage(page types.PageID) *PageSynchronizer {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ps, ok := m.pages[page]; ok {
		return ps
	}
	ps := NewPageSynchronizer(
		m.logger, page, m.store, m.provider, m.enc, m.newBackoff(), m.interval)
	m.pages[page] = ps
	if !m.stopped {
		go ps.Run(m.baseCtx)
	}
	return ps
}

// TriggerSync requests a prompt sync cycle for the page, registering
// it if needed.
func (m *SyncManager) TriggerSync(page types.PageID) {
	m.TrackPage(page).Trigger()
}

// SyncNow runs a single synchronous cycle for the page, outside the
// background loop. The page's own goroutine keeps running; per-page
// serialization is provided by storage, not by the caller.
func (m *SyncManager) SyncNow(ctx context.Context, page types.PageID) error {
	return m.TrackPage(page).SyncOnce(ctx)
}

// Stop cancels all synchronizers and waits for them to exit.
func (m *SyncManager) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	m.cancel()
	pages := make([]*PageSynchronizer, 0, len(m.pages))
	for _, ps := range m.pages {
		pages = append(pages, ps)
	}
	m.mu.Unlock()

	for _, ps := range pages {
		<-ps.Done()
	}
}
