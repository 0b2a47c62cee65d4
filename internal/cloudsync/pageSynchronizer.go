// Package cloudsync moves commits between local storage and a cloud
// provider. One synchronizer goroutine per page serializes that page's
// uploads, downloads and merges; watermarks only advance after the
// work they cover is durable, so every commit is delivered at least
// once and a crash at any point resumes without loss.
package cloudsync

import (
	"context"
	"encoding/binary"
	"log/slog"
	"time"

	"github.com/tidemark-io/tidemark-db/pkg/backoff"
	"github.com/tidemark-io/tidemark-db/pkg/cloud"
	"github.com/tidemark-io/tidemark-db/pkg/encryption"
	"github.com/tidemark-io/tidemark-db/pkg/storage"
	"github.com/tidemark-io/tidemark-db/pkg/types"
)

// uploadPositionKey tracks how far into the local commit sequence the
// upload loop has shipped. It sits next to the download watermark
// (storage.SyncMetadataTimestampKey) in per-page sync metadata.
const uploadPositionKey = "upload-position"

// PageSynchronizer owns all cloud traffic for a single page.
type PageSynchronizer struct {
	page     types.PageID
	store    storage.StorageService
	provider cloud.Provider
	enc      encryption.EncryptionService
	backoff  backoff.Backoff
	logger   *slog.Logger
	interval time.Duration

	trigger chan struct{}
	done    chan struct{}
}

func NewPageSynchronizer(
	logger *slog.Logger,
	page types.PageID,
	store storage.StorageService,
	provider cloud.Provider,
	enc encryption.EncryptionService,
	bo backoff.Backoff,
	interval time.Duration,
) *PageSynchronizer {
	return &PageSynchronizer{
		page:     page,
		store:    store,
		provider: provider,
		enc:      enc,
		backoff:  bo,
		logger:   logger.With("page", page.String()),
		interval: interval,
		trigger:  make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Trigger requests a sync cycle soon. Safe to call from any goroutine;
// a cycle already pending absorbs further triggers.
func (p *PageSynchronizer) Trigger() {
	select {
	case p.trigger <- struct{}{}:
	default:
	}
}

// Done is closed when the synchronizer's Run loop has exited.
func (p *PageSynchronizer) Done() <-chan struct{} {
	return p.done
}

// Run drives sync cycles until ctx is cancelled. Transient failures
// within a cycle are retried with backoff; permanent failures abort
// the cycle without advancing any watermark and are retried on the
// next cycle.
func (p *PageSynchronizer) Run(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.trigger:
		case <-ticker.C:
		}

		if err := p.SyncOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Warn("sync cycle failed",
				"status", types.StatusOf(err).String(), "error", err)
		}
	}
}

// SyncOnce runs one full cycle: push local commits, pull remote ones,
// then collapse any diverged heads.
func (p *PageSynchronizer) SyncOnce(ctx context.Context) error {
	if err := p.upload(ctx); err != nil {
		return err
	}
	if err := p.download(ctx); err != nil {
		return err
	}
	return p.mergeIfDiverged(ctx)
}

// withRetry runs op, retrying transient failures with backoff until
// ctx ends. Permanent failures return immediately.
func (p *PageSynchronizer) withRetry(ctx context.Context, op func() error) error {
	for {
		err := op()
		if err == nil {
			p.backoff.Reset()
			return nil
		}
		if types.IsPermanentError(err) {
			return err
		}
		delay := p.backoff.GetNext()
		p.logger.Debug("transient failure, backing off",
			"delay", delay, "error", err)
		select {
		case <-ctx.Done():
			return types.WrapError(types.StatusNetworkError, "sync cancelled", ctx.Err())
		case <-time.After(delay):
		}
	}
}

// upload ships every commit past the upload position, in creation
// order. The position only moves after the whole batch is acknowledged
// by the provider, so a crash mid-batch re-sends from the start of the
// batch; the provider deduplicates by commit id.
func (p *PageSynchronizer) upload(ctx context.Context) error {
	position, err := p.readPosition(ctx, uploadPositionKey)
	if err != nil {
		return err
	}

	commits, newPosition, err := p.store.CommitsSince(ctx, p.page, position)
	if err != nil {
		return err
	}
	if len(commits) == 0 {
		return nil
	}

	for _, commit := range commits {
		if err := p.uploadCommit(ctx, commit); err != nil {
			return err
		}
	}

	if err := p.writePosition(ctx, uploadPositionKey, newPosition); err != nil {
		return err
	}
	p.logger.Debug("uploaded commits", "count", len(commits))
	return nil
}

func (p *PageSynchronizer) uploadCommit(ctx context.Context, commit types.Commit) error {
	plaintext, err := p.store.GetObject(ctx, commit.Root)
	if err != nil {
		return err
	}
	ciphertext, err := p.enc.EncryptObject(p.page, plaintext)
	if err != nil {
		return err
	}

	record := cloud.CommitRecord{
		ID:        commit.ID,
		Parents:   commit.Parents,
		Root:      commit.Root,
		Timestamp: commit.Timestamp,
		Payload:   ciphertext,
	}

	if err := p.withRetry(ctx, func() error {
		return p.provider.UploadObject(ctx, p.page, commit.Root, ciphertext)
	}); err != nil {
		return err
	}

	// Ship the objects the snapshot references before announcing the
	// commit, so a downloader applying it can always resolve them.
	entries, err := p.store.GetEntries(ctx, commit.Root)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if err := p.uploadEntryObject(ctx, entry.Object); err != nil {
			return err
		}
	}

	return p.withRetry(ctx, func() error {
		return p.provider.UploadCommits(ctx, p.page, []cloud.CommitRecord{record})
	})
}

func (p *PageSynchronizer) uploadEntryObject(ctx context.Context, id types.ObjectID) error {
	plaintext, err := p.store.GetObject(ctx, id)
	if err != nil {
		return err
	}
	ciphertext, err := p.enc.EncryptObject(p.page, plaintext)
	if err != nil {
		return err
	}
	return p.withRetry(ctx, func() error {
		return p.provider.UploadObject(ctx, p.page, id, ciphertext)
	})
}

// download pulls and applies commits past the download watermark. The
// watermark only advances after every record of the batch is durably
// applied, so a crash re-applies the batch; ApplyRemoteCommit is
// idempotent.
func (p *PageSynchronizer) download(ctx context.Context) error {
	watermark, err := p.store.GetSyncMetadata(ctx, p.page, storage.SyncMetadataTimestampKey)
	if err != nil && types.StatusOf(err) != types.StatusNotFound {
		return err
	}

	var records []cloud.CommitRecord
	var newWatermark cloud.Position
	if err := p.withRetry(ctx, func() error {
		var err error
		records, newWatermark, err = p.provider.GetCommits(ctx, p.page, cloud.Position(watermark))
		return err
	}); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	applied := 0
	for _, rec := range records {
		plaintext, err := p.enc.DecryptObject(p.page, rec.Payload)
		if err != nil {
			return err
		}
		commit := types.Commit{
			ID:        rec.ID,
			Parents:   rec.Parents,
			Root:      rec.Root,
			Timestamp: rec.Timestamp,
		}
		if err := p.store.ApplyRemoteCommit(ctx, p.page, commit, plaintext); err != nil {
			return err
		}
		if err := p.fetchEagerObjects(ctx, rec.Root); err != nil {
			return err
		}
		applied++
	}

	if err := p.store.SetSyncMetadata(ctx, p.page, storage.SyncMetadataTimestampKey, newWatermark); err != nil {
		return err
	}
	p.logger.Debug("applied remote commits", "count", applied)
	return nil
}

// fetchEagerObjects pulls the objects an applied snapshot references
// eagerly. Lazy entries stay remote until FetchObject asks for them.
func (p *PageSynchronizer) fetchEagerObjects(ctx context.Context, root types.ObjectID) error {
	entries, err := p.store.GetEntries(ctx, root)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.Priority != types.Eager {
			continue
		}
		if _, err := p.store.GetObject(ctx, entry.Object); err == nil {
			continue
		} else if types.StatusOf(err) != types.StatusNotFound {
			return err
		}
		if err := p.FetchObject(ctx, entry.Object); err != nil {
			return err
		}
	}
	return nil
}

// FetchObject downloads, decrypts and stores a single object. Used for
// eager prefetch and for lazy entries resolved on demand.
func (p *PageSynchronizer) FetchObject(ctx context.Context, id types.ObjectID) error {
	var ciphertext []byte
	if err := p.withRetry(ctx, func() error {
		var err error
		ciphertext, err = p.provider.GetObject(ctx, p.page, id)
		return err
	}); err != nil {
		return err
	}
	plaintext, err := p.enc.DecryptObject(p.page, ciphertext)
	if err != nil {
		return err
	}
	stored, err := p.store.PutObject(ctx, plaintext)
	if err != nil {
		return err
	}
	if stored != id {
		return types.NewError(types.StatusInternalError,
			"downloaded object does not match its id")
	}
	return nil
}

func (p *PageSynchronizer) mergeIfDiverged(ctx context.Context) error {
	heads, err := p.store.GetHeads(ctx, p.page)
	if err != nil {
		if types.StatusOf(err) == types.StatusNotFound {
			return nil
		}
		return err
	}
	if len(heads) <= 1 {
		return nil
	}
	merged, err := p.store.MergeHeads(ctx, p.page)
	if err != nil {
		return err
	}
	p.logger.Debug("merged diverged heads", "heads", len(heads), "merged", merged.String())
	// The merge commit itself needs uploading.
	return p.upload(ctx)
}

func (p *PageSynchronizer) readPosition(ctx context.Context, key string) (uint64, error) {
	data, err := p.store.GetSyncMetadata(ctx, p.page, key)
	if err != nil {
		if types.StatusOf(err) == types.StatusNotFound {
			return 0, nil
		}
		return 0, err
	}
	if len(data) != 8 {
		return 0, types.NewError(types.StatusInternalError, "corrupt sync position record")
	}
	return binary.LittleEndian.Uint64(data), nil
}

func (p *PageSynchronizer) writePosition(ctx context.Context, key string, position uint64) error {
	data := make([]byte, 8)
	binary.LittleEndian.PutUint64(data, position)
	return p.store.SetSyncMetadata(ctx, p.page, key, data)
}
