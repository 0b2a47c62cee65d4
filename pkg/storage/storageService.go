// Package storage defines the public interface of the content-addressed
// object store and per-page commit DAG of TidemarkDB.
package storage

import (
	"context"

	"github.com/tidemark-io/tidemark-db/pkg/types"
)

// StorageService is the authoritative local state of all pages: immutable
// content-addressed objects plus one append-only commit DAG per page.
// IO errors surface verbatim as IO_ERROR; retrying is the caller's business.
type StorageService interface {
	// PutObject persists data under its content-derived id. Putting the same
	// bytes twice is a no-op the second time and returns the same id.
	PutObject(ctx context.Context, data []byte) (types.ObjectID, error)

	// GetObject returns the bytes stored under id, or NOT_FOUND if the id is
	// unknown locally. It may still exist remotely; that is cloud sync's
	// concern, not storage's.
	GetObject(ctx context.Context, id types.ObjectID) ([]byte, error)

	// CreateCommit appends a commit referencing the given parents and root.
	// Fails with INVALID_ARGUMENT if any parent is unknown locally.
	CreateCommit(ctx context.Context, page types.PageID, parents []types.CommitID, root types.ObjectID) (types.Commit, error)

	// ApplyRemoteCommit ingests a commit received from sync, idempotently.
	// The commit id is recomputed and verified before anything is persisted.
	ApplyRemoteCommit(ctx context.Context, page types.PageID, commit types.Commit, rootData []byte) error

	GetCommit(ctx context.Context, page types.PageID, id types.CommitID) (types.Commit, error)

	// GetHeads returns all current DAG leaves sorted by hash. Normally one;
	// more than one indicates an unresolved conflict awaiting merge.
	GetHeads(ctx context.Context, page types.PageID) ([]types.CommitID, error)

	// CommitsSince returns commits created after the given local sequence
	// position, in creation order, plus the new position. Used by the upload
	// loop.
	CommitsSince(ctx context.Context, page types.PageID, position uint64) ([]types.Commit, uint64, error)

	// CommonAncestor finds the lowest common ancestor of two commits.
	// INTERNAL_ERROR if the commits share no history.
	CommonAncestor(ctx context.Context, page types.PageID, a, b types.CommitID) (types.CommitID, error)

	// MergeHeads reduces multiple heads to one deterministic merge commit.
	// Both devices of a sync pair produce an identical merge commit.
	MergeHeads(ctx context.Context, page types.PageID) (types.CommitID, error)

	// PutKey writes key -> value into the page, creating a child commit of
	// the current head (auto-merging first if two heads exist).
	PutKey(ctx context.Context, page types.PageID, key string, value []byte, priority types.Priority) (types.Commit, error)

	// GetKey reads a key from the page's current head snapshot. An absent or
	// not-yet-synced key is NOT_FOUND, an ordinary state, not a failure.
	GetKey(ctx context.Context, page types.PageID, key string) ([]byte, error)

	// DeleteKey removes a key from the page's view in a new commit.
	DeleteKey(ctx context.Context, page types.PageID, key string) (types.Commit, error)

	// GetEntries decodes the snapshot object behind a commit root.
	GetEntries(ctx context.Context, root types.ObjectID) ([]types.Entry, error)

	// Sync metadata: small per-page records tracking cloud-sync progress.
	// Updates are all-or-nothing per call.
	GetSyncMetadata(ctx context.Context, page types.PageID, key string) ([]byte, error)
	SetSyncMetadata(ctx context.Context, page types.PageID, key string, value []byte) error

	// GarbageCollect drops objects unreachable from any head's history.
	GarbageCollect(ctx context.Context) error

	Close()
}

// SyncMetadataTimestampKey is the watermark record advanced after every
// durably applied or acknowledged sync batch.
const SyncMetadataTimestampKey = "timestamp"
