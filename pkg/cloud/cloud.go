// Package cloud defines the contract between a device and a commit
// relay. A provider stores opaque ciphertext only; it never sees keys,
// page contents or snapshot structure.
package cloud

import (
	"context"

	"github.com/tidemark-io/tidemark-db/pkg/types"
)

// Position is an opaque cursor into a provider's per-page commit log.
// A nil Position means "from the beginning". Devices persist the last
// acknowledged Position and resume from it after a restart.
type Position []byte

// CommitRecord is the wire form of a commit plus the ciphertext of its
// root snapshot. Payload is produced by the device's encryption
// service; the provider stores it verbatim.
type CommitRecord struct {
	ID        types.CommitID
	Parents   []types.CommitID
	Root      types.ObjectID
	Timestamp types.Timestamp
	Payload   []byte
}

// Provider is a remote commit relay. Implementations must be safe for
// concurrent use; every method honors ctx cancellation.
//
// Uploads are idempotent: re-sending a commit the provider already
// holds succeeds without duplicating it in the log. GetCommits returns
// commits in the provider's log order together with the position just
// past the last returned record, so that repeated calls with the
// returned position page through the log exactly once.
type Provider interface {
	UploadCommits(ctx context.Context, page types.PageID, commits []CommitRecord) error
	GetCommits(ctx context.Context, page types.PageID, after Position) ([]CommitRecord, Position, error)
	UploadObject(ctx context.Context, page types.PageID, id types.ObjectID, ciphertext []byte) error
	GetObject(ctx context.Context, page types.PageID, id types.ObjectID) ([]byte, error)

	// Erase removes all state for every page. Used when a device is
	// decommissioned or the account is reset.
	Erase(ctx context.Context) error
}
