package digestcache

import (
	"context"

	"github.com/fedsearch/search-api/internal/domain"
)

// Key identifies one verified revision of an entry on a node.
type Key struct {
	NodeName   domain.NodeName
	EntryID    domain.EntryID
	RevisionID domain.RevisionID
}

// Store persists digests of entries whose signatures were verified.
//
// Entries are write-once: Put with the digest already stored is a no-op, and
// Put with a different digest fails with ErrConflict and leaves the stored
// value untouched.
type Store interface {
	Get(ctx context.Context, key Key) (domain.Digest, bool, error)
	Put(ctx context.Context, key Key, digest domain.Digest) error
}
