package remotenode

import (
	"context"

	"github.com/fedsearch/search-api/internal/domain"
)

// Fetcher retrieves the public representation of entries from their origin
// nodes. An empty revision ID selects the current revision.
type Fetcher interface {
	GetPostingRevision(ctx context.Context, node domain.NodeName, postingID domain.EntryID, revisionID domain.RevisionID) (domain.PostingRevision, error)
	GetCommentRevision(ctx context.Context, node domain.NodeName, postingID, commentID domain.EntryID, revisionID domain.RevisionID) (domain.CommentRevision, error)
	GetReaction(ctx context.Context, node domain.NodeName, ref domain.ReactionRef) (domain.Reaction, error)
}
