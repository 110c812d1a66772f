package remotenode

import (
	"context"
	"sync"

	"github.com/fedsearch/search-api/internal/domain"
	"github.com/fedsearch/search-api/internal/ports/out/remotenode"
)

type revKey struct {
	node     domain.NodeName
	posting  domain.EntryID
	comment  domain.EntryID
	revision domain.RevisionID
}

type reactionKey struct {
	node domain.NodeName
	ref  domain.ReactionRef
}

// Network is an in-memory stand-in for the set of remote nodes. Entries are
// published with the Add* methods. The revision added last for an entry is
// its current one. Fetches are counted per entry. It is safe for concurrent
// use.
type Network struct {
	mu sync.Mutex

	postings  map[revKey]domain.PostingRevision
	comments  map[revKey]domain.CommentRevision
	reactions map[reactionKey]domain.Reaction
	current   map[revKey]domain.RevisionID // revision field empty

	unreachable map[domain.NodeName]bool
	fetches     map[revKey]int
}

func NewNetwork() *Network {
	return &Network{
		postings:    make(map[revKey]domain.PostingRevision),
		comments:    make(map[revKey]domain.CommentRevision),
		reactions:   make(map[reactionKey]domain.Reaction),
		current:     make(map[revKey]domain.RevisionID),
		unreachable: make(map[domain.NodeName]bool),
		fetches:     make(map[revKey]int),
	}
}

func (n *Network) AddPosting(p domain.PostingRevision) {
	n.mu.Lock()
	defer n.mu.Unlock()
	k := revKey{node: p.NodeName, posting: p.PostingID, revision: p.RevisionID}
	n.postings[k] = p
	k.revision = ""
	n.current[k] = p.RevisionID
}

func (n *Network) AddComment(c domain.CommentRevision) {
	n.mu.Lock()
	defer n.mu.Unlock()
	k := revKey{node: c.NodeName, posting: c.PostingID, comment: c.CommentID, revision: c.RevisionID}
	n.comments[k] = c
	k.revision = ""
	n.current[k] = c.RevisionID
}

func (n *Network) AddReaction(r domain.Reaction) {
	n.mu.Lock()
	defer n.mu.Unlock()
	ref := domain.ReactionRef{PostingID: r.PostingID, CommentID: r.CommentID, OwnerName: r.OwnerName}
	n.reactions[reactionKey{node: r.NodeName, ref: ref}] = r
}

// SetUnreachable makes every fetch from node fail with
// remotenode.ErrUnreachable.
func (n *Network) SetUnreachable(node domain.NodeName, down bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.unreachable[node] = down
}

// PostingFetches reports how many times a posting (any revision) was fetched.
func (n *Network) PostingFetches(node domain.NodeName, postingID domain.EntryID) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.fetches[revKey{node: node, posting: postingID}]
}

// CommentFetches reports how many times a comment (any revision) was fetched.
func (n *Network) CommentFetches(node domain.NodeName, postingID, commentID domain.EntryID) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.fetches[revKey{node: node, posting: postingID, comment: commentID}]
}

// TotalFetches reports the number of fetches of any kind.
func (n *Network) TotalFetches() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	total := 0
	for _, c := range n.fetches {
		total += c
	}
	return total
}

func (n *Network) GetPostingRevision(ctx context.Context, node domain.NodeName, postingID domain.EntryID, revisionID domain.RevisionID) (domain.PostingRevision, error) {
	if err := ctx.Err(); err != nil {
		return domain.PostingRevision{}, err
	}
	n.mu.Lock()
	defer n.mu.Unlock()

	n.fetches[revKey{node: node, posting: postingID}]++
	if n.unreachable[node] {
		return domain.PostingRevision{}, remotenode.ErrUnreachable
	}
	k := revKey{node: node, posting: postingID, revision: revisionID}
	if revisionID == "" {
		k.revision = n.current[k]
	}
	p, ok := n.postings[k]
	if !ok {
		return domain.PostingRevision{}, remotenode.ErrNotFound
	}
	return clonePosting(p), nil
}

func (n *Network) GetCommentRevision(ctx context.Context, node domain.NodeName, postingID, commentID domain.EntryID, revisionID domain.RevisionID) (domain.CommentRevision, error) {
	if err := ctx.Err(); err != nil {
		return domain.CommentRevision{}, err
	}
	n.mu.Lock()
	defer n.mu.Unlock()

	n.fetches[revKey{node: node, posting: postingID, comment: commentID}]++
	if n.unreachable[node] {
		return domain.CommentRevision{}, remotenode.ErrUnreachable
	}
	k := revKey{node: node, posting: postingID, comment: commentID, revision: revisionID}
	if revisionID == "" {
		k.revision = n.current[k]
	}
	c, ok := n.comments[k]
	if !ok {
		return domain.CommentRevision{}, remotenode.ErrNotFound
	}
	return cloneComment(c), nil
}

func (n *Network) GetReaction(ctx context.Context, node domain.NodeName, ref domain.ReactionRef) (domain.Reaction, error) {
	if err := ctx.Err(); err != nil {
		return domain.Reaction{}, err
	}
	n.mu.Lock()
	defer n.mu.Unlock()

	n.fetches[revKey{node: node, posting: ref.PostingID, comment: ref.CommentID, revision: domain.RevisionID("reaction:" + ref.OwnerName)}]++
	if n.unreachable[node] {
		return domain.Reaction{}, remotenode.ErrUnreachable
	}
	r, ok := n.reactions[reactionKey{node: node, ref: ref}]
	if !ok {
		return domain.Reaction{}, remotenode.ErrNotFound
	}
	r.Signature = append([]byte(nil), r.Signature...)
	return r, nil
}

func clonePosting(p domain.PostingRevision) domain.PostingRevision {
	p.Media = cloneMedia(p.Media)
	p.Signature = append([]byte(nil), p.Signature...)
	return p
}

func cloneComment(c domain.CommentRevision) domain.CommentRevision {
	c.Media = cloneMedia(c.Media)
	c.Signature = append([]byte(nil), c.Signature...)
	if c.RepliedTo != nil {
		rt := *c.RepliedTo
		c.RepliedTo = &rt
	}
	return c
}

func cloneMedia(in []domain.MediaAttachment) []domain.MediaAttachment {
	if in == nil {
		return nil
	}
	out := make([]domain.MediaAttachment, len(in))
	for i, m := range in {
		out[i] = domain.MediaAttachment{MediaID: m.MediaID, Digest: append([]byte(nil), m.Digest...)}
	}
	return out
}
