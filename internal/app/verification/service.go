// Package verification establishes that entries fetched from remote nodes
// were signed by their owners and link correctly to what they reference.
//
// Verified digests are memoized per (node, entry, revision). A comment's
// fingerprint embeds the digest of its posting and of the comment it replies
// to, so verifying a comment verifies its whole reply chain first.
package verification

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fedsearch/search-api/internal/domain"
	"github.com/fedsearch/search-api/internal/platform/fingerprint"
	"github.com/fedsearch/search-api/internal/platform/metrics"
	"github.com/fedsearch/search-api/internal/platform/naming"
	"github.com/fedsearch/search-api/internal/ports/out/digestcache"
	"github.com/fedsearch/search-api/internal/ports/out/remotenode"
)

const (
	DefaultMaxReplyDepth = 64
	DefaultFetchTimeout  = 20 * time.Second
)

// KeyResolver returns the signing key valid for a node owner at a point in
// time.
type KeyResolver interface {
	LookupHistorical(ctx context.Context, name string, at time.Time) ([]byte, error)
}

type Options struct {
	MaxReplyDepth int
	FetchTimeout  time.Duration

	Codec   *fingerprint.Codec
	Logger  *zap.Logger
	Metrics *metrics.Collector
}

type Service struct {
	digests digestcache.Store
	remote  remotenode.Fetcher
	keys    KeyResolver

	codec        *fingerprint.Codec
	maxDepth     int
	fetchTimeout time.Duration
	log          *zap.Logger
	metrics      *metrics.Collector
}

func NewService(digests digestcache.Store, remote remotenode.Fetcher, keys KeyResolver, opts Options) *Service {
	if opts.MaxReplyDepth <= 0 {
		opts.MaxReplyDepth = DefaultMaxReplyDepth
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = DefaultFetchTimeout
	}
	if opts.Codec == nil {
		opts.Codec = fingerprint.NewCodec(nil)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Service{
		digests:      digests,
		remote:       remote,
		keys:         keys,
		codec:        opts.Codec,
		maxDepth:     opts.MaxReplyDepth,
		fetchTimeout: opts.FetchTimeout,
		log:          opts.Logger.Named("verification"),
		metrics:      opts.Metrics,
	}
}

// visitedSet holds the comment ids already entered by one top-level call.
type visitedSet map[domain.EntryID]struct{}

// VerifyPosting verifies a posting revision and returns its digest. An empty
// revisionID selects the current revision.
func (s *Service) VerifyPosting(ctx context.Context, node domain.NodeName, postingID domain.EntryID, revisionID domain.RevisionID) (domain.Digest, error) {
	log := s.callLogger(domain.EntryKindPosting, node, postingID, revisionID)
	start := time.Now()
	d, err := s.verifyPosting(ctx, log, node, postingID, revisionID)
	s.finish(log, domain.EntryKindPosting, start, d, err)
	return d, err
}

// VerifyComment verifies a comment revision, its posting and every comment
// up its reply chain.
func (s *Service) VerifyComment(ctx context.Context, node domain.NodeName, postingID, commentID domain.EntryID, revisionID domain.RevisionID) (domain.Digest, error) {
	log := s.callLogger(domain.EntryKindComment, node, commentID, revisionID)
	start := time.Now()
	d, err := s.verifyComment(ctx, log, node, postingID, commentID, revisionID, visitedSet{}, 1)
	s.finish(log, domain.EntryKindComment, start, d, err)
	return d, err
}

// VerifyReaction verifies a reaction and the entry it targets. Reactions are
// addressed by owner and may be replaced, so their digests are not memoized.
func (s *Service) VerifyReaction(ctx context.Context, node domain.NodeName, ref domain.ReactionRef) (domain.Digest, error) {
	entry := ref.PostingID
	if ref.CommentID != "" {
		entry = ref.CommentID
	}
	log := s.callLogger(domain.EntryKindReaction, node, entry, "").With(zap.String("owner", ref.OwnerName))
	start := time.Now()
	d, err := s.verifyReaction(ctx, log, node, ref)
	s.finish(log, domain.EntryKindReaction, start, d, err)
	return d, err
}

func (s *Service) verifyPosting(ctx context.Context, log *zap.Logger, node domain.NodeName, postingID domain.EntryID, revisionID domain.RevisionID) (domain.Digest, error) {
	if revisionID != "" {
		if d, ok := s.cached(ctx, log, digestcache.Key{NodeName: node, EntryID: postingID, RevisionID: revisionID}); ok {
			return d, nil
		}
	}

	p, err := fetch(ctx, s, domain.EntryKindPosting, func(ctx context.Context) (domain.PostingRevision, error) {
		return s.remote.GetPostingRevision(ctx, node, postingID, revisionID)
	})
	if err != nil {
		return domain.Digest{}, fmt.Errorf("posting %s/%s: %w", node, postingID, err)
	}
	key := digestcache.Key{NodeName: node, EntryID: postingID, RevisionID: p.RevisionID}
	if revisionID == "" {
		if d, ok := s.cached(ctx, log, key); ok {
			return d, nil
		}
	}
	if len(p.Signature) == 0 {
		return domain.Digest{}, fmt.Errorf("posting %s/%s@%s: %w", node, postingID, p.RevisionID, ErrEntryUnsigned)
	}

	fp, err := s.codec.Posting(p, p.SignatureVersion)
	if err != nil {
		return domain.Digest{}, fmt.Errorf("posting %s/%s@%s: %w", node, postingID, p.RevisionID, err)
	}
	d, err := s.checkAndRemember(ctx, log, key, fp, p.OwnerName, p.RevisionCreatedAt, p.Signature)
	if err != nil {
		return domain.Digest{}, fmt.Errorf("posting %s/%s@%s: %w", node, postingID, p.RevisionID, err)
	}
	return d, nil
}

func (s *Service) verifyComment(ctx context.Context, log *zap.Logger, node domain.NodeName, postingID, commentID domain.EntryID, revisionID domain.RevisionID, visited visitedSet, depth int) (domain.Digest, error) {
	if _, seen := visited[commentID]; seen {
		return domain.Digest{}, fmt.Errorf("comment %s/%s: %w", node, commentID, ErrReplyLoop)
	}
	if depth > s.maxDepth {
		return domain.Digest{}, fmt.Errorf("comment %s/%s at depth %d: %w", node, commentID, depth, ErrReplyChainTooDeep)
	}
	visited[commentID] = struct{}{}

	if revisionID != "" {
		if d, ok := s.cached(ctx, log, digestcache.Key{NodeName: node, EntryID: commentID, RevisionID: revisionID}); ok {
			return d, nil
		}
	}

	c, err := fetch(ctx, s, domain.EntryKindComment, func(ctx context.Context) (domain.CommentRevision, error) {
		return s.remote.GetCommentRevision(ctx, node, postingID, commentID, revisionID)
	})
	if err != nil {
		return domain.Digest{}, fmt.Errorf("comment %s/%s: %w", node, commentID, err)
	}
	key := digestcache.Key{NodeName: node, EntryID: commentID, RevisionID: c.RevisionID}
	if revisionID == "" {
		if d, ok := s.cached(ctx, log, key); ok {
			return d, nil
		}
	}
	if len(c.Signature) == 0 {
		return domain.Digest{}, fmt.Errorf("comment %s/%s@%s: %w", node, commentID, c.RevisionID, ErrEntryUnsigned)
	}

	postingDigest, err := s.verifyPosting(ctx, log, node, postingID, c.PostingRevisionID)
	if err != nil {
		return domain.Digest{}, fmt.Errorf("comment %s/%s@%s: %w", node, commentID, c.RevisionID, err)
	}

	var repliedTo *domain.Digest
	if c.RepliedTo != nil {
		rd, err := s.verifyComment(ctx, log, node, postingID, c.RepliedTo.CommentID, c.RepliedTo.RevisionID, visited, depth+1)
		if err != nil {
			return domain.Digest{}, fmt.Errorf("comment %s/%s@%s: reply to: %w", node, commentID, c.RevisionID, err)
		}
		repliedTo = &rd
	}

	fp, err := s.codec.Comment(c, postingDigest, repliedTo, c.SignatureVersion)
	if err != nil {
		return domain.Digest{}, fmt.Errorf("comment %s/%s@%s: %w", node, commentID, c.RevisionID, err)
	}
	d, err := s.checkAndRemember(ctx, log, key, fp, c.OwnerName, c.RevisionCreatedAt, c.Signature)
	if err != nil {
		return domain.Digest{}, fmt.Errorf("comment %s/%s@%s: %w", node, commentID, c.RevisionID, err)
	}
	return d, nil
}

func (s *Service) verifyReaction(ctx context.Context, log *zap.Logger, node domain.NodeName, ref domain.ReactionRef) (domain.Digest, error) {
	r, err := fetch(ctx, s, domain.EntryKindReaction, func(ctx context.Context) (domain.Reaction, error) {
		return s.remote.GetReaction(ctx, node, ref)
	})
	if err != nil {
		return domain.Digest{}, fmt.Errorf("reaction of %s: %w", ref.OwnerName, err)
	}
	if len(r.Signature) == 0 {
		return domain.Digest{}, fmt.Errorf("reaction of %s: %w", ref.OwnerName, ErrEntryUnsigned)
	}

	var target domain.Digest
	if r.OnComment() {
		target, err = s.verifyComment(ctx, log, node, r.PostingID, r.CommentID, r.TargetRevisionID, visitedSet{}, 1)
	} else {
		target, err = s.verifyPosting(ctx, log, node, r.PostingID, r.TargetRevisionID)
	}
	if err != nil {
		return domain.Digest{}, fmt.Errorf("reaction of %s: target: %w", ref.OwnerName, err)
	}

	fp, err := s.codec.Reaction(r, target, r.SignatureVersion)
	if err != nil {
		return domain.Digest{}, fmt.Errorf("reaction of %s: %w", ref.OwnerName, err)
	}
	payload, err := s.codec.Encode(fp)
	if err != nil {
		return domain.Digest{}, fmt.Errorf("reaction of %s: %w", ref.OwnerName, err)
	}
	if err := s.checkSignature(ctx, r.OwnerName, r.CreatedAt, payload, r.Signature); err != nil {
		return domain.Digest{}, fmt.Errorf("reaction of %s: %w", ref.OwnerName, err)
	}
	return fingerprint.Sum(payload), nil
}

// checkAndRemember verifies the signature over fp and records its digest.
func (s *Service) checkAndRemember(ctx context.Context, log *zap.Logger, key digestcache.Key, fp fingerprint.Fingerprint, owner string, signedAt time.Time, sig []byte) (domain.Digest, error) {
	payload, err := s.codec.Encode(fp)
	if err != nil {
		return domain.Digest{}, err
	}
	if err := s.checkSignature(ctx, owner, signedAt, payload, sig); err != nil {
		return domain.Digest{}, err
	}

	d := fingerprint.Sum(payload)
	if err := s.digests.Put(ctx, key, d); err != nil {
		if errors.Is(err, digestcache.ErrConflict) {
			log.Warn("verified digest differs from recorded one",
				zap.String("entry", string(key.EntryID)),
				zap.String("revision", string(key.RevisionID)),
				zap.String("digest", d.Hex()),
			)
			return domain.Digest{}, fmt.Errorf("%w: computed %s", ErrDigestConflict, d.Hex())
		}
		// The digest is still valid; it will be recomputed next time.
		log.Warn("digest cache write failed", zap.Error(err))
	}
	return d, nil
}

func (s *Service) checkSignature(ctx context.Context, owner string, signedAt time.Time, payload, sig []byte) error {
	key, err := s.keys.LookupHistorical(ctx, owner, signedAt)
	switch {
	case errors.Is(err, naming.ErrNameNotFound):
		return fmt.Errorf("%w: %s at %s", ErrSigningKeyUnavailable, owner, signedAt.Format(time.RFC3339))
	case err != nil:
		return fmt.Errorf("%w: %w", ErrNamingUnavailable, err)
	case len(key) != ed25519.PublicKeySize:
		return fmt.Errorf("%w: %s has a %d-byte key", ErrSigningKeyUnavailable, owner, len(key))
	}
	if !ed25519.Verify(ed25519.PublicKey(key), payload, sig) {
		return ErrSignatureMismatch
	}
	return nil
}

func (s *Service) cached(ctx context.Context, log *zap.Logger, key digestcache.Key) (domain.Digest, bool) {
	d, ok, err := s.digests.Get(ctx, key)
	if err != nil {
		log.Warn("digest cache read failed", zap.Error(err))
		return domain.Digest{}, false
	}
	s.metrics.DigestCache(ok)
	return d, ok
}

// fetch runs one remote call under the fetch timeout and maps its errors.
func fetch[T any](ctx context.Context, s *Service, kind domain.EntryKind, get func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	defer cancel()

	v, err := get(ctx)
	switch {
	case err == nil:
		s.metrics.RemoteFetch(string(kind), "ok")
		return v, nil
	case errors.Is(err, remotenode.ErrNotFound):
		s.metrics.RemoteFetch(string(kind), "not_found")
		return v, fmt.Errorf("%w: %w", ErrEntryNotFound, err)
	default:
		s.metrics.RemoteFetch(string(kind), "error")
		return v, fmt.Errorf("%w: %w", ErrRemoteUnavailable, err)
	}
}

func (s *Service) callLogger(kind domain.EntryKind, node domain.NodeName, entry domain.EntryID, revision domain.RevisionID) *zap.Logger {
	return s.log.With(
		zap.String("call", uuid.NewString()),
		zap.String("kind", string(kind)),
		zap.String("node", string(node)),
		zap.String("entry", string(entry)),
		zap.String("revision", string(revision)),
	)
}

func (s *Service) finish(log *zap.Logger, kind domain.EntryKind, start time.Time, d domain.Digest, err error) {
	outcome := Outcome(err)
	s.metrics.Verification(string(kind), outcome, time.Since(start).Seconds())
	switch {
	case err == nil:
		log.Debug("verified", zap.String("digest", d.Hex()))
	case IsRetryable(err):
		log.Info("verification deferred", zap.String("outcome", outcome), zap.Error(err))
	default:
		log.Info("verification rejected", zap.String("outcome", outcome), zap.Error(err))
	}
}

// Outcome names the class of a verification result for logs, metrics and
// API responses.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrEntryNotFound):
		return "not-found"
	case errors.Is(err, ErrEntryUnsigned):
		return "unsigned"
	case errors.Is(err, ErrReplyLoop):
		return "reply-loop"
	case errors.Is(err, ErrReplyChainTooDeep):
		return "reply-chain-too-deep"
	case errors.Is(err, ErrSignatureMismatch):
		return "signature-mismatch"
	case errors.Is(err, ErrSigningKeyUnavailable):
		return "signing-key-unavailable"
	case errors.Is(err, ErrDigestConflict):
		return "digest-conflict"
	case errors.Is(err, fingerprint.ErrUnknownVersion):
		return "unknown-version"
	case errors.Is(err, ErrRemoteUnavailable):
		return "remote-unavailable"
	case errors.Is(err, ErrNamingUnavailable):
		return "naming-unavailable"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "error"
	}
}
