package verification

import (
	"crypto/ed25519"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	memclock "github.com/fedsearch/search-api/internal/adapters/memory/clock"
	memdigest "github.com/fedsearch/search-api/internal/adapters/memory/digestcache"
	memnaming "github.com/fedsearch/search-api/internal/adapters/memory/namingsvc"
	memremote "github.com/fedsearch/search-api/internal/adapters/memory/remotenode"
	"github.com/fedsearch/search-api/internal/domain"
	"github.com/fedsearch/search-api/internal/platform/fingerprint"
	"github.com/fedsearch/search-api/internal/platform/naming"
	"github.com/fedsearch/search-api/internal/ports/out/namingsvc"
)

const node domain.NodeName = "alice_0"

var (
	t0       = time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	aliceKey = ed25519.NewKeyFromSeed(seed(1))
	bobKey   = ed25519.NewKeyFromSeed(seed(2))
)

func seed(b byte) []byte {
	s := make([]byte, ed25519.SeedSize)
	s[0] = b
	return s
}

type fixture struct {
	svc     *Service
	net     *memremote.Network
	reg     *memnaming.Registry
	digests *memdigest.Store
	codec   *fingerprint.Codec
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	reg := memnaming.NewRegistry()
	reg.Register(namingsvc.RegisteredName{Name: "alice", NodeURI: "https://alice.example", SigningKey: aliceKey.Public().(ed25519.PublicKey), ValidFrom: t0.Add(-time.Hour)})
	reg.Register(namingsvc.RegisteredName{Name: "bob", NodeURI: "https://bob.example", SigningKey: bobKey.Public().(ed25519.PublicKey), ValidFrom: t0.Add(-time.Hour)})

	names := naming.NewWithOptions(reg, naming.Options{Clock: memclock.NewManualClock(t0)})
	t.Cleanup(names.Close)

	codec := fingerprint.NewCodec(nil)
	opts.Codec = codec
	f := &fixture{
		net:     memremote.NewNetwork(),
		reg:     reg,
		digests: memdigest.NewStore(),
		codec:   codec,
	}
	f.svc = NewService(f.digests, f.net, names, opts)
	return f
}

func (f *fixture) posting(t *testing.T, id domain.EntryID, rev domain.RevisionID, key ed25519.PrivateKey) domain.PostingRevision {
	t.Helper()
	p := domain.PostingRevision{
		NodeName:          node,
		PostingID:         id,
		RevisionID:        rev,
		OwnerName:         "alice_0",
		CreatedAt:         t0,
		RevisionCreatedAt: t0.Add(time.Minute),
		BodySrcHash:       []byte{0xaa},
		BodySrcFormat:     "markdown",
		Body:              []byte(`{"text":"hello"}`),
		BodyFormat:        "message",
		Media:             []domain.MediaAttachment{{MediaID: "m1", Digest: []byte{1, 2, 3}}},
		SignatureVersion:  fingerprint.PostingVersion,
	}
	f.signPosting(t, &p, key)
	return p
}

func (f *fixture) signPosting(t *testing.T, p *domain.PostingRevision, key ed25519.PrivateKey) {
	t.Helper()
	fp, err := f.codec.Posting(*p, p.SignatureVersion)
	require.NoError(t, err)
	enc, err := f.codec.Encode(fp)
	require.NoError(t, err)
	p.Signature = ed25519.Sign(key, enc)
}

func (f *fixture) postingDigest(t *testing.T, p domain.PostingRevision) domain.Digest {
	t.Helper()
	fp, err := f.codec.Posting(p, p.SignatureVersion)
	require.NoError(t, err)
	d, err := f.codec.Digest(fp)
	require.NoError(t, err)
	return d
}

// comment builds a comment by bob on posting p. repliedTo may be nil; when
// set, replied must hold the digest of the comment replied to, or nil when
// the caller wants a deliberately unverifiable signature.
func (f *fixture) comment(t *testing.T, p domain.PostingRevision, id domain.EntryID, repliedTo *domain.RepliedTo, replied *domain.Digest) domain.CommentRevision {
	t.Helper()
	c := domain.CommentRevision{
		NodeName:          node,
		PostingID:         p.PostingID,
		CommentID:         id,
		RevisionID:        domain.RevisionID(string(id) + "-r1"),
		PostingRevisionID: p.RevisionID,
		RepliedTo:         repliedTo,
		OwnerName:         "bob_0",
		RevisionCreatedAt: t0.Add(10 * time.Minute),
		Body:              []byte(`{"text":"reply"}`),
		BodyFormat:        "message",
		SignatureVersion:  fingerprint.CommentVersion,
	}
	fp, err := f.codec.Comment(c, f.postingDigest(t, p), replied, c.SignatureVersion)
	require.NoError(t, err)
	enc, err := f.codec.Encode(fp)
	require.NoError(t, err)
	c.Signature = ed25519.Sign(bobKey, enc)
	return c
}

func (f *fixture) commentDigest(t *testing.T, p domain.PostingRevision, c domain.CommentRevision, replied *domain.Digest) domain.Digest {
	t.Helper()
	fp, err := f.codec.Comment(c, f.postingDigest(t, p), replied, c.SignatureVersion)
	require.NoError(t, err)
	d, err := f.codec.Digest(fp)
	require.NoError(t, err)
	return d
}

func (f *fixture) reaction(t *testing.T, postingID, commentID domain.EntryID, targetRev domain.RevisionID, target domain.Digest) domain.Reaction {
	t.Helper()
	r := domain.Reaction{
		NodeName:         node,
		PostingID:        postingID,
		CommentID:        commentID,
		TargetRevisionID: targetRev,
		OwnerName:        "bob_0",
		Emoji:            0x1f44d,
		CreatedAt:        t0.Add(time.Hour),
		SignatureVersion: fingerprint.ReactionVersion,
	}
	fp, err := f.codec.Reaction(r, target, r.SignatureVersion)
	require.NoError(t, err)
	enc, err := f.codec.Encode(fp)
	require.NoError(t, err)
	r.Signature = ed25519.Sign(bobKey, enc)
	return r
}
