package fingerprint

import (
	"fmt"

	"github.com/fedsearch/search-api/internal/domain"
)

// PostingV0 is the original posting layout. It carries the posting creation
// time and predates media attachments.
type PostingV0 struct {
	_             struct{} `cbor:",toarray"`
	Type          ObjectType
	Version       int
	OwnerName     string
	CreatedAt     int64
	BodySrcHash   []byte
	BodySrcFormat string
	Body          []byte
	BodyFormat    string
}

func (f *PostingV0) ObjectType() ObjectType { return f.Type }
func (f *PostingV0) SchemaVersion() int     { return f.Version }

// PostingV1 signs the revision (edit) time and the media root.
type PostingV1 struct {
	_                 struct{} `cbor:",toarray"`
	Type              ObjectType
	Version           int
	OwnerName         string
	RevisionCreatedAt int64
	BodySrcHash       []byte
	BodySrcFormat     string
	Body              []byte
	BodyFormat        string
	MediaRoot         []byte
}

func (f *PostingV1) ObjectType() ObjectType { return f.Type }
func (f *PostingV1) SchemaVersion() int     { return f.Version }

// CommentV0 references its posting and replied-to comment by digest.
type CommentV0 struct {
	_                 struct{} `cbor:",toarray"`
	Type              ObjectType
	Version           int
	OwnerName         string
	PostingDigest     []byte
	RepliedToDigest   []byte
	RevisionCreatedAt int64
	BodySrcHash       []byte
	BodySrcFormat     string
	Body              []byte
	BodyFormat        string
	MediaRoot         []byte
}

func (f *CommentV0) ObjectType() ObjectType { return f.Type }
func (f *CommentV0) SchemaVersion() int     { return f.Version }

type ReactionV0 struct {
	_           struct{} `cbor:",toarray"`
	Type        ObjectType
	Version     int
	OwnerName   string
	EntryDigest []byte
	Negative    bool
	Emoji       int
}

func (f *ReactionV0) ObjectType() ObjectType { return f.Type }
func (f *ReactionV0) SchemaVersion() int     { return f.Version }

type AttachmentV0 struct {
	_           struct{} `cbor:",toarray"`
	Type        ObjectType
	Version     int
	MediaDigest []byte
}

func (f *AttachmentV0) ObjectType() ObjectType { return f.Type }
func (f *AttachmentV0) SchemaVersion() int     { return f.Version }

// Posting builds the fingerprint of a posting revision in the given version.
func (c *Codec) Posting(p domain.PostingRevision, version int) (Fingerprint, error) {
	switch version {
	case 0:
		return &PostingV0{
			Type:          TypePosting,
			Version:       0,
			OwnerName:     p.OwnerName,
			CreatedAt:     p.CreatedAt.Unix(),
			BodySrcHash:   p.BodySrcHash,
			BodySrcFormat: p.BodySrcFormat,
			Body:          p.Body,
			BodyFormat:    p.BodyFormat,
		}, nil
	case 1:
		root, err := c.MediaRoot(p.Media)
		if err != nil {
			return nil, err
		}
		return &PostingV1{
			Type:              TypePosting,
			Version:           1,
			OwnerName:         p.OwnerName,
			RevisionCreatedAt: p.RevisionCreatedAt.Unix(),
			BodySrcHash:       p.BodySrcHash,
			BodySrcFormat:     p.BodySrcFormat,
			Body:              p.Body,
			BodyFormat:        p.BodyFormat,
			MediaRoot:         root[:],
		}, nil
	default:
		return nil, fmt.Errorf("%w: %s v%d", ErrUnknownVersion, TypePosting, version)
	}
}

// Comment builds the fingerprint of a comment revision. repliedTo is nil for
// top-level comments.
func (c *Codec) Comment(cr domain.CommentRevision, postingDigest domain.Digest, repliedTo *domain.Digest, version int) (Fingerprint, error) {
	switch version {
	case 0:
		root, err := c.MediaRoot(cr.Media)
		if err != nil {
			return nil, err
		}
		var replied []byte
		if repliedTo != nil {
			replied = repliedTo[:]
		}
		return &CommentV0{
			Type:              TypeComment,
			Version:           0,
			OwnerName:         cr.OwnerName,
			PostingDigest:     postingDigest[:],
			RepliedToDigest:   replied,
			RevisionCreatedAt: cr.RevisionCreatedAt.Unix(),
			BodySrcHash:       cr.BodySrcHash,
			BodySrcFormat:     cr.BodySrcFormat,
			Body:              cr.Body,
			BodyFormat:        cr.BodyFormat,
			MediaRoot:         root[:],
		}, nil
	default:
		return nil, fmt.Errorf("%w: %s v%d", ErrUnknownVersion, TypeComment, version)
	}
}

// Reaction builds the fingerprint of a reaction on the entry whose digest is
// entryDigest.
func (c *Codec) Reaction(r domain.Reaction, entryDigest domain.Digest, version int) (Fingerprint, error) {
	switch version {
	case 0:
		return &ReactionV0{
			Type:        TypeReaction,
			Version:     0,
			OwnerName:   r.OwnerName,
			EntryDigest: entryDigest[:],
			Negative:    r.Negative,
			Emoji:       r.Emoji,
		}, nil
	default:
		return nil, fmt.Errorf("%w: %s v%d", ErrUnknownVersion, TypeReaction, version)
	}
}

func (c *Codec) Attachment(mediaDigest []byte, version int) (Fingerprint, error) {
	switch version {
	case 0:
		return &AttachmentV0{
			Type:        TypeAttachment,
			Version:     0,
			MediaDigest: mediaDigest,
		}, nil
	default:
		return nil, fmt.Errorf("%w: %s v%d", ErrUnknownVersion, TypeAttachment, version)
	}
}
