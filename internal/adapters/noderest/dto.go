package noderest

import (
	"time"

	"github.com/fedsearch/search-api/internal/domain"
)

// Wire shapes of the node API. Timestamps are unix seconds; binary values are
// base64.

type mediaJSON struct {
	MediaID string `json:"mediaId"`
	Hash    []byte `json:"hash"`
}

type postingRevisionJSON struct {
	ID                string      `json:"id"`
	RevisionID        string      `json:"revisionId"`
	OwnerName         string      `json:"ownerName"`
	CreatedAt         int64       `json:"createdAt"`
	RevisionCreatedAt int64       `json:"revisionCreatedAt"`
	BodySrcHash       []byte      `json:"bodySrcHash"`
	BodySrcFormat     string      `json:"bodySrcFormat"`
	Body              string      `json:"body"`
	BodyFormat        string      `json:"bodyFormat"`
	Media             []mediaJSON `json:"media"`
	Signature         []byte      `json:"signature"`
	SignatureVersion  int         `json:"signatureVersion"`
}

type repliedToJSON struct {
	ID         string `json:"id"`
	RevisionID string `json:"revisionId"`
}

type commentRevisionJSON struct {
	ID                string         `json:"id"`
	PostingID         string         `json:"postingId"`
	PostingRevisionID string         `json:"postingRevisionId"`
	RevisionID        string         `json:"revisionId"`
	RepliedTo         *repliedToJSON `json:"repliedTo"`
	OwnerName         string         `json:"ownerName"`
	RevisionCreatedAt int64          `json:"revisionCreatedAt"`
	BodySrcHash       []byte         `json:"bodySrcHash"`
	BodySrcFormat     string         `json:"bodySrcFormat"`
	Body              string         `json:"body"`
	BodyFormat        string         `json:"bodyFormat"`
	Media             []mediaJSON    `json:"media"`
	Signature         []byte         `json:"signature"`
	SignatureVersion  int            `json:"signatureVersion"`
}

type reactionJSON struct {
	PostingID         string `json:"postingId"`
	PostingRevisionID string `json:"postingRevisionId"`
	CommentID         string `json:"commentId"`
	CommentRevisionID string `json:"commentRevisionId"`
	OwnerName         string `json:"ownerName"`
	Negative          bool   `json:"negative"`
	Emoji             int    `json:"emoji"`
	CreatedAt         int64  `json:"createdAt"`
	Signature         []byte `json:"signature"`
	SignatureVersion  int    `json:"signatureVersion"`
}

func unixTime(s int64) time.Time {
	return time.Unix(s, 0).UTC()
}

func toMedia(in []mediaJSON) []domain.MediaAttachment {
	if len(in) == 0 {
		return nil
	}
	out := make([]domain.MediaAttachment, len(in))
	for i, m := range in {
		out[i] = domain.MediaAttachment{MediaID: m.MediaID, Digest: m.Hash}
	}
	return out
}

func (p postingRevisionJSON) toDomain(node domain.NodeName) domain.PostingRevision {
	return domain.PostingRevision{
		NodeName:          node,
		PostingID:         domain.EntryID(p.ID),
		RevisionID:        domain.RevisionID(p.RevisionID),
		OwnerName:         p.OwnerName,
		CreatedAt:         unixTime(p.CreatedAt),
		RevisionCreatedAt: unixTime(p.RevisionCreatedAt),
		BodySrcHash:       p.BodySrcHash,
		BodySrcFormat:     p.BodySrcFormat,
		Body:              []byte(p.Body),
		BodyFormat:        p.BodyFormat,
		Media:             toMedia(p.Media),
		Signature:         p.Signature,
		SignatureVersion:  p.SignatureVersion,
	}
}

func (c commentRevisionJSON) toDomain(node domain.NodeName) domain.CommentRevision {
	out := domain.CommentRevision{
		NodeName:          node,
		PostingID:         domain.EntryID(c.PostingID),
		CommentID:         domain.EntryID(c.ID),
		RevisionID:        domain.RevisionID(c.RevisionID),
		PostingRevisionID: domain.RevisionID(c.PostingRevisionID),
		OwnerName:         c.OwnerName,
		RevisionCreatedAt: unixTime(c.RevisionCreatedAt),
		BodySrcHash:       c.BodySrcHash,
		BodySrcFormat:     c.BodySrcFormat,
		Body:              []byte(c.Body),
		BodyFormat:        c.BodyFormat,
		Media:             toMedia(c.Media),
		Signature:         c.Signature,
		SignatureVersion:  c.SignatureVersion,
	}
	if c.RepliedTo != nil && c.RepliedTo.ID != "" {
		out.RepliedTo = &domain.RepliedTo{
			CommentID:  domain.EntryID(c.RepliedTo.ID),
			RevisionID: domain.RevisionID(c.RepliedTo.RevisionID),
		}
	}
	return out
}

func (r reactionJSON) toDomain(node domain.NodeName) domain.Reaction {
	target := r.PostingRevisionID
	if r.CommentID != "" {
		target = r.CommentRevisionID
	}
	return domain.Reaction{
		NodeName:         node,
		PostingID:        domain.EntryID(r.PostingID),
		CommentID:        domain.EntryID(r.CommentID),
		TargetRevisionID: domain.RevisionID(target),
		OwnerName:        r.OwnerName,
		Negative:         r.Negative,
		Emoji:            r.Emoji,
		CreatedAt:        unixTime(r.CreatedAt),
		Signature:        r.Signature,
		SignatureVersion: r.SignatureVersion,
	}
}
