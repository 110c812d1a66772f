package domain

import "time"

// MediaAttachment is a media item attached to a posting or comment. Digest is
// the hash of the media bytes as declared by the origin node.
type MediaAttachment struct {
	MediaID string
	Digest  []byte
}

// PostingRevision is the public representation of one revision of a posting
// as served by its origin node.
type PostingRevision struct {
	NodeName   NodeName
	PostingID  EntryID
	RevisionID RevisionID

	OwnerName string

	// CreatedAt is when the posting itself was created.
	CreatedAt time.Time
	// RevisionCreatedAt is when this revision was produced (edit time).
	RevisionCreatedAt time.Time

	BodySrcHash   []byte
	BodySrcFormat string
	Body          []byte
	BodyFormat    string

	Media []MediaAttachment

	Signature        []byte
	SignatureVersion int
}

// RepliedTo points at the comment (and its revision) a reply answers.
type RepliedTo struct {
	CommentID  EntryID
	RevisionID RevisionID
}

// CommentRevision is the public representation of one revision of a comment.
// Comments live on the node of the posting they belong to.
type CommentRevision struct {
	NodeName   NodeName
	PostingID  EntryID
	CommentID  EntryID
	RevisionID RevisionID

	// PostingRevisionID is the posting revision the comment was written under.
	PostingRevisionID RevisionID
	// RepliedTo is nil for top-level comments.
	RepliedTo *RepliedTo

	OwnerName         string
	RevisionCreatedAt time.Time

	BodySrcHash   []byte
	BodySrcFormat string
	Body          []byte
	BodyFormat    string

	Media []MediaAttachment

	Signature        []byte
	SignatureVersion int
}

// ReactionRef addresses a reaction by its target and owner. CommentID is empty
// for reactions on the posting itself.
type ReactionRef struct {
	PostingID EntryID
	CommentID EntryID
	OwnerName string
}

// Reaction is the public representation of a reaction to a posting or comment.
type Reaction struct {
	NodeName  NodeName
	PostingID EntryID
	CommentID EntryID

	// TargetRevisionID is the revision of the posting or comment reacted to.
	TargetRevisionID RevisionID

	OwnerName string
	Negative  bool
	Emoji     int
	CreatedAt time.Time

	Signature        []byte
	SignatureVersion int
}

// OnComment reports whether the reaction targets a comment.
func (r Reaction) OnComment() bool { return r.CommentID != "" }
