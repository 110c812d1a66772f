package domain

// NodeName is a registered node name, optionally carrying a generation suffix
// ("alice_0"). Resolution rules live in the naming package.
type NodeName string

// EntryID identifies a posting or comment on its node.
type EntryID string

// RevisionID identifies one edited version of an entry. Empty means "current".
type RevisionID string

// EntryKind enumerates the verifiable content kinds.
type EntryKind string

const (
	EntryKindPosting  EntryKind = "posting"
	EntryKindComment  EntryKind = "comment"
	EntryKindReaction EntryKind = "reaction"
)
