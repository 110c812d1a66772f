package fingerprint

import "fmt"

// ObjectType is the type tag leading every fingerprint.
type ObjectType string

const (
	TypePosting    ObjectType = "POSTING"
	TypeComment    ObjectType = "COMMENT"
	TypeReaction   ObjectType = "REACTION"
	TypeAttachment ObjectType = "ATTACHMENT"
	TypeCarte      ObjectType = "CARTE"
)

// Versions emitted by this build. Older versions remain decodable.
const (
	PostingVersion    = 1
	CommentVersion    = 0
	ReactionVersion   = 0
	AttachmentVersion = 0
	CarteVersion      = 1
)

// Schema describes one registered layout.
type Schema struct {
	Type    ObjectType
	Version int
	// New returns an empty value of the layout, ready for decoding.
	New func() Fingerprint
}

type schemaKey struct {
	t ObjectType
	v int
}

// Registry maps (object type, version) to a layout. A Registry is immutable
// after construction.
type Registry struct {
	schemas map[schemaKey]Schema
}

func NewRegistry(schemas ...Schema) *Registry {
	r := &Registry{schemas: make(map[schemaKey]Schema, len(schemas))}
	for _, s := range schemas {
		r.schemas[schemaKey{s.Type, s.Version}] = s
	}
	return r
}

// DefaultRegistry returns a registry holding every built-in layout.
func DefaultRegistry() *Registry {
	return NewRegistry(
		Schema{Type: TypePosting, Version: 0, New: func() Fingerprint { return &PostingV0{} }},
		Schema{Type: TypePosting, Version: 1, New: func() Fingerprint { return &PostingV1{} }},
		Schema{Type: TypeComment, Version: 0, New: func() Fingerprint { return &CommentV0{} }},
		Schema{Type: TypeReaction, Version: 0, New: func() Fingerprint { return &ReactionV0{} }},
		Schema{Type: TypeAttachment, Version: 0, New: func() Fingerprint { return &AttachmentV0{} }},
		Schema{Type: TypeCarte, Version: 0, New: func() Fingerprint { return &CarteV0{} }},
		Schema{Type: TypeCarte, Version: 1, New: func() Fingerprint { return &CarteV1{} }},
	)
}

// Lookup returns the schema for (t, v) or an ErrUnknownVersion error.
func (r *Registry) Lookup(t ObjectType, v int) (Schema, error) {
	s, ok := r.schemas[schemaKey{t, v}]
	if !ok {
		return Schema{}, fmt.Errorf("%w: %s v%d", ErrUnknownVersion, t, v)
	}
	return s, nil
}
