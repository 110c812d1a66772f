package fingerprint

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/blake3"

	"github.com/fedsearch/search-api/internal/domain"
)

var (
	// ErrUnknownVersion means no schema is registered for an (object type,
	// version) pair. It is fatal for the object being processed.
	ErrUnknownVersion = errors.New("fingerprint: unknown schema version")

	// ErrMalformed means the bytes are not a well-formed fingerprint.
	ErrMalformed = errors.New("fingerprint: malformed encoding")
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	// Remote nodes may omit empty byte strings; nil and empty must encode alike.
	encOptions.NilContainers = cbor.NilContainerAsEmpty
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("fingerprint: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("fingerprint: CBOR decoder initialization failed: " + err.Error())
	}
}

// Fingerprint is implemented by every registered layout.
type Fingerprint interface {
	ObjectType() ObjectType
	SchemaVersion() int
}

// Sum returns the digest of an encoded fingerprint.
func Sum(encoded []byte) domain.Digest {
	return domain.Digest(blake3.Sum256(encoded))
}

// Codec encodes and decodes fingerprints using a schema registry.
// It is safe for concurrent use.
type Codec struct {
	schemas *Registry
}

// NewCodec returns a codec over the given registry. A nil registry selects
// DefaultRegistry.
func NewCodec(schemas *Registry) *Codec {
	if schemas == nil {
		schemas = DefaultRegistry()
	}
	return &Codec{schemas: schemas}
}

// Encode returns the canonical bytes of fp.
func (c *Codec) Encode(fp Fingerprint) ([]byte, error) {
	if _, err := c.schemas.Lookup(fp.ObjectType(), fp.SchemaVersion()); err != nil {
		return nil, err
	}
	b, err := encMode.Marshal(fp)
	if err != nil {
		return nil, fmt.Errorf("fingerprint: encoding %s v%d: %w", fp.ObjectType(), fp.SchemaVersion(), err)
	}
	return b, nil
}

// Digest encodes fp and hashes the result.
func (c *Codec) Digest(fp Fingerprint) (domain.Digest, error) {
	b, err := c.Encode(fp)
	if err != nil {
		return domain.Digest{}, err
	}
	return Sum(b), nil
}

// DecodeFirst decodes the fingerprint at the start of data and returns the
// bytes that follow it. The layout is selected by the type tag and version
// declared in the leading array elements.
func (c *Codec) DecodeFirst(data []byte) (Fingerprint, []byte, error) {
	var raw cbor.RawMessage
	rest, err := decMode.UnmarshalFirst(data, &raw)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var elems []cbor.RawMessage
	if err := decMode.Unmarshal(raw, &elems); err != nil || len(elems) < 2 {
		return nil, nil, fmt.Errorf("%w: missing type and version header", ErrMalformed)
	}
	var objectType ObjectType
	if err := decMode.Unmarshal(elems[0], &objectType); err != nil {
		return nil, nil, fmt.Errorf("%w: type tag: %v", ErrMalformed, err)
	}
	var version int
	if err := decMode.Unmarshal(elems[1], &version); err != nil {
		return nil, nil, fmt.Errorf("%w: version: %v", ErrMalformed, err)
	}

	schema, err := c.schemas.Lookup(objectType, version)
	if err != nil {
		return nil, nil, err
	}
	fp := schema.New()
	if err := decMode.Unmarshal(raw, fp); err != nil {
		return nil, nil, fmt.Errorf("%w: %s v%d: %v", ErrMalformed, objectType, version, err)
	}
	return fp, rest, nil
}

// MediaRoot folds the attachments, in order, into a single digest: each media
// digest is wrapped in an attachment fingerprint, and the array of attachment
// encodings is hashed. An empty list hashes the empty array.
func (c *Codec) MediaRoot(media []domain.MediaAttachment) (domain.Digest, error) {
	encoded := make([][]byte, 0, len(media))
	for _, m := range media {
		fp, err := c.Attachment(m.Digest, AttachmentVersion)
		if err != nil {
			return domain.Digest{}, err
		}
		b, err := c.Encode(fp)
		if err != nil {
			return domain.Digest{}, err
		}
		encoded = append(encoded, b)
	}
	b, err := encMode.Marshal(encoded)
	if err != nil {
		return domain.Digest{}, fmt.Errorf("fingerprint: encoding media root: %w", err)
	}
	return Sum(b), nil
}
