package domain

import (
	"encoding/hex"
	"fmt"
)

// DigestSize is the size in bytes of a content digest.
const DigestSize = 32

// Digest is the hash of a fingerprint encoding. Digests are compared by value
// and stand in for "this exact content, verified".
type Digest [DigestSize]byte

func (d Digest) Hex() string { return hex.EncodeToString(d[:]) }

func (d Digest) String() string { return d.Hex() }

func (d Digest) IsZero() bool { return d == Digest{} }

// DigestFromBytes copies b into a Digest. It fails if b has the wrong length.
func DigestFromBytes(b []byte) (Digest, error) {
	var d Digest
	if len(b) != DigestSize {
		return d, fmt.Errorf("digest has %d bytes, want %d", len(b), DigestSize)
	}
	copy(d[:], b)
	return d, nil
}

// ParseDigestHex decodes a hex-encoded digest.
func ParseDigestHex(s string) (Digest, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Digest{}, fmt.Errorf("invalid digest hex: %w", err)
	}
	return DigestFromBytes(b)
}
