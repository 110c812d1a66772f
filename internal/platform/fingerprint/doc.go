// Package fingerprint implements the canonical, versioned encoding of
// verifiable objects (postings, comments, reactions, media attachments and
// cartes).
//
// A fingerprint is a positional CBOR array whose first two elements are the
// object type tag and the schema version. Encoding uses Core Deterministic
// Encoding (RFC 8949 §4.2), so the same fields always produce the same bytes.
// The encoding is the exact input to signing and verification, and its
// BLAKE3 hash is the entry's digest.
//
// Every (type, version) pair that has ever been emitted stays registered
// forever. An unknown pair is reported as ErrUnknownVersion; the codec never
// falls back to a nearby layout.
package fingerprint
