// Package crypto provides the cryptographic primitives used by the SPEKE
// session layer. The primitive set is fixed per build: SHA-256 for hashing,
// HMAC-SHA256 for message authentication and HKDF-SHA256 for key derivation.
package crypto

import (
	"crypto/sha256"
	"hash"
)

// HashSize is the digest length of the protocol hash in bytes.
const HashSize = sha256.Size

// SHA256 computes the SHA-256 hash of a message.
//
// Returns a 32-byte (256-bit) digest.
func SHA256(message []byte) [HashSize]byte {
	return sha256.Sum256(message)
}

// SHA256Slice computes the SHA-256 hash and returns it as a slice.
// This is a convenience function for cases where a slice is preferred.
func SHA256Slice(message []byte) []byte {
	h := sha256.Sum256(message)
	return h[:]
}

// NewSHA256 returns a new hash.Hash for computing SHA-256 digests
// incrementally. This is useful for hashing concatenated inputs without
// building an intermediate buffer.
//
// Usage:
//
//	h := crypto.NewSHA256()
//	h.Write(data1)
//	h.Write(data2)
//	digest := h.Sum(nil)
func NewSHA256() hash.Hash {
	return sha256.New()
}
