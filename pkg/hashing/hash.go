// Package hashing provides the dual-digest content hash used for audit
// lineage throughout GreenProof. Every content address is two independent
// digests over the same bytes, so a collision in one algorithm does not
// forge lineage.
package hashing

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// ContentHash is a dual digest in the form "SHA256:<hex>:BLAKE2B:<hex>".
type ContentHash string

const (
	algoSHA256  = "SHA256"
	algoBLAKE2B = "BLAKE2B"
)

// Hash computes the dual digest of data. It is a pure function: equal
// inputs always yield equal hashes in both components.
func Hash(data []byte) ContentHash {
	sum := sha256.Sum256(data)
	b2b := blake2b.Sum256(data)

	var sb strings.Builder
	sb.Grow(len(algoSHA256) + len(algoBLAKE2B) + 2*hex.EncodedLen(sha256.Size) + 3)
	sb.WriteString(algoSHA256)
	sb.WriteByte(':')
	sb.WriteString(hex.EncodeToString(sum[:]))
	sb.WriteByte(':')
	sb.WriteString(algoBLAKE2B)
	sb.WriteByte(':')
	sb.WriteString(hex.EncodeToString(b2b[:]))
	return ContentHash(sb.String())
}

// HashString computes the dual digest of the UTF-8 bytes of s.
func HashString(s string) ContentHash {
	return Hash([]byte(s))
}

// Empty is the digest of zero bytes, used as the Merkle sentinel root.
func Empty() ContentHash {
	return Hash(nil)
}

// String returns the hash as a plain string.
func (h ContentHash) String() string { return string(h) }

// Equal reports whether both digest components match.
func (h ContentHash) Equal(other ContentHash) bool {
	return h.Valid() && other.Valid() && h == other
}

// Valid checks the four-part "ALGO:hex:ALGO:hex" shape without recomputing
// any digest.
func (h ContentHash) Valid() bool {
	parts := strings.Split(string(h), ":")
	if len(parts) != 4 {
		return false
	}
	if parts[0] != algoSHA256 || parts[2] != algoBLAKE2B {
		return false
	}
	for _, hexPart := range []string{parts[1], parts[3]} {
		if len(hexPart) != hex.EncodedLen(sha256.Size) {
			return false
		}
		if _, err := hex.DecodeString(hexPart); err != nil {
			return false
		}
	}
	return true
}
