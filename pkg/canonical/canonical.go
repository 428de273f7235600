// Package canonical provides deterministic serialization for hashing
// structured data. Serialization follows RFC 8785 (JSON Canonicalization
// Scheme): lexicographically sorted keys, no HTML escaping, canonical
// number formatting. Two semantically equal values always hash identically.
package canonical

import (
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"

	"github.com/greenproof/core/pkg/hashing"
)

// Marshal returns the RFC 8785 canonical JSON encoding of v.
func Marshal(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical: marshal: %w", err)
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonical: transform: %w", err)
	}
	return out, nil
}

// Hash returns the dual content hash of the canonical encoding of v.
func Hash(v any) (hashing.ContentHash, error) {
	b, err := Marshal(v)
	if err != nil {
		return "", err
	}
	return hashing.Hash(b), nil
}
