// Package merkle computes Merkle commitments over ordered lists of content
// hashes. Nodes combine by dual-hashing the string concatenation of the two
// child hashes. Levels with an odd node count duplicate the last node; root
// computation and proof generation share one level-construction primitive so
// the padding rule cannot drift between them.
package merkle

import (
	"github.com/greenproof/core/pkg/hashing"
)

// Root computes the Merkle root of leaves.
//
// An empty list yields the sentinel (hash of empty content). A single leaf
// is its own root.
func Root(leaves []hashing.ContentHash) hashing.ContentHash {
	if len(leaves) == 0 {
		return hashing.Empty()
	}
	working := append([]hashing.ContentHash(nil), leaves...)
	for len(working) > 1 {
		working = nextLevel(working)
	}
	return working[0]
}

// pad duplicates the last node when the level has an odd count.
func pad(level []hashing.ContentHash) []hashing.ContentHash {
	if len(level)%2 == 1 {
		level = append(level, level[len(level)-1])
	}
	return level
}

// combine hashes the concatenation of the two child hash strings.
func combine(left, right hashing.ContentHash) hashing.ContentHash {
	return hashing.HashString(string(left) + string(right))
}

// nextLevel pads level and collapses adjacent pairs into their parents.
func nextLevel(level []hashing.ContentHash) []hashing.ContentHash {
	level = pad(level)
	next := make([]hashing.ContentHash, len(level)/2)
	for i := 0; i < len(level); i += 2 {
		next[i/2] = combine(level[i], level[i+1])
	}
	return next
}
