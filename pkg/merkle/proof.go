package merkle

import (
	"github.com/greenproof/core/pkg/hashing"
)

// Direction records which side the sibling hash sits on relative to the
// node being proven.
type Direction string

const (
	// SiblingLeft means the sibling is the left child; the current hash
	// recombines on the right.
	SiblingLeft Direction = "left"
	// SiblingRight means the sibling is the right child.
	SiblingRight Direction = "right"
)

// Proof is the minimal sibling path needed to verify that a leaf belongs
// to a tree with a given root.
type Proof struct {
	Valid      bool                  `json:"valid"`
	LeafHash   hashing.ContentHash   `json:"leaf_hash"`
	Path       []hashing.ContentHash `json:"path"`
	Directions []Direction           `json:"directions"`
	Root       hashing.ContentHash   `json:"root"`
}

// Prove generates the inclusion proof for leaves[index].
//
// An empty list or an out-of-range index yields Proof{Valid: false}, never
// a panic. A single-leaf tree yields an empty path that trivially verifies.
func Prove(leaves []hashing.ContentHash, index int) Proof {
	if len(leaves) == 0 || index < 0 || index >= len(leaves) {
		return Proof{Valid: false}
	}

	working := append([]hashing.ContentHash(nil), leaves...)
	idx := index

	var path []hashing.ContentHash
	var directions []Direction

	for len(working) > 1 {
		working = pad(working)
		if idx%2 == 0 {
			path = append(path, working[idx+1])
			directions = append(directions, SiblingRight)
		} else {
			path = append(path, working[idx-1])
			directions = append(directions, SiblingLeft)
		}
		working = nextLevel(working)
		idx /= 2
	}

	return Proof{
		Valid:      true,
		LeafHash:   leaves[index],
		Path:       path,
		Directions: directions,
		Root:       working[0],
	}
}

// Verify recombines leaf with the sibling path and compares the result to
// expectedRoot. It is a pure query: malformed or adversarial proofs return
// false, never an error.
func Verify(leaf hashing.ContentHash, proof Proof, expectedRoot hashing.ContentHash) bool {
	if !proof.Valid || len(proof.Path) != len(proof.Directions) {
		return false
	}
	current := leaf
	for i, sibling := range proof.Path {
		switch proof.Directions[i] {
		case SiblingRight:
			current = combine(current, sibling)
		case SiblingLeft:
			current = combine(sibling, current)
		default:
			return false
		}
	}
	return current == expectedRoot
}
