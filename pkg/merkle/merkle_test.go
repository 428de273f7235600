package merkle

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/greenproof/core/pkg/hashing"
)

func makeLeaves(n int) []hashing.ContentHash {
	leaves := make([]hashing.ContentHash, n)
	for i := range leaves {
		leaves[i] = hashing.HashString(fmt.Sprintf("leaf-%d", i))
	}
	return leaves
}

func TestRootEmptyIsSentinel(t *testing.T) {
	assert.Equal(t, hashing.Empty(), Root(nil))
	assert.Equal(t, hashing.Empty(), Root([]hashing.ContentHash{}))
}

func TestRootSingleLeaf(t *testing.T) {
	leaf := hashing.HashString("only")
	assert.Equal(t, leaf, Root([]hashing.ContentHash{leaf}))
}

func TestRootDuplicatesLastOnOddLevel(t *testing.T) {
	leaves := makeLeaves(3)
	// Level 0: [L0, L1, L2, L2]
	// Level 1: [H(L0+L1), H(L2+L2)]
	n1 := combine(leaves[0], leaves[1])
	n2 := combine(leaves[2], leaves[2])
	assert.Equal(t, combine(n1, n2), Root(leaves))
}

func TestRootDoesNotMutateInput(t *testing.T) {
	leaves := makeLeaves(5)
	snapshot := append([]hashing.ContentHash(nil), leaves...)
	Root(leaves)
	Prove(leaves, 4)
	assert.Equal(t, snapshot, leaves)
}

func TestProveVerifyRoundTrip(t *testing.T) {
	for _, n := range []int{1, 2, 3, 4, 5, 7, 8, 16, 33} {
		leaves := makeLeaves(n)
		root := Root(leaves)
		for i := range leaves {
			proof := Prove(leaves, i)
			assert.True(t, proof.Valid, "n=%d i=%d", n, i)
			assert.Equal(t, root, proof.Root)
			assert.True(t, Verify(leaves[i], proof, root), "n=%d i=%d", n, i)
		}
	}
}

// Proofs for leaves paired with the duplicated node must still verify; this
// guards against the padding rule diverging between Root and Prove.
func TestProveOddSizedLastLeaf(t *testing.T) {
	for _, n := range []int{3, 5} {
		leaves := makeLeaves(n)
		root := Root(leaves)
		proof := Prove(leaves, n-1)
		assert.True(t, Verify(leaves[n-1], proof, root), "n=%d", n)
		// The first sibling of the last leaf is the leaf itself.
		assert.Equal(t, leaves[n-1], proof.Path[0])
		assert.Equal(t, SiblingRight, proof.Directions[0])
	}
}

func TestProveSingleLeafTrivial(t *testing.T) {
	leaves := makeLeaves(1)
	proof := Prove(leaves, 0)
	assert.True(t, proof.Valid)
	assert.Empty(t, proof.Path)
	assert.Empty(t, proof.Directions)
	assert.Equal(t, leaves[0], proof.Root)
	assert.True(t, Verify(leaves[0], proof, leaves[0]))
}

func TestProveIndexOutOfRange(t *testing.T) {
	leaves := makeLeaves(4)
	for _, idx := range []int{-1, 4, 100} {
		proof := Prove(leaves, idx)
		assert.False(t, proof.Valid)
		assert.False(t, Verify(hashing.HashString("x"), proof, Root(leaves)))
	}
	assert.False(t, Prove(nil, 0).Valid)
}

func TestVerifyWrongRoot(t *testing.T) {
	leaves := makeLeaves(5)
	root := Root(leaves)
	otherRoot := Root(makeLeaves(4))
	proof := Prove(leaves, 2)

	assert.True(t, Verify(leaves[2], proof, root))
	assert.False(t, Verify(leaves[2], proof, otherRoot))
	assert.False(t, Verify(leaves[3], proof, root))
}

func TestVerifyMalformedProof(t *testing.T) {
	leaves := makeLeaves(4)
	root := Root(leaves)

	proof := Prove(leaves, 1)
	proof.Directions = proof.Directions[:1]
	assert.False(t, Verify(leaves[1], proof, root))

	proof = Prove(leaves, 1)
	proof.Directions[0] = Direction("up")
	assert.False(t, Verify(leaves[1], proof, root))
}
