package proofchain

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greenproof/core/pkg/hashing"
	"github.com/greenproof/core/pkg/ledger"
	"github.com/greenproof/core/pkg/merkle"
	"github.com/greenproof/core/pkg/receipt"
)

func newChain(t *testing.T, opts ...ChainOption) (*Chain, *ledger.Emitter) {
	t.Helper()
	store, err := ledger.NewFileStore(filepath.Join(t.TempDir(), "receipts.jsonl"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	e := ledger.NewEmitter(store)
	return NewChain(e, opts...), e
}

func leaves(n int) []hashing.ContentHash {
	out := make([]hashing.ContentHash, n)
	for i := range out {
		out[i] = hashing.HashString(string(rune('a' + i)))
	}
	return out
}

func TestAddReturnsPositions(t *testing.T) {
	c, _ := newChain(t)
	for i, h := range leaves(4) {
		assert.Equal(t, i, c.Add(h))
	}
	assert.Equal(t, 4, c.Len())
}

func TestAnchorEmptyChain(t *testing.T) {
	c, _ := newChain(t)
	_, err := c.Anchor(context.Background(), "periodic")
	assert.ErrorIs(t, err, ErrEmptyChain)
}

func TestAnchorCommitsCurrentLeaves(t *testing.T) {
	c, e := newChain(t)
	ls := leaves(3)
	for _, h := range ls {
		c.Add(h)
	}

	a, err := c.Anchor(context.Background(), "periodic")
	require.NoError(t, err)
	assert.Equal(t, 0, a.Height)
	assert.Equal(t, 3, a.LeafCount)
	assert.Equal(t, merkle.Root(ls), a.MerkleRoot)
	assert.Nil(t, a.PreviousAnchor)
	assert.False(t, a.AnchoredAt.IsZero())

	receipts, err := e.List(context.Background())
	require.NoError(t, err)
	require.Len(t, receipts, 1)
	assert.Equal(t, receipt.TypeAnchor, receipts[0].Type())
	assert.Equal(t, a.MerkleRoot.String(), receipts[0]["merkle_root"])
	assert.Equal(t, "periodic", receipts[0]["anchor_type"])
}

func TestDoubleAnchorLinksAndAdvancesHeight(t *testing.T) {
	c, _ := newChain(t)
	for _, h := range leaves(5) {
		c.Add(h)
	}
	ctx := context.Background()

	first, err := c.Anchor(ctx, "periodic")
	require.NoError(t, err)
	second, err := c.Anchor(ctx, "periodic")
	require.NoError(t, err)

	// No intervening appends: same commitment, new height, hash link back.
	assert.Equal(t, first.MerkleRoot, second.MerkleRoot)
	assert.Equal(t, first.LeafCount, second.LeafCount)
	assert.Equal(t, first.Height+1, second.Height)
	require.NotNil(t, second.PreviousAnchor)
	assert.Equal(t, first.MerkleRoot, *second.PreviousAnchor)
}

func TestAnchorThrottled(t *testing.T) {
	c, _ := newChain(t, WithMinAnchorInterval(time.Hour))
	c.Add(hashing.HashString("x"))
	ctx := context.Background()

	_, err := c.Anchor(ctx, "periodic")
	require.NoError(t, err)
	_, err = c.Anchor(ctx, "periodic")
	assert.ErrorIs(t, err, ErrAnchorThrottled)
}

func TestProveKnownLeaf(t *testing.T) {
	c, e := newChain(t)
	ls := leaves(7)
	for _, h := range ls {
		c.Add(h)
	}
	ctx := context.Background()

	for _, h := range ls {
		proof, err := c.Prove(ctx, h)
		require.NoError(t, err)
		require.True(t, proof.Valid)
		assert.True(t, Verify(h, proof, merkle.Root(ls)))
	}

	receipts, err := e.List(ctx)
	require.NoError(t, err)
	require.Len(t, receipts, len(ls))
	assert.Equal(t, receipt.TypeProofGenerated, receipts[0].Type())
	assert.Equal(t, string(ls[0]), receipts[0]["target_hash"])
}

func TestProveUnknownLeaf(t *testing.T) {
	c, e := newChain(t)
	c.Add(hashing.HashString("present"))

	proof, err := c.Prove(context.Background(), hashing.HashString("absent"))
	require.NoError(t, err)
	assert.False(t, proof.Valid)

	// No receipt for a proof that was never generated.
	n, err := e.Len(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestVerifyRejectsWrongRoot(t *testing.T) {
	c, _ := newChain(t)
	ls := leaves(4)
	for _, h := range ls {
		c.Add(h)
	}

	proof, err := c.Prove(context.Background(), ls[2])
	require.NoError(t, err)
	assert.False(t, Verify(ls[2], proof, hashing.HashString("other-root")))
}

func TestVerifyChainIntegrity(t *testing.T) {
	c, e := newChain(t)
	ctx := context.Background()

	// Empty chain is trivially valid.
	report, err := c.VerifyChainIntegrity(ctx)
	require.NoError(t, err)
	assert.True(t, report.Valid)
	assert.Zero(t, report.ChainLength)

	for _, h := range leaves(9) {
		c.Add(h)
	}
	report, err = c.VerifyChainIntegrity(ctx)
	require.NoError(t, err)
	assert.True(t, report.Valid)
	assert.Equal(t, 9, report.ChainLength)
	assert.Empty(t, report.InvalidPositions)

	receipts, err := e.List(ctx)
	require.NoError(t, err)
	require.Len(t, receipts, 2)
	assert.Equal(t, receipt.TypeChainIntegrity, receipts[1].Type())
	assert.Equal(t, true, receipts[1]["valid"])
}

func TestLoadFromLedger(t *testing.T) {
	c, e := newChain(t)
	ctx := context.Background()

	var want []hashing.ContentHash
	for i := 0; i < 3; i++ {
		r, err := e.Emit(ctx, receipt.Receipt{
			receipt.FieldType:    receipt.TypeIngest,
			receipt.FieldPayload: map[string]any{"i": i},
			"source":             "unit",
			"record_count":       i,
		})
		require.NoError(t, err)
		want = append(want, r.PayloadHash())
	}

	n, err := c.LoadFromLedger(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, want, c.Snapshot())
}

func TestResetClearsChain(t *testing.T) {
	c, _ := newChain(t)
	c.Add(hashing.HashString("x"))
	_, err := c.Anchor(context.Background(), "periodic")
	require.NoError(t, err)

	c.Reset()
	assert.Zero(t, c.Len())
	_, ok := c.LastAnchor()
	assert.False(t, ok)
}
