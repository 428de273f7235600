// Package proofchain maintains the ordered list of receipt payload hashes
// and its periodic Merkle commitments. Anchors hash-link to the previous
// anchor's root, so rewriting any prefix of the chain breaks every anchor
// after it.
package proofchain

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/greenproof/core/pkg/hashing"
	"github.com/greenproof/core/pkg/ledger"
	"github.com/greenproof/core/pkg/merkle"
	"github.com/greenproof/core/pkg/receipt"
)

// ErrEmptyChain is returned when anchoring a chain with no leaves.
var ErrEmptyChain = errors.New("proofchain: no leaves to anchor")

// ErrAnchorThrottled is returned when anchors arrive faster than the
// configured minimum interval.
var ErrAnchorThrottled = errors.New("proofchain: anchor interval not elapsed")

// Anchor is one committed point in the chain's history.
type Anchor struct {
	Height         int                  `json:"height"`
	MerkleRoot     hashing.ContentHash  `json:"merkle_root"`
	LeafCount      int                  `json:"leaf_count"`
	AnchorType     string               `json:"anchor_type"`
	PreviousAnchor *hashing.ContentHash `json:"previous_anchor"`
	AnchoredAt     time.Time            `json:"anchored_at"`
}

// IntegrityReport is the result of a full chain self-audit.
type IntegrityReport struct {
	Valid            bool
	InvalidPositions []int
	ChainLength      int
	Root             hashing.ContentHash
}

// Chain accumulates leaves and commits them. Safe for concurrent use;
// proofs and anchors operate on a snapshot taken under the lock, so a
// concurrent Add cannot tear a proof.
type Chain struct {
	mu      sync.Mutex
	leaves  []hashing.ContentHash
	anchors []Anchor
	emitter *ledger.Emitter
	limiter *rate.Limiter
	clock   func() time.Time
}

// ChainOption configures a Chain.
type ChainOption func(*Chain)

// WithMinAnchorInterval rejects anchors closer together than d.
func WithMinAnchorInterval(d time.Duration) ChainOption {
	return func(c *Chain) { c.limiter = rate.NewLimiter(rate.Every(d), 1) }
}

// WithChainClock overrides the anchor timestamp source, for tests.
func WithChainClock(clock func() time.Time) ChainOption {
	return func(c *Chain) { c.clock = clock }
}

// NewChain creates an empty chain that records through the given emitter.
func NewChain(emitter *ledger.Emitter, opts ...ChainOption) *Chain {
	c := &Chain{emitter: emitter, clock: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Add appends one leaf and returns its position.
func (c *Chain) Add(h hashing.ContentHash) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.leaves = append(c.leaves, h)
	return len(c.leaves) - 1
}

// Len returns the current leaf count.
func (c *Chain) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.leaves)
}

// Snapshot returns a copy of the current leaves.
func (c *Chain) Snapshot() []hashing.ContentHash {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]hashing.ContentHash(nil), c.leaves...)
}

// LastAnchor returns the most recent anchor, or false if none exist.
func (c *Chain) LastAnchor() (Anchor, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.anchors) == 0 {
		return Anchor{}, false
	}
	return c.anchors[len(c.anchors)-1], true
}

// Anchor commits the current leaves. Heights are 0-based and strictly
// monotonic; each anchor records the previous anchor's root, nil for the
// first. Anchoring with no new leaves is legal and produces a new height
// over the same root.
func (c *Chain) Anchor(ctx context.Context, anchorType string) (Anchor, error) {
	// Held across the emit: two concurrent anchors must not claim the same
	// height, and a failed emit must leave no anchor behind.
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.leaves) == 0 {
		return Anchor{}, ErrEmptyChain
	}
	if c.limiter != nil && !c.limiter.Allow() {
		return Anchor{}, ErrAnchorThrottled
	}

	anchor := Anchor{
		Height:     len(c.anchors),
		MerkleRoot: merkle.Root(c.leaves),
		LeafCount:  len(c.leaves),
		AnchorType: anchorType,
		AnchoredAt: c.clock().UTC(),
	}
	var prev any
	if n := len(c.anchors); n > 0 {
		root := c.anchors[n-1].MerkleRoot
		anchor.PreviousAnchor = &root
		prev = root.String()
	}

	if _, err := c.emitter.Emit(ctx, receipt.Receipt{
		receipt.FieldType: receipt.TypeAnchor,
		"merkle_root":     anchor.MerkleRoot.String(),
		"leaf_count":      anchor.LeafCount,
		"anchor_type":     anchorType,
		"chain_height":    anchor.Height,
		"previous_anchor": prev,
	}); err != nil {
		return Anchor{}, err
	}

	c.anchors = append(c.anchors, anchor)
	return anchor, nil
}

// Prove generates an inclusion proof for the first occurrence of h in the
// chain, against a snapshot taken now, and records it. An unknown hash
// yields an invalid proof and no receipt.
func (c *Chain) Prove(ctx context.Context, h hashing.ContentHash) (merkle.Proof, error) {
	leaves := c.Snapshot()
	index := -1
	for i, leaf := range leaves {
		if leaf == h {
			index = i
			break
		}
	}
	if index < 0 {
		return merkle.Proof{Valid: false}, nil
	}

	proof := merkle.Prove(leaves, index)
	if _, err := c.emitter.Emit(ctx, receipt.Receipt{
		receipt.FieldType: receipt.TypeProofGenerated,
		"target_hash":     h.String(),
		"merkle_root":     proof.Root.String(),
		"position":        index,
		"chain_length":    len(leaves),
	}); err != nil {
		return merkle.Proof{}, err
	}
	return proof, nil
}

// Verify checks an inclusion proof against an expected root. Pure query.
func Verify(leaf hashing.ContentHash, proof merkle.Proof, expectedRoot hashing.ContentHash) bool {
	return merkle.Verify(leaf, proof, expectedRoot)
}

// VerifyChainIntegrity re-proves every leaf against the current root and
// records the outcome. An empty chain is trivially valid.
func (c *Chain) VerifyChainIntegrity(ctx context.Context) (IntegrityReport, error) {
	leaves := c.Snapshot()
	report := IntegrityReport{
		Valid:       true,
		ChainLength: len(leaves),
		Root:        merkle.Root(leaves),
	}
	for i, leaf := range leaves {
		if !merkle.Verify(leaf, merkle.Prove(leaves, i), report.Root) {
			report.InvalidPositions = append(report.InvalidPositions, i)
		}
	}
	report.Valid = len(report.InvalidPositions) == 0

	if _, err := c.emitter.Emit(ctx, receipt.Receipt{
		receipt.FieldType: receipt.TypeChainIntegrity,
		"valid":           report.Valid,
		"chain_length":    report.ChainLength,
		"current_root":    report.Root.String(),
	}); err != nil {
		return IntegrityReport{}, err
	}
	return report, nil
}

// LoadFromLedger rebuilds the leaf list from the ledger's payload hashes,
// replacing any current leaves. Returns the number loaded.
func (c *Chain) LoadFromLedger(ctx context.Context) (int, error) {
	hashes, err := c.emitter.PayloadHashes(ctx)
	if err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.leaves = hashes
	return len(hashes), nil
}

// Reset clears leaves and anchors. Test isolation only.
func (c *Chain) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.leaves = nil
	c.anchors = nil
}
