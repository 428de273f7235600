// Package ledger implements the append-only receipt ledger. Every
// state-changing operation in the pipeline durably records a receipt here
// before its result is surfaced to a caller.
//
// Appends are linearized behind a single mutex: downstream Merkle
// commitments assume a well-formed, totally ordered log, so a torn or
// interleaved write is a correctness violation rather than a cosmetic one.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/greenproof/core/pkg/canonical"
	"github.com/greenproof/core/pkg/hashing"
	"github.com/greenproof/core/pkg/observability"
	"github.com/greenproof/core/pkg/receipt"
)

// ErrLedgerUnavailable wraps store I/O failures. A failed ledger write is
// fatal for the whole pipeline: no halting error may be raised without a
// durably recorded anomaly, so callers must not continue past this error.
var ErrLedgerUnavailable = errors.New("ledger unavailable")

// Store persists canonical receipt lines in append order.
type Store interface {
	// Append durably adds one receipt. raw is the canonical serialization;
	// stores must never reorder, rewrite, or drop previously appended
	// records.
	Append(ctx context.Context, raw []byte, r receipt.Receipt) error

	// List returns all receipts in append order.
	List(ctx context.Context) ([]receipt.Receipt, error)

	// Len returns the number of appended receipts.
	Len(ctx context.Context) (int, error)

	Close() error
}

// Emitter enriches, validates, and appends receipts. It is safe for
// concurrent use; appends are serialized.
type Emitter struct {
	mu      sync.Mutex
	store   Store
	tenant  string
	clock   func() time.Time
	metrics *observability.Provider
}

// Option configures an Emitter.
type Option func(*Emitter)

// WithClock overrides the timestamp source, for tests.
func WithClock(clock func() time.Time) Option {
	return func(e *Emitter) { e.clock = clock }
}

// WithTenant overrides the default tenant applied to receipts that omit
// tenant_id.
func WithTenant(tenant string) Option {
	return func(e *Emitter) { e.tenant = tenant }
}

// WithMetrics mirrors every appended receipt onto the telemetry counters.
func WithMetrics(p *observability.Provider) Option {
	return func(e *Emitter) { e.metrics = p }
}

// NewEmitter creates an Emitter on top of a Store.
func NewEmitter(store Store, opts ...Option) *Emitter {
	e := &Emitter{
		store:  store,
		tenant: receipt.DefaultTenant,
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Emit fills in any missing ts, tenant_id, receipt_id, and payload_hash
// (derived from an explicit payload field, else from the receipt's own
// content), validates the receipt against its schema, and appends exactly
// one canonical line to the store. The enriched receipt is returned.
//
// Emit is deliberately not idempotent: receipts model events, not state
// snapshots, so identical content appended twice yields two events.
func (e *Emitter) Emit(ctx context.Context, r receipt.Receipt) (receipt.Receipt, error) {
	enriched := r.Clone()

	if _, ok := enriched[receipt.FieldTimestamp]; !ok {
		enriched[receipt.FieldTimestamp] = e.clock().UTC().Format(time.RFC3339Nano)
	}
	if _, ok := enriched[receipt.FieldTenant]; !ok {
		enriched[receipt.FieldTenant] = e.tenant
	}
	if _, ok := enriched[receipt.FieldReceiptID]; !ok {
		enriched[receipt.FieldReceiptID] = uuid.New().String()
	}
	if _, ok := enriched[receipt.FieldPayloadHash]; !ok {
		payload, ok := enriched[receipt.FieldPayload]
		if !ok {
			// No explicit payload: address the receipt's own content, so
			// pipeline receipts stay distinguishable as chain leaves. The
			// envelope fields never feed the hash.
			if content := enriched.Content(); len(content) > 0 {
				payload, ok = content, true
			}
		}
		if ok {
			hash, err := canonical.Hash(payload)
			if err != nil {
				return nil, &receipt.ValidationError{ReceiptType: enriched.Type(), Reason: err.Error()}
			}
			enriched[receipt.FieldPayloadHash] = hash.String()
		} else {
			enriched[receipt.FieldPayloadHash] = hashing.Empty().String()
		}
	}

	// Untyped receipts carry only the core fields; typed receipts must
	// satisfy their schema, and unknown types are rejected.
	if enriched.Type() != "" {
		if err := receipt.Validate(enriched); err != nil {
			return nil, err
		}
	}

	raw, err := canonical.Marshal(enriched)
	if err != nil {
		return nil, &receipt.ValidationError{ReceiptType: enriched.Type(), Reason: err.Error()}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.store.Append(ctx, raw, enriched); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
	}
	if e.metrics != nil {
		e.recordMetrics(ctx, enriched)
	}
	return enriched, nil
}

// recordMetrics counts the appended receipt. Every receipt passes through
// the emitter, so the per-type counters live here rather than at each
// call site.
func (e *Emitter) recordMetrics(ctx context.Context, r receipt.Receipt) {
	e.metrics.RecordReceipt(ctx, r.Type())
	switch r.Type() {
	case receipt.TypeAnomaly:
		classification, _ := r["classification"].(string)
		action, _ := r["action"].(string)
		e.metrics.RecordAnomaly(ctx, classification, action)
		if action == "halt" {
			anomalyType, _ := r["anomaly_type"].(string)
			e.metrics.RecordHalt(ctx, anomalyType)
		}
	case receipt.TypeProofGenerated:
		e.metrics.RecordProofGenerated(ctx)
	case receipt.TypeChainIntegrity:
		valid, _ := r["valid"].(bool)
		e.metrics.RecordProofVerified(ctx, valid)
	}
}

// List returns every appended receipt in append order.
func (e *Emitter) List(ctx context.Context) ([]receipt.Receipt, error) {
	return e.store.List(ctx)
}

// Len returns the number of appended receipts.
func (e *Emitter) Len(ctx context.Context) (int, error) {
	return e.store.Len(ctx)
}

// PayloadHashes returns the payload hash of every receipt in append order,
// the leaf list mirrored by the proof chain.
func (e *Emitter) PayloadHashes(ctx context.Context) ([]hashing.ContentHash, error) {
	receipts, err := e.store.List(ctx)
	if err != nil {
		return nil, err
	}
	hashes := make([]hashing.ContentHash, 0, len(receipts))
	for _, r := range receipts {
		if h := r.PayloadHash(); h.Valid() {
			hashes = append(hashes, h)
		}
	}
	return hashes, nil
}
