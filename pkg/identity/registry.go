package identity

import (
	"context"
	"sync"
	"time"

	"github.com/greenproof/core/pkg/anomaly"
	"github.com/greenproof/core/pkg/hashing"
	"github.com/greenproof/core/pkg/ledger"
	"github.com/greenproof/core/pkg/receipt"
)

// Registration is the outcome of one Register call.
type Registration struct {
	IdentityHash hashing.ContentHash
	IsUnique     bool
	Occurrences  int
	Receipt      receipt.Receipt
}

// CheckResult is a read-only view of an identity's history.
type CheckResult struct {
	IdentityHash    hashing.ContentHash
	Records         []Record
	OccurrenceCount int
	UniqueSources   int
	UniqueOwners    int
	IsDoubleCounted bool
}

// Registry tracks claim identities across sources. There is exactly one
// duplicate policy and it is not configurable: a second source or owner for
// the same identity halts the pipeline.
type Registry struct {
	mu        sync.Mutex
	store     Store
	emitter   *ledger.Emitter
	anomalies *anomaly.Recorder
	clock     func() time.Time
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithRegistryClock overrides the record timestamp source, for tests.
func WithRegistryClock(clock func() time.Time) RegistryOption {
	return func(r *Registry) { r.clock = clock }
}

// NewRegistry creates a Registry that records through the given emitter.
func NewRegistry(store Store, emitter *ledger.Emitter, opts ...RegistryOption) *Registry {
	r := &Registry{
		store:     store,
		emitter:   emitter,
		anomalies: anomaly.NewRecorder(emitter),
		clock:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register records one registration of a claim identity. The lookup happens
// before the insert, and the new record is appended regardless of the
// outcome so the history keeps the duplicate itself.
//
// On a duplicate the double_count receipt and a critical anomaly receipt
// are both on the ledger before the returned HaltError exists. The
// Registration is returned alongside the error so callers can still reach
// the evidence.
func (r *Registry) Register(ctx context.Context, c Claim, source, owner string) (Registration, error) {
	id := DeriveIdentity(c)

	// The lookup, the insert, and the ledger emit form one atomic step:
	// two concurrent registrations of the same identity must not both see
	// an empty history, and the double_count receipts must land on the
	// ledger in the same order as the store's records.
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, err := r.store.Records(ctx, id)
	if err != nil {
		return Registration{}, err
	}

	// Same source and owner re-registering is a no-op resubmission, not a
	// double count.
	isUnique := true
	for _, rec := range existing {
		if rec.Source != source || rec.Owner != owner {
			isUnique = false
			break
		}
	}

	rec := Record{
		Source: source,
		Owner:  owner,
		TS:     r.clock().UTC().Format(time.RFC3339Nano),
	}
	if err := r.store.Append(ctx, id, rec); err != nil {
		return Registration{}, err
	}
	occurrences := len(existing) + 1

	emitted, err := r.emitter.Emit(ctx, receipt.Receipt{
		receipt.FieldType: receipt.TypeDoubleCount,
		"identity_hash":   id.String(),
		"source":          source,
		"owner":           owner,
		"occurrences":     occurrences,
		"is_unique":       isUnique,
	})
	if err != nil {
		return Registration{}, err
	}

	reg := Registration{
		IdentityHash: id,
		IsUnique:     isUnique,
		Occurrences:  occurrences,
		Receipt:      emitted,
	}
	if isUnique {
		return reg, nil
	}

	sources, owners := collect(append(existing, rec))
	return reg, r.anomalies.Halt(ctx, anomaly.Event{
		Type:           "double_count",
		Classification: anomaly.ClassCritical,
		Details: map[string]any{
			"identity_hash":    id.String(),
			"occurrence_count": occurrences,
			"sources":          sources,
			"owners":           owners,
		},
	}, "duplicate claim identity "+id.String()+" across sources")
}

// Check reports an identity's registration history without touching it.
// An identity is double counted when its records span more than one source
// or more than one owner.
func (r *Registry) Check(ctx context.Context, id hashing.ContentHash) (CheckResult, error) {
	records, err := r.store.Records(ctx, id)
	if err != nil {
		return CheckResult{}, err
	}
	sources, owners := collect(records)
	return CheckResult{
		IdentityHash:    id,
		Records:         records,
		OccurrenceCount: len(records),
		UniqueSources:   len(sources),
		UniqueOwners:    len(owners),
		IsDoubleCounted: len(sources) > 1 || len(owners) > 1,
	}, nil
}

// Reset clears the registry's store. Test isolation only.
func (r *Registry) Reset(ctx context.Context) error {
	return r.store.Reset(ctx)
}

func collect(records []Record) (sources, owners []string) {
	seenSrc := map[string]bool{}
	seenOwn := map[string]bool{}
	for _, rec := range records {
		if !seenSrc[rec.Source] {
			seenSrc[rec.Source] = true
			sources = append(sources, rec.Source)
		}
		if !seenOwn[rec.Owner] {
			seenOwn[rec.Owner] = true
			owners = append(owners, rec.Owner)
		}
	}
	return sources, owners
}
