package identity

import (
	"context"
	"sync"

	"github.com/greenproof/core/pkg/hashing"
)

// Record is one registration of a claim identity. Records are append-only:
// the registry keeps the full history of every registration, including
// duplicates, so the evidence trail survives the halt.
type Record struct {
	Source string `json:"source"`
	Owner  string `json:"owner"`
	TS     string `json:"ts"`
}

// Store persists registration records per identity.
type Store interface {
	// Append adds one record to the identity's history.
	Append(ctx context.Context, id hashing.ContentHash, rec Record) error

	// Records returns the identity's history in append order. An unknown
	// identity yields an empty slice, not an error.
	Records(ctx context.Context, id hashing.ContentHash) ([]Record, error)

	// Reset clears all state. Test isolation only.
	Reset(ctx context.Context) error

	Close() error
}

// MemoryStore keeps records in an append-only arena with a per-identity
// index, so lookup cost does not grow with the total record count.
type MemoryStore struct {
	mu    sync.RWMutex
	arena []Record
	index map[hashing.ContentHash][]int
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{index: map[hashing.ContentHash][]int{}}
}

func (s *MemoryStore) Append(_ context.Context, id hashing.ContentHash, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.arena = append(s.arena, rec)
	s.index[id] = append(s.index[id], len(s.arena)-1)
	return nil
}

func (s *MemoryStore) Records(_ context.Context, id hashing.ContentHash) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idxs := s.index[id]
	out := make([]Record, 0, len(idxs))
	for _, i := range idxs {
		out = append(out, s.arena[i])
	}
	return out, nil
}

func (s *MemoryStore) Reset(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.arena = nil
	s.index = map[hashing.ContentHash][]int{}
	return nil
}

func (s *MemoryStore) Close() error { return nil }
