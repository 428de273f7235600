package ledger

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/greenproof/core/pkg/receipt"
)

// FileStore appends receipts as newline-delimited JSON, one object per
// line, UTF-8. Storage order is append order; lines are never edited or
// removed.
type FileStore struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

// NewFileStore opens (or creates) the ledger file in append-only mode.
func NewFileStore(path string) (*FileStore, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open ledger %s: %w", path, err)
	}
	return &FileStore{path: path, f: f}, nil
}

func (s *FileStore) Append(ctx context.Context, raw []byte, _ receipt.Receipt) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	line := make([]byte, 0, len(raw)+1)
	line = append(line, raw...)
	line = append(line, '\n')

	// A single Write call keeps the line intact under O_APPEND.
	if _, err := s.f.Write(line); err != nil {
		return fmt.Errorf("append to %s: %w", s.path, err)
	}
	if err := s.f.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", s.path, err)
	}
	return nil
}

func (s *FileStore) List(ctx context.Context) ([]receipt.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var receipts []receipt.Receipt
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var r receipt.Receipt
		if err := json.Unmarshal(line, &r); err != nil {
			return nil, fmt.Errorf("corrupt ledger line %d: %w", len(receipts)+1, err)
		}
		receipts = append(receipts, r)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return receipts, nil
}

func (s *FileStore) Len(ctx context.Context) (int, error) {
	receipts, err := s.List(ctx)
	if err != nil {
		return 0, err
	}
	return len(receipts), nil
}

func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}
