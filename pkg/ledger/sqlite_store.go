package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/greenproof/core/pkg/receipt"
)

// SQLiteStore persists receipts in a local SQLite database. The
// monotonically increasing rowid preserves append order.
type SQLiteStore struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS receipts (
	seq          INTEGER PRIMARY KEY AUTOINCREMENT,
	receipt_id   TEXT NOT NULL,
	receipt_type TEXT NOT NULL,
	tenant_id    TEXT NOT NULL,
	ts           TEXT NOT NULL,
	payload_hash TEXT NOT NULL,
	body         TEXT NOT NULL
);`

// OpenSQLiteStore opens (or creates) a SQLite-backed ledger at path.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite ledger: %w", err)
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLiteStore wraps an existing database handle.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.ExecContext(context.Background(), sqliteSchema)
	return err
}

func (s *SQLiteStore) Append(ctx context.Context, raw []byte, r receipt.Receipt) error {
	query := `
		INSERT INTO receipts (receipt_id, receipt_type, tenant_id, ts, payload_hash, body)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	ts, _ := r[receipt.FieldTimestamp].(string)
	_, err := s.db.ExecContext(ctx, query,
		r.ID(), r.Type(), r.TenantID(), ts, r.PayloadHash().String(), string(raw),
	)
	if err != nil {
		return fmt.Errorf("insert receipt: %w", err)
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]receipt.Receipt, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT body FROM receipts ORDER BY seq ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanBodies(rows)
}

func (s *SQLiteStore) Len(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM receipts`).Scan(&n)
	return n, err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func scanBodies(rows *sql.Rows) ([]receipt.Receipt, error) {
	var receipts []receipt.Receipt
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var r receipt.Receipt
		if err := json.Unmarshal([]byte(body), &r); err != nil {
			return nil, fmt.Errorf("corrupt receipt row %d: %w", len(receipts)+1, err)
		}
		receipts = append(receipts, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return receipts, nil
}
