package ledger

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/greenproof/core/pkg/receipt"
)

// PostgresStore persists receipts in Postgres for deployments that share
// one ledger across processes. BIGSERIAL seq preserves append order.
type PostgresStore struct {
	db *sql.DB
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS receipts (
	seq          BIGSERIAL PRIMARY KEY,
	receipt_id   TEXT NOT NULL,
	receipt_type TEXT NOT NULL,
	tenant_id    TEXT NOT NULL,
	ts           TEXT NOT NULL,
	payload_hash TEXT NOT NULL,
	body         TEXT NOT NULL
);`

// NewPostgresStore wraps an existing database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Init creates the receipts table if needed.
func (s *PostgresStore) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, postgresSchema)
	return err
}

func (s *PostgresStore) Append(ctx context.Context, raw []byte, r receipt.Receipt) error {
	query := `
		INSERT INTO receipts (receipt_id, receipt_type, tenant_id, ts, payload_hash, body)
		VALUES ($1, $2, $3, $4, $5, $6)
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

func (s *PostgresStore) List(ctx context.Context) ([]receipt.Receipt, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT body FROM receipts ORDER BY seq ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanBodies(rows)
}

func (s *PostgresStore) Len(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM receipts`).Scan(&n)
	return n, err
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
