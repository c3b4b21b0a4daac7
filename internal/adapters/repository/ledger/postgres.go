package ledger

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/trebuchet-org/treb-plan/internal/domain"
	"github.com/trebuchet-org/treb-plan/internal/usecase"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS ledger_records (
    seq         BIGSERIAL PRIMARY KEY,
    run_id      TEXT    NOT NULL,
    step_hash   TEXT    NOT NULL,
    occurrence  INTEGER NOT NULL DEFAULT 0,
    step        JSON    NOT NULL,
    outcome     JSON    NOT NULL,
    recorded_at TIMESTAMPTZ NOT NULL
);
DO $$
BEGIN
    IF EXISTS (SELECT 1 FROM information_schema.columns
               WHERE table_name = 'ledger_records' AND column_name = 'step' AND data_type = 'jsonb') THEN
        ALTER TABLE ledger_records ALTER COLUMN step TYPE JSON, ALTER COLUMN outcome TYPE JSON;
    END IF;
END $$;
CREATE INDEX IF NOT EXISTS idx_ledger_records_step ON ledger_records (step_hash, occurrence);
`

// Payload columns are JSON, not JSONB, so numbers like 1e21 keep their
// text and the stored step still hashes to step_hash.

// PostgresStore implements LedgerStore on PostgreSQL. Useful when several
// operators share the same deployment ledger.
type PostgresStore struct {
	pool     *pgxpool.Pool
	location string
}

// NewPostgresStore connects to dsn and ensures the ledger table exists
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.MaxConns = 4
	cfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("new pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create ledger schema: %w", err)
	}

	return &PostgresStore{pool: pool, location: redact(dsn)}, nil
}

// Location returns the DSN with any password removed
func (s *PostgresStore) Location() string {
	return s.location
}

// Close releases the connection pool
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Append inserts one record
func (s *PostgresStore) Append(ctx context.Context, record *domain.LedgerRecord) error {
	row, err := toRow(record)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO ledger_records (run_id, step_hash, occurrence, step, outcome, recorded_at)
		VALUES ($1, $2, $3, $4::json, $5::json, $6)
	`
	_, err = s.pool.Exec(ctx, query,
		row.RunID,
		row.StepHash,
		row.Occurrence,
		row.Step,
		row.Outcome,
		record.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert ledger record: %w", err)
	}
	return nil
}

// Records returns every record in insertion order
func (s *PostgresStore) Records(ctx context.Context) ([]*domain.LedgerRecord, error) {
	query := `
		SELECT seq, run_id, step_hash, occurrence, step::text, outcome::text, recorded_at
		FROM ledger_records
		ORDER BY seq
	`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query ledger records: %w", err)
	}
	defer rows.Close()

	var records []*domain.LedgerRecord
	for rows.Next() {
		var (
			row        recordRow
			recordedAt time.Time
		)
		if err := rows.Scan(&row.Seq, &row.RunID, &row.StepHash, &row.Occurrence, &row.Step, &row.Outcome, &recordedAt); err != nil {
			return nil, fmt.Errorf("scan ledger record: %w", err)
		}
		row.RecordedAt = recordedAt.UTC().Format(time.RFC3339Nano)

		record, err := row.toRecord()
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ledger records: %w", err)
	}
	return records, nil
}

func redact(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "postgres://"
	}
	return u.Redacted()
}

// Ensure PostgresStore implements LedgerStore
var _ usecase.LedgerStore = (*PostgresStore)(nil)
