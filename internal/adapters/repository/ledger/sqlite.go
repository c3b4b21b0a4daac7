package ledger

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/trebuchet-org/treb-plan/internal/domain"
	"github.com/trebuchet-org/treb-plan/internal/usecase"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements LedgerStore on a SQLite database
type SQLiteStore struct {
	db  *sqlx.DB
	dsn string
}

// NewSQLiteStore opens the database at dsn and runs migrations
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger database: %w", err)
	}
	// One writer; also keeps ":memory:" databases on a single connection
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping ledger database: %w", err)
	}

	if err := runMigrations(db.DB); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db, dsn: dsn}, nil
}

func runMigrations(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run ledger migrations: %w", err)
	}
	return nil
}

// Location returns the database DSN
func (s *SQLiteStore) Location() string {
	return "sqlite://" + s.dsn
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Append inserts one record. SQLite commits are durable on return.
func (s *SQLiteStore) Append(ctx context.Context, record *domain.LedgerRecord) error {
	row, err := toRow(record)
	if err != nil {
		return err
	}

	_, err = s.db.NamedExecContext(ctx, `
		INSERT INTO ledger_records (run_id, step_hash, occurrence, step, outcome, recorded_at)
		VALUES (:run_id, :step_hash, :occurrence, :step, :outcome, :recorded_at)`, row)
	if err != nil {
		return fmt.Errorf("failed to insert ledger record: %w", err)
	}
	return nil
}

// Records returns every record in insertion order
func (s *SQLiteStore) Records(ctx context.Context) ([]*domain.LedgerRecord, error) {
	var rows []recordRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT seq, run_id, step_hash, occurrence, step, outcome, recorded_at
		FROM ledger_records
		ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger records: %w", err)
	}

	records := make([]*domain.LedgerRecord, 0, len(rows))
	for i := range rows {
		record, err := rows[i].toRecord()
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

// Ensure SQLiteStore implements LedgerStore
var _ usecase.LedgerStore = (*SQLiteStore)(nil)
