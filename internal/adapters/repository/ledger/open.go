package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/trebuchet-org/treb-plan/internal/adapters/fs"
	"github.com/trebuchet-org/treb-plan/internal/domain/config"
	"github.com/trebuchet-org/treb-plan/internal/usecase"
)

// Open picks a ledger backend from the configured DSN:
//
//	sqlite://path         SQLite database
//	postgres://...        PostgreSQL (postgresql:// also accepted)
//	anything else         JSON lines file at that path
func Open(ctx context.Context, cfg *config.RuntimeConfig, log *slog.Logger) (usecase.LedgerStore, func(), error) {
	dsn := cfg.LedgerDSN
	if dsn == "" {
		return nil, nil, fmt.Errorf("no ledger configured")
	}

	switch {
	case strings.HasPrefix(dsn, "sqlite://"):
		store, err := NewSQLiteStore(strings.TrimPrefix(dsn, "sqlite://"))
		if err != nil {
			return nil, nil, err
		}
		log.Debug("using sqlite ledger", "dsn", store.Location())
		return store, func() {
			if err := store.Close(); err != nil {
				log.Warn("failed to close ledger database", "error", err)
			}
		}, nil

	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		store, err := NewPostgresStore(ctx, dsn)
		if err != nil {
			return nil, nil, err
		}
		log.Debug("using postgres ledger", "dsn", store.Location())
		return store, store.Close, nil

	default:
		store := fs.NewLedgerFileStore(strings.TrimPrefix(dsn, "file://"))
		log.Debug("using file ledger", "path", store.Location())
		return store, func() {}, nil
	}
}
