// Package journal persists the move journal: one record per status change
// of a move operation.
package journal

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/pitabwire/catalogboard/internal/config"
	"github.com/pitabwire/catalogboard/model"
)

// Store appends move records and lists them back per entry.
type Store interface {
	// Record appends one record. Records are never updated.
	Record(ctx context.Context, rec model.MoveRecord) error

	// ListByEntry returns the records of an entry, scoped to a tenant, oldest
	// first.
	ListByEntry(ctx context.Context, tenantID, entryID string) ([]model.MoveRecord, error)

	// HealthCheck verifies the store is reachable.
	HealthCheck(ctx context.Context) error

	// Close releases the store's resources.
	Close() error
}

// FailureRecorder counts failed journal writes.
type FailureRecorder interface {
	RecordJournalWriteFailure()
}

// Open builds the store selected by cfg.Driver.
func Open(ctx context.Context, cfg config.JournalConfig, logger *zap.Logger) (Store, error) {
	switch cfg.Driver {
	case "memory", "":
		logger.Info("using in-memory move journal")
		return NewMemoryStore(), nil
	case "postgres":
		dsn := os.Getenv(cfg.DSNEnv)
		if dsn == "" {
			return nil, fmt.Errorf("journal: %s environment variable not set", cfg.DSNEnv)
		}
		poolCfg, err := pgxpool.ParseConfig(dsn)
		if err != nil {
			return nil, fmt.Errorf("journal: parse DSN: %w", err)
		}
		if cfg.MaxOpenConns > 0 {
			poolCfg.MaxConns = int32(cfg.MaxOpenConns)
		}
		if cfg.MaxIdleConns > 0 {
			poolCfg.MinConns = int32(cfg.MaxIdleConns)
		}
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime

		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, fmt.Errorf("journal: connect: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("journal: ping: %w", err)
		}
		store := NewPgStore(pool)
		if err := store.Migrate(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		logger.Info("using postgres move journal")
		return store, nil
	case "sqlite":
		store, err := OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		logger.Info("using sqlite move journal", zap.String("path", cfg.SQLitePath))
		return store, nil
	default:
		return nil, fmt.Errorf("journal: unsupported driver %q", cfg.Driver)
	}
}

// Instrument wraps a store so that failed writes are counted.
func Instrument(s Store, rec FailureRecorder) Store {
	if rec == nil {
		return s
	}
	return &instrumented{Store: s, rec: rec}
}

type instrumented struct {
	Store
	rec FailureRecorder
}

func (s *instrumented) Record(ctx context.Context, r model.MoveRecord) error {
	err := s.Store.Record(ctx, r)
	if err != nil {
		s.rec.RecordJournalWriteFailure()
	}
	return err
}
