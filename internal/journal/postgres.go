package journal

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pitabwire/catalogboard/model"
)

const pgSchema = `
CREATE TABLE IF NOT EXISTS move_journal (
	id          TEXT PRIMARY KEY,
	move_id     TEXT NOT NULL,
	tenant_id   TEXT NOT NULL,
	board_id    TEXT NOT NULL,
	entry_id    TEXT NOT NULL,
	from_column TEXT NOT NULL,
	to_column   TEXT NOT NULL,
	status      TEXT NOT NULL,
	detail      JSONB,
	actor       TEXT NOT NULL DEFAULT '',
	error       TEXT NOT NULL DEFAULT '',
	recorded_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS move_journal_entry_idx
	ON move_journal (tenant_id, entry_id, recorded_at);`

// PgStore is a PostgreSQL-backed Store using pgx/v5.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a journal over an open pool.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// Migrate creates the journal table and index when missing.
func (s *PgStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, pgSchema); err != nil {
		return fmt.Errorf("journal: migrate: %w", err)
	}
	return nil
}

// Record inserts rec.
func (s *PgStore) Record(ctx context.Context, rec model.MoveRecord) error {
	var detail []byte
	if rec.Detail != nil {
		var err error
		if detail, err = json.Marshal(rec.Detail); err != nil {
			return fmt.Errorf("marshal detail: %w", err)
		}
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO move_journal (
			id, move_id, tenant_id, board_id, entry_id,
			from_column, to_column, status, detail, actor, error, recorded_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		rec.ID, rec.MoveID, rec.TenantID, rec.BoardID, rec.EntryID,
		rec.From, rec.To, rec.Status, detail, rec.Actor, rec.Error, rec.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert move record: %w", err)
	}
	return nil
}

// ListByEntry returns the tenant's records for entryID, oldest first.
func (s *PgStore) ListByEntry(ctx context.Context, tenantID, entryID string) ([]model.MoveRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, move_id, tenant_id, board_id, entry_id,
		       from_column, to_column, status, detail, actor, error, recorded_at
		FROM move_journal
		WHERE tenant_id = $1 AND entry_id = $2
		ORDER BY recorded_at ASC, id ASC`,
		tenantID, entryID,
	)
	if err != nil {
		return nil, fmt.Errorf("query move records: %w", err)
	}
	defer rows.Close()

	out := []model.MoveRecord{}
	for rows.Next() {
		var rec model.MoveRecord
		var detail []byte
		if err := rows.Scan(
			&rec.ID, &rec.MoveID, &rec.TenantID, &rec.BoardID, &rec.EntryID,
			&rec.From, &rec.To, &rec.Status, &detail, &rec.Actor, &rec.Error, &rec.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("scan move record: %w", err)
		}
		if detail != nil {
			if err := json.Unmarshal(detail, &rec.Detail); err != nil {
				return nil, fmt.Errorf("unmarshal detail: %w", err)
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// HealthCheck pings the database.
func (s *PgStore) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the pool.
func (s *PgStore) Close() error {
	s.pool.Close()
	return nil
}
