package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"github.com/pitabwire/catalogboard/model"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS move_journal (
	id          TEXT PRIMARY KEY,
	move_id     TEXT NOT NULL,
	tenant_id   TEXT NOT NULL,
	board_id    TEXT NOT NULL,
	entry_id    TEXT NOT NULL,
	from_column TEXT NOT NULL,
	to_column   TEXT NOT NULL,
	status      TEXT NOT NULL,
	detail      TEXT,
	actor       TEXT NOT NULL DEFAULT '',
	error       TEXT NOT NULL DEFAULT '',
	recorded_at TEXT NOT NULL,
	seq         INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS move_journal_entry_idx
	ON move_journal (tenant_id, entry_id, seq);`

// SQLiteStore is a single-file Store for single-node deployments.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens (creating if needed) the journal database at path.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		path = "boardd.db"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("journal: create dirs: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("journal: open sqlite: %w", err)
	}
	// One writer; sqlite serializes writes anyway.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("journal: apply pragma %q: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal: migrate: %w", err)
	}
	return &SQLiteStore{db: db, path: path}, nil
}

// Record inserts rec. seq keeps append order stable for equal timestamps.
func (s *SQLiteStore) Record(ctx context.Context, rec model.MoveRecord) error {
	var detail sql.NullString
	if rec.Detail != nil {
		b, err := json.Marshal(rec.Detail)
		if err != nil {
			return fmt.Errorf("marshal detail: %w", err)
		}
		detail = sql.NullString{String: string(b), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO move_journal (
			id, move_id, tenant_id, board_id, entry_id,
			from_column, to_column, status, detail, actor, error, recorded_at, seq
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?,
			(SELECT COALESCE(MAX(seq), 0) + 1 FROM move_journal))`,
		rec.ID, rec.MoveID, rec.TenantID, rec.BoardID, rec.EntryID,
		rec.From, rec.To, rec.Status, detail, rec.Actor, rec.Error,
		rec.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert move record: %w", err)
	}
	return nil
}

// ListByEntry returns the tenant's records for entryID in append order.
func (s *SQLiteStore) ListByEntry(ctx context.Context, tenantID, entryID string) ([]model.MoveRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, move_id, tenant_id, board_id, entry_id,
		       from_column, to_column, status, detail, actor, error, recorded_at
		FROM move_journal
		WHERE tenant_id = ? AND entry_id = ?
		ORDER BY seq ASC`,
		tenantID, entryID,
	)
	if err != nil {
		return nil, fmt.Errorf("query move records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []model.MoveRecord{}
	for rows.Next() {
		var rec model.MoveRecord
		var detail sql.NullString
		var recordedAt string
		if err := rows.Scan(
			&rec.ID, &rec.MoveID, &rec.TenantID, &rec.BoardID, &rec.EntryID,
			&rec.From, &rec.To, &rec.Status, &detail, &rec.Actor, &rec.Error, &recordedAt,
		); err != nil {
			return nil, fmt.Errorf("scan move record: %w", err)
		}
		if rec.Timestamp, err = time.Parse(time.RFC3339Nano, recordedAt); err != nil {
			return nil, fmt.Errorf("parse recorded_at: %w", err)
		}
		if detail.Valid {
			if err := json.Unmarshal([]byte(detail.String), &rec.Detail); err != nil {
				return nil, fmt.Errorf("unmarshal detail: %w", err)
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// HealthCheck pings the database.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string { return s.path }

// Close closes the database.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
