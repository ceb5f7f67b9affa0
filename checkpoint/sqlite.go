package checkpoint

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sselane/sselane/event"
)

//go:embed sqlite_schema.sql
var sqliteSchema string

// SQLiteConfig configures the SQLite-backed checkpoint store.
type SQLiteConfig struct {
	DSN string
}

// SQLiteStore persists client checkpoints in SQLite, unique on client_id
// (spec.md §6 persisted state layout).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite-backed checkpoint store.
func NewSQLiteStore(cfg SQLiteConfig) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: open sqlite: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("checkpoint: set WAL mode: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("checkpoint: create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Upsert writes or updates a client's checkpoint.
func (s *SQLiteStore) Upsert(ctx context.Context, cp event.Checkpoint) error {
	now := cp.UpdatedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}

	var lastEventID sql.NullString
	if cp.LastEventID != "" {
		lastEventID = sql.NullString{String: cp.LastEventID, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO client_checkpoints (client_id, last_sequence_number, last_event_id, created_at, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(client_id) DO UPDATE SET
	last_sequence_number = excluded.last_sequence_number,
	last_event_id = excluded.last_event_id,
	updated_at = excluded.updated_at`,
		cp.ClientID, cp.LastSeq, lastEventID,
		now.UTC().Format(time.RFC3339Nano), now.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("checkpoint: upsert: %w", err)
	}
	return nil
}

// Get returns the persisted checkpoint for a client id.
func (s *SQLiteStore) Get(ctx context.Context, clientID string) (event.Checkpoint, bool, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT client_id, last_sequence_number, last_event_id, updated_at
FROM client_checkpoints WHERE client_id = ?`, clientID)

	var (
		cp          event.Checkpoint
		lastEventID sql.NullString
		updatedAt   string
	)
	if err := row.Scan(&cp.ClientID, &cp.LastSeq, &lastEventID, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return event.Checkpoint{}, false, nil
		}
		return event.Checkpoint{}, false, fmt.Errorf("checkpoint: get: %w", err)
	}
	if lastEventID.Valid {
		cp.LastEventID = lastEventID.String
	}
	if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		cp.UpdatedAt = t
	}
	return cp, true, nil
}

// Close closes the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var _ Store = (*SQLiteStore)(nil)
