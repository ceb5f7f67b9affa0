package outbox

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sselane/sselane/event"
)

//go:embed sqlite_schema.sql
var sqliteSchema string

const sequenceRowID = "event_sequence"

// SQLiteConfig configures the SQLite-backed outbox.
type SQLiteConfig struct {
	// DSN is the database connection string, e.g. "file:outbox.db" or
	// ":memory:" for tests.
	DSN string
}

// SQLiteStore persists the outbox and the sequence counter in SQLite. It
// satisfies both Store and SequenceStore, since both live behind a single
// atomic document store in the deployment this was modeled on (spec.md
// §6, "the choice of durable store... any backend satisfying this is
// acceptable").
//
// Ordered reads: ReadAfter/Latest use the seq primary key index.
// Atomic counter increment: Next uses a single upsert statement with
// RETURNING, so the increment-and-return is one round trip.
// Single-document upsert: Next's INSERT ... ON CONFLICT DO UPDATE.
// TTL-based expiry: Reap deletes rows whose ttl has passed.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite-backed outbox store.
func NewSQLiteStore(cfg SQLiteConfig) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("outbox: open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("outbox: set WAL mode: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("outbox: create schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Insert persists an immutable outbox entry.
func (s *SQLiteStore) Insert(ctx context.Context, entry event.OutboxEntry) error {
	var target sql.NullString
	if entry.Target != "" {
		target = sql.NullString{String: entry.Target, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO outbox_entries (seq, event_id, event_type, event_data, target_client_id, created_at, ttl)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.Seq,
		entry.ID,
		string(entry.Type),
		entry.Data,
		target,
		entry.CreatedAt.UTC().Format(time.RFC3339Nano),
		entry.Ttl.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueConstraintErr(err) {
			return fmt.Errorf("%w: seq=%d", ErrDuplicateSeq, entry.Seq)
		}
		return fmt.Errorf("%w: insert: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// ReadAfter returns up to limit entries with seq > fromSeq, ascending.
func (s *SQLiteStore) ReadAfter(ctx context.Context, fromSeq int64, limit int) ([]event.OutboxEntry, error) {
	query := `
SELECT seq, event_id, event_type, event_data, target_client_id, created_at, processed_at, processed_by, ttl
FROM outbox_entries WHERE seq > ? ORDER BY seq ASC`
	args := []any{fromSeq}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: read after: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// Latest returns the entry with the highest seq, or nil if the outbox is
// empty.
func (s *SQLiteStore) Latest(ctx context.Context) (*event.OutboxEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT seq, event_id, event_type, event_data, target_client_id, created_at, processed_at, processed_by, ttl
FROM outbox_entries ORDER BY seq DESC LIMIT 1`)
	if err != nil {
		return nil, fmt.Errorf("%w: latest: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	entries, err := scanEntries(rows)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return &entries[0], nil
}

// Reap deletes entries whose ttl has passed.
func (s *SQLiteStore) Reap(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM outbox_entries WHERE ttl < ?`, now.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("%w: reap: %v", ErrStoreUnavailable, err)
	}
	return res.RowsAffected()
}

// Next atomically allocates and returns the next sequence number. The
// first call initializes the counter at 1.
func (s *SQLiteStore) Next(ctx context.Context) (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)

	var next int64
	err := s.db.QueryRowContext(ctx, `
INSERT INTO event_sequence (id, current_value, updated_at) VALUES (?, 1, ?)
ON CONFLICT(id) DO UPDATE SET
	current_value = current_value + 1,
	updated_at = excluded.updated_at
RETURNING current_value`,
		sequenceRowID, now,
	).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("%w: allocate sequence: %v", ErrStoreUnavailable, err)
	}
	return next, nil
}

// MarkProcessed records the pod that delivered an entry. Decorative per
// spec.md §9 (Open Question 3): nothing in poll.Poller reads it back. It
// exists for operational debugging only.
func (s *SQLiteStore) MarkProcessed(ctx context.Context, seq int64, processedBy string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE outbox_entries SET processed_at = ?, processed_by = ? WHERE seq = ?`,
		at.UTC().Format(time.RFC3339Nano), processedBy, seq,
	)
	if err != nil {
		return fmt.Errorf("%w: mark processed: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Close closes the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func scanEntries(rows *sql.Rows) ([]event.OutboxEntry, error) {
	var entries []event.OutboxEntry
	for rows.Next() {
		var (
			e                         event.OutboxEntry
			eventType                 string
			target, processedBy      sql.NullString
			createdAtStr, ttlStr     string
			processedAtStr           sql.NullString
		)
		if err := rows.Scan(&e.Seq, &e.ID, &eventType, &e.Data, &target, &createdAtStr, &processedAtStr, &processedBy, &ttlStr); err != nil {
			return nil, fmt.Errorf("outbox: scan entry: %w", err)
		}

		e.Type = event.Kind(eventType)
		if target.Valid {
			e.Target = target.String
		}
		if processedBy.Valid {
			e.ProcessedBy = processedBy.String
		}

		createdAt, err := time.Parse(time.RFC3339Nano, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("outbox: parse created_at %q: %w", createdAtStr, err)
		}
		e.CreatedAt = createdAt

		ttl, err := time.Parse(time.RFC3339Nano, ttlStr)
		if err != nil {
			return nil, fmt.Errorf("outbox: parse ttl %q: %w", ttlStr, err)
		}
		e.Ttl = ttl

		if processedAtStr.Valid {
			if t, err := time.Parse(time.RFC3339Nano, processedAtStr.String); err == nil {
				e.ProcessedAt = t
			}
		}

		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func isUniqueConstraintErr(err error) bool {
	// modernc.org/sqlite reports constraint violations with this substring;
	// there is no typed sentinel exported for UNIQUE violations.
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "unique constraint")
}

// Compile-time interface checks.
var _ Store = (*SQLiteStore)(nil)
var _ SequenceStore = (*SQLiteStore)(nil)
