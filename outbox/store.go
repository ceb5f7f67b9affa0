// Package outbox implements the durable, globally-ordered event log (C1)
// and the sequence allocator (C2) described in spec.md §4.1–§4.2.
package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/sselane/sselane/event"
)

// ErrStoreUnavailable is returned when the backing store cannot be reached.
// It is retryable: the Publisher retries with backoff (spec.md §4.2), the
// Poller retries after a fixed sleep (spec.md §4.3).
var ErrStoreUnavailable = errors.New("outbox: store unavailable")

// ErrDuplicateSeq is returned by Insert when an entry with the same Seq
// already exists. This is fatal for the publish attempt (spec.md §4.8).
var ErrDuplicateSeq = errors.New("outbox: duplicate sequence number")

// Store is the durable append-only log contract (spec.md §4.2).
type Store interface {
	// Insert persists an immutable entry. Returns ErrDuplicateSeq if an
	// entry with the same Seq already exists, or ErrStoreUnavailable if the
	// store cannot be reached.
	Insert(ctx context.Context, entry event.OutboxEntry) error

	// ReadAfter returns up to limit entries with Seq > fromSeq, in
	// ascending Seq order. Readers must tolerate gaps left by reaping or by
	// publish failures after sequence allocation.
	ReadAfter(ctx context.Context, fromSeq int64, limit int) ([]event.OutboxEntry, error)

	// Latest returns the entry with the highest Seq, or nil if the outbox
	// is empty.
	Latest(ctx context.Context) (*event.OutboxEntry, error)

	// Reap deletes entries whose Ttl has passed. Implementations may also
	// run this on a background schedule; Reap exposes it for explicit
	// control (tests, manual maintenance).
	Reap(ctx context.Context, now time.Time) (int64, error)

	// Close releases resources held by the store.
	Close() error
}

// SequenceStore issues the next global sequence number (C2, spec.md §4.1).
// Increment-and-return must be atomic: if no counter exists yet, the first
// call creates one at 1 and returns 1; otherwise it increments the existing
// counter and returns the new value.
type SequenceStore interface {
	Next(ctx context.Context) (int64, error)
}
