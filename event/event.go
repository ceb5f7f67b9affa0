// Package event defines the data model shared by every component of the
// SSE fan-out plane: the in-flight event record, its durable outbox
// representation, and the per-client checkpoint record.
package event

import "time"

// Kind identifies the recognized SSE event types. The core treats these as
// opaque strings; the vocabulary is closed only by convention.
type Kind string

const (
	KindMessage      Kind = "message"
	KindNotification Kind = "notification"
	KindDataUpdate   Kind = "dataUpdate"
	KindAlert        Kind = "alert"
	KindHeartbeat    Kind = "heartbeat"
	KindConnected    Kind = "connected"
)

// String returns the string representation of the Kind.
func (k Kind) String() string {
	return string(k)
}

// Record is an event in flight: the tuple { id, type, data, seq, target? }
// described in spec.md §3. Data carries an opaque JSON payload; the core
// never interprets it.
type Record struct {
	// ID is unique per event and opaque to the core. Used for client-side
	// dedup; it is the SSE "id:" line value.
	ID string

	// Type is one of the Kind constants (or a caller-defined string; the
	// core does not reject unknown kinds).
	Type Kind

	// Data is the opaque JSON payload, already marshaled.
	Data []byte

	// Seq is assigned by the Sequence Allocator. Zero means "not yet
	// allocated" and must never be observed outside the publish path.
	Seq int64

	// Target is an optional client ID. If set, the event is point-to-point;
	// otherwise it is broadcast to every matching local stream.
	Target string
}

// OutboxEntry is what is persisted for a Record: the record plus the
// bookkeeping fields the Outbox Store tracks. Entries are immutable once
// written (spec.md §3 "Lifecycles").
type OutboxEntry struct {
	Record

	CreatedAt time.Time
	Ttl       time.Time

	// ProcessedAt/ProcessedBy are decorative/debug fields. The store can set
	// them through outbox.SQLiteStore.MarkProcessed, which nothing in the
	// service calls. The Outbox Poller tracks delivery
	// progress only in its own in-memory lastDelivered cursor and never
	// reads these back (spec.md §9, Open Question 3).
	ProcessedAt time.Time
	ProcessedBy string
}

// Checkpoint is the per-client persisted record of the highest Seq that has
// been written to that client's byte stream (spec.md §3).
type Checkpoint struct {
	ClientID    string
	LastSeq     int64
	LastEventID string
	UpdatedAt   time.Time
}

// DefaultTTL is the retention window applied to new outbox entries (spec.md
// §4.2 step 2: "ttl = now + 1h").
const DefaultTTL = time.Hour
