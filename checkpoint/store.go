// Package checkpoint implements the per-client checkpoint store (C3,
// spec.md §4 data model "Client checkpoint").
package checkpoint

import (
	"context"

	"github.com/sselane/sselane/event"
)

// Store persists the highest Seq written to each client's byte stream.
// Checkpoints are created on first successful yield and updated on every
// subsequent yield; they are never deleted (spec.md §3 "Lifecycles").
type Store interface {
	// Upsert writes (or updates) the checkpoint for a client id. Callers
	// must ensure LastSeq is monotonically non-decreasing per client
	// (spec.md invariant I4); Upsert does not enforce this itself so that
	// it stays a simple single-document write.
	Upsert(ctx context.Context, cp event.Checkpoint) error

	// Get returns the persisted checkpoint for a client id, or
	// (Checkpoint{}, false, nil) if none exists.
	Get(ctx context.Context, clientID string) (event.Checkpoint, bool, error)

	// Close releases resources held by the store.
	Close() error
}
