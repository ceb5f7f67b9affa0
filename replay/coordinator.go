// Package replay implements the Replay Coordinator (C8, spec.md §4.6): on
// connect with a checkpoint, it drains the historical outbox slice ahead
// of live events.
package replay

import (
	"context"
	"log/slog"
	"time"

	"github.com/sselane/sselane/dispatch"
	"github.com/sselane/sselane/outbox"
)

// BatchLimit caps a single replay pass (spec.md §4.6 "Limits"). This
// implementation takes the conservative single-batch interpretation the
// spec documents rather than looping until caught up (see DESIGN.md, Open
// Question 2): a client more than BatchLimit events behind catches up
// incrementally across reconnects instead of in one session.
const BatchLimit = 1_000

// PaceDelay is the delay between successive replay enqueues, to avoid
// overwhelming the client's decoder (spec.md §4.6 step 4).
const PaceDelay = 10 * time.Millisecond

// Coordinator replays missed outbox entries into a freshly connected
// client's stream.
type Coordinator struct {
	store  outbox.Store
	logger *slog.Logger
}

// New creates a Coordinator.
func New(store outbox.Store, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{store: store, logger: logger}
}

// Replay reads up to BatchLimit outbox entries with Seq > checkpoint and
// enqueues each onto sub in ascending Seq order, pacing with PaceDelay
// between enqueues. Replay read errors are non-fatal: they are logged and
// the caller proceeds straight to the live feed (spec.md §4.8 "Replay read
// error"). Enqueuing goes through the same Subscriber path live events
// use, so the stream engine's per-client id set eliminates duplicates in
// the overlap window (spec.md §4.6 step 5).
func (c *Coordinator) Replay(ctx context.Context, clientID string, checkpoint int64, sub dispatch.Subscriber) {
	entries, err := c.store.ReadAfter(ctx, checkpoint, BatchLimit)
	if err != nil {
		c.logger.Warn("replay read failed, proceeding to live feed",
			"client_id", clientID, "checkpoint", checkpoint, "error", err)
		return
	}

	for i, entry := range entries {
		if ctx.Err() != nil {
			return
		}
		sub.Enqueue(entry.Record)
		if i < len(entries)-1 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(PaceDelay):
			}
		}
	}
}
