// Package stream implements the per-client Stream Engine (C7, spec.md
// §4.5): filtering is done upstream by the Dispatcher, so the engine's job
// is deduplication, bounded backpressure, in-order delivery to the
// transport, and checkpoint writeback.
package stream

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sselane/sselane/checkpoint"
	"github.com/sselane/sselane/event"
	"github.com/sselane/sselane/telemetry"
)

const (
	// ChannelCapacity is the bounded channel depth per client (spec.md §3).
	ChannelCapacity = 10_000

	// EnqueueTimeout is how long Enqueue waits for room in the channel
	// before dropping the event (spec.md §4.5).
	EnqueueTimeout = 30 * time.Second

	// RecentIDCapacity bounds the per-client dedup set (spec.md §3).
	RecentIDCapacity = 1_000
)

// Writer writes one event to the client's transport and flushes it. It is
// implemented by the SSE transport adapter (outside core scope per spec.md
// §1) and passed in so this package stays transport-agnostic.
type Writer interface {
	Write(rec event.Record) error
}

// Engine owns one connection: it implements dispatch.Subscriber, applies
// duplicate suppression, and drives the transport in Seq order.
type Engine struct {
	clientID    string
	checkpoints checkpoint.Store
	logger      *slog.Logger
	instr       *telemetry.Instrumentation

	ch chan event.Record

	mu      sync.Mutex
	recent  *recentSet
	closed  bool
	closeCh chan struct{}
}

// New creates a Stream Engine for one client connection. instr is optional
// and may be nil.
func New(clientID string, checkpoints checkpoint.Store, logger *slog.Logger, instr *telemetry.Instrumentation) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		clientID:    clientID,
		checkpoints: checkpoints,
		logger:      logger,
		instr:       instr,
		ch:          make(chan event.Record, ChannelCapacity),
		recent:      newRecentSet(RecentIDCapacity),
		closeCh:     make(chan struct{}),
	}
}

// Enqueue implements dispatch.Subscriber. It de-duplicates by event id,
// then attempts to enqueue onto the bounded channel; if the channel stays
// full for EnqueueTimeout, the event is dropped and logged (spec.md §4.5,
// §4.8 "Slow client channel full for 30 s"). Safe for concurrent calls
// from multiple Dispatcher goroutines (spec.md §5 "multi-writer for
// enqueue").
func (e *Engine) Enqueue(rec event.Record) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	if rec.ID != "" {
		if e.recent.Contains(rec.ID) {
			e.mu.Unlock()
			return
		}
		e.recent.Add(rec.ID)
	}
	e.mu.Unlock()

	timer := time.NewTimer(EnqueueTimeout)
	defer timer.Stop()

	select {
	case e.ch <- rec:
	case <-timer.C:
		e.logger.Warn("dropping event for slow client",
			"client_id", e.clientID, "seq", rec.Seq, "event_id", rec.ID)
		e.instr.RecordStreamDrop(context.Background(), e.clientID)
	case <-e.closeCh:
	}
}

// Yield drains enqueued events to the transport in order until ctx is
// canceled or the channel is closed, updating the client's checkpoint
// after each confirmed write (spec.md §4.5 "Yield path", invariant I4).
// Checkpoint write failures are logged and do not abort the stream
// (spec.md §4.8 "Checkpoint write error: Non-fatal").
func (e *Engine) Yield(ctx context.Context, w Writer) {
	for {
		select {
		case <-ctx.Done():
			return
		case rec, ok := <-e.ch:
			if !ok {
				return
			}
			if err := w.Write(rec); err != nil {
				e.logger.Info("stream write failed, closing connection",
					"client_id", e.clientID, "error", err)
				return
			}
			e.updateCheckpoint(ctx, rec)
		}
	}
}

func (e *Engine) updateCheckpoint(ctx context.Context, rec event.Record) {
	if e.checkpoints == nil {
		return
	}
	cp := event.Checkpoint{
		ClientID:    e.clientID,
		LastSeq:     rec.Seq,
		LastEventID: rec.ID,
		UpdatedAt:   time.Now().UTC(),
	}
	if err := e.checkpoints.Upsert(ctx, cp); err != nil {
		e.logger.Warn("checkpoint write failed", "client_id", e.clientID, "seq", rec.Seq, "error", err)
	}
}

// Close releases the engine's resources. Safe to call multiple times. Any
// goroutine blocked in Enqueue returns promptly.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()
	close(e.closeCh)
}
