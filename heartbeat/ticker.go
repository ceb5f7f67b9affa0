// Package heartbeat implements the Heartbeat Ticker (C9, spec.md §4.7): it
// periodically submits a synthesized heartbeat event through the ordinary
// Publisher so heartbeats share the outbox's ordering and filtering
// guarantees instead of bypassing the event plane.
package heartbeat

import (
	"context"
	"log/slog"
	"time"

	"github.com/sselane/sselane/event"
	"github.com/sselane/sselane/publish"
)

// Interval is the cadence between heartbeat ticks (spec.md §4.7).
const Interval = 30 * time.Second

// ClientCounter reports how many clients are currently connected locally.
// Implemented by dispatch.Registry.
type ClientCounter interface {
	Len() int
}

// Ticker is the background task that emits heartbeats. Modeled on the
// teacher's ThrottledEmitter background ticker (stop/done channel pair,
// no package-level singleton state, per spec.md §9 "Global mutable
// timers").
type Ticker struct {
	publisher *publish.Publisher
	clients   ClientCounter
	logger    *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Ticker.
func New(publisher *publish.Publisher, clients ClientCounter, logger *slog.Logger) *Ticker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ticker{publisher: publisher, clients: clients, logger: logger}
}

// Start begins the background heartbeat loop.
func (t *Ticker) Start(ctx context.Context) {
	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	t.cancel = cancel
	t.done = done

	go func() {
		defer close(done)
		ticker := time.NewTicker(Interval)
		defer ticker.Stop()

		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				t.tick(loopCtx)
			}
		}
	}()
}

func (t *Ticker) tick(ctx context.Context) {
	if t.clients.Len() == 0 {
		return
	}

	payload, err := publish.BuildHeartbeat(time.Now())
	if err != nil {
		t.logger.Error("build heartbeat payload failed", "error", err)
		return
	}

	if _, err := t.publisher.Publish(ctx, event.KindHeartbeat, payload, ""); err != nil {
		t.logger.Warn("heartbeat publish failed", "error", err)
	}
}

// Stop cancels the heartbeat loop and waits for it to exit.
func (t *Ticker) Stop(ctx context.Context) error {
	if t.cancel == nil {
		return nil
	}
	t.cancel()
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
