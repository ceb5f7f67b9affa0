// Package poll implements the Outbox Poller (C5, spec.md §4.3): one per
// process, it continuously reads new outbox entries in Seq order and
// hands them to the local Dispatcher without ever blocking on a slow
// client.
package poll

import (
	"context"
	"log/slog"
	"time"

	"github.com/sselane/sselane/event"
	"github.com/sselane/sselane/outbox"
	"github.com/sselane/sselane/telemetry"
)

const (
	// BatchSize is how many entries the Poller reads per pass.
	BatchSize = 100

	// IdleSleep is how long the Poller sleeps when a pass reads nothing.
	IdleSleep = 50 * time.Millisecond

	// ErrorBackoff is how long the Poller sleeps after a store error.
	ErrorBackoff = 5 * time.Second

	// ReplayWindow is how far behind the latest seq a restarting Poller
	// re-drives delivery from, so a pod with a freshly emptied client set
	// still re-sends recent events (spec.md §4.3 "State").
	ReplayWindow = 100
)

// Dispatcher routes one polled event to local clients. Implemented by
// dispatch.Registry. The Poller depends only on this interface, breaking
// the cyclic reference the source had between the outbox service and the
// stream service (spec.md §9, "Re-architecture of source patterns").
type Dispatcher interface {
	Deliver(rec event.Record)
}

// Poller is the background loop that drives delivery for one process.
type Poller struct {
	store      outbox.Store
	dispatcher Dispatcher
	logger     *slog.Logger
	instr      *telemetry.Instrumentation

	lastDelivered int64 // single-writer: only the poller goroutine touches this

	cancel context.CancelFunc
	done   chan struct{}
}

// Config configures a Poller.
type Config struct {
	Store      outbox.Store
	Dispatcher Dispatcher
	Logger     *slog.Logger
	// Instrumentation is optional; a nil value disables metrics.
	Instrumentation *telemetry.Instrumentation
}

// New creates a Poller. Call Start to begin polling.
func New(cfg Config) *Poller {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{store: cfg.Store, dispatcher: cfg.Dispatcher, logger: logger, instr: cfg.Instrumentation}
}

// Start initializes lastDelivered from the outbox's latest entry and
// begins the poll loop in the background. It returns once the initial
// cursor has been established.
func (p *Poller) Start(ctx context.Context) error {
	latest, err := p.store.Latest(ctx)
	if err != nil {
		return err
	}
	p.lastDelivered = 0
	if latest != nil {
		p.lastDelivered = latest.Seq - ReplayWindow
		if p.lastDelivered < 0 {
			p.lastDelivered = 0
		}
	}

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	p.cancel = cancel
	p.done = done

	go p.run(loopCtx, done)
	return nil
}

func (p *Poller) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		if ctx.Err() != nil {
			return
		}

		entries, err := p.store.ReadAfter(ctx, p.lastDelivered, BatchSize)
		if err != nil {
			p.logger.Error("outbox poll failed", "error", err)
			if !sleepOrDone(ctx, ErrorBackoff) {
				return
			}
			continue
		}

		p.instr.RecordPollBatch(ctx, len(entries))

		if len(entries) == 0 {
			if !sleepOrDone(ctx, IdleSleep) {
				return
			}
			continue
		}

		for _, entry := range entries {
			p.dispatcher.Deliver(entry.Record)
			p.lastDelivered = entry.Seq
		}
	}
}

// sleepOrDone sleeps for d, returning false early (without having slept)
// if ctx is canceled first.
func sleepOrDone(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// LastDelivered returns the poller's current cursor. Exposed for tests and
// observability; spec.md §8 B1 requires this to advance even with zero
// connected clients.
func (p *Poller) LastDelivered() int64 {
	return p.lastDelivered
}

// Stop cancels the poll loop and waits for it to exit.
func (p *Poller) Stop(ctx context.Context) error {
	if p.cancel == nil {
		return nil
	}
	p.cancel()
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
