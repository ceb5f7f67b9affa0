// Package publish implements the Publisher (C4, spec.md §4.2): it
// allocates a sequence number, builds an outbox entry, and writes it
// durably with bounded retry before returning success to the caller.
package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/sselane/sselane/event"
	"github.com/sselane/sselane/outbox"
	"github.com/sselane/sselane/telemetry"
)

// ErrPublishFailed is returned when the outbox insert does not succeed
// within the retry budget. The event is considered not published: the
// allocated Seq is never reused, so a gap in the outbox is acceptable
// (spec.md §4.2 "Do not roll back the allocated seq").
var ErrPublishFailed = errors.New("publish: failed to durably write event")

// maxRetries and the backoff schedule (100, 200, 400ms) are fixed by
// spec.md §4.2 step 3.
const maxRetries = 3

// Publisher accepts event submissions and makes them durable.
type Publisher struct {
	seq    outbox.SequenceStore
	store  outbox.Store
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
	instr  *telemetry.Instrumentation
}

// Config configures a Publisher.
type Config struct {
	Sequence outbox.SequenceStore
	Store    outbox.Store
	// TTL overrides event.DefaultTTL when positive.
	TTL    time.Duration
	Now    func() time.Time
	Logger *slog.Logger
	// Instrumentation is optional; a nil value disables spans and metrics.
	Instrumentation *telemetry.Instrumentation
}

// New creates a Publisher.
func New(cfg Config) *Publisher {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = event.DefaultTTL
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		seq:    cfg.Sequence,
		store:  cfg.Store,
		ttl:    ttl,
		now:    now,
		logger: logger,
		instr:  cfg.Instrumentation,
	}
}

// Publish allocates a sequence number, builds an entry, and durably writes
// it, retrying both the allocation and the insert with bounded exponential
// backoff. It blocks until durably
// written or the retry budget is exhausted. target, if non-empty, makes
// the event point-to-point.
func (p *Publisher) Publish(ctx context.Context, kind event.Kind, data []byte, target string) (event.Record, error) {
	ctx, endSpan := p.instr.StartPublishSpan(ctx, string(kind))
	var err error
	defer func() { endSpan(err) }()

	// Sequence allocation is retried on the same budget as the insert.
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	var seq int64
	err = backoff.Retry(func() error {
		var nextErr error
		seq, nextErr = p.seq.Next(ctx)
		return nextErr
	}, backoff.WithContext(backoff.WithMaxRetries(b, maxRetries), ctx))
	if err != nil {
		err = fmt.Errorf("publish: allocate sequence: %w", err)
		return event.Record{}, err
	}

	createdAt := p.now()
	entry := event.OutboxEntry{
		Record: event.Record{
			ID:     uuid.New().String(),
			Type:   kind,
			Data:   data,
			Seq:    seq,
			Target: target,
		},
		CreatedAt: createdAt,
		Ttl:       createdAt.Add(p.ttl),
	}

	if insertErr := p.insertWithRetry(ctx, entry); insertErr != nil {
		p.logger.Error("publish failed after retries", "seq", seq, "event_type", kind, "error", insertErr)
		err = fmt.Errorf("%w: %v", ErrPublishFailed, insertErr)
		return event.Record{}, err
	}

	return entry.Record, nil
}

// insertWithRetry attempts store.Insert up to maxRetries+1 times with
// exponential backoff starting at 100ms (100, 200, 400ms), per spec.md
// §4.2 step 3. A duplicate-sequence error is not retried: it can never
// succeed on retry and indicates a bug elsewhere in sequence allocation.
func (p *Publisher) insertWithRetry(ctx context.Context, entry event.OutboxEntry) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0 // bounded by WithMaxRetries instead

	policy := backoff.WithContext(backoff.WithMaxRetries(b, maxRetries), ctx)

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := p.store.Insert(ctx, entry)
		if err == nil {
			return nil
		}
		if errors.Is(err, outbox.ErrDuplicateSeq) {
			return backoff.Permanent(err)
		}
		p.logger.Warn("outbox insert attempt failed", "seq", entry.Seq, "attempt", attempt, "error", err)
		return err
	}, policy)
}
