package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultReapSchedule runs the TTL reaper every 10 minutes.
const DefaultReapSchedule = "*/10 * * * *"

var reapScheduleParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

// Reaper periodically deletes outbox entries whose TTL has passed, on a
// cron schedule (spec.md §4.2 "Background: entries with ttl < now are
// reaped").
type Reaper struct {
	store    Store
	schedule cron.Schedule
	logger   *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewReaper builds a Reaper from a standard 5-field cron expression
// (minute hour dom month dow), evaluated in UTC.
func NewReaper(store Store, cronExpr string, logger *slog.Logger) (*Reaper, error) {
	if cronExpr == "" {
		cronExpr = DefaultReapSchedule
	}
	schedule, err := reapScheduleParser.Parse(cronExpr)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reaper{store: store, schedule: schedule, logger: logger}, nil
}

// Start begins the background reaping loop. It returns immediately; call
// Stop to shut it down.
func (r *Reaper) Start(ctx context.Context) {
	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	r.cancel = cancel
	r.done = done

	go func() {
		defer close(done)
		now := time.Now().UTC()
		for {
			next := r.schedule.Next(now)
			timer := time.NewTimer(next.Sub(now))
			select {
			case <-loopCtx.Done():
				timer.Stop()
				return
			case fired := <-timer.C:
				now = fired.UTC()
				r.runOnce(loopCtx, now)
			}
		}
	}()
}

func (r *Reaper) runOnce(ctx context.Context, now time.Time) {
	n, err := r.store.Reap(ctx, now)
	if err != nil {
		r.logger.Error("outbox reap failed", "error", err)
		return
	}
	if n > 0 {
		r.logger.Info("outbox reaped", "count", n)
	}
}

// Stop cancels the background loop and waits for it to exit.
func (r *Reaper) Stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	<-r.done
}
