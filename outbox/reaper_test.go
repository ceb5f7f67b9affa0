package outbox

import (
	"context"
	"testing"
	"time"

	"github.com/sselane/sselane/event"
)

func TestReaperRunOnceDeletesExpired(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	past := time.Now().UTC().Add(-2 * time.Hour)

	entry := event.OutboxEntry{
		Record:    event.Record{ID: "evt-expired", Type: event.KindMessage, Data: []byte(`{}`), Seq: 1},
		CreatedAt: past,
		Ttl:       past.Add(time.Minute),
	}
	if err := store.Insert(ctx, entry); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	reaper, err := NewReaper(store, DefaultReapSchedule, nil)
	if err != nil {
		t.Fatalf("NewReaper: %v", err)
	}
	reaper.runOnce(ctx, time.Now().UTC())

	latest, err := store.Latest(ctx)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if latest != nil {
		t.Fatalf("expected store empty after runOnce, got %+v", latest)
	}
}

func TestNewReaperInvalidSchedule(t *testing.T) {
	store := newTestStore(t)
	if _, err := NewReaper(store, "not a cron expression", nil); err == nil {
		t.Fatal("expected error for invalid cron expression")
	}
}
