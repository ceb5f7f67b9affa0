package heartbeat

import (
	"context"
	"testing"
	"time"

	"github.com/sselane/sselane/event"
	"github.com/sselane/sselane/outbox"
	"github.com/sselane/sselane/publish"
)

type countingClients struct{ n int }

func (c countingClients) Len() int { return c.n }

func newTestPublisher(t *testing.T) (*publish.Publisher, *outbox.SQLiteStore) {
	t.Helper()
	store, err := outbox.NewSQLiteStore(outbox.SQLiteConfig{DSN: ":memory:"})
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return publish.New(publish.Config{Sequence: store, Store: store}), store
}

func TestTickSkipsWhenNoClients(t *testing.T) {
	pub, store := newTestPublisher(t)
	ticker := New(pub, countingClients{n: 0}, nil)

	ticker.tick(context.Background())

	latest, err := store.Latest(context.Background())
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if latest != nil {
		t.Fatal("expected no heartbeat published with zero clients")
	}
}

func TestTickPublishesWhenClientsConnected(t *testing.T) {
	pub, store := newTestPublisher(t)
	ticker := New(pub, countingClients{n: 3}, nil)

	ticker.tick(context.Background())

	latest, err := store.Latest(context.Background())
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if latest == nil {
		t.Fatal("expected a heartbeat event to be published")
	}
	if latest.Type != event.KindHeartbeat {
		t.Fatalf("Type = %q, want heartbeat", latest.Type)
	}
}

func TestStopBeforeStartIsNoop(t *testing.T) {
	pub, _ := newTestPublisher(t)
	ticker := New(pub, countingClients{}, nil)
	if err := ticker.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestStartStop(t *testing.T) {
	pub, _ := newTestPublisher(t)
	ticker := New(pub, countingClients{n: 1}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ticker.Start(ctx)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	if err := ticker.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}
