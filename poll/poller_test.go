package poll

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sselane/sselane/event"
)

type fakeStore struct {
	mu      sync.Mutex
	entries []event.OutboxEntry
}

func (f *fakeStore) Insert(ctx context.Context, entry event.OutboxEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeStore) ReadAfter(ctx context.Context, fromSeq int64, limit int) ([]event.OutboxEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []event.OutboxEntry
	for _, e := range f.entries {
		if e.Seq > fromSeq {
			out = append(out, e)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeStore) Latest(ctx context.Context) (*event.OutboxEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.entries) == 0 {
		return nil, nil
	}
	latest := f.entries[len(f.entries)-1]
	return &latest, nil
}

func (f *fakeStore) Reap(ctx context.Context, now time.Time) (int64, error) { return 0, nil }
func (f *fakeStore) Close() error                                           { return nil }

type fakeDispatcher struct {
	mu        sync.Mutex
	delivered []event.Record
}

func (d *fakeDispatcher) Deliver(rec event.Record) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.delivered = append(d.delivered, rec)
}

func (d *fakeDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.delivered)
}

func TestPollerDeliversNewEntries(t *testing.T) {
	store := &fakeStore{}
	dispatcher := &fakeDispatcher{}
	p := New(Config{Store: store, Dispatcher: dispatcher})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer p.Stop(context.Background())

	store.Insert(ctx, event.OutboxEntry{Record: event.Record{ID: "e1", Seq: 1}})

	deadline := time.Now().Add(time.Second)
	for dispatcher.count() < 1 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if dispatcher.count() != 1 {
		t.Fatalf("delivered %d events, want 1", dispatcher.count())
	}
	if p.LastDelivered() != 1 {
		t.Fatalf("LastDelivered() = %d, want 1", p.LastDelivered())
	}
}

func TestPollerStartsFromReplayWindow(t *testing.T) {
	store := &fakeStore{}
	for i := int64(1); i <= 150; i++ {
		store.Insert(context.Background(), event.OutboxEntry{Record: event.Record{ID: "e", Seq: i}})
	}

	p := New(Config{Store: store, Dispatcher: &fakeDispatcher{}})
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer p.Stop(context.Background())

	want := int64(150 - ReplayWindow)
	if p.LastDelivered() != want {
		t.Fatalf("initial LastDelivered() = %d, want %d", p.LastDelivered(), want)
	}
}

func TestPollerStopIsIdempotentBeforeStart(t *testing.T) {
	p := New(Config{Store: &fakeStore{}, Dispatcher: &fakeDispatcher{}})
	if err := p.Stop(context.Background()); err != nil {
		t.Fatalf("Stop before Start: %v", err)
	}
}
