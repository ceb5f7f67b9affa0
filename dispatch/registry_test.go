package dispatch

import (
	"sync"
	"testing"
	"time"

	"github.com/sselane/sselane/event"
)

type fakeSubscriber struct {
	mu       sync.Mutex
	received []event.Record
}

func (f *fakeSubscriber) Enqueue(rec event.Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.received = append(f.received, rec)
}

func (f *fakeSubscriber) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.received)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestDeliverBroadcastMatchesFilter(t *testing.T) {
	r := NewRegistry()
	sub := &fakeSubscriber{}
	cancel := r.Register("client-1", "alert", sub)
	defer cancel()

	r.Deliver(event.Record{ID: "e1", Type: event.KindAlert})
	waitFor(t, func() bool { return sub.count() == 1 })

	r.Deliver(event.Record{ID: "e2", Type: event.KindMessage})
	time.Sleep(20 * time.Millisecond)
	if sub.count() != 1 {
		t.Fatalf("count = %d, want 1 (non-matching type should not deliver)", sub.count())
	}
}

func TestDeliverTargeted(t *testing.T) {
	r := NewRegistry()
	subA := &fakeSubscriber{}
	subB := &fakeSubscriber{}
	r.Register("client-a", "", subA)
	r.Register("client-b", "", subB)

	r.Deliver(event.Record{ID: "e1", Type: event.KindMessage, Target: "client-b"})
	waitFor(t, func() bool { return subB.count() == 1 })

	time.Sleep(20 * time.Millisecond)
	if subA.count() != 0 {
		t.Fatalf("client-a received %d events, want 0 for a targeted delivery", subA.count())
	}
}

func TestUnregisterStopsDelivery(t *testing.T) {
	r := NewRegistry()
	sub := &fakeSubscriber{}
	r.Register("client-1", "", sub)
	r.Unregister("client-1")

	if r.Len() != 0 {
		t.Fatalf("Len() = %d, want 0 after unregister", r.Len())
	}

	r.Deliver(event.Record{ID: "e1", Type: event.KindMessage})
	time.Sleep(20 * time.Millisecond)
	if sub.count() != 0 {
		t.Fatal("unregistered client should not receive events")
	}
}

func TestRegisterReplacesExisting(t *testing.T) {
	r := NewRegistry()
	first := &fakeSubscriber{}
	r.Register("client-1", "", first)

	second := &fakeSubscriber{}
	r.Register("client-1", "", second)

	if r.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", r.Len())
	}

	r.Deliver(event.Record{ID: "e1", Type: event.KindMessage})
	waitFor(t, func() bool { return second.count() == 1 })
	if first.count() != 0 {
		t.Fatal("replaced subscriber should not receive further events")
	}
}
