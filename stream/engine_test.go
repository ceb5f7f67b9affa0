package stream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sselane/sselane/event"
)

type fakeCheckpoints struct {
	mu  sync.Mutex
	cps map[string]event.Checkpoint
}

func newFakeCheckpoints() *fakeCheckpoints {
	return &fakeCheckpoints{cps: make(map[string]event.Checkpoint)}
}

func (f *fakeCheckpoints) Upsert(ctx context.Context, cp event.Checkpoint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cps[cp.ClientID] = cp
	return nil
}

func (f *fakeCheckpoints) Get(ctx context.Context, clientID string) (event.Checkpoint, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp, ok := f.cps[clientID]
	return cp, ok, nil
}

func (f *fakeCheckpoints) Close() error { return nil }

type collectingWriter struct {
	mu      sync.Mutex
	written []event.Record
	failOn  int // fail on the Nth write (1-indexed); 0 means never
}

func (w *collectingWriter) Write(rec event.Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failOn > 0 && len(w.written)+1 == w.failOn {
		return errors.New("simulated write failure")
	}
	w.written = append(w.written, rec)
	return nil
}

func (w *collectingWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.written)
}

func TestEngineYieldWritesInOrderAndCheckpoints(t *testing.T) {
	checkpoints := newFakeCheckpoints()
	e := New("client-1", checkpoints, nil, nil)

	e.Enqueue(event.Record{ID: "e1", Seq: 1})
	e.Enqueue(event.Record{ID: "e2", Seq: 2})

	writer := &collectingWriter{}
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		e.Yield(ctx, writer)
		close(done)
	}()

	deadline := time.Now().Add(300 * time.Millisecond)
	for writer.count() < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()
	<-done

	if writer.count() != 2 {
		t.Fatalf("wrote %d records, want 2", writer.count())
	}

	cp, ok, _ := checkpoints.Get(context.Background(), "client-1")
	if !ok || cp.LastSeq != 2 {
		t.Fatalf("checkpoint = %+v, want LastSeq=2", cp)
	}
}

func TestEngineEnqueueDeduplicates(t *testing.T) {
	e := New("client-1", newFakeCheckpoints(), nil, nil)
	e.Enqueue(event.Record{ID: "e1", Seq: 1})
	e.Enqueue(event.Record{ID: "e1", Seq: 1})

	if got := len(e.ch); got != 1 {
		t.Fatalf("channel has %d entries, want 1 (duplicate should be suppressed)", got)
	}
}

func TestEngineYieldStopsOnWriteError(t *testing.T) {
	e := New("client-1", newFakeCheckpoints(), nil, nil)
	e.Enqueue(event.Record{ID: "e1", Seq: 1})
	e.Enqueue(event.Record{ID: "e2", Seq: 2})

	writer := &collectingWriter{failOn: 1}
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		e.Yield(ctx, writer)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Yield did not return after write error")
	}

	if writer.count() != 0 {
		t.Fatalf("wrote %d records, want 0 (first write fails)", writer.count())
	}
}

func TestEngineCloseIdempotentAndEnqueueAfterCloseNoop(t *testing.T) {
	e := New("client-1", newFakeCheckpoints(), nil, nil)
	// Verify Close is idempotent and Enqueue after Close is a silent no-op.
	e.Close()
	e.Close()
	e.Enqueue(event.Record{ID: "e1", Seq: 1})
	if len(e.ch) != 0 {
		t.Fatal("Enqueue after Close should not deliver to the channel")
	}
}
