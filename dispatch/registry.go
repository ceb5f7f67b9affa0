// Package dispatch implements the process-local Dispatcher / Client
// Registry (C6, spec.md §4.4): it routes each polled event to the subset
// of local streams whose filter matches, or to one targeted stream.
package dispatch

import (
	"context"
	"sync"

	"github.com/sselane/sselane/event"
)

// Subscriber receives events routed to one client. Implementations (the
// per-client Stream Engine) must make Enqueue safe to call concurrently
// with other clients' enqueues and must never block the caller for long:
// the Dispatcher calls Enqueue from its own goroutine per delivery so a
// slow client cannot stall other clients or the Outbox Poller (spec.md
// §4.5 "the enqueue is performed off the Dispatcher's goroutine/task").
type Subscriber interface {
	Enqueue(rec event.Record)
}

type clientEntry struct {
	filter     string
	subscriber Subscriber
	cancel     context.CancelFunc
}

// Registry is the process-local map of live client streams. It must
// support safe concurrent read/insert/remove (spec.md §4.4, §5 "Shared-
// resource policy"); coarse locking is acceptable at the expected scale
// (thousands of connections per pod).
type Registry struct {
	mu      sync.RWMutex
	clients map[string]*clientEntry
}

// NewRegistry creates an empty client registry.
func NewRegistry() *Registry {
	return &Registry{clients: make(map[string]*clientEntry)}
}

// Register records a client and returns a cancellation handle the
// transport triggers on disconnect (spec.md §4.4 "register").
func (r *Registry) Register(clientID string, filter string, sub Subscriber) context.CancelFunc {
	ctx, cancel := context.WithCancel(context.Background())

	entry := &clientEntry{filter: filter, subscriber: sub, cancel: cancel}

	r.mu.Lock()
	if existing, ok := r.clients[clientID]; ok {
		existing.cancel()
	}
	r.clients[clientID] = entry
	r.mu.Unlock()

	go func() {
		<-ctx.Done()
		// Remove only this registration: a later Register for the same
		// client id must not be undone when the replaced entry is canceled.
		r.mu.Lock()
		if current, ok := r.clients[clientID]; ok && current == entry {
			delete(r.clients, clientID)
		}
		r.mu.Unlock()
	}()

	return cancel
}

// Unregister removes a client's registration and fires its cancellation
// (spec.md §4.4 "unregister").
func (r *Registry) Unregister(clientID string) {
	r.mu.Lock()
	entry, ok := r.clients[clientID]
	if ok {
		delete(r.clients, clientID)
	}
	r.mu.Unlock()

	if ok {
		entry.cancel()
	}
}

// Deliver routes one event to the matching local clients. Targeted events
// go to the one client id named by rec.Target, if present locally;
// broadcast events go to every local client whose filter accepts the
// event's type (spec.md §4.4 "deliver", invariant I5). Each delivery is
// fired from its own goroutine so a slow client's 30s enqueue timeout
// never blocks delivery to other clients or the caller (the Outbox
// Poller).
func (r *Registry) Deliver(rec event.Record) {
	if rec.Target != "" {
		r.mu.RLock()
		entry, ok := r.clients[rec.Target]
		r.mu.RUnlock()
		if ok {
			go entry.subscriber.Enqueue(rec)
		}
		return
	}

	r.mu.RLock()
	matches := make([]Subscriber, 0, len(r.clients))
	for _, entry := range r.clients {
		if Accepts(entry.filter, string(rec.Type)) {
			matches = append(matches, entry.subscriber)
		}
	}
	r.mu.RUnlock()

	for _, sub := range matches {
		go sub.Enqueue(rec)
	}
}

// Len returns the number of locally registered clients. Used by the
// Heartbeat Ticker to skip ticks when no client is connected (spec.md
// §4.7).
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}
