// Package subs tracks active event subscriptions so a channel switch or
// teardown can detach everything at once, and a duplicate attach can never
// register a second listener for the same stream.
package subs

import "sync"

// EventKind names one kind of event delivered by a source.
type EventKind string

const (
	KindMessageAdded    EventKind = "message_added"
	KindPresenceAdded   EventKind = "presence_added"
	KindPresenceRemoved EventKind = "presence_removed"
	KindChannelAdded    EventKind = "channel_added"
	KindConnectivity    EventKind = "connectivity"
)

// Key uniquely identifies one attachment: (channel, source, event kind).
type Key struct {
	Channel string
	Source  string
	Kind    EventKind
}

// Registry holds the active subscription records. Set semantics: at most one
// record per key.
type Registry struct {
	mu      sync.Mutex
	records map[Key]func()
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{records: make(map[Key]func())}
}

// Attach subscribes via the given function and records its cancel under key.
// If a record with the same key already exists, no subscription is made and
// Attach returns false.
func (r *Registry) Attach(key Key, subscribe func() (cancel func(), err error)) (bool, error) {
	r.mu.Lock()
	if _, exists := r.records[key]; exists {
		r.mu.Unlock()
		return false, nil
	}
	// Reserve the key so a concurrent attach of the same triple cannot
	// register a second listener while subscribe is in flight.
	r.records[key] = func() {}
	r.mu.Unlock()

	cancel, err := subscribe()
	r.mu.Lock()
	if err != nil {
		delete(r.records, key)
		r.mu.Unlock()
		return false, err
	}
	r.records[key] = cancel
	r.mu.Unlock()
	return true, nil
}

// Active reports whether a record with the given key exists.
func (r *Registry) Active(key Key) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.records[key]
	return ok
}

// Len returns the number of active records.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// DetachAll cancels every record exactly once and clears the registry.
// Cancel functions are required to be idempotent, so detaching a source that
// is already gone is a no-op.
func (r *Registry) DetachAll() {
	r.mu.Lock()
	cancels := make([]func(), 0, len(r.records))
	for _, cancel := range r.records {
		cancels = append(cancels, cancel)
	}
	r.records = make(map[Key]func())
	r.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
}
