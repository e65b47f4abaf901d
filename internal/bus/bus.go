// Package bus implements the in-process event bus. Handlers with an event
// trigger are bound as listeners at load time; the /emit-event endpoint and
// internal producers publish through Emit.
//
// The listener table is rebuilt wholesale on every registry reload
// (copy-on-write), so repeated reloads never multiply deliveries and readers
// never observe a torn state.
package bus

import (
	"context"
	"log/slog"
	"sync"
)

// Listener receives one emitted event. data is the decoded JSON payload.
type Listener func(ctx context.Context, event string, data any)

// Bus is an in-process publish/subscribe keyed by event name.
type Bus struct {
	mu        sync.RWMutex
	listeners map[string][]Listener
}

// New returns an empty bus.
func New() *Bus {
	return &Bus{listeners: make(map[string][]Listener)}
}

// Subscribe appends a listener for the given event name.
func (b *Bus) Subscribe(event string, l Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners[event] = append(b.listeners[event], l)
}

// ResetAll replaces the entire listener table. The registry calls this after
// every rescan with the listeners of the freshly built function set, which
// clears bindings of undeployed functions in the same step.
func (b *Bus) ResetAll(table map[string][]Listener) {
	next := make(map[string][]Listener, len(table))
	for event, ls := range table {
		next[event] = append([]Listener(nil), ls...)
	}
	b.mu.Lock()
	b.listeners = next
	b.mu.Unlock()
}

// Emit invokes the listeners registered for event synchronously, in
// registration order. A panicking listener is logged and does not block the
// others. Returns the number of listeners invoked.
func (b *Bus) Emit(ctx context.Context, event string, data any) int {
	b.mu.RLock()
	ls := b.listeners[event]
	b.mu.RUnlock()

	for _, l := range ls {
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("event bus: listener panicked", "event", event, "panic", r)
				}
			}()
			l(ctx, event, data)
		}()
	}
	return len(ls)
}

// HasListeners reports whether any listener is currently bound for event.
func (b *Bus) HasListeners(event string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners[event]) > 0
}

// ListenerCount returns the number of listeners bound for event.
func (b *Bus) ListenerCount(event string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners[event])
}
