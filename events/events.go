// Package events provides a process-wide broadcast bus for named events that
// carry no payload.
package events

import (
	"log/slog"
	"sync"
)

// Event names a broadcast.
type Event string

const (
	// LoginRequired is published when a request was suspended for lack of
	// valid credentials.
	LoginRequired Event = "event:auth-loginRequired"
	// LoginConfirmed is published once credentials have been (re)established.
	LoginConfirmed Event = "event:auth-loginConfirmed"
)

type listener struct {
	id int
	fn func()
}

// Bus delivers events to zero or more listeners. Delivery is synchronous, in
// subscription order, and unacknowledged. Listeners must not block.
type Bus struct {
	mu        sync.Mutex
	nextID    int
	listeners map[Event][]listener
	logger    *slog.Logger
}

// NewBus creates an empty bus. A nil logger discards listener panics silently.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Bus{
		listeners: make(map[Event][]listener),
		logger:    logger.With("component", "events"),
	}
}

// Subscribe registers fn for e and returns a function removing it again.
func (b *Bus) Subscribe(e Event, fn func()) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.listeners[e] = append(b.listeners[e], listener{id: id, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			ls := b.listeners[e]
			for i, l := range ls {
				if l.id == id {
					b.listeners[e] = append(ls[:i:i], ls[i+1:]...)
					break
				}
			}
		})
	}
}

// Publish invokes every listener registered for e at the time of the call.
func (b *Bus) Publish(e Event) {
	b.mu.Lock()
	ls := append([]listener(nil), b.listeners[e]...)
	b.mu.Unlock()

	for _, l := range ls {
		b.deliver(e, l)
	}
}

// Listeners reports how many listeners are registered for e.
func (b *Bus) Listeners(e Event) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.listeners[e])
}

func (b *Bus) deliver(e Event, l listener) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("listener panicked", "event", string(e), "panic", r)
		}
	}()
	l.fn()
}
