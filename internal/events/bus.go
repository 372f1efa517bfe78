package events

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Handler processes one event. Handlers run synchronously on the
// publisher's goroutine, in registration order.
type Handler func(ctx context.Context, evt Event)

// Bus is the in-process synchronous event bus. Each handler invocation is
// recover-wrapped so one panicking subscriber cannot affect siblings or the
// publisher. A single subscriber observes events in publication order.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	byType map[Type][]subscriberEntry
	all    []subscriberEntry
	log    zerolog.Logger

	panicHook func(evt Event, recovered interface{})
}

type subscriberEntry struct {
	id      int
	name    string
	handler Handler
}

// NewBus creates an empty bus.
func NewBus(log zerolog.Logger) *Bus {
	return &Bus{
		byType: make(map[Type][]subscriberEntry),
		log:    log.With().Str("component", "events").Logger(),
	}
}

// Subscribe registers a handler for one event type. The name appears in
// panic logs. Returns an unsubscribe function.
func (b *Bus) Subscribe(t Type, name string, h Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.byType[t] = append(b.byType[t], subscriberEntry{id: id, name: name, handler: h})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.byType[t]
		for i, entry := range subs {
			if entry.id == id {
				b.byType[t] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
	}
}

// SubscribeAll registers a handler for every event type.
func (b *Bus) SubscribeAll(name string, h Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.all = append(b.all, subscriberEntry{id: id, name: name, handler: h})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, entry := range b.all {
			if entry.id == id {
				b.all = append(b.all[:i], b.all[i+1:]...)
				break
			}
		}
	}
}

// Publish delivers evt to every matching subscriber before returning.
func (b *Bus) Publish(ctx context.Context, evt Event) {
	b.mu.RLock()
	entries := make([]subscriberEntry, 0, len(b.byType[evt.Type])+len(b.all))
	entries = append(entries, b.byType[evt.Type]...)
	entries = append(entries, b.all...)
	b.mu.RUnlock()

	for _, entry := range entries {
		b.invoke(ctx, entry, evt)
	}
}

func (b *Bus) invoke(ctx context.Context, entry subscriberEntry, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().
				Str("subscriber", entry.name).
				Str("event_type", string(evt.Type)).
				Str("event_id", evt.ID).
				Interface("panic", r).
				Msg("subscriber panicked")
			if b.panicHook != nil {
				b.panicHook(evt, r)
			}
		}
	}()
	entry.handler(ctx, evt)
}

// SetPanicHook installs an observer for subscriber panics (metrics).
func (b *Bus) SetPanicHook(hook func(evt Event, recovered interface{})) {
	b.panicHook = hook
}

// SubscriberCount returns the number of registered handlers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := len(b.all)
	for _, subs := range b.byType {
		n += len(subs)
	}
	return n
}
