// Package eventbus is the process-wide event registry: event name to an
// ordered list of callbacks. It is constructed once and injected into every
// consumer, so subscriptions survive transport reconnects and teardown.
package eventbus

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Event names published by the client core in addition to the inbound
// protocol message types.
const (
	CollaborationUpdated = "collaboration_updated"
	PresenceChanged      = "presence_changed"
	ConnectionState      = "connection_state"
)

type Handler func(data any)

type subscription struct {
	id uint64
	fn Handler
}

type Bus struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[string][]subscription
}

func New() *Bus {
	return &Bus{subs: make(map[string][]subscription)}
}

// Subscribe appends fn to the list for event. The returned func removes this
// registration only, even when the same fn was subscribed more than once.
func (b *Bus) Subscribe(event string, fn Handler) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[event] = append(b.subs[event], subscription{id: id, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(event, id) })
	}
}

func (b *Bus) remove(event string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.subs[event]
	for i, s := range list {
		if s.id != id {
			continue
		}
		// copy so an in-flight Publish keeps iterating its own snapshot
		next := make([]subscription, 0, len(list)-1)
		next = append(next, list[:i]...)
		next = append(next, list[i+1:]...)
		if len(next) == 0 {
			delete(b.subs, event)
		} else {
			b.subs[event] = next
		}
		return
	}
}

// Publish calls every callback registered for event, in subscription order,
// on the caller's goroutine. A panicking callback does not stop the others.
// Callbacks removed while a publish is in progress are skipped.
func (b *Bus) Publish(event string, data any) {
	b.mu.Lock()
	snapshot := b.subs[event]
	b.mu.Unlock()

	for _, s := range snapshot {
		if !b.live(event, s.id) {
			continue
		}
		b.invoke(event, s.fn, data)
	}
}

func (b *Bus) live(event string, id uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subs[event] {
		if s.id == id {
			return true
		}
	}
	return false
}

func (b *Bus) invoke(event string, fn Handler, data any) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("module", "client.eventbus").Str("event", event).Interface("panic", r).Msg("subscriber panicked")
		}
	}()
	fn(data)
}

// Count reports the number of live subscriptions for event.
func (b *Bus) Count(event string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[event])
}
