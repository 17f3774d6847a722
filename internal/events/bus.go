// Package events is the in-process event bus connecting players, terrain and
// the NPC manager. Every event is a distinct struct; handlers are registered
// per concrete type so payloads stay typed across the publish boundary.
package events

import (
	"fmt"
	"reflect"
	"sync"
)

// Event is implemented by every payload carried on the bus.
type Event interface {
	EventName() string
}

type handlerEntry struct {
	id uint64
	fn func(Event)
}

// Bus dispatches events synchronously on the publishing goroutine. It is
// safe for concurrent use; handlers must not block.
type Bus struct {
	mu       sync.RWMutex
	handlers map[reflect.Type][]handlerEntry
	nextID   uint64

	// OnPanic receives panics raised by handlers. Nil discards them.
	OnPanic func(name string, recovered any)
}

func NewBus() *Bus {
	return &Bus{handlers: make(map[reflect.Type][]handlerEntry)}
}

// Subscribe registers fn for events of type T and returns a function that
// removes the registration.
func Subscribe[T Event](b *Bus, fn func(T)) (unsubscribe func()) {
	if b == nil || fn == nil {
		return func() {}
	}
	key := reflect.TypeOf((*T)(nil)).Elem()

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.handlers[key] = append(b.handlers[key], handlerEntry{
		id: id,
		fn: func(ev Event) { fn(ev.(T)) },
	})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			entries := b.handlers[key]
			for i, entry := range entries {
				if entry.id == id {
					b.handlers[key] = append(entries[:i:i], entries[i+1:]...)
					break
				}
			}
		})
	}
}

// Publish delivers ev to every handler subscribed to its concrete type. A
// panicking handler does not prevent delivery to the others.
func Publish[T Event](b *Bus, ev T) {
	if b == nil {
		return
	}
	key := reflect.TypeOf((*T)(nil)).Elem()
	b.mu.RLock()
	entries := append([]handlerEntry(nil), b.handlers[key]...)
	b.mu.RUnlock()

	for _, entry := range entries {
		b.deliver(ev, entry)
	}
}

func (b *Bus) deliver(ev Event, entry handlerEntry) {
	defer func() {
		if r := recover(); r != nil && b.OnPanic != nil {
			b.OnPanic(ev.EventName(), r)
		}
	}()
	entry.fn(ev)
}

// HandlerCount reports how many handlers are registered for T.
func HandlerCount[T Event](b *Bus) int {
	if b == nil {
		return 0
	}
	key := reflect.TypeOf((*T)(nil)).Elem()
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[key])
}

// PanicError wraps a recovered handler panic for logging.
type PanicError struct {
	Event string
	Value any
}

func (e PanicError) Error() string {
	return fmt.Sprintf("events: handler for %s panicked: %v", e.Event, e.Value)
}
