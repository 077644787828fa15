package events

import (
	"sync"
	"time"
)

// Handler receives events. Handlers run synchronously on the emitting
// goroutine, so emission order is delivery order.
type Handler func(Event)

type subscription struct {
	handler Handler
	types   map[Type]bool // nil means all types
}

// Bus is a minimal synchronous event bus with typed subscriptions.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]subscription
}

func NewBus() *Bus {
	return &Bus{
		subs: make(map[int]subscription),
	}
}

// Subscribe registers a handler for all events and returns its id.
func (b *Bus) Subscribe(handler Handler) int {
	return b.subscribe(handler, nil)
}

// SubscribeTypes registers a handler for the given event types only.
func (b *Bus) SubscribeTypes(handler Handler, types ...Type) int {
	filter := make(map[Type]bool, len(types))
	for _, t := range types {
		filter[t] = true
	}

	return b.subscribe(handler, filter)
}

func (b *Bus) subscribe(handler Handler, filter map[Type]bool) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.subs[id] = subscription{handler: handler, types: filter}

	return id
}

// Unsubscribe removes a subscription. Unknown ids are ignored.
func (b *Bus) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.subs, id)
}

// Emit delivers the event to every matching subscriber. The timestamp is
// stamped here if the caller left it zero.
func (b *Bus) Emit(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs))
	for _, sub := range b.subs {
		if sub.types == nil || sub.types[event.Type] {
			handlers = append(handlers, sub.handler)
		}
	}
	b.mu.RUnlock()

	for _, handler := range handlers {
		handler(event)
	}
}
