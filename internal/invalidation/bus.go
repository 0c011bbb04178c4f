package invalidation

import (
	"sync"

	"famhub/internal/utils"
)

// Bus is an in-process Transport. Publish hands the message to every
// subscriber synchronously. Remote transports use it to fan out what they
// receive.
type Bus struct {
	mu       sync.RWMutex
	handlers map[int]func(Message)
	next     int
	closed   bool
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{handlers: make(map[int]func(Message))}
}

// Subscribe implements Transport. A closed bus returns ErrUnavailable.
func (b *Bus) Subscribe(fn func(Message)) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrUnavailable
	}

	id := b.next
	b.next++
	b.handlers[id] = fn

	return func() {
		b.mu.Lock()
		delete(b.handlers, id)
		b.mu.Unlock()
	}, nil
}

// Publish delivers m to all current subscribers and returns how many
// received it. A panicking handler is logged and doesn't stop delivery to
// the rest.
func (b *Bus) Publish(m Message) int {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return 0
	}
	handlers := make([]func(Message), 0, len(b.handlers))
	for _, h := range b.handlers {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		dispatch(h, m)
	}
	return len(handlers)
}

func dispatch(h func(Message), m Message) {
	defer func() {
		if r := recover(); r != nil {
			utils.Warnf("invalidation handler panicked on %s: %v", m.Channel, r)
		}
	}()
	h(m)
}

// Len returns the number of subscribers.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers)
}

// Close drops every subscriber. Later Subscribe calls fail and Publish
// delivers nothing.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.handlers = make(map[int]func(Message))
}
