// Package state provides small observable values shared between the
// presentation layer and the background sync machinery.
package state

import "sync"

// Flag is a concurrency-safe observable boolean. It backs the page visibility
// and online/offline signals.
type Flag struct {
	mu       sync.Mutex
	value    bool
	nextID   int
	watchers map[int]func(bool)
}

// NewFlag creates a flag with the given initial value.
func NewFlag(initial bool) *Flag {
	return &Flag{
		value:    initial,
		watchers: make(map[int]func(bool)),
	}
}

// Get returns the current value.
func (f *Flag) Get() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value
}

// Set stores v and notifies watchers if the value changed.
// Watchers run on the caller's goroutine after the lock is released.
func (f *Flag) Set(v bool) {
	f.mu.Lock()
	if f.value == v {
		f.mu.Unlock()
		return
	}
	f.value = v
	watchers := make([]func(bool), 0, len(f.watchers))
	for _, w := range f.watchers {
		watchers = append(watchers, w)
	}
	f.mu.Unlock()

	for _, w := range watchers {
		w(v)
	}
}

// Subscribe registers fn to be called on every change. The returned function
// removes the subscription and is safe to call more than once.
func (f *Flag) Subscribe(fn func(bool)) (cancel func()) {
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.watchers[id] = fn
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.watchers, id)
			f.mu.Unlock()
		})
	}
}

// Watchers returns the number of active subscriptions.
func (f *Flag) Watchers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.watchers)
}
