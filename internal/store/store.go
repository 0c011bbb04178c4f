// Package store provides the reconciling list store: an in-memory copy of a
// server collection that applies local mutations immediately and repairs
// itself when the server rejects them.
//
// Every optimistic operation is an apply step, a call to the server, and a
// resolve (or rollback) step. Each step is a single locked mutation that
// observers see as a separate change. Nothing is locked across the server
// call, so refreshes and other mutations can interleave freely; whichever
// resolves last wins for a given id.
package store

import (
	"context"
	"errors"
	"sync"

	"famhub/backend"
)

// ErrDuplicateID is returned by OptimisticAdd when the draft carries an id
// that is already present in the collection.
var ErrDuplicateID = errors.New("item id already present in collection")

// Store holds a collection of T keyed by an identifier extraction function.
// The zero value is not usable; create one with New.
type Store[T any] struct {
	key     func(T) string
	withKey func(T, string) T
	newID   func() string

	// notifyMu orders change notifications so observers never see an
	// older collection after a newer one.
	notifyMu sync.Mutex

	mu      sync.Mutex
	items   []T
	pending map[string]int      // id -> number of in-flight operations
	adds    map[string]struct{} // temporary ids of unresolved adds
	subs    map[int]func([]T)
	nextSub int
	closed  bool
}

// Option configures a Store.
type Option[T any] func(*Store[T])

// WithIDGenerator sets the function used to assign temporary ids to drafts
// that don't carry one.
func WithIDGenerator[T any](fn func() string) Option[T] {
	return func(s *Store[T]) {
		s.newID = fn
	}
}

// WithItems seeds the collection.
func WithItems[T any](items []T) Option[T] {
	return func(s *Store[T]) {
		s.items = s.dedupe(nil, items)
	}
}

// New creates a store. key extracts an item's id and withKey returns a copy
// of an item carrying a new id.
func New[T any](key func(T) string, withKey func(T, string) T, opts ...Option[T]) *Store[T] {
	s := &Store[T]{
		key:     key,
		withKey: withKey,
		newID:   backend.NewTempID,
		pending: make(map[string]int),
		adds:    make(map[string]struct{}),
		subs:    make(map[int]func([]T)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Items returns a copy of the collection.
func (s *Store[T]) Items() []T {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyItems()
}

// Len returns the number of items in the collection.
func (s *Store[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Get returns the item with the given id.
func (s *Store[T]) Get(id string) (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexOf(id); i >= 0 {
		return s.items[i], true
	}
	var zero T
	return zero, false
}

// IsPending reports whether an optimistic operation touching id is in flight.
func (s *Store[T]) IsPending(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending[id] > 0
}

// Subscribe registers fn to receive a copy of the collection after every
// change. fn runs on the goroutine that made the change and must not call
// mutating methods of the store.
func (s *Store[T]) Subscribe(fn func([]T)) (cancel func()) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	if !s.closed {
		s.subs[id] = fn
	}
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// Close detaches all observers. Operations still in flight complete and
// update the collection but nobody is notified any more.
func (s *Store[T]) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.subs = make(map[int]func([]T))
}

// ReplaceAll replaces the collection with the server's view of it.
//
// Items of unresolved optimistic adds are kept at the front until their own
// add resolves, so a refresh may briefly show both the temporary item and
// the server copy of it.
func (s *Store[T]) ReplaceAll(items []T) {
	s.commit(func() bool {
		kept := make([]T, 0, len(s.adds))
		for _, it := range s.items {
			if _, ok := s.adds[s.key(it)]; ok {
				kept = append(kept, it)
			}
		}
		s.items = s.dedupe(kept, items)
		return true
	})
}

// OptimisticAdd inserts draft at the front of the collection under a
// temporary id, then calls create. On success the temporary item is
// replaced by the server item. On failure it is removed and the error is
// returned unchanged.
func (s *Store[T]) OptimisticAdd(ctx context.Context, draft T, create func(context.Context) (T, error)) (T, error) {
	var zero T

	tempID := s.key(draft)
	if tempID == "" {
		tempID = s.newID()
		draft = s.withKey(draft, tempID)
	}

	duplicate := false
	s.commit(func() bool {
		if s.indexOf(tempID) >= 0 {
			duplicate = true
			return false
		}
		s.markPending(tempID)
		s.adds[tempID] = struct{}{}
		s.items = append([]T{draft}, s.items...)
		return true
	})
	if duplicate {
		return zero, ErrDuplicateID
	}

	created, err := create(ctx)
	if err != nil {
		s.commit(func() bool {
			delete(s.adds, tempID)
			s.clearPending(tempID)
			s.removeID(tempID)
			return true
		})
		return zero, err
	}

	if s.key(created) == "" {
		created = s.withKey(created, tempID)
	}

	s.commit(func() bool {
		delete(s.adds, tempID)
		s.clearPending(tempID)
		if i := s.indexOf(tempID); i >= 0 {
			s.items[i] = created
			s.removeOthers(s.key(created), i)
		}
		return true
	})
	return created, nil
}

// OptimisticUpdate applies apply to the item with the given id, then calls
// update. On success the item is replaced by the server version. On failure
// the item is restored to its state before the call and the error returned.
func (s *Store[T]) OptimisticUpdate(ctx context.Context, id string, apply func(T) T, update func(context.Context) (T, error)) (T, error) {
	var zero T

	var snapshot T
	found := false
	s.commit(func() bool {
		s.markPending(id)
		if i := s.indexOf(id); i >= 0 {
			snapshot = s.items[i]
			found = true
			s.items[i] = s.withKey(apply(snapshot), id)
		}
		return true
	})

	updated, err := update(ctx)
	if err != nil {
		s.commit(func() bool {
			s.clearPending(id)
			if found {
				if i := s.indexOf(id); i >= 0 {
					s.items[i] = snapshot
				}
			}
			return true
		})
		return zero, err
	}

	if s.key(updated) == "" {
		updated = s.withKey(updated, id)
	}

	s.commit(func() bool {
		s.clearPending(id)
		if i := s.indexOf(id); i >= 0 {
			s.items[i] = updated
			s.removeOthers(s.key(updated), i)
		}
		return true
	})
	return updated, nil
}

// OptimisticDelete removes the item with the given id, then calls del. On
// failure the removed item is put back (at the end) and the error returned.
func (s *Store[T]) OptimisticDelete(ctx context.Context, id string, del func(context.Context) error) error {
	var snapshot T
	found := false
	s.commit(func() bool {
		s.markPending(id)
		if i := s.indexOf(id); i >= 0 {
			snapshot = s.items[i]
			found = true
			s.removeAt(i)
		}
		return true
	})

	if err := del(ctx); err != nil {
		s.commit(func() bool {
			s.clearPending(id)
			if found && s.indexOf(id) < 0 {
				s.items = append(s.items, snapshot)
			}
			return true
		})
		return err
	}

	s.commit(func() bool {
		s.clearPending(id)
		// A refresh that landed mid-call may have brought the item back.
		s.removeID(id)
		return true
	})
	return nil
}

// commit runs mutate under the store lock and, if it reports a change,
// hands a copy of the collection to every observer.
func (s *Store[T]) commit(mutate func() bool) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	if !mutate() {
		s.mu.Unlock()
		return
	}
	if len(s.subs) == 0 {
		s.mu.Unlock()
		return
	}
	items := s.copyItems()
	subs := make([]func([]T), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(items)
	}
}

func (s *Store[T]) copyItems() []T {
	out := make([]T, len(s.items))
	copy(out, s.items)
	return out
}

func (s *Store[T]) indexOf(id string) int {
	for i, it := range s.items {
		if s.key(it) == id {
			return i
		}
	}
	return -1
}

func (s *Store[T]) removeAt(i int) {
	next := make([]T, 0, len(s.items)-1)
	next = append(next, s.items[:i]...)
	s.items = append(next, s.items[i+1:]...)
}

func (s *Store[T]) removeID(id string) {
	for i := s.indexOf(id); i >= 0; i = s.indexOf(id) {
		s.removeAt(i)
	}
}

// removeOthers drops every item with the given id except the one at keep.
func (s *Store[T]) removeOthers(id string, keep int) {
	next := make([]T, 0, len(s.items))
	for i, it := range s.items {
		if i != keep && s.key(it) == id {
			continue
		}
		next = append(next, it)
	}
	s.items = next
}

// dedupe appends items to base so that each id appears once. A later
// occurrence replaces the value of an earlier one in place.
func (s *Store[T]) dedupe(base []T, items []T) []T {
	out := make([]T, 0, len(base)+len(items))
	pos := make(map[string]int, len(base)+len(items))
	for _, group := range [][]T{base, items} {
		for _, it := range group {
			k := s.key(it)
			if i, ok := pos[k]; ok {
				out[i] = it
				continue
			}
			pos[k] = len(out)
			out = append(out, it)
		}
	}
	return out
}

func (s *Store[T]) markPending(id string) {
	s.pending[id]++
}

func (s *Store[T]) clearPending(id string) {
	if s.pending[id] <= 1 {
		delete(s.pending, id)
		return
	}
	s.pending[id]--
}
