package backend

import (
	"context"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// TempIDPrefix marks ids that were generated locally and are still waiting
// for the server to assign a real one.
const TempIDPrefix = "temp-"

// Scope narrows a List call (e.g. the calendar's year and month).
// A nil scope means the full collection.
type Scope map[string]string

// Key returns a canonical string form of the scope, stable across map
// iteration order. The empty scope has the empty key.
func (s Scope) Key() string {
	if len(s) == 0 {
		return ""
	}
	v := url.Values{}
	for k, val := range s {
		v.Set(k, val)
	}
	return v.Encode()
}

// Collaborator is the remote API for one resource type.
// T is the item type and P the partial update type for it.
type Collaborator[T any, P any] interface {
	// List fetches the full current collection for the scope.
	List(ctx context.Context, scope Scope) ([]T, error)
	// Create stores a draft and returns the canonical item with its server id.
	Create(ctx context.Context, draft T) (T, error)
	// Update applies a partial update and returns the canonical item.
	Update(ctx context.Context, id string, patch P) (T, error)
	// Delete removes the item.
	Delete(ctx context.Context, id string) error
}

// Resource describes how a resource type is addressed on the API and how
// its items are identified.
type Resource[T any] struct {
	Name     string // Human name, e.g. "events"
	Path     string // REST path, e.g. "/api/events"
	Plural   string // Envelope key for lists, e.g. "events"
	Singular string // Envelope key for single items, e.g. "event"
	Channel  string // Invalidation channel, e.g. "events:changed"

	// Key extracts the identifier of an item.
	Key func(T) string
	// WithKey returns a copy of the item carrying the given identifier.
	WithKey func(T, string) T
}

// Resource names.
const (
	ResourceEvents = "events"
	ResourceTodos  = "todos"
	ResourceMemos  = "memos"
)

// Invalidation channels published by the push relay.
const (
	ChannelEvents = "events:changed"
	ChannelTodos  = "todos:changed"
	ChannelMemos  = "memos:changed"
)

// Events addresses calendar events.
var Events = Resource[Event]{
	Name:     ResourceEvents,
	Path:     "/api/events",
	Plural:   "events",
	Singular: "event",
	Channel:  ChannelEvents,
	Key:      func(e Event) string { return e.ID },
	WithKey:  func(e Event, id string) Event { e.ID = id; return e },
}

// Todos addresses todo items.
var Todos = Resource[Todo]{
	Name:     ResourceTodos,
	Path:     "/api/todos",
	Plural:   "todos",
	Singular: "todo",
	Channel:  ChannelTodos,
	Key:      func(t Todo) string { return t.ID },
	WithKey:  func(t Todo, id string) Todo { t.ID = id; return t },
}

// Memos addresses memo board entries.
var Memos = Resource[Memo]{
	Name:     ResourceMemos,
	Path:     "/api/memos",
	Plural:   "memos",
	Singular: "memo",
	Channel:  ChannelMemos,
	Key:      func(m Memo) string { return m.ID },
	WithKey:  func(m Memo, id string) Memo { m.ID = id; return m },
}

// NewTempID generates a temporary identifier for an optimistic add.
func NewTempID() string {
	return TempIDPrefix + uuid.New().String()
}

// IsTempID reports whether id was produced by NewTempID.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, TempIDPrefix)
}
