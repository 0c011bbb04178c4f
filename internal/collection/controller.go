// Package collection ties a reconciling store, a poller and an
// invalidation listener into one controller per resource. Views read items
// from a controller and send mutations through it; the controller keeps the
// items fresh in the background.
package collection

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"famhub/backend"
	"famhub/internal/invalidation"
	"famhub/internal/poller"
	"famhub/internal/state"
	"famhub/internal/store"
	"famhub/internal/utils"
)

// ErrPendingAdd is returned when a mutation targets an item whose own
// creation hasn't been confirmed by the server yet.
var ErrPendingAdd = errors.New("item is still being created")

// Patch is a partial update that knows how to apply itself.
type Patch[T any] interface {
	Apply(T) T
}

// Snapshot persists the last successful refresh of a collection.
type Snapshot[T any] interface {
	Load(ctx context.Context, scope backend.Scope) (items []T, savedAt time.Time, found bool, err error)
	Save(ctx context.Context, scope backend.Scope, items []T) error
}

// Config holds the background sync settings shared by all controllers.
type Config struct {
	PollInterval time.Duration          // Default 15s
	FetchOnStart bool                   // Refresh as soon as polling starts
	Online       *state.Flag            // Polling runs only while set; nil means always online
	Visibility   *state.Flag            // Polling pauses while unset; nil means always visible
	Transport    invalidation.Transport // Source of push invalidations; may be nil
	Clock        clockwork.Clock        // Nil means the real clock
}

// DefaultConfig returns the standard sync settings.
func DefaultConfig() Config {
	return Config{
		PollInterval: poller.DefaultInterval,
		FetchOnStart: true,
	}
}

// Status summarises the refresh history of a controller.
type Status struct {
	LastSuccess time.Time // Zero until the first successful refresh
	LastError   error     // Error of the most recent refresh, nil after a success
	SnapshotAt  time.Time // When the seeded snapshot was saved, zero if none was used
}

// Option configures a Controller.
type Option[T any] func(*options[T])

type options[T any] struct {
	snapshots Snapshot[T]
	scope     backend.Scope
}

// WithSnapshots seeds the collection from s at start and saves every
// successful refresh to it.
func WithSnapshots[T any](s Snapshot[T]) Option[T] {
	return func(o *options[T]) {
		o.snapshots = s
	}
}

// WithScope sets the initial list scope.
func WithScope[T any](scope backend.Scope) Option[T] {
	return func(o *options[T]) {
		o.scope = scope
	}
}

// Controller is the per-resource unit consumed by views.
type Controller[T any, P Patch[T]] struct {
	resource  backend.Resource[T]
	api       backend.Collaborator[T, P]
	store     *store.Store[T]
	poller    *poller.Poller
	listener  *invalidation.Listener
	snapshots Snapshot[T]
	online    *state.Flag

	// scopeMu orders scope changes against refresh results so a response
	// for an old scope never lands in the store.
	scopeMu  sync.Mutex
	scope    backend.Scope
	scopeGen int

	mu           sync.Mutex
	status       Status
	started      bool
	closed       bool
	onlineCancel func()
	background   sync.WaitGroup
}

// New creates a controller for resource backed by api. Nothing runs until
// Start.
func New[T any, P Patch[T]](resource backend.Resource[T], api backend.Collaborator[T, P], cfg Config, opts ...Option[T]) *Controller[T, P] {
	var o options[T]
	for _, opt := range opts {
		opt(&o)
	}

	c := &Controller[T, P]{
		resource:  resource,
		api:       api,
		store:     store.New(resource.Key, resource.WithKey),
		snapshots: o.snapshots,
		online:    cfg.Online,
		scope:     o.scope,
	}

	c.poller = poller.New(poller.Config{
		Interval:     cfg.PollInterval,
		FetchOnStart: cfg.FetchOnStart,
		Enabled:      cfg.Online == nil || cfg.Online.Get(),
		Visibility:   cfg.Visibility,
		Clock:        cfg.Clock,
	}, c.refresh)

	c.listener = invalidation.NewListener(resource.Channel, cfg.Transport, c.invalidated)
	return c
}

// Resource returns the resource descriptor.
func (c *Controller[T, P]) Resource() backend.Resource[T] {
	return c.resource
}

// Start seeds the collection from the snapshot store (if any), subscribes
// to invalidations and starts polling. ctx bounds background refreshes.
func (c *Controller[T, P]) Start(ctx context.Context) {
	c.mu.Lock()
	if c.started || c.closed {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.mu.Unlock()

	c.seed(ctx)

	if err := c.listener.Start(); err != nil {
		utils.Warnf("%s: invalidation subscription failed, polling only: %v", c.resource.Name, err)
	}

	if c.online != nil {
		cancel := c.online.Subscribe(c.poller.SetEnabled)
		c.mu.Lock()
		c.onlineCancel = cancel
		c.mu.Unlock()
		c.poller.SetEnabled(c.online.Get())
	}

	c.poller.Start(ctx)
}

// Close stops background work and detaches observers. Mutations still in
// flight finish but nobody is notified.
func (c *Controller[T, P]) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	onlineCancel := c.onlineCancel
	c.onlineCancel = nil
	c.mu.Unlock()

	if onlineCancel != nil {
		onlineCancel()
	}
	c.listener.Close()
	c.poller.Stop()
	c.background.Wait()
	c.store.Close()
}

// Items returns a copy of the collection.
func (c *Controller[T, P]) Items() []T {
	return c.store.Items()
}

// Len returns the number of items.
func (c *Controller[T, P]) Len() int {
	return c.store.Len()
}

// Get returns the item with id.
func (c *Controller[T, P]) Get(id string) (T, bool) {
	return c.store.Get(id)
}

// IsPending reports whether a mutation of id is in flight.
func (c *Controller[T, P]) IsPending(id string) bool {
	return c.store.IsPending(id)
}

// Subscribe registers fn for every change of the collection. fn must not
// call mutating methods synchronously.
func (c *Controller[T, P]) Subscribe(fn func([]T)) (cancel func()) {
	return c.store.Subscribe(fn)
}

// Status returns the refresh history.
func (c *Controller[T, P]) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Scope returns the current list scope.
func (c *Controller[T, P]) Scope() backend.Scope {
	c.scopeMu.Lock()
	defer c.scopeMu.Unlock()
	return c.scope
}

// SetScope switches the collection to another scope. The collection is
// reseeded from the snapshot for the new scope (or emptied) and refreshed.
func (c *Controller[T, P]) SetScope(ctx context.Context, scope backend.Scope) {
	c.ShiftScope(ctx, func(backend.Scope) backend.Scope { return scope })
}

// ShiftScope replaces the scope with next(current). The read and the switch
// happen under one lock, so concurrent shifts compose.
func (c *Controller[T, P]) ShiftScope(ctx context.Context, next func(backend.Scope) backend.Scope) {
	c.scopeMu.Lock()
	scope := next(c.scope)
	c.scope = scope
	c.scopeGen++
	seed := c.loadSnapshot(ctx, scope)
	c.store.ReplaceAll(seed)
	c.scopeMu.Unlock()

	c.RefreshNow()
}

// Add creates draft optimistically and returns the server's copy.
func (c *Controller[T, P]) Add(ctx context.Context, draft T) (T, error) {
	created, err := c.store.OptimisticAdd(ctx, draft, func(ctx context.Context) (T, error) {
		return c.api.Create(ctx, draft)
	})
	if err != nil {
		var zero T
		return zero, &MutationError{Op: OpCreate, Resource: c.resource.Name, ID: c.resource.Key(draft), Err: err}
	}
	return created, nil
}

// Update applies patch to the item optimistically.
func (c *Controller[T, P]) Update(ctx context.Context, id string, patch P) error {
	if backend.IsTempID(id) {
		return &MutationError{Op: OpUpdate, Resource: c.resource.Name, ID: id, Err: ErrPendingAdd}
	}
	_, err := c.store.OptimisticUpdate(ctx, id, patch.Apply, func(ctx context.Context) (T, error) {
		return c.api.Update(ctx, id, patch)
	})
	if err != nil {
		return &MutationError{Op: OpUpdate, Resource: c.resource.Name, ID: id, Err: err}
	}
	return nil
}

// Remove deletes the item optimistically.
func (c *Controller[T, P]) Remove(ctx context.Context, id string) error {
	if backend.IsTempID(id) {
		return &MutationError{Op: OpDelete, Resource: c.resource.Name, ID: id, Err: ErrPendingAdd}
	}
	err := c.store.OptimisticDelete(ctx, id, func(ctx context.Context) error {
		return c.api.Delete(ctx, id)
	})
	if err != nil {
		return &MutationError{Op: OpDelete, Resource: c.resource.Name, ID: id, Err: err}
	}
	return nil
}

// RefreshNow refreshes on the caller's goroutine without disturbing the
// polling schedule. Failures are logged, not returned.
func (c *Controller[T, P]) RefreshNow() {
	c.poller.TriggerNow()
}

// SetPollInterval changes the polling cadence.
func (c *Controller[T, P]) SetPollInterval(d time.Duration) {
	c.poller.SetInterval(d)
}

// Refresh fetches the collection and replaces the local copy. On failure
// the collection is left untouched and a *TransientFetchError returned.
func (c *Controller[T, P]) Refresh(ctx context.Context) error {
	c.scopeMu.Lock()
	scope, gen := c.scope, c.scopeGen
	c.scopeMu.Unlock()

	items, err := c.api.List(ctx, scope)
	if err != nil {
		ferr := &TransientFetchError{Resource: c.resource.Name, Scope: scope, Err: err}
		c.mu.Lock()
		c.status.LastError = ferr
		c.mu.Unlock()
		return ferr
	}

	c.scopeMu.Lock()
	if gen != c.scopeGen {
		c.scopeMu.Unlock()
		utils.Debugf("%s: dropping refresh for previous scope %q", c.resource.Name, scope.Key())
		return nil
	}
	c.store.ReplaceAll(items)
	c.scopeMu.Unlock()

	c.mu.Lock()
	c.status.LastSuccess = time.Now()
	c.status.LastError = nil
	c.mu.Unlock()

	if c.snapshots != nil {
		if err := c.snapshots.Save(ctx, scope, items); err != nil {
			utils.Warnf("%s: saving snapshot: %v", c.resource.Name, err)
		}
	}
	return nil
}

// refresh is the poller callback.
func (c *Controller[T, P]) refresh(ctx context.Context) {
	if err := c.Refresh(ctx); err != nil {
		utils.Debugf("%v", err)
	}
}

// invalidated runs on the transport's goroutine, so the refresh is handed
// off to keep the transport reading.
func (c *Controller[T, P]) invalidated() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.background.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.background.Done()
		utils.Debugf("%s: invalidated, refreshing", c.resource.Name)
		c.RefreshNow()
	}()
}

func (c *Controller[T, P]) seed(ctx context.Context) {
	if c.snapshots == nil || c.store.Len() > 0 {
		return
	}
	c.scopeMu.Lock()
	defer c.scopeMu.Unlock()
	items := c.loadSnapshot(ctx, c.scope)
	if len(items) > 0 {
		c.store.ReplaceAll(items)
	}
}

// loadSnapshot returns the stored items for scope, or nil.
func (c *Controller[T, P]) loadSnapshot(ctx context.Context, scope backend.Scope) []T {
	if c.snapshots == nil {
		return nil
	}
	items, savedAt, found, err := c.snapshots.Load(ctx, scope)
	if err != nil {
		utils.Warnf("%s: loading snapshot: %v", c.resource.Name, err)
		return nil
	}
	if !found {
		return nil
	}
	c.mu.Lock()
	c.status.SnapshotAt = savedAt
	c.mu.Unlock()
	return items
}
