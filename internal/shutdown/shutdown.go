// Package shutdown coordinates teardown of long-running commands: signals
// start it, registered cleanups run newest first.
package shutdown

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"famhub/internal/utils"
)

// CleanupFunc releases one resource. ctx ends when the shutdown deadline
// passes.
type CleanupFunc func(ctx context.Context) error

type cleanupEntry struct {
	name string
	fn   CleanupFunc
}

// Manager runs cleanups once shutdown starts.
type Manager struct {
	mu       sync.Mutex
	cleanups []cleanupEntry
	ctx      context.Context
	cancel   context.CancelFunc
	once     sync.Once
	ran      sync.Once
	result   error
	stopSigs func()
}

// NewManager creates a manager whose Context ends when Shutdown is called.
func NewManager() *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{ctx: ctx, cancel: cancel}
}

// Register adds a cleanup. Cleanups run in LIFO order, so register a
// resource right after creating it.
func (m *Manager) Register(name string, fn CleanupFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleanups = append(m.cleanups, cleanupEntry{name: name, fn: fn})
}

// RegisterCloser registers a resource with a plain Close method.
func (m *Manager) RegisterCloser(name string, close func()) {
	m.Register(name, func(context.Context) error {
		close()
		return nil
	})
}

// HandleSignals starts shutdown on SIGINT or SIGTERM.
func (m *Manager) HandleSignals() {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})

	m.mu.Lock()
	m.stopSigs = func() {
		signal.Stop(sigs)
		close(done)
	}
	m.mu.Unlock()

	go func() {
		select {
		case sig := <-sigs:
			utils.Debugf("received %s, shutting down", sig)
			m.Shutdown()
		case <-done:
		}
	}()
}

// Shutdown cancels Context. Safe to call more than once.
func (m *Manager) Shutdown() {
	m.once.Do(m.cancel)
}

// Context ends when shutdown starts.
func (m *Manager) Context() context.Context {
	return m.ctx
}

// IsShutdown reports whether shutdown has started.
func (m *Manager) IsShutdown() bool {
	return m.ctx.Err() != nil
}

// Wait runs the cleanups and returns their joined errors. A failing cleanup
// does not stop the rest. If ctx ends first Wait returns ctx.Err() while the
// cleanups keep running in the background. Only the first call runs them.
func (m *Manager) Wait(ctx context.Context) error {
	m.Shutdown()

	done := make(chan struct{})
	go func() {
		m.ran.Do(func() { m.runCleanups(ctx) })
		close(done)
	}()

	select {
	case <-done:
		return m.result
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) runCleanups(ctx context.Context) {
	m.mu.Lock()
	cleanups := append([]cleanupEntry(nil), m.cleanups...)
	stopSigs := m.stopSigs
	m.stopSigs = nil
	m.mu.Unlock()

	if stopSigs != nil {
		stopSigs()
	}

	var errs []error
	for i := len(cleanups) - 1; i >= 0; i-- {
		c := cleanups[i]
		if err := c.fn(ctx); err != nil {
			utils.Warnf("cleanup %s: %v", c.name, err)
			errs = append(errs, fmt.Errorf("%s: %w", c.name, err))
		}
	}
	m.result = errors.Join(errs...)
}
