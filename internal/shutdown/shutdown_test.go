package shutdown_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"famhub/internal/shutdown"
)

// =============================================================================
// Cleanup ordering
// =============================================================================

func TestCleanupsRunLIFO(t *testing.T) {
	mgr := shutdown.NewManager()

	var mu sync.Mutex
	var order []string
	record := func(name string) shutdown.CleanupFunc {
		return func(ctx context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, name)
			return nil
		}
	}
	mgr.Register("snapshots", record("snapshots"))
	mgr.Register("controllers", record("controllers"))
	mgr.RegisterCloser("transport", func() { _ = record("transport")(context.Background()) })

	if err := mgr.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	if got := strings.Join(order, ","); got != "transport,controllers,snapshots" {
		t.Errorf("order = %s", got)
	}
}

func TestFailingCleanupDoesNotStopOthers(t *testing.T) {
	mgr := shutdown.NewManager()
	var ran atomic.Bool
	boom := errors.New("boom")

	mgr.Register("first", func(ctx context.Context) error {
		ran.Store(true)
		return nil
	})
	mgr.Register("second", func(ctx context.Context) error { return boom })

	err := mgr.Wait(context.Background())
	if !errors.Is(err, boom) {
		t.Errorf("Wait error = %v, want boom", err)
	}
	if err != nil && !strings.Contains(err.Error(), "second") {
		t.Errorf("error should name the cleanup: %v", err)
	}
	if !ran.Load() {
		t.Error("remaining cleanups should still run")
	}
}

func TestCleanupsRunOnce(t *testing.T) {
	mgr := shutdown.NewManager()
	var calls atomic.Int32
	mgr.Register("count", func(ctx context.Context) error {
		calls.Add(1)
		return nil
	})

	_ = mgr.Wait(context.Background())
	_ = mgr.Wait(context.Background())
	if calls.Load() != 1 {
		t.Errorf("cleanup ran %d times", calls.Load())
	}
}

// =============================================================================
// Shutdown signalling
// =============================================================================

func TestShutdownCancelsContext(t *testing.T) {
	mgr := shutdown.NewManager()
	if mgr.IsShutdown() {
		t.Fatal("fresh manager should not be shut down")
	}

	mgr.Shutdown()
	mgr.Shutdown()

	select {
	case <-mgr.Context().Done():
	case <-time.After(time.Second):
		t.Fatal("context should be cancelled")
	}
	if !mgr.IsShutdown() {
		t.Error("IsShutdown should report true")
	}
}

func TestWaitTimeout(t *testing.T) {
	mgr := shutdown.NewManager()
	release := make(chan struct{})
	defer close(release)
	mgr.Register("slow", func(ctx context.Context) error {
		<-release
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := mgr.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait = %v, want deadline exceeded", err)
	}
}

func TestHandleSignals(t *testing.T) {
	mgr := shutdown.NewManager()
	mgr.HandleSignals()

	if err := syscall.Kill(syscall.Getpid(), syscall.SIGTERM); err != nil {
		t.Fatalf("kill: %v", err)
	}

	select {
	case <-mgr.Context().Done():
	case <-time.After(2 * time.Second):
		t.Fatal("SIGTERM should start shutdown")
	}
	_ = mgr.Wait(context.Background())
}
