package poller

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"famhub/internal/state"
)

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// settle gives the loop goroutine a chance to act on something that should
// NOT change an observable counter.
func settle() {
	time.Sleep(20 * time.Millisecond)
}

type fakeClock interface {
	clockwork.Clock
	Advance(d time.Duration)
}

func newTestPoller(t *testing.T, cfg Config) (*Poller, fakeClock, *atomic.Int32) {
	t.Helper()
	fc := clockwork.NewFakeClock()
	cfg.Clock = fc
	var calls atomic.Int32
	p := New(cfg, func(context.Context) { calls.Add(1) })
	t.Cleanup(p.Stop)
	return p, fc, &calls
}

// =============================================================================
// Cadence
// =============================================================================

func TestPollerFiresOnStartThenEveryInterval(t *testing.T) {
	p, fc, calls := newTestPoller(t, Config{
		Interval:     5 * time.Second,
		FetchOnStart: true,
		Enabled:      true,
	})
	p.Start(context.Background())

	waitFor(t, "initial fire", func() bool { return calls.Load() == 1 })
	waitFor(t, "ticker", p.Running)

	for want := int32(2); want <= 4; want++ {
		fc.Advance(5 * time.Second)
		waitFor(t, "tick", func() bool { return calls.Load() == want })
	}
}

func TestPollerWithoutFetchOnStartWaitsForFirstTick(t *testing.T) {
	p, fc, calls := newTestPoller(t, Config{
		Interval: 5 * time.Second,
		Enabled:  true,
	})
	p.Start(context.Background())
	waitFor(t, "ticker", p.Running)

	settle()
	if got := calls.Load(); got != 0 {
		t.Fatalf("expected no call before first tick, got %d", got)
	}

	fc.Advance(4 * time.Second)
	settle()
	if got := calls.Load(); got != 0 {
		t.Fatalf("expected no call before interval elapsed, got %d", got)
	}

	fc.Advance(time.Second)
	waitFor(t, "first tick", func() bool { return calls.Load() == 1 })
}

func TestPollerDisabledNeverFires(t *testing.T) {
	p, fc, calls := newTestPoller(t, Config{
		Interval:     5 * time.Second,
		FetchOnStart: true,
		Enabled:      false,
	})
	p.Start(context.Background())

	settle()
	fc.Advance(30 * time.Second)
	settle()

	if got := calls.Load(); got != 0 {
		t.Fatalf("expected no calls while disabled, got %d", got)
	}
	if p.Running() {
		t.Fatal("disabled poller should not be running")
	}
}

func TestPollerDefaultsInterval(t *testing.T) {
	p := New(Config{}, nil)
	if p.interval != DefaultInterval {
		t.Errorf("interval = %v, want %v", p.interval, DefaultInterval)
	}

	cfg := DefaultConfig()
	if !cfg.Enabled || !cfg.FetchOnStart {
		t.Errorf("DefaultConfig should be enabled and fetch on start: %+v", cfg)
	}
}

// =============================================================================
// Visibility
// =============================================================================

func TestPollerPausesWhileHidden(t *testing.T) {
	visible := state.NewFlag(true)
	p, fc, calls := newTestPoller(t, Config{
		Interval:     5 * time.Second,
		FetchOnStart: true,
		Enabled:      true,
		Visibility:   visible,
	})
	p.Start(context.Background())
	waitFor(t, "initial fire", func() bool { return calls.Load() == 1 })
	waitFor(t, "ticker", p.Running)

	visible.Set(false)
	waitFor(t, "pause", func() bool { return !p.Running() })

	fc.Advance(60 * time.Second)
	settle()
	if got := calls.Load(); got != 1 {
		t.Fatalf("expected no calls while hidden, got %d total", got)
	}

	visible.Set(true)
	waitFor(t, "catch-up fire", func() bool { return calls.Load() == 2 })
	waitFor(t, "ticker restart", p.Running)

	settle()
	if got := calls.Load(); got != 2 {
		t.Fatalf("expected exactly one catch-up call, got %d total", got)
	}

	fc.Advance(5 * time.Second)
	waitFor(t, "tick after resume", func() bool { return calls.Load() == 3 })
}

func TestPollerStartsHidden(t *testing.T) {
	visible := state.NewFlag(false)
	p, fc, calls := newTestPoller(t, Config{
		Interval:     5 * time.Second,
		FetchOnStart: true,
		Enabled:      true,
		Visibility:   visible,
	})
	p.Start(context.Background())

	waitFor(t, "visibility subscription", func() bool { return visible.Watchers() == 1 })
	fc.Advance(20 * time.Second)
	settle()
	if got := calls.Load(); got != 0 {
		t.Fatalf("expected no calls while hidden, got %d", got)
	}

	visible.Set(true)
	waitFor(t, "fire on becoming visible", func() bool { return calls.Load() == 1 })
	waitFor(t, "ticker", p.Running)
}

func TestPollerRepeatedHideShow(t *testing.T) {
	visible := state.NewFlag(true)
	p, _, calls := newTestPoller(t, Config{
		Interval: 5 * time.Second,
		Enabled:  true,
		// FetchOnStart off so every call below is a catch-up.
		Visibility: visible,
	})
	p.Start(context.Background())
	waitFor(t, "ticker", p.Running)

	for i := int32(1); i <= 3; i++ {
		visible.Set(false)
		waitFor(t, "pause", func() bool { return !p.Running() })
		visible.Set(true)
		waitFor(t, "resume", func() bool { return calls.Load() == i && p.Running() })
	}
}

func TestPollerBackToBackHideShowFiresOnce(t *testing.T) {
	visible := state.NewFlag(true)
	p, _, calls := newTestPoller(t, Config{
		Interval:   5 * time.Second,
		Enabled:    true,
		Visibility: visible,
	})
	p.Start(context.Background())
	waitFor(t, "ticker", p.Running)

	for i := int32(1); i <= 50; i++ {
		visible.Set(false)
		visible.Set(true)
		waitFor(t, "catch-up fire", func() bool { return calls.Load() == i })
		waitFor(t, "ticker restart", p.Running)
	}

	settle()
	if got := calls.Load(); got != 50 {
		t.Fatalf("expected one fire per hide/show pair, got %d", got)
	}
}

func TestPollerTickWhileHiddenDoesNotFire(t *testing.T) {
	visible := state.NewFlag(true)
	p, fc, calls := newTestPoller(t, Config{
		Interval:   5 * time.Second,
		Enabled:    true,
		Visibility: visible,
	})
	p.Start(context.Background())
	waitFor(t, "ticker", p.Running)

	visible.Set(false)
	fc.Advance(5 * time.Second)
	waitFor(t, "pause", func() bool { return !p.Running() })
	settle()
	if got := calls.Load(); got != 0 {
		t.Fatalf("expected no calls while hidden, got %d", got)
	}
}

// =============================================================================
// Enable / disable
// =============================================================================

func TestPollerSetEnabled(t *testing.T) {
	visible := state.NewFlag(true)
	p, fc, calls := newTestPoller(t, Config{
		Interval:     5 * time.Second,
		FetchOnStart: true,
		Enabled:      true,
		Visibility:   visible,
	})
	p.Start(context.Background())
	waitFor(t, "initial fire", func() bool { return calls.Load() == 1 })
	waitFor(t, "ticker", p.Running)

	p.SetEnabled(false)
	waitFor(t, "disable", func() bool { return !p.Running() && visible.Watchers() == 0 })

	fc.Advance(30 * time.Second)
	visible.Set(false)
	visible.Set(true)
	settle()
	if got := calls.Load(); got != 1 {
		t.Fatalf("expected no calls while disabled, got %d total", got)
	}

	p.SetEnabled(true)
	waitFor(t, "fire on re-enable", func() bool { return calls.Load() == 2 })
	waitFor(t, "ticker", func() bool { return p.Running() && visible.Watchers() == 1 })
}

// =============================================================================
// Callback handling
// =============================================================================

func TestPollerTriggerNowKeepsSchedule(t *testing.T) {
	p, fc, calls := newTestPoller(t, Config{
		Interval: 5 * time.Second,
		Enabled:  true,
	})
	p.Start(context.Background())
	waitFor(t, "ticker", p.Running)

	fc.Advance(3 * time.Second)
	p.TriggerNow()
	if got := calls.Load(); got != 1 {
		t.Fatalf("TriggerNow should run synchronously, got %d calls", got)
	}

	// The original schedule is still due two seconds later.
	fc.Advance(2 * time.Second)
	waitFor(t, "scheduled tick", func() bool { return calls.Load() == 2 })
}

func TestPollerTriggerNowBeforeStart(t *testing.T) {
	var got context.Context
	p := New(Config{Enabled: true}, func(ctx context.Context) { got = ctx })
	p.TriggerNow()
	if got == nil {
		t.Fatal("callback not invoked")
	}
}

func TestPollerUsesLatestCallback(t *testing.T) {
	fc := clockwork.NewFakeClock()
	var first, second atomic.Int32
	p := New(Config{Interval: 5 * time.Second, Enabled: true, Clock: fc}, func(context.Context) {
		first.Add(1)
	})
	t.Cleanup(p.Stop)
	p.Start(context.Background())
	waitFor(t, "ticker", p.Running)

	p.SetCallback(func(context.Context) { second.Add(1) })

	fc.Advance(5 * time.Second)
	waitFor(t, "tick", func() bool { return second.Load() == 1 })
	if got := first.Load(); got != 0 {
		t.Errorf("replaced callback invoked %d times", got)
	}
}

func TestPollerCallbackReceivesLifetimeContext(t *testing.T) {
	fc := clockwork.NewFakeClock()
	ctxs := make(chan context.Context, 1)
	p := New(Config{Interval: time.Second, Enabled: true, FetchOnStart: true, Clock: fc}, func(ctx context.Context) {
		select {
		case ctxs <- ctx:
		default:
		}
	})
	p.Start(context.Background())

	var ctx context.Context
	select {
	case ctx = <-ctxs:
	case <-time.After(2 * time.Second):
		t.Fatal("callback not invoked")
	}

	p.Stop()
	if ctx.Err() == nil {
		t.Error("callback context should be cancelled by Stop")
	}
}

// =============================================================================
// Interval changes
// =============================================================================

func TestPollerSetInterval(t *testing.T) {
	p, fc, calls := newTestPoller(t, Config{
		Interval: 5 * time.Second,
		Enabled:  true,
	})
	p.Start(context.Background())
	waitFor(t, "ticker", func() bool { return p.ActiveInterval() == 5*time.Second })

	p.SetInterval(2 * time.Second)
	waitFor(t, "restart", func() bool { return p.ActiveInterval() == 2*time.Second })

	fc.Advance(2 * time.Second)
	waitFor(t, "tick at new interval", func() bool { return calls.Load() == 1 })

	p.SetInterval(0)
	settle()
	if got := p.ActiveInterval(); got != 2*time.Second {
		t.Errorf("non-positive interval should be ignored, active = %v", got)
	}
}

// =============================================================================
// Teardown
// =============================================================================

func TestPollerStop(t *testing.T) {
	visible := state.NewFlag(true)
	p, fc, calls := newTestPoller(t, Config{
		Interval:   5 * time.Second,
		Enabled:    true,
		Visibility: visible,
	})
	p.Start(context.Background())
	waitFor(t, "ticker", p.Running)

	p.Stop()
	if p.Running() {
		t.Error("poller should not be running after Stop")
	}
	if n := visible.Watchers(); n != 0 {
		t.Errorf("visibility watchers after Stop = %d, want 0", n)
	}

	fc.Advance(time.Minute)
	visible.Set(false)
	visible.Set(true)
	settle()
	if got := calls.Load(); got != 0 {
		t.Errorf("expected no calls after Stop, got %d", got)
	}

	// Idempotent, and Start after Stop is a no-op.
	p.Stop()
	p.Start(context.Background())
	settle()
	if p.Running() {
		t.Error("Start after Stop should not restart the poller")
	}
}

func TestPollerStopWithoutStart(t *testing.T) {
	p := New(DefaultConfig(), func(context.Context) {})
	done := make(chan struct{})
	go func() {
		p.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop blocked on a poller that never started")
	}
}

func TestPollerParentContextCancel(t *testing.T) {
	p, _, _ := newTestPoller(t, Config{Interval: time.Second, Enabled: true})
	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)
	waitFor(t, "ticker", p.Running)

	cancel()
	waitFor(t, "loop exit", func() bool { return !p.Running() })
}
