// Package poller runs a refresh callback on a fixed cadence while the view is
// visible, pausing when it is hidden and catching up immediately when it
// becomes visible again.
package poller

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"famhub/internal/state"
)

// DefaultInterval is the refresh cadence used when none is configured.
const DefaultInterval = 15 * time.Second

// Config holds poller configuration.
type Config struct {
	Interval     time.Duration   // Time between refreshes
	FetchOnStart bool            // Fire once when (re)enabled
	Enabled      bool            // Initial enabled state
	Visibility   *state.Flag     // Nil means always visible
	Clock        clockwork.Clock // Nil means the real clock
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval:     DefaultInterval,
		FetchOnStart: true,
		Enabled:      true,
	}
}

// Poller invokes the most recently supplied callback every Interval.
//
// It has two states. While running a ticker is active. It stops when the
// view is hidden, when it is disabled and on teardown. Becoming visible
// again fires the callback once and restarts the ticker.
type Poller struct {
	clock        clockwork.Clock
	visibility   *state.Flag
	fetchOnStart bool

	mu       sync.Mutex
	callback func(context.Context)
	interval time.Duration
	enabled  bool
	started  bool
	stopped  bool
	ctx      context.Context
	cancel   context.CancelFunc

	wake    chan struct{}
	done    chan struct{}
	running atomic.Bool
	period  atomic.Int64 // interval of the active ticker
	hidden  atomic.Bool  // a hide was observed since the loop last looked
}

// New creates a poller. Nothing happens until Start is called.
func New(cfg Config, callback func(context.Context)) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return &Poller{
		clock:        cfg.Clock,
		visibility:   cfg.Visibility,
		fetchOnStart: cfg.FetchOnStart,
		callback:     callback,
		interval:     cfg.Interval,
		enabled:      cfg.Enabled,
		ctx:          context.Background(),
		wake:         make(chan struct{}, 1),
		done:         make(chan struct{}),
	}
}

// Start begins polling. ctx bounds the poller's lifetime and is passed to
// every callback invocation. Calling Start twice, or after Stop, is a no-op.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started || p.stopped {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.ctx, p.cancel = context.WithCancel(ctx)
	loopCtx := p.ctx
	p.mu.Unlock()

	go p.loop(loopCtx)
}

// Stop tears the poller down: the ticker is cancelled and the visibility
// subscription dropped. A tick that was already due is never delivered.
// Stop waits for the polling goroutine to exit, so it must not be called
// from inside the callback.
func (p *Poller) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	started := p.started
	if p.cancel != nil {
		p.cancel()
	}
	p.mu.Unlock()

	if started {
		<-p.done
	}
}

// TriggerNow invokes the callback immediately on the caller's goroutine.
// The interval timer is left untouched.
func (p *Poller) TriggerNow() {
	p.mu.Lock()
	cb, ctx := p.callback, p.ctx
	p.mu.Unlock()
	if cb != nil {
		cb(ctx)
	}
}

// SetCallback replaces the callback. Only the latest callback is ever
// invoked and swapping it never creates another timer.
func (p *Poller) SetCallback(cb func(context.Context)) {
	p.mu.Lock()
	p.callback = cb
	p.mu.Unlock()
}

// SetEnabled turns polling on or off. Disabling stops the ticker and drops
// the visibility subscription; enabling behaves like a fresh start.
func (p *Poller) SetEnabled(enabled bool) {
	p.mu.Lock()
	p.enabled = enabled
	p.mu.Unlock()
	p.poke()
}

// SetInterval changes the cadence. A running ticker restarts with the new
// period.
func (p *Poller) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	p.mu.Lock()
	p.interval = d
	p.mu.Unlock()
	p.poke()
}

// Running reports whether the ticker is active.
func (p *Poller) Running() bool {
	return p.running.Load()
}

// ActiveInterval returns the period of the running ticker, or zero when
// the poller is stopped.
func (p *Poller) ActiveInterval() time.Duration {
	if !p.running.Load() {
		return 0
	}
	return time.Duration(p.period.Load())
}

func (p *Poller) poke() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *Poller) visible() bool {
	if p.visibility == nil {
		return true
	}
	return p.visibility.Get()
}

func (p *Poller) desired() (enabled bool, interval time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enabled, p.interval
}

func (p *Poller) fire(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	p.mu.Lock()
	cb := p.callback
	p.mu.Unlock()
	if cb != nil {
		cb(ctx)
	}
}

// loop owns the ticker and the visibility subscription. All state
// transitions happen here.
func (p *Poller) loop(ctx context.Context) {
	defer close(p.done)

	var ticker clockwork.Ticker
	var tickC <-chan time.Time
	var unsubscribe func()

	enabled, interval := p.desired()

	stopTicker := func() {
		if ticker != nil {
			ticker.Stop()
			ticker = nil
			tickC = nil
		}
		p.running.Store(false)
	}
	startTicker := func() {
		stopTicker()
		ticker = p.clock.NewTicker(interval)
		tickC = ticker.Chan()
		p.period.Store(int64(interval))
		p.running.Store(true)
	}
	activate := func() {
		if p.visibility != nil {
			p.hidden.Store(false)
			unsubscribe = p.visibility.Subscribe(func(v bool) {
				if !v {
					p.hidden.Store(true)
				}
				p.poke()
			})
		}
		if !p.visible() {
			return
		}
		if p.fetchOnStart {
			p.fire(ctx)
		}
		startTicker()
	}
	deactivate := func() {
		stopTicker()
		if unsubscribe != nil {
			unsubscribe()
			unsubscribe = nil
		}
	}

	if enabled {
		activate()
	}

	for {
		select {
		case <-ctx.Done():
			deactivate()
			return

		case <-tickC:
			if p.visible() {
				p.fire(ctx)
			}

		case <-p.wake:
			wantEnabled, wantInterval := p.desired()

			if wantInterval != interval {
				interval = wantInterval
				if ticker != nil {
					startTicker()
				}
			}

			if wantEnabled != enabled {
				enabled = wantEnabled
				if enabled {
					activate()
				} else {
					deactivate()
				}
				continue
			}
			if !enabled {
				continue
			}

			// A hide and show that both landed before this wake still
			// count as a transition back to visible.
			wasHidden := p.hidden.Swap(false)
			switch visible := p.visible(); {
			case !visible:
				if ticker != nil {
					stopTicker()
				}
			case ticker == nil || wasHidden:
				p.fire(ctx)
				startTicker()
			}
		}
	}
}
