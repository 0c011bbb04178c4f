// Package connectivity drives the online signal that gates background
// polling.
package connectivity

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"famhub/internal/state"
	"famhub/internal/utils"
)

// Mode selects how the online state is determined (sync.offline_mode).
type Mode string

const (
	ModeAuto    Mode = "auto"    // Probe the server
	ModeOnline  Mode = "online"  // Always online
	ModeOffline Mode = "offline" // Never online
)

// Defaults for auto mode.
const (
	DefaultInterval = 30 * time.Second
	DefaultTimeout  = 5 * time.Second
)

// ParseMode parses a mode name. The empty string means ModeAuto.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeAuto:
		return ModeAuto, nil
	case ModeOnline:
		return ModeOnline, nil
	case ModeOffline:
		return ModeOffline, nil
	}
	return "", fmt.Errorf("invalid offline mode %q (use auto, online or offline)", s)
}

// Prober checks whether the server is reachable.
type Prober interface {
	Health(ctx context.Context) error
}

// Config holds monitor settings.
type Config struct {
	Mode     Mode
	Interval time.Duration   // Time between probes in auto mode
	Timeout  time.Duration   // Bound on a single probe
	Clock    clockwork.Clock // Nil means the real clock
}

// Monitor keeps an online flag up to date.
type Monitor struct {
	cfg    Config
	prober Prober
	flag   *state.Flag

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewMonitor creates a monitor that writes to flag. In auto mode the flag
// keeps its current value until the first probe completes.
func NewMonitor(cfg Config, prober Prober, flag *state.Flag) *Monitor {
	if cfg.Mode == "" {
		cfg.Mode = ModeAuto
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if flag == nil {
		flag = state.NewFlag(cfg.Mode != ModeOffline)
	}
	return &Monitor{
		cfg:    cfg,
		prober: prober,
		flag:   flag,
		done:   make(chan struct{}),
	}
}

// Flag returns the online flag.
func (m *Monitor) Flag() *state.Flag {
	return m.flag
}

// Mode returns the configured mode.
func (m *Monitor) Mode() Mode {
	return m.cfg.Mode
}

// Start sets the flag for fixed modes, or starts probing in auto mode.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.started = true

	switch m.cfg.Mode {
	case ModeOnline:
		m.flag.Set(true)
		close(m.done)
		return
	case ModeOffline:
		m.flag.Set(false)
		close(m.done)
		return
	}

	ctx, m.cancel = context.WithCancel(ctx)
	go m.loop(ctx)
}

// Stop ends probing and waits for an in-flight probe to finish.
func (m *Monitor) Stop() {
	m.mu.Lock()
	started := m.started
	cancel := m.cancel
	m.mu.Unlock()

	if !started {
		return
	}
	if cancel != nil {
		cancel()
	}
	<-m.done
}

// Check probes once and updates the flag. Fixed modes don't probe.
func (m *Monitor) Check(ctx context.Context) bool {
	switch m.cfg.Mode {
	case ModeOnline:
		return true
	case ModeOffline:
		return false
	}
	if m.prober == nil {
		m.set(true, nil)
		return true
	}

	probeCtx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()
	err := m.prober.Health(probeCtx)
	if ctx.Err() != nil {
		return m.flag.Get()
	}
	m.set(err == nil, err)
	return err == nil
}

func (m *Monitor) set(online bool, err error) {
	was := m.flag.Get()
	m.flag.Set(online)
	switch {
	case was && !online:
		utils.Warnf("Server unreachable, pausing background sync: %v", err)
	case !was && online:
		utils.Infof("Server reachable again, resuming background sync")
	case err != nil:
		utils.Debugf("connectivity probe failed: %v", err)
	}
}

func (m *Monitor) loop(ctx context.Context) {
	defer close(m.done)

	ticker := m.cfg.Clock.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	m.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			m.Check(ctx)
		}
	}
}
