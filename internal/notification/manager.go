package notification

import (
	"errors"
	"fmt"
	"time"

	"famhub/internal/utils"
)

// ErrChannelSuspended is returned for a channel whose breaker is open.
var ErrChannelSuspended = errors.New("notification channel suspended after repeated failures")

type guardedChannel struct {
	name    string
	channel NotificationChannel
	breaker *CircuitBreaker
}

type manager struct {
	channels         []guardedChannel
	enabled          bool
	commandExecutor  CommandExecutor
	platform         string
	breakerThreshold int
	breakerCooldown  time.Duration
}

// NewManager creates a NotificationManager from cfg.
func NewManager(cfg *Config, opts ...Option) (NotificationManager, error) {
	m := &manager{
		enabled:          cfg.Enabled,
		breakerThreshold: DefaultCircuitBreakerThreshold,
		breakerCooldown:  DefaultCircuitBreakerCooldown,
	}
	for _, opt := range opts {
		opt(m)
	}

	if !cfg.Enabled {
		return m, nil
	}

	if cfg.OSNotification.Enabled {
		var osOpts []Option
		if m.commandExecutor != nil {
			osOpts = append(osOpts, WithCommandExecutor(m.commandExecutor))
		}
		if m.platform != "" {
			osOpts = append(osOpts, WithPlatform(m.platform))
		}
		m.add("os", NewOSNotificationChannel(&cfg.OSNotification, osOpts...))
	}

	if cfg.LogNotification.Enabled {
		if cfg.LogNotification.Path == "" {
			return nil, fmt.Errorf("notification log enabled without a path")
		}
		m.add("log", NewLogNotificationChannel(&cfg.LogNotification))
	}

	return m, nil
}

func (m *manager) add(name string, ch NotificationChannel) {
	m.channels = append(m.channels, guardedChannel{
		name:    name,
		channel: ch,
		breaker: NewCircuitBreaker(m.breakerThreshold, m.breakerCooldown),
	})
}

// Send dispatches n to every channel and returns the last error.
func (m *manager) Send(n Notification) error {
	if !m.enabled {
		return nil
	}

	var lastErr error
	for _, gc := range m.channels {
		if !gc.breaker.Allow() {
			lastErr = fmt.Errorf("%s: %w", gc.name, ErrChannelSuspended)
			continue
		}
		if err := gc.channel.Send(n); err != nil {
			gc.breaker.RecordFailure()
			if gc.breaker.State() == CircuitOpen {
				utils.Warnf("%s notifications suspended: %v", gc.name, err)
			}
			lastErr = fmt.Errorf("%s: %w", gc.name, err)
			continue
		}
		gc.breaker.RecordSuccess()
	}
	return lastErr
}

// SendAsync dispatches n without blocking.
func (m *manager) SendAsync(n Notification) {
	go func() {
		if err := m.Send(n); err != nil {
			utils.Debugf("notification: %v", err)
		}
	}()
}

// Close closes every channel.
func (m *manager) Close() error {
	var lastErr error
	for _, gc := range m.channels {
		if err := gc.channel.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// ChannelCount returns the number of configured channels.
func (m *manager) ChannelCount() int {
	return len(m.channels)
}
