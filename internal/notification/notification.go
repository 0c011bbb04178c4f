// Package notification shows push notifications received by the worker.
package notification

import (
	"time"
)

// NotificationType identifies the kind of notification.
type NotificationType string

const (
	NotifyPush  NotificationType = "push"  // A push payload from the server
	NotifyError NotificationType = "error" // The worker could not handle a push
	NotifyTest  NotificationType = "test"  // Sent by 'famhub push --test'
)

// Notification is a single notification to display.
type Notification struct {
	Type      NotificationType
	Title     string
	Message   string
	URL       string
	Timestamp time.Time
	Metadata  map[string]string
}

// NotificationManager fans a notification out to every enabled channel.
type NotificationManager interface {
	Send(n Notification) error
	SendAsync(n Notification)
	Close() error
	ChannelCount() int
}

// NotificationChannel is one way of showing notifications.
type NotificationChannel interface {
	Send(n Notification) error
	Close() error
}

// Config holds the notification configuration.
type Config struct {
	Enabled         bool
	OSNotification  OSNotificationConfig
	LogNotification LogNotificationConfig
}

// OSNotificationConfig configures desktop notifications.
type OSNotificationConfig struct {
	Enabled bool
	OnPush  bool
	OnError bool
}

// LogNotificationConfig configures the notification log file.
type LogNotificationConfig struct {
	Enabled   bool
	Path      string
	MaxSizeMB int
}

// CommandExecutor runs a system command.
type CommandExecutor interface {
	Execute(cmd string, args ...string) error
}

// MockCommandExecutor is a CommandExecutor for tests.
type MockCommandExecutor struct {
	ExecuteFunc func(cmd string, args ...string) error
}

// Execute implements CommandExecutor.
func (m *MockCommandExecutor) Execute(cmd string, args ...string) error {
	if m.ExecuteFunc != nil {
		return m.ExecuteFunc(cmd, args...)
	}
	return nil
}

// Option configures a channel or manager.
type Option func(interface{})

// WithCommandExecutor sets the command executor used for OS notifications.
func WithCommandExecutor(executor CommandExecutor) Option {
	return func(c interface{}) {
		if ch, ok := c.(*osNotificationChannel); ok {
			ch.executor = executor
		}
		if mgr, ok := c.(*manager); ok {
			mgr.commandExecutor = executor
		}
	}
}

// WithPlatform overrides runtime.GOOS for OS notifications.
func WithPlatform(platform string) Option {
	return func(c interface{}) {
		if ch, ok := c.(*osNotificationChannel); ok {
			ch.platform = platform
		}
		if mgr, ok := c.(*manager); ok {
			mgr.platform = platform
		}
	}
}

// WithBreaker sets the failure threshold and cooldown applied to each
// channel of a manager.
func WithBreaker(threshold int, cooldown time.Duration) Option {
	return func(c interface{}) {
		if mgr, ok := c.(*manager); ok {
			mgr.breakerThreshold = threshold
			mgr.breakerCooldown = cooldown
		}
	}
}
