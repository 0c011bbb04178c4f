package notification

import (
	"fmt"
	"os/exec"
	"runtime"
	"strings"
)

type osNotificationChannel struct {
	config   *OSNotificationConfig
	executor CommandExecutor
	platform string
}

// NewOSNotificationChannel creates a desktop notification channel using
// notify-send, osascript or PowerShell depending on the platform.
func NewOSNotificationChannel(cfg *OSNotificationConfig, opts ...Option) NotificationChannel {
	ch := &osNotificationChannel{
		config:   cfg,
		platform: runtime.GOOS,
	}

	for _, opt := range opts {
		opt(ch)
	}

	if ch.executor == nil {
		ch.executor = &realCommandExecutor{}
	}

	return ch
}

// Send shows n on the desktop.
func (c *osNotificationChannel) Send(n Notification) error {
	if !c.shouldSend(n.Type) {
		return nil
	}

	switch c.platform {
	case "linux":
		return c.sendLinux(n)
	case "darwin":
		return c.sendDarwin(n)
	case "windows":
		return c.sendWindows(n)
	default:
		return fmt.Errorf("unsupported platform: %s", c.platform)
	}
}

func (c *osNotificationChannel) shouldSend(t NotificationType) bool {
	switch t {
	case NotifyPush:
		return c.config.OnPush
	case NotifyError:
		return c.config.OnError
	default:
		return true
	}
}

func (c *osNotificationChannel) sendLinux(n Notification) error {
	args := []string{"--app-name=famhub"}
	if n.URL != "" {
		args = append(args, "--hint=string:x-famhub-url:"+n.URL)
	}
	return c.executor.Execute("notify-send", append(args, n.Title, n.Message)...)
}

// escapeAppleScript escapes backslashes and double quotes for an
// AppleScript string literal.
func escapeAppleScript(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return s
}

func (c *osNotificationChannel) sendDarwin(n Notification) error {
	msg := escapeAppleScript(n.Message)
	title := escapeAppleScript(n.Title)
	script := fmt.Sprintf(`display notification "%s" with title "%s"`, msg, title)
	return c.executor.Execute("osascript", "-e", script)
}

// escapePowerShell escapes backticks, double quotes and dollar signs for a
// PowerShell double-quoted string.
func escapePowerShell(s string) string {
	s = strings.ReplaceAll(s, "`", "``")
	s = strings.ReplaceAll(s, `"`, "`\"")
	s = strings.ReplaceAll(s, "$", "`$")
	return s
}

func (c *osNotificationChannel) sendWindows(n Notification) error {
	title := escapePowerShell(n.Title)
	msg := escapePowerShell(n.Message)
	script := fmt.Sprintf(`
Add-Type -AssemblyName System.Windows.Forms
$notification = New-Object System.Windows.Forms.NotifyIcon
$notification.Icon = [System.Drawing.SystemIcons]::Information
$notification.BalloonTipTitle = "%s"
$notification.BalloonTipText = "%s"
$notification.Visible = $true
$notification.ShowBalloonTip(5000)
`, title, msg)
	return c.executor.Execute("powershell", "-Command", script)
}

func (c *osNotificationChannel) Close() error {
	return nil
}

type realCommandExecutor struct{}

func (e *realCommandExecutor) Execute(cmd string, args ...string) error {
	return exec.Command(cmd, args...).Run()
}
