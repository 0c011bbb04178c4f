package notification

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

type logNotificationChannel struct {
	config *LogNotificationConfig
	file   *os.File
	mu     sync.Mutex
}

// NewLogNotificationChannel creates a channel appending one line per
// notification to cfg.Path.
func NewLogNotificationChannel(cfg *LogNotificationConfig) NotificationChannel {
	return &logNotificationChannel{
		config: cfg,
	}
}

// Send appends n to the log file.
func (c *logNotificationChannel) Send(n Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureFile(); err != nil {
		return err
	}

	line := FormatLine(n)

	_, err := c.file.WriteString(line)
	if err != nil {
		return fmt.Errorf("failed to write notification: %w", err)
	}

	return c.file.Sync()
}

// FormatLine renders n as a log line:
//
//	2026-01-16T10:30:00Z [PUSH] New event: Dentist at 3pm
func FormatLine(n Notification) string {
	ts := n.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	text := n.Message
	if n.Title != "" {
		text = n.Title + ": " + n.Message
	}
	text = strings.ReplaceAll(text, "\n", " ")
	return fmt.Sprintf("%s [%s] %s\n", ts.UTC().Format("2006-01-02T15:04:05Z"), strings.ToUpper(string(n.Type)), text)
}

func (c *logNotificationChannel) ensureFile() error {
	if c.file != nil {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(c.config.Path), 0700); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	if err := c.rotateIfNeeded(); err != nil {
		return err
	}

	file, err := os.OpenFile(c.config.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	c.file = file
	return nil
}

// rotateIfNeeded moves the log aside to <path>.old once it reaches
// MaxSizeMB. Zero disables rotation.
func (c *logNotificationChannel) rotateIfNeeded() error {
	info, err := os.Stat(c.config.Path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	if c.config.MaxSizeMB <= 0 {
		return nil
	}
	maxBytes := int64(c.config.MaxSizeMB) * 1024 * 1024
	if info.Size() < maxBytes {
		return nil
	}

	oldPath := c.config.Path + ".old"
	if err := os.Rename(c.config.Path, oldPath); err != nil {
		return fmt.Errorf("failed to rotate log file: %w", err)
	}

	return nil
}

func (c *logNotificationChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.file != nil {
		err := c.file.Close()
		c.file = nil
		return err
	}
	return nil
}

// ReadLog returns the lines of the log at path. A missing file has no
// entries.
func ReadLog(path string) ([]string, error) {
	file, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer func() { _ = file.Close() }()

	var entries []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		entries = append(entries, scanner.Text())
	}

	return entries, scanner.Err()
}

// ClearLog truncates the log at path.
func ClearLog(path string) error {
	return os.WriteFile(path, []byte{}, 0600)
}
