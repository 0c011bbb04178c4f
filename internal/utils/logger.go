package utils

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Logger is the process-wide leveled logger. Debug output only appears in
// verbose mode; everything goes to stderr unless redirected with SetOutput.
type Logger struct {
	mu      sync.RWMutex
	verbose bool
	out     io.Writer
}

var (
	loggerInstance *Logger
	once           sync.Once
)

// GetLogger returns the singleton logger instance.
func GetLogger() *Logger {
	once.Do(func() {
		loggerInstance = &Logger{out: os.Stderr}
	})
	return loggerInstance
}

// SetVerboseMode toggles debug output on the global logger.
func SetVerboseMode(verbose bool) {
	GetLogger().SetVerbose(verbose)
}

// SetVerbose toggles debug output.
func (l *Logger) SetVerbose(verbose bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.verbose = verbose
}

// IsVerbose reports whether debug output is enabled.
func (l *Logger) IsVerbose() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.verbose
}

// SetOutput redirects log output. A nil writer discards everything.
// The TUI uses this to keep log lines from tearing the alternate screen.
func (l *Logger) SetOutput(w io.Writer) {
	if w == nil {
		w = io.Discard
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.out = w
}

func (l *Logger) writer() io.Writer {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.out
}

// formatMessage formats a message with optional printf-style arguments.
func formatMessage(msgOrFormat string, args ...interface{}) string {
	if len(args) > 0 {
		return fmt.Sprintf(msgOrFormat, args...)
	}
	return msgOrFormat
}

// Debug logs a message only in verbose mode.
func (l *Logger) Debug(msgOrFormat string, args ...interface{}) {
	if !l.IsVerbose() {
		return
	}
	fmt.Fprintf(l.writer(), "%s [DEBUG] %s\n", time.Now().Format("15:04:05"), formatMessage(msgOrFormat, args...))
}

// Info logs an informational message.
func (l *Logger) Info(msgOrFormat string, args ...interface{}) {
	fmt.Fprintf(l.writer(), "[INFO] %s\n", formatMessage(msgOrFormat, args...))
}

// Warn logs a warning.
func (l *Logger) Warn(msgOrFormat string, args ...interface{}) {
	fmt.Fprintf(l.writer(), "[WARN] %s\n", formatMessage(msgOrFormat, args...))
}

// Error logs an error.
func (l *Logger) Error(msgOrFormat string, args ...interface{}) {
	fmt.Fprintf(l.writer(), "[ERROR] %s\n", formatMessage(msgOrFormat, args...))
}

// Debugf logs through the global logger.
func Debugf(format string, args ...interface{}) {
	GetLogger().Debug(format, args...)
}

// Infof logs through the global logger.
func Infof(format string, args ...interface{}) {
	GetLogger().Info(format, args...)
}

// Warnf logs through the global logger.
func Warnf(format string, args ...interface{}) {
	GetLogger().Warn(format, args...)
}

// Errorf logs through the global logger.
func Errorf(format string, args ...interface{}) {
	GetLogger().Error(format, args...)
}

// BackgroundLogger writes the push worker's log to a file, since the worker
// has no terminal attached.
type BackgroundLogger struct {
	mu       sync.Mutex
	logger   *log.Logger
	logFile  *os.File
	enabled  bool
	filePath string
}

// DefaultBackgroundLogPath returns a PID-specific log path in the temp dir.
func DefaultBackgroundLogPath() string {
	return filepath.Join(os.TempDir(), fmt.Sprintf("famhub-worker-%d.log", os.Getpid()))
}

// NewBackgroundLogger creates a logger writing to DefaultBackgroundLogPath.
func NewBackgroundLogger() (*BackgroundLogger, error) {
	return NewBackgroundLoggerWithPath(DefaultBackgroundLogPath())
}

// NewDiscardLogger returns a disabled background logger.
func NewDiscardLogger() *BackgroundLogger {
	return &BackgroundLogger{logger: log.New(io.Discard, "", log.LstdFlags)}
}

// NewBackgroundLoggerWithPath creates a background logger appending to path.
// If the file can't be opened the logger still works but discards output,
// and the open error is returned alongside it.
func NewBackgroundLoggerWithPath(path string) (*BackgroundLogger, error) {
	bl := &BackgroundLogger{filePath: path}

	if dir := filepath.Dir(path); dir != "" {
		_ = os.MkdirAll(dir, 0755)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		bl.logger = log.New(io.Discard, "", log.LstdFlags)
		return bl, err
	}

	bl.logFile = file
	bl.logger = log.New(file, "", log.LstdFlags)
	bl.enabled = true
	return bl, nil
}

// Printf logs a formatted line.
func (bl *BackgroundLogger) Printf(format string, args ...interface{}) {
	bl.mu.Lock()
	defer bl.mu.Unlock()
	if bl.logger != nil {
		bl.logger.Printf(format, args...)
	}
}

// Println logs its operands.
func (bl *BackgroundLogger) Println(args ...interface{}) {
	bl.mu.Lock()
	defer bl.mu.Unlock()
	if bl.logger != nil {
		bl.logger.Println(args...)
	}
}

// Close closes the log file. Later writes are discarded.
func (bl *BackgroundLogger) Close() {
	bl.mu.Lock()
	defer bl.mu.Unlock()
	if bl.logFile != nil {
		_ = bl.logFile.Close()
		bl.logFile = nil
	}
	bl.logger = log.New(io.Discard, "", log.LstdFlags)
	bl.enabled = false
}

// GetLogPath returns the log file path.
func (bl *BackgroundLogger) GetLogPath() string {
	return bl.filePath
}

// IsEnabled reports whether output reaches a file.
func (bl *BackgroundLogger) IsEnabled() bool {
	bl.mu.Lock()
	defer bl.mu.Unlock()
	return bl.enabled
}
