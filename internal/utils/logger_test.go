package utils

import (
	"bytes"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
)

// resetLogger gives each test a fresh singleton writing into a buffer.
func resetLogger(t *testing.T) (*Logger, *bytes.Buffer) {
	t.Helper()
	once = sync.Once{}
	loggerInstance = nil
	var buf bytes.Buffer
	l := GetLogger()
	l.SetOutput(&buf)
	return l, &buf
}

// =============================================================================
// Logger Tests
// =============================================================================

func TestGetLogger(t *testing.T) {
	if GetLogger() != GetLogger() {
		t.Error("GetLogger() should return same singleton instance")
	}
}

func TestLoggerDefaultVerboseMode(t *testing.T) {
	l, _ := resetLogger(t)
	if l.IsVerbose() {
		t.Error("Logger should have verbose=false by default")
	}
}

func TestSetVerboseMode(t *testing.T) {
	l, _ := resetLogger(t)

	SetVerboseMode(true)
	if !l.IsVerbose() {
		t.Error("SetVerboseMode(true) should enable verbose mode")
	}
	SetVerboseMode(false)
	if l.IsVerbose() {
		t.Error("SetVerboseMode(false) should disable verbose mode")
	}
}

func TestDebugOnlyShownWhenVerbose(t *testing.T) {
	l, buf := resetLogger(t)

	l.Debug("quiet")
	if buf.Len() > 0 {
		t.Errorf("Debug should not output when verbose=false, got: %s", buf.String())
	}

	l.SetVerbose(true)
	l.Debug("refresh %s", "events")
	if !strings.Contains(buf.String(), "[DEBUG] refresh events") {
		t.Errorf("Debug output missing, got: %s", buf.String())
	}
}

func TestLogLevelPrefixes(t *testing.T) {
	tests := []struct {
		name    string
		logFunc func(*Logger, string)
		prefix  string
	}{
		{"Info", func(l *Logger, m string) { l.Info("%s", m) }, "[INFO] "},
		{"Warn", func(l *Logger, m string) { l.Warn("%s", m) }, "[WARN] "},
		{"Error", func(l *Logger, m string) { l.Error("%s", m) }, "[ERROR] "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, buf := resetLogger(t)
			tt.logFunc(l, "msg")
			if got := buf.String(); got != tt.prefix+"msg\n" {
				t.Errorf("got %q, want %q", got, tt.prefix+"msg\n")
			}
		})
	}
}

func TestConvenienceFunctions(t *testing.T) {
	_, buf := resetLogger(t)
	SetVerboseMode(true)

	tests := []struct {
		name    string
		logFunc func(string, ...interface{})
		prefix  string
	}{
		{"Debugf", Debugf, "[DEBUG]"},
		{"Infof", Infof, "[INFO]"},
		{"Warnf", Warnf, "[WARN]"},
		{"Errorf", Errorf, "[ERROR]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf.Reset()
			tt.logFunc("formatted %s", "value")
			if !strings.Contains(buf.String(), tt.prefix) || !strings.Contains(buf.String(), "formatted value") {
				t.Errorf("%s output = %q", tt.name, buf.String())
			}
		})
	}
}

func TestVerboseOutputIncludesTimestamp(t *testing.T) {
	l, buf := resetLogger(t)
	l.SetVerbose(true)
	l.Debug("format check")

	linePattern := regexp.MustCompile(`^\d{2}:\d{2}:\d{2} \[DEBUG\] format check\n$`)
	if !linePattern.MatchString(buf.String()) {
		t.Errorf("expected 'HH:MM:SS [DEBUG] format check', got: %q", buf.String())
	}
}

func TestSetOutputNilDiscards(t *testing.T) {
	l, _ := resetLogger(t)
	l.SetOutput(nil)
	l.Error("dropped")
}

func TestLoggerThreadSafety(t *testing.T) {
	l, _ := resetLogger(t)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			l.SetVerbose(n%2 == 0)
			l.Debug("debug %d", n)
			l.Info("info %d", n)
		}(i)
	}
	wg.Wait()
}

// =============================================================================
// Background Logger Tests
// =============================================================================

func TestBackgroundLoggerWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "worker.log")

	bl, err := NewBackgroundLoggerWithPath(path)
	if err != nil {
		t.Fatalf("NewBackgroundLoggerWithPath: %v", err)
	}
	if !bl.IsEnabled() {
		t.Fatal("logger should be enabled")
	}
	if bl.GetLogPath() != path {
		t.Errorf("GetLogPath() = %q, want %q", bl.GetLogPath(), path)
	}

	bl.Printf("push received on %s", "todos:changed")
	bl.Println("fan-out", 2)
	bl.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "push received on todos:changed") {
		t.Errorf("log missing Printf line: %s", data)
	}
	if !strings.Contains(string(data), "fan-out 2") {
		t.Errorf("log missing Println line: %s", data)
	}
}

func TestBackgroundLoggerCloseDegrades(t *testing.T) {
	bl, err := NewBackgroundLoggerWithPath(filepath.Join(t.TempDir(), "worker.log"))
	if err != nil {
		t.Fatalf("NewBackgroundLoggerWithPath: %v", err)
	}
	bl.Close()
	if bl.IsEnabled() {
		t.Error("logger should be disabled after Close")
	}
	bl.Printf("after close")
	bl.Close()
}

func TestBackgroundLoggerUnwritablePath(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	if err := os.WriteFile(blocker, nil, 0644); err != nil {
		t.Fatal(err)
	}

	bl, err := NewBackgroundLoggerWithPath(filepath.Join(blocker, "worker.log"))
	if err == nil {
		t.Fatal("expected an error for a path under a regular file")
	}
	if bl == nil || bl.IsEnabled() {
		t.Fatal("logger should be returned disabled")
	}
	bl.Printf("discarded")
}

func TestDiscardLogger(t *testing.T) {
	bl := NewDiscardLogger()
	if bl.IsEnabled() {
		t.Error("discard logger should not be enabled")
	}
	bl.Printf("nothing %d", 1)
}

func TestDefaultBackgroundLogPath(t *testing.T) {
	p := DefaultBackgroundLogPath()
	if !strings.HasPrefix(filepath.Base(p), "famhub-worker-") {
		t.Errorf("unexpected log path %q", p)
	}
}
