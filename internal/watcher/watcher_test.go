package watcher

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"famhub/internal/config"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

// =============================================================================
// Watcher
// =============================================================================

// TestWatcherDetectsChanges verifies an edit of the watched file fires once
// after the debounce window.
func TestWatcherDetectsChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, "initial")

	var changes atomic.Int32
	w, err := New(Config{
		Path:             path,
		DebounceDuration: 50 * time.Millisecond,
		OnChange:         func() { changes.Add(1) },
	})
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}
	defer w.Stop()
	if err := w.Start(); err != nil {
		t.Fatalf("failed to start watcher: %v", err)
	}

	for i := 0; i < 5; i++ {
		writeFile(t, path, "edit")
	}
	waitFor(t, "change", func() bool { return changes.Load() > 0 })

	time.Sleep(150 * time.Millisecond)
	if got := changes.Load(); got != 1 {
		t.Errorf("rapid edits should be debounced into one call, got %d", got)
	}
}

// TestWatcherDetectsReplace verifies saves that rename a temp file over the
// config are seen.
func TestWatcherDetectsReplace(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, "initial")

	var changed atomic.Bool
	w, err := New(Config{Path: path, DebounceDuration: 20 * time.Millisecond, OnChange: func() { changed.Store(true) }})
	if err != nil {
		t.Fatal(err)
	}
	defer w.Stop()
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}

	tmp := filepath.Join(dir, ".config.yaml.swp")
	writeFile(t, tmp, "replaced")
	if err := os.Rename(tmp, path); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "replace", changed.Load)
}

// TestWatcherIgnoresOtherFiles verifies siblings in the directory don't
// trigger a reload.
func TestWatcherIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, "initial")

	var changed atomic.Bool
	w, err := New(Config{Path: path, DebounceDuration: 20 * time.Millisecond, OnChange: func() { changed.Store(true) }})
	if err != nil {
		t.Fatal(err)
	}
	defer w.Stop()
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}

	writeFile(t, filepath.Join(dir, "snapshots.db"), "data")
	time.Sleep(150 * time.Millisecond)
	if changed.Load() {
		t.Error("unrelated file should not trigger OnChange")
	}
}

func TestWatcherStopIsFinal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, "x")

	w, err := New(Config{Path: path})
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	w.Stop()
	w.Stop()
	if err := w.Start(); err == nil {
		t.Error("Start after Stop should fail")
	}
}

func TestNewRequiresPath(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("empty path should be rejected")
	}
}

// =============================================================================
// Config reload
// =============================================================================

func TestWatchConfigAppliesValidEdits(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, "sync:\n  poll_interval: 15s\n")

	applied := make(chan time.Duration, 4)
	w, err := WatchConfig(path, func(cfg *config.Config) {
		applied <- cfg.GetPollInterval()
	})
	if err != nil {
		t.Fatalf("WatchConfig: %v", err)
	}
	defer w.Stop()

	writeFile(t, path, "sync:\n  poll_interval: 45s\n")
	select {
	case got := <-applied:
		if got != 45*time.Second {
			t.Errorf("applied poll interval %s, want 45s", got)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("valid edit was not applied")
	}

	writeFile(t, path, "sync:\n  poll_interval: 10ms\n")
	select {
	case got := <-applied:
		t.Errorf("invalid config should be skipped, applied %s", got)
	case <-time.After(DefaultDebounceDuration + 300*time.Millisecond):
	}
}

func TestWatchConfigMissingDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "config.yaml")
	if _, err := WatchConfig(path, func(*config.Config) {}); err == nil {
		t.Error("watching a file in a missing directory should fail")
	}
}
