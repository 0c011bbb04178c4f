// Package watcher reloads the config file while a long-running command is
// open. Edits are debounced and only a file that parses and validates is
// handed on.
package watcher

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"famhub/internal/config"
	"famhub/internal/utils"
)

// DefaultDebounceDuration batches the burst of events an editor save produces.
const DefaultDebounceDuration = 250 * time.Millisecond

// Config holds file watcher configuration.
type Config struct {
	Path             string        // File to watch
	DebounceDuration time.Duration // Quiet time after the last event before OnChange
	OnChange         func()        // Called after the file settles
}

// Watcher monitors one file. The parent directory is watched so saves that
// replace the file by rename are seen.
type Watcher struct {
	cfg     Config
	fsw     *fsnotify.Watcher
	stopCh  chan struct{}
	done    chan struct{}
	started bool
	stopped bool
	mu      sync.Mutex
}

// New creates a new Watcher instance.
func New(cfg Config) (*Watcher, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("watch path is required")
	}
	if cfg.DebounceDuration <= 0 {
		cfg.DebounceDuration = DefaultDebounceDuration
	}
	abs, err := filepath.Abs(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("invalid watch path %q: %w", cfg.Path, err)
	}
	cfg.Path = abs

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &Watcher{
		cfg:    cfg,
		fsw:    fsw,
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}, nil
}

// Start begins watching.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return fmt.Errorf("watcher has been stopped and cannot be restarted")
	}
	if w.started {
		return nil
	}

	dir := filepath.Dir(w.cfg.Path)
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("failed to watch %q: %w", dir, err)
	}
	if err := w.fsw.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %q: %w", dir, err)
	}

	w.started = true
	go w.eventLoop()
	return nil
}

// Stop stops the watcher and waits for a running OnChange to return.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	started := w.started
	close(w.stopCh)
	_ = w.fsw.Close()
	w.mu.Unlock()

	if started {
		<-w.done
	}
}

func (w *Watcher) eventLoop() {
	defer close(w.done)

	debounce := time.NewTimer(time.Hour)
	debounce.Stop()
	defer debounce.Stop()

	for {
		select {
		case <-w.stopCh:
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.cfg.Path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			debounce.Reset(w.cfg.DebounceDuration)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			utils.Debugf("config watcher: %v", err)

		case <-debounce.C:
			if w.cfg.OnChange != nil {
				w.cfg.OnChange()
			}
		}
	}
}

// WatchConfig calls apply with the reloaded config after each edit of the
// file at path. A file that fails to load or validate is skipped with a
// warning and the previous settings stay in effect.
func WatchConfig(path string, apply func(*config.Config)) (*Watcher, error) {
	w, err := New(Config{
		Path: path,
		OnChange: func() {
			cfg, err := config.LoadFromPath(path)
			if err != nil {
				utils.Warnf("config reload skipped: %v", err)
				return
			}
			if cfg == nil {
				return
			}
			if err := cfg.Validate(); err != nil {
				utils.Warnf("config reload skipped: %v", err)
				return
			}
			utils.Debugf("config reloaded from %s", path)
			apply(cfg)
		},
	})
	if err != nil {
		return nil, err
	}
	if err := w.Start(); err != nil {
		w.Stop()
		return nil, err
	}
	return w, nil
}
