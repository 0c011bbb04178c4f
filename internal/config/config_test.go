package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

// =============================================================================
// Loading
// =============================================================================

// TestConfigAutoCreate verifies first run copies the sample to the XDG path
func TestConfigAutoCreate(t *testing.T) {
	tmpDir := t.TempDir()
	configDir := filepath.Join(tmpDir, "config")
	dataDir := filepath.Join(tmpDir, "data")
	t.Setenv("XDG_CONFIG_HOME", configDir)
	t.Setenv("XDG_DATA_HOME", dataDir)
	t.Setenv("HOME", tmpDir)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	configPath := filepath.Join(configDir, "famhub", "config.yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("config file not created at %s: %v", configPath, err)
	}
	if string(data) != GetSampleConfig() {
		t.Error("created config should be the embedded sample")
	}

	if cfg.API.BaseURL != DefaultBaseURL {
		t.Errorf("BaseURL = %q, want %q", cfg.API.BaseURL, DefaultBaseURL)
	}
	if want := filepath.Join(dataDir, "famhub", "snapshots.db"); cfg.GetCachePath() != want {
		t.Errorf("GetCachePath() = %q, want %q", cfg.GetCachePath(), want)
	}
}

// TestSampleConfigIsValid verifies the sample parses to the defaults
func TestSampleConfigIsValid(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())

	cfg, err := Parse([]byte(GetSampleConfig()))
	if err != nil {
		t.Fatalf("Parse(sample) error = %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("sample config should validate: %v", err)
	}

	def := DefaultConfig()
	if cfg.GetPollInterval() != def.GetPollInterval() {
		t.Errorf("sample poll interval %s differs from default %s", cfg.GetPollInterval(), def.GetPollInterval())
	}
	if cfg.GetOfflineMode() != "auto" || cfg.GetTransport() != "auto" {
		t.Errorf("sample modes = %q/%q", cfg.GetOfflineMode(), cfg.GetTransport())
	}
	for _, section := range []string{"api:", "sync:", "cache:", "worker:", "notification:", "logging:", "ui:"} {
		if !strings.Contains(GetSampleConfig(), section) {
			t.Errorf("sample config is missing %q", section)
		}
	}
}

// TestConfigCustomPath verifies --config uses the given file and keeps defaults for the rest
func TestConfigCustomPath(t *testing.T) {
	t.Setenv("HOME", "/home/alex")
	path := writeConfig(t, `
api:
  base_url: "https://hub.example.com"
  user_id: "7"
sync:
  poll_interval: "1m"
  offline_mode: OFFLINE
cache:
  path: "~/hub/cache.db"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error = %v", path, err)
	}

	if cfg.API.BaseURL != "https://hub.example.com" || cfg.API.UserID != "7" {
		t.Errorf("api = %+v", cfg.API)
	}
	if cfg.API.MaxRetries != 3 {
		t.Errorf("MaxRetries should keep its default, got %d", cfg.API.MaxRetries)
	}
	if cfg.GetPollInterval() != time.Minute {
		t.Errorf("GetPollInterval() = %s, want 1m", cfg.GetPollInterval())
	}
	if cfg.GetOfflineMode() != "offline" {
		t.Errorf("GetOfflineMode() = %q, want offline", cfg.GetOfflineMode())
	}
	if cfg.GetCachePath() != "/home/alex/hub/cache.db" {
		t.Errorf("GetCachePath() = %q", cfg.GetCachePath())
	}
	if !cfg.Notification.OSNotification.OnPush {
		t.Error("notification defaults should survive a partial file")
	}
}

func TestConfigInvalidYAML(t *testing.T) {
	path := writeConfig(t, "api: [unclosed")
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "invalid YAML") {
		t.Errorf("Load() error = %v, want invalid YAML", err)
	}
}

func TestLoadFromPathMissing(t *testing.T) {
	cfg, err := LoadFromPath(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil || cfg != nil {
		t.Errorf("LoadFromPath(missing) = %v, %v; want nil, nil", cfg, err)
	}
	if _, err := LoadFromPath(""); err == nil {
		t.Error("LoadFromPath(\"\") should fail")
	}
}

func TestExplicitEmptyRestoresDefaults(t *testing.T) {
	cfg, err := Parse([]byte("api:\n  base_url: \"\"\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.API.BaseURL != DefaultBaseURL {
		t.Errorf("BaseURL = %q, want default", cfg.API.BaseURL)
	}
}

// =============================================================================
// Accessors
// =============================================================================

func TestDurationAccessors(t *testing.T) {
	cfg := &Config{}
	if cfg.GetPollInterval() != DefaultPollInterval {
		t.Errorf("unset poll interval = %s", cfg.GetPollInterval())
	}
	if cfg.GetConnectivityInterval() != DefaultConnectivityInterval {
		t.Errorf("unset connectivity interval = %s", cfg.GetConnectivityInterval())
	}
	if cfg.GetConnectivityTimeout() != DefaultConnectivityTimeout {
		t.Errorf("unset connectivity timeout = %s", cfg.GetConnectivityTimeout())
	}
	if cfg.GetWorkerIdleTimeout() != DefaultWorkerIdleTimeout {
		t.Errorf("unset idle timeout = %s", cfg.GetWorkerIdleTimeout())
	}

	cfg.Sync.PollInterval = "soon"
	if cfg.GetPollInterval() != DefaultPollInterval {
		t.Error("unparsable poll interval should fall back to the default")
	}
	cfg.Worker.IdleTimeout = "0"
	if cfg.GetWorkerIdleTimeout() != 0 {
		t.Error("idle timeout 0 should disable it")
	}
}

func TestBoolAccessorsDefaultTrue(t *testing.T) {
	cfg := &Config{}
	if !cfg.IsFetchOnStartEnabled() || !cfg.IsCacheEnabled() || !cfg.IsBackgroundLoggingEnabled() {
		t.Error("unset switches should default to enabled")
	}

	off := false
	cfg.Sync.FetchOnStart = &off
	cfg.Cache.Enabled = &off
	cfg.Logging.BackgroundEnabled = &off
	if cfg.IsFetchOnStartEnabled() || cfg.IsCacheEnabled() || cfg.IsBackgroundLoggingEnabled() {
		t.Error("explicit false should be honoured")
	}
}

func TestApplyFlags(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ApplyFlags(false, "")
	if cfg.Logging.Verbose || cfg.API.BaseURL != DefaultBaseURL {
		t.Error("empty flags should change nothing")
	}
	cfg.ApplyFlags(true, "https://other.example.com")
	if !cfg.Logging.Verbose || cfg.API.BaseURL != "https://other.example.com" {
		t.Errorf("flags not applied: %+v", cfg)
	}
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	if got := GetConfigPath(""); got != "/xdg/famhub/config.yaml" {
		t.Errorf("GetConfigPath(\"\") = %q", got)
	}
	if got := GetConfigPath("/etc/famhub.yaml"); got != "/etc/famhub.yaml" {
		t.Errorf("GetConfigPath(explicit) = %q", got)
	}
}

// =============================================================================
// Validation
// =============================================================================

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"defaults", func(c *Config) {}, ""},
		{"bad base url", func(c *Config) { c.API.BaseURL = "localhost:3000" }, "api.base_url"},
		{"negative retries", func(c *Config) { c.API.MaxRetries = -1 }, "api.max_retries"},
		{"poll too fast", func(c *Config) { c.Sync.PollInterval = "100ms" }, "at least"},
		{"poll unparsable", func(c *Config) { c.Sync.PollInterval = "often" }, "sync.poll_interval"},
		{"offline mode", func(c *Config) { c.Sync.OfflineMode = "sometimes" }, "sync.offline_mode"},
		{"transport", func(c *Config) { c.Sync.Transport = "carrier-pigeon" }, "sync.transport"},
		{"websocket without url", func(c *Config) { c.Sync.Transport = "websocket" }, "requires sync.websocket_url"},
		{"websocket http url", func(c *Config) { c.Sync.WebSocketURL = "http://hub/ws" }, "sync.websocket_url"},
		{"websocket ok", func(c *Config) {
			c.Sync.Transport = "websocket"
			c.Sync.WebSocketURL = "wss://hub.example.com/ws"
		}, ""},
		{"connectivity timeout", func(c *Config) { c.Sync.ConnectivityTimeout = "5" }, "sync.connectivity_timeout"},
		{"idle timeout", func(c *Config) { c.Worker.IdleTimeout = "forever" }, "worker.idle_timeout"},
		{"log channel without path", func(c *Config) { c.Notification.LogNotification.Enabled = true }, "log_notification.path"},
		{"pane", func(c *Config) { c.UI.DefaultPane = "weather" }, "ui.default_pane"},
		{"filter", func(c *Config) { c.UI.TodoFilter = "done" }, "ui.todo_filter"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}
