// Package config handles application configuration
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed config.sample.yaml
var sampleConfig string

// GetSampleConfig returns the embedded sample configuration content
func GetSampleConfig() string {
	return sampleConfig
}

// Defaults used when a setting is left out.
const (
	DefaultPollInterval         = 15 * time.Second
	MinPollInterval             = time.Second
	DefaultConnectivityInterval = 30 * time.Second
	DefaultConnectivityTimeout  = 5 * time.Second
	DefaultWorkerIdleTimeout    = 10 * time.Minute
	DefaultBaseURL              = "http://localhost:3000"
)

// Config represents the application configuration
type Config struct {
	API          APIConfig          `yaml:"api"`
	Sync         SyncConfig         `yaml:"sync"`
	Cache        CacheConfig        `yaml:"cache"`
	Worker       WorkerConfig       `yaml:"worker"`
	Notification NotificationConfig `yaml:"notification"`
	Logging      LoggingConfig      `yaml:"logging"`
	UI           UIConfig           `yaml:"ui"`
}

// APIConfig holds the hub server settings
type APIConfig struct {
	BaseURL    string `yaml:"base_url"`
	UserID     string `yaml:"user_id"`     // Overridden by FAMHUB_USER_ID and the keyring
	MaxRetries int    `yaml:"max_retries"` // Retries for 429/5xx responses
}

// SyncConfig holds background refresh settings
type SyncConfig struct {
	PollInterval         string `yaml:"poll_interval"`         // e.g. "15s"
	FetchOnStart         *bool  `yaml:"fetch_on_start"`        // default: true
	OfflineMode          string `yaml:"offline_mode"`          // auto, online, offline
	ConnectivityInterval string `yaml:"connectivity_interval"` // e.g. "30s"
	ConnectivityTimeout  string `yaml:"connectivity_timeout"`  // e.g. "5s"
	Transport            string `yaml:"transport"`             // auto, worker, websocket, none
	WebSocketURL         string `yaml:"websocket_url"`
}

// CacheConfig holds the offline snapshot settings
type CacheConfig struct {
	Enabled *bool  `yaml:"enabled"` // default: true
	Path    string `yaml:"path"`
}

// WorkerConfig holds push relay settings
type WorkerConfig struct {
	SocketPath  string `yaml:"socket_path"`
	PIDPath     string `yaml:"pid_path"`
	LogPath     string `yaml:"log_path"`
	IdleTimeout string `yaml:"idle_timeout"` // "0" keeps the worker running
	AutoStart   bool   `yaml:"auto_start"`   // start the worker from "watch"
}

// NotificationConfig holds push notification settings
type NotificationConfig struct {
	Enabled         bool                  `yaml:"enabled"`
	OSNotification  OSNotificationConfig  `yaml:"os_notification"`
	LogNotification LogNotificationConfig `yaml:"log_notification"`
}

// OSNotificationConfig holds desktop notification settings
type OSNotificationConfig struct {
	Enabled bool `yaml:"enabled"`
	OnPush  bool `yaml:"on_push"`
	OnError bool `yaml:"on_error"`
}

// LogNotificationConfig holds notification log settings
type LogNotificationConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Path      string `yaml:"path"`
	MaxSizeMB int    `yaml:"max_size_mb"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Verbose           bool  `yaml:"verbose"`
	BackgroundEnabled *bool `yaml:"background_enabled"` // worker log file (default: true)
}

// UIConfig holds terminal view settings
type UIConfig struct {
	DefaultPane string `yaml:"default_pane"` // todos, calendar, memos
	TodoFilter  string `yaml:"todo_filter"`  // all, active, completed
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:    DefaultBaseURL,
			MaxRetries: 3,
		},
		Sync: SyncConfig{
			PollInterval: DefaultPollInterval.String(),
			OfflineMode:  "auto",
			Transport:    "auto",
		},
		Cache: CacheConfig{
			Path: filepath.Join(GetDataDir(), "snapshots.db"),
		},
		Notification: NotificationConfig{
			Enabled: true,
			OSNotification: OSNotificationConfig{
				Enabled: true,
				OnPush:  true,
				OnError: true,
			},
		},
		UI: UIConfig{
			DefaultPane: "todos",
			TodoFilter:  "all",
		},
	}
}

// GetConfigPath resolves configPath, falling back to the XDG location.
func GetConfigPath(configPath string) string {
	if configPath != "" {
		return configPath
	}
	return filepath.Join(GetConfigDir(), "config.yaml")
}

// Load loads configuration from the specified path, or the default XDG path if empty.
// If the config file doesn't exist, it creates one from the sample.
func Load(configPath string) (*Config, error) {
	configPath = GetConfigPath(configPath)

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := writeSample(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// LoadFromPath loads configuration from a specific path without creating defaults.
// A missing file yields a nil config and no error.
func LoadFromPath(configPath string) (*Config, error) {
	if configPath == "" {
		return nil, errors.New("config path is required")
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML, fills unset fields from DefaultConfig and expands paths.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid YAML in config file: %w", err)
	}

	// An explicit empty value in the file clears the default; restore it.
	defaults := DefaultConfig()
	if cfg.API.BaseURL == "" {
		cfg.API.BaseURL = defaults.API.BaseURL
	}
	if cfg.Cache.Path == "" {
		cfg.Cache.Path = defaults.Cache.Path
	}

	cfg.Cache.Path = ExpandPath(cfg.Cache.Path)
	cfg.Worker.SocketPath = ExpandPath(cfg.Worker.SocketPath)
	cfg.Worker.PIDPath = ExpandPath(cfg.Worker.PIDPath)
	cfg.Worker.LogPath = ExpandPath(cfg.Worker.LogPath)
	cfg.Notification.LogNotification.Path = ExpandPath(cfg.Notification.LogNotification.Path)
	return cfg, nil
}

func writeSample(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	u, err := url.Parse(c.API.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid api.base_url: %q (must be an http or https URL)", c.API.BaseURL)
	}
	if c.API.MaxRetries < 0 {
		return fmt.Errorf("api.max_retries must not be negative, got %d", c.API.MaxRetries)
	}

	if c.Sync.PollInterval != "" {
		d, err := time.ParseDuration(c.Sync.PollInterval)
		if err != nil {
			return fmt.Errorf("invalid duration for sync.poll_interval: %q", c.Sync.PollInterval)
		}
		if d < MinPollInterval {
			return fmt.Errorf("sync.poll_interval must be at least %s, got %q", MinPollInterval, c.Sync.PollInterval)
		}
	}

	switch strings.ToLower(c.Sync.OfflineMode) {
	case "", "auto", "online", "offline":
	default:
		return fmt.Errorf("invalid sync.offline_mode: %q (must be 'auto', 'online' or 'offline')", c.Sync.OfflineMode)
	}

	switch strings.ToLower(c.Sync.Transport) {
	case "", "auto", "worker", "websocket", "none":
	default:
		return fmt.Errorf("invalid sync.transport: %q (must be 'auto', 'worker', 'websocket' or 'none')", c.Sync.Transport)
	}
	if strings.EqualFold(c.Sync.Transport, "websocket") && c.Sync.WebSocketURL == "" {
		return errors.New("sync.transport 'websocket' requires sync.websocket_url")
	}
	if c.Sync.WebSocketURL != "" {
		u, err := url.Parse(c.Sync.WebSocketURL)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
			return fmt.Errorf("invalid sync.websocket_url: %q (must be a ws or wss URL)", c.Sync.WebSocketURL)
		}
	}

	durations := map[string]string{
		"sync.connectivity_interval": c.Sync.ConnectivityInterval,
		"sync.connectivity_timeout":  c.Sync.ConnectivityTimeout,
		"worker.idle_timeout":        c.Worker.IdleTimeout,
	}
	for key, value := range durations {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid duration for %s: %q", key, value)
		}
	}

	if c.Notification.LogNotification.Enabled && c.Notification.LogNotification.Path == "" {
		return errors.New("notification.log_notification.path is required when the log channel is enabled")
	}

	switch strings.ToLower(c.UI.DefaultPane) {
	case "", "todos", "calendar", "memos":
	default:
		return fmt.Errorf("invalid ui.default_pane: %q (must be 'todos', 'calendar' or 'memos')", c.UI.DefaultPane)
	}
	switch strings.ToLower(c.UI.TodoFilter) {
	case "", "all", "active", "completed":
	default:
		return fmt.Errorf("invalid ui.todo_filter: %q (must be 'all', 'active' or 'completed')", c.UI.TodoFilter)
	}

	return nil
}

// ApplyFlags applies CLI flag overrides to the configuration
func (c *Config) ApplyFlags(verbose bool, baseURL string) {
	if verbose {
		c.Logging.Verbose = true
	}
	if baseURL != "" {
		c.API.BaseURL = baseURL
	}
}

// GetPollInterval returns the collection refresh period.
// Returns 15s if not configured or invalid.
func (c *Config) GetPollInterval() time.Duration {
	return parseDuration(c.Sync.PollInterval, DefaultPollInterval)
}

// IsFetchOnStartEnabled returns true unless fetch_on_start is explicitly false.
func (c *Config) IsFetchOnStartEnabled() bool {
	if c.Sync.FetchOnStart == nil {
		return true
	}
	return *c.Sync.FetchOnStart
}

// GetOfflineMode returns the offline mode setting.
// Returns "auto" as default if not configured.
func (c *Config) GetOfflineMode() string {
	mode := strings.ToLower(strings.TrimSpace(c.Sync.OfflineMode))
	if mode == "" {
		return "auto"
	}
	return mode
}

// GetConnectivityInterval returns how often the server is probed in auto mode.
func (c *Config) GetConnectivityInterval() time.Duration {
	return parseDuration(c.Sync.ConnectivityInterval, DefaultConnectivityInterval)
}

// GetConnectivityTimeout returns the per-probe timeout.
func (c *Config) GetConnectivityTimeout() time.Duration {
	return parseDuration(c.Sync.ConnectivityTimeout, DefaultConnectivityTimeout)
}

// GetTransport returns which invalidation transport to use.
// Returns "auto" as default if not configured.
func (c *Config) GetTransport() string {
	transport := strings.ToLower(strings.TrimSpace(c.Sync.Transport))
	if transport == "" {
		return "auto"
	}
	return transport
}

// IsCacheEnabled returns true unless the snapshot cache is explicitly disabled.
func (c *Config) IsCacheEnabled() bool {
	if c.Cache.Enabled == nil {
		return true
	}
	return *c.Cache.Enabled
}

// GetCachePath returns the path to the snapshot database.
func (c *Config) GetCachePath() string {
	if c.Cache.Path == "" {
		return filepath.Join(GetDataDir(), "snapshots.db")
	}
	return c.Cache.Path
}

// GetWorkerIdleTimeout returns how long an unused worker keeps running.
// An explicit "0" disables the timeout.
func (c *Config) GetWorkerIdleTimeout() time.Duration {
	return parseDuration(c.Worker.IdleTimeout, DefaultWorkerIdleTimeout)
}

// IsBackgroundLoggingEnabled returns true if the worker writes a log file.
// Returns true (default) if not configured.
func (c *Config) IsBackgroundLoggingEnabled() bool {
	if c.Logging.BackgroundEnabled == nil {
		return true
	}
	return *c.Logging.BackgroundEnabled
}

// GetDefaultPane returns the pane the terminal view opens on.
func (c *Config) GetDefaultPane() string {
	pane := strings.ToLower(c.UI.DefaultPane)
	if pane == "" {
		return "todos"
	}
	return pane
}

func parseDuration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil || d < 0 {
		return fallback
	}
	return d
}

// getXDGDir returns a directory path following the XDG base directory layout.
// envVar is the XDG environment variable (e.g., "XDG_CONFIG_HOME").
// fallbackPath is the relative path from home (e.g., ".config").
func getXDGDir(envVar, fallbackPath string) string {
	if xdgDir := os.Getenv(envVar); xdgDir != "" {
		return filepath.Join(xdgDir, "famhub")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", fallbackPath, "famhub")
	}
	return filepath.Join(home, fallbackPath, "famhub")
}

// GetConfigDir returns the configuration directory following the XDG base directory layout
func GetConfigDir() string {
	return getXDGDir("XDG_CONFIG_HOME", ".config")
}

// GetDataDir returns the data directory following the XDG base directory layout
func GetDataDir() string {
	return getXDGDir("XDG_DATA_HOME", filepath.Join(".local", "share"))
}

// ExpandPath expands ~ and environment variables in a path
func ExpandPath(path string) string {
	if path == "" {
		return path
	}

	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, path[2:])
		}
	}

	return os.ExpandEnv(path)
}
