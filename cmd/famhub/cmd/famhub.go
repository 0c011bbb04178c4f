package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"famhub/backend/rest"
	"famhub/backend/sqlite"
	"famhub/internal/config"
	"famhub/internal/credentials"
	"famhub/internal/ratelimit"
	"famhub/internal/utils"
)

// Version is set at build time
var Version = "dev"

// Result codes for JSON output
const (
	ResultActionCompleted = "ACTION_COMPLETED"
	ResultInfoOnly        = "INFO_ONLY"
	ResultError           = "ERROR"
)

// Config holds per-invocation settings. Zero fields fall back to the config
// file and the process environment.
type Config struct {
	ConfigPath string              // Path to config file (for testing)
	Verbose    bool                // Force debug output
	Keyring    credentials.Keyring // Replaces the system keyring (for testing)
	Getenv     func(string) string // Replaces os.Getenv for credential lookup (for testing)
	Stdin      io.Reader           // Input for prompts; nil means the terminal
	Now        func() time.Time    // Clock for date parsing (for testing)
}

func (c *Config) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// Execute runs the CLI with the given arguments and IO writers
func Execute(args []string, stdout, stderr io.Writer, cfg *Config) int {
	rootCmd := NewFamHub(stdout, stderr, cfg)

	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	if err := rootCmd.Execute(); err != nil {
		if containsJSONFlag(args) {
			outputErrorJSON(err, stdout)
		} else {
			_, _ = fmt.Fprintln(stderr, "Error:", err)
		}
		return 1
	}
	return 0
}

// containsJSONFlag checks if args contain --json flag
func containsJSONFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--json" {
			return true
		}
	}
	return false
}

type errorResponse struct {
	Error  string `json:"error"`
	Code   int    `json:"code"`
	Result string `json:"result"`
}

func outputErrorJSON(err error, stdout io.Writer) {
	response := errorResponse{
		Error:  err.Error(),
		Code:   1,
		Result: ResultError,
	}
	jsonBytes, _ := json.Marshal(response)
	_, _ = fmt.Fprintln(stdout, string(jsonBytes))
}

func writeJSON(stdout io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(stdout, string(data))
	return err
}

// NewFamHub creates the root command with injectable IO
func NewFamHub(stdout, stderr io.Writer, cfg *Config) *cobra.Command {
	if cfg == nil {
		cfg = &Config{}
	}

	cmd := &cobra.Command{
		Use:     "famhub",
		Short:   "Family hub calendar, todos and memo board",
		Long:    "famhub shows the family calendar, shared todos and the memo board, keeping them in sync with the hub server.",
		Version: Version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().String("config", "", "Path to config file")
	cmd.PersistentFlags().BoolP("verbose", "V", false, "Enable verbose/debug output")
	cmd.PersistentFlags().String("base-url", "", "Override api.base_url")
	cmd.PersistentFlags().Bool("json", false, "Output in JSON format")

	cmd.AddCommand(newVersionCmd(stdout))
	cmd.AddCommand(newListCmd(stdout, cfg))
	cmd.AddCommand(newAddCmd(stdout, cfg))
	cmd.AddCommand(newDoneCmd(stdout, cfg))
	cmd.AddCommand(newPinCmd(stdout, cfg))
	cmd.AddCommand(newDeleteCmd(stdout, cfg))
	cmd.AddCommand(newEditCmd(stdout, cfg))
	cmd.AddCommand(newWatchCmd(stdout, cfg))
	cmd.AddCommand(newWorkerCmd(stdout, stderr, cfg))
	cmd.AddCommand(newPushCmd(stdout, cfg))
	cmd.AddCommand(newLoginCmd(stdout, cfg))
	cmd.AddCommand(newLogoutCmd(stdout, cfg))
	cmd.AddCommand(newWhoamiCmd(stdout, cfg))
	cmd.AddCommand(newConfigCmd(stdout, cfg))
	cmd.AddCommand(newCacheCmd(stdout, cfg))

	return cmd
}

func newVersionCmd(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, _ = fmt.Fprintf(stdout, "famhub version %s\n", Version)
			return nil
		},
	}
}

// configPath returns the --config flag, else the injected path.
func configPath(cmd *cobra.Command, cfg *Config) string {
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		return path
	}
	return cfg.ConfigPath
}

// loadConfig reads and validates the config file and applies flag
// overrides.
func loadConfig(cmd *cobra.Command, cfg *Config) (*config.Config, error) {
	path := configPath(cmd, cfg)
	conf, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	verbose, _ := cmd.Flags().GetBool("verbose")
	baseURL, _ := cmd.Flags().GetString("base-url")
	conf.ApplyFlags(verbose || cfg.Verbose, baseURL)

	if err := conf.Validate(); err != nil {
		return nil, utils.WrapWithSuggestion(
			fmt.Errorf("invalid config: %w", err),
			fmt.Sprintf("Edit %s", config.GetConfigPath(path)),
		)
	}
	utils.SetVerboseMode(conf.Logging.Verbose)
	return conf, nil
}

func newCredentialManager(cfg *Config) *credentials.Manager {
	var opts []credentials.ManagerOption
	if cfg.Keyring != nil {
		opts = append(opts, credentials.WithKeyring(cfg.Keyring))
	}
	if cfg.Getenv != nil {
		opts = append(opts, credentials.WithEnv(cfg.Getenv))
	}
	return credentials.NewManager(opts...)
}

// session bundles what a command needs to talk to the hub.
type session struct {
	conf      *config.Config
	user      *credentials.CredentialInfo
	client    *rest.Client
	snapshots *sqlite.Snapshots // nil when the cache is disabled or unusable
}

// openSession loads the config, resolves the user id and opens the
// snapshot cache. Close must be called when done.
func openSession(ctx context.Context, cmd *cobra.Command, cfg *Config) (*session, error) {
	conf, err := loadConfig(cmd, cfg)
	if err != nil {
		return nil, err
	}

	user, err := newCredentialManager(cfg).Resolve(ctx, conf.API.BaseURL, conf.API.UserID)
	if err != nil {
		return nil, err
	}
	if !user.Found {
		return nil, utils.ErrUserNotConfigured()
	}
	utils.Debugf("using user id from %s", user.Source)

	rl := ratelimit.DefaultConfig()
	rl.MaxRetries = conf.API.MaxRetries
	client, err := rest.NewClient(rest.Config{
		BaseURL:   conf.API.BaseURL,
		UserID:    user.UserID,
		RateLimit: rl,
	})
	if err != nil {
		return nil, err
	}

	s := &session{conf: conf, user: user, client: client}
	if conf.IsCacheEnabled() {
		snapshots, err := openSnapshots(conf.GetCachePath())
		if err != nil {
			utils.Warnf("offline cache unavailable: %v", err)
		} else {
			s.snapshots = snapshots
		}
	}
	return s, nil
}

func openSnapshots(path string) (*sqlite.Snapshots, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
	}
	return sqlite.New(path)
}

// Close releases the snapshot cache.
func (s *session) Close() {
	if s.snapshots != nil {
		_ = s.snapshots.Close()
	}
}

// describe turns a transport failure into an error with a hint. Answers
// from the server are returned unchanged.
func (s *session) describe(err error) error {
	var apiErr *rest.APIError
	if err == nil || errors.As(err, &apiErr) || errors.Is(err, context.Canceled) {
		return err
	}
	return utils.ErrAPIUnreachable(s.conf.API.BaseURL, err.Error())
}

// =============================================================================
// Credentials
// =============================================================================

func newLoginCmd(stdout io.Writer, cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "login [user-id]",
		Short: "Store your user id in the system keyring",
		Long:  "Store the user id sent with every API request. Without an argument you are prompted for it.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := loadConfig(cmd, cfg)
			if err != nil {
				return err
			}
			server := conf.API.BaseURL

			var userID string
			if len(args) == 1 {
				userID = args[0]
			} else {
				reader := cfg.Stdin
				var tty credentials.TerminalReader
				if reader == nil {
					reader = os.Stdin
					tty = credentials.NewTerminalReader()
				}
				userID, err = credentials.PromptUserID(reader, stdout, server, tty)
				if err != nil {
					return fmt.Errorf("failed to read user id: %w", err)
				}
			}

			if err := newCredentialManager(cfg).Set(cmd.Context(), server, userID); err != nil {
				if errors.Is(err, credentials.ErrKeyringNotAvailable) {
					return utils.WrapWithSuggestion(err, "Set api.user_id in the config file or export "+credentials.EnvUserID)
				}
				return err
			}
			_, _ = fmt.Fprintf(stdout, "Saved user id for %s\n", server)
			return nil
		},
	}
}

func newLogoutCmd(stdout io.Writer, cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored user id from the system keyring",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := loadConfig(cmd, cfg)
			if err != nil {
				return err
			}
			if err := newCredentialManager(cfg).Delete(cmd.Context(), conf.API.BaseURL); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(stdout, "Removed user id for %s\n", conf.API.BaseURL)
			return nil
		},
	}
}

func newWhoamiCmd(stdout io.Writer, cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the user id in use and where it comes from",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := loadConfig(cmd, cfg)
			if err != nil {
				return err
			}
			info, err := newCredentialManager(cfg).Resolve(cmd.Context(), conf.API.BaseURL, conf.API.UserID)
			if err != nil {
				return err
			}

			if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
				data, err := info.JSON()
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintln(stdout, string(data))
				return nil
			}
			if !info.Found {
				return utils.ErrUserNotConfigured()
			}
			_, _ = fmt.Fprintf(stdout, "User:   %s\nSource: %s\nServer: %s\n", info.UserID, info.Source, info.Server)
			return nil
		},
	}
}

// =============================================================================
// Config and cache
// =============================================================================

func newConfigCmd(stdout io.Writer, cfg *Config) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	configCmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Print the config file location",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, _ = fmt.Fprintln(stdout, config.GetConfigPath(configPath(cmd, cfg)))
			return nil
		},
	})

	configCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := loadConfig(cmd, cfg)
			if err != nil {
				return err
			}
			if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
				return writeJSON(stdout, conf)
			}
			data, err := yaml.Marshal(conf)
			if err != nil {
				return err
			}
			_, _ = stdout.Write(data)
			return nil
		},
	})

	configCmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Check the config file for errors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := loadConfig(cmd, cfg); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(stdout, "Config OK")
			return nil
		},
	})

	return configCmd
}

func newCacheCmd(stdout io.Writer, cfg *Config) *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the offline snapshot cache",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cacheCmd.AddCommand(&cobra.Command{
		Use:   "info",
		Short: "List stored snapshots",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := loadConfig(cmd, cfg)
			if err != nil {
				return err
			}
			snapshots, err := openSnapshots(conf.GetCachePath())
			if err != nil {
				return err
			}
			defer func() { _ = snapshots.Close() }()

			infos, err := snapshots.List(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
				return writeJSON(stdout, infos)
			}
			if len(infos) == 0 {
				_, _ = fmt.Fprintln(stdout, "No snapshots stored")
				return nil
			}
			for _, info := range infos {
				scope := info.Scope
				if scope == "" {
					scope = "-"
				}
				_, _ = fmt.Fprintf(stdout, "%-7s %-20s %4d items  saved %s\n",
					info.Resource, scope, info.Items, info.SavedAt.Local().Format("2006-01-02 15:04"))
			}
			return nil
		},
	})

	cacheCmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Delete all stored snapshots",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := loadConfig(cmd, cfg)
			if err != nil {
				return err
			}
			snapshots, err := openSnapshots(conf.GetCachePath())
			if err != nil {
				return err
			}
			defer func() { _ = snapshots.Close() }()

			if err := snapshots.Clear(cmd.Context()); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(stdout, "Cache cleared")
			return nil
		},
	})

	return cacheCmd
}
