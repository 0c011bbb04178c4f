package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"famhub/backend"
	"famhub/internal/config"
	"famhub/internal/notification"
	"famhub/internal/utils"
	"famhub/internal/worker"
)

// startWait is how long 'worker start' waits for the new process to listen.
const startWait = 3 * time.Second

func newNotificationManager(conf *config.Config) (notification.NotificationManager, error) {
	return notification.NewManager(&notification.Config{
		Enabled: conf.Notification.Enabled,
		OSNotification: notification.OSNotificationConfig{
			Enabled: conf.Notification.OSNotification.Enabled,
			OnPush:  conf.Notification.OSNotification.OnPush,
			OnError: conf.Notification.OSNotification.OnError,
		},
		LogNotification: notification.LogNotificationConfig{
			Enabled:   conf.Notification.LogNotification.Enabled,
			Path:      conf.Notification.LogNotification.Path,
			MaxSizeMB: conf.Notification.LogNotification.MaxSizeMB,
		},
	})
}

func workerConfig(conf *config.Config, confPath string) worker.Config {
	socketPath, pidPath := workerPaths(conf)
	return worker.Config{
		PIDPath:     pidPath,
		SocketPath:  socketPath,
		LogPath:     conf.Worker.LogPath,
		IdleTimeout: conf.GetWorkerIdleTimeout(),
		ConfigPath:  confPath,
	}
}

// startWorker forks a worker and waits until it answers.
func startWorker(conf *config.Config, confPath string) error {
	wcfg := workerConfig(conf, confPath)
	if worker.IsRunning(wcfg.PIDPath, wcfg.SocketPath) {
		return nil
	}
	if err := worker.Fork(wcfg); err != nil {
		return err
	}

	deadline := time.Now().Add(startWait)
	for time.Now().Before(deadline) {
		if worker.IsRunning(wcfg.PIDPath, wcfg.SocketPath) {
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return fmt.Errorf("worker did not start within %s", startWait)
}

// workerClient returns a client for a running worker, or
// ErrWorkerNotRunning.
func workerClient(conf *config.Config) (*worker.Client, error) {
	socketPath, pidPath := workerPaths(conf)
	if !worker.IsRunning(pidPath, socketPath) {
		return nil, utils.ErrWorkerNotRunning()
	}
	return worker.NewClient(socketPath), nil
}

func newWorkerCmd(stdout, stderr io.Writer, cfg *Config) *cobra.Command {
	workerCmd := &cobra.Command{
		Use:   "worker",
		Short: "Manage the push worker",
		Long: "The push worker receives pushes from the server, shows them as notifications " +
			"and tells open views which collections changed.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	workerCmd.AddCommand(newWorkerRunCmd(stderr, cfg))
	workerCmd.AddCommand(newWorkerStartCmd(stdout, cfg))
	workerCmd.AddCommand(newWorkerStopCmd(stdout, cfg))
	workerCmd.AddCommand(newWorkerStatusCmd(stdout, cfg))
	return workerCmd
}

func newWorkerRunCmd(stderr io.Writer, cfg *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the push worker in the foreground",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := loadConfig(cmd, cfg)
			if err != nil {
				return err
			}
			wcfg := workerConfig(conf, configPath(cmd, cfg))
			if v, _ := cmd.Flags().GetString("pid-path"); v != "" {
				wcfg.PIDPath = v
			}
			if v, _ := cmd.Flags().GetString("socket-path"); v != "" {
				wcfg.SocketPath = v
			}
			if v, _ := cmd.Flags().GetString("log-path"); v != "" {
				wcfg.LogPath = v
			}
			if cmd.Flags().Changed("idle-timeout") {
				wcfg.IdleTimeout, _ = cmd.Flags().GetDuration("idle-timeout")
			}

			if worker.IsRunning(wcfg.PIDPath, wcfg.SocketPath) {
				return fmt.Errorf("worker already running (socket %s)", wcfg.SocketPath)
			}

			logger := utils.NewDiscardLogger()
			if conf.IsBackgroundLoggingEnabled() {
				if wcfg.LogPath != "" {
					logger, err = utils.NewBackgroundLoggerWithPath(wcfg.LogPath)
				} else {
					logger, err = utils.NewBackgroundLogger()
				}
				if err != nil {
					_, _ = fmt.Fprintf(stderr, "Warning: worker log disabled: %v\n", err)
					logger = utils.NewDiscardLogger()
				}
			}
			defer logger.Close()

			notifier, err := newNotificationManager(conf)
			if err != nil {
				return err
			}
			defer func() { _ = notifier.Close() }()

			opts := []worker.Option{worker.WithNotifier(notifier), worker.WithLogger(logger)}
			if conf.Sync.WebSocketURL != "" {
				info, err := newCredentialManager(cfg).Resolve(cmd.Context(), conf.API.BaseURL, conf.API.UserID)
				if err != nil {
					return err
				}
				upstream := newWebSocketTransport(conf, info.UserID)
				defer func() { _ = upstream.Close() }()
				opts = append(opts, worker.WithUpstream(upstream))
			}

			err = worker.New(wcfg, opts...).Run(cmd.Context())
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}

	cmd.Flags().String("pid-path", "", "PID file (default from worker.pid_path)")
	cmd.Flags().String("socket-path", "", "Unix socket (default from worker.socket_path)")
	cmd.Flags().String("log-path", "", "Log file (default from worker.log_path)")
	cmd.Flags().Duration("idle-timeout", config.DefaultWorkerIdleTimeout, "Exit after this long without clients; 0 keeps running")
	return cmd
}

func newWorkerStartCmd(stdout io.Writer, cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the push worker in the background",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := loadConfig(cmd, cfg)
			if err != nil {
				return err
			}
			socketPath, pidPath := workerPaths(conf)
			if worker.IsRunning(pidPath, socketPath) {
				_, _ = fmt.Fprintln(stdout, "Worker already running")
				return nil
			}
			if err := startWorker(conf, configPath(cmd, cfg)); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(stdout, "Worker started (socket %s)\n", socketPath)
			return nil
		},
	}
}

func newWorkerStopCmd(stdout io.Writer, cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the push worker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := loadConfig(cmd, cfg)
			if err != nil {
				return err
			}
			client, err := workerClient(conf)
			if err != nil {
				return err
			}
			if err := client.Stop(); err != nil {
				return fmt.Errorf("failed to stop worker: %w", err)
			}
			_, _ = fmt.Fprintln(stdout, "Worker stopped")
			return nil
		},
	}
}

func newWorkerStatusCmd(stdout io.Writer, cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show push worker status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := loadConfig(cmd, cfg)
			if err != nil {
				return err
			}
			jsonOutput, _ := cmd.Flags().GetBool("json")

			client, err := workerClient(conf)
			if err != nil {
				if jsonOutput {
					return writeJSON(stdout, worker.Response{Status: "ok", Running: false})
				}
				return err
			}
			resp, err := client.Status()
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(stdout, resp)
			}

			lastPush := resp.LastPush
			if lastPush == "" {
				lastPush = "never"
			}
			_, _ = fmt.Fprintf(stdout, "Worker running (pid %d)\n", resp.PID)
			_, _ = fmt.Fprintf(stdout, "  Pushes:      %d\n", resp.Pushes)
			_, _ = fmt.Fprintf(stdout, "  Subscribers: %d\n", resp.Subscribers)
			_, _ = fmt.Fprintf(stdout, "  Last push:   %s\n", lastPush)
			return nil
		},
	}
}

// channelFor maps a resource name to its invalidation channel. Anything
// else is used as a channel name verbatim.
func channelFor(name string) string {
	switch name {
	case backend.ResourceEvents:
		return backend.ChannelEvents
	case backend.ResourceTodos:
		return backend.ChannelTodos
	case backend.ResourceMemos:
		return backend.ChannelMemos
	}
	return name
}

func newPushCmd(stdout io.Writer, cfg *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "push [events|todos|memos|channel]",
		Short: "Deliver a push through the worker",
		Long: "Hand a push to the running worker. It shows a notification and, when a collection or " +
			"channel is named, tells open views to refresh it. With --test a notification is sent " +
			"directly, without the worker.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := loadConfig(cmd, cfg)
			if err != nil {
				return err
			}
			title, _ := cmd.Flags().GetString("title")
			body, _ := cmd.Flags().GetString("body")
			url, _ := cmd.Flags().GetString("url")

			if test, _ := cmd.Flags().GetBool("test"); test {
				notifier, err := newNotificationManager(conf)
				if err != nil {
					return err
				}
				defer func() { _ = notifier.Close() }()
				if notifier.ChannelCount() == 0 {
					return utils.WrapWithSuggestion(errors.New("no notification channels enabled"),
						"Enable notification.os_notification or notification.log_notification")
				}
				if title == "" {
					title = worker.DefaultPushTitle
				}
				if body == "" {
					body = "Test notification"
				}
				if err := notifier.Send(notification.Notification{
					Type:      notification.NotifyTest,
					Title:     title,
					Message:   body,
					URL:       url,
					Timestamp: time.Now(),
				}); err != nil {
					return err
				}
				_, _ = fmt.Fprintf(stdout, "Test notification sent to %d channel(s)\n", notifier.ChannelCount())
				return nil
			}

			client, err := workerClient(conf)
			if err != nil {
				return err
			}
			push := worker.Push{Title: title, Body: body, URL: url}
			if len(args) == 1 {
				push.Channel = channelFor(strings.TrimSpace(args[0]))
			}
			resp, err := client.Push(push)
			if err != nil {
				return err
			}

			if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
				return writeJSON(stdout, resp)
			}
			if push.Channel != "" {
				_, _ = fmt.Fprintf(stdout, "Push delivered on %s, %s\n", push.Channel, resp.Message)
			} else {
				_, _ = fmt.Fprintln(stdout, "Push delivered")
			}
			return nil
		},
	}

	cmd.Flags().String("title", "", "Notification title (default \""+worker.DefaultPushTitle+"\")")
	cmd.Flags().String("body", "", "Notification body")
	cmd.Flags().String("url", "", "Link opened from the notification")
	cmd.Flags().Bool("test", false, "Send a test notification without the worker")
	return cmd
}
