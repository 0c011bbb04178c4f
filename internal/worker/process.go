package worker

import (
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// GetSocketPath returns the default socket path.
func GetSocketPath() string {
	if runtimeDir := os.Getenv("XDG_RUNTIME_DIR"); runtimeDir != "" {
		return filepath.Join(runtimeDir, "famhub", "worker.sock")
	}
	return fmt.Sprintf("/tmp/famhub-worker-%d.sock", os.Getuid())
}

// GetPIDPath returns the default PID file path.
func GetPIDPath() string {
	if runtimeDir := os.Getenv("XDG_RUNTIME_DIR"); runtimeDir != "" {
		return filepath.Join(runtimeDir, "famhub", "worker.pid")
	}
	return fmt.Sprintf("/tmp/famhub-worker-%d.pid", os.Getuid())
}

// Fork starts a detached "famhub worker run" process.
func Fork(cfg Config) error {
	executable := cfg.Executable
	if executable == "" {
		var err error
		executable, err = os.Executable()
		if err != nil {
			return fmt.Errorf("failed to get executable path: %w", err)
		}
	}

	args := []string{
		"worker", "run",
		"--pid-path", cfg.PIDPath,
		"--socket-path", cfg.SocketPath,
	}
	if cfg.LogPath != "" {
		args = append(args, "--log-path", cfg.LogPath)
	}
	if cfg.IdleTimeout > 0 {
		args = append(args, "--idle-timeout", cfg.IdleTimeout.String())
	}
	if cfg.ConfigPath != "" {
		args = append(args, "--config", cfg.ConfigPath)
	}

	cmd := exec.Command(executable, args...)
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	cmd.Env = os.Environ()

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start worker process: %w", err)
	}
	if err := cmd.Process.Release(); err != nil {
		return fmt.Errorf("failed to release worker process: %w", err)
	}
	return nil
}

// IsRunning checks the PID file and the socket. A PID file left behind by a
// dead process is removed.
func IsRunning(pidPath, socketPath string) bool {
	data, err := os.ReadFile(pidPath)
	if err != nil {
		return false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return false
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// FindProcess always succeeds on Unix; signal 0 checks existence.
	if err := process.Signal(syscall.Signal(0)); err != nil {
		_ = os.Remove(pidPath)
		_ = os.Remove(socketPath)
		return false
	}

	conn, err := net.DialTimeout("unix", socketPath, 100*time.Millisecond)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
