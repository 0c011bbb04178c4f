package credentials

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/zalando/go-keyring"
	"golang.org/x/term"
)

// ErrKeyringNotAvailable is returned when the OS has no usable keyring
// (no D-Bus secret service, headless CI).
var ErrKeyringNotAvailable = errors.New("system keyring not available")

func isNotFound(err error) bool {
	return errors.Is(err, keyring.ErrNotFound) || strings.Contains(err.Error(), "not found")
}

// MockKeyring is a test implementation of the Keyring interface
type MockKeyring struct {
	mu    sync.RWMutex
	store map[string]map[string]string // service -> account -> password
}

// NewMockKeyring creates a new mock keyring for testing
func NewMockKeyring() *MockKeyring {
	return &MockKeyring{
		store: make(map[string]map[string]string),
	}
}

// Set stores a password in the mock keyring
func (m *MockKeyring) Set(service, account, password string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.store[service] == nil {
		m.store[service] = make(map[string]string)
	}
	m.store[service][account] = password
	return nil
}

// Get retrieves a password from the mock keyring
func (m *MockKeyring) Get(service, account string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if accounts, ok := m.store[service]; ok {
		if password, ok := accounts[account]; ok {
			return password, nil
		}
	}
	return "", keyring.ErrNotFound
}

// Delete removes a password from the mock keyring
func (m *MockKeyring) Delete(service, account string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if accounts, ok := m.store[service]; ok {
		if _, ok := accounts[account]; ok {
			delete(accounts, account)
			return nil
		}
	}
	return keyring.ErrNotFound
}

// systemKeyring stores secrets in the OS keyring via go-keyring.
type systemKeyring struct{}

func (s *systemKeyring) Set(service, account, password string) error {
	return wrapKeyringError(keyring.Set(service, account, password))
}

func (s *systemKeyring) Get(service, account string) (string, error) {
	secret, err := keyring.Get(service, account)
	return secret, wrapKeyringError(err)
}

func (s *systemKeyring) Delete(service, account string) error {
	return wrapKeyringError(keyring.Delete(service, account))
}

// wrapKeyringError maps backend failures (no secret service on the bus)
// to ErrKeyringNotAvailable and leaves not-found untouched.
func wrapKeyringError(err error) error {
	if err == nil || errors.Is(err, keyring.ErrNotFound) {
		return err
	}
	if errors.Is(err, keyring.ErrUnsupportedPlatform) {
		return ErrKeyringNotAvailable
	}
	msg := err.Error()
	if strings.Contains(msg, "dbus") || strings.Contains(msg, "DBus") ||
		strings.Contains(msg, "secret service") || strings.Contains(msg, "org.freedesktop.secrets") {
		return ErrKeyringNotAvailable
	}
	return fmt.Errorf("keyring: %w", err)
}

// stdinTerminal reads hidden input from the controlling terminal.
type stdinTerminal struct {
	fd int
}

func (s stdinTerminal) ReadPassword() (string, error) {
	data, err := term.ReadPassword(s.fd)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// NewTerminalReader returns a hidden-input reader for stdin, or nil when
// stdin is not a terminal.
func NewTerminalReader() TerminalReader {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return nil
	}
	return stdinTerminal{fd: fd}
}
