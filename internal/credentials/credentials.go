// Package credentials resolves which hub user the client acts as. The user
// id is read from the environment, the OS keyring or the config file, in
// that order.
package credentials

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// EnvUserID overrides every other source.
const EnvUserID = "FAMHUB_USER_ID"

// Service is the keyring service name. Accounts are server base URLs.
const Service = "famhub"

// Source indicates where credentials were retrieved from
type Source string

const (
	SourceEnvironment Source = "environment"
	SourceKeyring     Source = "keyring"
	SourceConfig      Source = "config"
	SourceNone        Source = "none"
)

// CredentialInfo contains credential information returned by Resolve
type CredentialInfo struct {
	Source Source // Where the user id came from
	Server string // Server the id is stored for
	UserID string
	Found  bool
}

// JSON serializes the credential info to JSON
func (c *CredentialInfo) JSON() ([]byte, error) {
	output := struct {
		Server string `json:"server"`
		UserID string `json:"user_id,omitempty"`
		Source string `json:"source"`
		Found  bool   `json:"found"`
	}{
		Server: c.Server,
		UserID: c.UserID,
		Source: string(c.Source),
		Found:  c.Found,
	}
	return json.Marshal(output)
}

// Keyring is the interface for keyring operations
type Keyring interface {
	Set(service, account, password string) error
	Get(service, account string) (string, error)
	Delete(service, account string) error
}

// Manager handles credential operations
type Manager struct {
	keyring Keyring
	getenv  func(string) string
}

// ManagerOption is a functional option for Manager
type ManagerOption func(*Manager)

// WithKeyring sets a custom keyring implementation
func WithKeyring(k Keyring) ManagerOption {
	return func(m *Manager) {
		m.keyring = k
	}
}

// WithEnv sets the environment lookup (tests).
func WithEnv(getenv func(string) string) ManagerOption {
	return func(m *Manager) {
		m.getenv = getenv
	}
}

// NewManager creates a new credential manager
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		keyring: &systemKeyring{},
		getenv:  os.Getenv,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// normalizeServer strips trailing slashes so "http://hub/" and "http://hub"
// share a keyring entry.
func normalizeServer(server string) string {
	return strings.TrimRight(strings.TrimSpace(server), "/")
}

// Set stores the user id for server in the keyring
func (m *Manager) Set(ctx context.Context, server, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return errors.New("user id must not be empty")
	}
	return m.keyring.Set(Service, normalizeServer(server), userID)
}

// Resolve finds the user id for server. configUserID is the value from the
// config file, used when neither the environment nor the keyring has one.
func (m *Manager) Resolve(ctx context.Context, server, configUserID string) (*CredentialInfo, error) {
	server = normalizeServer(server)

	if id := strings.TrimSpace(m.getenv(EnvUserID)); id != "" {
		return &CredentialInfo{Source: SourceEnvironment, Server: server, UserID: id, Found: true}, nil
	}

	id, err := m.keyring.Get(Service, server)
	switch {
	case err == nil && id != "":
		return &CredentialInfo{Source: SourceKeyring, Server: server, UserID: id, Found: true}, nil
	case err != nil && !isNotFound(err) && !errors.Is(err, ErrKeyringNotAvailable):
		return nil, fmt.Errorf("failed to read keyring: %w", err)
	}

	if id := strings.TrimSpace(configUserID); id != "" {
		return &CredentialInfo{Source: SourceConfig, Server: server, UserID: id, Found: true}, nil
	}

	return &CredentialInfo{Source: SourceNone, Server: server}, nil
}

// Delete removes the stored user id for server
func (m *Manager) Delete(ctx context.Context, server string) error {
	err := m.keyring.Delete(Service, normalizeServer(server))
	// Idempotent: return nil if not found
	if err != nil && isNotFound(err) {
		return nil
	}
	return err
}

// TerminalReader reads a line without echoing it.
type TerminalReader interface {
	ReadPassword() (string, error)
}

// PromptUserID asks for a user id. When tty is non-nil the input is hidden;
// otherwise a line is read from reader.
func PromptUserID(reader io.Reader, writer io.Writer, server string, tty TerminalReader) (string, error) {
	_, _ = fmt.Fprintf(writer, "User id for %s: ", server)

	if tty != nil {
		id, err := tty.ReadPassword()
		_, _ = fmt.Fprintln(writer)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(id), nil
	}

	scanner := bufio.NewScanner(reader)
	if scanner.Scan() {
		return strings.TrimSpace(scanner.Text()), nil
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return "", fmt.Errorf("no input received")
}
