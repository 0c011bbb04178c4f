// Package rest implements the backend collaborators over the family hub's
// JSON REST API.
package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"famhub/internal/ratelimit"
)

// UserHeader carries the acting user's id on every request.
const UserHeader = "x-user-id"

// DefaultErrorMessage is used when a failed response has no error text.
const DefaultErrorMessage = "Request failed"

// HealthPath is probed by Health.
const HealthPath = "/api/health"

// Config holds API connection settings.
type Config struct {
	BaseURL   string // e.g. http://localhost:3000
	UserID    string
	RateLimit ratelimit.Config
}

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status  int
	Message string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("%s (status %d)", e.Message, e.Status)
}

// IsNotFound reports whether err is an APIError with status 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// Client talks to the hub API.
type Client struct {
	baseURL *url.URL
	userID  string
	http    *ratelimit.Client
}

// NewClient validates cfg and creates a client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("api base url is required")
	}
	u, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid api base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid api base url %q: scheme must be http or https", cfg.BaseURL)
	}
	return &Client{
		baseURL: u,
		userID:  cfg.UserID,
		http:    ratelimit.NewClient(cfg.RateLimit),
	}, nil
}

// BaseURL returns the configured server address.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// Health checks that the server answers. Any 2xx counts as healthy.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, HealthPath, nil, nil, nil)
}

// do sends a JSON request and decodes a 2xx response body into out (when
// out is non-nil). Failed responses become *APIError.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.baseURL.JoinPath(path)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	header := http.Header{}
	header.Set("Accept", "application/json")
	if payload != nil {
		header.Set("Content-Type", "application/json")
	}
	if c.userID != "" {
		header.Set(UserHeader, c.userID)
	}

	resp, err := c.http.Do(ctx, method, u.String(), payload, header)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode, Message: DefaultErrorMessage}
	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64*1024)).Decode(&body); err == nil && body.Error != "" {
		apiErr.Message = body.Error
	}
	return apiErr
}
