// Package ratelimit provides the HTTP client used for the family hub API. It
// retries throttled requests with exponential backoff.
package ratelimit

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// Config holds configuration for the rate-limiting HTTP client.
type Config struct {
	// MaxRetries is the number of retries after a throttled response.
	// Default: 3
	MaxRetries int

	// BaseDelay is the delay before the first retry.
	// Default: 500ms
	BaseDelay time.Duration

	// MaxDelay caps the delay between retries, including Retry-After.
	// Default: 10s
	MaxDelay time.Duration

	// Timeout bounds a single attempt. Zero means no timeout.
	Timeout time.Duration

	// EnableJitter adds ±20% random jitter to computed delays.
	EnableJitter bool

	// Stats optionally records throttling events.
	Stats *Stats

	// Service names the remote side in errors.
	Service string

	// Transport overrides the underlying round tripper (tests).
	Transport http.RoundTripper
}

// DefaultConfig returns the settings used for the hub API.
func DefaultConfig() Config {
	return Config{
		MaxRetries:   3,
		BaseDelay:    500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Timeout:      15 * time.Second,
		EnableJitter: true,
		Service:      "family hub API",
	}
}

// Client is an HTTP client that retries 429 and 503 responses.
type Client struct {
	httpClient   *http.Client
	maxRetries   int
	baseDelay    time.Duration
	maxDelay     time.Duration
	enableJitter bool
	stats        *Stats
	service      string
}

// NewClient creates a client from cfg, filling in defaults for zero values.
func NewClient(cfg Config) *Client {
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	} else if maxRetries == 0 {
		maxRetries = 3
	}

	baseDelay := cfg.BaseDelay
	if baseDelay <= 0 {
		baseDelay = 500 * time.Millisecond
	}

	maxDelay := cfg.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 10 * time.Second
	}

	return &Client{
		httpClient:   &http.Client{Timeout: cfg.Timeout, Transport: cfg.Transport},
		maxRetries:   maxRetries,
		baseDelay:    baseDelay,
		maxDelay:     maxDelay,
		enableJitter: cfg.EnableJitter,
		stats:        cfg.Stats,
		service:      cfg.Service,
	}
}

// Do sends a request, retrying while the server answers 429 Too Many
// Requests or 503 Service Unavailable. body may be nil. The final response
// is returned as-is for any other status; the caller closes its body.
func (c *Client) Do(ctx context.Context, method, url string, body []byte, header http.Header) (*http.Response, error) {
	var lastRetryAfter time.Duration

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		var bodyReader *bytes.Reader
		if body != nil {
			bodyReader = bytes.NewReader(body)
		}

		var req *http.Request
		var err error
		if bodyReader != nil {
			req, err = http.NewRequestWithContext(ctx, method, url, bodyReader)
		} else {
			req, err = http.NewRequestWithContext(ctx, method, url, nil)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		for k, vs := range header {
			req.Header[k] = append([]string(nil), vs...)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		if !retryable(resp.StatusCode) {
			return resp, nil
		}
		_ = resp.Body.Close()

		if c.stats != nil {
			c.stats.RecordRateLimit()
		}
		if attempt >= c.maxRetries {
			break
		}

		retryAfter := ParseRetryAfter(resp.Header.Get("Retry-After"))
		delay := c.calculateBackoff(attempt, retryAfter)
		lastRetryAfter = delay

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	return nil, &RateLimitError{
		Service:    c.service,
		RetryAfter: lastRetryAfter,
		Attempts:   c.maxRetries + 1,
	}
}

func retryable(status int) bool {
	return status == http.StatusTooManyRequests || status == http.StatusServiceUnavailable
}

// calculateBackoff returns the wait before retry number attempt+1.
// A server-provided Retry-After wins but is still capped at maxDelay.
func (c *Client) calculateBackoff(attempt int, retryAfter *time.Duration) time.Duration {
	if retryAfter != nil {
		if *retryAfter > c.maxDelay {
			return c.maxDelay
		}
		return *retryAfter
	}

	delay := c.baseDelay * time.Duration(math.Pow(2, float64(attempt)))
	if delay > c.maxDelay {
		delay = c.maxDelay
	}

	if c.enableJitter {
		delay = time.Duration(float64(delay) * (0.8 + rand.Float64()*0.4))
	}
	return delay
}

// RateLimitError is returned when the server keeps throttling after all
// retries.
type RateLimitError struct {
	Service    string
	RetryAfter time.Duration
	Attempts   int
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	service := e.Service
	if service == "" {
		service = "API"
	}
	return fmt.Sprintf("%s rate limit exceeded after %d attempts", service, e.Attempts)
}

// ParseRetryAfter parses a Retry-After header in either delta-seconds or
// HTTP-date form. It returns nil for empty or invalid values.
func ParseRetryAfter(value string) *time.Duration {
	if value == "" {
		return nil
	}

	if seconds, err := strconv.ParseInt(value, 10, 64); err == nil {
		if seconds < 0 {
			return nil
		}
		d := time.Duration(seconds) * time.Second
		return &d
	}

	if t, err := http.ParseTime(value); err == nil {
		d := time.Until(t)
		if d < 0 {
			d = 0
		}
		return &d
	}

	return nil
}

// Stats counts throttled responses.
type Stats struct {
	mu              sync.RWMutex
	rateLimitCount  int64
	lastRateLimitAt time.Time
}

// NewStats creates an empty Stats.
func NewStats() *Stats {
	return &Stats{}
}

// RecordRateLimit records one throttled response.
func (s *Stats) RecordRateLimit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rateLimitCount++
	s.lastRateLimitAt = time.Now()
}

// RateLimitCount returns the number of throttled responses seen.
func (s *Stats) RateLimitCount() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rateLimitCount
}

// LastRateLimitTime returns when the last throttled response arrived.
func (s *Stats) LastRateLimitTime() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastRateLimitAt
}
