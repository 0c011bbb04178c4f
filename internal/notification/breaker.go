package notification

import (
	"sync"
	"time"
)

// DefaultCircuitBreakerThreshold is the number of consecutive failures
// before a channel is suspended.
const DefaultCircuitBreakerThreshold = 3

// DefaultCircuitBreakerCooldown is how long a suspended channel waits
// before one probe notification is let through.
const DefaultCircuitBreakerCooldown = 5 * time.Minute

// CircuitState is the state of a CircuitBreaker.
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // Sending normally
	CircuitOpen                         // Suspended
	CircuitHalfOpen                     // Cooldown over, next send is a probe
)

// String returns the state name.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreaker stops a channel that keeps failing, e.g. notify-send
// missing on a headless machine.
type CircuitBreaker struct {
	mu           sync.Mutex
	threshold    int
	cooldown     time.Duration
	failureCount int
	state        CircuitState
	openedAt     time.Time
	now          func() time.Time
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(threshold int, cooldown time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = DefaultCircuitBreakerThreshold
	}
	return &CircuitBreaker{
		threshold: threshold,
		cooldown:  cooldown,
		state:     CircuitClosed,
		now:       time.Now,
	}
}

// Allow reports whether a send should be attempted.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.advance()
	return cb.state != CircuitOpen
}

// RecordSuccess closes the breaker.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount = 0
	cb.state = CircuitClosed
}

// RecordFailure counts a failure. A failed probe reopens the breaker
// immediately.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount++
	if cb.state == CircuitHalfOpen || cb.failureCount >= cb.threshold {
		cb.state = CircuitOpen
		cb.openedAt = cb.now()
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.advance()
	return cb.state
}

// FailureCount returns the number of consecutive failures.
func (cb *CircuitBreaker) FailureCount() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failureCount
}

// advance moves an expired open breaker to half-open. Caller holds mu.
func (cb *CircuitBreaker) advance() {
	if cb.state == CircuitOpen && cb.now().Sub(cb.openedAt) >= cb.cooldown {
		cb.state = CircuitHalfOpen
	}
}
