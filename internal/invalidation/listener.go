package invalidation

import (
	"errors"
	"sync"

	"famhub/internal/utils"
)

// Listener calls a callback whenever a data-changed signal for its channel
// arrives. Anything else on the transport is ignored.
type Listener struct {
	channel   string
	transport Transport

	mu       sync.Mutex
	callback func()
	cancel   func()
	started  bool
	closed   bool
}

// NewListener creates a listener for channel. transport may be nil, in which
// case the listener never fires.
func NewListener(channel string, transport Transport, callback func()) *Listener {
	return &Listener{
		channel:   channel,
		transport: transport,
		callback:  callback,
	}
}

// Channel returns the channel the listener reacts to.
func (l *Listener) Channel() string {
	return l.channel
}

// Start subscribes to the transport. A missing or unavailable transport is
// not an error: the listener just stays inert and polling keeps the data
// fresh. Other subscription failures are returned.
func (l *Listener) Start() error {
	l.mu.Lock()
	if l.started || l.closed {
		l.mu.Unlock()
		return nil
	}
	l.started = true
	l.mu.Unlock()

	if l.transport == nil {
		utils.Debugf("no invalidation transport for %s", l.channel)
		return nil
	}

	cancel, err := l.transport.Subscribe(l.handle)
	if errors.Is(err, ErrUnavailable) {
		utils.Debugf("invalidation transport unavailable for %s", l.channel)
		return nil
	}
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		cancel()
		return nil
	}
	l.cancel = cancel
	return nil
}

// Active reports whether the listener holds a live subscription.
func (l *Listener) Active() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cancel != nil
}

// SetCallback replaces the callback without resubscribing.
func (l *Listener) SetCallback(cb func()) {
	l.mu.Lock()
	l.callback = cb
	l.mu.Unlock()
}

// Close drops the subscription. Messages that arrive afterwards are ignored.
func (l *Listener) Close() {
	l.mu.Lock()
	l.closed = true
	cancel := l.cancel
	l.cancel = nil
	l.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

func (l *Listener) handle(m Message) {
	if !m.Matches(l.channel) {
		return
	}
	l.mu.Lock()
	cb, closed := l.callback, l.closed
	l.mu.Unlock()
	if closed || cb == nil {
		return
	}
	cb()
}
