package invalidation

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"famhub/internal/utils"
)

const maxMessageSize = 64 * 1024

// WebSocketConfig configures a WebSocketTransport.
type WebSocketConfig struct {
	URL              string        // ws:// or wss:// endpoint; empty disables the transport
	Header           http.Header   // Extra handshake headers (x-user-id)
	HandshakeTimeout time.Duration // Dial timeout
	MinBackoff       time.Duration // First reconnect delay
	MaxBackoff       time.Duration // Reconnect delay cap
}

// DefaultWebSocketConfig returns reconnect settings suitable for a LAN or
// hosted server.
func DefaultWebSocketConfig(url string) WebSocketConfig {
	return WebSocketConfig{
		URL:              url,
		HandshakeTimeout: 10 * time.Second,
		MinBackoff:       time.Second,
		MaxBackoff:       time.Minute,
	}
}

// WebSocketTransport receives invalidation messages from a server over a
// websocket. The connection is opened on the first Subscribe and kept up,
// reconnecting with capped exponential backoff, until Close.
type WebSocketTransport struct {
	cfg    WebSocketConfig
	bus    *Bus
	dialer websocket.Dialer

	mu        sync.Mutex
	started   bool
	closed    bool
	cancel    context.CancelFunc
	done      chan struct{}
	connected atomic.Bool
	connects  atomic.Int32
}

// NewWebSocketTransport creates a transport. Nothing is dialed yet.
func NewWebSocketTransport(cfg WebSocketConfig) *WebSocketTransport {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = time.Second
	}
	if cfg.MaxBackoff < cfg.MinBackoff {
		cfg.MaxBackoff = cfg.MinBackoff
	}
	return &WebSocketTransport{
		cfg:    cfg,
		bus:    NewBus(),
		dialer: websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout},
		done:   make(chan struct{}),
	}
}

// Subscribe implements Transport.
func (t *WebSocketTransport) Subscribe(fn func(Message)) (func(), error) {
	if t.cfg.URL == "" {
		return nil, ErrUnavailable
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrUnavailable
	}

	cancel, err := t.bus.Subscribe(fn)
	if err != nil {
		return nil, err
	}
	if !t.started {
		t.started = true
		var ctx context.Context
		ctx, t.cancel = context.WithCancel(context.Background())
		go t.run(ctx)
	}
	return cancel, nil
}

// Connected reports whether a websocket connection is currently open.
func (t *WebSocketTransport) Connected() bool {
	return t.connected.Load()
}

// Connects returns how many connections have been established so far.
func (t *WebSocketTransport) Connects() int {
	return int(t.connects.Load())
}

// Close stops reconnecting, closes the connection and drops subscribers.
func (t *WebSocketTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	started := t.started
	if t.cancel != nil {
		t.cancel()
	}
	t.mu.Unlock()

	if started {
		<-t.done
	}
	t.bus.Close()
	return nil
}

func (t *WebSocketTransport) run(ctx context.Context) {
	defer close(t.done)

	backoff := t.cfg.MinBackoff
	for {
		conn, _, err := t.dialer.DialContext(ctx, t.cfg.URL, t.cfg.Header)
		if err == nil {
			backoff = t.cfg.MinBackoff
			t.connects.Add(1)
			t.connected.Store(true)
			utils.Debugf("invalidation websocket connected to %s", t.cfg.URL)

			err = t.read(ctx, conn)

			t.connected.Store(false)
		}
		if ctx.Err() != nil {
			return
		}
		utils.Debugf("invalidation websocket %s: %v (retry in %s)", t.cfg.URL, err, backoff)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		backoff *= 2
		if backoff > t.cfg.MaxBackoff {
			backoff = t.cfg.MaxBackoff
		}
	}
}

// read pumps messages from conn into the bus until the connection fails or
// ctx is cancelled.
func (t *WebSocketTransport) read(ctx context.Context, conn *websocket.Conn) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			_ = conn.Close()
		case <-stop:
			_ = conn.Close()
		}
	}()

	conn.SetReadLimit(maxMessageSize)
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if kind != websocket.TextMessage {
			continue
		}
		m, ok := Decode(data)
		if !ok {
			utils.Debugf("ignoring malformed invalidation message: %q", data)
			continue
		}
		t.bus.Publish(m)
	}
}
