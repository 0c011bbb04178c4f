package worker

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"famhub/internal/invalidation"
	"famhub/internal/utils"
)

const (
	dialTimeout = 500 * time.Millisecond
	ioTimeout   = 5 * time.Second
)

// Client talks to a running worker.
type Client struct {
	socketPath string
}

// NewClient creates a client for the worker listening on socketPath.
func NewClient(socketPath string) *Client {
	return &Client{socketPath: socketPath}
}

// Push hands a push payload to the worker.
func (c *Client) Push(p Push) (*Response, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return c.sendAndReceive(Message{Type: TypePush, Data: data})
}

// Status returns the worker status.
func (c *Client) Status() (*Response, error) {
	return c.sendAndReceive(Message{Type: TypeStatus})
}

// Stop asks the worker to exit and waits for the acknowledgement.
func (c *Client) Stop() error {
	_, err := c.sendAndReceive(Message{Type: TypeStop})
	return err
}

func (c *Client) sendAndReceive(msg Message) (*Response, error) {
	conn, err := net.DialTimeout("unix", c.socketPath, dialTimeout)
	if err != nil {
		return nil, err
	}
	defer func() { _ = conn.Close() }()

	_ = conn.SetWriteDeadline(time.Now().Add(ioTimeout))
	if err := json.NewEncoder(conn).Encode(msg); err != nil {
		return nil, err
	}

	_ = conn.SetReadDeadline(time.Now().Add(ioTimeout))
	var resp Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return nil, err
	}
	if resp.Status == "error" {
		return &resp, fmt.Errorf("worker: %s", resp.Message)
	}
	return &resp, nil
}

// Transport receives invalidation messages from the worker. It implements
// invalidation.Transport. The subscription connection is opened on the first
// Subscribe and re-established whenever the worker restarts, until Close.
type Transport struct {
	socketPath string
	retry      time.Duration
	bus        *invalidation.Bus

	mu        sync.Mutex
	started   bool
	closed    bool
	cancel    context.CancelFunc
	done      chan struct{}
	connected atomic.Bool
}

// NewTransport creates a transport for the worker socket. retry is the wait
// between connection attempts; zero means one second.
func NewTransport(socketPath string, retry time.Duration) *Transport {
	if retry <= 0 {
		retry = time.Second
	}
	return &Transport{
		socketPath: socketPath,
		retry:      retry,
		bus:        invalidation.NewBus(),
		done:       make(chan struct{}),
	}
}

// Subscribe implements invalidation.Transport.
func (t *Transport) Subscribe(fn func(invalidation.Message)) (func(), error) {
	if t.socketPath == "" {
		return nil, invalidation.ErrUnavailable
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, invalidation.ErrUnavailable
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

// Connected reports whether the subscription connection is open.
func (t *Transport) Connected() bool {
	return t.connected.Load()
}

// Close drops the connection and all subscribers.
func (t *Transport) Close() error {
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

func (t *Transport) run(ctx context.Context) {
	defer close(t.done)

	var dialer net.Dialer
	for {
		conn, err := dialer.DialContext(ctx, "unix", t.socketPath)
		if err == nil {
			err = t.stream(ctx, conn)
		}
		if ctx.Err() != nil {
			return
		}
		utils.Debugf("worker subscription %s: %v (retry in %s)", t.socketPath, err, t.retry)

		timer := time.NewTimer(t.retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (t *Transport) stream(ctx context.Context, conn net.Conn) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
		case <-stop:
		}
		_ = conn.Close()
	}()

	_ = conn.SetWriteDeadline(time.Now().Add(ioTimeout))
	if err := json.NewEncoder(conn).Encode(Message{Type: TypeSubscribe}); err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Time{})

	scanner := bufio.NewScanner(conn)
	if !scanner.Scan() {
		return fmt.Errorf("no subscription acknowledgement: %w", scanner.Err())
	}
	var ack Response
	if err := json.Unmarshal(scanner.Bytes(), &ack); err != nil || ack.Status != "ok" {
		return fmt.Errorf("subscription refused: %s", scanner.Text())
	}

	t.connected.Store(true)
	defer t.connected.Store(false)
	utils.Debugf("subscribed to worker at %s", t.socketPath)

	for scanner.Scan() {
		m, ok := invalidation.Decode(scanner.Bytes())
		if !ok {
			utils.Debugf("ignoring malformed worker message: %q", scanner.Text())
			continue
		}
		t.bus.Publish(m)
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return fmt.Errorf("worker closed the subscription")
}
