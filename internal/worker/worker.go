// Package worker provides the push relay: a background process that receives
// push payloads, shows a notification for each and tells every open view
// which collection changed. Views connect over a unix socket and receive
// invalidation messages as newline-delimited JSON.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"famhub/internal/invalidation"
	"famhub/internal/notification"
	"famhub/internal/utils"
)

// Message types understood by the worker.
const (
	TypePush      = "push"
	TypeSubscribe = "subscribe"
	TypeStatus    = "status"
	TypeStop      = "stop"
)

// Push defaults applied when a payload leaves them out.
const (
	DefaultPushTitle = "Family Hub"
	DefaultPushBody  = "You have a new notification"
	DefaultPushURL   = "/"
)

// subscriberBuffer is how many messages may queue for a slow subscriber
// before new ones are dropped for it.
const subscriberBuffer = 32

// Config holds worker configuration.
type Config struct {
	PIDPath     string        // Path to PID file
	SocketPath  string        // Path to unix socket
	LogPath     string        // Path to log file; empty means a PID-specific temp file
	IdleTimeout time.Duration // Exit after this long with no clients; zero disables
	Executable  string        // Explicit executable for Fork (tests)
	ConfigPath  string        // Passed through by Fork
}

// Message is a request from a client.
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Response is the worker's reply.
type Response struct {
	Status      string `json:"status"` // "ok", "error"
	Message     string `json:"message,omitempty"`
	Running     bool   `json:"running"`
	Pushes      int    `json:"pushes,omitempty"`
	Subscribers int    `json:"subscribers,omitempty"`
	LastPush    string `json:"last_push,omitempty"`
	PID         int    `json:"pid,omitempty"`
}

// Push is a push payload.
type Push struct {
	Title   string `json:"title,omitempty"`
	Body    string `json:"body,omitempty"`
	URL     string `json:"url,omitempty"`
	Channel string `json:"channel,omitempty"`
}

// ParsePush decodes a payload. Anything that is not a JSON object becomes
// the body of a default push; missing fields get defaults.
func ParsePush(data []byte) Push {
	var p Push
	trimmed := strings.TrimSpace(string(data))
	if err := json.Unmarshal(data, &p); err != nil {
		var s string
		if json.Unmarshal(data, &s) == nil {
			trimmed = s
		}
		p = Push{Body: trimmed}
	}
	if p.Title == "" {
		p.Title = DefaultPushTitle
	}
	if p.Body == "" {
		p.Body = DefaultPushBody
	}
	if p.URL == "" {
		p.URL = DefaultPushURL
	}
	return p
}

type subscriber struct {
	out  chan invalidation.Message
	conn net.Conn
}

// Server is a running worker.
type Server struct {
	cfg      Config
	notifier notification.NotificationManager
	upstream invalidation.Transport
	log      *utils.BackgroundLogger

	mu       sync.RWMutex
	pushes   int
	lastPush time.Time
	subs     map[int]*subscriber
	nextSub  int

	listener net.Listener
	stopOnce sync.Once
	stopChan chan struct{}
	activity chan struct{}
	conns    sync.WaitGroup
}

// Option configures a Server.
type Option func(*Server)

// WithNotifier sets where push notifications are shown.
func WithNotifier(n notification.NotificationManager) Option {
	return func(s *Server) {
		s.notifier = n
	}
}

// WithUpstream relays every message from t to the worker's subscribers.
func WithUpstream(t invalidation.Transport) Option {
	return func(s *Server) {
		s.upstream = t
	}
}

// WithLogger sets the background logger.
func WithLogger(l *utils.BackgroundLogger) Option {
	return func(s *Server) {
		s.log = l
	}
}

// New creates a worker. Nothing listens until Run.
func New(cfg Config, opts ...Option) *Server {
	s := &Server{
		cfg:      cfg,
		subs:     make(map[int]*subscriber),
		stopChan: make(chan struct{}),
		activity: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = utils.NewDiscardLogger()
	}
	return s
}

// Run writes the PID file, listens on the socket and serves until ctx is
// cancelled, a stop message arrives, SIGINT/SIGTERM is received or the idle
// timeout elapses.
func (s *Server) Run(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(s.cfg.PIDPath), 0700); err != nil {
		return fmt.Errorf("failed to create PID directory: %w", err)
	}
	if err := os.WriteFile(s.cfg.PIDPath, []byte(strconv.Itoa(os.Getpid())), 0600); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.cfg.SocketPath), 0700); err != nil {
		_ = os.Remove(s.cfg.PIDPath)
		return fmt.Errorf("failed to create socket directory: %w", err)
	}
	_ = os.Remove(s.cfg.SocketPath)

	listener, err := net.Listen("unix", s.cfg.SocketPath)
	if err != nil {
		_ = os.Remove(s.cfg.PIDPath)
		return fmt.Errorf("failed to create unix socket: %w", err)
	}
	s.listener = listener

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigChan)

	s.log.Printf("Worker started (PID: %d, socket: %s)", os.Getpid(), s.cfg.SocketPath)

	if s.upstream != nil {
		cancel, err := s.upstream.Subscribe(s.relay)
		switch {
		case err == nil:
			defer cancel()
		case errors.Is(err, invalidation.ErrUnavailable):
			s.log.Printf("No upstream configured, relaying local pushes only")
		default:
			s.log.Printf("Upstream subscription failed: %v", err)
		}
	}

	go s.acceptLoop()

	var idleTimer *time.Timer
	var idleC <-chan time.Time
	if s.cfg.IdleTimeout > 0 {
		idleTimer = time.NewTimer(s.cfg.IdleTimeout)
		defer idleTimer.Stop()
		idleC = idleTimer.C
	}

	for {
		select {
		case <-ctx.Done():
			s.log.Printf("Context cancelled")
			s.cleanup()
			return nil

		case sig := <-sigChan:
			s.log.Printf("Received %s", sig)
			s.cleanup()
			return nil

		case <-s.stopChan:
			s.log.Printf("Stop requested")
			s.cleanup()
			return nil

		case <-s.activity:
			if idleTimer != nil {
				if !idleTimer.Stop() {
					select {
					case <-idleTimer.C:
					default:
					}
				}
				idleTimer.Reset(s.cfg.IdleTimeout)
			}

		case <-idleC:
			if s.Subscribers() > 0 {
				idleTimer.Reset(s.cfg.IdleTimeout)
				continue
			}
			s.log.Printf("Idle timeout reached, shutting down")
			s.cleanup()
			return nil
		}
	}
}

// Stop asks Run to return.
func (s *Server) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
}

// Subscribers returns the number of connected subscribers.
func (s *Server) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

// HandlePush shows a notification for p and, if it names a channel, sends
// DATA_CHANGED for that channel to every subscriber.
func (s *Server) HandlePush(p Push) int {
	s.mu.Lock()
	s.pushes++
	s.lastPush = time.Now()
	count := s.pushes
	s.mu.Unlock()

	s.log.Printf("Push %d: %q (channel %q)", count, p.Title, p.Channel)

	if s.notifier != nil {
		err := s.notifier.Send(notification.Notification{
			Type:      notification.NotifyPush,
			Title:     p.Title,
			Message:   p.Body,
			URL:       p.URL,
			Timestamp: time.Now(),
		})
		if err != nil {
			s.log.Printf("Notification failed: %v", err)
		}
	}

	if p.Channel == "" {
		return 0
	}
	return s.broadcast(invalidation.DataChanged(p.Channel))
}

func (s *Server) relay(m invalidation.Message) {
	s.log.Printf("Upstream %s on %q", m.Type, m.Channel)
	s.broadcast(m)
}

// broadcast queues m for every subscriber and returns how many got it.
func (s *Server) broadcast(m invalidation.Message) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	delivered := 0
	for id, sub := range s.subs {
		select {
		case sub.out <- m:
			delivered++
		default:
			s.log.Printf("Subscriber %d is not keeping up, dropped %s", id, m.Channel)
		}
	}
	return delivered
}

func (s *Server) status() Response {
	s.mu.RLock()
	defer s.mu.RUnlock()
	resp := Response{
		Status:      "ok",
		Running:     true,
		Pushes:      s.pushes,
		Subscribers: len(s.subs),
		PID:         os.Getpid(),
	}
	if !s.lastPush.IsZero() {
		resp.LastPush = s.lastPush.Format(time.RFC3339)
	}
	return resp
}

func (s *Server) touch() {
	select {
	case s.activity <- struct{}{}:
	default:
	}
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.stopChan:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Printf("Accept error: %v", err)
			continue
		}
		s.conns.Add(1)
		go func() {
			defer s.conns.Done()
			s.handleConnection(conn)
		}()
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer func() { _ = conn.Close() }()

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	encoder := json.NewEncoder(conn)

	var msg Message
	if err := json.NewDecoder(conn).Decode(&msg); err != nil {
		return
	}
	s.touch()

	var resp Response
	switch msg.Type {
	case TypePush:
		p := ParsePush(msg.Data)
		delivered := s.HandlePush(p)
		resp = s.status()
		resp.Message = fmt.Sprintf("delivered to %d subscriber(s)", delivered)

	case TypeStatus:
		resp = s.status()

	case TypeSubscribe:
		_ = conn.SetReadDeadline(time.Time{})
		s.serveSubscriber(conn, encoder)
		return

	case TypeStop:
		resp = Response{Status: "ok", Running: false}
		_ = encoder.Encode(resp)
		s.Stop()
		return

	default:
		resp = Response{Status: "error", Running: true, Message: fmt.Sprintf("unknown message type %q", msg.Type)}
	}

	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_ = encoder.Encode(resp)
}

// serveSubscriber acknowledges the subscription and streams messages until
// the client hangs up or the worker stops.
func (s *Server) serveSubscriber(conn net.Conn, encoder *json.Encoder) {
	sub := &subscriber{out: make(chan invalidation.Message, subscriberBuffer), conn: conn}

	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = sub
	s.mu.Unlock()
	s.log.Printf("Subscriber %d connected", id)

	defer func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
		s.touch()
		s.log.Printf("Subscriber %d disconnected", id)
	}()

	if err := encoder.Encode(Response{Status: "ok", Running: true}); err != nil {
		return
	}

	// The client never writes after subscribing; a read returning means it
	// went away.
	gone := make(chan struct{})
	go func() {
		_, _ = conn.Read(make([]byte, 1))
		close(gone)
	}()

	for {
		select {
		case m := <-sub.out:
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := encoder.Encode(m); err != nil {
				return
			}
		case <-gone:
			return
		case <-s.stopChan:
			return
		}
	}
}

func (s *Server) cleanup() {
	s.Stop()
	if s.listener != nil {
		_ = s.listener.Close()
	}

	s.mu.RLock()
	for _, sub := range s.subs {
		_ = sub.conn.Close()
	}
	s.mu.RUnlock()
	s.conns.Wait()

	s.log.Printf("Worker stopped")

	_ = os.Remove(s.cfg.PIDPath)
	_ = os.Remove(s.cfg.SocketPath)
}
