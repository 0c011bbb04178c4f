package invalidation

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// relayServer accepts websocket connections and hands each one to serve.
func relayServer(t *testing.T, serve func(n int, conn *websocket.Conn)) (*httptest.Server, string) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	var count atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		serve(int(count.Add(1)), conn)
	}))
	t.Cleanup(srv.Close)
	return srv, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func fastConfig(url string) WebSocketConfig {
	cfg := DefaultWebSocketConfig(url)
	cfg.MinBackoff = 10 * time.Millisecond
	cfg.MaxBackoff = 40 * time.Millisecond
	return cfg
}

// holdOpen keeps the server side of a connection alive until the client
// goes away.
func holdOpen(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func TestWebSocketTransportDeliversMessages(t *testing.T) {
	_, url := relayServer(t, func(_ int, conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte("garbage"))
		_ = conn.WriteMessage(websocket.BinaryMessage, DataChanged("events:changed").Encode())
		_ = conn.WriteMessage(websocket.TextMessage, DataChanged("todos:changed").Encode())
		_ = conn.WriteMessage(websocket.TextMessage, DataChanged("events:changed").Encode())
		holdOpen(conn)
	})

	tr := NewWebSocketTransport(fastConfig(url))
	defer tr.Close()

	var calls atomic.Int32
	l := NewListener("events:changed", tr, func() { calls.Add(1) })
	if err := l.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer l.Close()

	waitFor(t, "event message", func() bool { return calls.Load() == 1 })
	time.Sleep(30 * time.Millisecond)
	if got := calls.Load(); got != 1 {
		t.Errorf("calls = %d, want 1 (binary and other-channel frames ignored)", got)
	}
	if !tr.Connected() {
		t.Error("transport should report connected")
	}
}

func TestWebSocketTransportReconnects(t *testing.T) {
	_, url := relayServer(t, func(n int, conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage, DataChanged("memos:changed").Encode())
		if n == 1 {
			return // drop the first connection
		}
		holdOpen(conn)
	})

	tr := NewWebSocketTransport(fastConfig(url))
	defer tr.Close()

	var calls atomic.Int32
	cancel, err := tr.Subscribe(func(m Message) {
		if m.Matches("memos:changed") {
			calls.Add(1)
		}
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer cancel()

	waitFor(t, "message after reconnect", func() bool { return calls.Load() >= 2 })
	if tr.Connects() < 2 {
		t.Errorf("connects = %d, want at least 2", tr.Connects())
	}
}

func TestWebSocketTransportRetriesUntilServerUp(t *testing.T) {
	var up atomic.Bool
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !up.Load() {
			http.Error(w, "not yet", http.StatusServiceUnavailable)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, DataChanged("events:changed").Encode())
		holdOpen(conn)
	}))
	defer srv.Close()

	tr := NewWebSocketTransport(fastConfig("ws" + strings.TrimPrefix(srv.URL, "http")))
	defer tr.Close()

	var got atomic.Bool
	_, _ = tr.Subscribe(func(Message) { got.Store(true) })

	time.Sleep(50 * time.Millisecond)
	if got.Load() {
		t.Fatal("no message expected while the server refuses upgrades")
	}
	up.Store(true)
	waitFor(t, "message once server accepts", got.Load)
}

func TestWebSocketTransportSendsHeaders(t *testing.T) {
	userIDs := make(chan string, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case userIDs <- r.Header.Get("x-user-id"):
		default:
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		holdOpen(conn)
	}))
	defer srv.Close()

	cfg := fastConfig("ws" + strings.TrimPrefix(srv.URL, "http"))
	cfg.Header = http.Header{"x-user-id": []string{"user-7"}}
	tr := NewWebSocketTransport(cfg)
	defer tr.Close()
	_, _ = tr.Subscribe(func(Message) {})

	select {
	case id := <-userIDs:
		if id != "user-7" {
			t.Errorf("x-user-id = %q, want user-7", id)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("server never saw a handshake")
	}
}

func TestWebSocketTransportEmptyURL(t *testing.T) {
	tr := NewWebSocketTransport(WebSocketConfig{})
	if _, err := tr.Subscribe(func(Message) {}); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Subscribe error = %v, want ErrUnavailable", err)
	}
	if err := tr.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestWebSocketTransportClose(t *testing.T) {
	_, url := relayServer(t, func(_ int, conn *websocket.Conn) { holdOpen(conn) })

	tr := NewWebSocketTransport(fastConfig(url))
	_, _ = tr.Subscribe(func(Message) {})
	waitFor(t, "connect", tr.Connected)

	done := make(chan struct{})
	go func() {
		_ = tr.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Close did not return")
	}
	if tr.Connected() {
		t.Error("transport should be disconnected after Close")
	}
	if _, err := tr.Subscribe(func(Message) {}); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Subscribe after Close error = %v, want ErrUnavailable", err)
	}
}
