package connection

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// mockWSServer accepts WebSocket connections and records inbound frames.
type mockWSServer struct {
	t        *testing.T
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu        sync.Mutex
	conns     []*websocket.Conn
	closeCode int // when non-zero, new connections are closed with this code

	connCh   chan *websocket.Conn
	received chan []byte
}

func newMockWSServer(t *testing.T) *mockWSServer {
	s := &mockWSServer{
		t:        t,
		connCh:   make(chan *websocket.Conn, 8),
		received: make(chan []byte, 64),
	}
	s.srv = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *mockWSServer) handle(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	s.mu.Lock()
	code := s.closeCode
	s.conns = append(s.conns, ws)
	s.mu.Unlock()

	s.connCh <- ws

	if code != 0 {
		deadline := time.Now().Add(time.Second)
		_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, "rejected"), deadline)
		_ = ws.Close()
		return
	}

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		select {
		case s.received <- data:
		default:
		}
	}
}

func (s *mockWSServer) url() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

func (s *mockWSServer) setCloseCode(code int) {
	s.mu.Lock()
	s.closeCode = code
	s.mu.Unlock()
}

// dropAll force-closes every accepted connection without a close frame.
func (s *mockWSServer) dropAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ws := range s.conns {
		_ = ws.Close()
	}
	s.conns = nil
}

func (s *mockWSServer) waitConn(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case ws := <-s.connCh:
		return ws
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for server-side connection")
		return nil
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.MinConnectInterval = 50 * time.Millisecond
	cfg.StabilityWindow = 30 * time.Millisecond
	cfg.BaseDelay = 10 * time.Millisecond
	cfg.AbnormalBaseDelay = 10 * time.Millisecond
	cfg.MaxDelay = 100 * time.Millisecond
	cfg.JitterMax = 0
	return cfg
}

func waitSignal(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestConnectSendReceive(t *testing.T) {
	server := newMockWSServer(t)

	opened := make(chan struct{}, 4)
	messages := make(chan []byte, 4)
	m := NewManager(testConfig(), Events{
		OnOpen:    func(key string) { opened <- struct{}{} },
		OnMessage: func(key string, data []byte) { messages <- data },
	}, nil)
	defer m.Close()

	key, err := m.Connect(context.Background(), server.url(), nil)
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	waitSignal(t, opened, "open")

	if err := m.Send(key, []byte("hello")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	select {
	case data := <-server.received:
		if string(data) != "hello" {
			t.Errorf("server received %q, want %q", data, "hello")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not receive the message")
	}

	ws := server.waitConn(t)
	if err := ws.WriteMessage(websocket.TextMessage, []byte("world")); err != nil {
		t.Fatalf("server write failed: %v", err)
	}
	select {
	case data := <-messages:
		if string(data) != "world" {
			t.Errorf("client received %q, want %q", data, "world")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("client did not receive the message")
	}
}

func TestConnectThrottled(t *testing.T) {
	server := newMockWSServer(t)

	cfg := testConfig()
	cfg.MinConnectInterval = time.Minute
	m := NewManager(cfg, Events{}, nil)
	defer m.Close()

	if _, err := m.Connect(context.Background(), server.url(), nil); err != nil {
		t.Fatalf("first Connect failed: %v", err)
	}

	_, err := m.Connect(context.Background(), server.url(), nil)
	var throttled *ThrottledError
	if !errors.As(err, &throttled) {
		t.Fatalf("second Connect error = %v, want ThrottledError", err)
	}
	if throttled.Wait <= 0 || throttled.Wait > time.Minute {
		t.Errorf("Wait = %v, want within (0, 1m]", throttled.Wait)
	}
}

func TestConnectReplacesExistingSocket(t *testing.T) {
	server := newMockWSServer(t)

	cfg := testConfig()
	cfg.MinConnectInterval = time.Millisecond
	m := NewManager(cfg, Events{}, nil)
	defer m.Close()

	key1, err := m.Connect(context.Background(), server.url(), nil)
	if err != nil {
		t.Fatalf("first Connect failed: %v", err)
	}
	first := server.waitConn(t)

	time.Sleep(5 * time.Millisecond)
	key2, err := m.Connect(context.Background(), server.url(), nil)
	if err != nil {
		t.Fatalf("second Connect failed: %v", err)
	}
	server.waitConn(t)

	if key1 != key2 {
		t.Errorf("same URL gave different keys: %q vs %q", key1, key2)
	}

	// The first server-side socket gets a close frame from the replacement.
	_ = first.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := first.ReadMessage(); err == nil {
		t.Error("replaced socket should be closed")
	}

	if err := m.Send(key2, []byte("after-replace")); err != nil {
		t.Fatalf("Send on replacement failed: %v", err)
	}
}

func TestStabilityMarksStable(t *testing.T) {
	server := newMockWSServer(t)

	stable := make(chan struct{}, 1)
	m := NewManager(testConfig(), Events{
		OnStable: func(key string) { stable <- struct{}{} },
	}, nil)
	defer m.Close()

	key, err := m.Connect(context.Background(), server.url(), nil)
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	waitSignal(t, stable, "stability window")
	if got := m.State(key); got != StateStable {
		t.Errorf("State = %q, want %q", got, StateStable)
	}
}

func TestDroppedConnectionReconnects(t *testing.T) {
	server := newMockWSServer(t)

	var mu sync.Mutex
	opens := 0
	opened := make(chan struct{}, 8)
	scheduled := make(chan struct{}, 8)

	m := NewManager(testConfig(), Events{
		OnOpen: func(key string) {
			mu.Lock()
			opens++
			mu.Unlock()
			opened <- struct{}{}
		},
		OnReconnectScheduled: func(key string, attempt int, delay time.Duration) {
			scheduled <- struct{}{}
		},
	}, nil)
	defer m.Close()

	if _, err := m.Connect(context.Background(), server.url(), nil); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	waitSignal(t, opened, "first open")

	server.dropAll()

	waitSignal(t, scheduled, "reconnect schedule")
	waitSignal(t, opened, "reconnected open")

	mu.Lock()
	defer mu.Unlock()
	if opens < 2 {
		t.Errorf("opens = %d, want >= 2", opens)
	}
}

func TestPermanentCloseCodeStopsReconnect(t *testing.T) {
	server := newMockWSServer(t)
	server.setCloseCode(websocket.ClosePolicyViolation)

	closed := make(chan CloseReason, 1)
	scheduled := make(chan struct{}, 1)
	m := NewManager(testConfig(), Events{
		OnClose: func(key string, reason CloseReason) { closed <- reason },
		OnReconnectScheduled: func(key string, attempt int, delay time.Duration) {
			scheduled <- struct{}{}
		},
	}, nil)
	defer m.Close()

	key, err := m.Connect(context.Background(), server.url(), nil)
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	select {
	case reason := <-closed:
		if reason.Code != websocket.ClosePolicyViolation {
			t.Errorf("close code = %d, want %d", reason.Code, websocket.ClosePolicyViolation)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for close")
	}

	select {
	case <-scheduled:
		t.Fatal("permanent close code must not schedule a reconnect")
	case <-time.After(100 * time.Millisecond):
	}

	if got := m.State(key); got != StateDisconnected {
		t.Errorf("State = %q, want %q", got, StateDisconnected)
	}
}

func TestDisconnectDoesNotReconnect(t *testing.T) {
	server := newMockWSServer(t)

	scheduled := make(chan struct{}, 1)
	m := NewManager(testConfig(), Events{
		OnReconnectScheduled: func(key string, attempt int, delay time.Duration) {
			scheduled <- struct{}{}
		},
	}, nil)
	defer m.Close()

	key, err := m.Connect(context.Background(), server.url(), nil)
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	server.waitConn(t)

	m.Disconnect(key)

	select {
	case <-scheduled:
		t.Fatal("Disconnect must not schedule a reconnect")
	case <-time.After(100 * time.Millisecond):
	}

	if got := m.State(key); got != StateIdle {
		t.Errorf("State = %q, want %q", got, StateIdle)
	}
	if err := m.Send(key, []byte("x")); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Send after Disconnect = %v, want ErrNotConnected", err)
	}
}

func TestGiveUpAfterBudgetThenManualReconnect(t *testing.T) {
	server := newMockWSServer(t)

	cfg := testConfig()
	cfg.MinConnectInterval = time.Millisecond
	cfg.MaxAttempts = 0 // first failure is terminal

	gaveUp := make(chan struct{}, 2)
	opened := make(chan struct{}, 4)
	m := NewManager(cfg, Events{
		OnOpen:   func(key string) { opened <- struct{}{} },
		OnGiveUp: func(key string) { gaveUp <- struct{}{} },
	}, nil)
	defer m.Close()

	key, err := m.Connect(context.Background(), server.url(), nil)
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	waitSignal(t, opened, "first open")

	server.dropAll()
	waitSignal(t, gaveUp, "give up")

	if got := m.State(key); got != StateDisconnected {
		t.Errorf("State = %q, want %q", got, StateDisconnected)
	}

	// A manual reconnect resets the budget and goes through.
	time.Sleep(5 * time.Millisecond)
	if err := m.Reconnect(context.Background(), key); err != nil {
		t.Fatalf("Reconnect failed: %v", err)
	}
	waitSignal(t, opened, "reconnected open")
}

func TestConcurrentConnectSameEndpoint(t *testing.T) {
	server := newMockWSServer(t)

	cfg := testConfig()
	cfg.MinConnectInterval = time.Millisecond
	m := NewManager(cfg, Events{}, nil)
	defer m.Close()

	// Racing Connects for one key must not corrupt the endpoint; exactly the
	// non-throttled ones succeed and a single live socket remains.
	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Connect(context.Background(), server.url(), nil)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		var throttled *ThrottledError
		switch {
		case err == nil:
			succeeded++
		case errors.As(err, &throttled):
		case errors.Is(err, ErrClosed):
			// Lost the replacement race to a later Connect.
		default:
			t.Errorf("Connect error = %v, want nil, ThrottledError, or ErrClosed", err)
		}
	}
	if succeeded == 0 {
		t.Fatal("no Connect attempt succeeded")
	}

	key := EndpointKey(server.url())
	if err := m.Send(key, []byte("still-alive")); err != nil {
		t.Fatalf("Send after racing Connects failed: %v", err)
	}
	select {
	case data := <-server.received:
		if string(data) != "still-alive" {
			t.Errorf("server received %q, want %q", data, "still-alive")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not receive the message")
	}
}

func TestSendUnknownEndpoint(t *testing.T) {
	m := NewManager(testConfig(), Events{}, nil)
	defer m.Close()

	if err := m.Send("nope", []byte("x")); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Send = %v, want ErrNotConnected", err)
	}
}
