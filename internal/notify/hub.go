package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Config holds notification hub settings.
type Config struct {
	HeartbeatInterval time.Duration
	SendBufferSize    int
	MaxMessageSize    int64
	WriteTimeout      time.Duration
}

// DefaultConfig returns the notification hub defaults. The heartbeat here is
// slower than the session hub's; notification subscribers are mostly idle.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: 60 * time.Second,
		SendBufferSize:    64,
		MaxMessageSize:    16 * 1024,
		WriteTimeout:      10 * time.Second,
	}
}

// subscriber is one notification listener.
type subscriber struct {
	id   string
	ws   *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once

	mu    sync.Mutex
	alive bool
}

func (s *subscriber) close() {
	s.once.Do(func() {
		close(s.done)
		_ = s.ws.Close()
	})
}

func (s *subscriber) setAlive(v bool) {
	s.mu.Lock()
	s.alive = v
	s.mu.Unlock()
}

func (s *subscriber) isAlive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alive
}

// Stats summarizes hub occupancy.
type Stats struct {
	Subscribers int
}

// Hub is the room-less broadcast hub.
type Hub struct {
	cfg      Config
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu          sync.RWMutex
	subscribers map[string]*subscriber

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewHub creates an empty notification hub.
func NewHub(cfg Config, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		cfg:         cfg,
		logger:      logger,
		subscribers: make(map[string]*subscriber),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Start launches the heartbeat sweeper.
func (h *Hub) Start(ctx context.Context) error {
	h.ctx, h.cancel = context.WithCancel(ctx)

	h.wg.Add(1)
	go h.heartbeatLoop()

	h.logger.Info("notification hub started",
		"heartbeat_interval", h.cfg.HeartbeatInterval,
	)
	return nil
}

// Stop closes all subscribers and waits for the sweeper.
func (h *Hub) Stop(ctx context.Context) error {
	if h.cancel != nil {
		h.cancel()
	}

	h.mu.Lock()
	subs := make([]*subscriber, 0, len(h.subscribers))
	for _, s := range h.subscribers {
		subs = append(subs, s)
	}
	h.subscribers = make(map[string]*subscriber)
	h.mu.Unlock()

	for _, s := range subs {
		s.close()
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.logger.Info("notification hub stopped")
	case <-ctx.Done():
		h.logger.Warn("notification hub stop timed out")
	}
	return nil
}

// HandleWS upgrades an HTTP request into a notification subscription.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) error {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("upgrade connection: %w", err)
	}

	s := &subscriber{
		id:    uuid.New().String(),
		ws:    ws,
		send:  make(chan []byte, h.cfg.SendBufferSize),
		done:  make(chan struct{}),
		alive: true,
	}

	h.mu.Lock()
	h.subscribers[s.id] = s
	count := len(h.subscribers)
	h.mu.Unlock()

	h.logger.Debug("notification subscriber added", "id", s.id, "subscribers", count)

	go h.writeLoop(s)
	go h.readLoop(s)
	return nil
}

// Publish relays bytes to every subscriber. Returns the delivery count.
func (h *Hub) Publish(data []byte) int {
	return h.broadcast(data, "")
}

// Stats returns current occupancy.
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return Stats{Subscribers: len(h.subscribers)}
}

func (h *Hub) broadcast(data []byte, excludeID string) int {
	h.mu.RLock()
	targets := make([]*subscriber, 0, len(h.subscribers))
	for _, s := range h.subscribers {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, s := range targets {
		if s.id == excludeID {
			continue
		}
		select {
		case s.send <- data:
			delivered++
		default:
			// Not draining; drop the subscriber, not the broadcast.
			h.remove(s)
		}
	}
	return delivered
}

func (h *Hub) remove(s *subscriber) {
	h.mu.Lock()
	_, present := h.subscribers[s.id]
	if present {
		delete(h.subscribers, s.id)
	}
	count := len(h.subscribers)
	h.mu.Unlock()

	if present {
		s.close()
		h.logger.Debug("notification subscriber removed", "id", s.id, "subscribers", count)
	}
}

func (h *Hub) readLoop(s *subscriber) {
	defer h.remove(s)

	s.ws.SetReadLimit(h.cfg.MaxMessageSize)
	readTimeout := 2*h.cfg.HeartbeatInterval + 15*time.Second
	_ = s.ws.SetReadDeadline(time.Now().Add(readTimeout))
	s.ws.SetPongHandler(func(string) error {
		_ = s.ws.SetReadDeadline(time.Now().Add(readTimeout))
		s.setAlive(true)
		return nil
	})

	for {
		_, data, err := s.ws.ReadMessage()
		if err != nil {
			return
		}
		_ = s.ws.SetReadDeadline(time.Now().Add(readTimeout))
		h.broadcast(data, s.id)
	}
}

func (h *Hub) writeLoop(s *subscriber) {
	defer s.close()

	for {
		select {
		case <-s.done:
			return
		case data := <-s.send:
			_ = s.ws.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := s.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}
}

func (h *Hub) heartbeatLoop() {
	defer h.wg.Done()

	ticker := time.NewTicker(h.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			return
		case <-ticker.C:
			h.sweep()
		}
	}
}

func (h *Hub) sweep() {
	h.mu.RLock()
	subs := make([]*subscriber, 0, len(h.subscribers))
	for _, s := range h.subscribers {
		subs = append(subs, s)
	}
	h.mu.RUnlock()

	for _, s := range subs {
		if !s.isAlive() {
			h.remove(s)
			continue
		}
		s.setAlive(false)
		deadline := time.Now().Add(h.cfg.WriteTimeout)
		if err := s.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
			h.remove(s)
		}
	}
}
