package session

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/tablekit/schemahub/internal/room"
)

// Config holds session hub settings.
type Config struct {
	HeartbeatInterval time.Duration // ping sweep interval
	SendBufferSize    int           // per-connection outbound queue
	MaxMessageSize    int64         // read limit in bytes
	WriteTimeout      time.Duration // write deadline for sends
}

// DefaultConfig returns the hub defaults.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: 30 * time.Second,
		SendBufferSize:    256,
		MaxMessageSize:    64 * 1024,
		WriteTimeout:      10 * time.Second,
	}
}

// Hub accepts room WebSocket connections and runs the heartbeat sweep.
type Hub struct {
	cfg      Config
	registry *room.Registry
	handler  *Handler
	upgrader websocket.Upgrader
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewHub creates a session hub over the given registry and handler.
func NewHub(cfg Config, registry *room.Registry, handler *Handler, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		cfg:      cfg,
		registry: registry,
		handler:  handler,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Start launches the heartbeat sweeper.
func (hub *Hub) Start(ctx context.Context) error {
	hub.ctx, hub.cancel = context.WithCancel(ctx)

	hub.wg.Add(1)
	go hub.heartbeatLoop()

	hub.logger.Info("session hub started",
		"heartbeat_interval", hub.cfg.HeartbeatInterval,
	)
	return nil
}

// Stop shuts the hub down, closing every registered connection.
func (hub *Hub) Stop(ctx context.Context) error {
	hub.logger.Info("stopping session hub")

	if hub.cancel != nil {
		hub.cancel()
	}

	for _, h := range hub.registry.Handles() {
		h.Close()
		hub.handler.HandleClose(h)
	}

	done := make(chan struct{})
	go func() {
		hub.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		hub.logger.Info("session hub stopped")
	case <-ctx.Done():
		hub.logger.Warn("session hub stop timed out")
	}
	return nil
}

// HandleWS upgrades an HTTP request to a room connection. The connection is
// registered anonymously right away and identified by its first user_join.
func (hub *Hub) HandleWS(w http.ResponseWriter, r *http.Request, roomID string) error {
	if roomID == "" {
		return fmt.Errorf("room id is required")
	}

	ws, err := hub.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("upgrade connection: %w", err)
	}

	conn := newConn(ws, hub.cfg.SendBufferSize, hub.cfg.WriteTimeout, hub.logger)
	handle := room.NewHandle(uuid.New().String(), roomID, conn)
	conn.onPong = handle.MarkPong

	hub.registry.Register(handle)

	go conn.writeLoop()
	go conn.readLoop(
		hub.cfg.MaxMessageSize,
		hub.readTimeout(),
		func(data []byte) { hub.handler.HandleMessage(handle, data) },
		func() { hub.handler.HandleClose(handle) },
	)

	return nil
}

// readTimeout gives a connection two heartbeat cycles before the read
// deadline alone kills it; the sweep usually acts first.
func (hub *Hub) readTimeout() time.Duration {
	return 2*hub.cfg.HeartbeatInterval + 15*time.Second
}

// heartbeatLoop scans all rooms on a fixed interval. A connection that did
// not acknowledge the previous ping within one cycle is treated as dead.
func (hub *Hub) heartbeatLoop() {
	defer hub.wg.Done()

	ticker := time.NewTicker(hub.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-hub.ctx.Done():
			return
		case <-ticker.C:
			hub.sweep()
		}
	}
}

func (hub *Hub) sweep() {
	for _, h := range hub.registry.Handles() {
		if !h.Alive() {
			hub.logger.Debug("heartbeat timeout, closing connection",
				"room", h.RoomID(),
				"conn", h.ID(),
				"last_pong", h.LastPongAt(),
			)
			h.Close()
			hub.handler.HandleClose(h)
			continue
		}

		h.SetAlive(false)
		if err := h.Ping(); err != nil {
			hub.logger.Debug("heartbeat ping failed, closing connection",
				"room", h.RoomID(),
				"conn", h.ID(),
				"error", err,
			)
			h.Close()
			hub.handler.HandleClose(h)
		}
	}
}
