package connection

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// client is one physical WebSocket connection. The manager owns it; the
// gorilla default ping handler answers server heartbeats automatically.
type client struct {
	cfg    Config
	url    string
	logger *slog.Logger

	ws *websocket.Conn

	messages chan []byte
	closedCh chan CloseReason

	// Write serialization
	writeMu sync.Mutex

	mu              sync.RWMutex
	connected       bool
	clientInitiated bool
	closeCode       int
	closeReason     string
}

// dial establishes the WebSocket connection and starts the read loop.
func dial(ctx context.Context, rawURL string, header http.Header, cfg Config, logger *slog.Logger) (*client, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: cfg.HandshakeTimeout,
	}

	ws, _, err := dialer.DialContext(ctx, rawURL, header)
	if err != nil {
		return nil, err
	}

	c := &client{
		cfg:       cfg,
		url:       rawURL,
		logger:    logger,
		ws:        ws,
		messages:  make(chan []byte, cfg.ReceiveBufferSize),
		closedCh:  make(chan CloseReason, 1),
		connected: true,
	}

	go c.readLoop()

	logger.Debug("websocket connected", "url", rawURL)
	return c, nil
}

// send writes text bytes to the connection.
func (c *client) send(data []byte) error {
	c.mu.RLock()
	if !c.connected {
		c.mu.RUnlock()
		return ErrNotConnected
	}
	c.mu.RUnlock()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// close performs a clean client-initiated close with the given code and
// reason ("replaced" for endpoint replacement, normal closure otherwise).
func (c *client) close(code int, reason string) {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return
	}
	c.connected = false
	c.clientInitiated = true
	c.closeCode = code
	c.closeReason = reason
	c.mu.Unlock()

	deadline := time.Now().Add(time.Second)
	_ = c.ws.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		deadline,
	)
	_ = c.ws.Close()
}

func (c *client) isConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// readLoop pumps inbound frames until the socket dies, then reports the
// close reason exactly once.
func (c *client) readLoop() {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.finish(err)
			return
		}

		select {
		case c.messages <- data:
		default:
			c.logger.Warn("receive buffer full, dropping message", "url", c.url)
		}
	}
}

func (c *client) finish(err error) {
	c.mu.Lock()
	c.connected = false
	reason := CloseReason{
		Code:            c.closeCode,
		Reason:          c.closeReason,
		ClientInitiated: c.clientInitiated,
		Err:             err,
	}
	c.mu.Unlock()

	if !reason.ClientInitiated {
		var ce *websocket.CloseError
		if errors.As(err, &ce) {
			reason.Code = ce.Code
			reason.Reason = ce.Text
		}
	}

	close(c.messages)
	c.closedCh <- reason
}
