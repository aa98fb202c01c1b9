package session

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Conn errors.
var (
	ErrSendBufferFull = errors.New("send buffer full")
	ErrConnClosed     = errors.New("connection closed")
)

// Conn wraps a server-side WebSocket connection. All writes go through the
// write pump so only one goroutine touches the socket's data stream; control
// frames (ping, close) use WriteControl, which is safe concurrently.
type Conn struct {
	ws     *websocket.Conn
	logger *slog.Logger

	writeTimeout time.Duration
	send         chan []byte
	done         chan struct{}
	closeOnce    sync.Once

	onPong func()
}

// newConn wraps an upgraded WebSocket connection.
func newConn(ws *websocket.Conn, sendBuffer int, writeTimeout time.Duration, logger *slog.Logger) *Conn {
	return &Conn{
		ws:           ws,
		logger:       logger,
		writeTimeout: writeTimeout,
		send:         make(chan []byte, sendBuffer),
		done:         make(chan struct{}),
	}
}

// Deliver enqueues bytes for the write pump without blocking. A full buffer
// means the client is not draining and is treated as a dead connection.
func (c *Conn) Deliver(data []byte) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}

	select {
	case c.send <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Ping sends a WebSocket ping control frame.
func (c *Conn) Ping() error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}
	deadline := time.Now().Add(c.writeTimeout)
	return c.ws.WriteControl(websocket.PingMessage, nil, deadline)
}

// Close tears down the connection. Safe to call multiple times.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		deadline := time.Now().Add(time.Second)
		_ = c.ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			deadline,
		)
		_ = c.ws.Close()
	})
}

// readLoop pumps inbound frames to onMessage until the socket dies, then
// invokes onClose exactly once.
func (c *Conn) readLoop(maxMessageSize int64, readTimeout time.Duration, onMessage func([]byte), onClose func()) {
	defer onClose()
	defer c.Close()

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(readTimeout))
	c.ws.SetPongHandler(func(string) error {
		_ = c.ws.SetReadDeadline(time.Now().Add(readTimeout))
		if c.onPong != nil {
			c.onPong()
		}
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug("websocket read error", "error", err)
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(readTimeout))
		onMessage(data)
	}
}

// writeLoop drains the send channel onto the socket.
func (c *Conn) writeLoop() {
	defer c.Close()

	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debug("websocket write error", "error", err)
				return
			}
		}
	}
}
