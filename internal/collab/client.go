package collab

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tablekit/schemahub/internal/connection"
	"github.com/tablekit/schemahub/internal/presence"
	"github.com/tablekit/schemahub/internal/protocol"
)

// Façade errors.
var (
	ErrNotInitialized = errors.New("collaboration client not initialized")
	ErrNotConnected   = errors.New("not connected")
)

// Config holds façade settings.
type Config struct {
	BaseURL        string            // session hub base URL, e.g. ws://host:8080/ws/session
	CursorInterval time.Duration     // minimum interval between cursor updates
	Connection     connection.Config // connection manager settings
}

// DefaultConfig returns the façade defaults.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:        baseURL,
		CursorInterval: 100 * time.Millisecond,
		Connection:     connection.DefaultConfig(),
	}
}

// Client is the collaboration façade. It owns one connection manager and the
// logical session identity set by Initialize.
type Client struct {
	cfg    Config
	logger *slog.Logger
	mgr    *connection.Manager
	rest   *presence.Client // optional, nil disables REST side effects

	mu           sync.Mutex
	user         protocol.UserInfo
	roomID       string
	key          string
	initialized  bool
	joinSent     bool
	lastCursorAt time.Time

	hmu       sync.RWMutex
	handlers  map[EventType]map[int]Handler
	nextSubID int
}

// NewClient creates a façade. rest may be nil.
func NewClient(cfg Config, rest *presence.Client, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		cfg:      cfg,
		logger:   logger,
		rest:     rest,
		handlers: make(map[EventType]map[int]Handler),
	}

	c.mgr = connection.NewManager(cfg.Connection, connection.Events{
		OnOpen:    c.onOpen,
		OnMessage: c.onMessage,
		OnClose:   c.onClose,
		OnGiveUp:  c.onGiveUp,
	}, logger)

	return c
}

// Initialize sets the logical session identity. Must be called before
// Connect.
func (c *Client) Initialize(user protocol.UserInfo, roomID string) error {
	if user.UserID == "" {
		return fmt.Errorf("userId is required")
	}
	if roomID == "" {
		return fmt.Errorf("roomId is required")
	}
	if user.Role == "" {
		user.Role = protocol.DefaultRole
	}
	if user.Color == "" {
		user.Color = protocol.DefaultColor
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.user = user
	c.roomID = roomID
	c.initialized = true
	return nil
}

// Connect opens the session socket. A throttled attempt returns
// *connection.ThrottledError; the caller retries after the indicated wait.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if !c.initialized {
		c.mu.Unlock()
		return ErrNotInitialized
	}
	url := c.cfg.BaseURL + "/" + c.roomID
	// The key must be in place before OnOpen fires, which happens inside
	// Connect.
	c.key = connection.EndpointKey(url)
	c.mu.Unlock()

	_, err := c.mgr.Connect(ctx, url, nil)
	return err
}

// Disconnect announces departure and cleanly closes the socket. No
// reconnection is attempted afterwards.
func (c *Client) Disconnect() {
	c.mu.Lock()
	key := c.key
	user := c.user
	roomID := c.roomID
	c.joinSent = false
	c.mu.Unlock()

	if key == "" {
		return
	}

	// Best effort: the hub also broadcasts user_left on socket close.
	_ = c.send(protocol.UserLeave{Type: protocol.TypeUserLeave, UserID: user.UserID})

	c.mgr.Disconnect(key)

	if c.rest != nil {
		c.rest.MarkOffline(roomID, user.UserID)
	}
}

// Reconnect manually retries after the reconnect budget was exhausted,
// resetting the attempt counter.
func (c *Client) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	key := c.key
	c.mu.Unlock()
	if key == "" {
		return ErrNotConnected
	}
	return c.mgr.Reconnect(ctx, key)
}

// Close tears down the façade and its connection manager.
func (c *Client) Close() {
	c.mgr.Close()
	if c.rest != nil {
		c.rest.Stop()
	}
}

// SendCursorUpdate sends the local cursor position. Updates arriving faster
// than the configured interval are dropped client-side.
func (c *Client) SendCursorUpdate(position json.RawMessage) error {
	c.mu.Lock()
	if time.Since(c.lastCursorAt) < c.cfg.CursorInterval {
		c.mu.Unlock()
		return nil
	}
	c.lastCursorAt = time.Now()
	user := c.user
	c.mu.Unlock()

	return c.send(protocol.CursorUpdate{
		Type:      protocol.TypeCursorUpdate,
		UserID:    user.UserID,
		Username:  user.Username,
		Position:  position,
		Timestamp: protocol.NowMillis(),
	})
}

// SendSchemaChange publishes a last-write-wins schema state update.
func (c *Client) SendSchemaChange(changeType string, data json.RawMessage) error {
	c.mu.Lock()
	user := c.user
	roomID := c.roomID
	c.mu.Unlock()

	msg := protocol.SchemaChange{
		Type:       protocol.TypeSchemaChange,
		ChangeType: changeType,
		Data:       data,
		UserID:     user.UserID,
		Timestamp:  protocol.NowMillis(),
	}
	if err := c.send(msg); err != nil {
		return err
	}
	if c.rest != nil {
		c.rest.PersistChange(roomID, msg)
	}
	return nil
}

// SendSchemaOperation publishes a discrete table/relationship edit.
func (c *Client) SendSchemaOperation(operation string, data json.RawMessage) error {
	c.mu.Lock()
	user := c.user
	roomID := c.roomID
	c.mu.Unlock()

	msg := protocol.SchemaOperation{
		Type:      protocol.TypeSchemaOperation,
		Operation: operation,
		Data:      data,
		UserID:    user.UserID,
		Timestamp: protocol.NowMillis(),
	}
	if err := c.send(msg); err != nil {
		return err
	}
	if c.rest != nil {
		c.rest.PersistOperation(roomID, msg)
	}
	return nil
}

// SendUserSelection publishes the local selection set.
func (c *Client) SendUserSelection(selection json.RawMessage) error {
	c.mu.Lock()
	user := c.user
	c.mu.Unlock()

	return c.send(protocol.UserSelection{
		Type:      protocol.TypeUserSelection,
		UserID:    user.UserID,
		Selection: selection,
		Timestamp: protocol.NowMillis(),
	})
}

// UpdatePresence publishes the local activity status.
func (c *Client) UpdatePresence(status string) error {
	c.mu.Lock()
	user := c.user
	roomID := c.roomID
	c.mu.Unlock()

	if err := c.send(protocol.PresenceUpdate{
		Type:      protocol.TypePresenceUpdate,
		UserID:    user.UserID,
		Status:    status,
		Timestamp: protocol.NowMillis(),
	}); err != nil {
		return err
	}
	if c.rest != nil {
		c.rest.UpdatePresence(roomID, user.UserID, status)
	}
	return nil
}

// RequestSchemaData asks for the room's current schema state; the reply
// arrives as a schema_data event.
func (c *Client) RequestSchemaData() error {
	return c.send(protocol.GetSchemaData{Type: protocol.TypeGetSchemaData})
}

// On subscribes a handler to an event type and returns its disposable
// subscription handle.
func (c *Client) On(event EventType, handler Handler) *Subscription {
	c.hmu.Lock()
	defer c.hmu.Unlock()

	c.nextSubID++
	id := c.nextSubID
	if c.handlers[event] == nil {
		c.handlers[event] = make(map[int]Handler)
	}
	c.handlers[event][id] = handler

	return &Subscription{client: c, event: event, id: id}
}

// Off detaches a subscription. Detaching twice is a no-op.
func (c *Client) Off(s *Subscription) {
	if s == nil {
		return
	}
	c.hmu.Lock()
	defer c.hmu.Unlock()
	if hs, ok := c.handlers[s.event]; ok {
		delete(hs, s.id)
	}
}

func (c *Client) emit(ev Event) {
	c.hmu.RLock()
	hs := make([]Handler, 0, len(c.handlers[ev.Type]))
	for _, h := range c.handlers[ev.Type] {
		hs = append(hs, h)
	}
	c.hmu.RUnlock()

	for _, h := range hs {
		h(ev)
	}
}

func (c *Client) send(msg any) error {
	c.mu.Lock()
	key := c.key
	c.mu.Unlock()
	if key == "" {
		return ErrNotConnected
	}

	data, err := protocol.Encode(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	return c.mgr.Send(key, data)
}

// onOpen sends user_join exactly once per successful open. The joinSent
// guard protects against duplicate joins within one open; it resets on
// close so reconnects rejoin.
func (c *Client) onOpen(key string) {
	c.mu.Lock()
	user := c.user
	roomID := c.roomID
	alreadySent := c.joinSent
	c.joinSent = true
	c.mu.Unlock()

	if !alreadySent {
		if err := c.send(protocol.UserJoin{
			Type:     protocol.TypeUserJoin,
			UserID:   user.UserID,
			Username: user.Username,
			Role:     user.Role,
			Color:    user.Color,
		}); err != nil {
			c.logger.Warn("join send failed", "error", err)
		}
		if c.rest != nil {
			c.rest.MarkOnline(roomID, user)
		}
	}

	c.emit(Event{Type: EventConnected, User: user})
}

func (c *Client) onClose(key string, reason connection.CloseReason) {
	c.mu.Lock()
	c.joinSent = false
	c.mu.Unlock()

	c.emit(Event{Type: EventDisconnected, Err: reason.Err})
}

func (c *Client) onGiveUp(key string) {
	c.emit(Event{Type: EventError, Err: errors.New("reconnect attempts exhausted")})
}

// onMessage translates wire messages into domain events.
func (c *Client) onMessage(key string, data []byte) {
	var env struct {
		Type protocol.MessageType `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		c.logger.Debug("undecodable server message", "error", err)
		return
	}

	switch env.Type {
	case protocol.TypeUserJoined:
		var m protocol.UserJoined
		if json.Unmarshal(data, &m) == nil {
			c.emit(Event{Type: EventUserJoined, User: m.User, Timestamp: m.Timestamp})
		}
	case protocol.TypeUserLeft:
		var m protocol.UserLeft
		if json.Unmarshal(data, &m) == nil {
			c.emit(Event{Type: EventUserLeft, UserID: m.UserID, Username: m.Username, Timestamp: m.Timestamp})
		}
	case protocol.TypeCurrentUsers:
		var m protocol.CurrentUsers
		if json.Unmarshal(data, &m) == nil {
			c.emit(Event{Type: EventCurrentUsers, Users: m.Users})
		}
	case protocol.TypeCursorUpdate:
		var m protocol.CursorUpdate
		if json.Unmarshal(data, &m) == nil {
			c.emit(Event{Type: EventCursorUpdate, UserID: m.UserID, Username: m.Username, Data: m.Position, Timestamp: m.Timestamp})
		}
	case protocol.TypeSchemaChange:
		var m protocol.SchemaChange
		if json.Unmarshal(data, &m) == nil {
			c.emit(Event{Type: EventSchemaChange, UserID: m.UserID, ChangeType: m.ChangeType, Data: m.Data, Timestamp: m.Timestamp})
		}
	case protocol.TypeSchemaOperation:
		var m protocol.SchemaOperation
		if json.Unmarshal(data, &m) == nil {
			c.emit(Event{Type: EventSchemaOperation, UserID: m.UserID, Operation: m.Operation, Data: m.Data, Timestamp: m.Timestamp})
		}
	case protocol.TypeUserSelection:
		var m protocol.UserSelection
		if json.Unmarshal(data, &m) == nil {
			c.emit(Event{Type: EventUserSelection, UserID: m.UserID, Data: m.Selection, Timestamp: m.Timestamp})
		}
	case protocol.TypePresenceUpdate:
		var m protocol.PresenceUpdate
		if json.Unmarshal(data, &m) == nil {
			c.emit(Event{Type: EventPresenceUpdate, UserID: m.UserID, Status: m.Status, Timestamp: m.Timestamp})
		}
	case protocol.TypeSchemaData:
		var m protocol.SchemaData
		if json.Unmarshal(data, &m) == nil {
			c.emit(Event{Type: EventSchemaData, Changes: m.Changes, LastUpdatedBy: m.LastUpdatedBy, LastUpdatedAt: m.LastUpdatedAt})
		}
	case protocol.TypeError:
		var m protocol.ErrorMessage
		if json.Unmarshal(data, &m) == nil {
			c.emit(Event{Type: EventError, Err: errors.New(m.Message)})
		}
	case protocol.TypePong:
		// Liveness handled by the connection manager.
	default:
		c.logger.Debug("ignoring unknown server message", "type", env.Type)
	}
}
