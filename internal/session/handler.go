package session

import (
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/tablekit/schemahub/internal/protocol"
	"github.com/tablekit/schemahub/internal/room"
)

// Handler dispatches decoded protocol messages for server-side connections.
// It composes the registry (room membership), the broadcast primitive, and
// the room state store.
type Handler struct {
	registry *room.Registry
	logger   *slog.Logger
}

// NewHandler creates a message dispatcher over the given registry.
func NewHandler(registry *room.Registry, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{registry: registry, logger: logger}
}

// HandleMessage processes one inbound frame for a connection. Failures are
// scoped to the sender: malformed or invalid messages produce an error reply
// and the connection stays open.
func (d *Handler) HandleMessage(h *room.Handle, data []byte) {
	msg, err := protocol.Decode(data)
	if err != nil {
		var verr *protocol.ValidationError
		if errors.As(err, &verr) {
			d.reply(h, protocol.NewError(verr.Error()))
			return
		}
		d.reply(h, protocol.NewError("malformed message"))
		return
	}

	switch m := msg.(type) {
	case protocol.UserJoin:
		d.handleJoin(h, m)
	case protocol.UserLeave:
		d.handleLeave(h)
	case protocol.CursorUpdate:
		d.handleCursor(h, m)
	case protocol.SchemaChange:
		d.handleSchemaChange(h, m)
	case protocol.SchemaOperation:
		d.handleSchemaOperation(h, m)
	case protocol.UserSelection:
		d.handleSelection(h, m)
	case protocol.PresenceUpdate:
		d.handlePresence(h, m)
	case protocol.GetSchemaData:
		d.handleGetSchemaData(h)
	case protocol.Ping:
		d.reply(h, protocol.NewPong(m.Timestamp))
	case protocol.Unknown:
		// Never fatal.
		d.logger.Debug("ignoring unknown message type",
			"room", h.RoomID(),
			"conn", h.ID(),
			"type", m.Type,
		)
	}
}

// HandleClose runs the departure path when a socket closes, errors, or times
// out. Safe to call from multiple paths; only the first call acts.
func (d *Handler) HandleClose(h *room.Handle) {
	user, identified := h.User()
	if !d.registry.Unregister(h) {
		return
	}
	if identified {
		d.broadcast(h, protocol.NewUserLeft(user.UserID, user.Username), user.UserID)
	}
}

func (d *Handler) handleJoin(h *room.Handle, m protocol.UserJoin) {
	user := protocol.UserInfo{
		UserID:   m.UserID,
		Username: m.Username,
		Role:     m.Role,
		Color:    m.Color,
	}

	// Current participants, captured before this join lands.
	others := d.registry.Users(h.RoomID())

	d.registry.Identify(h, user)

	d.reply(h, protocol.NewCurrentUsers(others))
	d.broadcast(h, protocol.NewUserJoined(user), user.UserID)
}

func (d *Handler) handleLeave(h *room.Handle) {
	user, identified := h.User()
	if !identified {
		// Ignored while anonymous.
		return
	}
	d.broadcast(h, protocol.NewUserLeft(user.UserID, user.Username), user.UserID)
}

func (d *Handler) handleCursor(h *room.Handle, m protocol.CursorUpdate) {
	m.Timestamp = protocol.NowMillis()
	d.broadcast(h, m, m.UserID)
}

func (d *Handler) handleSchemaChange(h *room.Handle, m protocol.SchemaChange) {
	userID := m.UserID
	if userID == "" {
		userID = h.UserID()
	}
	m.UserID = userID
	m.Timestamp = protocol.NowMillis()

	d.registry.RecordChange(h.RoomID(), m.ChangeType, m.Data, userID)
	d.broadcast(h, m, userID)
}

func (d *Handler) handleSchemaOperation(h *room.Handle, m protocol.SchemaOperation) {
	userID := m.UserID
	if userID == "" {
		userID = h.UserID()
	}
	m.UserID = userID
	m.Timestamp = protocol.NowMillis()

	// Operations feed the state store keyed by operation kind, so late
	// joiners bootstrap from them as well.
	if m.Operation != "" {
		d.registry.RecordChange(h.RoomID(), m.Operation, m.Data, userID)
	}
	d.broadcast(h, m, userID)
}

func (d *Handler) handleSelection(h *room.Handle, m protocol.UserSelection) {
	m.Timestamp = protocol.NowMillis()
	d.broadcast(h, m, m.UserID)
}

func (d *Handler) handlePresence(h *room.Handle, m protocol.PresenceUpdate) {
	m.Timestamp = protocol.NowMillis()
	d.broadcast(h, m, m.UserID)
}

func (d *Handler) handleGetSchemaData(h *room.Handle) {
	snap, ok := d.registry.SchemaSnapshot(h.RoomID())
	if !ok {
		d.reply(h, protocol.SchemaData{Type: protocol.TypeSchemaData, Changes: map[string]json.RawMessage{}})
		return
	}

	msg := protocol.SchemaData{
		Type:          protocol.TypeSchemaData,
		Changes:       snap.Changes,
		LastUpdatedBy: snap.LastUpdatedBy,
	}
	if !snap.LastUpdatedAt.IsZero() {
		msg.LastUpdatedAt = snap.LastUpdatedAt.UnixMilli()
	}
	d.reply(h, msg)
}

// reply sends a message to a single connection.
func (d *Handler) reply(h *room.Handle, msg any) {
	data, err := protocol.Encode(msg)
	if err != nil {
		d.logger.Error("encode reply", "error", err)
		return
	}
	if err := h.Deliver(data); err != nil {
		d.logger.Debug("reply delivery failed", "conn", h.ID(), "error", err)
	}
}

// broadcast serializes once and fans out to the originator's room. The
// originating connection is excluded by id, so exclusion holds even before it
// has identified; excludeUserID additionally skips any other handle the same
// user holds.
func (d *Handler) broadcast(origin *room.Handle, msg any, excludeUserID string) {
	data, err := protocol.Encode(msg)
	if err != nil {
		d.logger.Error("encode broadcast", "error", err)
		return
	}
	d.registry.Broadcast(origin.RoomID(), data, origin.ID(), excludeUserID)
}
