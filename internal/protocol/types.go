package protocol

import (
	"encoding/json"
)

// MessageType identifies a wire message variant.
type MessageType string

// Inbound message types (client to hub).
const (
	TypeUserJoin        MessageType = "user_join"
	TypeUserLeave       MessageType = "user_leave"
	TypeCursorUpdate    MessageType = "cursor_update"
	TypeSchemaChange    MessageType = "schema_change"
	TypeSchemaOperation MessageType = "schema_operation"
	TypeUserSelection   MessageType = "user_selection"
	TypePresenceUpdate  MessageType = "presence_update"
	TypeGetSchemaData   MessageType = "get_schema_data"
	TypePing            MessageType = "ping"
)

// Outbound message types (hub to client).
const (
	TypeUserJoined   MessageType = "user_joined"
	TypeUserLeft     MessageType = "user_left"
	TypeCurrentUsers MessageType = "current_users"
	TypeSchemaData   MessageType = "schema_data"
	TypePong         MessageType = "pong"
	TypeError        MessageType = "error"
)

// Schema operation kinds carried by TypeSchemaOperation messages.
const (
	OpTableCreated        = "table_created"
	OpTableUpdated        = "table_updated"
	OpTableDeleted        = "table_deleted"
	OpRelationshipAdded   = "relationship_added"
	OpRelationshipRemoved = "relationship_removed"
)

// Defaults applied when a user_join omits optional identity fields.
const (
	DefaultRole  = "editor"
	DefaultColor = "#6b7280"
)

// Message is implemented by every decoded wire message.
type Message interface {
	MessageType() MessageType
}

// UserInfo describes an identified participant.
type UserInfo struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Role     string `json:"role"`
	Color    string `json:"color"`
}

// UserJoin identifies a connection within its room.
type UserJoin struct {
	Type     MessageType `json:"type"`
	UserID   string      `json:"userId"`
	Username string      `json:"username"`
	Role     string      `json:"role,omitempty"`
	Color    string      `json:"color,omitempty"`
}

// UserLeave announces a voluntary departure.
type UserLeave struct {
	Type   MessageType `json:"type"`
	UserID string      `json:"userId"`
}

// CursorUpdate carries a participant's pointer position.
type CursorUpdate struct {
	Type      MessageType     `json:"type"`
	UserID    string          `json:"userId"`
	Username  string          `json:"username,omitempty"`
	Position  json.RawMessage `json:"position,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`
}

// SchemaChange carries a last-write-wins schema state update.
type SchemaChange struct {
	Type       MessageType     `json:"type"`
	ChangeType string          `json:"changeType"`
	Data       json.RawMessage `json:"data"`
	UserID     string          `json:"userId,omitempty"`
	Timestamp  int64           `json:"timestamp,omitempty"`
}

// SchemaOperation carries a discrete table/relationship edit.
type SchemaOperation struct {
	Type      MessageType     `json:"type"`
	Operation string          `json:"operation"`
	Data      json.RawMessage `json:"data"`
	UserID    string          `json:"userId,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`
}

// UserSelection carries the set of elements a participant has selected.
type UserSelection struct {
	Type      MessageType     `json:"type"`
	UserID    string          `json:"userId"`
	Selection json.RawMessage `json:"selection,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`
}

// PresenceUpdate carries a participant's activity status.
type PresenceUpdate struct {
	Type      MessageType `json:"type"`
	UserID    string      `json:"userId"`
	Status    string      `json:"status,omitempty"`
	Timestamp int64       `json:"timestamp,omitempty"`
}

// GetSchemaData requests the room's current schema state snapshot.
type GetSchemaData struct {
	Type MessageType `json:"type"`
}

// Ping is a client liveness probe.
type Ping struct {
	Type      MessageType `json:"type"`
	Timestamp int64       `json:"timestamp,omitempty"`
}

// Unknown wraps a message whose type is not part of the protocol.
// Handlers log and ignore it.
type Unknown struct {
	Type MessageType
}

func (UserJoin) MessageType() MessageType        { return TypeUserJoin }
func (UserLeave) MessageType() MessageType       { return TypeUserLeave }
func (CursorUpdate) MessageType() MessageType    { return TypeCursorUpdate }
func (SchemaChange) MessageType() MessageType    { return TypeSchemaChange }
func (SchemaOperation) MessageType() MessageType { return TypeSchemaOperation }
func (UserSelection) MessageType() MessageType   { return TypeUserSelection }
func (PresenceUpdate) MessageType() MessageType  { return TypePresenceUpdate }
func (GetSchemaData) MessageType() MessageType   { return TypeGetSchemaData }
func (Ping) MessageType() MessageType            { return TypePing }
func (u Unknown) MessageType() MessageType       { return u.Type }
