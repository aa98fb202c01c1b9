package collab

import (
	"encoding/json"

	"github.com/tablekit/schemahub/internal/protocol"
)

// EventType identifies a domain event emitted by the façade.
type EventType string

const (
	EventConnected       EventType = "connected"
	EventDisconnected    EventType = "disconnected"
	EventUserJoined      EventType = "user_joined"
	EventUserLeft        EventType = "user_left"
	EventCurrentUsers    EventType = "current_users"
	EventCursorUpdate    EventType = "cursor_update"
	EventSchemaChange    EventType = "schema_change"
	EventSchemaOperation EventType = "schema_operation"
	EventUserSelection   EventType = "user_selection"
	EventPresenceUpdate  EventType = "presence_update"
	EventSchemaData      EventType = "schema_data"
	EventError           EventType = "error"
)

// Event carries one domain event. Fields are populated per event type.
type Event struct {
	Type EventType

	User  protocol.UserInfo   // user_joined
	Users []protocol.UserInfo // current_users

	UserID   string // user_left, cursor_update, schema_change, selection, presence
	Username string

	ChangeType string          // schema_change
	Operation  string          // schema_operation
	Status     string          // presence_update
	Data       json.RawMessage // cursor position, change data, selection

	Changes       map[string]json.RawMessage // schema_data
	LastUpdatedBy string                     // schema_data
	LastUpdatedAt int64                      // schema_data

	Timestamp int64
	Err       error // error, disconnected
}

// Handler receives events for one subscription.
type Handler func(Event)

// Subscription is the disposable handle returned by On. Cancelling it
// detaches the handler so reconnect cycles cannot leak subscriptions.
type Subscription struct {
	client *Client
	event  EventType
	id     int
}

// Cancel detaches the subscription's handler. Safe to call twice.
func (s *Subscription) Cancel() {
	if s == nil || s.client == nil {
		return
	}
	s.client.Off(s)
}
