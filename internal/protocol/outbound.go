package protocol

import (
	"encoding/json"
	"time"
)

// Outbound messages carry their own type tag so they can be serialized once
// and delivered verbatim to every recipient.

// UserJoined is broadcast to a room when a connection identifies itself.
type UserJoined struct {
	Type      MessageType `json:"type"`
	User      UserInfo    `json:"user"`
	Timestamp int64       `json:"timestamp"`
}

// UserLeft is broadcast to a room when an identified connection departs.
type UserLeft struct {
	Type      MessageType `json:"type"`
	UserID    string      `json:"userId"`
	Username  string      `json:"username,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// CurrentUsers is sent to a joining connection listing identified participants.
type CurrentUsers struct {
	Type  MessageType `json:"type"`
	Users []UserInfo  `json:"users"`
}

// SchemaData is the reply to a get_schema_data request.
type SchemaData struct {
	Type          MessageType                `json:"type"`
	Changes       map[string]json.RawMessage `json:"changes"`
	LastUpdatedBy string                     `json:"lastUpdatedBy,omitempty"`
	LastUpdatedAt int64                      `json:"lastUpdatedAt,omitempty"`
}

// Pong is the reply to a ping.
type Pong struct {
	Type      MessageType `json:"type"`
	Timestamp int64       `json:"timestamp"`
}

// ErrorMessage is sent to a single connection when its message was rejected.
type ErrorMessage struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message"`
}

// NewUserJoined builds a user_joined broadcast.
func NewUserJoined(user UserInfo) UserJoined {
	return UserJoined{Type: TypeUserJoined, User: user, Timestamp: NowMillis()}
}

// NewUserLeft builds a user_left broadcast.
func NewUserLeft(userID, username string) UserLeft {
	return UserLeft{Type: TypeUserLeft, UserID: userID, Username: username, Timestamp: NowMillis()}
}

// NewCurrentUsers builds a current_users reply.
func NewCurrentUsers(users []UserInfo) CurrentUsers {
	if users == nil {
		users = []UserInfo{}
	}
	return CurrentUsers{Type: TypeCurrentUsers, Users: users}
}

// NewPong builds a pong reply echoing the ping timestamp.
func NewPong(pingTimestamp int64) Pong {
	ts := pingTimestamp
	if ts == 0 {
		ts = NowMillis()
	}
	return Pong{Type: TypePong, Timestamp: ts}
}

// NewError builds an error reply.
func NewError(message string) ErrorMessage {
	return ErrorMessage{Type: TypeError, Message: message}
}

// Encode serializes an outbound message to its wire form.
func Encode(msg any) ([]byte, error) {
	return json.Marshal(msg)
}

// NowMillis returns the current time as Unix milliseconds, the timestamp
// format used on the wire.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}
