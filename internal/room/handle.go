package room

import (
	"sync"
	"time"

	"github.com/tablekit/schemahub/internal/protocol"
)

// Transport is the minimal connection surface the registry needs to deliver
// messages. A Deliver error marks the connection dead.
type Transport interface {
	// Deliver enqueues serialized bytes for the connection without blocking.
	Deliver(data []byte) error

	// Ping sends a liveness probe.
	Ping() error

	// Close tears down the underlying connection.
	Close()
}

// Handle is a live connection's registration within a room. It is created
// anonymous when the socket is accepted and becomes identified on the first
// user_join message.
type Handle struct {
	id     string
	roomID string
	tr     Transport

	mu          sync.Mutex
	user        protocol.UserInfo
	identified  bool
	connectedAt time.Time
	lastPongAt  time.Time
	alive       bool
}

// NewHandle creates an anonymous handle for a freshly accepted connection.
func NewHandle(id, roomID string, tr Transport) *Handle {
	now := time.Now()
	return &Handle{
		id:          id,
		roomID:      roomID,
		tr:          tr,
		connectedAt: now,
		lastPongAt:  now,
		alive:       true,
	}
}

// ID returns the connection id.
func (h *Handle) ID() string { return h.id }

// RoomID returns the room this handle belongs to for its lifetime.
func (h *Handle) RoomID() string { return h.roomID }

// Deliver forwards bytes to the underlying transport.
func (h *Handle) Deliver(data []byte) error { return h.tr.Deliver(data) }

// Ping forwards a liveness probe to the underlying transport.
func (h *Handle) Ping() error { return h.tr.Ping() }

// Close tears down the underlying transport.
func (h *Handle) Close() { h.tr.Close() }

// Identify records the participant identity from a user_join message.
func (h *Handle) Identify(user protocol.UserInfo) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.user = user
	h.identified = true
}

// Supersede clears the identified flag when a later join claims the same
// userId. The connection stays registered but no longer counts as a
// participant.
func (h *Handle) Supersede() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.identified = false
}

// User returns the participant identity and whether the handle is identified.
func (h *Handle) User() (protocol.UserInfo, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.user, h.identified
}

// UserID returns the presence key, empty while anonymous.
func (h *Handle) UserID() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.identified {
		return ""
	}
	return h.user.UserID
}

// ConnectedAt returns when the socket was accepted.
func (h *Handle) ConnectedAt() time.Time { return h.connectedAt }

// MarkPong records a heartbeat acknowledgement.
func (h *Handle) MarkPong() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastPongAt = time.Now()
	h.alive = true
}

// Alive reports whether the connection acknowledged the last heartbeat probe.
func (h *Handle) Alive() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.alive
}

// SetAlive arms the heartbeat check; the next pong flips it back.
func (h *Handle) SetAlive(alive bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.alive = alive
}

// LastPongAt returns the time of the most recent heartbeat acknowledgement.
func (h *Handle) LastPongAt() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastPongAt
}
