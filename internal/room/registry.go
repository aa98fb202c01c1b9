package room

import (
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/tablekit/schemahub/internal/protocol"
)

// Registry maps room id to the set of live connection handles. All mutation
// goes through its methods; the maps are never exposed.
type Registry struct {
	logger *slog.Logger

	mu    sync.RWMutex
	rooms map[string]*roomEntry

	events  chan Event
	dropped atomic.Int64
}

// roomEntry pairs a room's handle set with its schema state store so both
// are created and deleted together.
type roomEntry struct {
	id      string
	mu      sync.RWMutex
	handles map[string]*Handle // keyed by connection id
	state   *stateStore
}

// Stats summarizes registry occupancy.
type Stats struct {
	Rooms         int
	Connections   int
	Identified    int
	DroppedEvents int64
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger: logger,
		rooms:  make(map[string]*roomEntry),
		events: make(chan Event, EventBufferSize),
	}
}

// Register inserts a handle into its room's set, creating the room if absent.
// Registering the same handle twice is a no-op.
func (r *Registry) Register(h *Handle) {
	// The registry lock is held across the insert so a concurrent Unregister
	// cannot delete the room between the lookup and the insert, which would
	// strand the handle in an unreachable entry.
	r.mu.Lock()
	entry, ok := r.rooms[h.RoomID()]
	if !ok {
		entry = &roomEntry{
			id:      h.RoomID(),
			handles: make(map[string]*Handle),
			state:   newStateStore(),
		}
		r.rooms[h.RoomID()] = entry
		r.emit(Event{Kind: EventRoomCreated, RoomID: h.RoomID()})
	}
	entry.mu.Lock()
	entry.handles[h.ID()] = h
	count := len(entry.handles)
	entry.mu.Unlock()
	r.mu.Unlock()

	r.emit(Event{Kind: EventConnRegistered, RoomID: h.RoomID(), ConnID: h.ID()})
	r.logger.Debug("connection registered",
		"room", h.RoomID(),
		"conn", h.ID(),
		"connections", count,
	)
}

// Unregister removes a handle from its room. When the last handle leaves, the
// room and its state store are deleted together. Unregistering a handle that
// was already removed is a no-op; the return value reports whether this call
// performed the removal.
func (r *Registry) Unregister(h *Handle) bool {
	r.mu.RLock()
	entry, ok := r.rooms[h.RoomID()]
	r.mu.RUnlock()
	if !ok {
		return false
	}

	entry.mu.Lock()
	if _, present := entry.handles[h.ID()]; !present {
		entry.mu.Unlock()
		return false
	}
	delete(entry.handles, h.ID())
	count := len(entry.handles)
	entry.mu.Unlock()

	r.emit(Event{Kind: EventConnRemoved, RoomID: h.RoomID(), ConnID: h.ID(), UserID: h.UserID()})
	r.logger.Debug("connection unregistered",
		"room", h.RoomID(),
		"conn", h.ID(),
		"connections", count,
	)

	if count == 0 {
		r.mu.Lock()
		// Re-check under the registry lock: a new connection may have raced
		// into the room between the count and here.
		entry.mu.RLock()
		empty := len(entry.handles) == 0
		entry.mu.RUnlock()
		if empty && r.rooms[h.RoomID()] == entry {
			delete(r.rooms, h.RoomID())
			r.emit(Event{Kind: EventRoomDeleted, RoomID: h.RoomID()})
			r.logger.Info("room deleted", "room", h.RoomID())
		}
		r.mu.Unlock()
	}
	return true
}

// Identify marks a handle as identified with the given participant info.
// A later join with the same userId supersedes any earlier entry in the room
// rather than duplicating it.
func (r *Registry) Identify(h *Handle, user protocol.UserInfo) {
	r.mu.RLock()
	entry, ok := r.rooms[h.RoomID()]
	r.mu.RUnlock()
	if !ok {
		return
	}

	entry.mu.RLock()
	for _, other := range entry.handles {
		if other == h {
			continue
		}
		if other.UserID() == user.UserID {
			other.Supersede()
		}
	}
	entry.mu.RUnlock()

	h.Identify(user)
	r.emit(Event{Kind: EventConnIdentified, RoomID: h.RoomID(), ConnID: h.ID(), UserID: user.UserID})
}

// ListIdentified returns the handles in a room that have completed join.
func (r *Registry) ListIdentified(roomID string) []*Handle {
	r.mu.RLock()
	entry, ok := r.rooms[roomID]
	r.mu.RUnlock()
	if !ok {
		return nil
	}

	entry.mu.RLock()
	defer entry.mu.RUnlock()

	out := make([]*Handle, 0, len(entry.handles))
	for _, h := range entry.handles {
		if _, identified := h.User(); identified {
			out = append(out, h)
		}
	}
	return out
}

// Users returns the participant info for every identified handle in a room,
// used to answer "current users" for new joiners.
func (r *Registry) Users(roomID string) []protocol.UserInfo {
	handles := r.ListIdentified(roomID)
	users := make([]protocol.UserInfo, 0, len(handles))
	for _, h := range handles {
		if info, ok := h.User(); ok {
			users = append(users, info)
		}
	}
	return users
}

// Broadcast delivers serialized bytes to every handle in the room except the
// originating connection and any handle identified by excludeUserID. The
// connection-id exclusion holds even while the originator is still anonymous.
// A delivery failure on one handle removes that handle and never aborts
// delivery to the rest. Returns the number of successful deliveries.
func (r *Registry) Broadcast(roomID string, data []byte, excludeConnID, excludeUserID string) int {
	r.mu.RLock()
	entry, ok := r.rooms[roomID]
	r.mu.RUnlock()
	if !ok {
		return 0
	}

	// Snapshot the set; handles registered after this point miss this
	// message, which is acceptable staleness.
	entry.mu.RLock()
	targets := make([]*Handle, 0, len(entry.handles))
	for _, h := range entry.handles {
		targets = append(targets, h)
	}
	entry.mu.RUnlock()

	delivered := 0
	for _, h := range targets {
		if excludeConnID != "" && h.ID() == excludeConnID {
			continue
		}
		if excludeUserID != "" && h.UserID() == excludeUserID {
			continue
		}
		if err := h.Deliver(data); err != nil {
			// Treated as the recipient having disconnected.
			r.logger.Debug("broadcast delivery failed, removing connection",
				"room", roomID,
				"conn", h.ID(),
				"error", err,
			)
			h.Close()
			r.Unregister(h)
			continue
		}
		delivered++
	}
	return delivered
}

// RecordChange writes a schema change into the room's state store
// (last-write-wins). Returns false if the room no longer exists.
func (r *Registry) RecordChange(roomID, changeType string, data json.RawMessage, userID string) bool {
	r.mu.RLock()
	entry, ok := r.rooms[roomID]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	entry.state.record(changeType, data, userID)
	r.emit(Event{Kind: EventSchemaChange, RoomID: roomID, UserID: userID, ChangeType: changeType})
	return true
}

// SchemaSnapshot returns a copy of the room's current schema state.
func (r *Registry) SchemaSnapshot(roomID string) (SchemaSnapshot, bool) {
	r.mu.RLock()
	entry, ok := r.rooms[roomID]
	r.mu.RUnlock()
	if !ok {
		return SchemaSnapshot{}, false
	}
	return entry.state.snapshot(), true
}

// Handles returns a snapshot of every registered handle across all rooms,
// used by the heartbeat sweeper.
func (r *Registry) Handles() []*Handle {
	r.mu.RLock()
	entries := make([]*roomEntry, 0, len(r.rooms))
	for _, e := range r.rooms {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	var out []*Handle
	for _, e := range entries {
		e.mu.RLock()
		for _, h := range e.handles {
			out = append(out, h)
		}
		e.mu.RUnlock()
	}
	return out
}

// RoomExists reports whether a room currently has live connections.
func (r *Registry) RoomExists(roomID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[roomID]
	return ok
}

// ConnectionCount returns the number of live handles in a room.
func (r *Registry) ConnectionCount(roomID string) int {
	r.mu.RLock()
	entry, ok := r.rooms[roomID]
	r.mu.RUnlock()
	if !ok {
		return 0
	}
	entry.mu.RLock()
	defer entry.mu.RUnlock()
	return len(entry.handles)
}

// Stats returns current registry occupancy.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	entries := make([]*roomEntry, 0, len(r.rooms))
	for _, e := range r.rooms {
		entries = append(entries, e)
	}
	rooms := len(entries)
	r.mu.RUnlock()

	stats := Stats{Rooms: rooms, DroppedEvents: r.dropped.Load()}
	for _, e := range entries {
		e.mu.RLock()
		stats.Connections += len(e.handles)
		for _, h := range e.handles {
			if _, ok := h.User(); ok {
				stats.Identified++
			}
		}
		e.mu.RUnlock()
	}
	return stats
}
