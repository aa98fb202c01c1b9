package room

import "time"

// EventBufferSize is the capacity of the registry event channel.
const EventBufferSize = 1000

// EventKind classifies a registry lifecycle event.
type EventKind string

const (
	EventRoomCreated    EventKind = "room_created"
	EventRoomDeleted    EventKind = "room_deleted"
	EventConnRegistered EventKind = "conn_registered"
	EventConnIdentified EventKind = "conn_identified"
	EventConnRemoved    EventKind = "conn_removed"
	EventSchemaChange   EventKind = "schema_change"
)

// Event describes a registry state transition. The session journal consumes
// these off the broadcast path.
type Event struct {
	Kind       EventKind
	RoomID     string
	ConnID     string
	UserID     string
	ChangeType string
	At         time.Time
}

// Events returns the registry's event channel. Events are dropped rather
// than blocking registry operations when no consumer keeps up.
func (r *Registry) Events() <-chan Event {
	return r.events
}

func (r *Registry) emit(e Event) {
	e.At = time.Now()
	select {
	case r.events <- e:
	default:
		r.dropped.Add(1)
	}
}
