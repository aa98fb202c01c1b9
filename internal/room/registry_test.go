package room

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/tablekit/schemahub/internal/protocol"
)

// fakeTransport records deliveries and can be told to fail.
type fakeTransport struct {
	delivered [][]byte
	failNext  bool
	closed    bool
}

func (f *fakeTransport) Deliver(data []byte) error {
	if f.failNext {
		return errors.New("send buffer full")
	}
	f.delivered = append(f.delivered, data)
	return nil
}

func (f *fakeTransport) Ping() error { return nil }
func (f *fakeTransport) Close()      { f.closed = true }

func newTestHandle(id, roomID string) (*Handle, *fakeTransport) {
	tr := &fakeTransport{}
	return NewHandle(id, roomID, tr), tr
}

func TestRegisterCreatesRoom(t *testing.T) {
	r := NewRegistry(nil)

	if r.RoomExists("design-1") {
		t.Fatal("room must not exist before first registration")
	}

	h, _ := newTestHandle("c1", "design-1")
	r.Register(h)

	if !r.RoomExists("design-1") {
		t.Fatal("room must exist after registration")
	}
	if got := r.ConnectionCount("design-1"); got != 1 {
		t.Errorf("ConnectionCount = %d, want 1", got)
	}
}

func TestUnregisterDeletesEmptyRoom(t *testing.T) {
	r := NewRegistry(nil)

	h1, _ := newTestHandle("c1", "design-1")
	h2, _ := newTestHandle("c2", "design-1")
	r.Register(h1)
	r.Register(h2)
	r.RecordChange("design-1", "table_update", []byte(`{"id":"t1"}`), "u1")

	if !r.Unregister(h1) {
		t.Fatal("first Unregister must report removal")
	}
	if !r.RoomExists("design-1") {
		t.Fatal("room must survive while a connection remains")
	}

	if !r.Unregister(h2) {
		t.Fatal("second Unregister must report removal")
	}
	if r.RoomExists("design-1") {
		t.Fatal("room must be deleted with its last connection")
	}

	// State goes with the room: a new room with the same id starts empty.
	h3, _ := newTestHandle("c3", "design-1")
	r.Register(h3)
	snap, ok := r.SchemaSnapshot("design-1")
	if !ok {
		t.Fatal("recreated room must have a state store")
	}
	if len(snap.Changes) != 0 {
		t.Errorf("recreated room has %d changes, want 0", len(snap.Changes))
	}
}

func TestUnregisterIdempotent(t *testing.T) {
	r := NewRegistry(nil)

	h, _ := newTestHandle("c1", "design-1")
	r.Register(h)

	if !r.Unregister(h) {
		t.Fatal("first Unregister must report removal")
	}
	if r.Unregister(h) {
		t.Fatal("second Unregister must be a no-op")
	}
}

func TestIdentifySupersedesDuplicateUser(t *testing.T) {
	r := NewRegistry(nil)

	old, _ := newTestHandle("c1", "design-1")
	replacement, _ := newTestHandle("c2", "design-1")
	r.Register(old)
	r.Register(replacement)

	alice := protocol.UserInfo{UserID: "alice", Username: "Alice"}
	r.Identify(old, alice)
	r.Identify(replacement, alice)

	if _, identified := old.User(); identified {
		t.Error("superseded handle must no longer be identified")
	}
	if _, identified := replacement.User(); !identified {
		t.Error("newer handle must be identified")
	}

	users := r.Users("design-1")
	if len(users) != 1 {
		t.Fatalf("Users returned %d entries, want 1", len(users))
	}
	if users[0].UserID != "alice" {
		t.Errorf("UserID = %q, want %q", users[0].UserID, "alice")
	}
}

func TestBroadcastExcludesOriginator(t *testing.T) {
	r := NewRegistry(nil)

	var transports []*fakeTransport
	for i := 0; i < 3; i++ {
		h, tr := newTestHandle(fmt.Sprintf("c%d", i), "design-1")
		r.Register(h)
		r.Identify(h, protocol.UserInfo{UserID: fmt.Sprintf("u%d", i)})
		transports = append(transports, tr)
	}

	delivered := r.Broadcast("design-1", []byte(`{"type":"cursor_update"}`), "c0", "u0")
	if delivered != 2 {
		t.Errorf("Broadcast delivered %d, want 2", delivered)
	}
	if len(transports[0].delivered) != 0 {
		t.Error("originator must not receive its own broadcast")
	}
	for i := 1; i < 3; i++ {
		if len(transports[i].delivered) != 1 {
			t.Errorf("recipient %d got %d messages, want 1", i, len(transports[i].delivered))
		}
	}
}

func TestBroadcastReachesAnonymousConnections(t *testing.T) {
	r := NewRegistry(nil)

	identified, _ := newTestHandle("c1", "design-1")
	anonymous, anonTr := newTestHandle("c2", "design-1")
	r.Register(identified)
	r.Register(anonymous)
	r.Identify(identified, protocol.UserInfo{UserID: "u1"})

	// Empty exclusion must not match the anonymous handle's empty userId.
	delivered := r.Broadcast("design-1", []byte(`{"type":"schema_change"}`), "c1", "u1")
	if delivered != 1 {
		t.Errorf("Broadcast delivered %d, want 1", delivered)
	}
	if len(anonTr.delivered) != 1 {
		t.Error("anonymous connection must receive broadcasts")
	}
}

func TestBroadcastExcludesAnonymousOriginator(t *testing.T) {
	r := NewRegistry(nil)

	anonymous, anonTr := newTestHandle("c1", "design-1")
	peer, peerTr := newTestHandle("c2", "design-1")
	r.Register(anonymous)
	r.Register(peer)
	r.Identify(peer, protocol.UserInfo{UserID: "u2"})

	// The originator has not joined yet, so its userId is empty; exclusion
	// by connection id must still hold.
	delivered := r.Broadcast("design-1", []byte(`{"type":"schema_change"}`), anonymous.ID(), anonymous.UserID())
	if delivered != 1 {
		t.Errorf("Broadcast delivered %d, want 1", delivered)
	}
	if len(anonTr.delivered) != 0 {
		t.Error("anonymous originator must not receive its own broadcast")
	}
	if len(peerTr.delivered) != 1 {
		t.Errorf("peer got %d messages, want 1", len(peerTr.delivered))
	}
}

func TestBroadcastRemovesFailedRecipient(t *testing.T) {
	r := NewRegistry(nil)

	good1, tr1 := newTestHandle("c1", "design-1")
	bad, badTr := newTestHandle("c2", "design-1")
	good2, tr2 := newTestHandle("c3", "design-1")
	r.Register(good1)
	r.Register(bad)
	r.Register(good2)
	badTr.failNext = true

	delivered := r.Broadcast("design-1", []byte(`x`), "", "")
	if delivered != 2 {
		t.Errorf("Broadcast delivered %d, want 2", delivered)
	}
	if !badTr.closed {
		t.Error("failed recipient must be closed")
	}
	if got := r.ConnectionCount("design-1"); got != 2 {
		t.Errorf("ConnectionCount = %d after failed delivery, want 2", got)
	}
	if len(tr1.delivered) != 1 || len(tr2.delivered) != 1 {
		t.Error("failure on one recipient must not abort delivery to the rest")
	}
}

func TestBroadcastUnknownRoom(t *testing.T) {
	r := NewRegistry(nil)
	if got := r.Broadcast("nope", []byte(`x`), "", ""); got != 0 {
		t.Errorf("Broadcast to unknown room delivered %d, want 0", got)
	}
}

func TestRegisterDuringRoomTeardown(t *testing.T) {
	r := NewRegistry(nil)

	// Churn registration against last-connection room deletion. A handle
	// must never land in an entry that was concurrently removed from the
	// room map, which would leave it unreachable by broadcasts.
	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				h, _ := newTestHandle(fmt.Sprintf("g%d-c%d", g, i), "design-1")
				r.Register(h)
				r.Unregister(h)
			}
		}(g)
	}
	wg.Wait()

	h, tr := newTestHandle("survivor", "design-1")
	r.Register(h)
	if got := r.Broadcast("design-1", []byte(`x`), "", ""); got != 1 {
		t.Fatalf("Broadcast delivered %d, want 1", got)
	}
	if len(tr.delivered) != 1 {
		t.Error("freshly registered handle must be reachable")
	}
}

func TestRecordChangeLastWriteWins(t *testing.T) {
	r := NewRegistry(nil)

	h, _ := newTestHandle("c1", "design-1")
	r.Register(h)

	r.RecordChange("design-1", "table_update", []byte(`{"v":1}`), "u1")
	r.RecordChange("design-1", "table_update", []byte(`{"v":2}`), "u2")
	r.RecordChange("design-1", "relationship_update", []byte(`{"r":1}`), "u1")

	snap, ok := r.SchemaSnapshot("design-1")
	if !ok {
		t.Fatal("SchemaSnapshot must succeed for a live room")
	}
	if len(snap.Changes) != 2 {
		t.Fatalf("Changes has %d entries, want 2", len(snap.Changes))
	}
	if string(snap.Changes["table_update"]) != `{"v":2}` {
		t.Errorf("table_update = %s, want latest write", snap.Changes["table_update"])
	}
	if snap.LastUpdatedBy != "u1" {
		t.Errorf("LastUpdatedBy = %q, want %q", snap.LastUpdatedBy, "u1")
	}
}

func TestRecordChangeUnknownRoom(t *testing.T) {
	r := NewRegistry(nil)
	if r.RecordChange("nope", "t", []byte(`{}`), "u1") {
		t.Error("RecordChange on an unknown room must return false")
	}
}

func TestStats(t *testing.T) {
	r := NewRegistry(nil)

	h1, _ := newTestHandle("c1", "design-1")
	h2, _ := newTestHandle("c2", "design-1")
	h3, _ := newTestHandle("c3", "design-2")
	r.Register(h1)
	r.Register(h2)
	r.Register(h3)
	r.Identify(h1, protocol.UserInfo{UserID: "u1"})

	stats := r.Stats()
	if stats.Rooms != 2 {
		t.Errorf("Rooms = %d, want 2", stats.Rooms)
	}
	if stats.Connections != 3 {
		t.Errorf("Connections = %d, want 3", stats.Connections)
	}
	if stats.Identified != 1 {
		t.Errorf("Identified = %d, want 1", stats.Identified)
	}
}

func TestEventsEmitted(t *testing.T) {
	r := NewRegistry(nil)

	h, _ := newTestHandle("c1", "design-1")
	r.Register(h)
	r.Unregister(h)

	want := []EventKind{EventRoomCreated, EventConnRegistered, EventConnRemoved, EventRoomDeleted}
	for _, kind := range want {
		select {
		case ev := <-r.Events():
			if ev.Kind != kind {
				t.Errorf("event kind = %q, want %q", ev.Kind, kind)
			}
		default:
			t.Fatalf("missing expected %q event", kind)
		}
	}
}
