// Package room implements the server-side connection registry for
// collaborative sessions.
//
// The Registry groups live connection handles by room id, owns the per-room
// schema state store, and provides the broadcast primitive. A room exists
// exactly as long as it has at least one live connection; unregistering the
// last handle deletes the room and its state store atomically.
package room
