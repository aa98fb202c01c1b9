// Package session implements the server side of the collaboration protocol.
//
// The Hub accepts WebSocket connections for a room, registers them with the
// room registry, and dispatches the join/leave/cursor/schema-change/presence
// sub-protocol per connection. Each inbound message is handled to completion
// before the next one for that connection; messages from different
// connections interleave freely.
package session
