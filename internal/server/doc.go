// Package server is the hub's HTTP surface: the per-room session WebSocket
// endpoint, the global updates endpoint, and the health probe.
package server
