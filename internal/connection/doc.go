// Package connection implements the client-side connection manager.
//
// The Manager owns at most one physical WebSocket per logical endpoint key.
// Connect attempts to the same key are throttled; opening a new socket for a
// key forcibly replaces any existing one and cancels its pending timers. A
// connection that stays open past the stability window resets the reconnect
// attempt counter; abnormal closures reconnect with exponential backoff and
// jitter until the attempt budget is exhausted.
package connection
