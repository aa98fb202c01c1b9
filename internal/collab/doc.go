// Package collab is the client-side collaboration façade: a typed event
// surface over the connection manager. Wire messages become domain events
// delivered to subscribed handlers; outgoing calls become wire messages.
package collab
