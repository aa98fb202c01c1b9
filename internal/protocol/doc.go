// Package protocol defines the wire messages exchanged between collaboration
// clients and the session hub.
//
// Every message is a single-line JSON object with a mandatory "type" field.
// Inbound bytes are decoded with Decode, which returns one of the typed
// message structs; outbound messages carry their type tag and are serialized
// with Encode.
package protocol
