// Package presence is the REST client for the external collaborators the
// hub consumes as black boxes: marking users online/offline, updating
// presence, and persisting schema change records.
//
// All calls are dispatched through an internal queue and are fire-and-forget
// relative to the broadcast path; a full queue drops the call rather than
// blocking the caller.
package presence
