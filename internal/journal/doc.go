// Package journal writes registry lifecycle events (rooms created and
// deleted, connections registered, identified, removed, schema changes) to
// PostgreSQL in batches. It is optional: a hub without a journal database
// configured simply never starts one.
package journal
