// Package database provides the PostgreSQL connection pool used by the
// optional session-event journal.
package database
