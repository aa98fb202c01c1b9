package room

import (
	"encoding/json"
	"sync"
	"time"
)

// stateStore holds the most recently observed payload per schema change type
// for one room. Writes are last-write-wins; there is no merging.
type stateStore struct {
	mu            sync.RWMutex
	changes       map[string]json.RawMessage
	lastUpdatedBy string
	lastUpdatedAt time.Time
}

func newStateStore() *stateStore {
	return &stateStore{changes: make(map[string]json.RawMessage)}
}

func (s *stateStore) record(changeType string, data json.RawMessage, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.changes[changeType] = data
	s.lastUpdatedBy = userID
	s.lastUpdatedAt = time.Now()
}

func (s *stateStore) snapshot() SchemaSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	changes := make(map[string]json.RawMessage, len(s.changes))
	for k, v := range s.changes {
		changes[k] = v
	}
	return SchemaSnapshot{
		Changes:       changes,
		LastUpdatedBy: s.lastUpdatedBy,
		LastUpdatedAt: s.lastUpdatedAt,
	}
}

// SchemaSnapshot is a point-in-time copy of a room's schema state.
type SchemaSnapshot struct {
	Changes       map[string]json.RawMessage
	LastUpdatedBy string
	LastUpdatedAt time.Time
}
