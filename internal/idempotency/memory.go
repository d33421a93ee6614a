package idempotency

import (
	"context"
	"sync"
	"time"

	"github.com/pitabwire/catalogboard/model"
)

// MemoryStore is an in-memory Store with TTL support, for tests and single
// instance deployments.
type MemoryStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]memEntry
	now     func() time.Time
}

type memEntry struct {
	data      entry
	expiresAt time.Time
}

// NewMemoryStore creates an empty store whose entries live for ttl.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		ttl:     ttl,
		entries: make(map[string]memEntry),
		now:     time.Now,
	}
}

// Check looks up key, dropping it when expired.
func (s *MemoryStore) Check(_ context.Context, key, inputHash string) (*model.MoveOperation, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !s.now().Before(e.expiresAt) {
		delete(s.entries, key)
		return nil, false, nil
	}
	if e.data.InputHash != inputHash {
		return nil, true, conflict(key)
	}
	op := e.data.Operation
	return &op, true, nil
}

// Save stores op under key.
func (s *MemoryStore) Save(_ context.Context, key, inputHash string, op model.MoveOperation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = memEntry{
		data:      entry{InputHash: inputHash, Operation: op},
		expiresAt: s.now().Add(s.ttl),
	}
	return nil
}

// HealthCheck always succeeds.
func (s *MemoryStore) HealthCheck(context.Context) error { return nil }

// Len returns the number of stored keys, including expired ones.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
