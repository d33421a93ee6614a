package journal

import (
	"context"
	"sync"

	"github.com/pitabwire/catalogboard/model"
)

// MemoryStore is an in-memory Store. Records are lost on restart.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string][]model.MoveRecord // key: entry ID
}

// NewMemoryStore creates an empty in-memory journal.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string][]model.MoveRecord)}
}

// Record appends rec.
func (s *MemoryStore) Record(_ context.Context, rec model.MoveRecord) error {
	rec.Detail = cloneDetail(rec.Detail)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.EntryID] = append(s.records[rec.EntryID], rec)
	return nil
}

// ListByEntry returns the tenant's records for entryID in append order.
func (s *MemoryStore) ListByEntry(_ context.Context, tenantID, entryID string) ([]model.MoveRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []model.MoveRecord{}
	for _, rec := range s.records[entryID] {
		if rec.TenantID != tenantID {
			continue
		}
		rec.Detail = cloneDetail(rec.Detail)
		out = append(out, rec)
	}
	return out, nil
}

// HealthCheck always succeeds.
func (s *MemoryStore) HealthCheck(context.Context) error { return nil }

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

func cloneDetail(d map[string]any) map[string]any {
	if d == nil {
		return nil
	}
	out := make(map[string]any, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}
