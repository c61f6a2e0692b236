package idempotency

import (
	"context"
	"sync"
	"time"
)

type record struct {
	txID      string
	expiresAt time.Time
}

// MemoryStore is a concurrency-safe in-memory idempotency store for tests and
// single-process development mode.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]record
	now     func() time.Time
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]record), now: time.Now}
}

// Lookup implements Store.
func (s *MemoryStore) Lookup(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	if !ok {
		return "", false, nil
	}
	if s.now().After(rec.expiresAt) {
		delete(s.records, key)
		return "", false, nil
	}
	return rec.txID, true, nil
}

// Remember implements Store.
func (s *MemoryStore) Remember(_ context.Context, key, txID string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.records[key]; ok && !s.now().After(rec.expiresAt) {
		return false, nil
	}
	s.records[key] = record{txID: txID, expiresAt: s.now().Add(ttl)}
	return true, nil
}
