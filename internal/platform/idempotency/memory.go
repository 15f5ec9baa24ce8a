package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps entries in process. Used for local runs and tests.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

func (s *MemoryStore) Begin(_ context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (State, Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.entries[key]; ok && !existing.expired(now) {
		return classify(existing, fingerprint)
	}
	entry := newEntry(key, fingerprint, now, ttl)
	s.entries[key] = entry
	return StateAcquired, entry, nil
}

func (s *MemoryStore) Complete(_ context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[key]
	if !ok {
		entry = newEntry(key, fingerprint, now, ttl)
	} else if entry.Fingerprint != fingerprint {
		return ErrKeyReuse
	}
	s.entries[key] = complete(entry, resp, now, ttl)
	return nil
}

func (s *MemoryStore) Abandon(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

func (s *MemoryStore) Purge(_ context.Context, now time.Time, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for key, entry := range s.entries {
		if limit > 0 && removed >= limit {
			break
		}
		if entry.expired(now) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed, nil
}
