package cache

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	snap      Snapshot
	expiresAt time.Time
}

// MemoryStore keeps snapshots in process memory.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
}

// NewMemoryStore constructs a MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
	}
}

// Get returns the entry for key when it has not expired.
func (s *MemoryStore) Get(_ context.Context, key string, now time.Time) (Snapshot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[key]
	if !ok {
		return Snapshot{}, false, nil
	}
	if !now.Before(entry.expiresAt) {
		delete(s.entries, key)
		return Snapshot{}, false, nil
	}
	return entry.snap, true, nil
}

// Set stores snap under key until now+ttl.
func (s *MemoryStore) Set(_ context.Context, key string, snap Snapshot, ttl time.Duration, now time.Time) error {
	if key == "" || ttl <= 0 {
		return nil
	}
	s.mu.Lock()
	s.entries[key] = memoryEntry{snap: snap, expiresAt: now.Add(ttl)}
	s.mu.Unlock()
	return nil
}

// Delete drops key.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}
