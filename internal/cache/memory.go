package cache

import (
	"context"
	"sync"
	"time"

	"docsense/internal/model"
)

// MemoryStore is the bounded in-process cache layer. Eviction is FIFO by
// insertion order once capacity is reached. All operations take the store
// lock, so a concurrent lookup always completes before pruning can remove
// the entry it read.
type MemoryStore struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]*model.CacheEntry
	order    []string
}

// NewMemoryStore creates a bounded in-process store.
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = 100
	}
	return &MemoryStore{
		capacity: capacity,
		entries:  make(map[string]*model.CacheEntry, capacity),
		order:    make([]string, 0, capacity),
	}
}

// Get retrieves an entry by hash.
func (s *MemoryStore) Get(_ context.Context, hash string) (*model.CacheEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[hash]
	if !ok {
		return nil, ErrMiss
	}
	return entry, nil
}

// Put stores an entry, evicting the oldest insertion when full. Re-storing
// an existing hash overwrites in place without consuming capacity.
func (s *MemoryStore) Put(_ context.Context, hash string, entry *model.CacheEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[hash]; exists {
		s.entries[hash] = entry
		return nil
	}

	if len(s.order) >= s.capacity {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.entries, oldest)
	}

	s.entries[hash] = entry
	s.order = append(s.order, hash)
	return nil
}

// DeleteOlderThan removes entries cached before the cutoff.
func (s *MemoryStore) DeleteOlderThan(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	kept := s.order[:0]
	for _, hash := range s.order {
		entry := s.entries[hash]
		if entry != nil && entry.CachedAt.Before(cutoff) {
			delete(s.entries, hash)
			removed++
			continue
		}
		kept = append(kept, hash)
	}
	s.order = kept

	return removed, nil
}

// Len returns the number of cached entries.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
