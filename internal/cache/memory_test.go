package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docsense/internal/model"
)

func memEntry(hash string, cachedAt time.Time) *model.CacheEntry {
	return &model.CacheEntry{ContentHash: hash, ExtractedText: "text for " + hash, CachedAt: cachedAt}
}

func TestMemoryStoreEvictsOldestInsertion(t *testing.T) {
	s := NewMemoryStore(3)
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 3; i++ {
		hash := fmt.Sprintf("hash-%d", i)
		require.NoError(t, s.Put(ctx, hash, memEntry(hash, now)))
	}
	require.NoError(t, s.Put(ctx, "hash-3", memEntry("hash-3", now)))

	_, err := s.Get(ctx, "hash-0")
	assert.ErrorIs(t, err, ErrMiss, "oldest insertion should be evicted")

	for i := 1; i <= 3; i++ {
		_, err := s.Get(ctx, fmt.Sprintf("hash-%d", i))
		assert.NoError(t, err)
	}
	assert.Equal(t, 3, s.Len())
}

func TestMemoryStoreOverwriteKeepsCapacity(t *testing.T) {
	s := NewMemoryStore(2)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.Put(ctx, "a", memEntry("a", now)))
	require.NoError(t, s.Put(ctx, "b", memEntry("b", now)))

	// Overwriting an existing hash must not evict anything.
	require.NoError(t, s.Put(ctx, "a", memEntry("a", now.Add(time.Minute))))

	_, err := s.Get(ctx, "b")
	assert.NoError(t, err)
	assert.Equal(t, 2, s.Len())
}

func TestMemoryStoreDeleteOlderThan(t *testing.T) {
	s := NewMemoryStore(10)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.Put(ctx, "stale-1", memEntry("stale-1", now.Add(-48*time.Hour))))
	require.NoError(t, s.Put(ctx, "stale-2", memEntry("stale-2", now.Add(-25*time.Hour))))
	require.NoError(t, s.Put(ctx, "fresh", memEntry("fresh", now)))

	removed, err := s.DeleteOlderThan(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	_, err = s.Get(ctx, "fresh")
	assert.NoError(t, err)
	_, err = s.Get(ctx, "stale-1")
	assert.ErrorIs(t, err, ErrMiss)
	assert.Equal(t, 1, s.Len())
}

func TestMemoryStoreZeroCapacityUsesDefault(t *testing.T) {
	s := NewMemoryStore(0)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "a", memEntry("a", time.Now())))
	_, err := s.Get(ctx, "a")
	assert.NoError(t, err)
}
