package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"docsense/internal/model"
)

// ErrMiss is returned when a content hash is not present in any cache layer
var ErrMiss = fmt.Errorf("cache miss")

// Store defines one content cache layer keyed by content hash.
type Store interface {
	// Get retrieves the entry for a content hash, or ErrMiss
	Get(ctx context.Context, hash string) (*model.CacheEntry, error)

	// Put stores an entry. Storing the same hash twice overwrites and is
	// never an error.
	Put(ctx context.Context, hash string, entry *model.CacheEntry) error

	// DeleteOlderThan removes entries cached before the cutoff and returns
	// how many were removed.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

// ContentHash computes the cache key for a document's raw bytes. Two uploads
// of byte-identical content always produce the same key, independent of
// filename or upload time.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ContentCache layers a bounded in-process store in front of a durable store.
// Lookups are pure reads; stores are idempotent. A failing durable layer
// degrades the cache to memory-only, it never fails a pipeline run.
type ContentCache struct {
	memory  *MemoryStore
	durable Store
}

// NewContentCache creates a content cache. durable may be nil, in which case
// only the in-process layer is used.
func NewContentCache(memory *MemoryStore, durable Store) *ContentCache {
	return &ContentCache{
		memory:  memory,
		durable: durable,
	}
}

// Lookup checks the in-process layer, then the durable layer, promoting
// durable hits into memory. Returns ErrMiss when neither layer has the hash.
func (c *ContentCache) Lookup(ctx context.Context, hash string) (*model.CacheEntry, error) {
	if entry, err := c.memory.Get(ctx, hash); err == nil {
		return entry, nil
	}

	if c.durable == nil {
		return nil, ErrMiss
	}

	entry, err := c.durable.Get(ctx, hash)
	if err == ErrMiss {
		return nil, ErrMiss
	} else if err != nil {
		log.Warn().Err(err).Str("hash", hash).Msg("Durable cache lookup failed, treating as miss")
		return nil, ErrMiss
	}

	// Promote so repeat lookups stay in-process
	if err := c.memory.Put(ctx, hash, entry); err != nil {
		log.Warn().Err(err).Str("hash", hash).Msg("Failed to promote cache entry to memory")
	}

	return entry, nil
}

// Store writes an extraction result to both layers. Durable write failures
// are logged and ignored: caching is an optimization, never a correctness
// requirement.
func (c *ContentCache) Store(ctx context.Context, hash, text string, confidence float64, pageCount int, metadata map[string]string) error {
	entry := &model.CacheEntry{
		ContentHash:          hash,
		ExtractedText:        text,
		ExtractionConfidence: confidence,
		PageCount:            pageCount,
		Metadata:             metadata,
		CachedAt:             time.Now(),
	}

	if err := c.memory.Put(ctx, hash, entry); err != nil {
		return err
	}

	if c.durable != nil {
		if err := c.durable.Put(ctx, hash, entry); err != nil {
			log.Warn().
				Err(err).
				Str("hash", hash).
				Str("errorKind", string(model.ErrCacheStoreFailed)).
				Msg("Durable cache store failed, entry kept in memory only")
		}
	}

	return nil
}

// Prune removes entries older than the cutoff from both layers.
func (c *ContentCache) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	removed, err := c.memory.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	if c.durable != nil {
		n, err := c.durable.DeleteOlderThan(ctx, cutoff)
		if err != nil {
			return removed, err
		}
		removed += n
	}

	return removed, nil
}
