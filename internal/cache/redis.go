package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"docsense/internal/config"
	"docsense/internal/model"
)

// RedisStore implements the durable cache layer using Redis
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore creates a new Redis-backed cache store
func NewRedisStore(cfg config.RedisConfig, ttl time.Duration) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Verify the connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		log.Error().Err(err).Msg("Failed to connect to Redis")
		return nil, err
	}

	log.Info().
		Str("address", cfg.Address).
		Str("prefix", cfg.Prefix).
		Int("db", cfg.DB).
		Msg("Redis cache store initialized successfully")

	return &RedisStore{
		client: client,
		prefix: cfg.Prefix,
		ttl:    ttl,
	}, nil
}

// formatKey adds the prefix to the content hash
func (s *RedisStore) formatKey(hash string) string {
	return s.prefix + ":extraction:" + hash
}

// Get retrieves a cache entry by content hash
func (s *RedisStore) Get(ctx context.Context, hash string) (*model.CacheEntry, error) {
	key := s.formatKey(hash)

	start := time.Now()
	result, err := s.client.Get(ctx, key).Bytes()
	duration := time.Since(start)

	if err == redis.Nil {
		log.Debug().
			Str("key", key).
			Dur("duration", duration).
			Msg("Cache miss")
		return nil, ErrMiss
	} else if err != nil {
		log.Error().
			Err(err).
			Str("key", key).
			Dur("duration", duration).
			Msg("Error getting entry from Redis")
		return nil, err
	}

	var entry model.CacheEntry
	if err := json.Unmarshal(result, &entry); err != nil {
		log.Error().Err(err).Str("key", key).Msg("Error decoding cache entry")
		return nil, err
	}

	log.Debug().
		Str("key", key).
		Int("size", len(result)).
		Dur("duration", duration).
		Msg("Cache hit")

	return &entry, nil
}

// Put stores a cache entry keyed by content hash. Overwriting is allowed.
func (s *RedisStore) Put(ctx context.Context, hash string, entry *model.CacheEntry) error {
	key := s.formatKey(hash)

	value, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	start := time.Now()
	err = s.client.Set(ctx, key, value, s.ttl).Err()
	duration := time.Since(start)

	if err != nil {
		log.Error().
			Err(err).
			Str("key", key).
			Int("size", len(value)).
			Dur("ttl", s.ttl).
			Dur("duration", duration).
			Msg("Error setting entry in Redis")
		return err
	}

	log.Debug().
		Str("key", key).
		Int("size", len(value)).
		Dur("ttl", s.ttl).
		Dur("duration", duration).
		Msg("Successfully cached extraction")

	return nil
}

// DeleteOlderThan scans the prefix and removes entries cached before the
// cutoff. Redis TTLs already bound entry lifetime; this supports explicit
// pruning runs.
func (s *RedisStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	pattern := s.prefix + ":extraction:*"
	removed := 0

	iter := s.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()

		raw, err := s.client.Get(ctx, key).Bytes()
		if err == redis.Nil {
			continue
		} else if err != nil {
			return removed, err
		}

		var entry model.CacheEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			// Unreadable entries are dead weight, drop them too
			if err := s.client.Del(ctx, key).Err(); err == nil {
				removed++
			}
			continue
		}

		if entry.CachedAt.Before(cutoff) {
			if err := s.client.Del(ctx, key).Err(); err != nil {
				return removed, err
			}
			removed++
		}
	}
	if err := iter.Err(); err != nil {
		return removed, err
	}

	log.Info().
		Int("removed", removed).
		Time("cutoff", cutoff).
		Msg("Pruned durable cache entries")

	return removed, nil
}

// Ping tests the connection to Redis
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases resources used by the store
func (s *RedisStore) Close() error {
	log.Info().Msg("Closing Redis cache connection")
	return s.client.Close()
}
