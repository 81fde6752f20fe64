// Package redis provides a Redis-backed response cache. Expiry is enforced
// server-side through key TTLs; capacity is bounded by the Redis maxmemory
// policy rather than an entry count.
package redis

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/loran-ai/loran/pkg/models"
)

const keyPrefix = "loran:cache:"

// Store caches call results in Redis.
type Store struct {
	client *redis.Client
	ttl    time.Duration
	hits   atomic.Int64
	misses atomic.Int64
}

// New creates a Store using the given client and entry TTL.
func New(client *redis.Client, ttl time.Duration) *Store {
	return &Store{client: client, ttl: ttl}
}

// Get returns the cached value. Keys past their TTL are expired by the
// server and count as misses.
func (s *Store) Get(key string) (string, bool) {
	val, err := s.client.Get(context.Background(), keyPrefix+key).Result()
	if err != nil {
		s.misses.Add(1)
		return "", false
	}
	s.hits.Add(1)
	return val, true
}

// Put stores a value with the configured TTL. Write errors are swallowed:
// a cache that cannot store simply yields misses later.
func (s *Store) Put(key, value string) {
	s.client.Set(context.Background(), keyPrefix+key, value, s.ttl)
}

// ClearExpired is a no-op: Redis removes expired keys itself.
func (s *Store) ClearExpired() int { return 0 }

// Stats returns hit/miss counters and the current entry count.
func (s *Store) Stats() models.CacheStats {
	var size int
	keys, err := s.client.Keys(context.Background(), keyPrefix+"*").Result()
	if err == nil {
		size = len(keys)
	}
	return models.CacheStats{
		Size:   size,
		Hits:   s.hits.Load(),
		Misses: s.misses.Load(),
	}
}
