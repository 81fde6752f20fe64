// Package cache defines the response cache consulted by the gateway before
// dispatching a call upstream.
package cache

import (
	"crypto/sha256"
	"fmt"

	"github.com/loran-ai/loran/pkg/models"
)

// Store is a content-addressed memo of prior call results. A miss is the
// normal "go compute it" path, never an error.
type Store interface {
	// Get returns the cached value for key. Expired entries are misses.
	Get(key string) (string, bool)
	// Put stores a value, evicting older entries as needed.
	Put(key, value string)
	// ClearExpired removes expired entries and returns how many were removed.
	// Advisory housekeeping; stores with server-side expiry may return 0.
	ClearExpired() int
	// Stats returns hit/miss counters.
	Stats() models.CacheStats
}

// Key computes the cache key for a payload and its generation parameters.
func Key(payload string, maxOutput int) string {
	h := sha256.New()
	h.Write([]byte(payload))
	fmt.Fprintf(h, ":%d", maxOutput)
	return fmt.Sprintf("%x", h.Sum(nil))
}
