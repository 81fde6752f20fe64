// Package memory provides an in-memory LRU cache with per-entry TTL.
package memory

import (
	"container/list"
	"sync"
	"time"

	"github.com/loran-ai/loran/pkg/models"
)

// Store is a bounded in-memory cache. Entries expire lazily: an entry older
// than the TTL is never returned as a hit even if still present, and is only
// removed on access, eviction or an explicit sweep.
type Store struct {
	mu      sync.Mutex
	maxSize int
	ttl     time.Duration
	order   *list.List // front = most recently used
	items   map[string]*list.Element

	hits      int64
	misses    int64
	evictions int64
}

type entry struct {
	key        string
	value      string
	insertedAt time.Time
}

// New creates a Store bounded to maxSize entries with the given TTL.
func New(maxSize int, ttl time.Duration) *Store {
	return &Store{
		maxSize: maxSize,
		ttl:     ttl,
		order:   list.New(),
		items:   make(map[string]*list.Element),
	}
}

// Get returns the cached value and promotes the entry to most recently used.
func (s *Store) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.items[key]
	if !ok {
		s.misses++
		return "", false
	}
	e := el.Value.(*entry)
	if time.Since(e.insertedAt) > s.ttl {
		s.removeLocked(el)
		s.misses++
		return "", false
	}
	s.order.MoveToFront(el)
	s.hits++
	return e.value, true
}

// Put stores a value. An existing entry for the key is replaced, so LRU
// ordering reflects the new insertion. Least-recently-used entries are
// evicted while the store is at capacity.
func (s *Store) Put(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.items[key]; ok {
		s.removeLocked(el)
	}
	for s.order.Len() >= s.maxSize {
		oldest := s.order.Back()
		if oldest == nil {
			break
		}
		s.removeLocked(oldest)
		s.evictions++
	}
	el := s.order.PushFront(&entry{key: key, value: value, insertedAt: time.Now()})
	s.items[key] = el
}

// ClearExpired sweeps expired entries and returns the count removed.
func (s *Store) ClearExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for el := s.order.Front(); el != nil; {
		next := el.Next()
		if time.Since(el.Value.(*entry).insertedAt) > s.ttl {
			s.removeLocked(el)
			removed++
		}
		el = next
	}
	return removed
}

// Clear removes all entries.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.order.Init()
	s.items = make(map[string]*list.Element)
}

// Stats returns cache counters.
func (s *Store) Stats() models.CacheStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return models.CacheStats{
		Size:      s.order.Len(),
		MaxSize:   s.maxSize,
		Hits:      s.hits,
		Misses:    s.misses,
		Evictions: s.evictions,
	}
}

func (s *Store) removeLocked(el *list.Element) {
	s.order.Remove(el)
	delete(s.items, el.Value.(*entry).key)
}
