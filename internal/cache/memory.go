package cache

import (
	"sync/atomic"
	"time"

	expirable "github.com/hashicorp/golang-lru/v2/expirable"
)

// MemoryStore is an in-memory LRU store implementing Store. A zero TTL means
// entries never expire on their own; staleness is generation-based and the
// whole store is dropped when its generation is swept.
type MemoryStore struct {
	lru       *expirable.LRU[string, *Entry]
	evictions atomic.Int64
	maxSize   int
}

// NewMemoryStore creates a new in-memory LRU store with the given max size and TTL.
func NewMemoryStore(maxSize int, ttl time.Duration) *MemoryStore {
	if maxSize < 0 {
		maxSize = 0 // unbounded
	}
	s := &MemoryStore{
		maxSize: maxSize,
	}
	s.lru = expirable.NewLRU[string, *Entry](maxSize, func(key string, value *Entry) {
		s.evictions.Add(1)
	}, ttl)
	return s
}

// Get returns a copy of the stored entry, so callers can mutate headers or
// body without corrupting the cache.
func (s *MemoryStore) Get(key string) (*Entry, bool) {
	entry, ok := s.lru.Get(key)
	if !ok {
		return nil, false
	}
	return entry.Clone(), true
}

func (s *MemoryStore) Set(key string, entry *Entry) {
	s.lru.Add(key, entry)
}

func (s *MemoryStore) Delete(key string) {
	s.lru.Remove(key)
}

func (s *MemoryStore) Keys() []string {
	return s.lru.Keys()
}

func (s *MemoryStore) Len() int {
	return s.lru.Len()
}

func (s *MemoryStore) Purge() {
	s.lru.Purge()
}

func (s *MemoryStore) Stats() StoreStats {
	return StoreStats{
		Size:      s.lru.Len(),
		MaxSize:   s.maxSize,
		Evictions: s.evictions.Load(),
	}
}
