package cache

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// LegacyDynamicName is an abandoned store name from an earlier caching scheme.
// It is never written to, but activation sweeps it if a deployment left one
// behind.
const LegacyDynamicName = "dynamic-logs"

// StaticName returns the static store name for a generation tag.
func StaticName(version string) string {
	return "static-" + version
}

// DynamicName returns the dynamic store name for a generation tag.
func DynamicName(version string) string {
	return "dynamic-" + version
}

// Registry is the collection of named cache stores. At any instant at most one
// static and one dynamic name are current; every other name is a stale
// generation eligible for deletion.
type Registry interface {
	// Open returns the store with the given name, creating it if absent.
	Open(name string) (Store, error)
	// Names lists every store name currently present.
	Names() ([]string, error)
	// Delete drops a store and all its entries.
	Delete(name string) error
	// Stats reports per-store statistics.
	Stats() map[string]StoreStats
}

// MemoryRegistry keeps all stores in process memory.
type MemoryRegistry struct {
	mu         sync.Mutex
	stores     map[string]*MemoryStore
	maxEntries int
	ttl        time.Duration
}

// NewMemoryRegistry creates a registry whose stores are LRU-bounded to
// maxEntries each, with an optional TTL.
func NewMemoryRegistry(maxEntries int, ttl time.Duration) *MemoryRegistry {
	return &MemoryRegistry{
		stores:     make(map[string]*MemoryStore),
		maxEntries: maxEntries,
		ttl:        ttl,
	}
}

func (r *MemoryRegistry) Open(name string) (Store, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.stores[name]; ok {
		return s, nil
	}
	s := NewMemoryStore(r.maxEntries, r.ttl)
	r.stores[name] = s
	return s, nil
}

func (r *MemoryRegistry) Names() ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.stores))
	for name := range r.stores {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (r *MemoryRegistry) Delete(name string) error {
	r.mu.Lock()
	s, ok := r.stores[name]
	delete(r.stores, name)
	r.mu.Unlock()

	if ok {
		s.Purge()
	}
	return nil
}

func (r *MemoryRegistry) Stats() map[string]StoreStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := make(map[string]StoreStats, len(r.stores))
	for name, s := range r.stores {
		stats[name] = s.Stats()
	}
	return stats
}

// RedisRegistry keeps stores in Redis, one key-prefix per store, with the set
// of known store names tracked under <prefix>caches so Names survives restarts.
type RedisRegistry struct {
	client    *redis.Client
	prefix    string
	ttl       time.Duration
	threshold int

	mu     sync.Mutex
	opened map[string]*RedisStore
}

// NewRedisRegistry creates a Redis-backed registry. prefix namespaces all keys,
// e.g. "edge:".
func NewRedisRegistry(client *redis.Client, prefix string, ttl time.Duration, compressionThreshold int) *RedisRegistry {
	return &RedisRegistry{
		client:    client,
		prefix:    prefix,
		ttl:       ttl,
		threshold: compressionThreshold,
		opened:    make(map[string]*RedisStore),
	}
}

func (r *RedisRegistry) namesKey() string {
	return r.prefix + "caches"
}

func (r *RedisRegistry) Open(name string) (Store, error) {
	r.mu.Lock()
	if s, ok := r.opened[name]; ok {
		r.mu.Unlock()
		return s, nil
	}
	s := NewRedisStore(r.client, r.prefix+name+":", r.ttl, r.threshold)
	r.opened[name] = s
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := r.client.SAdd(ctx, r.namesKey(), name).Err(); err != nil {
		return nil, err
	}
	return s, nil
}

func (r *RedisRegistry) Names() ([]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	names, err := r.client.SMembers(ctx, r.namesKey()).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

func (r *RedisRegistry) Delete(name string) error {
	r.mu.Lock()
	s, ok := r.opened[name]
	if !ok {
		s = NewRedisStore(r.client, r.prefix+name+":", r.ttl, r.threshold)
	}
	delete(r.opened, name)
	r.mu.Unlock()

	s.Purge()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return r.client.SRem(ctx, r.namesKey(), name).Err()
}

func (r *RedisRegistry) Stats() map[string]StoreStats {
	names, err := r.Names()
	if err != nil {
		return nil
	}
	stats := make(map[string]StoreStats, len(names))
	for _, name := range names {
		s := NewRedisStore(r.client, r.prefix+name+":", r.ttl, r.threshold)
		stats[name] = s.Stats()
	}
	return stats
}
