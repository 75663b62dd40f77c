package cache

import (
	"bytes"
	"context"
	"encoding/gob"
	"io"
	"net/http"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/snapcal/edgecache/internal/logging"
)

// DefaultCompressionThreshold is the body size at which stored entries are
// gzip-compressed.
const DefaultCompressionThreshold = 4 << 10 // 4KB

// RedisStore is a Redis-backed store implementing Store. All Redis failures
// degrade: reads become misses, writes are dropped, both logged.
type RedisStore struct {
	client    *redis.Client
	prefix    string
	ttl       time.Duration
	threshold int // bodies >= threshold are gzipped; <0 disables
}

// storedEntry is the gob envelope for a cached response.
type storedEntry struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	Gzipped    bool
}

func init() {
	// Register http.Header for gob encoding (it's a map[string][]string).
	gob.Register(http.Header{})
}

// NewRedisStore creates a new Redis-backed store. The prefix should include
// the store name, e.g. "edge:static-v2:". A zero TTL stores entries without
// expiry; the generation sweep removes them.
func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration, compressionThreshold int) *RedisStore {
	if compressionThreshold == 0 {
		compressionThreshold = DefaultCompressionThreshold
	}
	return &RedisStore{
		client:    client,
		prefix:    prefix,
		ttl:       ttl,
		threshold: compressionThreshold,
	}
}

func (s *RedisStore) Get(key string) (*Entry, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	data, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if err != nil {
		if err != redis.Nil {
			logging.Warn("redis cache get failed, treating as miss", zap.Error(err))
		}
		return nil, false
	}

	var stored storedEntry
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&stored); err != nil {
		logging.Warn("redis cache decode failed, treating as miss", zap.Error(err))
		return nil, false
	}

	body := stored.Body
	if stored.Gzipped {
		zr, err := gzip.NewReader(bytes.NewReader(stored.Body))
		if err == nil {
			body, err = io.ReadAll(zr)
			zr.Close()
		}
		if err != nil {
			logging.Warn("redis cache decompress failed, treating as miss", zap.Error(err))
			return nil, false
		}
	}

	return &Entry{
		StatusCode: stored.StatusCode,
		Headers:    stored.Headers,
		Body:       body,
	}, true
}

func (s *RedisStore) Set(key string, entry *Entry) {
	stored := storedEntry{
		StatusCode: entry.StatusCode,
		Headers:    entry.Headers,
		Body:       entry.Body,
	}

	if s.threshold >= 0 && len(entry.Body) >= s.threshold {
		var zbuf bytes.Buffer
		zw := gzip.NewWriter(&zbuf)
		if _, err := zw.Write(entry.Body); err == nil && zw.Close() == nil {
			stored.Body = zbuf.Bytes()
			stored.Gzipped = true
		}
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&stored); err != nil {
		logging.Warn("redis cache encode failed", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	if err := s.client.Set(ctx, s.prefix+key, buf.Bytes(), s.ttl).Err(); err != nil {
		logging.Warn("redis cache set failed", zap.Error(err))
	}
}

func (s *RedisStore) Delete(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		logging.Warn("redis cache delete failed", zap.Error(err))
	}
}

func (s *RedisStore) Keys() []string {
	keys, err := s.scan()
	if err != nil {
		logging.Warn("redis cache scan failed", zap.Error(err))
		return nil
	}
	trimmed := make([]string, 0, len(keys))
	for _, k := range keys {
		trimmed = append(trimmed, k[len(s.prefix):])
	}
	return trimmed
}

func (s *RedisStore) Len() int {
	keys, err := s.scan()
	if err != nil {
		logging.Warn("redis cache scan failed", zap.Error(err))
		return 0
	}
	return len(keys)
}

func (s *RedisStore) Purge() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, s.prefix+"*", 100).Result()
		if err != nil {
			logging.Warn("redis cache purge scan failed", zap.Error(err))
			return
		}
		if len(keys) > 0 {
			if err := s.client.Del(ctx, keys...).Err(); err != nil {
				logging.Warn("redis cache bulk delete failed", zap.Error(err))
				return
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
}

func (s *RedisStore) scan() ([]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	var all []string
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, s.prefix+"*", 100).Result()
		if err != nil {
			return nil, err
		}
		all = append(all, keys...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return all, nil
}

func (s *RedisStore) Stats() StoreStats {
	return StoreStats{Size: s.Len()}
}
