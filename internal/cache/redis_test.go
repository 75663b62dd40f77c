package cache

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func redisAvailable(t *testing.T) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{
		Addr:        "localhost:6379",
		DialTimeout: 100 * time.Millisecond,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	return client
}

func cleanupRedisKeys(t *testing.T, client *redis.Client, prefix string) {
	t.Helper()
	ctx := context.Background()
	var cursor uint64
	for {
		keys, next, err := client.Scan(ctx, cursor, prefix+"*", 100).Result()
		if err != nil {
			return
		}
		if len(keys) > 0 {
			client.Del(ctx, keys...)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
}

func TestRedisStoreGetSet(t *testing.T) {
	client := redisAvailable(t)
	prefix := "edge:test:getset:"
	defer cleanupRedisKeys(t, client, prefix)

	store := NewRedisStore(client, prefix, 30*time.Second, -1)

	if _, ok := store.Get("/api/food-logs/default_user"); ok {
		t.Fatal("expected miss on empty store")
	}

	store.Set("/api/food-logs/default_user", testEntry(`{"logs": []}`))

	got, ok := store.Get("/api/food-logs/default_user")
	if !ok {
		t.Fatal("expected hit after Set")
	}
	if string(got.Body) != `{"logs": []}` {
		t.Errorf("Body = %s", got.Body)
	}
	if got.Headers.Get("Content-Type") != "application/json" {
		t.Errorf("Headers = %v", got.Headers)
	}
}

func TestRedisStoreCompression(t *testing.T) {
	client := redisAvailable(t)
	prefix := "edge:test:gzip:"
	defer cleanupRedisKeys(t, client, prefix)

	// threshold 1 forces compression of any body
	store := NewRedisStore(client, prefix, 30*time.Second, 1)

	big := strings.Repeat("nutrition facts ", 1024)
	store.Set("/index.html", testEntry(big))

	got, ok := store.Get("/index.html")
	if !ok {
		t.Fatal("expected hit")
	}
	if !bytes.Equal(got.Body, []byte(big)) {
		t.Error("round-tripped body differs from original")
	}

	// Raw stored value must be smaller than the original body
	raw, err := client.Get(context.Background(), prefix+"/index.html").Bytes()
	if err != nil {
		t.Fatalf("raw get: %v", err)
	}
	if len(raw) >= len(big) {
		t.Errorf("stored %d bytes for a %d byte body, expected compression", len(raw), len(big))
	}
}

func TestRedisStoreDeleteAndPurge(t *testing.T) {
	client := redisAvailable(t)
	prefix := "edge:test:del:"
	defer cleanupRedisKeys(t, client, prefix)

	store := NewRedisStore(client, prefix, 30*time.Second, -1)
	store.Set("/a", testEntry("a"))
	store.Set("/b", testEntry("b"))

	store.Delete("/a")
	if _, ok := store.Get("/a"); ok {
		t.Error("expected miss after Delete")
	}

	store.Purge()
	if store.Len() != 0 {
		t.Errorf("Len after Purge = %d", store.Len())
	}
}

func TestRedisRegistry(t *testing.T) {
	client := redisAvailable(t)
	prefix := "edge:test:reg:"
	defer cleanupRedisKeys(t, client, prefix)

	r := NewRedisRegistry(client, prefix, 30*time.Second, -1)

	s, err := r.Open("static-v2")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	s.Set("/", testEntry("shell"))

	if _, err := r.Open("dynamic-v2"); err != nil {
		t.Fatalf("Open: %v", err)
	}

	names, err := r.Names()
	if err != nil {
		t.Fatalf("Names: %v", err)
	}
	if len(names) != 2 {
		t.Fatalf("Names = %v", names)
	}

	if err := r.Delete("static-v2"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	names, _ = r.Names()
	if len(names) != 1 || names[0] != "dynamic-v2" {
		t.Errorf("Names after delete = %v", names)
	}
	if _, ok := s.Get("/"); ok {
		t.Error("deleted store must not retain entries")
	}
}
