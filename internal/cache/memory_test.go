package cache

import (
	"net/http"
	"strconv"
	"testing"
	"time"
)

func testEntry(body string) *Entry {
	return &Entry{
		StatusCode: 200,
		Headers:    http.Header{"Content-Type": {"application/json"}},
		Body:       []byte(body),
	}
}

func TestMemoryStoreGetSet(t *testing.T) {
	s := NewMemoryStore(10, 0)

	if _, ok := s.Get("/api/food-logs/default_user"); ok {
		t.Fatal("expected miss on empty store")
	}

	s.Set("/api/food-logs/default_user", testEntry(`{"logs": []}`))

	got, ok := s.Get("/api/food-logs/default_user")
	if !ok {
		t.Fatal("expected hit after Set")
	}
	if string(got.Body) != `{"logs": []}` {
		t.Errorf("Body = %s", got.Body)
	}
	if got.StatusCode != 200 {
		t.Errorf("StatusCode = %d", got.StatusCode)
	}
}

func TestMemoryStoreOverwrite(t *testing.T) {
	s := NewMemoryStore(10, 0)

	s.Set("/icon-192.png", testEntry("old bytes"))
	s.Set("/icon-192.png", testEntry("new bytes"))

	got, ok := s.Get("/icon-192.png")
	if !ok {
		t.Fatal("expected hit")
	}
	if string(got.Body) != "new bytes" {
		t.Errorf("Body = %s, want new bytes (last writer wins)", got.Body)
	}
	if s.Len() != 1 {
		t.Errorf("Len = %d, overwrite must not duplicate", s.Len())
	}
}

func TestMemoryStoreDelete(t *testing.T) {
	s := NewMemoryStore(10, 0)
	s.Set("/manifest.json", testEntry("{}"))
	s.Delete("/manifest.json")

	if _, ok := s.Get("/manifest.json"); ok {
		t.Error("expected miss after Delete")
	}
}

func TestMemoryStoreEviction(t *testing.T) {
	s := NewMemoryStore(2, 0)

	for i := 0; i < 5; i++ {
		s.Set("/asset-"+strconv.Itoa(i), testEntry("x"))
	}

	if s.Len() != 2 {
		t.Errorf("Len = %d, want 2", s.Len())
	}
	if s.Stats().Evictions == 0 {
		t.Error("expected evictions to be counted")
	}
}

func TestMemoryStoreTTL(t *testing.T) {
	s := NewMemoryStore(10, 50*time.Millisecond)
	s.Set("/", testEntry("shell"))

	if _, ok := s.Get("/"); !ok {
		t.Fatal("expected hit before expiry")
	}

	time.Sleep(120 * time.Millisecond)

	if _, ok := s.Get("/"); ok {
		t.Error("expected miss after TTL expiry")
	}
}

func TestMemoryStoreZeroTTLNeverExpires(t *testing.T) {
	s := NewMemoryStore(10, 0)
	s.Set("/", testEntry("shell"))

	time.Sleep(50 * time.Millisecond)

	if _, ok := s.Get("/"); !ok {
		t.Error("zero TTL entries must not expire")
	}
}

func TestMemoryStorePurgeAndKeys(t *testing.T) {
	s := NewMemoryStore(10, 0)
	s.Set("/", testEntry("a"))
	s.Set("/index.html", testEntry("b"))

	if got := len(s.Keys()); got != 2 {
		t.Errorf("Keys len = %d, want 2", got)
	}

	s.Purge()
	if s.Len() != 0 {
		t.Errorf("Len after Purge = %d, want 0", s.Len())
	}
}

func TestEntryClone(t *testing.T) {
	e := testEntry("body")
	c := e.Clone()

	c.Body[0] = 'X'
	c.Headers.Set("Content-Type", "text/plain")

	if string(e.Body) != "body" {
		t.Error("Clone must not share body bytes")
	}
	if e.Headers.Get("Content-Type") != "application/json" {
		t.Error("Clone must not share headers")
	}

	var nilEntry *Entry
	if nilEntry.Clone() != nil {
		t.Error("Clone of nil must be nil")
	}
}
