package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/snapcal/edgecache/internal/config"
)

func newTestBackend() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("backend:" + r.URL.RequestURI()))
	}))
}

func newTestServer(t *testing.T, backendURL string) *Server {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Upstream.URL = backendURL
	cfg.Logging.AccessLog = false

	s, err := NewServer(cfg, "")
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return s
}

func TestServeThroughWorker(t *testing.T) {
	backend := newTestBackend()
	defer backend.Close()

	s := newTestServer(t, backend.URL)
	if err := s.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}

	// API request flows network-first.
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/api/food-logs/default_user", nil))
	if rec.Code != 200 {
		t.Fatalf("api status = %d", rec.Code)
	}
	if rec.Body.String() != "backend:/api/food-logs/default_user" {
		t.Errorf("api body = %q", rec.Body.String())
	}

	// Shell asset comes from the installed static store.
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/index.html", nil))
	if rec.Code != 200 {
		t.Fatalf("shell status = %d", rec.Code)
	}
	if rec.Header().Get("X-Cache") != "HIT" {
		t.Errorf("shell X-Cache = %q, want HIT", rec.Header().Get("X-Cache"))
	}

	// Every response carries a request ID.
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID")
	}
}

func TestOfflineServesCachedAPI(t *testing.T) {
	backend := newTestBackend()
	s := newTestServer(t, backend.URL)
	if err := s.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}

	uri := "/api/daily-summary/default_user?date=2024-01-01"
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest("GET", uri, nil))
	if rec.Code != 200 {
		t.Fatalf("priming status = %d", rec.Code)
	}

	backend.Close()

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest("GET", uri, nil))
	if rec.Code != 200 {
		t.Fatalf("offline status = %d", rec.Code)
	}
	if rec.Header().Get("X-Cache") != "STALE" {
		t.Errorf("X-Cache = %q, want STALE", rec.Header().Get("X-Cache"))
	}
	if rec.Body.String() != "backend:"+uri {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestBootstrapFailsWhenBackendDown(t *testing.T) {
	backend := newTestBackend()
	backendURL := backend.URL
	backend.Close()

	cfg := config.DefaultConfig()
	cfg.Upstream.URL = backendURL
	cfg.Logging.AccessLog = false
	cfg.Worker.Install.MaxRetries = 0
	cfg.Worker.Install.Timeout = 2 * time.Second

	s, err := NewServer(cfg, "")
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}

	if err := s.Bootstrap(context.Background()); err == nil {
		t.Fatal("expected bootstrap failure")
	}
	if s.ready.Load() {
		t.Error("server reports ready after failed bootstrap")
	}
}

func TestApplyConfigRollsGeneration(t *testing.T) {
	backend := newTestBackend()
	defer backend.Close()

	s := newTestServer(t, backend.URL)
	if err := s.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}

	newCfg := config.DefaultConfig()
	newCfg.Worker.Version = "v3"
	s.applyConfig(newCfg)

	if got := s.Worker().Version(); got != "v3" {
		t.Errorf("version = %q, want v3", got)
	}
}

func TestApplyConfigSameVersionIsNoop(t *testing.T) {
	backend := newTestBackend()
	defer backend.Close()

	s := newTestServer(t, backend.URL)
	if err := s.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}

	s.applyConfig(config.DefaultConfig())

	if got := s.Worker().Version(); got != "v2" {
		t.Errorf("version = %q, want v2", got)
	}
}
