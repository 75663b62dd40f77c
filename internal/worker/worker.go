package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/snapcal/edgecache/internal/cache"
	"github.com/snapcal/edgecache/internal/config"
	edgeerrors "github.com/snapcal/edgecache/internal/errors"
	"github.com/snapcal/edgecache/internal/logging"
	"github.com/snapcal/edgecache/internal/metrics"
	"github.com/snapcal/edgecache/internal/middleware"
	"github.com/snapcal/edgecache/internal/upstream"
)

const revalidateTimeout = 30 * time.Second

// Manager is the caching worker. It owns the current generation's static and
// dynamic stores and dispatches every request to one of three strategies:
// network-first for API paths, stale-while-revalidate for shell assets, and
// plain forwarding for bypass paths.
//
// Lifecycle: Install prefetches the shell into the static store, Activate
// sweeps stale generation stores, Update does both for a new generation and
// swaps it in. ServeHTTP keeps serving the old generation until the swap.
type Manager struct {
	cfg         config.WorkerConfig
	maxBodySize int64
	registry    cache.Registry
	fetcher     upstream.Fetcher
	collector   *metrics.Collector
	classifier  *Classifier

	mu      sync.RWMutex
	version string
	static  cache.Store
	dynamic cache.Store

	revalidate singleflight.Group
	limiter    *rate.Limiter
}

// New creates a Manager serving the generation named in cfg.Version. The
// stores are opened immediately; call Install and Activate before serving.
func New(cfg config.WorkerConfig, maxBodySize int64, registry cache.Registry, fetcher upstream.Fetcher, collector *metrics.Collector) (*Manager, error) {
	static, err := registry.Open(cache.StaticName(cfg.Version))
	if err != nil {
		return nil, fmt.Errorf("opening static store: %w", err)
	}
	dynamic, err := registry.Open(cache.DynamicName(cfg.Version))
	if err != nil {
		return nil, fmt.Errorf("opening dynamic store: %w", err)
	}

	revalRate := rate.Limit(cfg.Revalidation.Rate)
	if revalRate <= 0 {
		revalRate = rate.Inf
	}
	burst := cfg.Revalidation.Burst
	if burst <= 0 {
		burst = 1
	}

	return &Manager{
		cfg:         cfg,
		maxBodySize: maxBodySize,
		registry:    registry,
		fetcher:     fetcher,
		collector:   collector,
		classifier:  NewClassifier(cfg.APIPrefix, cfg.Bypass),
		version:     cfg.Version,
		static:      static,
		dynamic:     dynamic,
		limiter:     rate.NewLimiter(revalRate, burst),
	}, nil
}

// Version returns the currently served generation tag.
func (m *Manager) Version() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.version
}

// Install prefetches every shell asset into the current generation's static
// store. Each asset is retried with exponential backoff; a non-2xx response
// is permanent. The first asset that cannot be installed fails the whole
// install, so a generation is never activated with a partial shell.
//
// Install is idempotent: re-running overwrites the same keys.
func (m *Manager) Install(ctx context.Context) error {
	m.mu.RLock()
	version, static := m.version, m.static
	m.mu.RUnlock()
	return m.install(ctx, version, static)
}

func (m *Manager) install(ctx context.Context, version string, static cache.Store) error {
	if m.cfg.Install.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.Install.Timeout)
		defer cancel()
	}

	start := time.Now()
	for _, asset := range m.cfg.ShellAssets {
		if err := m.installAsset(ctx, static, asset); err != nil {
			m.collector.RecordInstall(false)
			return fmt.Errorf("installing %s: %w", asset, err)
		}
	}

	m.collector.RecordInstall(true)
	logging.Info("shell installed",
		zap.String("version", version),
		zap.Int("assets", len(m.cfg.ShellAssets)),
		zap.Duration("took", time.Since(start)),
	)
	return nil
}

func (m *Manager) installAsset(ctx context.Context, static cache.Store, asset string) error {
	op := func() error {
		entry, err := m.fetch(ctx, asset)
		if err != nil {
			return err
		}
		if entry.StatusCode < 200 || entry.StatusCode >= 300 {
			// Retrying will not turn a 404 shell asset into a 200.
			return backoff.Permanent(fmt.Errorf("unexpected status %d", entry.StatusCode))
		}
		static.Set(asset, entry)
		return nil
	}

	b := backoff.NewExponentialBackOff()
	if m.cfg.Install.InitialInterval > 0 {
		b.InitialInterval = m.cfg.Install.InitialInterval
	}
	if m.cfg.Install.MaxInterval > 0 {
		b.MaxInterval = m.cfg.Install.MaxInterval
	}

	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, uint64(m.cfg.Install.MaxRetries)), ctx))
}

// Activate sweeps every store that does not belong to the current generation,
// including leftovers of abandoned naming schemes. Deletion failures are
// logged per store and do not stop the sweep.
func (m *Manager) Activate(ctx context.Context) error {
	m.mu.RLock()
	version := m.version
	m.mu.RUnlock()

	keep := map[string]bool{
		cache.StaticName(version):  true,
		cache.DynamicName(version): true,
	}

	names, err := m.registry.Names()
	if err != nil {
		return fmt.Errorf("listing stores: %w", err)
	}

	swept := 0
	for _, name := range names {
		if keep[name] {
			continue
		}
		if err := m.registry.Delete(name); err != nil {
			logging.Warn("failed to delete stale store",
				zap.String("store", name),
				zap.Error(err),
			)
			continue
		}
		swept++
		logging.Info("deleted stale store", zap.String("store", name))
	}

	m.collector.RecordSwept(swept)
	m.collector.RecordActivation()
	logging.Info("generation active",
		zap.String("version", version),
		zap.Int("swept", swept),
	)
	return nil
}

// Update installs the shell for a new generation, swaps it in, and sweeps the
// old one. If the install fails the current generation keeps serving and the
// partially filled store is removed.
func (m *Manager) Update(ctx context.Context, newVersion string) error {
	m.mu.RLock()
	current := m.version
	m.mu.RUnlock()
	if newVersion == current {
		return nil
	}

	static, err := m.registry.Open(cache.StaticName(newVersion))
	if err != nil {
		return fmt.Errorf("opening static store: %w", err)
	}
	dynamic, err := m.registry.Open(cache.DynamicName(newVersion))
	if err != nil {
		return fmt.Errorf("opening dynamic store: %w", err)
	}

	if err := m.install(ctx, newVersion, static); err != nil {
		if derr := m.registry.Delete(cache.StaticName(newVersion)); derr != nil {
			logging.Warn("failed to delete partial store",
				zap.String("store", cache.StaticName(newVersion)),
				zap.Error(derr),
			)
		}
		if derr := m.registry.Delete(cache.DynamicName(newVersion)); derr != nil {
			logging.Warn("failed to delete partial store",
				zap.String("store", cache.DynamicName(newVersion)),
				zap.Error(derr),
			)
		}
		return err
	}

	m.mu.Lock()
	m.version = newVersion
	m.static = static
	m.dynamic = dynamic
	m.mu.Unlock()

	return m.Activate(ctx)
}

// ServeHTTP dispatches a request to its strategy and writes the outcome.
func (m *Manager) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	class := m.classifier.Classify(r.URL.Path)

	switch class {
	case ClassBypass:
		m.serveBypass(w, r)
	case ClassAPI:
		m.serveNetworkFirst(w, r)
	default:
		m.serveStaleWhileRevalidate(w, r)
	}
}

func (m *Manager) serveBypass(w http.ResponseWriter, r *http.Request) {
	entry, err := m.forward(r)
	if err != nil {
		m.collector.RecordRequest("bypass", "error")
		m.writeError(w, r, err)
		return
	}
	m.collector.RecordRequest("bypass", "network")
	writeEntry(w, entry, "")
}

// serveNetworkFirst always tries the network. Successful responses refresh
// the dynamic store keyed by the full request URI; on network failure a GET
// falls back to the freshest cached copy, marked X-Cache: STALE.
func (m *Manager) serveNetworkFirst(w http.ResponseWriter, r *http.Request) {
	entry, err := m.forward(r)
	if err == nil {
		if r.Method == http.MethodGet && m.storable(entry) {
			m.dynamicStore().Set(r.URL.RequestURI(), entry.Clone())
		}
		m.collector.RecordRequest("api", "network")
		writeEntry(w, entry, "")
		return
	}

	logging.Warn("upstream unreachable, trying cache",
		zap.String("uri", r.URL.RequestURI()),
		zap.Error(err),
	)

	if r.Method == http.MethodGet {
		if cached, ok := m.lookup(r); ok {
			m.collector.RecordFallback()
			m.collector.RecordRequest("api", "fallback")
			writeEntry(w, cached, "STALE")
			return
		}
		m.collector.RecordCacheMiss("dynamic")
	}

	m.collector.RecordRequest("api", "error")
	m.writeError(w, r, err)
}

// serveStaleWhileRevalidate answers GETs from the static store immediately
// when possible and refreshes the entry in the background. Misses fetch
// synchronously and populate the store.
func (m *Manager) serveStaleWhileRevalidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		m.serveBypass(w, r)
		return
	}

	key := r.URL.Path
	if entry, ok := m.staticStore().Get(key); ok {
		m.collector.RecordCacheHit("static")
		m.collector.RecordRequest("static", "cache")
		writeEntry(w, entry, "HIT")
		m.scheduleRevalidate(key)
		return
	}
	m.collector.RecordCacheMiss("static")

	entry, err := m.forward(r)
	if err != nil {
		m.collector.RecordRequest("static", "error")
		m.writeError(w, r, err)
		return
	}
	if m.storable(entry) {
		m.staticStore().Set(key, entry.Clone())
	}
	m.collector.RecordRequest("static", "network")
	writeEntry(w, entry, "")
}

// lookup searches the dynamic store by full request URI first, then the
// static store by path.
func (m *Manager) lookup(r *http.Request) (*cache.Entry, bool) {
	if entry, ok := m.dynamicStore().Get(r.URL.RequestURI()); ok {
		m.collector.RecordCacheHit("dynamic")
		return entry, true
	}
	if entry, ok := m.staticStore().Get(r.URL.Path); ok {
		m.collector.RecordCacheHit("static")
		return entry, true
	}
	return nil, false
}

// scheduleRevalidate refreshes a shell asset in the background. Refreshes are
// rate limited globally and deduplicated per key, so a burst of hits on one
// asset costs at most one upstream fetch.
func (m *Manager) scheduleRevalidate(key string) {
	if !m.limiter.Allow() {
		m.collector.RecordRevalidation("skipped")
		return
	}

	flightKey := strconv.FormatUint(xxhash.Sum64String(key), 16)
	go func() {
		m.revalidate.Do(flightKey, func() (any, error) {
			ctx, cancel := context.WithTimeout(context.Background(), revalidateTimeout)
			defer cancel()

			entry, err := m.fetch(ctx, key)
			if err != nil {
				m.collector.RecordRevalidation("failed")
				logging.Warn("revalidation failed",
					zap.String("path", key),
					zap.Error(err),
				)
				return nil, err
			}
			if !m.storable(entry) {
				m.collector.RecordRevalidation("failed")
				return nil, nil
			}

			// Writes land in whatever generation is current by now.
			m.staticStore().Set(key, entry)
			m.collector.RecordRevalidation("refreshed")
			return nil, nil
		})
	}()
}

func (m *Manager) fetch(ctx context.Context, path string) (*cache.Entry, error) {
	start := time.Now()
	entry, err := m.fetcher.Fetch(ctx, path)
	m.collector.ObserveUpstreamLatency(time.Since(start).Seconds())
	return entry, err
}

func (m *Manager) forward(r *http.Request) (*cache.Entry, error) {
	start := time.Now()
	entry, err := m.fetcher.Forward(r)
	m.collector.ObserveUpstreamLatency(time.Since(start).Seconds())
	return entry, err
}

// storable reports whether a response may enter a cache store: a 2xx within
// the body size cap that does not forbid storage.
func (m *Manager) storable(entry *cache.Entry) bool {
	if entry.StatusCode < 200 || entry.StatusCode >= 300 {
		return false
	}
	if m.maxBodySize > 0 && int64(len(entry.Body)) > m.maxBodySize {
		return false
	}
	if cc := entry.Headers.Get("Cache-Control"); cc != "" {
		if hasDirective(cc, "no-store") || hasDirective(cc, "private") {
			return false
		}
	}
	return true
}

func (m *Manager) staticStore() cache.Store {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.static
}

func (m *Manager) dynamicStore() cache.Store {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dynamic
}

func (m *Manager) writeError(w http.ResponseWriter, r *http.Request, err error) {
	edgeErr := edgeerrors.ErrBadGateway
	switch {
	case upstream.IsBreakerOpen(err):
		edgeErr = edgeerrors.ErrServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		edgeErr = edgeerrors.ErrGatewayTimeout
	}
	if reqID := middleware.GetRequestID(r); reqID != "" {
		edgeErr = edgeErr.WithRequestID(reqID)
	}
	edgeErr.WriteJSON(w)
}

func writeEntry(w http.ResponseWriter, entry *cache.Entry, cacheStatus string) {
	h := w.Header()
	for k, vv := range entry.Headers {
		for _, v := range vv {
			h.Add(k, v)
		}
	}
	if cacheStatus != "" {
		h.Set("X-Cache", cacheStatus)
	}
	w.WriteHeader(entry.StatusCode)
	w.Write(entry.Body)
}

func hasDirective(cc, directive string) bool {
	for _, token := range strings.Split(cc, ",") {
		if strings.EqualFold(strings.TrimSpace(token), directive) {
			return true
		}
	}
	return false
}
