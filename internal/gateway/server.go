package gateway

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/snapcal/edgecache/internal/cache"
	"github.com/snapcal/edgecache/internal/config"
	"github.com/snapcal/edgecache/internal/logging"
	"github.com/snapcal/edgecache/internal/metrics"
	"github.com/snapcal/edgecache/internal/middleware"
	"github.com/snapcal/edgecache/internal/upstream"
	"github.com/snapcal/edgecache/internal/worker"
)

// Server ties the worker to its listeners. The main listener serves client
// traffic through the worker; the admin listener exposes health, stats, cache
// management and Prometheus metrics.
type Server struct {
	cfg        *config.Config
	configPath string

	worker    *worker.Manager
	registry  cache.Registry
	collector *metrics.Collector

	httpServer  *http.Server
	adminServer *http.Server
	watcher     *config.Watcher
	redisClient *redis.Client

	ready     atomic.Bool
	startTime time.Time
}

// NewServer creates a server from config. configPath is the YAML file watched
// for generation updates; empty disables watching.
func NewServer(cfg *config.Config, configPath string) (*Server, error) {
	s := &Server{
		cfg:        cfg,
		configPath: configPath,
		collector:  metrics.NewCollector(prometheus.NewRegistry()),
		startTime:  time.Now(),
	}

	switch cfg.Cache.Backend {
	case "redis":
		s.redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		s.registry = cache.NewRedisRegistry(s.redisClient, cfg.Redis.KeyPrefix, cfg.Cache.TTL, cfg.Redis.CompressionThreshold)
	default:
		s.registry = cache.NewMemoryRegistry(cfg.Cache.MaxEntries, cfg.Cache.TTL)
	}

	client, err := upstream.NewClient(cfg.Upstream)
	if err != nil {
		return nil, fmt.Errorf("creating upstream client: %w", err)
	}

	s.worker, err = worker.New(cfg.Worker, cfg.Cache.MaxBodySize, s.registry, client, s.collector)
	if err != nil {
		return nil, fmt.Errorf("creating worker: %w", err)
	}

	s.httpServer = &http.Server{
		Addr:              cfg.Listener.Address,
		Handler:           s.buildHandler(),
		ReadTimeout:       cfg.Listener.ReadTimeout,
		WriteTimeout:      cfg.Listener.WriteTimeout,
		IdleTimeout:       cfg.Listener.IdleTimeout,
		ReadHeaderTimeout: cfg.Listener.ReadHeaderTimeout,
		MaxHeaderBytes:    cfg.Listener.MaxHeaderBytes,
	}

	if cfg.Admin.Enabled {
		s.adminServer = &http.Server{
			Addr:         cfg.Admin.Address,
			Handler:      s.adminHandler(),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		}
	}

	return s, nil
}

func (s *Server) buildHandler() http.Handler {
	chain := middleware.NewChain(
		middleware.Recovery(),
		middleware.RequestID(),
	)
	if s.cfg.Logging.AccessLog {
		chain = chain.Append(middleware.AccessLog())
	}
	return chain.Then(s.worker)
}

// Handler returns the main request handler, middleware included.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Worker returns the cache worker.
func (s *Server) Worker() *worker.Manager {
	return s.worker
}

// Bootstrap installs the shell for the configured generation and activates
// it. The server only reports ready after a successful bootstrap.
func (s *Server) Bootstrap(ctx context.Context) error {
	if err := s.worker.Install(ctx); err != nil {
		return fmt.Errorf("install: %w", err)
	}
	if err := s.worker.Activate(ctx); err != nil {
		return fmt.Errorf("activate: %w", err)
	}
	s.ready.Store(true)
	return nil
}

// Start starts the listeners.
func (s *Server) Start() error {
	errCh := make(chan error, 2)

	go func() {
		logging.Info("Starting listener", zap.String("address", s.cfg.Listener.Address))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("listener error: %w", err)
		}
	}()

	if s.adminServer != nil {
		go func() {
			logging.Info("Starting admin server", zap.String("address", s.cfg.Admin.Address))
			if err := s.adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- fmt.Errorf("admin server error: %w", err)
			}
		}()
	}

	// Give servers a moment to surface bind errors
	select {
	case err := <-errCh:
		return err
	case <-time.After(100 * time.Millisecond):
	}

	return nil
}

// Run bootstraps the worker, starts the listeners and blocks until a
// shutdown signal arrives. SIGHUP forces a config reload.
func (s *Server) Run() error {
	ctx := context.Background()
	if err := s.Bootstrap(ctx); err != nil {
		return err
	}

	if err := s.Start(); err != nil {
		return err
	}

	if s.configPath != "" {
		if err := s.startWatcher(); err != nil {
			logging.Warn("config watching disabled", zap.Error(err))
		}
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	for sig := range quit {
		switch sig {
		case syscall.SIGHUP:
			s.reloadFromFile()
		default:
			logging.Info("Shutting down gracefully...")
			return s.Shutdown(30 * time.Second)
		}
	}

	return nil
}

func (s *Server) startWatcher() error {
	watcher, err := config.NewWatcher(s.configPath, s.applyConfig)
	if err != nil {
		return err
	}
	if err := watcher.Start(); err != nil {
		watcher.Stop()
		return err
	}
	s.watcher = watcher
	return nil
}

func (s *Server) reloadFromFile() {
	if s.configPath == "" {
		logging.Warn("reload requested but no config path set")
		return
	}
	cfg, err := config.NewLoader().Load(s.configPath)
	if err != nil {
		logging.Error("config reload failed", zap.Error(err))
		return
	}
	s.applyConfig(cfg)
}

// applyConfig reacts to a config change. Only the generation tag is applied
// at runtime; anything else needs a restart and is logged as such.
func (s *Server) applyConfig(cfg *config.Config) {
	newVersion := cfg.Worker.Version
	current := s.worker.Version()
	if newVersion == current {
		logging.Info("config changed without a new generation, restart to apply",
			zap.String("version", current),
		)
		return
	}

	logging.Info("new generation detected",
		zap.String("from", current),
		zap.String("to", newVersion),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	if err := s.worker.Update(ctx, newVersion); err != nil {
		logging.Error("generation update failed, keeping current generation",
			zap.String("version", current),
			zap.Error(err),
		)
		return
	}
}

// Shutdown gracefully shuts down the listeners.
func (s *Server) Shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	s.ready.Store(false)

	if s.watcher != nil {
		s.watcher.Stop()
	}

	if s.adminServer != nil {
		if err := s.adminServer.Shutdown(ctx); err != nil {
			logging.Error("Admin server shutdown error", zap.Error(err))
		}
	}

	if err := s.httpServer.Shutdown(ctx); err != nil {
		logging.Error("Listener shutdown error", zap.Error(err))
		return err
	}

	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			logging.Error("Redis close error", zap.Error(err))
		}
	}

	logging.Info("Server shutdown complete")
	return nil
}
