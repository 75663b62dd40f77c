package config

import (
	"time"
)

// Config represents the complete edgecache configuration
type Config struct {
	Listener ListenerConfig `yaml:"listener"`
	Upstream UpstreamConfig `yaml:"upstream"`
	Worker   WorkerConfig   `yaml:"worker"`
	Cache    CacheConfig    `yaml:"cache"`
	Redis    RedisConfig    `yaml:"redis"`
	Admin    AdminConfig    `yaml:"admin"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ListenerConfig defines the main listener settings
type ListenerConfig struct {
	Address           string        `yaml:"address"` // e.g., ":8100"
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	MaxHeaderBytes    int           `yaml:"max_header_bytes"`
}

// UpstreamConfig defines the backend the worker fronts
type UpstreamConfig struct {
	URL            string               `yaml:"url"`
	Transport      TransportConfig      `yaml:"transport"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// TransportConfig defines upstream HTTP transport settings
type TransportConfig struct {
	MaxIdleConns          int           `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost   int           `yaml:"max_idle_conns_per_host"`
	MaxConnsPerHost       int           `yaml:"max_conns_per_host"`
	IdleConnTimeout       time.Duration `yaml:"idle_conn_timeout"`
	DialTimeout           time.Duration `yaml:"dial_timeout"`
	TLSHandshakeTimeout   time.Duration `yaml:"tls_handshake_timeout"`
	ResponseHeaderTimeout time.Duration `yaml:"response_header_timeout"`
	InsecureSkipVerify    bool          `yaml:"insecure_skip_verify"`
	DisableKeepAlives     bool          `yaml:"disable_keep_alives"`
}

// CircuitBreakerConfig defines the optional upstream circuit breaker.
// When open, requests short-circuit straight to the offline fallback path.
type CircuitBreakerConfig struct {
	Enabled          bool          `yaml:"enabled"`
	FailureThreshold uint32        `yaml:"failure_threshold"` // consecutive failures before opening
	OpenTimeout      time.Duration `yaml:"open_timeout"`      // time before half-open probing
	MaxRequests      uint32        `yaml:"max_requests"`      // probes allowed while half-open
}

// WorkerConfig defines the cache worker lifecycle and classification settings
type WorkerConfig struct {
	// Version is the generation tag. Changing it and reloading triggers
	// install of the new generation followed by activation.
	Version     string   `yaml:"version"`
	APIPrefix   string   `yaml:"api_prefix"`
	ShellAssets []string `yaml:"shell_assets"`

	// Bypass paths (doublestar globs) skip the cache layer entirely.
	Bypass []string `yaml:"bypass"`

	Revalidation RevalidationConfig `yaml:"revalidation"`
	Install      InstallConfig      `yaml:"install"`
}

// RevalidationConfig bounds background refreshes of shell assets
type RevalidationConfig struct {
	Rate  float64 `yaml:"rate"`  // refreshes per second across all assets
	Burst int     `yaml:"burst"` // burst allowance
}

// InstallConfig bounds the shell prefetch retry loop
type InstallConfig struct {
	MaxRetries      uint          `yaml:"max_retries"` // per asset
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
	Timeout         time.Duration `yaml:"timeout"` // whole-install deadline
}

// CacheConfig defines the store layer settings
type CacheConfig struct {
	Backend     string        `yaml:"backend"` // memory or redis
	MaxEntries  int           `yaml:"max_entries"`
	TTL         time.Duration `yaml:"ttl"`           // 0 = generation-based staleness only
	MaxBodySize int64         `yaml:"max_body_size"` // responses larger than this are never stored
}

// RedisConfig defines Redis connection settings for the redis cache backend
type RedisConfig struct {
	Address   string `yaml:"address"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`

	// Bodies at or above this size are gzip-compressed before storage.
	// 0 uses the default; negative disables compression.
	CompressionThreshold int `yaml:"compression_threshold"`
}

// AdminConfig defines the admin/metrics server settings
type AdminConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"` // e.g., ":9100"
}

// LoggingConfig defines logging settings
type LoggingConfig struct {
	Level     string         `yaml:"level"`
	AccessLog bool           `yaml:"access_log"`
	File      string         `yaml:"file"` // optional rotated file sink
	Rotation  RotationConfig `yaml:"rotation"`
}

// RotationConfig defines log file rotation settings (powered by lumberjack).
type RotationConfig struct {
	MaxSizeMB  int  `yaml:"max_size_mb"`
	MaxBackups int  `yaml:"max_backups"`
	MaxAgeDays int  `yaml:"max_age_days"`
	Compress   bool `yaml:"compress"`
}

// DefaultShellAssets is the fixed application-shell list installed per generation.
// It must match the deployed shell exactly.
var DefaultShellAssets = []string{
	"/",
	"/index.html",
	"/manifest.json",
	"/favicon.ico",
	"/icon-192.png",
	"/icon-512.png",
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Listener: ListenerConfig{
			Address:           ":8100",
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      60 * time.Second,
			IdleTimeout:       90 * time.Second,
			ReadHeaderTimeout: 10 * time.Second,
		},
		Upstream: UpstreamConfig{
			Transport: TransportConfig{
				MaxIdleConns:          100,
				MaxIdleConnsPerHost:   10,
				IdleConnTimeout:       90 * time.Second,
				DialTimeout:           10 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
				ResponseHeaderTimeout: 30 * time.Second,
			},
			CircuitBreaker: CircuitBreakerConfig{
				FailureThreshold: 5,
				OpenTimeout:      15 * time.Second,
				MaxRequests:      1,
			},
		},
		Worker: WorkerConfig{
			Version:     "v2",
			APIPrefix:   "/api/",
			ShellAssets: append([]string(nil), DefaultShellAssets...),
			Revalidation: RevalidationConfig{
				Rate:  5,
				Burst: 10,
			},
			Install: InstallConfig{
				MaxRetries:      3,
				InitialInterval: 500 * time.Millisecond,
				MaxInterval:     5 * time.Second,
				Timeout:         60 * time.Second,
			},
		},
		Cache: CacheConfig{
			Backend:     "memory",
			MaxEntries:  4096,
			MaxBodySize: 1 << 20, // 1MB
		},
		Redis: RedisConfig{
			KeyPrefix: "edge:",
		},
		Admin: AdminConfig{
			Enabled: true,
			Address: ":9100",
		},
		Logging: LoggingConfig{
			Level:     "info",
			AccessLog: true,
		},
	}
}
