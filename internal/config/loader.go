package config

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/goccy/go-yaml"
)

// Loader handles configuration loading and parsing
type Loader struct {
	envPattern *regexp.Regexp
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		envPattern: regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`),
	}
}

// Load reads and parses a configuration file
func (l *Loader) Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return l.Parse(data)
}

// Parse parses configuration from YAML bytes
func (l *Loader) Parse(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := l.expandEnvVars(string(data))

	// Start with defaults
	cfg := DefaultConfig()

	// Unmarshal YAML into config
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	// Validate configuration
	if err := l.validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} with environment variable values
func (l *Loader) expandEnvVars(input string) string {
	return l.envPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := strings.TrimPrefix(strings.TrimSuffix(match, "}"), "${")
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match // Keep original if env var not set
	})
}

// validate checks configuration for errors
func (l *Loader) validate(cfg *Config) error {
	if cfg.Listener.Address == "" {
		return fmt.Errorf("listener.address is required")
	}

	// Validate upstream
	if cfg.Upstream.URL == "" {
		return fmt.Errorf("upstream.url is required")
	}
	u, err := url.Parse(cfg.Upstream.URL)
	if err != nil {
		return fmt.Errorf("upstream.url is invalid: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("upstream.url must use http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("upstream.url must include a host")
	}

	// Validate worker
	if cfg.Worker.Version == "" {
		return fmt.Errorf("worker.version is required")
	}
	if strings.ContainsAny(cfg.Worker.Version, " /") {
		return fmt.Errorf("worker.version must not contain spaces or slashes")
	}
	if !strings.HasPrefix(cfg.Worker.APIPrefix, "/") {
		return fmt.Errorf("worker.api_prefix must start with '/'")
	}
	for i, asset := range cfg.Worker.ShellAssets {
		if !strings.HasPrefix(asset, "/") {
			return fmt.Errorf("worker.shell_assets[%d]: asset path %q must start with '/'", i, asset)
		}
	}
	seen := make(map[string]bool, len(cfg.Worker.ShellAssets))
	for _, asset := range cfg.Worker.ShellAssets {
		if seen[asset] {
			return fmt.Errorf("worker.shell_assets: duplicate asset %q", asset)
		}
		seen[asset] = true
	}
	for i, pattern := range cfg.Worker.Bypass {
		if !doublestar.ValidatePattern(pattern) {
			return fmt.Errorf("worker.bypass[%d]: invalid glob pattern %q", i, pattern)
		}
	}
	if cfg.Worker.Revalidation.Rate < 0 {
		return fmt.Errorf("worker.revalidation.rate must be >= 0")
	}
	if cfg.Worker.Revalidation.Burst < 0 {
		return fmt.Errorf("worker.revalidation.burst must be >= 0")
	}
	if cfg.Worker.Install.InitialInterval < 0 || cfg.Worker.Install.MaxInterval < 0 {
		return fmt.Errorf("worker.install intervals must be >= 0")
	}

	// Validate cache
	switch cfg.Cache.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("cache.backend must be \"memory\" or \"redis\", got %q", cfg.Cache.Backend)
	}
	if cfg.Cache.Backend == "redis" && cfg.Redis.Address == "" {
		return fmt.Errorf("cache.backend \"redis\" requires redis.address to be configured")
	}
	if cfg.Cache.MaxEntries < 0 {
		return fmt.Errorf("cache.max_entries must be >= 0")
	}
	if cfg.Cache.TTL < 0 {
		return fmt.Errorf("cache.ttl must be >= 0")
	}
	if cfg.Cache.MaxBodySize < 0 {
		return fmt.Errorf("cache.max_body_size must be >= 0")
	}

	// Validate admin
	if cfg.Admin.Enabled && cfg.Admin.Address == "" {
		return fmt.Errorf("admin.address is required when admin is enabled")
	}
	if cfg.Admin.Enabled && cfg.Admin.Address == cfg.Listener.Address {
		return fmt.Errorf("admin.address must differ from listener.address")
	}

	return nil
}
