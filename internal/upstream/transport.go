package upstream

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"

	"github.com/snapcal/edgecache/internal/config"
)

// defaultTransport mirrors DefaultConfig's transport settings.
var defaultTransport = config.TransportConfig{
	MaxIdleConns:          100,
	MaxIdleConnsPerHost:   10,
	IdleConnTimeout:       90 * time.Second,
	DialTimeout:           10 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ResponseHeaderTimeout: 30 * time.Second,
}

// NewTransport creates an HTTP transport from config. Zero values fall back to
// the defaults, so a partially specified config stays sane.
func NewTransport(cfg config.TransportConfig) *http.Transport {
	merged := merge(cfg)

	dialer := &net.Dialer{
		Timeout:   merged.DialTimeout,
		KeepAlive: 30 * time.Second,
	}

	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		MaxIdleConns:          merged.MaxIdleConns,
		MaxIdleConnsPerHost:   merged.MaxIdleConnsPerHost,
		MaxConnsPerHost:       merged.MaxConnsPerHost,
		IdleConnTimeout:       merged.IdleConnTimeout,
		TLSHandshakeTimeout:   merged.TLSHandshakeTimeout,
		ResponseHeaderTimeout: merged.ResponseHeaderTimeout,
		DisableKeepAlives:     merged.DisableKeepAlives,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: merged.InsecureSkipVerify,
		},
		ForceAttemptHTTP2: true,
	}
}

func merge(cfg config.TransportConfig) config.TransportConfig {
	base := defaultTransport
	if cfg.MaxIdleConns > 0 {
		base.MaxIdleConns = cfg.MaxIdleConns
	}
	if cfg.MaxIdleConnsPerHost > 0 {
		base.MaxIdleConnsPerHost = cfg.MaxIdleConnsPerHost
	}
	if cfg.MaxConnsPerHost > 0 {
		base.MaxConnsPerHost = cfg.MaxConnsPerHost
	}
	if cfg.IdleConnTimeout > 0 {
		base.IdleConnTimeout = cfg.IdleConnTimeout
	}
	if cfg.DialTimeout > 0 {
		base.DialTimeout = cfg.DialTimeout
	}
	if cfg.TLSHandshakeTimeout > 0 {
		base.TLSHandshakeTimeout = cfg.TLSHandshakeTimeout
	}
	if cfg.ResponseHeaderTimeout > 0 {
		base.ResponseHeaderTimeout = cfg.ResponseHeaderTimeout
	}
	if cfg.DisableKeepAlives {
		base.DisableKeepAlives = true
	}
	if cfg.InsecureSkipVerify {
		base.InsecureSkipVerify = true
	}
	return base
}
