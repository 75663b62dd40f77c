package upstream

import (
	"testing"
	"time"

	"github.com/snapcal/edgecache/internal/config"
)

func TestNewTransportDefaults(t *testing.T) {
	tr := NewTransport(config.TransportConfig{})

	if tr.MaxIdleConns != 100 {
		t.Errorf("MaxIdleConns = %d", tr.MaxIdleConns)
	}
	if tr.MaxIdleConnsPerHost != 10 {
		t.Errorf("MaxIdleConnsPerHost = %d", tr.MaxIdleConnsPerHost)
	}
	if tr.ResponseHeaderTimeout != 30*time.Second {
		t.Errorf("ResponseHeaderTimeout = %v", tr.ResponseHeaderTimeout)
	}
	if !tr.ForceAttemptHTTP2 {
		t.Error("ForceAttemptHTTP2 should be set")
	}
}

func TestNewTransportOverrides(t *testing.T) {
	tr := NewTransport(config.TransportConfig{
		MaxIdleConns:          7,
		ResponseHeaderTimeout: 2 * time.Second,
		DisableKeepAlives:     true,
		InsecureSkipVerify:    true,
	})

	if tr.MaxIdleConns != 7 {
		t.Errorf("MaxIdleConns = %d", tr.MaxIdleConns)
	}
	if tr.ResponseHeaderTimeout != 2*time.Second {
		t.Errorf("ResponseHeaderTimeout = %v", tr.ResponseHeaderTimeout)
	}
	if !tr.DisableKeepAlives {
		t.Error("DisableKeepAlives not applied")
	}
	if !tr.TLSClientConfig.InsecureSkipVerify {
		t.Error("InsecureSkipVerify not applied")
	}
	// Untouched fields keep defaults
	if tr.MaxIdleConnsPerHost != 10 {
		t.Errorf("MaxIdleConnsPerHost = %d", tr.MaxIdleConnsPerHost)
	}
}
