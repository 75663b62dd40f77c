package middleware

import (
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/snapcal/edgecache/internal/logging"
)

var accessLogRWPool = sync.Pool{
	New: func() any { return &accessLogResponseWriter{} },
}

// AccessLogConfig configures the access log middleware
type AccessLogConfig struct {
	// SkipPaths are paths that should not be logged
	SkipPaths []string
}

// AccessLog creates an access log middleware with default config
func AccessLog() Middleware {
	return AccessLogWithConfig(AccessLogConfig{})
}

// AccessLogWithConfig creates an access log middleware with custom config
func AccessLogWithConfig(cfg AccessLogConfig) Middleware {
	skipPaths := make(map[string]bool)
	for _, p := range cfg.SkipPaths {
		skipPaths[p] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skipPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()

			lrw := accessLogRWPool.Get().(*accessLogResponseWriter)
			lrw.ResponseWriter = w
			lrw.status = http.StatusOK
			lrw.bytes = 0

			next.ServeHTTP(lrw, r)

			duration := time.Since(start)

			// Stack-allocated array avoids slice growth allocations.
			var fields [10]zap.Field
			n := 0
			fields[n] = zap.String("request_id", GetRequestID(r))
			n++
			fields[n] = zap.String("remote_addr", r.RemoteAddr)
			n++
			fields[n] = zap.String("method", r.Method)
			n++
			fields[n] = zap.String("path", r.URL.Path)
			n++
			fields[n] = zap.Int("status", lrw.status)
			n++
			fields[n] = zap.Int64("body_bytes", lrw.bytes)
			n++
			fields[n] = zap.Duration("response_time", duration)
			n++
			if r.URL.RawQuery != "" {
				fields[n] = zap.String("query", r.URL.RawQuery)
				n++
			}
			if cacheStatus := lrw.Header().Get("X-Cache"); cacheStatus != "" {
				fields[n] = zap.String("cache", cacheStatus)
				n++
			}
			if ua := r.UserAgent(); ua != "" {
				fields[n] = zap.String("user_agent", ua)
				n++
			}

			logging.Info("HTTP request", fields[:n]...)

			lrw.ResponseWriter = nil
			accessLogRWPool.Put(lrw)
		})
	}
}

// accessLogResponseWriter wraps http.ResponseWriter to capture status and bytes
type accessLogResponseWriter struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (lrw *accessLogResponseWriter) WriteHeader(status int) {
	lrw.status = status
	lrw.ResponseWriter.WriteHeader(status)
}

func (lrw *accessLogResponseWriter) Write(b []byte) (int, error) {
	n, err := lrw.ResponseWriter.Write(b)
	lrw.bytes += int64(n)
	return n, err
}

// Flush implements http.Flusher
func (lrw *accessLogResponseWriter) Flush() {
	if f, ok := lrw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
