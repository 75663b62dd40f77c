package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"go.uber.org/zap"

	"github.com/snapcal/edgecache/internal/errors"
	"github.com/snapcal/edgecache/internal/logging"
)

// Recovery creates a panic recovery middleware. A panicking handler is logged
// with its stack and answered with a 500 JSON error.
func Recovery() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logging.Error("Panic recovered",
						zap.Any("error", err),
						zap.String("path", r.URL.Path),
						zap.ByteString("stack", debug.Stack()),
					)

					edgeErr := errors.ErrInternalServer.WithDetails(fmt.Sprintf("panic: %v", err))
					if reqID := GetRequestID(r); reqID != "" {
						edgeErr = edgeErr.WithRequestID(reqID)
					}
					edgeErr.WriteJSON(w)
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
