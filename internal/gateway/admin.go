package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"

	"github.com/snapcal/edgecache/internal/cache"
	"github.com/snapcal/edgecache/internal/errors"
	"github.com/snapcal/edgecache/internal/logging"
)

// adminHandler builds the admin API router.
func (s *Server) adminHandler() http.Handler {
	router := httprouter.New()

	router.GET("/health", s.handleHealth)
	router.GET("/ready", s.handleReady)
	router.GET("/stats", s.handleStats)
	router.GET("/caches", s.handleListCaches)
	router.DELETE("/caches/:name", s.handleDeleteCache)
	router.POST("/update", s.handleUpdate)
	router.Handler(http.MethodGet, "/metrics", s.collector.Handler())

	return router
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeAdminJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.worker.Version(),
		"uptime":  time.Since(s.startTime).String(),
	})
}

// handleReady reports whether the shell has been installed and activated.
// Load balancers should gate traffic on this, not on /health.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if !s.ready.Load() {
		writeAdminJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "installing"})
		return
	}
	writeAdminJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	stats := s.registry.Stats()

	stores := make(map[string]any, len(stats))
	for name, st := range stats {
		stores[name] = map[string]any{
			"size":      st.Size,
			"max_size":  st.MaxSize,
			"evictions": st.Evictions,
		}
	}

	writeAdminJSON(w, http.StatusOK, map[string]any{
		"version": s.worker.Version(),
		"static":  cache.StaticName(s.worker.Version()),
		"dynamic": cache.DynamicName(s.worker.Version()),
		"uptime":  time.Since(s.startTime).String(),
		"stores":  stores,
	})
}

func (s *Server) handleListCaches(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	names, err := s.registry.Names()
	if err != nil {
		errors.ErrInternalServer.WithDetails(err.Error()).WriteJSON(w)
		return
	}
	writeAdminJSON(w, http.StatusOK, map[string]any{"caches": names})
}

func (s *Server) handleDeleteCache(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	name := params.ByName("name")

	current := s.worker.Version()
	if name == cache.StaticName(current) {
		// Dropping the live shell would break offline serving.
		errors.ErrBadRequest.WithDetails("cannot delete the active static store").WriteJSON(w)
		return
	}

	if err := s.registry.Delete(name); err != nil {
		errors.ErrInternalServer.WithDetails(err.Error()).WriteJSON(w)
		return
	}

	logging.Info("store deleted via admin API", zap.String("store", name))
	writeAdminJSON(w, http.StatusOK, map[string]any{"deleted": name})
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req struct {
		Version string `json:"version"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Version == "" {
		errors.ErrBadRequest.WithDetails("body must be {\"version\": \"...\"}").WriteJSON(w)
		return
	}

	if err := s.worker.Update(r.Context(), req.Version); err != nil {
		errors.ErrBadGateway.WithDetails(err.Error()).WriteJSON(w)
		return
	}

	writeAdminJSON(w, http.StatusOK, map[string]any{"version": s.worker.Version()})
}

func writeAdminJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
