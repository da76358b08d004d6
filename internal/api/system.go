package api

import (
	"context"
	"net/http"
	"sort"
	"time"
)

// healthCheckTimeout bounds the component checks of one /health request.
const healthCheckTimeout = 2 * time.Second

// handleHealth reports the server and component health. Any failing
// component makes the response 503 with status "degraded".
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	names := make([]string, 0, len(s.components))
	for name := range s.components {
		names = append(names, name)
	}
	sort.Strings(names)

	status, code := "ok", http.StatusOK
	components := make(map[string]string, len(names))
	for _, name := range names {
		if err := s.components[name].HealthCheck(ctx); err != nil {
			components[name] = err.Error()
			status, code = "degraded", http.StatusServiceUnavailable
			continue
		}
		components[name] = "ok"
	}

	writeJSON(w, code, map[string]any{
		"status":     status,
		"version":    s.version,
		"components": components,
	})
}

// handleCacheStats returns the request cache counters.
func (s *Server) handleCacheStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.feeder.CacheStats())
}

// handleResetCacheStats zeroes the request cache counters.
func (s *Server) handleResetCacheStats(w http.ResponseWriter, _ *http.Request) {
	s.feeder.ResetCacheStats()
	w.WriteHeader(http.StatusNoContent)
}

// handleSession returns the vendor session without its tokens.
//
// Query parameters:
//   - force: "true" to log in again
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	info, err := s.feeder.Session(r.Context(), queryBool(r, "force"))
	if err != nil {
		writeFeederError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}
