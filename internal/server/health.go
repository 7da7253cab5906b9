package server

import (
	"net/http"
	"time"

	"manga-reader/internal/db"
)

// healthResponse is the body of GET /api/health.
type healthResponse struct {
	Status         string    `json:"status"`
	Database       string    `json:"database"`
	Initialization string    `json:"initialization"`
	Version        string    `json:"version,omitempty"`
	Error          string    `json:"error,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// handleHealth reports database reachability: 200 when a ping succeeds
// within two seconds, 503 otherwise. Driver errors are logged, not
// returned to the client. A request whose own deadline has passed says
// nothing about the database and is left to the timeout middleware (504).
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Context().Err() != nil {
		return
	}
	resp := healthResponse{
		Initialization: s.cfg.Guard.State().String(),
		Version:        s.cfg.Build.Version,
		Timestamp:      time.Now().UTC(),
	}

	if err := db.Ping(r.Context(), s.cfg.DB); err != nil {
		if r.Context().Err() != nil {
			return
		}
		s.log.Warn("health check failed", map[string]any{
			"rid":   RequestIDFromContext(r.Context()),
			"error": err.Error(),
		})
		resp.Status = "error"
		resp.Database = "disconnected"
		resp.Error = "database unreachable"
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}

	resp.Status = "ok"
	resp.Database = "connected"
	writeJSON(w, http.StatusOK, resp)
}

// handleLive is a liveness probe: the process is up and serving.
func handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}
