package server

import (
	"net/http"
	"time"

	"github.com/bobmcallan/robotmw/internal/common"
)

// handleHealth implements GET /health, the supervisor readiness probe
// of spec §6.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet, http.MethodHead) {
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleVersion implements GET /v1/version (SPEC_FULL.md §5 supplement).
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{
		"version": common.GetVersion(),
		"build":   common.GetBuild(),
		"commit":  common.GetGitCommit(),
	})
}

// handleDiagnostics implements GET /v1/diagnostics (SPEC_FULL.md §5
// supplement): uptime, queue depth, and connected subscriber count.
func (s *Server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	uptime := time.Since(s.startedAt).Round(time.Second)
	sizes := s.queue.Size()

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"version":           common.GetVersion(),
		"build":             common.GetBuild(),
		"commit":            common.GetGitCommit(),
		"uptime":            uptime.String(),
		"started_at":        s.startedAt,
		"queue_size_total":  sizes.Total,
		"queue_size_band":   sizes.Counts,
		"event_subscribers": s.bus.ClientCount(),
		"robots_registered": len(s.registry.List()),
		"records_tracked":   s.store.Len(),
	})
}

// handleEvents implements GET /v1/events, the WebSocket event stream of
// spec §4.7.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	s.bus.ServeWS(w, r)
}
