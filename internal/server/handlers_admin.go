package server

import (
	"net/http"

	"github.com/bobmcallan/robotmw/internal/apperr"
	"github.com/bobmcallan/robotmw/internal/models"
)

// handleAdminQueue implements GET /v1/admin/queue (SPEC_FULL.md §5
// supplement): a snapshot of pending and in-flight commands per band.
func (s *Server) handleAdminQueue(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	sizes := s.queue.Size()
	pending := s.store.List(func(m *models.Message) bool { return m.State == models.StatePending })
	running := s.store.List(func(m *models.Message) bool { return m.State == models.StateRunning })

	snapshots := func(msgs []*models.Message) []models.Snapshot {
		out := make([]models.Snapshot, 0, len(msgs))
		for _, m := range msgs {
			out = append(out, m.ToSnapshot())
		}
		return out
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"band_counts":    sizes.Counts,
		"total":          sizes.Total,
		"busy_robots":    s.queue.InFlightRobots(),
		"pending":        snapshots(pending),
		"running":        snapshots(running),
	})
}

// handleAdminCommandPriority implements POST /v1/admin/command/{id}/priority
// (SPEC_FULL.md §5 supplement), bumping a still-pending command to the
// urgent band out of band.
func (s *Server) handleAdminCommandPriority(w http.ResponseWriter, r *http.Request, id string) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	if !s.queue.BumpToUrgent(id) {
		WriteAppError(w, apperr.New(apperr.CodeRouting, "command is not pending or does not exist").WithDetail("command_id", id))
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "bumped", "command_id": id})
}
