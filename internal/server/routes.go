package server

import "net/http"

// registerRoutes wires every endpoint of spec §5 plus the supplemented
// admin/version/diagnostics surface of SPEC_FULL.md §5.
func (s *Server) registerRoutes(mux *http.ServeMux, metricsHandler http.Handler) {
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", metricsHandler)
	mux.HandleFunc("/v1/version", s.handleVersion)
	mux.HandleFunc("/v1/diagnostics", s.handleDiagnostics)

	mux.HandleFunc("/v1/command", s.handleCommandSubmit)
	mux.HandleFunc("/v1/command/", s.routeCommandByID)

	mux.HandleFunc("/v1/robots", s.handleRobotsRoot)
	mux.HandleFunc("/v1/robots/register", s.handleRobotRegister)
	mux.HandleFunc("/v1/robots/heartbeat", s.handleRobotHeartbeat)

	mux.HandleFunc("/v1/events", s.handleEvents)

	mux.HandleFunc("/v1/admin/queue", s.handleAdminQueue)
	mux.HandleFunc("/v1/admin/command/", s.routeAdminCommand)
}

// routeCommandByID dispatches /v1/command/{id} and /v1/command/{id}/cancel.
func (s *Server) routeCommandByID(w http.ResponseWriter, r *http.Request) {
	id := PathParam(r, "/v1/command/", "/cancel")
	if id == "" {
		WriteError(w, http.StatusNotFound, "not found")
		return
	}
	if len(r.URL.Path) > len("/v1/command/"+id) {
		s.handleCommandCancel(w, r, id)
		return
	}
	s.handleCommandGet(w, r, id)
}

// routeAdminCommand dispatches /v1/admin/command/{id}/priority.
func (s *Server) routeAdminCommand(w http.ResponseWriter, r *http.Request) {
	id := PathParam(r, "/v1/admin/command/", "/priority")
	if id == "" {
		WriteError(w, http.StatusNotFound, "not found")
		return
	}
	s.handleAdminCommandPriority(w, r, id)
}

// handleRobotsRoot serves GET /v1/robots (list).
func (s *Server) handleRobotsRoot(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	WriteJSON(w, http.StatusOK, s.registry.List())
}
