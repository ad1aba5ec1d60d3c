package server

import (
	"net/http"

	"github.com/bobmcallan/robotmw/internal/apperr"
	"github.com/bobmcallan/robotmw/internal/models"
)

// handleCommandSubmit implements POST /v1/command (spec §4.1/§5).
func (s *Server) handleCommandSubmit(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var env models.Envelope
	if !DecodeJSON(w, r, &env) {
		return
	}

	if err := s.validator.Envelope(&env); err != nil {
		writeCommandErr(w, err)
		return
	}

	if env.Command.TimeoutMS == 0 {
		env.Command.TimeoutMS = models.DefaultTimeoutMS
	}
	if env.Command.Priority == "" {
		env.Command.Priority = models.PriorityNormal
	}

	msg := models.NewMessage(&env, s.cfg.Worker.MaxRetries)

	// Enqueue before Put: a queue-full rejection must never create a
	// store record, since pending can only transition to running or
	// cancelled (spec §4.6) — there is no "rejected" state to move to.
	if err := s.queue.Enqueue(msg); err != nil {
		appErr, _ := apperr.As(err)
		s.metrics.CommandsRejected.WithLabelValues(string(appErr.Code)).Inc()
		writeCommandErr(w, err)
		return
	}

	if err := s.store.Put(msg); err != nil {
		s.queue.RemovePending(msg.Command.ID)
		writeCommandErr(w, err)
		return
	}

	s.metrics.CommandsEnqueued.Inc()
	s.bus.Publish(models.Event{
		TraceID:  msg.TraceID,
		Severity: models.SeverityInfo,
		Category: models.CategoryCommand,
		Message:  "command admitted",
		Context:  map[string]interface{}{"command_id": msg.Command.ID},
	})

	WriteJSON(w, http.StatusAccepted, msg.ToSnapshot())
}

// handleCommandGet implements GET /v1/command/{id}.
func (s *Server) handleCommandGet(w http.ResponseWriter, r *http.Request, id string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	msg, err := s.store.Get(id)
	if err != nil {
		writeCommandErr(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, msg.ToSnapshot())
}

// handleCommandCancel implements POST /v1/command/{id}/cancel.
func (s *Server) handleCommandCancel(w http.ResponseWriter, r *http.Request, id string) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	if err := s.pool.Cancel(id); err != nil {
		writeCommandErr(w, err)
		return
	}
	msg, err := s.store.Get(id)
	if err != nil {
		writeCommandErr(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, msg.ToSnapshot())
}

func writeCommandErr(w http.ResponseWriter, err error) {
	appErr, ok := apperr.As(err)
	if !ok {
		appErr = apperr.New(apperr.CodeInternal, err.Error())
	}
	WriteAppError(w, appErr)
}
