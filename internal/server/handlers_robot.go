package server

import (
	"net/http"
	"time"

	"github.com/bobmcallan/robotmw/internal/apperr"
	"github.com/bobmcallan/robotmw/internal/models"
)

// robotRegisterRequest is the wire body for POST /v1/robots/register.
type robotRegisterRequest struct {
	RobotID      string           `json:"robot_id" validate:"required"`
	RobotType    string           `json:"robot_type"`
	Capabilities []string         `json:"capabilities"`
	Endpoint     string           `json:"endpoint" validate:"required"`
	Protocol     models.Protocol  `json:"protocol" validate:"required"`
	Credential   string           `json:"credential,omitempty"`
}

// handleRobotRegister implements POST /v1/robots/register (spec §4.4).
func (s *Server) handleRobotRegister(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	var req robotRegisterRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	if req.RobotID == "" || req.Endpoint == "" {
		WriteAppError(w, apperr.New(apperr.CodeValidation, "robot_id and endpoint are required"))
		return
	}
	switch req.Protocol {
	case models.ProtocolHTTP, models.ProtocolMQTT, models.ProtocolWebSocket:
	default:
		WriteAppError(w, apperr.New(apperr.CodeValidation, "protocol must be one of http, mqtt, websocket"))
		return
	}

	entry := &models.RobotEntry{
		RobotID:       req.RobotID,
		RobotType:     req.RobotType,
		Capabilities:  req.Capabilities,
		Status:        models.RobotOnline,
		Endpoint:      req.Endpoint,
		Protocol:      req.Protocol,
		Credential:    req.Credential,
		LastHeartbeat: time.Now(),
	}
	s.registry.Register(entry)

	s.bus.Publish(models.Event{
		Severity: models.SeverityInfo,
		Category: models.CategoryRobot,
		Message:  "robot registered",
		Context:  map[string]interface{}{"robot_id": entry.RobotID},
	})

	WriteJSON(w, http.StatusCreated, entry)
}

// robotHeartbeatRequest is the wire body for POST /v1/robots/heartbeat.
type robotHeartbeatRequest struct {
	RobotID string `json:"robot_id" validate:"required"`
}

// handleRobotHeartbeat implements POST /v1/robots/heartbeat (spec §4.4).
func (s *Server) handleRobotHeartbeat(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	var req robotHeartbeatRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	if err := s.registry.Heartbeat(req.RobotID); err != nil {
		writeCommandErr(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
