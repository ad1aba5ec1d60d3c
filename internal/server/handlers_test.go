package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/robotmw/internal/adapter"
	"github.com/bobmcallan/robotmw/internal/auth"
	"github.com/bobmcallan/robotmw/internal/common"
	"github.com/bobmcallan/robotmw/internal/eventbus"
	"github.com/bobmcallan/robotmw/internal/metrics"
	"github.com/bobmcallan/robotmw/internal/models"
	"github.com/bobmcallan/robotmw/internal/queue"
	"github.com/bobmcallan/robotmw/internal/registry"
	"github.com/bobmcallan/robotmw/internal/store"
	"github.com/bobmcallan/robotmw/internal/validate"
	"github.com/bobmcallan/robotmw/internal/worker"
)

type stubAdapter struct {
	protocol models.Protocol
	dispatch func(ctx context.Context, robot *models.RobotEntry, req adapter.DispatchRequest) (*adapter.DispatchResult, error)
}

func (s *stubAdapter) Dispatch(ctx context.Context, robot *models.RobotEntry, req adapter.DispatchRequest) (*adapter.DispatchResult, error) {
	if s.dispatch != nil {
		return s.dispatch(ctx, robot, req)
	}
	return &adapter.DispatchResult{}, nil
}
func (s *stubAdapter) Protocol() models.Protocol { return s.protocol }
func (s *stubAdapter) Close() error              { return nil }

const testToken = "a-sufficiently-long-test-token"

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := common.NewDefaultConfig()
	cfg.Auth.Token = testToken
	cfg.Worker.MaxRetries = 3

	q := queue.New(10)
	st := store.New(time.Hour)
	reg := registry.New(time.Minute)
	bus := eventbus.New(common.NewLogger("error"))
	go bus.Run()
	t.Cleanup(bus.Stop)

	m := metrics.New(prometheus.NewRegistry())
	ad := &stubAdapter{protocol: models.ProtocolHTTP}
	adapters := adapter.NewRegistry(ad)
	pool := worker.New(worker.Config{PoolSize: 1, PollInterval: 20 * time.Millisecond, DefaultTimeout: time.Second}, q, st, reg, adapters, bus, m, common.NewLogger("error"))
	val := validate.New(reg, validate.Options{})
	authenticator := auth.New(cfg.Auth.Token)

	s := New(Deps{
		Config:        cfg,
		Logger:        common.NewLogger("error"),
		Queue:         q,
		Store:         st,
		Registry:      reg,
		Bus:           bus,
		Pool:          pool,
		Validator:     val,
		Metrics:       m,
		Adapters:      adapters,
		Authenticator: authenticator,
		MetricsReg:    promMetricsHandler(),
	})
	return s
}

func validEnvelope(cmdID, robotID string) models.Envelope {
	return models.Envelope{
		TraceID: "trace-" + cmdID,
		Actor:   models.Actor{Type: models.ActorHuman, ID: "u1"},
		Source:  models.SourceAPI,
		Command: models.CommandSpec{
			ID:     cmdID,
			Type:   "robot.move",
			Target: models.Target{RobotID: robotID},
		},
	}
}

func doRequest(s *Server, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(rec, req)
	return rec
}

func TestHandleCommandSubmit_Success(t *testing.T) {
	s := newTestServer(t)
	s.registry.Register(&models.RobotEntry{RobotID: "r1", Status: models.RobotOnline, Protocol: models.ProtocolHTTP, Capabilities: []string{"robot.move"}})

	rec := doRequest(s, http.MethodPost, "/v1/command", validEnvelope("c1", "r1"), testToken)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var snap models.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, "c1", snap.CommandID)
	assert.Equal(t, models.StatePending, snap.State)
}

func TestHandleCommandSubmit_MissingAuth(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(s, http.MethodPost, "/v1/command", validEnvelope("c1", "r1"), "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleCommandSubmit_WrongMethod(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(s, http.MethodGet, "/v1/command", nil, testToken)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandleCommandSubmit_ValidationFailure(t *testing.T) {
	s := newTestServer(t)
	env := validEnvelope("c1", "r1")
	env.Command.Type = "NotSnakeCase"
	rec := doRequest(s, http.MethodPost, "/v1/command", env, testToken)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var errResp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errResp))
	assert.Equal(t, "ERR_VALIDATION", errResp.Error.Code)
}

func TestHandleCommandSubmit_QueueFull(t *testing.T) {
	s := newTestServer(t)
	s.queue = queue.New(1)
	s.registry.Register(&models.RobotEntry{RobotID: "r1", Status: models.RobotOnline, Protocol: models.ProtocolHTTP, Capabilities: []string{"robot.move"}})

	rec := doRequest(s, http.MethodPost, "/v1/command", validEnvelope("c1", "r1"), testToken)
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = doRequest(s, http.MethodPost, "/v1/command", validEnvelope("c2", "r1"), testToken)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var errResp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errResp))
	assert.Equal(t, "ERR_QUEUE_FULL", errResp.Error.Code)
}

func TestHandleCommandGet_NotFound(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(s, http.MethodGet, "/v1/command/does-not-exist", nil, testToken)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestHandleCommandGet_Success(t *testing.T) {
	s := newTestServer(t)
	s.registry.Register(&models.RobotEntry{RobotID: "r1", Status: models.RobotOnline, Protocol: models.ProtocolHTTP, Capabilities: []string{"robot.move"}})
	doRequest(s, http.MethodPost, "/v1/command", validEnvelope("c1", "r1"), testToken)

	rec := doRequest(s, http.MethodGet, "/v1/command/c1", nil, testToken)
	require.Equal(t, http.StatusOK, rec.Code)

	var snap models.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, "c1", snap.CommandID)
}

func TestHandleCommandCancel_PendingSucceeds(t *testing.T) {
	s := newTestServer(t)
	s.registry.Register(&models.RobotEntry{RobotID: "r1", Status: models.RobotOnline, Protocol: models.ProtocolHTTP, Capabilities: []string{"robot.move"}})
	doRequest(s, http.MethodPost, "/v1/command", validEnvelope("c1", "r1"), testToken)

	rec := doRequest(s, http.MethodPost, "/v1/command/c1/cancel", nil, testToken)
	require.Equal(t, http.StatusOK, rec.Code)

	var snap models.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, models.StateCancelled, snap.State)
}

func TestHandleCommandCancel_UnknownID(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(s, http.MethodPost, "/v1/command/does-not-exist/cancel", nil, testToken)
	assert.NotEqual(t, http.StatusOK, rec.Code)
}

func TestHandleRobotRegister_Success(t *testing.T) {
	s := newTestServer(t)
	body := map[string]interface{}{
		"robot_id": "r1",
		"endpoint": "http://127.0.0.1:9999",
		"protocol": "http",
	}
	rec := doRequest(s, http.MethodPost, "/v1/robots/register", body, testToken)
	require.Equal(t, http.StatusCreated, rec.Code)

	robots := s.registry.List()
	require.Len(t, robots, 1)
	assert.Equal(t, "r1", robots[0].RobotID)
}

func TestHandleRobotRegister_InvalidProtocol(t *testing.T) {
	s := newTestServer(t)
	body := map[string]interface{}{
		"robot_id": "r1",
		"endpoint": "http://127.0.0.1:9999",
		"protocol": "carrier-pigeon",
	}
	rec := doRequest(s, http.MethodPost, "/v1/robots/register", body, testToken)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleRobotHeartbeat_UnknownRobot(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(s, http.MethodPost, "/v1/robots/heartbeat", map[string]string{"robot_id": "ghost"}, testToken)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleRobotHeartbeat_Success(t *testing.T) {
	s := newTestServer(t)
	s.registry.Register(&models.RobotEntry{RobotID: "r1", Status: models.RobotOnline})
	rec := doRequest(s, http.MethodPost, "/v1/robots/heartbeat", map[string]string{"robot_id": "r1"}, testToken)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleRobotsRoot_List(t *testing.T) {
	s := newTestServer(t)
	s.registry.Register(&models.RobotEntry{RobotID: "r1", Status: models.RobotOnline})
	rec := doRequest(s, http.MethodGet, "/v1/robots", nil, testToken)
	require.Equal(t, http.StatusOK, rec.Code)

	var robots []*models.RobotEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &robots))
	assert.Len(t, robots, 1)
}

func TestHandleHealth_ExemptFromAuth(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(s, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleVersion(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(s, http.MethodGet, "/v1/version", nil, testToken)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleDiagnostics(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(s, http.MethodGet, "/v1/diagnostics", nil, testToken)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body, "queue_size_total")
}

func TestHandleAdminQueue(t *testing.T) {
	s := newTestServer(t)
	s.registry.Register(&models.RobotEntry{RobotID: "r1", Status: models.RobotOnline, Protocol: models.ProtocolHTTP, Capabilities: []string{"robot.move"}})
	doRequest(s, http.MethodPost, "/v1/command", validEnvelope("c1", "r1"), testToken)

	rec := doRequest(s, http.MethodGet, "/v1/admin/queue", nil, testToken)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, float64(1), body["total"])
}

func TestHandleAdminCommandPriority_BumpsPendingCommand(t *testing.T) {
	s := newTestServer(t)
	s.registry.Register(&models.RobotEntry{RobotID: "r1", Status: models.RobotOnline, Protocol: models.ProtocolHTTP, Capabilities: []string{"robot.move"}})
	doRequest(s, http.MethodPost, "/v1/command", validEnvelope("c1", "r1"), testToken)

	rec := doRequest(s, http.MethodPost, "/v1/admin/command/c1/priority", nil, testToken)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleAdminCommandPriority_UnknownCommand(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(s, http.MethodPost, "/v1/admin/command/ghost/priority", nil, testToken)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestMiddleware_CORSHeadersOnPreflight(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodOptions, "/v1/command", nil)
	req.Header.Set("Origin", "http://admin.example")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(rec, req)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestMiddleware_CorrelationIDGeneratedWhenAbsent(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(s, http.MethodGet, "/health", nil, "")
	assert.NotEmpty(t, rec.Header().Get("X-Correlation-ID"))
}

func TestMiddleware_CorrelationIDPropagated(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Correlation-ID", "fixed-id")
	rec := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(rec, req)
	assert.Equal(t, "fixed-id", rec.Header().Get("X-Correlation-ID"))
}

func TestMiddleware_InvalidTokenRejected(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(s, http.MethodGet, "/v1/robots", nil, "wrong-token")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
