package adapter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/robotmw/internal/apperr"
	"github.com/bobmcallan/robotmw/internal/models"
)

func TestHTTPAdapter_DispatchSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ack"}`))
	}))
	defer server.Close()

	a := NewHTTPAdapter(WithHTTPRateLimit(100))
	robot := &models.RobotEntry{RobotID: "r1", Endpoint: server.URL}

	result, err := a.Dispatch(context.Background(), robot, DispatchRequest{CommandID: "c1", Type: "move", Timeout: time.Second})
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"ack"}`, string(result.Result))
}

func TestHTTPAdapter_DispatchActionInvalid(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	a := NewHTTPAdapter(WithHTTPRateLimit(100))
	robot := &models.RobotEntry{RobotID: "r1", Endpoint: server.URL}

	_, err := a.Dispatch(context.Background(), robot, DispatchRequest{CommandID: "c1", Type: "move", Timeout: time.Second})
	require.Error(t, err)
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.CodeActionInvalid, appErr.Code)
}

func TestHTTPAdapter_DispatchServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	a := NewHTTPAdapter(WithHTTPRateLimit(100))
	robot := &models.RobotEntry{RobotID: "r1", Endpoint: server.URL}

	_, err := a.Dispatch(context.Background(), robot, DispatchRequest{CommandID: "c1", Type: "move", Timeout: time.Second})
	require.Error(t, err)
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.CodeProtocol, appErr.Code)
}

func TestHTTPAdapter_DispatchUnreachable(t *testing.T) {
	a := NewHTTPAdapter(WithHTTPRateLimit(100))
	robot := &models.RobotEntry{RobotID: "r1", Endpoint: "http://127.0.0.1:1"}

	_, err := a.Dispatch(context.Background(), robot, DispatchRequest{CommandID: "c1", Type: "move", Timeout: time.Second})
	require.Error(t, err)
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.CodeRobotOffline, appErr.Code)
}

func TestHTTPAdapter_DispatchTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	a := NewHTTPAdapter(WithHTTPRateLimit(100))
	robot := &models.RobotEntry{RobotID: "r1", Endpoint: server.URL}

	_, err := a.Dispatch(context.Background(), robot, DispatchRequest{CommandID: "c1", Type: "move", Timeout: 10 * time.Millisecond})
	require.Error(t, err)
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.CodeTimeout, appErr.Code)
}

func TestHTTPAdapter_Protocol(t *testing.T) {
	a := NewHTTPAdapter()
	assert.Equal(t, models.ProtocolHTTP, a.Protocol())
}
