package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/robotmw/internal/apperr"
	"github.com/bobmcallan/robotmw/internal/models"
)

func newRecord(id, traceID string) *models.Message {
	return &models.Message{
		TraceID: traceID,
		Command: models.CommandSpec{ID: id, Type: "move", Target: models.Target{RobotID: "r1"}},
		State:   models.StatePending,
	}
}

func TestStore_PutRejectsDuplicateID(t *testing.T) {
	s := New(time.Hour)
	require.NoError(t, s.Put(newRecord("a", "t1")))

	err := s.Put(newRecord("a", "t2"))
	require.Error(t, err)
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.CodeValidation, appErr.Code)
}

func TestStore_GetUnknownID(t *testing.T) {
	s := New(time.Hour)
	_, err := s.Get("missing")
	require.Error(t, err)
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.CodeRouting, appErr.Code)
}

func TestStore_ByTrace(t *testing.T) {
	s := New(time.Hour)
	require.NoError(t, s.Put(newRecord("a", "t1")))
	require.NoError(t, s.Put(newRecord("b", "t1")))
	require.NoError(t, s.Put(newRecord("c", "t2")))

	recs := s.ByTrace("t1")
	assert.Len(t, recs, 2)
}

func TestStore_TransitionEnforcesStateMachine(t *testing.T) {
	s := New(time.Hour)
	require.NoError(t, s.Put(newRecord("a", "t1")))

	// pending -> failed is not a legal direct transition.
	err := s.Transition("a", models.StateFailed)
	require.Error(t, err)
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.CodeInternal, appErr.Code)

	require.NoError(t, s.Transition("a", models.StateRunning, WithStartedNow()))
	rec, err := s.Get("a")
	require.NoError(t, err)
	assert.Equal(t, models.StateRunning, rec.State)
	assert.False(t, rec.StartedAt.IsZero())

	require.NoError(t, s.Transition("a", models.StateSucceeded, WithCompletedNow(), WithResult([]byte(`{"ok":true}`))))
	rec, _ = s.Get("a")
	assert.Equal(t, models.StateSucceeded, rec.State)
	assert.False(t, rec.CompletedAt.IsZero())
	assert.JSONEq(t, `{"ok":true}`, string(rec.Result))
}

func TestStore_TransitionUnknownID(t *testing.T) {
	s := New(time.Hour)
	err := s.Transition("missing", models.StateRunning)
	require.Error(t, err)
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.CodeRouting, appErr.Code)
}

func TestStore_WithLastError(t *testing.T) {
	s := New(time.Hour)
	require.NoError(t, s.Put(newRecord("a", "t1")))
	require.NoError(t, s.Transition("a", models.StateRunning))
	require.NoError(t, s.Transition("a", models.StateFailed, WithLastError("ERR_TIMEOUT", "dispatch timed out", nil)))

	rec, _ := s.Get("a")
	require.NotNil(t, rec.LastError)
	assert.Equal(t, "ERR_TIMEOUT", rec.LastError.Code)
}

func TestStore_List(t *testing.T) {
	s := New(time.Hour)
	require.NoError(t, s.Put(newRecord("a", "t1")))
	require.NoError(t, s.Put(newRecord("b", "t1")))
	require.NoError(t, s.Transition("b", models.StateRunning))

	pending := s.List(func(m *models.Message) bool { return m.State == models.StatePending })
	assert.Len(t, pending, 1)
	assert.Equal(t, 2, s.Len())
}

func TestStore_EvictExpired(t *testing.T) {
	s := New(10 * time.Millisecond)
	require.NoError(t, s.Put(newRecord("a", "t1")))
	require.NoError(t, s.Transition("a", models.StateRunning))
	require.NoError(t, s.Transition("a", models.StateCancelled))

	rec, _ := s.Get("a")
	rec.CompletedAt = time.Now().Add(-time.Hour)

	s.evictExpired()
	_, err := s.Get("a")
	require.Error(t, err)
	assert.Equal(t, 0, s.Len())
}

func TestStore_EvictExpired_KeepsFreshTerminal(t *testing.T) {
	s := New(time.Hour)
	require.NoError(t, s.Put(newRecord("a", "t1")))
	require.NoError(t, s.Transition("a", models.StateRunning))
	require.NoError(t, s.Transition("a", models.StateCancelled, WithCompletedNow()))

	s.evictExpired()
	_, err := s.Get("a")
	require.NoError(t, err)
}

func TestStore_RunEvictor_StopsOnContextCancel(t *testing.T) {
	s := New(time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.RunEvictor(ctx, 5*time.Millisecond)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunEvictor did not stop after context cancellation")
	}
}
