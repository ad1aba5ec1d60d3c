// Package adapter implements the uniform dispatch contract over the
// three protocol bindings named in spec §4.5: HTTP, MQTT, and WebSocket.
package adapter

import (
	"context"
	"encoding/json"
	"time"

	"github.com/bobmcallan/robotmw/internal/models"
)

// DispatchRequest is the command payload handed to an adapter.
type DispatchRequest struct {
	CommandID string
	Type      string
	Params    json.RawMessage
	Timeout   time.Duration
	TraceID   string
	Timestamp string
}

// DispatchResult is the robot-reported outcome of a dispatched command.
type DispatchResult struct {
	Result json.RawMessage
}

// Adapter dispatches a command to a single robot over one wire protocol
// and waits (up to the request's timeout) for the robot's reply. All
// adapters return *apperr.Error values from the taxonomy of spec §7 —
// ERR_ROBOT_OFFLINE, ERR_PROTOCOL, ERR_TIMEOUT, ERR_ACTION_INVALID.
type Adapter interface {
	Dispatch(ctx context.Context, robot *models.RobotEntry, req DispatchRequest) (*DispatchResult, error)
	Protocol() models.Protocol
	Close() error
}

// Registry resolves the adapter implementation for a robot's protocol.
type Registry struct {
	adapters map[models.Protocol]Adapter
}

// NewRegistry builds an adapter Registry from the given implementations,
// keyed by the protocol each reports.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[models.Protocol]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Protocol()] = a
	}
	return r
}

// For resolves the adapter for a protocol, or nil if none is registered.
func (r *Registry) For(p models.Protocol) Adapter {
	return r.adapters[p]
}

// Close shuts down every registered adapter.
func (r *Registry) Close() error {
	var firstErr error
	for _, a := range r.adapters {
		if err := a.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
