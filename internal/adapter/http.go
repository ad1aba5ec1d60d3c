package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/bobmcallan/robotmw/internal/apperr"
	"github.com/bobmcallan/robotmw/internal/common"
	"github.com/bobmcallan/robotmw/internal/models"
)

// HTTPOption configures an HTTPAdapter.
type HTTPOption func(*HTTPAdapter)

// WithHTTPRateLimit caps outbound requests per second across all robots
// reached over this adapter, guarding a shared downstream gateway.
func WithHTTPRateLimit(requestsPerSecond int) HTTPOption {
	return func(a *HTTPAdapter) {
		a.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
	}
}

// WithHTTPLogger attaches a logger for dispatch diagnostics.
func WithHTTPLogger(logger *common.Logger) HTTPOption {
	return func(a *HTTPAdapter) { a.logger = logger }
}

// httpDispatchEnvelope is the wire body POSTed to a robot's HTTP endpoint.
type httpDispatchEnvelope struct {
	CommandID string          `json:"command_id"`
	Type      string          `json:"type"`
	Params    json.RawMessage `json:"params"`
	TraceID   string          `json:"trace_id"`
	Timestamp string          `json:"timestamp"`
}

// HTTPAdapter dispatches commands as a JSON POST to the robot's endpoint
// URL, grounded on the teacher's rate-limited EODHD REST client.
type HTTPAdapter struct {
	client  *http.Client
	limiter *rate.Limiter
	logger  *common.Logger
}

// NewHTTPAdapter constructs an HTTPAdapter with sane defaults, overridden
// by opts.
func NewHTTPAdapter(opts ...HTTPOption) *HTTPAdapter {
	a := &HTTPAdapter{
		client:  &http.Client{},
		limiter: rate.NewLimiter(rate.Limit(50), 50),
		logger:  common.NewDefaultLogger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Protocol reports "http".
func (a *HTTPAdapter) Protocol() models.Protocol { return models.ProtocolHTTP }

// Dispatch POSTs the command to the robot's endpoint and waits for its
// response body, classifying non-2xx replies per spec §4.5.
func (a *HTTPAdapter) Dispatch(ctx context.Context, robot *models.RobotEntry, req DispatchRequest) (*DispatchResult, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, apperr.New(apperr.CodeTimeout, "rate limiter wait cancelled")
	}

	body, err := json.Marshal(httpDispatchEnvelope{
		CommandID: req.CommandID,
		Type:      req.Type,
		Params:    req.Params,
		TraceID:   req.TraceID,
		Timestamp: req.Timestamp,
	})
	if err != nil {
		return nil, apperr.New(apperr.CodeInternal, "failed to encode dispatch body")
	}

	ctx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, robot.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, apperr.New(apperr.CodeProtocol, "failed to build dispatch request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if robot.Credential != "" {
		httpReq.Header.Set("Authorization", "Bearer "+robot.Credential)
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, apperr.New(apperr.CodeTimeout, "robot did not respond before timeout")
		}
		return nil, apperr.New(apperr.CodeRobotOffline, fmt.Sprintf("robot unreachable: %v", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.New(apperr.CodeProtocol, "failed to read robot response")
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return &DispatchResult{Result: respBody}, nil
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		return nil, apperr.New(apperr.CodeActionInvalid, "robot rejected command parameters").WithDetail("status", resp.StatusCode)
	case resp.StatusCode >= 500:
		return nil, apperr.New(apperr.CodeProtocol, "robot reported an internal error").WithDetail("status", resp.StatusCode)
	default:
		return nil, apperr.New(apperr.CodeProtocol, "unexpected robot response status").WithDetail("status", resp.StatusCode)
	}
}

// Close is a no-op; the underlying http.Client needs no teardown.
func (a *HTTPAdapter) Close() error { return nil }
