// Package server implements the HTTP surface of spec §4.2/§5: command
// submission and query, robot registration, and system/admin endpoints.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bobmcallan/robotmw/internal/adapter"
	"github.com/bobmcallan/robotmw/internal/auth"
	"github.com/bobmcallan/robotmw/internal/common"
	"github.com/bobmcallan/robotmw/internal/eventbus"
	"github.com/bobmcallan/robotmw/internal/metrics"
	"github.com/bobmcallan/robotmw/internal/queue"
	"github.com/bobmcallan/robotmw/internal/registry"
	"github.com/bobmcallan/robotmw/internal/store"
	"github.com/bobmcallan/robotmw/internal/validate"
	"github.com/bobmcallan/robotmw/internal/worker"
)

// Server wraps the core's HTTP listener, bound to 127.0.0.1 per spec §6.
type Server struct {
	server    *http.Server
	logger    *common.Logger
	startedAt time.Time

	queue     *queue.Queue
	store     *store.Store
	registry  *registry.Registry
	bus       *eventbus.Hub
	pool      *worker.Pool
	validator *validate.Validator
	metrics   *metrics.Metrics
	adapters  *adapter.Registry
	cfg       *common.Config
}

// Deps collects the Server's collaborators so New's signature doesn't
// grow with every package this wires together.
type Deps struct {
	Config        *common.Config
	Logger        *common.Logger
	Queue         *queue.Queue
	Store         *store.Store
	Registry      *registry.Registry
	Bus           *eventbus.Hub
	Pool          *worker.Pool
	Validator     *validate.Validator
	Metrics       *metrics.Metrics
	Adapters      *adapter.Registry
	Authenticator *auth.Authenticator
	MetricsReg    http.Handler // promhttp handler served at /metrics
}

// New builds the Server, registering routes and the middleware chain.
func New(deps Deps) *Server {
	s := &Server{
		logger:    deps.Logger,
		startedAt: time.Now(),
		queue:     deps.Queue,
		store:     deps.Store,
		registry:  deps.Registry,
		bus:       deps.Bus,
		pool:      deps.Pool,
		validator: deps.Validator,
		metrics:   deps.Metrics,
		adapters:  deps.Adapters,
		cfg:       deps.Config,
	}

	mux := http.NewServeMux()
	s.registerRoutes(mux, deps.MetricsReg)
	handler := applyMiddleware(mux, deps.Logger, deps.Authenticator)

	s.server = &http.Server{
		Addr:         fmt.Sprintf("127.0.0.1:%d", deps.Config.Server.Port),
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 300 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Addr returns the listener address.
func (s *Server) Addr() string { return s.server.Addr }

// Start runs the HTTP server (blocking). Returns http.ErrServerClosed on
// a graceful Shutdown.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully drains in-flight requests within ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// promMetricsHandler wraps promhttp.Handler for registerRoutes callers
// that didn't already build one (used by this package's tests).
func promMetricsHandler() http.Handler {
	return promhttp.Handler()
}
