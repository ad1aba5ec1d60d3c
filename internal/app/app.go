// Package app wires every component of the robot command middleware
// into a single service container, grounded on the teacher's App struct.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bobmcallan/robotmw/internal/adapter"
	"github.com/bobmcallan/robotmw/internal/auth"
	"github.com/bobmcallan/robotmw/internal/common"
	"github.com/bobmcallan/robotmw/internal/eventbus"
	"github.com/bobmcallan/robotmw/internal/metrics"
	"github.com/bobmcallan/robotmw/internal/queue"
	"github.com/bobmcallan/robotmw/internal/registry"
	"github.com/bobmcallan/robotmw/internal/server"
	"github.com/bobmcallan/robotmw/internal/store"
	"github.com/bobmcallan/robotmw/internal/validate"
	"github.com/bobmcallan/robotmw/internal/worker"
)

// App holds every initialized component of the core, the shared
// container used by cmd/robotmwd.
type App struct {
	Config *common.Config
	Logger *common.Logger

	Queue    *queue.Queue
	Store    *store.Store
	Registry *registry.Registry
	Bus      *eventbus.Hub
	Pool     *worker.Pool
	Adapters *adapter.Registry
	Server   *server.Server

	StartupTime time.Time

	cancelBackground context.CancelFunc
}

// New initializes every component from config and wires them together.
// brokerURL may be empty, in which case the MQTT adapter is omitted.
func New(config *common.Config, brokerURL string) (*App, error) {
	startupStart := time.Now()

	logger := common.NewLogger(config.Logging.Level)
	authenticator := auth.New(config.Auth.Token)

	q := queue.New(config.Queue.MaxSize)
	st := store.New(config.StoreTTL())
	reg := registry.New(config.HeartbeatTimeout())
	bus := eventbus.New(logger)

	httpAdapter := adapter.WrapWithCircuitBreaker(adapter.NewHTTPAdapter(adapter.WithHTTPLogger(logger)), logger)
	wsAdapter := adapter.WrapWithCircuitBreaker(adapter.NewWebSocketAdapter(logger), logger)
	adapters := []adapter.Adapter{httpAdapter, wsAdapter}

	if brokerURL != "" {
		mqttAdapter, err := adapter.NewMQTTAdapter(brokerURL, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("mqtt adapter unavailable, mqtt-protocol robots will report ERR_PROTOCOL")
		} else {
			adapters = append(adapters, adapter.WrapWithCircuitBreaker(mqttAdapter, logger))
		}
	}
	adapterRegistry := adapter.NewRegistry(adapters...)

	promReg := prometheus.NewRegistry()
	m := metrics.New(promReg)

	validator := validate.New(reg, validate.Options{StrictTargetCheck: true})

	pool := worker.New(worker.Config{
		PoolSize:       config.Worker.MaxWorkers,
		PollInterval:   config.PollInterval(),
		DefaultTimeout: time.Duration(config.Worker.DefaultTimeoutMS) * time.Millisecond,
	}, q, st, reg, adapterRegistry, bus, m, logger)

	srv := server.New(server.Deps{
		Config:        config,
		Logger:        logger,
		Queue:         q,
		Store:         st,
		Registry:      reg,
		Bus:           bus,
		Pool:          pool,
		Validator:     validator,
		Metrics:       m,
		Adapters:      adapterRegistry,
		Authenticator: authenticator,
		MetricsReg:    promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}),
	})

	a := &App{
		Config:      config,
		Logger:      logger,
		Queue:       q,
		Store:       st,
		Registry:    reg,
		Bus:         bus,
		Pool:        pool,
		Adapters:    adapterRegistry,
		Server:      srv,
		StartupTime: startupStart,
	}

	logger.Info().Dur("startup", time.Since(startupStart)).Msg("app initialized")
	return a, nil
}

// Start launches the event bus loop, worker pool, and background
// watchdogs (robot heartbeat timeout, store TTL eviction).
func (a *App) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	a.cancelBackground = cancel

	go a.Bus.Run()
	a.Pool.Start()
	go a.Registry.RunWatchdog(ctx, 15*time.Second)
	go a.Store.RunEvictor(ctx, 30*time.Second)
}

// Close shuts down every component, waiting up to the configured
// shutdown grace period for in-flight dispatches to drain.
func (a *App) Close() error {
	if a.cancelBackground != nil {
		a.cancelBackground()
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.Config.ShutdownGrace())
	defer cancel()

	a.Pool.Stop(ctx)
	a.Bus.Stop()

	if err := a.Adapters.Close(); err != nil {
		return fmt.Errorf("failed to close adapters: %w", err)
	}
	return nil
}
