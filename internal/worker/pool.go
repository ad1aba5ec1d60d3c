// Package worker implements the pool that dequeues commands, dispatches
// them through the protocol adapters, and drives their lifecycle
// transitions (spec §4.5).
package worker

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/bobmcallan/robotmw/internal/adapter"
	"github.com/bobmcallan/robotmw/internal/apperr"
	"github.com/bobmcallan/robotmw/internal/common"
	"github.com/bobmcallan/robotmw/internal/eventbus"
	"github.com/bobmcallan/robotmw/internal/metrics"
	"github.com/bobmcallan/robotmw/internal/models"
	"github.com/bobmcallan/robotmw/internal/queue"
	"github.com/bobmcallan/robotmw/internal/registry"
	"github.com/bobmcallan/robotmw/internal/store"
)

// Config holds worker pool sizing and timing, mirroring common.WorkerConfig.
type Config struct {
	PoolSize       int
	PollInterval   time.Duration
	DefaultTimeout time.Duration
}

// Pool dequeues commands and drives them through dispatch to a terminal
// state. It holds the only references that connect the queue, store,
// registry, adapters, and event bus — none of those packages reference
// each other directly.
type Pool struct {
	cfg      Config
	q        *queue.Queue
	st       *store.Store
	reg      *registry.Registry
	adapters *adapter.Registry
	bus      *eventbus.Hub
	metrics  *metrics.Metrics
	logger   *common.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	running map[string]context.CancelFunc // command id -> in-flight dispatch cancel
}

// New constructs a Pool wired to its collaborators.
func New(cfg Config, q *queue.Queue, st *store.Store, reg *registry.Registry, adapters *adapter.Registry, bus *eventbus.Hub, m *metrics.Metrics, logger *common.Logger) *Pool {
	return &Pool{
		cfg:      cfg,
		q:        q,
		st:       st,
		reg:      reg,
		adapters: adapters,
		bus:      bus,
		metrics:  m,
		logger:   logger,
		running:  make(map[string]context.CancelFunc),
	}
}

func (p *Pool) safeGo(name string, fn func()) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error().
					Str("goroutine", name).
					Str("panic", fmt.Sprintf("%v", r)).
					Str("stack", string(debug.Stack())).
					Msg("recovered from panic in worker pool goroutine")
			}
		}()
		fn()
	}()
}

// Start launches the configured number of worker goroutines.
func (p *Pool) Start() {
	if p.cancel != nil {
		p.Stop(context.Background())
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	size := p.cfg.PoolSize
	if size <= 0 {
		size = 1
	}
	for i := 0; i < size; i++ {
		name := fmt.Sprintf("worker-%d", i)
		p.safeGo(name, func() { p.loop(ctx) })
	}
	p.logger.Info().Int("pool_size", size).Msg("worker pool started")
}

// Stop cancels all in-flight dispatches and worker loops, waiting up to
// the context deadline for graceful drain (spec §6 shutdown contract).
func (p *Pool) Stop(ctx context.Context) {
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		p.logger.Warn().Msg("worker pool shutdown grace period expired, in-flight dispatches abandoned")
	}
}

func (p *Pool) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msg, err := p.q.Dequeue(ctx, p.cfg.PollInterval)
		if err != nil {
			return
		}
		if msg == nil {
			continue
		}

		p.handle(ctx, msg)
	}
}

func (p *Pool) handle(ctx context.Context, msg *models.Message) {
	log := p.logger.WithCorrelationId(msg.TraceID)

	robot, err := p.reg.Get(msg.Command.Target.RobotID)
	if err != nil {
		p.fail(ctx, msg, apperr.New(apperr.CodeRobotNotFound, "target robot is not registered").WithDetail("robot_id", msg.Command.Target.RobotID), false)
		return
	}
	if robot.Status == models.RobotOffline {
		p.fail(ctx, msg, apperr.New(apperr.CodeRobotOffline, "target robot is offline"), true)
		return
	}
	if !robot.HasCapability(msg.Command.Type) {
		p.fail(ctx, msg, apperr.New(apperr.CodeActionInvalid, "robot does not support command type").WithDetail("type", msg.Command.Type), false)
		return
	}

	ad := p.adapters.For(robot.Protocol)
	if ad == nil {
		p.fail(ctx, msg, apperr.New(apperr.CodeProtocol, "no adapter registered for robot protocol").WithDetail("protocol", string(robot.Protocol)), false)
		return
	}

	if err := p.st.Transition(msg.Command.ID, models.StateRunning, store.WithStartedNow()); err != nil {
		// A retry re-delivered after a failed dispatch finds its record
		// already running and is dispatched again.
		if appErr, ok := apperr.As(err); !ok || appErr.Details["from"] != string(models.StateRunning) {
			log.Warn().Err(err).Str("command_id", msg.Command.ID).Msg("failed to transition command to running")
			p.q.Ack(msg.Command.ID)
			return
		}
	}
	p.metrics.CommandsDequeued.Inc()
	p.reg.SetStatus(robot.RobotID, models.RobotBusy)
	p.publish(msg, models.SeverityInfo, models.CategoryCommand, "command dispatch started")

	timeout := time.Duration(msg.Command.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = p.cfg.DefaultTimeout
	}
	dispatchCtx, cancel := context.WithTimeout(ctx, timeout)
	p.mu.Lock()
	p.running[msg.Command.ID] = cancel
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.running, msg.Command.ID)
		p.mu.Unlock()
		cancel()
	}()

	start := time.Now()
	result, dispatchErr := ad.Dispatch(dispatchCtx, robot, adapter.DispatchRequest{
		CommandID: msg.Command.ID,
		Type:      msg.Command.Type,
		Params:    msg.Command.Params,
		Timeout:   timeout,
		TraceID:   msg.TraceID,
		Timestamp: msg.Timestamp,
	})
	p.metrics.DispatchDuration.Observe(time.Since(start).Seconds())
	p.reg.SetStatus(robot.RobotID, models.RobotOnline)

	if dispatchErr != nil {
		appErr, ok := apperr.As(dispatchErr)
		if !ok {
			appErr = apperr.New(apperr.CodeInternal, dispatchErr.Error())
		}
		if dispatchCtx.Err() != nil && appErr.Code != apperr.CodeTimeout {
			appErr = apperr.New(apperr.CodeTimeout, "dispatch cancelled")
		}
		p.fail(ctx, msg, appErr, appErr.Code.Retriable())
		return
	}

	if err := p.st.Transition(msg.Command.ID, models.StateSucceeded, store.WithCompletedNow(), store.WithResult(result.Result)); err != nil {
		log.Warn().Err(err).Str("command_id", msg.Command.ID).Msg("failed to transition command to succeeded")
	}
	p.q.Ack(msg.Command.ID)
	p.metrics.CommandsSucceeded.Inc()
	p.publish(msg, models.SeverityInfo, models.CategoryCommand, "command dispatch succeeded")
}

// fail records a dispatch failure, requeuing through the queue's backoff
// schedule when retriable and budget remains, else transitioning the
// store record to failed.
func (p *Pool) fail(ctx context.Context, msg *models.Message, appErr *apperr.Error, retriable bool) {
	log := p.logger.WithCorrelationId(msg.TraceID)
	requeued, err := p.q.Nack(msg.Command.ID, retriable)
	if err != nil {
		log.Warn().Err(err).Str("command_id", msg.Command.ID).Msg("nack failed for unknown in-flight command")
	}

	details := map[string]interface{}{}
	if appErr.Details != nil {
		for k, v := range appErr.Details {
			details[k] = v
		}
	}

	if requeued {
		p.metrics.CommandsRetried.Inc()
		p.publish(msg, models.SeverityWarn, models.CategoryCommand, "command dispatch failed, retry scheduled")
		return
	}

	// A command that fails before dispatch is still pending, and the store
	// only accepts failed from running; for a record that is already
	// running or terminal this transition is refused and changes nothing.
	_ = p.st.Transition(msg.Command.ID, models.StateRunning, store.WithStartedNow())
	if err := p.st.Transition(msg.Command.ID, models.StateFailed, store.WithCompletedNow(), store.WithLastError(string(appErr.Code), appErr.Message, details)); err != nil {
		log.Warn().Err(err).Str("command_id", msg.Command.ID).Msg("failed to transition command to failed")
	}
	p.metrics.CommandsFailed.Inc()
	p.publish(msg, models.SeverityError, models.CategoryCommand, "command dispatch failed terminally")
}

// Cancel requests cancellation of a command: if still pending it is
// pulled from the queue directly; if running its dispatch context is
// cancelled. Returns ERR_ROUTING if the command is unknown. Cancelling
// a command already in a terminal state is a no-op — the caller reads
// back the existing terminal record.
func (p *Pool) Cancel(commandID string) error {
	msg, err := p.st.Get(commandID)
	if err != nil {
		return err
	}
	if msg.State.Terminal() {
		return nil
	}

	if msg.State == models.StatePending {
		p.q.RemovePending(commandID)
		if err := p.st.Transition(commandID, models.StateCancelled, store.WithCompletedNow()); err != nil {
			return err
		}
		p.metrics.CommandsCancelled.Inc()
		p.publish(msg, models.SeverityInfo, models.CategoryCommand, "command cancelled while pending")
		return nil
	}

	p.mu.Lock()
	cancel, ok := p.running[commandID]
	p.mu.Unlock()
	if ok {
		cancel()
	}
	if err := p.st.Transition(commandID, models.StateCancelled, store.WithCompletedNow()); err != nil {
		return err
	}
	p.q.Ack(commandID)
	p.metrics.CommandsCancelled.Inc()
	p.publish(msg, models.SeverityInfo, models.CategoryCommand, "command cancelled while running")
	return nil
}

func (p *Pool) publish(msg *models.Message, sev models.Severity, cat models.Category, text string) {
	p.bus.Publish(models.Event{
		TraceID:  msg.TraceID,
		Severity: sev,
		Category: cat,
		Message:  text,
		Context: map[string]interface{}{
			"command_id": msg.Command.ID,
			"robot_id":   msg.Command.Target.RobotID,
		},
	})
}
