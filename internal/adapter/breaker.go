package adapter

import (
	"context"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/bobmcallan/robotmw/internal/apperr"
	"github.com/bobmcallan/robotmw/internal/common"
	"github.com/bobmcallan/robotmw/internal/models"
)

// CircuitBreaking wraps an Adapter with a per-robot circuit breaker, so
// a robot whose dispatches fail five times in a row (any error returned
// by the wrapped adapter counts, not only protocol/timeout failures)
// stops accepting new dispatches for a 30s cooldown window instead of queueing workers
// behind a robot that is clearly unreachable (SPEC_FULL.md §5).
type CircuitBreaking struct {
	inner  Adapter
	logger *common.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// WrapWithCircuitBreaker returns an Adapter that delegates to inner
// through a per-robot gobreaker.CircuitBreaker.
func WrapWithCircuitBreaker(inner Adapter, logger *common.Logger) *CircuitBreaking {
	return &CircuitBreaking{
		inner:    inner,
		logger:   logger,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

func (c *CircuitBreaking) breakerFor(robotID string) *gobreaker.CircuitBreaker {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.breakers[robotID]; ok {
		return b
	}
	b := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        robotID,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn().Str("robot_id", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
		},
	})
	c.breakers[robotID] = b
	return b
}

// Protocol delegates to the wrapped adapter.
func (c *CircuitBreaking) Protocol() models.Protocol { return c.inner.Protocol() }

// Dispatch routes the call through the robot's circuit breaker. An open
// breaker short-circuits as ERR_ROBOT_OFFLINE without reaching inner.
func (c *CircuitBreaking) Dispatch(ctx context.Context, robot *models.RobotEntry, req DispatchRequest) (*DispatchResult, error) {
	breaker := c.breakerFor(robot.RobotID)

	result, err := breaker.Execute(func() (interface{}, error) {
		return c.inner.Dispatch(ctx, robot, req)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, apperr.New(apperr.CodeRobotOffline, "robot circuit breaker is open").WithDetail("robot_id", robot.RobotID)
		}
		return nil, err
	}
	return result.(*DispatchResult), nil
}

// Close delegates to the wrapped adapter.
func (c *CircuitBreaking) Close() error { return c.inner.Close() }
