// pkg/network/circuit_breaker.go
package network

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"github.com/opd-ai/go-subsim/pkg/config"
	"github.com/opd-ai/go-subsim/pkg/logging"
)

// NetworkService runs helm operations through a circuit breaker so a dead
// server fails fast instead of stalling the control loop
type NetworkService struct {
	breaker    *gobreaker.CircuitBreaker
	logger     *logging.Logger
	maxRetries int
	baseDelay  time.Duration
}

// NetworkOperation is one attempt at a network call
type NetworkOperation func() error

// NewNetworkService creates a breaker from the CircuitBreaker* settings in env
func NewNetworkService(env *config.EnvironmentConfig) *NetworkService {
	ns := &NetworkService{
		logger:     logging.NewLogger().Component("breaker"),
		maxRetries: 3,
		baseDelay:  time.Second,
	}

	ns.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "subsim-helm",
		MaxRequests: env.CircuitBreakerMaxRequests,
		Interval:    env.CircuitBreakerInterval,
		Timeout:     env.CircuitBreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= env.CircuitBreakerMaxConsecutiveFails
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			ns.logger.Info(context.Background(), "circuit breaker state changed",
				"name", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})
	return ns
}

// SetRetryPolicy sets the attempts and the linear backoff step used by
// ExecuteWithRetry
func (ns *NetworkService) SetRetryPolicy(maxRetries int, baseDelay time.Duration) {
	if maxRetries < 1 {
		maxRetries = 1
	}
	ns.maxRetries = maxRetries
	ns.baseDelay = baseDelay
}

// Execute runs operation through the breaker. An open breaker fails
// immediately with gobreaker.ErrOpenState.
func (ns *NetworkService) Execute(ctx context.Context, operation NetworkOperation) error {
	_, err := ns.breaker.Execute(func() (interface{}, error) {
		return nil, operation()
	})
	if err != nil {
		ns.logger.Debug(ctx, "breaker call failed", "error", err.Error(), "state", ns.breaker.State().String())
		return fmt.Errorf("circuit breaker: %w", err)
	}
	return nil
}

// ExecuteWithRetry retries failed operations with a growing delay until
// the attempts run out, the breaker opens or ctx is done
func (ns *NetworkService) ExecuteWithRetry(ctx context.Context, operation NetworkOperation) error {
	var err error
	for attempt := 1; attempt <= ns.maxRetries; attempt++ {
		if err = ns.Execute(ctx, operation); err == nil {
			return nil
		}
		if ns.breaker.State() == gobreaker.StateOpen || errors.Is(err, ErrNotConnected) {
			return err
		}
		if attempt == ns.maxRetries {
			break
		}

		delay := time.Duration(attempt) * ns.baseDelay
		ns.logger.Warn(ctx, "operation failed, retrying",
			"attempt", attempt,
			"max_retries", ns.maxRetries,
			"delay", delay,
			"error", err.Error(),
		)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		}
	}

	ns.logger.Error(ctx, "all retry attempts failed", err, "attempts", ns.maxRetries)
	return fmt.Errorf("max retries (%d) exceeded: %w", ns.maxRetries, err)
}

// GetState returns the current state of the circuit breaker.
func (ns *NetworkService) GetState() gobreaker.State {
	return ns.breaker.State()
}

// GetCounts returns the breaker's request counts for the current interval
func (ns *NetworkService) GetCounts() gobreaker.Counts {
	return ns.breaker.Counts()
}
