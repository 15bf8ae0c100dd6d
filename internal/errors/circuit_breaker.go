package errors

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cycleforge/internal/logging"
)

// CircuitState is one of closed, open, half-open.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig configures trip/reset thresholds for a CircuitBreaker.
type CircuitBreakerConfig struct {
	FailureThreshold int
	SuccessThreshold int
	Timeout          time.Duration
	OnStateChange    func(name string, from, to CircuitState)
}

// DefaultCircuitBreakerConfig matches the reviewer driver's conservative
// defaults: three consecutive failures trips it, one success in half-open
// closes it again, cool down for a minute.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 3,
		SuccessThreshold: 1,
		Timeout:          time.Minute,
	}
}

// CircuitBreaker guards a flaky external dependency (reviewer CLI, usage
// endpoint) so the engine stops hammering it once it is clearly down.
type CircuitBreaker struct {
	name   string
	config CircuitBreakerConfig
	logger *logging.Logger

	mu              sync.Mutex
	state           CircuitState
	failures        int
	successes       int
	lastStateChange time.Time
}

// NewCircuitBreaker constructs a breaker named name (used in log lines and
// state-change callbacks). A nil logger gets a default component logger.
func NewCircuitBreaker(name string, config CircuitBreakerConfig, logger *logging.Logger) *CircuitBreaker {
	if logger == nil {
		logger = logging.NewComponentLogger("circuit_breaker")
	}
	return &CircuitBreaker{
		name:            name,
		config:          config,
		logger:          logger,
		state:           CircuitClosed,
		lastStateChange: time.Now(),
	}
}

// State returns the breaker's current state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// ErrCircuitOpen is returned by Execute when the breaker refuses the call.
var ErrCircuitOpen = NewTransientError(fmt.Errorf("circuit breaker open"), "external dependency is circuit-broken; call refused")

// Execute runs fn if the breaker allows it, otherwise returns ErrCircuitOpen
// without calling fn. It records the outcome and transitions state.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if !cb.allow() {
		return ErrCircuitOpen
	}

	err := fn(ctx)
	cb.recordResult(err)
	return err
}

func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return true
	case CircuitOpen:
		if time.Since(cb.lastStateChange) >= cb.config.Timeout {
			cb.transition(CircuitHalfOpen)
			return true
		}
		return false
	case CircuitHalfOpen:
		return true
	default:
		return true
	}
}

func (cb *CircuitBreaker) recordResult(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil {
		cb.onSuccess()
		return
	}
	cb.onFailure()
}

func (cb *CircuitBreaker) onSuccess() {
	switch cb.state {
	case CircuitHalfOpen:
		cb.successes++
		if cb.successes >= cb.config.SuccessThreshold {
			cb.transition(CircuitClosed)
		}
	case CircuitClosed:
		cb.failures = 0
	}
}

func (cb *CircuitBreaker) onFailure() {
	switch cb.state {
	case CircuitClosed:
		cb.failures++
		if cb.failures >= cb.config.FailureThreshold {
			cb.transition(CircuitOpen)
		}
	case CircuitHalfOpen:
		cb.transition(CircuitOpen)
	}
}

func (cb *CircuitBreaker) transition(to CircuitState) {
	from := cb.state
	cb.state = to
	cb.lastStateChange = time.Now()
	cb.failures = 0
	cb.successes = 0

	cb.logger.Info("circuit breaker %s: %s -> %s", cb.name, from, to)

	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(cb.name, from, to)
	}
}
