package clients

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// CircuitState is the state of a circuit breaker.
type CircuitState int32

const (
	// StateClosed allows all requests through.
	StateClosed CircuitState = iota
	// StateOpen rejects requests until the open timeout elapses.
	StateOpen
	// StateHalfOpen admits probe requests to test recovery.
	StateHalfOpen
)

// CircuitBreakerConfig bounds the breaker's state transitions.
type CircuitBreakerConfig struct {
	FailureThreshold int           // consecutive failures before opening
	SuccessThreshold int           // consecutive successes in half-open before closing
	OpenTimeout      time.Duration // how long to stay open before probing
}

// CircuitBreaker guards one upstream host. Consecutive transport failures
// open the circuit; after the open timeout a limited number of probe calls
// decide whether it closes again. It exists so a dead external system fails
// fast instead of burning every caller's endpoint timeout.
type CircuitBreaker struct {
	config CircuitBreakerConfig
	logger *zap.Logger

	mu                   sync.Mutex
	state                CircuitState
	consecutiveFailures  int
	consecutiveSuccesses int
	openedAt             time.Time
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(config CircuitBreakerConfig, logger *zap.Logger) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 2
	}
	if config.OpenTimeout <= 0 {
		config.OpenTimeout = 30 * time.Second
	}
	return &CircuitBreaker{config: config, logger: logger, state: StateClosed}
}

// Allow reports whether a request may proceed. An open breaker transitions
// to half-open once the open timeout has elapsed.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed, StateHalfOpen:
		return true
	case StateOpen:
		if time.Since(cb.openedAt) >= cb.config.OpenTimeout {
			cb.state = StateHalfOpen
			cb.consecutiveSuccesses = 0
			cb.logger.Info("circuit half-open, probing upstream")
			return true
		}
		return false
	default:
		return true
	}
}

// RecordSuccess notes a successful call.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFailures = 0
	if cb.state == StateHalfOpen {
		cb.consecutiveSuccesses++
		if cb.consecutiveSuccesses >= cb.config.SuccessThreshold {
			cb.state = StateClosed
			cb.logger.Info("circuit closed")
		}
	}
}

// RecordFailure notes a failed call, opening the circuit when the failure
// threshold is reached or a half-open probe fails.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFailures++
	switch cb.state {
	case StateHalfOpen:
		cb.open()
	case StateClosed:
		if cb.consecutiveFailures >= cb.config.FailureThreshold {
			cb.open()
		}
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) open() {
	cb.state = StateOpen
	cb.openedAt = time.Now()
	cb.consecutiveSuccesses = 0
	cb.logger.Warn("circuit opened",
		zap.Int("consecutive_failures", cb.consecutiveFailures))
}
