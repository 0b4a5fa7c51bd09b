package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrOpen is returned, wrapped, when a request is rejected without calling
// the protected function.
var ErrOpen = errors.New("circuit breaker open")

// State represents the circuit breaker state
type State int

const (
	StateClosed   State = iota // Normal operation, requests pass through
	StateOpen                  // Requests fail immediately
	StateHalfOpen              // Limited trial requests allowed
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config holds circuit breaker configuration
type Config struct {
	FailureThreshold    int           // Consecutive failures before opening
	SuccessThreshold    int           // Successes in half-open before closing
	Timeout             time.Duration // Open duration before half-open
	MaxRequestsHalfOpen int           // Trial requests allowed in half-open
}

// DefaultConfig returns a default circuit breaker configuration
func DefaultConfig() Config {
	return Config{
		FailureThreshold:    5,
		SuccessThreshold:    2,
		Timeout:             30 * time.Second,
		MaxRequestsHalfOpen: 3,
	}
}

// CircuitBreaker implements the circuit breaker pattern
type CircuitBreaker struct {
	config Config

	mu               sync.RWMutex
	state            State
	failureCount     int
	successCount     int
	halfOpenRequests int
	lastFailureTime  time.Time
	stateChangeTime  time.Time

	onStateChange func(from, to State)
}

func New(config Config) *CircuitBreaker {
	if config.MaxRequestsHalfOpen <= 0 {
		config.MaxRequestsHalfOpen = 1
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 1
	}
	return &CircuitBreaker{
		config:          config,
		state:           StateClosed,
		stateChangeTime: time.Now(),
	}
}

// OnStateChange registers a callback invoked asynchronously on every
// transition.
func (cb *CircuitBreaker) OnStateChange(fn func(from, to State)) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onStateChange = fn
}

// Execute runs fn through the breaker. A failure caused by ctx ending is
// not counted against the protected dependency.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	_, err := ExecuteWithResult(ctx, cb, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// ExecuteWithResult runs fn through cb and returns its result.
func ExecuteWithResult[T any](ctx context.Context, cb *CircuitBreaker, fn func() (T, error)) (T, error) {
	var zero T

	if err := ctx.Err(); err != nil {
		return zero, err
	}
	if !cb.allowRequest() {
		return zero, fmt.Errorf("%w: state %s", ErrOpen, cb.GetState())
	}

	result, err := fn()
	if err != nil {
		if ctx.Err() == nil {
			cb.onFailure()
		}
		return zero, fmt.Errorf("circuit breaker execution failed: %w", err)
	}

	cb.onSuccess()
	return result, nil
}

func (cb *CircuitBreaker) allowRequest() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if time.Since(cb.stateChangeTime) < cb.config.Timeout {
			return false
		}
		cb.transitionTo(StateHalfOpen)
		cb.halfOpenRequests = 1
		return true
	case StateHalfOpen:
		if cb.halfOpenRequests >= cb.config.MaxRequestsHalfOpen {
			return false
		}
		cb.halfOpenRequests++
		return true
	default:
		return true
	}
}

func (cb *CircuitBreaker) onFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount++
	cb.successCount = 0
	cb.lastFailureTime = time.Now()

	switch {
	case cb.state == StateHalfOpen:
		cb.transitionTo(StateOpen)
	case cb.state == StateClosed && cb.failureCount >= cb.config.FailureThreshold:
		cb.transitionTo(StateOpen)
	}
}

func (cb *CircuitBreaker) onSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.successCount++
	cb.failureCount = 0

	if cb.state == StateHalfOpen && cb.successCount >= cb.config.SuccessThreshold {
		cb.transitionTo(StateClosed)
	}
}

// transitionTo must be called with mu held.
func (cb *CircuitBreaker) transitionTo(newState State) {
	if cb.state == newState {
		return
	}

	oldState := cb.state
	cb.state = newState
	cb.stateChangeTime = time.Now()
	cb.failureCount = 0
	cb.successCount = 0
	cb.halfOpenRequests = 0

	if cb.onStateChange != nil {
		go cb.onStateChange(oldState, newState)
	}
}

func (cb *CircuitBreaker) GetState() State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// GetStats returns current circuit breaker statistics
func (cb *CircuitBreaker) GetStats() Stats {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	return Stats{
		State:            cb.state,
		FailureCount:     cb.failureCount,
		SuccessCount:     cb.successCount,
		HalfOpenRequests: cb.halfOpenRequests,
		LastFailureTime:  cb.lastFailureTime,
		StateChangeTime:  cb.stateChangeTime,
	}
}

// Stats holds circuit breaker statistics
type Stats struct {
	State            State
	FailureCount     int
	SuccessCount     int
	HalfOpenRequests int
	LastFailureTime  time.Time
	StateChangeTime  time.Time
}

// Reset forces the breaker closed.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transitionTo(StateClosed)
}
