package catalog

import (
	"errors"
	"sync"
	"time"
)

// BreakerState is the state of a circuit breaker. The numeric values are
// exported as the breaker state gauge.
type BreakerState int

const (
	// BreakerClosed lets calls through and counts consecutive failures.
	BreakerClosed BreakerState = iota
	// BreakerHalfOpen lets probe calls through after the open timeout.
	BreakerHalfOpen
	// BreakerOpen rejects calls until the timeout elapses.
	BreakerOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerHalfOpen:
		return "half-open"
	case BreakerOpen:
		return "open"
	default:
		return "unknown"
	}
}

// ErrBreakerOpen is returned by Allow while the breaker rejects calls.
var ErrBreakerOpen = errors.New("catalog: circuit breaker is open")

// CircuitBreaker trips after a run of consecutive failures and recovers
// after a run of successful probes. It is safe for concurrent use.
type CircuitBreaker struct {
	failureThreshold int
	successThreshold int
	timeout          time.Duration
	now              func() time.Time
	onChange         func(BreakerState)

	mu        sync.Mutex
	state     BreakerState
	failures  int
	successes int
	openedAt  time.Time
}

// NewCircuitBreaker creates a closed breaker. Non-positive arguments select
// 5 failures, 2 successes and a 30s open timeout. onChange, when set, is
// called with every new state while the breaker's lock is held.
func NewCircuitBreaker(failureThreshold, successThreshold int, timeout time.Duration, onChange func(BreakerState)) *CircuitBreaker {
	if failureThreshold < 1 {
		failureThreshold = 5
	}
	if successThreshold < 1 {
		successThreshold = 2
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &CircuitBreaker{
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		timeout:          timeout,
		now:              time.Now,
		onChange:         onChange,
	}
}

// Allow returns ErrBreakerOpen while the breaker is open.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.currentLocked() == BreakerOpen {
		return ErrBreakerOpen
	}
	return nil
}

// RecordSuccess records a call that reached the service and succeeded.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.currentLocked() {
	case BreakerClosed:
		cb.failures = 0
	case BreakerHalfOpen:
		cb.successes++
		if cb.successes >= cb.successThreshold {
			cb.setLocked(BreakerClosed)
		}
	}
}

// RecordFailure records a call that failed for infrastructure reasons.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.currentLocked() {
	case BreakerClosed:
		cb.failures++
		if cb.failures >= cb.failureThreshold {
			cb.setLocked(BreakerOpen)
		}
	case BreakerHalfOpen:
		cb.setLocked(BreakerOpen)
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.currentLocked()
}

// currentLocked moves an expired open breaker to half-open.
func (cb *CircuitBreaker) currentLocked() BreakerState {
	if cb.state == BreakerOpen && cb.now().Sub(cb.openedAt) >= cb.timeout {
		cb.setLocked(BreakerHalfOpen)
	}
	return cb.state
}

func (cb *CircuitBreaker) setLocked(s BreakerState) {
	cb.state = s
	cb.failures = 0
	cb.successes = 0
	if s == BreakerOpen {
		cb.openedAt = cb.now()
	}
	if cb.onChange != nil {
		cb.onChange(s)
	}
}
