package common

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned while the breaker refuses calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitState is the breaker's current mode.
type CircuitState uint8

// Breaker states.
const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

var circuitStateNames = [...]string{"closed", "open", "half-open"}

// String returns the state name for logs.
func (s CircuitState) String() string {
	if int(s) < len(circuitStateNames) {
		return circuitStateNames[s]
	}
	return "unknown"
}

// CircuitBreakerConfig tunes the breaker.
type CircuitBreakerConfig struct {
	// FailureThreshold consecutive failures open the circuit.
	FailureThreshold uint32
	// SuccessThreshold successes in half-open close it again.
	SuccessThreshold uint32
	// OpenTimeout is how long the circuit stays open before probing.
	OpenTimeout time.Duration
	// HalfOpenMaxCalls caps concurrent probes in half-open.
	HalfOpenMaxCalls uint32
}

// DefaultCircuitBreakerConfig returns the standard tuning.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 3,
		OpenTimeout:      30 * time.Second,
		HalfOpenMaxCalls: 3,
	}
}

// CircuitBreaker opens after consecutive failures so a struggling game
// stops hammering a failing path and resyncs instead. The game manager
// keeps one per game and opens it on consecutive failed submissions.
type CircuitBreaker struct {
	mu sync.Mutex

	cfg       CircuitBreakerConfig
	state     CircuitState
	failures  uint32
	successes uint32
	inFlight  uint32
	openedAt  time.Time
}

// NewCircuitBreaker builds a closed breaker.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold == 0 {
		cfg = DefaultCircuitBreakerConfig()
	}
	return &CircuitBreaker{cfg: cfg, state: CircuitClosed}
}

// State returns the current state, applying the open timeout.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.maybeHalfOpenLocked()
	return cb.state
}

// Allow reports whether a call may proceed, reserving a probe slot in
// half-open. Callers must pair Allow with RecordSuccess/RecordFailure.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.maybeHalfOpenLocked()
	switch cb.state {
	case CircuitClosed:
		return nil
	case CircuitOpen:
		return ErrCircuitOpen
	default: // half-open
		if cb.inFlight >= cb.cfg.HalfOpenMaxCalls {
			return ErrCircuitOpen
		}
		cb.inFlight++
		return nil
	}
}

// RecordSuccess registers a successful call.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		cb.failures = 0
	case CircuitHalfOpen:
		if cb.inFlight > 0 {
			cb.inFlight--
		}
		cb.successes++
		if cb.successes >= cb.cfg.SuccessThreshold {
			cb.state = CircuitClosed
			cb.failures = 0
			cb.successes = 0
			cb.inFlight = 0
		}
	}
}

// RecordFailure registers a failed call. In half-open any failure snaps
// the circuit back open.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		cb.failures++
		if cb.failures >= cb.cfg.FailureThreshold {
			cb.openLocked()
		}
	case CircuitHalfOpen:
		if cb.inFlight > 0 {
			cb.inFlight--
		}
		cb.openLocked()
	}
}

func (cb *CircuitBreaker) openLocked() {
	cb.state = CircuitOpen
	cb.openedAt = time.Now()
	cb.successes = 0
	cb.inFlight = 0
}

func (cb *CircuitBreaker) maybeHalfOpenLocked() {
	if cb.state == CircuitOpen && time.Since(cb.openedAt) >= cb.cfg.OpenTimeout {
		cb.state = CircuitHalfOpen
		cb.successes = 0
		cb.inFlight = 0
	}
}
