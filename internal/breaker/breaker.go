// Package breaker provides a circuit breaker for isolating failing
// dependencies.
package breaker

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the breaker refuses a call without
// attempting the protected operation.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State represents the breaker's current position.
type State string

// Breaker states.
const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Config tunes breaker behavior. Zero values fall back to defaults.
type Config struct {
	// FailureThreshold is how many consecutive failures open the circuit.
	FailureThreshold int
	// OpenTimeout is how long the circuit stays open before allowing
	// trial calls.
	OpenTimeout time.Duration
	// HalfOpenRequests is how many trial calls half-open permits.
	HalfOpenRequests int
}

// DefaultConfig returns the default breaker configuration.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		OpenTimeout:      30 * time.Second,
		HalfOpenRequests: 1,
	}
}

// timeoutTolerance absorbs clock-precision jitter when deciding whether the
// open window has elapsed.
const timeoutTolerance = 50 * time.Millisecond

// CircuitBreaker is a failure-isolation state machine. All state
// transitions happen under one mutex so they are linearizable across
// concurrent callers.
type CircuitBreaker struct {
	lastFailure      time.Time
	now              func() time.Time
	failureThreshold int
	openTimeout      time.Duration
	halfOpenRequests int
	failureCount     int
	halfOpenInFlight int
	state            State
	mu               sync.Mutex
}

// New creates a circuit breaker in the closed state.
func New(cfg Config) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	if cfg.HalfOpenRequests <= 0 {
		cfg.HalfOpenRequests = 1
	}

	return &CircuitBreaker{
		state:            StateClosed,
		failureThreshold: cfg.FailureThreshold,
		openTimeout:      cfg.OpenTimeout,
		halfOpenRequests: cfg.HalfOpenRequests,
		now:              time.Now,
	}
}

// Call runs operation under the breaker. When the circuit is open it
// returns ErrCircuitOpen immediately without invoking the operation;
// ErrCircuitOpen itself never counts as a failure.
func (cb *CircuitBreaker) Call(operation func() error) error {
	if err := cb.Allow(); err != nil {
		return err
	}

	err := operation()
	cb.record(err == nil)
	return err
}

// Allow checks whether a call may proceed, transitioning open to
// half-open once the open window has elapsed. Callers that use Allow
// directly must report the outcome via RecordSuccess or RecordFailure.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return nil
	case StateOpen:
		if cb.now().Sub(cb.lastFailure)+timeoutTolerance < cb.openTimeout {
			return ErrCircuitOpen
		}
		cb.state = StateHalfOpen
		cb.halfOpenInFlight = 0
		fallthrough
	case StateHalfOpen:
		if cb.halfOpenInFlight >= cb.halfOpenRequests {
			return ErrCircuitOpen
		}
		cb.halfOpenInFlight++
		return nil
	}

	return nil
}

// record applies an operation outcome to the state machine.
func (cb *CircuitBreaker) record(success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if success {
		if cb.state == StateHalfOpen || cb.state == StateClosed {
			cb.state = StateClosed
			cb.failureCount = 0
			cb.halfOpenInFlight = 0
		}
		return
	}

	cb.failureCount++
	cb.lastFailure = cb.now()

	if cb.state == StateHalfOpen || cb.failureCount >= cb.failureThreshold {
		cb.state = StateOpen
		cb.halfOpenInFlight = 0
	}
}

// RecordFailure counts a failure that happened outside Call, for callers
// that manage the protected operation themselves.
func (cb *CircuitBreaker) RecordFailure() {
	cb.record(false)
}

// RecordSuccess counts a success that happened outside Call.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.record(true)
}

// Reset forces the breaker back to closed and clears its counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = StateClosed
	cb.failureCount = 0
	cb.halfOpenInFlight = 0
	cb.lastFailure = time.Time{}
}

// State returns the breaker's current state, accounting for an elapsed
// open window.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && cb.now().Sub(cb.lastFailure)+timeoutTolerance >= cb.openTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// FailureCount returns the current consecutive failure count.
func (cb *CircuitBreaker) FailureCount() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failureCount
}
