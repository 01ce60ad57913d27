package marketdata

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when a provider's breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerState represents the circuit breaker state.
type BreakerState int

const (
	BreakerClosed   BreakerState = 0 // normal operation, calls pass through
	BreakerOpen     BreakerState = 1 // tripped, calls rejected immediately
	BreakerHalfOpen BreakerState = 2 // one probe call allowed through
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreaker guards one price provider. After maxFailures consecutive
// failures it opens and rejects calls for resetTimeout, then allows one
// probe through; a successful probe closes it, a failed one reopens it.
// An open breaker makes the waterfall skip straight to the next provider.
type CircuitBreaker struct {
	mu           sync.Mutex
	state        BreakerState
	failures     int
	maxFailures  int
	resetTimeout time.Duration
	lastFailure  time.Time
}

// NewCircuitBreaker creates a breaker that opens after maxFailures
// consecutive failures and probes again after resetTimeout.
func NewCircuitBreaker(maxFailures int, resetTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		state:        BreakerClosed,
	}
}

// Execute runs fn through the breaker. Returns ErrCircuitOpen without
// calling fn while the breaker is open.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	cb.mu.Lock()
	switch cb.state {
	case BreakerOpen:
		if time.Since(cb.lastFailure) > cb.resetTimeout {
			cb.state = BreakerHalfOpen
		} else {
			cb.mu.Unlock()
			return ErrCircuitOpen
		}
	case BreakerHalfOpen:
		// probe in progress; the mutex admits one caller at a time
	}
	cb.mu.Unlock()

	err := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		cb.failures++
		cb.lastFailure = time.Now()
		if cb.state == BreakerHalfOpen || cb.failures >= cb.maxFailures {
			cb.state = BreakerOpen
		}
		return err
	}

	cb.state = BreakerClosed
	cb.failures = 0
	return nil
}

// CurrentState returns the breaker's current state.
func (cb *CircuitBreaker) CurrentState() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
