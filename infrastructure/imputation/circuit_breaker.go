package imputation

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ahrav/go-fairrank/internal/domain"
	"github.com/ahrav/go-fairrank/internal/ports"
)

// ErrCircuitOpen indicates that the circuit breaker rejected a call
// without reaching the imputer.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreakerState is the current state of a circuit breaker.
type CircuitBreakerState int

// Circuit breaker states.
const (
	// StateClosed lets every call through.
	StateClosed CircuitBreakerState = iota

	// StateOpen rejects calls until the cooldown expires.
	StateOpen

	// StateHalfOpen lets one probe call through to test recovery.
	StateHalfOpen
)

// String returns the state name used in metric labels.
func (s CircuitBreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreaker opens after maxFailures consecutive failures and stays
// open for the cooldown before letting a probe through.
type CircuitBreaker struct {
	mu               sync.Mutex
	state            CircuitBreakerState
	failureCount     int
	maxFailures      int
	cooldownDuration time.Duration
	lastFailure      time.Time
	now              func() time.Time
}

// NewCircuitBreaker creates a closed circuit breaker.
func NewCircuitBreaker(maxFailures int, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		state:            StateClosed,
		maxFailures:      max(maxFailures, 1),
		cooldownDuration: cooldown,
		now:              time.Now,
	}
}

// Call runs fn unless the circuit is open and updates the state from its
// result.
func (cb *CircuitBreaker) Call(fn func() error) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if cb.now().Sub(cb.lastFailure) < cb.cooldownDuration {
			return ErrCircuitOpen
		}
		cb.state = StateHalfOpen
	}

	err := fn()
	if err != nil {
		cb.failureCount++
		cb.lastFailure = cb.now()
		if cb.state == StateHalfOpen || cb.failureCount >= cb.maxFailures {
			cb.state = StateOpen
		}
		return err
	}
	cb.failureCount = 0
	cb.state = StateClosed
	return nil
}

// State returns the current state.
func (cb *CircuitBreaker) State() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// circuitBreakerImputer fails fast while the imputer keeps failing.
type circuitBreakerImputer struct {
	next ports.Imputer
	cb   *CircuitBreaker
}

// CircuitBreakerMiddleware shares one breaker across every imputer it
// wraps. Rejected calls fail with an ImputationError wrapping
// ErrCircuitOpen, which is not retryable.
func CircuitBreakerMiddleware(cb *CircuitBreaker) Middleware {
	return func(next ports.Imputer) ports.Imputer {
		return &circuitBreakerImputer{next: next, cb: cb}
	}
}

// Impute forwards the call through the breaker. Context cancellation by
// the caller does not count as an imputer failure.
func (c *circuitBreakerImputer) Impute(ctx context.Context, profile domain.Profile, pool []domain.PoolCandidate) (domain.Profile, error) {
	var out domain.Profile
	var callErr error

	err := c.cb.Call(func() error {
		out, callErr = c.next.Impute(ctx, profile, pool)
		if callErr != nil && errors.Is(callErr, context.Canceled) {
			return nil
		}
		return callErr
	})
	if errors.Is(err, ErrCircuitOpen) {
		return domain.Profile{}, ports.NewImputationError(c.Name(), -1, err)
	}
	return out, callErr
}

// Name returns the wrapped imputer's name.
func (c *circuitBreakerImputer) Name() string { return c.next.Name() }
