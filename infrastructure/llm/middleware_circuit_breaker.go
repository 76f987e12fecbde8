package llm

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ahrav/go-verifier/internal/domain"
)

// ErrCircuitOpen indicates that the circuit breaker rejected a request
// without calling the provider.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreakerState represents the current state of a circuit breaker.
type CircuitBreakerState int

// Circuit breaker states.
const (
	// StateClosed allows all requests to pass through normally.
	StateClosed CircuitBreakerState = iota

	// StateOpen rejects all requests until the cooldown expires.
	StateOpen

	// StateHalfOpen lets a single probe request through to test recovery.
	StateHalfOpen
)

// String implements fmt.Stringer.
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

// CircuitBreakerMetrics receives circuit breaker state changes and outcomes.
type CircuitBreakerMetrics interface {
	RecordState(state CircuitBreakerState)
	RecordTrip()
	RecordSuccess()
	RecordFailure()
}

// CircuitBreaker opens after maxFailures consecutive provider failures and
// stays open for the cooldown before allowing a single probe. The lock is
// never held while the guarded call runs, so concurrent claims are not
// serialized behind it.
type CircuitBreaker struct {
	mu               sync.Mutex
	state            CircuitBreakerState
	failureCount     int
	maxFailures      int
	cooldownDuration time.Duration
	openedAt         time.Time
	probing          bool
	now              func() time.Time
}

// NewCircuitBreaker creates a circuit breaker with the specified configuration.
func NewCircuitBreaker(maxFailures int, cooldownDuration time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		state:            StateClosed,
		maxFailures:      max(maxFailures, 1),
		cooldownDuration: cooldownDuration,
		now:              time.Now,
	}
}

// Call executes fn through the circuit breaker. If the circuit is open,
// or a half-open probe is already in flight, it returns ErrCircuitOpen
// without calling fn.
func (cb *CircuitBreaker) Call(fn func() error) error {
	if err := cb.acquire(); err != nil {
		return err
	}
	err := fn()
	cb.release(err)
	return err
}

func (cb *CircuitBreaker) acquire() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.openedAt) < cb.cooldownDuration {
			return ErrCircuitOpen
		}
		cb.state = StateHalfOpen
		cb.probing = true
		return nil
	case StateHalfOpen:
		if cb.probing {
			return ErrCircuitOpen
		}
		cb.probing = true
		return nil
	default:
		return nil
	}
}

func (cb *CircuitBreaker) release(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	wasProbe := cb.state == StateHalfOpen
	if wasProbe {
		cb.probing = false
	}

	if !countsAsFailure(err) {
		if err == nil {
			cb.failureCount = 0
			cb.state = StateClosed
		}
		return
	}

	cb.failureCount++
	if wasProbe || cb.failureCount >= cb.maxFailures {
		cb.state = StateOpen
		cb.openedAt = cb.now()
	}
}

// countsAsFailure reports whether err reflects provider health. Caller
// cancellation and budget exhaustion say nothing about the provider.
func countsAsFailure(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, domain.ErrBudgetExceeded)
}

// GetState returns the current circuit breaker state.
func (cb *CircuitBreaker) GetState() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

type circuitBreakerLLM struct {
	next    CoreLLM
	cb      *CircuitBreaker
	metrics CircuitBreakerMetrics
}

// CircuitBreakerMiddleware creates middleware that fails fast while the
// provider is unhealthy.
func CircuitBreakerMiddleware(maxFailures int, cooldown time.Duration) Middleware {
	return CircuitBreakerMiddlewareWithMetrics(maxFailures, cooldown, nil)
}

// CircuitBreakerMiddlewareWithMetrics creates circuit breaker middleware
// that reports to metrics. All clients built from the returned middleware
// share one breaker.
func CircuitBreakerMiddlewareWithMetrics(maxFailures int, cooldown time.Duration, metrics CircuitBreakerMetrics) Middleware {
	cb := NewCircuitBreaker(maxFailures, cooldown)

	return func(next CoreLLM) CoreLLM {
		return &circuitBreakerLLM{
			next:    next,
			cb:      cb,
			metrics: metrics,
		}
	}
}

// DoRequest executes the request through the circuit breaker.
func (c *circuitBreakerLLM) DoRequest(ctx context.Context, prompt string, opts map[string]any) (string, int, int, error) {
	var response string
	var tokensIn, tokensOut int

	err := c.cb.Call(func() error {
		var err error
		response, tokensIn, tokensOut, err = c.next.DoRequest(ctx, prompt, opts)
		return err
	})

	if c.metrics != nil {
		switch {
		case err == nil:
			c.metrics.RecordSuccess()
		case errors.Is(err, ErrCircuitOpen):
			c.metrics.RecordTrip()
		default:
			c.metrics.RecordFailure()
		}
		c.metrics.RecordState(c.cb.GetState())
	}

	return response, tokensIn, tokensOut, err
}

// GetModel returns the model name from the wrapped implementation.
func (c *circuitBreakerLLM) GetModel() string { return c.next.GetModel() }

// SetModel updates the model name in the wrapped implementation.
func (c *circuitBreakerLLM) SetModel(m string) { c.next.SetModel(m) }
