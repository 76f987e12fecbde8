package llm

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-verifier/internal/domain"
)

// fakeClock drives a CircuitBreaker's cooldown without sleeping.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestBreaker(maxFailures int, cooldown time.Duration) (*CircuitBreaker, *fakeClock) {
	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	cb := NewCircuitBreaker(maxFailures, cooldown)
	cb.now = clock.Now
	return cb, clock
}

var errService = errors.New("service error")

func TestCircuitBreakerMiddleware_AllowsRequestsWhenClosed(t *testing.T) {
	mock := NewMockCoreLLM()
	wrapped := CircuitBreakerMiddleware(3, 100*time.Millisecond)(mock)

	response, tokensIn, tokensOut, err := wrapped.DoRequest(context.Background(), "test prompt", nil)

	require.NoError(t, err)
	assert.Equal(t, "test response", response)
	assert.Equal(t, 10, tokensIn)
	assert.Equal(t, 20, tokensOut)
}

func TestCircuitBreakerMiddleware_OpensAfterMaxFailures(t *testing.T) {
	// Given a provider that keeps failing
	mock := NewMockCoreLLM()
	mock.Error = errService
	wrapped := CircuitBreakerMiddleware(2, time.Minute)(mock)
	ctx := context.Background()

	// When two calls fail
	_, _, _, err1 := wrapped.DoRequest(ctx, "1", nil)
	_, _, _, err2 := wrapped.DoRequest(ctx, "2", nil)

	// Then the original errors pass through and the third call fails fast
	assert.ErrorIs(t, err1, errService)
	assert.ErrorIs(t, err2, errService)

	_, _, _, err3 := wrapped.DoRequest(ctx, "3", nil)
	assert.ErrorIs(t, err3, ErrCircuitOpen)
	assert.Equal(t, 2, mock.GetCallCount())
}

func TestCircuitBreaker_HalfOpenProbe(t *testing.T) {
	cb, clock := newTestBreaker(1, 30*time.Second)

	require.ErrorIs(t, cb.Call(func() error { return errService }), errService)
	assert.Equal(t, StateOpen, cb.GetState())

	// During cooldown nothing is called.
	called := false
	assert.ErrorIs(t, cb.Call(func() error { called = true; return nil }), ErrCircuitOpen)
	assert.False(t, called)

	t.Run("failed probe reopens", func(t *testing.T) {
		clock.Advance(31 * time.Second)
		require.ErrorIs(t, cb.Call(func() error { return errService }), errService)
		assert.Equal(t, StateOpen, cb.GetState())
	})

	t.Run("successful probe closes", func(t *testing.T) {
		clock.Advance(31 * time.Second)
		require.NoError(t, cb.Call(func() error { return nil }))
		assert.Equal(t, StateClosed, cb.GetState())
	})
}

func TestCircuitBreaker_SingleProbeInHalfOpen(t *testing.T) {
	cb, clock := newTestBreaker(1, time.Second)
	_ = cb.Call(func() error { return errService })
	clock.Advance(2 * time.Second)

	// Given a probe that is still in flight
	release := make(chan struct{})
	probeStarted := make(chan struct{})
	done := make(chan error)
	go func() {
		done <- cb.Call(func() error {
			close(probeStarted)
			<-release
			return nil
		})
	}()
	<-probeStarted

	// When another caller arrives, it is rejected
	assert.ErrorIs(t, cb.Call(func() error { return nil }), ErrCircuitOpen)
	assert.Equal(t, StateHalfOpen, cb.GetState())

	// Then the probe's success closes the circuit
	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestCircuitBreaker_ResetsFailureCountOnSuccess(t *testing.T) {
	cb, _ := newTestBreaker(3, time.Minute)

	_ = cb.Call(func() error { return errService })
	_ = cb.Call(func() error { return errService })
	require.NoError(t, cb.Call(func() error { return nil }))
	_ = cb.Call(func() error { return errService })
	_ = cb.Call(func() error { return errService })

	assert.Equal(t, StateClosed, cb.GetState(), "failures must be consecutive")
}

func TestCircuitBreaker_IgnoresCallerErrors(t *testing.T) {
	cb, _ := newTestBreaker(1, time.Minute)

	_ = cb.Call(func() error { return context.Canceled })
	_ = cb.Call(func() error { return domain.NewBudgetExceededError("tokens", 10, 11) })

	assert.Equal(t, StateClosed, cb.GetState())
}

func TestCircuitBreaker_DoesNotSerializeCalls(t *testing.T) {
	cb, _ := newTestBreaker(5, time.Minute)

	var inFlight, peak atomic.Int32
	var wg sync.WaitGroup
	gate := make(chan struct{})
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = cb.Call(func() error {
				n := inFlight.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				<-gate
				inFlight.Add(-1)
				return nil
			})
		}()
	}

	require.Eventually(t, func() bool { return inFlight.Load() == 4 }, time.Second, time.Millisecond)
	close(gate)
	wg.Wait()
	assert.Equal(t, int32(4), peak.Load())
}

func TestCircuitBreakerMiddleware_WithMetrics(t *testing.T) {
	mock := NewMockCoreLLM()
	metrics := &mockCircuitBreakerMetrics{}
	wrapped := CircuitBreakerMiddlewareWithMetrics(2, time.Minute, metrics)(mock)
	ctx := context.Background()

	_, _, _, err := wrapped.DoRequest(ctx, "ok", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, metrics.successes)
	assert.Contains(t, metrics.states, StateClosed)

	mock.Error = errService
	_, _, _, _ = wrapped.DoRequest(ctx, "fail 1", nil)
	_, _, _, _ = wrapped.DoRequest(ctx, "fail 2", nil)
	assert.Equal(t, 2, metrics.failures)
	assert.Contains(t, metrics.states, StateOpen)

	_, _, _, err = wrapped.DoRequest(ctx, "rejected", nil)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 1, metrics.trips)
}

func TestCircuitBreakerMiddleware_PassesThroughModelMethods(t *testing.T) {
	mock := NewMockCoreLLM()
	wrapped := CircuitBreakerMiddleware(3, time.Second)(mock)

	wrapped.SetModel("other")
	assert.Equal(t, "other", wrapped.GetModel())
	assert.Equal(t, "other", mock.GetModel())
}

func TestCircuitBreakerState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half_open", StateHalfOpen.String())
	assert.Equal(t, "unknown", CircuitBreakerState(9).String())
}
