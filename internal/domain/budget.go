package domain

import (
	"context"
	"sync"
	"sync/atomic"
)

// Budget limits the model usage of a single verification run. Zero means
// unlimited for either field.
type Budget struct {
	MaxTokens int64 `json:"max_tokens" yaml:"max_tokens" mapstructure:"max_tokens" validate:"gte=0"`
	MaxCalls  int64 `json:"max_calls" yaml:"max_calls" mapstructure:"max_calls" validate:"gte=0"`
}

// Unlimited reports whether neither limit is set.
func (b Budget) Unlimited() bool { return b.MaxTokens == 0 && b.MaxCalls == 0 }

// Usage is a point-in-time snapshot of the model usage of a run.
type Usage struct {
	Tokens int64
	Calls  int64
}

// UsageTracker accumulates model usage for one run. It is safe for
// concurrent use by the claim workers.
type UsageTracker struct {
	tokens atomic.Int64
	calls  atomic.Int64

	mu       sync.Mutex
	exceeded error
}

// NewUsageTracker returns an empty tracker.
func NewUsageTracker() *UsageTracker { return &UsageTracker{} }

// Reserve claims one call against b. It fails with a BudgetExceededError
// when the call limit is already reached or the token limit is spent, and
// the first such error is remembered for Exceeded.
func (t *UsageTracker) Reserve(b Budget) error {
	if b.MaxTokens > 0 {
		if used := t.tokens.Load(); used >= b.MaxTokens {
			return t.fail(NewBudgetExceededError("tokens", b.MaxTokens, used))
		}
	}
	calls := t.calls.Add(1)
	if b.MaxCalls > 0 && calls > b.MaxCalls {
		t.calls.Add(-1)
		return t.fail(NewBudgetExceededError("calls", b.MaxCalls, calls-1))
	}
	return nil
}

// AddTokens records tokens consumed by a reserved call.
func (t *UsageTracker) AddTokens(n int64) {
	if n > 0 {
		t.tokens.Add(n)
	}
}

// Snapshot returns the current usage.
func (t *UsageTracker) Snapshot() Usage {
	return Usage{Tokens: t.tokens.Load(), Calls: t.calls.Load()}
}

// Exceeded returns the first budget error seen by Reserve, or nil.
func (t *UsageTracker) Exceeded() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.exceeded
}

func (t *UsageTracker) fail(err *BudgetExceededError) error {
	t.mu.Lock()
	if t.exceeded == nil {
		t.exceeded = err
	}
	t.mu.Unlock()
	return err
}

type usageKey struct{}

// ContextWithUsage attaches a run's tracker to ctx.
func ContextWithUsage(ctx context.Context, t *UsageTracker) context.Context {
	return context.WithValue(ctx, usageKey{}, t)
}

// UsageFromContext returns the tracker attached by ContextWithUsage.
func UsageFromContext(ctx context.Context) *UsageTracker {
	t, _ := ctx.Value(usageKey{}).(*UsageTracker)
	return t
}
