package middleware

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ahrav/go-verifier/infrastructure/llm"
	"github.com/ahrav/go-verifier/internal/domain"
	"github.com/ahrav/go-verifier/internal/ports"
)

// BudgetObserver provides observability hooks for budget checks.
// PreCheck may return a derived context, for example one carrying a span,
// which is passed to the wrapped call and to PostCheck.
type BudgetObserver interface {
	PreCheck(ctx context.Context, usage domain.Usage, budget domain.Budget) context.Context
	PostCheck(ctx context.Context, usage domain.Usage, budget domain.Budget, elapsed time.Duration, err error)
}

// BudgetManager enforces a run's token and call limits on every model call.
// Usage lives in the domain.UsageTracker attached to the request context,
// so one manager serves any number of runs without shared mutable state.
// Calls made without a tracker pass through unchecked.
type BudgetManager struct {
	budget   domain.Budget
	next     llm.CoreLLM
	metrics  ports.MetricsCollector
	observer BudgetObserver
}

// BudgetOption configures a BudgetManager.
type BudgetOption func(*BudgetManager)

// WithBudgetMetrics records rejected calls and current usage.
func WithBudgetMetrics(m ports.MetricsCollector) BudgetOption {
	return func(bm *BudgetManager) { bm.metrics = m }
}

// WithBudgetObserver installs observability hooks around each call.
func WithBudgetObserver(o BudgetObserver) BudgetOption {
	return func(bm *BudgetManager) { bm.observer = o }
}

// BudgetMiddleware returns an llm.Middleware that wraps the next layer in a
// BudgetManager. It belongs below the response cache, so cache hits never
// count against the budget, and above retry, so every attempt does.
func BudgetMiddleware(budget domain.Budget, opts ...BudgetOption) llm.Middleware {
	return func(next llm.CoreLLM) llm.CoreLLM {
		bm := &BudgetManager{budget: budget, next: next}
		for _, opt := range opts {
			opt(bm)
		}
		return bm
	}
}

// Validate checks that the limits are not negative.
func (bm *BudgetManager) Validate() error {
	if bm.budget.MaxTokens < 0 {
		return fmt.Errorf("budget manager: max_tokens cannot be negative, got %d", bm.budget.MaxTokens)
	}
	if bm.budget.MaxCalls < 0 {
		return fmt.Errorf("budget manager: max_calls cannot be negative, got %d", bm.budget.MaxCalls)
	}
	return nil
}

// DoRequest reserves a call against the run's budget, forwards the
// request and charges the reported tokens.
func (bm *BudgetManager) DoRequest(ctx context.Context, prompt string, opts map[string]any) (string, int, int, error) {
	tracker := domain.UsageFromContext(ctx)
	if tracker == nil {
		return bm.next.DoRequest(ctx, prompt, opts)
	}

	if bm.observer != nil {
		ctx = bm.observer.PreCheck(ctx, tracker.Snapshot(), bm.budget)
	}

	start := time.Now()
	if err := tracker.Reserve(bm.budget); err != nil {
		bm.recordExceeded(err)
		if bm.observer != nil {
			bm.observer.PostCheck(ctx, tracker.Snapshot(), bm.budget, time.Since(start), err)
		}
		return "", 0, 0, err
	}

	response, tokensIn, tokensOut, err := bm.next.DoRequest(ctx, prompt, opts)
	tracker.AddTokens(int64(tokensIn + tokensOut))

	usage := tracker.Snapshot()
	bm.recordUsage(usage)
	if bm.observer != nil {
		bm.observer.PostCheck(ctx, usage, bm.budget, time.Since(start), err)
	}
	return response, tokensIn, tokensOut, err
}

func (bm *BudgetManager) recordExceeded(err error) {
	if bm.metrics == nil {
		return
	}
	limitType := unknownLabel
	var be *domain.BudgetExceededError
	if errors.As(err, &be) {
		limitType = be.LimitType
	}
	bm.metrics.RecordCounter(MetricBudgetExceeded, 1, map[string]string{"limit_type": limitType})
}

func (bm *BudgetManager) recordUsage(usage domain.Usage) {
	if bm.metrics == nil {
		return
	}
	bm.metrics.RecordGauge(MetricBudgetTokensUsed, float64(usage.Tokens), nil)
	bm.metrics.RecordGauge(MetricBudgetCallsUsed, float64(usage.Calls), nil)
}

// GetModel returns the model of the wrapped layer.
func (bm *BudgetManager) GetModel() string { return bm.next.GetModel() }

// SetModel updates the model of the wrapped layer.
func (bm *BudgetManager) SetModel(m string) { bm.next.SetModel(m) }
