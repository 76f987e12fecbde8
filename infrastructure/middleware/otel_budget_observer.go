package middleware

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/go-verifier/internal/domain"
	"github.com/ahrav/go-verifier/internal/ports"
)

// Usage ratios at which threshold events are added to the budget span.
const (
	budgetWarningThreshold  = 0.8
	budgetCriticalThreshold = 0.9
)

var _ BudgetObserver = (*OTelBudgetObserver)(nil)

// OTelBudgetObserver traces each budget-checked model call as a
// "budget.check" span carrying usage, remaining budget and threshold
// events. It keeps no per-call state, so one observer serves concurrent
// calls.
type OTelBudgetObserver struct {
	tracer  trace.Tracer
	metrics ports.MetricsCollector
}

// NewOTelBudgetObserver creates an observer. A nil tracer means the global
// tracer provider; metrics may be nil.
func NewOTelBudgetObserver(tracer trace.Tracer, metrics ports.MetricsCollector) *OTelBudgetObserver {
	if tracer == nil {
		tracer = otel.Tracer("github.com/ahrav/go-verifier/infrastructure/middleware")
	}
	return &OTelBudgetObserver{tracer: tracer, metrics: metrics}
}

// PreCheck starts the span and records the usage before the call.
func (o *OTelBudgetObserver) PreCheck(ctx context.Context, usage domain.Usage, budget domain.Budget) context.Context {
	ctx, span := o.tracer.Start(ctx, "budget.check")
	span.SetAttributes(attribute.String("budget.limit", budgetLimitLabel(budget)))
	addUsageAttributes(span, usage, budget)
	addThresholdEvents(span, usage, budget)
	return ctx
}

// PostCheck finalizes the span started by PreCheck.
func (o *OTelBudgetObserver) PostCheck(
	ctx context.Context,
	usage domain.Usage,
	budget domain.Budget,
	elapsed time.Duration,
	err error,
) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	addUsageAttributes(span, usage, budget)
	if o.metrics != nil {
		o.metrics.RecordLatency("budget_check", elapsed, map[string]string{"budget_limit": budgetLimitLabel(budget)})
	}

	var budgetErr *domain.BudgetExceededError
	switch {
	case errors.As(err, &budgetErr):
		span.AddEvent("budget.exceeded", trace.WithAttributes(
			attribute.String("limit_type", budgetErr.LimitType),
			attribute.Int64("limit_value", budgetErr.Limit),
			attribute.Int64("used_value", budgetErr.Used),
		))
		span.SetStatus(codes.Error, "Budget limit exceeded")
	case err != nil:
		span.SetStatus(codes.Error, err.Error())
	default:
		span.SetStatus(codes.Ok, "")
	}
}

func addUsageAttributes(span trace.Span, usage domain.Usage, budget domain.Budget) {
	span.SetAttributes(
		attribute.Int64("budget.tokens_used", usage.Tokens),
		attribute.Int64("budget.calls_made", usage.Calls),
	)
	if budget.MaxTokens > 0 {
		span.SetAttributes(
			attribute.Int64("budget.max_tokens", budget.MaxTokens),
			attribute.Int64("budget.remaining_tokens", budget.MaxTokens-usage.Tokens),
		)
	}
	if budget.MaxCalls > 0 {
		span.SetAttributes(
			attribute.Int64("budget.max_calls", budget.MaxCalls),
			attribute.Int64("budget.remaining_calls", budget.MaxCalls-usage.Calls),
		)
	}
}

// addThresholdEvents flags runs that are close to their limits.
func addThresholdEvents(span trace.Span, usage domain.Usage, budget domain.Budget) {
	check := func(resource string, used, limit int64) {
		if limit <= 0 {
			return
		}
		ratio := float64(used) / float64(limit)
		name := ""
		switch {
		case ratio >= budgetCriticalThreshold:
			name = "budget.threshold.critical"
		case ratio >= budgetWarningThreshold:
			name = "budget.threshold.warning"
		default:
			return
		}
		span.AddEvent(name, trace.WithAttributes(
			attribute.String("resource_type", resource),
			attribute.Float64("usage_percentage", ratio*100),
		))
	}
	check("tokens", usage.Tokens, budget.MaxTokens)
	check("calls", usage.Calls, budget.MaxCalls)
}

func budgetLimitLabel(budget domain.Budget) string {
	switch {
	case budget.MaxTokens > 0 && budget.MaxCalls > 0:
		return "tokens_and_calls"
	case budget.MaxTokens > 0:
		return "tokens_only"
	case budget.MaxCalls > 0:
		return "calls_only"
	default:
		return "unlimited"
	}
}
