package llm

import (
	"context"
	"errors"
	"maps"
	"time"

	"github.com/ahrav/go-verifier/internal/domain"
	"github.com/ahrav/go-verifier/internal/ports"
)

// Metric names recorded by MetricsMiddleware.
const (
	MetricLLMLatency  = "llm_latency_seconds"
	MetricLLMRequests = "llm_requests_total"
	MetricLLMTokens   = "llm_tokens_total"
)

type metricsLLM struct {
	next      CoreLLM
	collector ports.MetricsCollector
	provider  string
}

// MetricsMiddleware records latency, request counts and token usage for
// every call, labeled by provider, model, stage and outcome.
func MetricsMiddleware(collector ports.MetricsCollector, provider string) Middleware {
	return func(next CoreLLM) CoreLLM {
		if collector == nil {
			return next
		}
		return &metricsLLM{
			next:      next,
			collector: collector,
			provider:  provider,
		}
	}
}

// DoRequest executes the request while collecting metrics.
func (m *metricsLLM) DoRequest(ctx context.Context, prompt string, opts map[string]any) (string, int, int, error) {
	start := time.Now()
	response, tokensIn, tokensOut, err := m.next.DoRequest(ctx, prompt, opts)

	labels := map[string]string{
		"provider": m.provider,
		"model":    m.next.GetModel(),
		"stage":    ExtractOptionalString(opts, OptStage, "unknown", IsNonEmptyString),
		"status":   requestStatus(err),
	}

	m.collector.RecordHistogram(MetricLLMLatency, time.Since(start).Seconds(), labels)
	m.collector.RecordCounter(MetricLLMRequests, 1, labels)

	if err == nil {
		m.collector.RecordCounter(MetricLLMTokens, float64(tokensIn), withLabel(labels, "token_type", "input"))
		m.collector.RecordCounter(MetricLLMTokens, float64(tokensOut), withLabel(labels, "token_type", "output"))
	}

	return response, tokensIn, tokensOut, err
}

func requestStatus(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(err, domain.ErrBudgetExceeded):
		return "budget_exceeded"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "error"
	}
}

func withLabel(labels map[string]string, key, value string) map[string]string {
	out := maps.Clone(labels)
	out[key] = value
	return out
}

// GetModel returns the model name from the wrapped implementation.
func (m *metricsLLM) GetModel() string { return m.next.GetModel() }

// SetModel updates the model name in the wrapped implementation.
func (m *metricsLLM) SetModel(model string) { m.next.SetModel(model) }
