package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-verifier/internal/domain"
)

func TestMetricsMiddleware_RecordsSuccessfulRequests(t *testing.T) {
	// Given a successful provider
	collector := &captureCollector{}
	mock := NewMockCoreLLM()
	wrapped := MetricsMiddleware(collector, "anthropic")(mock)

	// When a stage makes a call
	_, _, _, err := wrapped.DoRequest(context.Background(), "p", map[string]any{OptStage: "evidence_retrieval"})
	require.NoError(t, err)

	// Then latency, request and token samples carry the full label set
	require.Len(t, collector.histograms, 1)
	assert.Equal(t, MetricLLMLatency, collector.histograms[0].name)

	requests := collector.countersNamed(MetricLLMRequests)
	require.Len(t, requests, 1)
	assert.Equal(t, map[string]string{
		"provider": "anthropic",
		"model":    "test-model",
		"stage":    "evidence_retrieval",
		"status":   "success",
	}, requests[0].labels)

	tokens := collector.countersNamed(MetricLLMTokens)
	require.Len(t, tokens, 2)
	assert.Equal(t, 10.0, tokens[0].value)
	assert.Equal(t, "input", tokens[0].labels["token_type"])
	assert.Equal(t, 20.0, tokens[1].value)
	assert.Equal(t, "output", tokens[1].labels["token_type"])
	_, leaked := requests[0].labels["token_type"]
	assert.False(t, leaked, "token labels must not leak into the shared label map")
}

func TestMetricsMiddleware_StatusLabels(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status string
	}{
		{name: "generic failure", err: errors.New("boom"), status: "error"},
		{name: "circuit open", err: ErrCircuitOpen, status: "circuit_open"},
		{name: "budget", err: domain.NewBudgetExceededError("calls", 1, 1), status: "budget_exceeded"},
		{name: "deadline", err: context.DeadlineExceeded, status: "timeout"},
		{name: "canceled", err: context.Canceled, status: "canceled"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			collector := &captureCollector{}
			mock := NewMockCoreLLM()
			mock.Error = tt.err
			wrapped := MetricsMiddleware(collector, "openai")(mock)

			_, _, _, err := wrapped.DoRequest(context.Background(), "p", nil)
			require.ErrorIs(t, err, tt.err)

			requests := collector.countersNamed(MetricLLMRequests)
			require.Len(t, requests, 1)
			assert.Equal(t, tt.status, requests[0].labels["status"])
			assert.Equal(t, "unknown", requests[0].labels["stage"])
			assert.Empty(t, collector.countersNamed(MetricLLMTokens), "failed calls record no tokens")
		})
	}
}

func TestMetricsMiddleware_NilCollector(t *testing.T) {
	mock := NewMockCoreLLM()
	wrapped := MetricsMiddleware(nil, "openai")(mock)

	assert.Same(t, mock, wrapped)
}

func TestMetricsMiddleware_PassesThroughModelMethods(t *testing.T) {
	mock := NewMockCoreLLM()
	wrapped := MetricsMiddleware(&captureCollector{}, "openai")(mock)

	wrapped.SetModel("gpt-4o")
	assert.Equal(t, "gpt-4o", wrapped.GetModel())
}
