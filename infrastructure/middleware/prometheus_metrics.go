// Package middleware provides the cross-cutting concerns that sit around a
// verification run: Prometheus metrics, the run budget enforced on every
// model call and the OpenTelemetry and metrics pipeline observers.
package middleware

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ahrav/go-verifier/infrastructure/llm"
	"github.com/ahrav/go-verifier/internal/ports"
)

// Pipeline metric names understood by PrometheusMetrics in addition to the
// llm_* names recorded by llm.MetricsMiddleware.
const (
	MetricClaimsTotal      = "verifier_claims_total"
	MetricStageDuration    = "verifier_stage_duration_seconds"
	MetricStageErrors      = "verifier_stage_errors_total"
	MetricRunsTotal        = "verifier_runs_total"
	MetricRunDuration      = "verifier_run_duration_seconds"
	MetricBudgetExceeded   = "verifier_budget_exceeded_total"
	MetricBudgetTokensUsed = "verifier_budget_tokens_used"
	MetricBudgetCallsUsed  = "verifier_budget_calls_used"
)

const unknownLabel = "unknown"

var _ ports.MetricsCollector = (*PrometheusMetrics)(nil)

// PrometheusMetrics implements the MetricsCollector interface using Prometheus.
// Known metric names are routed to dedicated vectors with fixed label sets;
// anything else lands in generic operation vectors keyed by name.
type PrometheusMetrics struct {
	llmLatency  *prometheus.HistogramVec
	llmRequests *prometheus.CounterVec
	llmTokens   *prometheus.CounterVec

	claims         *prometheus.CounterVec
	stageDuration  *prometheus.HistogramVec
	stageErrors    *prometheus.CounterVec
	runs           *prometheus.CounterVec
	runDuration    prometheus.Histogram
	budgetExceeded *prometheus.CounterVec

	breakerState  *prometheus.GaugeVec
	breakerEvents *prometheus.CounterVec

	operationLatency *prometheus.HistogramVec
	operationCounter *prometheus.CounterVec
	operationValues  *prometheus.HistogramVec
	systemGauges     *prometheus.GaugeVec
}

// NewPrometheusMetrics creates every collector and registers it with reg.
// A nil reg means the default Prometheus registry. Tests pass a fresh
// prometheus.NewRegistry() so instances never collide.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	llmLabels := []string{"provider", "model", "stage", "status"}

	return &PrometheusMetrics{
		llmLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    llm.MetricLLMLatency,
				Help:    "Latency of model calls in seconds.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 40, 80},
			},
			llmLabels,
		),
		llmRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: llm.MetricLLMRequests,
				Help: "Model calls by outcome.",
			},
			llmLabels,
		),
		llmTokens: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: llm.MetricLLMTokens,
				Help: "Tokens consumed by model calls.",
			},
			append(llmLabels, "token_type"),
		),

		claims: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricClaimsTotal,
				Help: "Verified claims by verdict.",
			},
			[]string{"verdict"},
		),
		stageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    MetricStageDuration,
				Help:    "Duration of a single stage invocation in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"stage", "status"},
		),
		stageErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricStageErrors,
				Help: "Stage invocations that returned a stage error.",
			},
			[]string{"stage"},
		),
		runs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricRunsTotal,
				Help: "Verification runs by final status.",
			},
			[]string{"status"},
		),
		runDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    MetricRunDuration,
				Help:    "Wall time of completed verification runs in seconds.",
				Buckets: prometheus.ExponentialBuckets(1, 2, 12),
			},
		),
		budgetExceeded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricBudgetExceeded,
				Help: "Model calls rejected because the run budget was spent.",
			},
			[]string{"limit_type"},
		),

		breakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "verifier_circuit_breaker_state",
				Help: "Circuit breaker state: 0 closed, 1 open, 2 half-open.",
			},
			[]string{"provider"},
		),
		breakerEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "verifier_circuit_breaker_events_total",
				Help: "Circuit breaker trips, successes and failures.",
			},
			[]string{"provider", "event"},
		),

		operationLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "verifier_operation_duration_seconds",
				Help:    "Execution time of miscellaneous operations.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		operationCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "verifier_operations_total",
				Help: "Counters recorded under names without a dedicated metric.",
			},
			[]string{"metric"},
		),
		operationValues: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "verifier_operation_values",
				Help:    "Histogram values recorded under names without a dedicated metric.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"metric"},
		),
		systemGauges: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "verifier_system_state",
				Help: "Current values of named gauges.",
			},
			[]string{"metric"},
		),
	}
}

// label returns labels[key], or "unknown" when it is missing or empty.
func label(labels map[string]string, key string) string {
	if v := labels[key]; v != "" {
		return v
	}
	return unknownLabel
}

func llmLabelValues(labels map[string]string) []string {
	return []string{
		label(labels, "provider"),
		label(labels, "model"),
		label(labels, "stage"),
		label(labels, "status"),
	}
}

// RecordLatency implements the MetricsCollector interface.
func (pm *PrometheusMetrics) RecordLatency(operation string, duration time.Duration, labels map[string]string) {
	if operation == MetricStageDuration {
		pm.stageDuration.WithLabelValues(label(labels, "stage"), label(labels, "status")).Observe(duration.Seconds())
		return
	}
	pm.operationLatency.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordCounter implements the MetricsCollector interface.
func (pm *PrometheusMetrics) RecordCounter(metric string, value float64, labels map[string]string) {
	switch metric {
	case llm.MetricLLMRequests:
		pm.llmRequests.WithLabelValues(llmLabelValues(labels)...).Add(value)
	case llm.MetricLLMTokens:
		pm.llmTokens.WithLabelValues(append(llmLabelValues(labels), label(labels, "token_type"))...).Add(value)
	case MetricClaimsTotal:
		pm.claims.WithLabelValues(label(labels, "verdict")).Add(value)
	case MetricStageErrors:
		pm.stageErrors.WithLabelValues(label(labels, "stage")).Add(value)
	case MetricRunsTotal:
		pm.runs.WithLabelValues(label(labels, "status")).Add(value)
	case MetricBudgetExceeded:
		pm.budgetExceeded.WithLabelValues(label(labels, "limit_type")).Add(value)
	default:
		pm.operationCounter.WithLabelValues(metric).Add(value)
	}
}

// RecordGauge implements the MetricsCollector interface.
func (pm *PrometheusMetrics) RecordGauge(metric string, value float64, _ map[string]string) {
	pm.systemGauges.WithLabelValues(metric).Set(value)
}

// RecordHistogram implements the MetricsCollector interface.
func (pm *PrometheusMetrics) RecordHistogram(metric string, value float64, labels map[string]string) {
	switch metric {
	case llm.MetricLLMLatency:
		pm.llmLatency.WithLabelValues(llmLabelValues(labels)...).Observe(value)
	case MetricRunDuration:
		pm.runDuration.Observe(value)
	default:
		pm.operationValues.WithLabelValues(metric).Observe(value)
	}
}

// CircuitBreaker returns an llm.CircuitBreakerMetrics that reports the
// breaker guarding provider.
func (pm *PrometheusMetrics) CircuitBreaker(provider string) llm.CircuitBreakerMetrics {
	return &circuitBreakerMetrics{pm: pm, provider: provider}
}

type circuitBreakerMetrics struct {
	pm       *PrometheusMetrics
	provider string
}

func (c *circuitBreakerMetrics) RecordState(state llm.CircuitBreakerState) {
	c.pm.breakerState.WithLabelValues(c.provider).Set(float64(state))
}

func (c *circuitBreakerMetrics) RecordTrip() {
	c.pm.breakerEvents.WithLabelValues(c.provider, "trip").Inc()
}

func (c *circuitBreakerMetrics) RecordSuccess() {
	c.pm.breakerEvents.WithLabelValues(c.provider, "success").Inc()
}

func (c *circuitBreakerMetrics) RecordFailure() {
	c.pm.breakerEvents.WithLabelValues(c.provider, "failure").Inc()
}
