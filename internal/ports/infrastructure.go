package ports

import (
	"context"
	"time"

	"github.com/ahrav/go-verifier/internal/domain"
)

// LLMClient defines the interface for interacting with Large Language
// Model providers.
// Implementations handle provider-specific details like authentication,
// request formatting, structured output and response parsing.
type LLMClient interface {
	// Complete sends a completion request to the LLM provider.
	// It returns the generated text and any error encountered.
	//
	// The options map allows flexibility for different providers without
	// changing the interface. Common options include:
	//   - "temperature": float64 (0.0-1.0)
	//   - "max_tokens": int
	//   - "response_schema": a JSON schema the response must follow
	//   - "cache_prefix": a stable prompt prefix eligible for prompt caching
	Complete(ctx context.Context, prompt string, options map[string]any) (string, error)

	// CompleteWithUsage behaves like Complete and also reports the input
	// and output token counts of the call.
	CompleteWithUsage(ctx context.Context, prompt string, options map[string]any) (string, int, int, error)

	// EstimateTokens calculates the approximate token count for a given text.
	EstimateTokens(text string) (int, error)

	// GetModel returns the model identifier being used by this client.
	GetModel() string
}

// CacheStore defines the interface for caching model responses.
// A zero expiration means the store's default expiration.
type CacheStore interface {
	// Get retrieves a cached value by key.
	// Returns the value and true if found, or nil and false if not found.
	Get(ctx context.Context, key string) (any, bool, error)

	// Set stores a value in the cache with an expiration time.
	Set(ctx context.Context, key string, value any, expiration time.Duration) error

	// Delete removes a value from the cache.
	// Returns nil if the key doesn't exist.
	Delete(ctx context.Context, key string) error

	// Clear removes all values from the cache.
	Clear(ctx context.Context) error
}

// MetricsCollector defines the interface for collecting operational metrics.
// Implementations integrate with observability platforms like Prometheus.
type MetricsCollector interface {
	// RecordLatency records the execution time of an operation.
	RecordLatency(operation string, duration time.Duration, labels map[string]string)

	// RecordCounter increments a counter metric.
	RecordCounter(metric string, value float64, labels map[string]string)

	// RecordGauge sets the current value of a gauge metric.
	RecordGauge(metric string, value float64, labels map[string]string)

	// RecordHistogram records a value in a histogram.
	RecordHistogram(metric string, value float64, labels map[string]string)
}

// ReportStore persists verification reports. Reports are keyed by session
// id: a successful run is stored as "{session}.json" and a failed run as
// "{session}_error.json". Writing the same key twice replaces the earlier
// report.
type ReportStore interface {
	// SaveResult persists a successful report and returns its location.
	SaveResult(ctx context.Context, sessionID string, result *domain.VerificationResult) (string, error)

	// SaveError persists an error report and returns its location.
	SaveError(ctx context.Context, sessionID string, report *domain.ErrorReport) (string, error)

	// Load reads the successful report stored for sessionID.
	Load(ctx context.Context, sessionID string) (*domain.VerificationResult, error)

	// List returns the keys of every stored report, sorted.
	List(ctx context.Context) ([]string, error)

	// Location describes where reports are written, for display.
	Location() string

	// Close releases any resources held by the store.
	Close() error
}
