package llm

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"
)

// Default retry configuration constants.
const (
	DefaultMaxAttempts   = 3
	DefaultBaseDelay     = 1 * time.Second
	DefaultMaxDelay      = 30 * time.Second
	DefaultJitterPercent = 0.1
)

// RetryConfig controls the exponential backoff used by RetryMiddleware.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts, including the first.
	// Values below 1 are treated as 1.
	MaxAttempts int

	// BaseDelay is the delay before the second attempt. Each later
	// attempt doubles it.
	BaseDelay time.Duration

	// MaxDelay caps the delay between attempts.
	MaxDelay time.Duration

	// JitterPercent spreads each delay by up to ±JitterPercent of its
	// value. It should be between 0.0 and 1.0.
	JitterPercent float64

	// Logger receives a warning for every retried failure. Nil disables
	// retry logging.
	Logger *slog.Logger
}

// DefaultRetryConfig returns the retry settings used when none are configured.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   DefaultMaxAttempts,
		BaseDelay:     DefaultBaseDelay,
		MaxDelay:      DefaultMaxDelay,
		JitterPercent: DefaultJitterPercent,
	}
}

type retryLLM struct {
	next   CoreLLM
	config RetryConfig
}

// RetryMiddleware retries failed requests with exponential backoff and
// jitter. Only errors for which IsRetryable holds are retried; a canceled
// context, an open circuit or an exhausted budget end the loop at once.
func RetryMiddleware(config RetryConfig) Middleware {
	config.MaxAttempts = max(config.MaxAttempts, 1)
	return func(next CoreLLM) CoreLLM {
		return &retryLLM{next: next, config: config}
	}
}

// DoRequest executes the request with automatic retry logic.
func (r *retryLLM) DoRequest(ctx context.Context, prompt string, opts map[string]any) (string, int, int, error) {
	var lastErr error
	attempts := 0

	for attempt := range r.config.MaxAttempts {
		attempts++
		response, tokensIn, tokensOut, err := r.next.DoRequest(ctx, prompt, opts)
		if err == nil {
			return response, tokensIn, tokensOut, nil
		}
		lastErr = err

		if ctx.Err() != nil || !IsRetryable(err) || attempt == r.config.MaxAttempts-1 {
			break
		}

		delay := r.calculateDelay(attempt)
		if r.config.Logger != nil {
			r.config.Logger.WarnContext(ctx, "retrying LLM request",
				"attempt", attempt+1,
				"max_attempts", r.config.MaxAttempts,
				"delay", delay,
				"stage", ExtractOptionalString(opts, OptStage, "", nil),
				"error", err)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", 0, 0, fmt.Errorf("context cancelled during retry: %w", ctx.Err())
		case <-timer.C:
		}
	}

	if attempts == 1 {
		return "", 0, 0, lastErr
	}
	return "", 0, 0, fmt.Errorf("request failed after %d attempts: %w", attempts, lastErr)
}

// calculateDelay returns BaseDelay·2^attempt capped at MaxDelay, spread by
// the configured jitter and never below BaseDelay.
func (r *retryLLM) calculateDelay(attempt int) time.Duration {
	attempt = min(max(attempt, 0), 30)
	delay := r.config.BaseDelay * time.Duration(1<<attempt)
	if r.config.MaxDelay > 0 && delay > r.config.MaxDelay {
		delay = r.config.MaxDelay
	}

	jitter := int64(float64(delay) * r.config.JitterPercent)
	if jitter > 0 {
		//nolint:gosec // G404: math/rand is acceptable for retry jitter timing.
		delay += time.Duration(rand.Int64N(2*jitter) - jitter)
	}

	return max(delay, r.config.BaseDelay)
}

// GetModel returns the model name from the wrapped implementation.
func (r *retryLLM) GetModel() string { return r.next.GetModel() }

// SetModel updates the model name in the wrapped implementation.
func (r *retryLLM) SetModel(m string) { r.next.SetModel(m) }
