package llm

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

type rateLimitedLLM struct {
	next    CoreLLM
	limiter *rate.Limiter
}

// RateLimitMiddleware paces requests with a token bucket shared by every
// client built from the returned middleware. limit is requests per second
// and burst the bucket size. A non-positive limit disables pacing.
func RateLimitMiddleware(limit rate.Limit, burst int) Middleware {
	if limit <= 0 {
		return func(next CoreLLM) CoreLLM { return next }
	}
	limiter := rate.NewLimiter(limit, max(burst, 1))

	return func(next CoreLLM) CoreLLM {
		return &rateLimitedLLM{
			next:    next,
			limiter: limiter,
		}
	}
}

// DoRequest blocks until the limiter grants a token or ctx ends.
func (r *rateLimitedLLM) DoRequest(ctx context.Context, prompt string, opts map[string]any) (string, int, int, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return "", 0, 0, fmt.Errorf("rate limit: %w", err)
	}
	return r.next.DoRequest(ctx, prompt, opts)
}

// GetModel returns the model name from the wrapped implementation.
func (r *rateLimitedLLM) GetModel() string { return r.next.GetModel() }

// SetModel updates the model name in the wrapped implementation.
func (r *rateLimitedLLM) SetModel(m string) { r.next.SetModel(m) }
