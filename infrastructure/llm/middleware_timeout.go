package llm

import (
	"context"
	"time"
)

type timeoutLLM struct {
	next    CoreLLM
	timeout time.Duration
}

// TimeoutMiddleware bounds every attempt with its own deadline. Placed
// below RetryMiddleware, a slow attempt times out and is retried while the
// caller's context keeps running. A non-positive timeout disables it.
func TimeoutMiddleware(timeout time.Duration) Middleware {
	return func(next CoreLLM) CoreLLM {
		if timeout <= 0 {
			return next
		}
		return &timeoutLLM{
			next:    next,
			timeout: timeout,
		}
	}
}

// DoRequest executes the request with a timeout context.
func (t *timeoutLLM) DoRequest(ctx context.Context, prompt string, opts map[string]any) (string, int, int, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.next.DoRequest(ctx, prompt, opts)
}

// GetModel returns the model name from the wrapped implementation.
func (t *timeoutLLM) GetModel() string { return t.next.GetModel() }

// SetModel updates the model name in the wrapped implementation.
func (t *timeoutLLM) SetModel(m string) { t.next.SetModel(m) }
