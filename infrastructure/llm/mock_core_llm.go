package llm

import (
	"context"
	"sync"
	"time"
)

// MockCoreLLM is a configurable CoreLLM for middleware and client tests.
// The lock is released while a configured delay elapses, so concurrent
// callers overlap the way they would against a real provider.
type MockCoreLLM struct {
	mu sync.Mutex

	Response      string
	TokensIn      int
	TokensOut     int
	Error         error
	Model         string
	ResponseDelay time.Duration

	// ResponseFunc, when set, decides each call's outcome from the
	// 1-based call number and the prompt.
	ResponseFunc func(call int, prompt string, opts map[string]any) (string, error)

	// FailUntilAttempt fails the first N calls, then succeeds.
	FailUntilAttempt int

	CallCount      int
	LastPrompt     string
	LastOpts       map[string]any
	Contexts       []context.Context
	CallTimestamps []time.Time
}

// NewMockCoreLLM creates a new mock CoreLLM with default successful behavior.
func NewMockCoreLLM() *MockCoreLLM {
	return &MockCoreLLM{
		Response:  "test response",
		TokensIn:  10,
		TokensOut: 20,
		Model:     "test-model",
	}
}

// DoRequest implements the CoreLLM interface with configurable behavior.
func (m *MockCoreLLM) DoRequest(ctx context.Context, prompt string, opts map[string]any) (string, int, int, error) {
	m.mu.Lock()
	m.CallCount++
	call := m.CallCount
	m.LastPrompt = prompt
	m.LastOpts = opts
	m.Contexts = append(m.Contexts, ctx)
	m.CallTimestamps = append(m.CallTimestamps, time.Now())
	delay := m.ResponseDelay
	respFn := m.ResponseFunc
	failUntil := m.FailUntilAttempt
	response, tokensIn, tokensOut, configured := m.Response, m.TokensIn, m.TokensOut, m.Error
	m.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return "", 0, 0, ctx.Err()
		}
	}

	if respFn != nil {
		resp, err := respFn(call, prompt, opts)
		if err != nil {
			return "", 0, 0, err
		}
		return resp, tokensIn, tokensOut, nil
	}

	if failUntil > 0 && call <= failUntil {
		if configured != nil {
			return "", 0, 0, configured
		}
		return "", 0, 0, &testError{message: "simulated failure"}
	}

	if configured != nil {
		return "", 0, 0, configured
	}
	return response, tokensIn, tokensOut, nil
}

// GetModel returns the configured model name.
func (m *MockCoreLLM) GetModel() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Model
}

// SetModel updates the model name.
func (m *MockCoreLLM) SetModel(model string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Model = model
}

// GetCallCount returns the number of times DoRequest was called.
func (m *MockCoreLLM) GetCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CallCount
}

// GetLastOpts returns the options of the most recent call.
func (m *MockCoreLLM) GetLastOpts() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.LastOpts
}

// GetTimeBetweenCalls returns the duration between two recorded calls,
// or nil when either index is out of range.
func (m *MockCoreLLM) GetTimeBetweenCalls(call1, call2 int) *time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	if call1 < 0 || call2 < 0 || call1 >= len(m.CallTimestamps) || call2 >= len(m.CallTimestamps) {
		return nil
	}

	duration := m.CallTimestamps[call2].Sub(m.CallTimestamps[call1])
	return &duration
}

// testError is an unclassified error, which IsRetryable treats as transient.
type testError struct {
	message string
}

func (e *testError) Error() string {
	return e.message
}
