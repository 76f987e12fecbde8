// Package testutils provides scripted test doubles for the verification
// pipeline.
package testutils

import (
	"context"
	"errors"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/ahrav/go-verifier/internal/ports"
)

// Option keys the mock inspects. They mirror the request options set by
// the stage invokers.
const (
	optStage          = "stage"
	optResponseSchema = "response_schema"
	optCachePrefix    = "cache_prefix"
)

// ErrEmptyPrompt is returned for calls without a prompt.
var ErrEmptyPrompt = errors.New("prompt cannot be empty")

// MockCall records one request made to a MockLLMClient.
type MockCall struct {
	Prompt     string
	Options    map[string]any
	Stage      string
	Structured bool
}

// MockResponse defines a scripted reply. A response matches a call when
// every non-empty selector matches: Stage against the call's stage option,
// Pattern as a case-insensitive substring of the prompt or cache prefix,
// and FreeTextOnly/StructuredOnly against whether a schema was requested.
// Responses are tried in the order they were added, newest first.
type MockResponse struct {
	Stage          string
	Pattern        string
	StructuredOnly bool
	FreeTextOnly   bool

	Response   string
	Err        error
	TokensUsed int

	// Handler, when set, computes the reply instead of Response/Err.
	Handler func(call MockCall) (string, error)
}

// MockLLMClient implements ports.LLMClient with deterministic, scripted
// replies. By default it answers every stage with a consistent scenario:
// one performance claim, one supporting passage from source.txt, a
// SUPPORTED verdict and one citation. It is safe for concurrent use.
type MockLLMClient struct {
	mu        sync.Mutex
	model     string
	responses []MockResponse
	calls     []MockCall
	delay     time.Duration
}

// Default scenario replies, keyed by stage.
const (
	DefaultClaimsResponse    = `{"claims": [{"claim_id": "claim-1", "claim_text": "The system handles 500 requests per second", "target_locator": {"page": 1, "span": "Performance"}, "category": "Performance"}]}`
	DefaultEvidenceResponse  = `{"evidence": [{"doc_id": "source.txt", "evidence_text": "Load testing confirmed 520 requests per second", "location": {"page": 1, "span": "Load Testing"}, "relevance_score": 0.95, "relationship": "supports"}]}`
	DefaultJudgmentResponse  = `{"verdict": "SUPPORTED", "confidence": 90, "rationale": "Measured throughput exceeds the claimed rate.", "supporting_evidence": ["Load testing confirmed 520 requests per second"], "contradicting_evidence": []}`
	DefaultCitationsResponse = `{"citations": [{"docId": "source.txt", "version": 1, "page": 1, "span": "Load Testing"}]}`
)

// NewMockLLMClient creates a MockLLMClient answering with the default
// scenario.
func NewMockLLMClient(model string) *MockLLMClient {
	m := &MockLLMClient{model: model}
	m.setupDefaultResponses()
	return m
}

func (m *MockLLMClient) setupDefaultResponses() {
	m.responses = []MockResponse{
		{Stage: "claim_extraction", Response: DefaultClaimsResponse, TokensUsed: 40},
		{Stage: "evidence_retrieval", Response: DefaultEvidenceResponse, TokensUsed: 35},
		{Stage: "decision_judgment", Response: DefaultJudgmentResponse, TokensUsed: 30},
		{Stage: "citation_building", Response: DefaultCitationsResponse, TokensUsed: 20},
	}
}

// AddResponse adds a scripted reply that takes precedence over every
// reply added before it.
func (m *MockLLMClient) AddResponse(response MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, response)
}

// SetDelay makes every call wait d before answering, honoring
// cancellation.
func (m *MockLLMClient) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// Complete implements ports.LLMClient.
func (m *MockLLMClient) Complete(ctx context.Context, prompt string, options map[string]any) (string, error) {
	response, _, _, err := m.CompleteWithUsage(ctx, prompt, options)
	return response, err
}

// CompleteWithUsage implements ports.LLMClient.
func (m *MockLLMClient) CompleteWithUsage(
	ctx context.Context,
	prompt string,
	options map[string]any,
) (string, int, int, error) {
	if err := ctx.Err(); err != nil {
		return "", 0, 0, err
	}
	if prompt == "" {
		return "", 0, 0, ErrEmptyPrompt
	}

	call := MockCall{Prompt: prompt, Options: maps.Clone(options)}
	call.Stage, _ = options[optStage].(string)
	_, call.Structured = options[optResponseSchema]

	m.mu.Lock()
	m.calls = append(m.calls, call)
	delay := m.delay
	match, ok := m.findMatchingResponse(call)
	m.mu.Unlock()

	if delay > 0 {
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return "", 0, 0, ctx.Err()
		case <-t.C:
		}
	}

	if !ok {
		return "Mock response for testing purposes.", m.estimate(prompt), 8, nil
	}
	if match.Handler != nil {
		response, err := match.Handler(call)
		return response, m.estimate(prompt), m.estimate(response), err
	}
	if match.Err != nil {
		return "", 0, 0, match.Err
	}
	tokensOut := match.TokensUsed
	if tokensOut == 0 {
		tokensOut = m.estimate(match.Response)
	}
	return match.Response, m.estimate(prompt), tokensOut, nil
}

// findMatchingResponse picks the newest response whose selectors match.
// The caller must hold m.mu.
func (m *MockLLMClient) findMatchingResponse(call MockCall) (MockResponse, bool) {
	haystack := strings.ToLower(call.Prompt)
	if prefix, ok := call.Options[optCachePrefix].(string); ok {
		haystack = strings.ToLower(prefix) + haystack
	}

	for i := len(m.responses) - 1; i >= 0; i-- {
		r := m.responses[i]
		if r.Stage != "" && r.Stage != call.Stage {
			continue
		}
		if r.Pattern != "" && !strings.Contains(haystack, strings.ToLower(r.Pattern)) {
			continue
		}
		if r.StructuredOnly && !call.Structured {
			continue
		}
		if r.FreeTextOnly && call.Structured {
			continue
		}
		return r, true
	}
	return MockResponse{}, false
}

// EstimateTokens implements ports.LLMClient using roughly four characters
// per token.
func (m *MockLLMClient) EstimateTokens(text string) (int, error) {
	return m.estimate(text), nil
}

func (m *MockLLMClient) estimate(text string) int {
	if text == "" {
		return 0
	}
	return max(len(text)/4, 1)
}

// GetModel implements ports.LLMClient.
func (m *MockLLMClient) GetModel() string { return m.model }

// Calls returns a copy of every call made so far.
func (m *MockLLMClient) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallsForStage returns the calls labeled with stage.
func (m *MockLLMClient) CallsForStage(stage string) []MockCall {
	var out []MockCall
	for _, c := range m.Calls() {
		if c.Stage == stage {
			out = append(out, c)
		}
	}
	return out
}

// Reset clears recorded calls and custom responses and restores the
// default scenario.
func (m *MockLLMClient) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
	m.delay = 0
	m.setupDefaultResponses()
}

var _ ports.LLMClient = (*MockLLMClient)(nil)
