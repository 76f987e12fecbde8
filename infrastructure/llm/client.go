// Package llm provides a unified interface for the language model providers
// the verifier talks to, with built-in support for structured output,
// prompt caching, rate limiting, circuit breaking, retries, run budgets,
// metrics and tracing.
//
// Providers (Anthropic, Bedrock, OpenAI, Google) sit behind the CoreLLM
// interface. Cross-cutting concerns are layered on top of a provider as
// Middleware, so stage code only ever sees a ports.LLMClient.
//
// Basic usage:
//
//	client, err := llm.NewClient("anthropic", llm.ClientConfig{
//	    APIKey: os.Getenv("ANTHROPIC_API_KEY"),
//	    Model:  "claude-3-7-sonnet-20250219",
//	})
//	response, err := client.Complete(ctx, "Hello world!", nil)
//
// With middleware:
//
//	client, err := llm.NewClient("bedrock", llm.ClientConfig{
//	    Model:  "us.anthropic.claude-3-7-sonnet-20250219-v1:0",
//	    Region: "us-west-2",
//	    Middleware: []llm.Middleware{
//	        llm.TracingMiddleware(tracer, "bedrock"),
//	        llm.RetryMiddleware(llm.DefaultRetryConfig()),
//	        llm.RateLimitMiddleware(20, 40),
//	    },
//	})
package llm

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/ahrav/go-verifier/internal/ports"
)

// DefaultMaxTokens is the output token limit used when a request does not
// set max_tokens.
const DefaultMaxTokens = 4096

// CoreLLM defines the minimal interface that LLM providers must implement.
// The middleware system wraps any conforming implementation.
type CoreLLM interface {
	// DoRequest sends a prompt to the provider and returns the response
	// text, the input token count and the output token count.
	DoRequest(
		ctx context.Context,
		prompt string,
		opts map[string]any,
	) (
		response string,
		tokensIn, tokensOut int,
		err error,
	)

	// GetModel returns the currently configured model name.
	GetModel() string

	// SetModel updates the model to use for subsequent requests.
	SetModel(model string)
}

// TokenEstimator estimates token counts before a request is sent, for
// budgeting and when a provider omits usage data.
type TokenEstimator interface {
	EstimateTokens(text string) int
}

// ClientConfig holds all configuration options for creating an LLM client.
type ClientConfig struct {
	// APIKey authenticates requests to the LLM provider. Bedrock ignores
	// it and resolves credentials through the AWS default chain.
	APIKey string

	// Model specifies which LLM model to use for requests.
	Model string

	// BaseURL overrides the default API endpoint for the provider.
	BaseURL string

	// Region and Profile select the AWS region and shared config profile
	// for the Bedrock provider.
	Region  string
	Profile string

	// Timeout sets the HTTP client timeout for providers that support one.
	// Zero means no timeout.
	Timeout time.Duration

	// TokenEstimator provides custom token counting logic.
	// If nil, a simple character-based estimator is used.
	TokenEstimator TokenEstimator

	// Middleware is applied in the order given; the first entry is the
	// outermost layer.
	Middleware []Middleware
}

// Middleware wraps a CoreLLM implementation to add cross-cutting functionality.
type Middleware func(CoreLLM) CoreLLM

// Client implements ports.LLMClient on top of a middleware-wrapped CoreLLM.
type Client struct {
	core      CoreLLM
	estimator TokenEstimator
}

var _ ports.LLMClient = (*Client)(nil)

// NewClient creates a new LLM client for the named provider. The
// middleware chain is assembled here and the provider factory validates
// its own credentials.
func NewClient(providerType string, config ClientConfig) (ports.LLMClient, error) {
	if config.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	factory, ok := providerFactories[providerType]
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", providerType)
	}

	core, err := factory(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider: %w", err)
	}

	return WrapCore(core, config.TokenEstimator, config.Middleware...), nil
}

// WrapCore builds a Client around an existing CoreLLM. It is used by
// NewClient and by tests that drive a MockCoreLLM through real middleware.
func WrapCore(core CoreLLM, estimator TokenEstimator, middleware ...Middleware) *Client {
	// Apply in reverse so the first middleware is the outermost.
	for i := len(middleware) - 1; i >= 0; i-- {
		core = middleware[i](core)
	}

	if estimator == nil {
		estimator = &SimpleTokenEstimator{}
	}

	return &Client{
		core:      core,
		estimator: estimator,
	}
}

// Complete sends a prompt to the LLM and returns the response text.
func (c *Client) Complete(ctx context.Context, prompt string, options map[string]any) (string, error) {
	response, _, _, err := c.CompleteWithUsage(ctx, prompt, options)
	return response, err
}

// CompleteWithUsage sends a prompt to the LLM and also returns the input
// and output token counts.
func (c *Client) CompleteWithUsage(
	ctx context.Context,
	prompt string,
	options map[string]any,
) (string, int, int, error) {
	return c.core.DoRequest(ctx, prompt, options)
}

// EstimateTokens returns an approximate token count for the given text.
func (c *Client) EstimateTokens(text string) (int, error) {
	return c.estimator.EstimateTokens(text), nil
}

// GetModel returns the model name of the underlying provider.
func (c *Client) GetModel() string { return c.core.GetModel() }

// SimpleTokenEstimator assumes roughly four characters per token, which is
// close enough for English text.
type SimpleTokenEstimator struct{}

// EstimateTokens returns ceil(len(text)/4).
func (e *SimpleTokenEstimator) EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}

// EstimateTokens is the package default estimator, used by providers when
// the API omits usage counts.
func EstimateTokens(text string) int {
	return (&SimpleTokenEstimator{}).EstimateTokens(text)
}

// ProviderFactory creates a CoreLLM implementation from configuration.
type ProviderFactory func(ClientConfig) (CoreLLM, error)

var providerFactories = map[string]ProviderFactory{}

// RegisterProviderFactory registers a provider factory under a name.
// Built-in providers register themselves in init.
func RegisterProviderFactory(providerType string, factory ProviderFactory) {
	providerFactories[providerType] = factory
}

// GetProviderFactory returns the factory registered under name.
func GetProviderFactory(name string) (ProviderFactory, bool) {
	factory, exists := providerFactories[name]
	return factory, exists
}

// Providers returns the sorted names of all registered providers.
func Providers() []string {
	return slices.Sorted(maps.Keys(providerFactories))
}
