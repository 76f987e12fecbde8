package llm

import (
	"sync"
)

// BaseProvider provides thread-safe model name management shared by all
// providers.
type BaseProvider struct {
	mu    sync.RWMutex
	model string
}

// GetModel returns the name of the model currently configured for the provider.
func (b *BaseProvider) GetModel() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.model
}

// SetModel updates the model name for the provider.
func (b *BaseProvider) SetModel(model string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.model = model
}

// RequestOptions is the provider-neutral form of a request's option map.
type RequestOptions struct {
	MaxTokens int
	Model     string

	// Temperature and TopP are nil when the provider default applies.
	Temperature *float64
	TopP        *float64

	System string

	// CachePrefix is sent ahead of the prompt and marked cacheable.
	CachePrefix string

	// Structured is non-nil when the response must follow a JSON schema.
	Structured *StructuredOutput

	// Extra holds provider-specific options not covered above.
	Extra map[string]any
}

// ParseRequestOptions extracts and validates request parameters from a
// map, using defaults for missing or invalid entries. Unrecognized options
// are collected into Extra.
func ParseRequestOptions(opts map[string]any, defaultModel string) RequestOptions {
	options := RequestOptions{
		MaxTokens:   ExtractOptionalInt(opts, OptMaxTokens, DefaultMaxTokens, IsPositiveInt),
		Model:       ExtractOptionalString(opts, OptModel, defaultModel, IsNonEmptyString),
		System:      ExtractOptionalString(opts, OptSystem, "", nil),
		CachePrefix: ExtractOptionalString(opts, OptCachePrefix, "", nil),
		Structured:  StructuredOutputFrom(opts),
		Extra:       make(map[string]any),
	}

	if temp := ExtractOptionalFloat64(opts, OptTemperature, -1, IsValidTemperature); temp != -1 {
		options.Temperature = &temp
	}

	if topP := ExtractOptionalFloat64(opts, OptTopP, -1, IsValidTopP); topP != -1 {
		options.TopP = &topP
	}

	for k, v := range opts {
		switch k {
		case OptMaxTokens, OptModel, OptSystem, OptTemperature, OptTopP,
			OptCachePrefix, OptResponseSchema, OptSchemaName, OptSchemaDescription,
			OptCacheTools, OptNoCache, OptStage:
		default:
			options.Extra[k] = v
		}
	}

	return options
}

// FullPrompt concatenates the cache prefix and the prompt for providers
// that have no separate cacheable block.
func (o RequestOptions) FullPrompt(prompt string) string {
	return o.CachePrefix + prompt
}

// tokenCount returns the API-reported count when positive, otherwise an
// estimate from text.
func tokenCount[N int | int32 | int64](reported N, text string) int {
	if reported > 0 {
		return int(reported)
	}
	return EstimateTokens(text)
}
