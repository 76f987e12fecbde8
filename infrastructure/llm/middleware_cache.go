package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/ahrav/go-verifier/internal/ports"
)

// cachedResponse is the value stored for one model response.
type cachedResponse struct {
	Response  string
	TokensIn  int
	TokensOut int
}

type cachedLLM struct {
	next   CoreLLM
	store  ports.CacheStore
	ttl    time.Duration
	logger *slog.Logger
}

// ResponseCacheMiddleware answers repeated identical requests from store.
// The key covers the model, prompt, cache prefix, structured output schema
// and sampling options. Hits report zero token usage. Cache failures are
// logged and never fail the request. Calls with OptNoCache bypass it.
func ResponseCacheMiddleware(store ports.CacheStore, ttl time.Duration, logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return func(next CoreLLM) CoreLLM {
		if store == nil {
			return next
		}
		return &cachedLLM{next: next, store: store, ttl: ttl, logger: logger}
	}
}

// DoRequest serves from the cache when possible.
func (c *cachedLLM) DoRequest(ctx context.Context, prompt string, opts map[string]any) (string, int, int, error) {
	if ExtractOptionalBool(opts, OptNoCache, false) {
		return c.next.DoRequest(ctx, prompt, opts)
	}

	key, err := c.cacheKey(prompt, opts)
	if err != nil {
		c.logger.WarnContext(ctx, "response cache key failed", "error", err)
		return c.next.DoRequest(ctx, prompt, opts)
	}

	if v, ok, err := c.store.Get(ctx, key); err != nil {
		c.logger.WarnContext(ctx, "response cache read failed", "key", key, "error", err)
	} else if ok {
		if hit, isResp := v.(cachedResponse); isResp {
			c.logger.DebugContext(ctx, "response cache hit", "key", key)
			return hit.Response, 0, 0, nil
		}
	}

	response, tokensIn, tokensOut, err := c.next.DoRequest(ctx, prompt, opts)
	if err != nil {
		return response, tokensIn, tokensOut, err
	}

	entry := cachedResponse{Response: response, TokensIn: tokensIn, TokensOut: tokensOut}
	if err := c.store.Set(ctx, key, entry, c.ttl); err != nil {
		c.logger.WarnContext(ctx, "response cache write failed", "key", key, "error", err)
	}
	return response, tokensIn, tokensOut, nil
}

func (c *cachedLLM) cacheKey(prompt string, opts map[string]any) (string, error) {
	var schema json.RawMessage
	if so := StructuredOutputFrom(opts); so != nil {
		data, err := json.Marshal(so.Schema)
		if err != nil {
			return "", err
		}
		schema = data
	}

	payload, err := json.Marshal(struct {
		Model       string          `json:"model"`
		Prompt      string          `json:"prompt"`
		Prefix      string          `json:"prefix"`
		System      string          `json:"system"`
		SchemaName  string          `json:"schema_name"`
		Schema      json.RawMessage `json:"schema,omitempty"`
		Temperature float64         `json:"temperature"`
		MaxTokens   int             `json:"max_tokens"`
	}{
		Model:       ExtractOptionalString(opts, OptModel, c.next.GetModel(), IsNonEmptyString),
		Prompt:      prompt,
		Prefix:      ExtractOptionalString(opts, OptCachePrefix, "", nil),
		System:      ExtractOptionalString(opts, OptSystem, "", nil),
		SchemaName:  ExtractOptionalString(opts, OptSchemaName, "", nil),
		Schema:      schema,
		Temperature: ExtractOptionalFloat64(opts, OptTemperature, -1, nil),
		MaxTokens:   ExtractOptionalInt(opts, OptMaxTokens, 0, nil),
	})
	if err != nil {
		return "", err
	}

	sum := sha256.Sum256(payload)
	return "llm:" + hex.EncodeToString(sum[:]), nil
}

// GetModel returns the model name from the wrapped implementation.
func (c *cachedLLM) GetModel() string { return c.next.GetModel() }

// SetModel updates the model name in the wrapped implementation.
func (c *cachedLLM) SetModel(m string) { c.next.SetModel(m) }
