// Package stages implements the four model-backed steps of a verification
// run: claim extraction, evidence retrieval, decision judgment and citation
// building. Each invoker renders a prompt, calls a ports.LLMClient with a
// JSON schema for its output, and validates what comes back. Invokers never
// return Go errors: every failure is a domain.StageError.
package stages

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"

	"github.com/ahrav/go-verifier/internal/ports"
)

// Default invocation settings.
const (
	DefaultMaxTokens   = 64000
	DefaultTemperature = 0.1

	// CacheSplitThreshold is the source text length, in characters, above
	// which evidence retrieval sends the sources as a cacheable prefix.
	CacheSplitThreshold = 1000
)

const tracerName = "github.com/ahrav/go-verifier/infrastructure/stages"

var tracer = otel.Tracer(tracerName)

var (
	// ErrNilClient is returned when an invoker is built without an LLM client.
	ErrNilClient = errors.New("LLM client cannot be nil")

	// ErrNoJSON is reported when a model response holds no JSON object.
	ErrNoJSON = errors.New("no JSON object found in model response")
)

// Package-level validator instance for stage outputs and configuration.
var validate = validator.New()

// Config holds the settings shared by all stage invokers.
type Config struct {
	// MaxTokens caps the output of every stage call.
	MaxTokens int `yaml:"max_tokens" json:"max_tokens" validate:"min=1"`

	// Temperature is passed to the provider unchanged.
	Temperature float64 `yaml:"temperature" json:"temperature" validate:"min=0,max=2"`

	// CachingEnabled turns on provider prompt caching: large source sets
	// are sent as a cacheable prefix and tool definitions are marked
	// cacheable when CacheTools is set.
	CachingEnabled bool `yaml:"caching_enabled" json:"caching_enabled"`
	CacheTools     bool `yaml:"cache_tools" json:"cache_tools"`

	// Prompts overrides the embedded prompt catalog.
	Prompts *Prompts `yaml:"-" json:"-" validate:"-"`

	Logger *slog.Logger `yaml:"-" json:"-" validate:"-"`
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		MaxTokens:      DefaultMaxTokens,
		Temperature:    DefaultTemperature,
		CachingEnabled: true,
		CacheTools:     true,
	}
}

func (c Config) withDefaults() (Config, error) {
	if err := validate.Struct(c); err != nil {
		return c, fmt.Errorf("stage configuration validation failed: %w", err)
	}
	if c.Prompts == nil {
		p, err := DefaultPrompts()
		if err != nil {
			return c, err
		}
		c.Prompts = p
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
	return c, nil
}

// New builds all four invokers over a single client.
func New(client ports.LLMClient, cfg Config) (ports.Stages, error) {
	extractor, err := NewClaimExtractor(client, cfg)
	if err != nil {
		return ports.Stages{}, err
	}
	retriever, err := NewEvidenceRetriever(client, cfg)
	if err != nil {
		return ports.Stages{}, err
	}
	judge, err := NewDecisionJudge(client, cfg)
	if err != nil {
		return ports.Stages{}, err
	}
	citations, err := NewCitationBuilder(client, cfg)
	if err != nil {
		return ports.Stages{}, err
	}
	return ports.Stages{
		Extractor: extractor,
		Retriever: retriever,
		Judge:     judge,
		Citations: citations,
	}, nil
}
