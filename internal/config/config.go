// Package config defines the verifier's configuration surface and loads it
// from a YAML file, VERIFIER_* environment variables and command-line
// flags, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/ahrav/go-verifier/internal/application"
	"github.com/ahrav/go-verifier/internal/domain"
)

// EnvPrefix is the prefix of every environment variable the verifier reads.
const EnvPrefix = "VERIFIER"

// Exporter names accepted by telemetry.exporter.
const (
	ExporterNone   = "none"
	ExporterOTLP   = "otlp"
	ExporterStdout = "stdout"
)

// Cache modes accepted by caching.prompt and caching.tools.
const (
	CacheModeDefault = "default"
	CacheModeOff     = "off"
)

// Config is the complete, validated configuration of the verifier.
type Config struct {
	SourceDir  string `yaml:"source_dir" mapstructure:"source_dir" validate:"required"`
	TargetDir  string `yaml:"target_dir" mapstructure:"target_dir" validate:"required"`
	ResultsDir string `yaml:"results_dir" mapstructure:"results_dir" validate:"required,storelocation"`
	TracesDir  string `yaml:"traces_dir" mapstructure:"traces_dir" validate:"required"`

	// SessionID names the next run. Empty means a generated id.
	SessionID string `yaml:"session_id,omitempty" mapstructure:"session_id" validate:"omitempty,sessionid"`

	LLM            LLMConfig            `yaml:"llm" mapstructure:"llm"`
	Caching        CachingConfig        `yaml:"caching" mapstructure:"caching"`
	AWS            AWSConfig            `yaml:"aws" mapstructure:"aws"`
	Pipeline       application.Config   `yaml:"pipeline" mapstructure:"pipeline"`
	Retry          RetryConfig          `yaml:"retry" mapstructure:"retry"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit" mapstructure:"rate_limit"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker" mapstructure:"circuit_breaker"`
	Budget         domain.Budget        `yaml:"budget" mapstructure:"budget"`
	Telemetry      TelemetryConfig      `yaml:"telemetry" mapstructure:"telemetry"`
	Log            LogConfig            `yaml:"log" mapstructure:"log"`

	// MetricsAddr is the listen address of the Prometheus endpoint. Empty
	// disables it.
	MetricsAddr string `yaml:"metrics_addr,omitempty" mapstructure:"metrics_addr" validate:"omitempty,hostname_port"`
}

// LLMConfig selects the model and its invocation settings.
type LLMConfig struct {
	Provider    string        `yaml:"provider" mapstructure:"provider" validate:"required,oneof=bedrock anthropic openai google"`
	Model       string        `yaml:"model" mapstructure:"model" validate:"required,modelformat"`
	MaxTokens   int           `yaml:"max_tokens" mapstructure:"max_tokens" validate:"min=1"`
	Temperature float64       `yaml:"temperature" mapstructure:"temperature" validate:"min=0,max=2"`
	BaseURL     string        `yaml:"base_url,omitempty" mapstructure:"base_url" validate:"omitempty,url"`
	Timeout     time.Duration `yaml:"timeout" mapstructure:"timeout" validate:"gte=0"`
	// PromptsFile replaces the built-in prompt catalog.
	PromptsFile string `yaml:"prompts_file,omitempty" mapstructure:"prompts_file" validate:"omitempty,file"`
}

// Spec returns the registry spec "provider/model". A model that already
// names one of the known providers is returned unchanged.
func (c LLMConfig) Spec() string {
	if provider, _, ok := strings.Cut(c.Model, "/"); ok && slices.Contains(Providers, provider) {
		return c.Model
	}
	return c.Provider + "/" + c.Model
}

// Providers lists the accepted values of llm.provider.
var Providers = []string{"bedrock", "anthropic", "openai", "google"}

// CachingConfig controls provider prompt caching and the local response
// cache.
type CachingConfig struct {
	Enabled       bool          `yaml:"enabled" mapstructure:"enabled"`
	Prompt        string        `yaml:"prompt" mapstructure:"prompt" validate:"oneof=default off"`
	Tools         string        `yaml:"tools" mapstructure:"tools" validate:"oneof=default off"`
	ResponseCache bool          `yaml:"response_cache" mapstructure:"response_cache"`
	ResponseTTL   time.Duration `yaml:"response_ttl" mapstructure:"response_ttl" validate:"gte=0"`
}

// PromptCaching reports whether source prefixes are sent as cacheable.
func (c CachingConfig) PromptCaching() bool { return c.Enabled && c.Prompt != CacheModeOff }

// ToolCaching reports whether tool definitions are marked cacheable.
func (c CachingConfig) ToolCaching() bool { return c.Enabled && c.Tools != CacheModeOff }

// AWSConfig selects the region and shared profile for Bedrock.
type AWSConfig struct {
	Region  string `yaml:"region" mapstructure:"region" validate:"required"`
	Profile string `yaml:"profile,omitempty" mapstructure:"profile"`
}

// RetryConfig configures exponential backoff around every LLM call.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts" mapstructure:"max_attempts" validate:"min=1,max=10"`
	BaseDelay   time.Duration `yaml:"base_delay" mapstructure:"base_delay" validate:"gte=0"`
	MaxDelay    time.Duration `yaml:"max_delay" mapstructure:"max_delay" validate:"gtefield=BaseDelay"`
}

// RateLimitConfig throttles LLM calls. A zero RPS disables the limiter.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps" mapstructure:"rps" validate:"gte=0"`
	Burst int     `yaml:"burst" mapstructure:"burst" validate:"gte=0"`
}

// CircuitBreakerConfig stops calling a failing provider for a while. Zero
// MaxFailures disables the breaker.
type CircuitBreakerConfig struct {
	MaxFailures int           `yaml:"max_failures" mapstructure:"max_failures" validate:"gte=0"`
	Cooldown    time.Duration `yaml:"cooldown" mapstructure:"cooldown" validate:"gte=0"`
}

// TelemetryConfig selects where traces go.
type TelemetryConfig struct {
	Exporter    string `yaml:"exporter" mapstructure:"exporter" validate:"oneof=none otlp stdout"`
	Endpoint    string `yaml:"endpoint" mapstructure:"endpoint" validate:"required_if=Exporter otlp"`
	SpaceID     string `yaml:"space_id,omitempty" mapstructure:"space_id"`
	APIKey      string `yaml:"api_key,omitempty" mapstructure:"api_key"`
	ProjectName string `yaml:"project_name" mapstructure:"project_name" validate:"required"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" mapstructure:"format" validate:"oneof=text json"`
}

// Default returns the configuration used when nothing else is set.
func Default() Config {
	return Config{
		SourceDir:  "./source",
		TargetDir:  "./target",
		ResultsDir: "./results",
		TracesDir:  "./traces",
		LLM: LLMConfig{
			Provider:    "bedrock",
			Model:       "us.anthropic.claude-3-7-sonnet-20250219-v1:0",
			MaxTokens:   64000,
			Temperature: 0.1,
			Timeout:     5 * time.Minute,
		},
		Caching: CachingConfig{
			Enabled:     true,
			Prompt:      CacheModeDefault,
			Tools:       CacheModeDefault,
			ResponseTTL: time.Hour,
		},
		AWS:      AWSConfig{Region: "us-west-2"},
		Pipeline: application.DefaultConfig(),
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   time.Second,
			MaxDelay:    30 * time.Second,
		},
		CircuitBreaker: CircuitBreakerConfig{
			MaxFailures: 5,
			Cooldown:    30 * time.Second,
		},
		Telemetry: TelemetryConfig{
			Exporter:    ExporterNone,
			Endpoint:    "otlp.arize.com:443",
			ProjectName: "go-verifier",
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// SetDefaults registers every key with its default value. Registering each
// key is also what lets AutomaticEnv see variables for keys that have no
// file value.
func SetDefaults(v *viper.Viper) {
	d := Default()
	defaults := map[string]any{
		"source_dir":                   d.SourceDir,
		"target_dir":                   d.TargetDir,
		"results_dir":                  d.ResultsDir,
		"traces_dir":                   d.TracesDir,
		"session_id":                   "",
		"llm.provider":                 d.LLM.Provider,
		"llm.model":                    d.LLM.Model,
		"llm.max_tokens":               d.LLM.MaxTokens,
		"llm.temperature":              d.LLM.Temperature,
		"llm.base_url":                 "",
		"llm.timeout":                  d.LLM.Timeout,
		"llm.prompts_file":             "",
		"caching.enabled":              d.Caching.Enabled,
		"caching.prompt":               d.Caching.Prompt,
		"caching.tools":                d.Caching.Tools,
		"caching.response_cache":       d.Caching.ResponseCache,
		"caching.response_ttl":         d.Caching.ResponseTTL,
		"aws.region":                   d.AWS.Region,
		"aws.profile":                  "",
		"pipeline.concurrency":         d.Pipeline.Concurrency,
		"pipeline.failure_policy":      string(d.Pipeline.FailurePolicy),
		"retry.max_attempts":           d.Retry.MaxAttempts,
		"retry.base_delay":             d.Retry.BaseDelay,
		"retry.max_delay":              d.Retry.MaxDelay,
		"rate_limit.rps":               d.RateLimit.RPS,
		"rate_limit.burst":             d.RateLimit.Burst,
		"circuit_breaker.max_failures": d.CircuitBreaker.MaxFailures,
		"circuit_breaker.cooldown":     d.CircuitBreaker.Cooldown,
		"budget.max_tokens":            d.Budget.MaxTokens,
		"budget.max_calls":             d.Budget.MaxCalls,
		"telemetry.exporter":           d.Telemetry.Exporter,
		"telemetry.endpoint":           d.Telemetry.Endpoint,
		"telemetry.space_id":           "",
		"telemetry.api_key":            "",
		"telemetry.project_name":       d.Telemetry.ProjectName,
		"log.level":                    d.Log.Level,
		"log.format":                   d.Log.Format,
		"metrics_addr":                 "",
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
}

// NewViper returns a viper instance with defaults and environment binding
// in place. When configFile is empty, verifier.yaml is looked up in the
// working directory and in $HOME/.verifier; a missing file is not an
// error, an unreadable one is.
func NewViper(configFile string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("verifier")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.verifier")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return v, nil
}

// Load decodes and validates the configuration held by v.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration against its struct tags and the custom
// validators registered in RegisterValidators.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			verr := domain.NewValidationError("config")
			for _, fe := range verrs {
				verr.AddError(describe(fe))
			}
			return verr
		}
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

// Redacted returns a copy safe to print.
func (c Config) Redacted() Config {
	if c.Telemetry.APIKey != "" {
		c.Telemetry.APIKey = "****"
	}
	return c
}

// describe renders a field error with the config key rather than the Go
// field path.
func describe(fe validator.FieldError) string {
	key := fe.Namespace()
	if _, rest, ok := strings.Cut(key, "."); ok {
		key = rest
	}
	key = toSnake(key)
	if fe.Param() != "" {
		return fmt.Sprintf("%s: failed %s=%s (got %v)", key, fe.Tag(), fe.Param(), fe.Value())
	}
	return fmt.Sprintf("%s: failed %s (got %v)", key, fe.Tag(), fe.Value())
}

// toSnake converts a dotted Go field path such as LLM.MaxTokens to the
// matching config key llm.max_tokens.
func toSnake(path string) string {
	var b strings.Builder
	for part := range strings.SplitSeq(path, ".") {
		if b.Len() > 0 {
			b.WriteByte('.')
		}
		runes := []rune(part)
		for i, r := range runes {
			upper := r >= 'A' && r <= 'Z'
			if upper && i > 0 {
				prevLower := runes[i-1] >= 'a' && runes[i-1] <= 'z'
				nextLower := i+1 < len(runes) && runes[i+1] >= 'a' && runes[i+1] <= 'z'
				if prevLower || nextLower {
					b.WriteByte('_')
				}
			}
			if upper {
				r += 'a' - 'A'
			}
			b.WriteRune(r)
		}
	}
	return b.String()
}
