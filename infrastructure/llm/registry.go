package llm

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/ahrav/go-verifier/internal/ports"
)

// Registry builds and caches LLM clients per provider/model pair. Every
// client it creates shares the registry's middleware chain, timeout and
// AWS settings.
//
//	registry, err := llm.NewRegistry(llm.RegistryConfig{
//	    DefaultProvider: "bedrock",
//	    Providers:       llm.DefaultProviders,
//	    Region:          "us-west-2",
//	})
//	client, err := registry.GetClient("anthropic/claude-3-7-sonnet-20250219")
type Registry struct {
	providers map[string]ProviderConfig
	// clients maps "provider/model" keys to built clients.
	clients           map[string]ports.LLMClient
	defaultProvider   string
	defaultMiddleware []Middleware
	defaultTimeout    time.Duration
	region            string
	profile           string
	lookupEnv         func(string) string
	mu                sync.RWMutex
}

// ProviderConfig holds provider-specific configuration.
type ProviderConfig struct {
	// Type names the registered provider factory.
	Type string
	// EnvVar names the environment variable holding the API key. Empty
	// means the provider authenticates some other way (Bedrock).
	EnvVar string
	// DefaultModel is used when a spec names only the provider.
	DefaultModel string
	// SupportedModels restricts the accepted models. Empty allows any.
	SupportedModels []string
	// BaseURL overrides the provider's API endpoint.
	BaseURL string
	// Middleware is applied inside the registry's default middleware.
	Middleware []Middleware
}

// RegistryConfig holds configuration for the provider registry.
type RegistryConfig struct {
	Providers         map[string]ProviderConfig
	DefaultProvider   string
	DefaultTimeout    time.Duration
	DefaultMiddleware []Middleware

	// Region and Profile are passed to providers that use AWS credentials.
	Region  string
	Profile string

	// LookupEnv resolves API key variables. Defaults to os.Getenv.
	LookupEnv func(string) string
}

// DefaultProviders lists the built-in providers with their credential
// variables and default models.
var DefaultProviders = map[string]ProviderConfig{
	"bedrock": {
		Type:         "bedrock",
		DefaultModel: BedrockDefaultModel,
	},
	"anthropic": {
		Type:         "anthropic",
		EnvVar:       "ANTHROPIC_API_KEY",
		DefaultModel: AnthropicDefaultModel,
	},
	"openai": {
		Type:         "openai",
		EnvVar:       "OPENAI_API_KEY",
		DefaultModel: OpenAIDefaultModel,
	},
	"google": {
		Type:         "google",
		EnvVar:       "GOOGLE_API_KEY",
		DefaultModel: GoogleDefaultModel,
	},
}

// NewRegistry validates config and returns an empty registry.
func NewRegistry(config RegistryConfig) (*Registry, error) {
	if config.DefaultProvider == "" {
		return nil, fmt.Errorf("default provider cannot be empty")
	}

	if _, exists := config.Providers[config.DefaultProvider]; !exists {
		return nil, fmt.Errorf("default provider %q not found in providers configuration", config.DefaultProvider)
	}

	lookup := config.LookupEnv
	if lookup == nil {
		lookup = os.Getenv
	}

	return &Registry{
		providers:         config.Providers,
		clients:           make(map[string]ports.LLMClient),
		defaultProvider:   config.DefaultProvider,
		defaultMiddleware: config.DefaultMiddleware,
		defaultTimeout:    config.DefaultTimeout,
		region:            config.Region,
		profile:           config.Profile,
		lookupEnv:         lookup,
	}, nil
}

// GetDefaultClient returns a client for the default provider and its
// default model.
func (r *Registry) GetDefaultClient() (ports.LLMClient, error) {
	return r.GetClient(r.defaultProvider)
}

// GetClient returns the client for spec, building it on first use. spec
// is "provider" or "provider/model". Model names may themselves contain
// slashes or colons; only the first slash separates the provider.
func (r *Registry) GetClient(spec string) (ports.LLMClient, error) {
	if spec == "" {
		return nil, fmt.Errorf("provider specification cannot be empty; use GetDefaultClient() for default provider")
	}

	provider, model := r.parseSpec(spec)
	key := buildCacheKey(provider, model)

	r.mu.RLock()
	client, exists := r.clients[key]
	r.mu.RUnlock()
	if exists {
		return client, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if client, exists := r.clients[key]; exists {
		return client, nil
	}

	client, err := r.createClient(provider, model)
	if err != nil {
		return nil, err
	}

	r.clients[key] = client
	return client, nil
}

// RegisterClient registers a client built from an explicit configuration,
// bypassing environment lookup.
func (r *Registry) RegisterClient(name string, config ClientConfig) error {
	if name == "" {
		return fmt.Errorf("client name cannot be empty")
	}

	provider, model := r.parseSpec(name)
	if config.Model != "" {
		model = config.Model
	}

	providerConfig, exists := r.providers[provider]
	if !exists {
		return fmt.Errorf("unknown provider %q", provider)
	}

	config.Model = model
	if config.Timeout == 0 {
		config.Timeout = r.defaultTimeout
	}
	config.Middleware = slices.Concat(r.defaultMiddleware, providerConfig.Middleware, config.Middleware)

	client, err := NewClient(providerConfig.Type, config)
	if err != nil {
		return fmt.Errorf("failed to create client %q: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[buildCacheKey(provider, model)] = client
	return nil
}

func (r *Registry) parseSpec(spec string) (provider, model string) {
	provider, model, found := strings.Cut(spec, "/")
	if !found || model == "" {
		if providerConfig, ok := r.providers[provider]; ok {
			model = providerConfig.DefaultModel
		}
	}
	return provider, model
}

func buildCacheKey(provider, model string) string {
	if model == "" {
		return provider
	}
	return provider + "/" + model
}

func (r *Registry) createClient(provider, model string) (ports.LLMClient, error) {
	providerConfig, exists := r.providers[provider]
	if !exists {
		return nil, fmt.Errorf("unknown provider %q", provider)
	}

	if len(providerConfig.SupportedModels) > 0 && !slices.Contains(providerConfig.SupportedModels, model) {
		return nil, fmt.Errorf("%w: %q is not supported by provider %q (supported: %v)",
			ErrInvalidModel, model, provider, providerConfig.SupportedModels)
	}

	var apiKey string
	if providerConfig.EnvVar != "" {
		apiKey = r.lookupEnv(providerConfig.EnvVar)
		if apiKey == "" {
			return nil, fmt.Errorf("%s environment variable not set for provider %q", providerConfig.EnvVar, provider)
		}
	}

	return NewClient(providerConfig.Type, ClientConfig{
		APIKey:     apiKey,
		Model:      model,
		BaseURL:    providerConfig.BaseURL,
		Region:     r.region,
		Profile:    r.profile,
		Timeout:    r.defaultTimeout,
		Middleware: slices.Concat(r.defaultMiddleware, providerConfig.Middleware),
	})
}

// GetRegisteredProviders returns the sorted names of providers that have
// at least one built client.
func (r *Registry) GetRegisteredProviders() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	providers := make([]string, 0, len(r.clients))
	for key := range r.clients {
		provider, _, _ := strings.Cut(key, "/")
		if !slices.Contains(providers, provider) {
			providers = append(providers, provider)
		}
	}
	slices.Sort(providers)
	return providers
}

// UpdateDefaultMiddleware appends middleware for clients built afterwards.
func (r *Registry) UpdateDefaultMiddleware(middleware ...Middleware) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaultMiddleware = append(r.defaultMiddleware, middleware...)
}

// SetDefaultTimeout sets the timeout for clients built afterwards.
func (r *Registry) SetDefaultTimeout(timeout time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaultTimeout = timeout
}
