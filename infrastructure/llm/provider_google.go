package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"google.golang.org/api/googleapi"
	"google.golang.org/genai"
)

// GoogleDefaultModel is the default model for the Google provider.
const GoogleDefaultModel = "gemini-2.0-flash"

const jsonMIMEType = "application/json"

func init() {
	RegisterProviderFactory("google", newGoogleProvider)
}

// googleProvider implements the CoreLLM interface for the Gemini API.
// Structured output is requested with a JSON response MIME type and a JSON
// schema.
type googleProvider struct {
	BaseProvider
	client   *genai.Client
	classify errorClassifier
}

func newGoogleProvider(config ClientConfig) (CoreLLM, error) {
	if config.APIKey == "" {
		return nil, ErrEmptyAPIKey
	}

	model := config.Model
	if model == "" {
		model = GoogleDefaultModel
	}

	clientConfig, err := buildAuthConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to configure authentication: %w", err)
	}

	client, err := genai.NewClient(context.Background(), clientConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Google client: %w", err)
	}

	return &googleProvider{
		BaseProvider: BaseProvider{model: model},
		client:       client,
		classify:     "google",
	}, nil
}

// DoRequest sends a GenerateContent request and returns the response text.
func (p *googleProvider) DoRequest(ctx context.Context, prompt string, opts map[string]any) (string, int, int, error) {
	options := ParseRequestOptions(opts, p.GetModel())
	fullPrompt := options.FullPrompt(prompt)

	config, err := p.buildGenerationConfig(options)
	if err != nil {
		return "", 0, 0, err
	}

	contents := []*genai.Content{genai.NewContentFromText(fullPrompt, genai.RoleUser)}
	resp, err := p.client.Models.GenerateContent(ctx, options.Model, contents, config)
	if err != nil {
		return "", 0, 0, p.handleError(err)
	}

	content := resp.Text()
	if content == "" {
		return "", 0, 0, ErrEmptyResponse
	}

	var promptTokens, candidateTokens int32
	if usage := resp.UsageMetadata; usage != nil {
		promptTokens = usage.PromptTokenCount
		candidateTokens = usage.CandidatesTokenCount
	}

	return content, tokenCount(promptTokens, fullPrompt), tokenCount(candidateTokens, content), nil
}

func (p *googleProvider) buildGenerationConfig(options RequestOptions) (*genai.GenerateContentConfig, error) {
	config := &genai.GenerateContentConfig{}

	if options.System != "" {
		config.SystemInstruction = genai.NewContentFromText(options.System, genai.RoleUser)
	}

	if options.Temperature != nil {
		config.Temperature = genai.Ptr(float32(ClampFloat64(*options.Temperature, 0.0, 2.0)))
	}

	if options.MaxTokens > 0 {
		config.MaxOutputTokens = int32(min(options.MaxTokens, math.MaxInt32))
	}

	if options.TopP != nil {
		config.TopP = genai.Ptr(float32(*options.TopP))
	}

	if topK, ok := options.Extra["top_k"].(int); ok {
		config.TopK = genai.Ptr(float32(min(max(topK, 1), 40)))
	}

	if options.Structured != nil {
		schema, err := options.Structured.SchemaMap()
		if err != nil {
			return nil, err
		}
		config.ResponseMIMEType = jsonMIMEType
		config.ResponseJsonSchema = schema
	}

	return config, nil
}

// handleError classifies genai and googleapi failures into ProviderErrors.
func (p *googleProvider) handleError(err error) error {
	if IsContextError(err) {
		return p.classify.fromContext(err)
	}

	var genaiErr genai.APIError
	if errors.As(err, &genaiErr) {
		if isSafetyMessage(genaiErr.Message) || genaiErr.Status == "SAFETY" {
			return NewProviderError(string(p.classify), ErrorTypeContentPolicy, genaiErr.Code,
				"request blocked by safety filters", err)
		}
		return p.classify.fromStatus(genaiErr.Code, genaiErr.Message, err)
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		message := apiErr.Message
		if message == "" && len(apiErr.Errors) > 0 {
			message = apiErr.Errors[0].Message
		}
		if containsContentPolicyError(apiErr) {
			return NewProviderError(string(p.classify), ErrorTypeContentPolicy, apiErr.Code,
				"request blocked by safety filters", err)
		}
		return p.classify.fromStatus(apiErr.Code, message, err)
	}

	return p.classify.failed(ErrorTypeNetwork, "request failed", err)
}

// buildAuthConfig builds the genai client configuration. Only API key
// authentication against the Gemini API is supported.
func buildAuthConfig(config ClientConfig) (*genai.ClientConfig, error) {
	if looksLikeFilePath(config.APIKey) {
		if !fileExists(config.APIKey) {
			return nil, fmt.Errorf("credentials file not found: %s", config.APIKey)
		}
		return nil, fmt.Errorf("service account authentication is not supported; " +
			"use an API key or set GOOGLE_APPLICATION_CREDENTIALS")
	}

	cc := &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if config.BaseURL != "" {
		baseURL, err := ValidateBaseURL(config.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid BaseURL: %w", err)
		}
		cc.HTTPOptions.BaseURL = baseURL
	}
	if timeout := ValidateTimeout(config.Timeout); timeout > 0 {
		cc.HTTPOptions.Timeout = &timeout
	}
	return cc, nil
}

func looksLikeFilePath(s string) bool {
	if filepath.IsAbs(s) || strings.ContainsAny(s, `/\`) {
		return true
	}

	lower := strings.ToLower(s)
	return strings.HasSuffix(lower, ".json") ||
		strings.HasSuffix(lower, ".p12") ||
		strings.HasSuffix(lower, ".pem") ||
		strings.Contains(lower, "credentials")
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func isSafetyMessage(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "safety") ||
		strings.Contains(lower, "policy") ||
		strings.Contains(lower, "blocked")
}

func containsContentPolicyError(apiErr *googleapi.Error) bool {
	if isSafetyMessage(apiErr.Message) {
		return true
	}
	for _, e := range apiErr.Errors {
		if e.Reason == "SAFETY" || e.Reason == "BLOCKED" {
			return true
		}
	}
	return false
}
