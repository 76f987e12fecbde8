package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	openai "github.com/sashabaranov/go-openai"
)

const (
	// OpenAIDefaultModel is used when no model is configured.
	OpenAIDefaultModel = "gpt-4o-mini"

	minPenalty = -2.0
	maxPenalty = 2.0
)

func init() {
	RegisterProviderFactory("openai", newOpenAIProvider)
}

// openAIProvider implements the CoreLLM interface for OpenAI's chat
// completions API. Structured output uses the json_schema response format.
type openAIProvider struct {
	BaseProvider
	client   *openai.Client
	classify errorClassifier
}

// newOpenAIProvider creates a new OpenAI provider instance.
func newOpenAIProvider(config ClientConfig) (CoreLLM, error) {
	if config.APIKey == "" {
		return nil, ErrEmptyAPIKey
	}

	model := config.Model
	if model == "" {
		model = OpenAIDefaultModel
	}

	clientConfig := openai.DefaultConfig(config.APIKey)

	if config.BaseURL != "" {
		validatedURL, err := ValidateBaseURL(config.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid BaseURL: %w", err)
		}
		clientConfig.BaseURL = validatedURL
	}

	if timeout := ValidateTimeout(config.Timeout); timeout > 0 {
		clientConfig.HTTPClient = &http.Client{Timeout: timeout}
	}

	return &openAIProvider{
		BaseProvider: BaseProvider{model: model},
		client:       openai.NewClientWithConfig(clientConfig),
		classify:     "openai",
	}, nil
}

// DoRequest sends a chat completion request and returns the first choice.
func (p *openAIProvider) DoRequest(ctx context.Context, prompt string, opts map[string]any) (string, int, int, error) {
	options := ParseRequestOptions(opts, p.GetModel())
	fullPrompt := options.FullPrompt(prompt)

	req := p.buildChatCompletionRequest(fullPrompt, options)
	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", 0, 0, p.handleError(err)
	}

	if len(resp.Choices) == 0 {
		return "", 0, 0, ErrNoResponseChoice
	}

	content := resp.Choices[0].Message.Content
	if content == "" {
		if refusal := resp.Choices[0].Message.Refusal; refusal != "" {
			return "", 0, 0, p.classify.failed(ErrorTypeContentPolicy, refusal, ErrNoStructuredOutput)
		}
		return "", 0, 0, ErrEmptyResponse
	}

	tokensIn := tokenCount(resp.Usage.PromptTokens, fullPrompt)
	tokensOut := tokenCount(resp.Usage.CompletionTokens, content)

	return content, tokensIn, tokensOut, nil
}

func (p *openAIProvider) buildChatCompletionRequest(prompt string, options RequestOptions) openai.ChatCompletionRequest {
	req := openai.ChatCompletionRequest{
		Model:    options.Model,
		Messages: p.buildMessages(prompt, options),
	}

	p.applyRequestParameters(&req, options)

	if so := options.Structured; so != nil {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:        so.Name,
				Description: so.Description,
				Schema:      so.Schema,
			},
		}
	}

	return req
}

func (p *openAIProvider) buildMessages(prompt string, options RequestOptions) []openai.ChatCompletionMessage {
	messages := make([]openai.ChatCompletionMessage, 0, 2)

	if options.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: options.System,
		})
	}

	return append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: prompt,
	})
}

func (p *openAIProvider) applyRequestParameters(req *openai.ChatCompletionRequest, options RequestOptions) {
	if options.Temperature != nil {
		req.Temperature = float32(ClampFloat64(*options.Temperature, 0.0, 2.0))
	}

	if options.MaxTokens > 0 {
		req.MaxCompletionTokens = options.MaxTokens
	}

	if options.TopP != nil {
		req.TopP = float32(*options.TopP)
	}

	if penalty := ExtractOptionalFloat64(options.Extra, "frequency_penalty", 0, nil); penalty != 0 {
		req.FrequencyPenalty = float32(ClampFloat64(penalty, minPenalty, maxPenalty))
	}

	if penalty := ExtractOptionalFloat64(options.Extra, "presence_penalty", 0, nil); penalty != 0 {
		req.PresencePenalty = float32(ClampFloat64(penalty, minPenalty, maxPenalty))
	}
}

// handleError classifies and wraps errors from the OpenAI API.
func (p *openAIProvider) handleError(err error) error {
	if IsContextError(err) {
		return p.classify.fromContext(err)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		message := apiErr.Message
		if message == "" {
			message = "unknown error"
		}
		return p.classify.fromStatus(apiErr.HTTPStatusCode, message, err)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return p.classify.fromStatus(reqErr.HTTPStatusCode, http.StatusText(reqErr.HTTPStatusCode), err)
	}

	return p.classify.failed(ErrorTypeNetwork, "request failed", err)
}
