package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/bedrock"
	"github.com/anthropics/anthropic-sdk-go/option"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
)

// Anthropic provider constants.
const (
	AnthropicDefaultModel = "claude-3-7-sonnet-20250219"
	BedrockDefaultModel   = "us.anthropic.claude-3-7-sonnet-20250219-v1:0"
	BedrockDefaultRegion  = "us-west-2"
)

func init() {
	RegisterProviderFactory("anthropic", newAnthropicProvider)
	RegisterProviderFactory("bedrock", newBedrockProvider)
}

// anthropicProvider implements CoreLLM for the Anthropic Messages API,
// reached either directly or through Amazon Bedrock. Structured output is
// requested by forcing a single tool call whose input schema is the
// response schema; the tool input is returned as the response text.
type anthropicProvider struct {
	BaseProvider
	client   anthropic.Client
	classify errorClassifier
}

func newAnthropicProvider(config ClientConfig) (CoreLLM, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("anthropic API key cannot be empty")
	}

	model := config.Model
	if model == "" {
		model = AnthropicDefaultModel
	}

	opts := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
		option.WithMaxRetries(0),
	}
	if config.BaseURL != "" {
		baseURL, err := ValidateBaseURL(config.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid BaseURL: %w", err)
		}
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if timeout := ValidateTimeout(config.Timeout); timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(timeout))
	}

	return &anthropicProvider{
		BaseProvider: BaseProvider{model: model},
		client:       anthropic.NewClient(opts...),
		classify:     "anthropic",
	}, nil
}

// newBedrockProvider builds the Anthropic provider on top of Bedrock.
// Credentials come from the AWS default chain for the configured region
// and profile.
func newBedrockProvider(config ClientConfig) (CoreLLM, error) {
	model := config.Model
	if model == "" {
		model = BedrockDefaultModel
	}

	region := config.Region
	if region == "" {
		region = BedrockDefaultRegion
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if config.Profile != "" {
		loadOpts = append(loadOpts, awsconfig.WithSharedConfigProfile(config.Profile))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config for region %s: %w", region, err)
	}

	opts := []option.RequestOption{
		bedrock.WithConfig(awsCfg),
		option.WithMaxRetries(0),
	}
	if config.BaseURL != "" {
		baseURL, err := ValidateBaseURL(config.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid BaseURL: %w", err)
		}
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if timeout := ValidateTimeout(config.Timeout); timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(timeout))
	}

	return &anthropicProvider{
		BaseProvider: BaseProvider{model: model},
		client:       anthropic.NewClient(opts...),
		classify:     "bedrock",
	}, nil
}

// DoRequest sends one Messages API request.
func (p *anthropicProvider) DoRequest(ctx context.Context, prompt string, opts map[string]any) (string, int, int, error) {
	options := ParseRequestOptions(opts, p.GetModel())

	params, err := p.buildParams(prompt, options)
	if err != nil {
		return "", 0, 0, err
	}

	message, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return "", 0, 0, p.handleError(err)
	}

	return p.processResponse(message, options, options.FullPrompt(prompt))
}

func (p *anthropicProvider) buildParams(prompt string, options RequestOptions) (anthropic.MessageNewParams, error) {
	blocks := make([]anthropic.ContentBlockParamUnion, 0, 2)
	if options.CachePrefix != "" {
		blocks = append(blocks, anthropic.ContentBlockParamUnion{OfText: &anthropic.TextBlockParam{
			Text:         options.CachePrefix,
			CacheControl: anthropic.NewCacheControlEphemeralParam(),
		}})
	}
	blocks = append(blocks, anthropic.NewTextBlock(prompt))

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(options.Model),
		MaxTokens: int64(options.MaxTokens),
		Messages:  []anthropic.MessageParam{anthropic.NewUserMessage(blocks...)},
	}

	if options.Temperature != nil {
		params.Temperature = anthropic.Float(ClampFloat64(*options.Temperature, 0, 1))
	}

	if options.TopP != nil {
		params.TopP = anthropic.Float(*options.TopP)
	}

	if options.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: options.System}}
	}

	if options.Structured != nil {
		tool, err := toolForSchema(options.Structured)
		if err != nil {
			return params, err
		}
		params.Tools = []anthropic.ToolUnionParam{{OfTool: tool}}
		params.ToolChoice = anthropic.ToolChoiceUnionParam{
			OfTool: &anthropic.ToolChoiceToolParam{Name: options.Structured.Name},
		}
	}

	return params, nil
}

// toolForSchema turns a response schema into the tool definition the
// model is forced to call.
func toolForSchema(so *StructuredOutput) (*anthropic.ToolParam, error) {
	schema, err := so.SchemaMap()
	if err != nil {
		return nil, err
	}

	input := anthropic.ToolInputSchemaParam{
		Properties: schema["properties"],
		Required:   so.Schema.Required,
	}
	if defs, ok := schema["$defs"].(map[string]any); ok && len(defs) > 0 {
		input.ExtraFields = map[string]any{"$defs": defs}
	}

	tool := &anthropic.ToolParam{
		Name:        so.Name,
		InputSchema: input,
	}
	if so.Description != "" {
		tool.Description = anthropic.String(so.Description)
	}
	if so.CacheTools {
		tool.CacheControl = anthropic.NewCacheControlEphemeralParam()
	}
	return tool, nil
}

// processResponse extracts the tool input for structured requests and the
// concatenated text otherwise.
func (p *anthropicProvider) processResponse(message *anthropic.Message, options RequestOptions, sentPrompt string) (string, int, int, error) {
	var text strings.Builder
	var toolInput string

	for _, block := range message.Content {
		switch content := block.AsAny().(type) {
		case anthropic.TextBlock:
			text.WriteString(content.Text)
		case anthropic.ToolUseBlock:
			if options.Structured != nil && content.Name == options.Structured.Name {
				toolInput = string(content.Input)
			}
		}
	}

	response := text.String()
	if options.Structured != nil {
		if toolInput == "" {
			return "", 0, 0, p.classify.failed(ErrorTypeUnknown,
				"model did not call "+options.Structured.Name, ErrNoStructuredOutput)
		}
		response = toolInput
	}

	if response == "" {
		return "", 0, 0, ErrEmptyResponse
	}

	usage := message.Usage
	tokensIn := tokenCount(usage.InputTokens+usage.CacheReadInputTokens+usage.CacheCreationInputTokens, sentPrompt)
	tokensOut := tokenCount(usage.OutputTokens, response)

	return response, tokensIn, tokensOut, nil
}

func (p *anthropicProvider) handleError(err error) error {
	if IsContextError(err) {
		return p.classify.fromContext(err)
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return p.classify.fromStatus(apiErr.StatusCode, http.StatusText(apiErr.StatusCode), err)
	}

	return p.classify.failed(ErrorTypeNetwork, "request failed", err)
}
