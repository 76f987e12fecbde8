package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
	"google.golang.org/genai"
)

// TestNewGoogleProvider checks API key handling and model defaults.
func TestNewGoogleProvider(t *testing.T) {
	tests := []struct {
		name          string
		config        ClientConfig
		expectError   bool
		expectedModel string
	}{
		{
			name:          "valid API key configuration",
			config:        ClientConfig{APIKey: "test-api-key", Model: "gemini-2.5-pro"},
			expectedModel: "gemini-2.5-pro",
		},
		{
			name:          "default model when not specified",
			config:        ClientConfig{APIKey: "test-api-key"},
			expectedModel: GoogleDefaultModel,
		},
		{
			name:        "file path authentication should error",
			config:      ClientConfig{APIKey: "/path/to/credentials.json"},
			expectError: true,
		},
		{
			name:        "empty API key should error",
			config:      ClientConfig{},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider, err := newGoogleProvider(tt.config)

			if tt.expectError {
				assert.Error(t, err)
				assert.Nil(t, provider)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.expectedModel, provider.GetModel())
		})
	}
}

// TestBuildGenerationConfig verifies option mapping onto the genai config.
func TestBuildGenerationConfig(t *testing.T) {
	p := &googleProvider{BaseProvider: BaseProvider{model: GoogleDefaultModel}}

	t.Run("sampling and system instruction", func(t *testing.T) {
		config, err := p.buildGenerationConfig(ParseRequestOptions(map[string]any{
			OptSystem:      "Be precise.",
			OptTemperature: 1.5,
			OptTopP:        0.8,
			OptMaxTokens:   256,
			"top_k":        100,
		}, GoogleDefaultModel))
		require.NoError(t, err)

		require.NotNil(t, config.SystemInstruction)
		assert.Equal(t, "Be precise.", config.SystemInstruction.Parts[0].Text)
		assert.InDelta(t, 1.5, *config.Temperature, 1e-6)
		assert.InDelta(t, 0.8, *config.TopP, 1e-6)
		assert.Equal(t, int32(256), config.MaxOutputTokens)
		assert.InDelta(t, 40, *config.TopK, 1e-6, "top_k is clamped to 40")
		assert.Empty(t, config.ResponseMIMEType)
	})

	t.Run("structured output switches to JSON", func(t *testing.T) {
		schema, err := SchemaFor(judgmentPayload{})
		require.NoError(t, err)

		config, err := p.buildGenerationConfig(ParseRequestOptions(map[string]any{
			OptResponseSchema: schema,
		}, GoogleDefaultModel))
		require.NoError(t, err)

		assert.Equal(t, "application/json", config.ResponseMIMEType)
		jsonSchema, ok := config.ResponseJsonSchema.(map[string]any)
		require.True(t, ok)
		assert.Contains(t, jsonSchema["properties"], "verdict")
	})
}

func TestGoogleProvider_DoRequest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, ":generateContent"), r.URL.Path)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		contents := body["contents"].([]any)
		parts := contents[0].(map[string]any)["parts"].([]any)
		assert.Equal(t, "prefix|prompt", parts[0].(map[string]any)["text"])

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"candidates": []any{map[string]any{
				"content": map[string]any{
					"role":  "model",
					"parts": []any{map[string]any{"text": `{"verdict":"SUPPORTED"}`}},
				},
			}},
			"usageMetadata": map[string]any{"promptTokenCount": 7, "candidatesTokenCount": 3},
		})
	}))
	defer server.Close()

	provider, err := newGoogleProvider(ClientConfig{APIKey: "test-key", BaseURL: server.URL})
	require.NoError(t, err)

	response, tokensIn, tokensOut, err := provider.DoRequest(context.Background(), "prompt", map[string]any{
		OptCachePrefix: "prefix|",
	})

	require.NoError(t, err)
	assert.Equal(t, `{"verdict":"SUPPORTED"}`, response)
	assert.Equal(t, 7, tokensIn)
	assert.Equal(t, 3, tokensOut)
}

// TestHandleError checks classification of genai, googleapi and context errors.
func TestHandleError(t *testing.T) {
	p := &googleProvider{classify: "google"}

	tests := []struct {
		name     string
		err      error
		wantType ErrorType
	}{
		{
			name:     "genai rate limit",
			err:      genai.APIError{Code: 429, Message: "quota", Status: "RESOURCE_EXHAUSTED"},
			wantType: ErrorTypeRateLimit,
		},
		{
			name:     "genai safety block",
			err:      genai.APIError{Code: 400, Message: "Response blocked due to SAFETY"},
			wantType: ErrorTypeContentPolicy,
		},
		{
			name:     "genai server error",
			err:      genai.APIError{Code: 503, Message: "unavailable"},
			wantType: ErrorTypeServerError,
		},
		{
			name:     "googleapi auth error",
			err:      &googleapi.Error{Code: 403, Message: "forbidden"},
			wantType: ErrorTypeAuthentication,
		},
		{
			name:     "googleapi blocked reason",
			err:      &googleapi.Error{Code: 400, Errors: []googleapi.ErrorItem{{Reason: "BLOCKED"}}},
			wantType: ErrorTypeContentPolicy,
		},
		{
			name:     "deadline",
			err:      context.DeadlineExceeded,
			wantType: ErrorTypeTimeout,
		},
		{
			name:     "unknown transport failure",
			err:      errors.New("connection reset"),
			wantType: ErrorTypeNetwork,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var providerErr *ProviderError
			require.ErrorAs(t, p.handleError(tt.err), &providerErr)
			assert.Equal(t, tt.wantType, providerErr.Type)
		})
	}
}

func TestLooksLikeFilePath(t *testing.T) {
	assert.True(t, looksLikeFilePath("/etc/key.json"))
	assert.True(t, looksLikeFilePath("creds/key"))
	assert.True(t, looksLikeFilePath("service.p12"))
	assert.False(t, looksLikeFilePath("AIzaSyExampleKey"))
}
