package stages

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai/jsonschema"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/go-verifier/infrastructure/llm"
	"github.com/ahrav/go-verifier/internal/domain"
)

const (
	documentSeparator = "\n\n--- DOCUMENT SEPARATOR ---\n\n"

	// maxTraceText bounds free text recorded on spans.
	maxTraceText = 100
)

// renderSources concatenates source documents in the order given, each
// under a "=== name ===" header.
func renderSources(sources []domain.Document) string {
	parts := make([]string, len(sources))
	for i, doc := range sources {
		parts[i] = "=== " + doc.Name + " ===\n" + doc.Content
	}
	return strings.Join(parts, documentSeparator)
}

// sanitizeUserContent wraps document or model-derived text in a code fence
// and neutralizes fences inside it, so the content cannot close its block
// and pose as instructions.
func sanitizeUserContent(content string) string {
	content = strings.ReplaceAll(content, "```", "'''")
	return "```\n" + content + "\n```"
}

// extractJSON returns the first JSON object in a model response. It looks
// in ```json fences first, then generic fences, then for the first
// balanced object in the bare text. Braces inside strings are ignored.
func extractJSON(response string) string {
	response = strings.TrimSpace(response)

	if start := strings.Index(response, "```json"); start != -1 {
		start += len("```json")
		if end := strings.Index(response[start:], "```"); end != -1 {
			if obj := firstObject(response[start : start+end]); obj != "" {
				return obj
			}
		}
	}

	if start := strings.Index(response, "```"); start != -1 {
		start += 3
		// Skip any language identifier.
		if nl := strings.Index(response[start:], "\n"); nl != -1 {
			start += nl + 1
		}
		if end := strings.Index(response[start:], "```"); end != -1 {
			if obj := firstObject(response[start : start+end]); obj != "" {
				return obj
			}
		}
	}

	return firstObject(response)
}

// firstObject finds the first balanced {...} in s.
func firstObject(s string) string {
	for offset := 0; offset < len(s); {
		start := strings.IndexByte(s[offset:], '{')
		if start == -1 {
			return ""
		}
		start += offset

		depth := 0
		inString := false
		escaped := false
		for i := start; i < len(s); i++ {
			c := s[i]
			if escaped {
				escaped = false
				continue
			}
			if inString {
				switch c {
				case '\\':
					escaped = true
				case '"':
					inString = false
				}
				continue
			}
			switch c {
			case '"':
				inString = true
			case '{':
				depth++
			case '}':
				depth--
				if depth == 0 {
					candidate := s[start : i+1]
					if json.Valid([]byte(candidate)) {
						return candidate
					}
					i = len(s)
				}
			}
		}
		offset = start + 1
	}
	return ""
}

// decodeResponse extracts the JSON object from response into out.
func decodeResponse(response string, out any) error {
	raw := extractJSON(response)
	if raw == "" {
		return ErrNoJSON
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("decode model response: %w", err)
	}
	return nil
}

// callOptions builds the request options shared by all stages.
func callOptions(cfg Config, stage domain.Stage, system string) map[string]any {
	opts := map[string]any{
		llm.OptMaxTokens:   cfg.MaxTokens,
		llm.OptTemperature: cfg.Temperature,
		llm.OptStage:       string(stage),
	}
	if system != "" {
		opts[llm.OptSystem] = system
	}
	return opts
}

// withSchema adds a structured output request to opts.
func withSchema(cfg Config, opts map[string]any, schema *jsonschema.Definition, name, description string) map[string]any {
	opts[llm.OptResponseSchema] = schema
	opts[llm.OptSchemaName] = name
	opts[llm.OptSchemaDescription] = description
	if cfg.CachingEnabled && cfg.CacheTools {
		opts[llm.OptCacheTools] = true
	}
	return opts
}

func startSpan(ctx context.Context, stage domain.Stage, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("agent.type", string(stage)))
	return tracer.Start(ctx, "stage."+string(stage), trace.WithAttributes(attrs...))
}

// fail records a stage failure on the span and wraps it for the caller.
func fail[T any](span trace.Span, stage domain.Stage, prefix string, err error) domain.StageResult[T] {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return domain.Failed[T](domain.NewStageError(stage, "%s: %v", prefix, err))
}
