package llm

import (
	"encoding/json"
	"fmt"

	"github.com/sashabaranov/go-openai/jsonschema"
)

// Request option keys understood by the providers and middleware.
const (
	OptMaxTokens   = "max_tokens"
	OptModel       = "model"
	OptSystem      = "system"
	OptTemperature = "temperature"
	OptTopP        = "top_p"

	// OptResponseSchema carries a *jsonschema.Definition the response must
	// follow. Anthropic and Bedrock force a tool call with the schema as
	// its input, OpenAI uses a json_schema response format and Google
	// switches to JSON output.
	OptResponseSchema = "response_schema"

	// OptSchemaName names the structured output (tool or schema name).
	OptSchemaName = "schema_name"

	// OptSchemaDescription describes the structured output to the model.
	OptSchemaDescription = "schema_description"

	// OptCachePrefix carries a stable prompt prefix that is sent ahead of
	// the prompt and marked for provider-side prompt caching.
	OptCachePrefix = "cache_prefix"

	// OptCacheTools marks the structured output tool definition as
	// cacheable.
	OptCacheTools = "cache_tools"

	// OptNoCache bypasses the response cache middleware for one call.
	OptNoCache = "no_cache"

	// OptStage labels a call with the pipeline stage that issued it, for
	// metrics, tracing and budgets.
	OptStage = "stage"
)

// DefaultSchemaName is used when OptResponseSchema is set without a name.
const DefaultSchemaName = "structured_output"

// ExtractOptionalInt extracts an integer value from options map with validation.
// Returns defaultVal if key doesn't exist, value is not an int, or validator fails.
func ExtractOptionalInt(opts map[string]any, key string, defaultVal int, validator func(int) bool) int {
	val, ok := opts[key]
	if !ok {
		return defaultVal
	}

	intVal, ok := val.(int)
	if !ok {
		return defaultVal
	}

	if validator != nil && !validator(intVal) {
		return defaultVal
	}

	return intVal
}

// ExtractOptionalString extracts a string value from options map with validation.
// Returns defaultVal if key doesn't exist, value is not a string, or validator fails.
func ExtractOptionalString(opts map[string]any, key string, defaultVal string, validator func(string) bool) string {
	val, ok := opts[key]
	if !ok {
		return defaultVal
	}

	strVal, ok := val.(string)
	if !ok {
		return defaultVal
	}

	if validator != nil && !validator(strVal) {
		return defaultVal
	}

	return strVal
}

// ExtractOptionalFloat64 extracts a float64 value from options map with validation.
// Returns defaultVal if key doesn't exist, value is not a float64, or validator fails.
func ExtractOptionalFloat64(opts map[string]any, key string, defaultVal float64, validator func(float64) bool) float64 {
	val, ok := opts[key]
	if !ok {
		return defaultVal
	}

	floatVal, ok := val.(float64)
	if !ok {
		return defaultVal
	}

	if validator != nil && !validator(floatVal) {
		return defaultVal
	}

	return floatVal
}

// ExtractOptionalBool extracts a bool value from options map.
func ExtractOptionalBool(opts map[string]any, key string, defaultVal bool) bool {
	if v, ok := opts[key].(bool); ok {
		return v
	}
	return defaultVal
}

// StructuredOutput describes a JSON schema the response must follow.
type StructuredOutput struct {
	Name        string
	Description string
	Schema      *jsonschema.Definition
	CacheTools  bool
}

// StructuredOutputFrom returns the structured output requested in opts,
// or nil when the call is free text.
func StructuredOutputFrom(opts map[string]any) *StructuredOutput {
	schema, ok := opts[OptResponseSchema].(*jsonschema.Definition)
	if !ok || schema == nil {
		return nil
	}
	return &StructuredOutput{
		Name:        ExtractOptionalString(opts, OptSchemaName, DefaultSchemaName, IsNonEmptyString),
		Description: ExtractOptionalString(opts, OptSchemaDescription, "", nil),
		Schema:      schema,
		CacheTools:  ExtractOptionalBool(opts, OptCacheTools, false),
	}
}

// SchemaMap renders the schema as a generic JSON object.
func (s *StructuredOutput) SchemaMap() (map[string]any, error) {
	data, err := json.Marshal(s.Schema)
	if err != nil {
		return nil, fmt.Errorf("marshal schema %s: %w", s.Name, err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode schema %s: %w", s.Name, err)
	}
	return out, nil
}

// SchemaFor generates a JSON schema from a Go value's type. Field names
// come from json tags; description and enum tags are carried over.
func SchemaFor(v any) (*jsonschema.Definition, error) {
	def, err := jsonschema.GenerateSchemaForType(v)
	if err != nil {
		return nil, fmt.Errorf("generate schema for %T: %w", v, err)
	}
	return def, nil
}
