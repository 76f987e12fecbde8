package stages

import (
	"context"
	"fmt"
	"text/template"

	"github.com/sashabaranov/go-openai/jsonschema"
	"go.opentelemetry.io/otel/attribute"

	"github.com/ahrav/go-verifier/infrastructure/llm"
	"github.com/ahrav/go-verifier/internal/domain"
	"github.com/ahrav/go-verifier/internal/ports"
)

var _ ports.ClaimExtractor = (*ClaimExtractor)(nil)

// extractionResult is the structured output of claim extraction.
type extractionResult struct {
	Claims []domain.ExtractedClaim `json:"claims" description:"Verifiable claims in document order"`
}

// ClaimExtractor finds the verifiable claims in a target document.
// It is stateless and safe for concurrent use.
type ClaimExtractor struct {
	config    Config
	llmClient ports.LLMClient
	system    string
	prompt    *template.Template
	schema    *jsonschema.Definition
}

// NewClaimExtractor creates a ClaimExtractor. It returns an error if the
// configuration is invalid or the prompt template does not compile.
func NewClaimExtractor(llmClient ports.LLMClient, config Config) (*ClaimExtractor, error) {
	if llmClient == nil {
		return nil, ErrNilClient
	}
	config, err := config.withDefaults()
	if err != nil {
		return nil, err
	}
	prompt, err := parseTemplate(string(domain.StageClaimExtraction), config.Prompts.ClaimExtraction.User)
	if err != nil {
		return nil, err
	}
	schema, err := llm.SchemaFor(extractionResult{})
	if err != nil {
		return nil, err
	}
	return &ClaimExtractor{
		config:    config,
		llmClient: llmClient,
		system:    config.Prompts.ClaimExtraction.System,
		prompt:    prompt,
		schema:    schema,
	}, nil
}

// Extract returns the claims of one document in the order the model listed
// them. Missing identifiers and categories are filled in, repeated
// identifiers get a numeric suffix, and claims without text are dropped.
func (e *ClaimExtractor) Extract(
	ctx context.Context,
	documentName, content string,
) domain.StageResult[[]domain.ExtractedClaim] {
	const stage = domain.StageClaimExtraction
	const failPrefix = "Claim extraction failed"

	ctx, span := startSpan(ctx, stage, attribute.String("document.name", documentName))
	defer span.End()

	prompt, err := render(e.prompt, struct {
		DocumentName    string
		DocumentContent string
	}{
		DocumentName:    documentName,
		DocumentContent: sanitizeUserContent(content),
	})
	if err != nil {
		return fail[[]domain.ExtractedClaim](span, stage, failPrefix, err)
	}

	opts := withSchema(e.config, callOptions(e.config, stage, e.system), e.schema,
		"claims_extraction", "Report every verifiable claim found in the document")

	response, err := e.llmClient.Complete(ctx, prompt, opts)
	if err != nil {
		return fail[[]domain.ExtractedClaim](span, stage, failPrefix, err)
	}

	var result extractionResult
	if err := decodeResponse(response, &result); err != nil {
		return fail[[]domain.ExtractedClaim](span, stage, failPrefix, err)
	}

	claims := make([]domain.ExtractedClaim, 0, len(result.Claims))
	seen := make(map[string]struct{}, len(result.Claims))
	for _, c := range result.Claims {
		c = c.Normalize(len(claims))
		if err := validate.Struct(c); err != nil {
			e.config.Logger.DebugContext(ctx, "dropping invalid claim",
				"claim_id", c.ClaimID, "error", err)
			continue
		}
		if id := uniqueClaimID(c.ClaimID, seen); id != c.ClaimID {
			e.config.Logger.DebugContext(ctx, "renamed duplicate claim id",
				"claim_id", c.ClaimID, "renamed", id)
			c.ClaimID = id
		}
		claims = append(claims, c)
	}

	span.SetAttributes(attribute.Int("claims.count", len(claims)))
	e.config.Logger.DebugContext(ctx, "claims extracted",
		"document", documentName, "count", len(claims))
	return domain.Succeeded(claims)
}

// uniqueClaimID returns id, or the first of id-2, id-3, ... not yet in
// seen, and records the result.
func uniqueClaimID(id string, seen map[string]struct{}) string {
	candidate := id
	for n := 2; ; n++ {
		if _, dup := seen[candidate]; !dup {
			break
		}
		candidate = fmt.Sprintf("%s-%d", id, n)
	}
	seen[candidate] = struct{}{}
	return candidate
}
