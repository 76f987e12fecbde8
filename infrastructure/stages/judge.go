package stages

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"text/template"

	"github.com/sashabaranov/go-openai/jsonschema"
	"go.opentelemetry.io/otel/attribute"

	"github.com/ahrav/go-verifier/infrastructure/llm"
	"github.com/ahrav/go-verifier/internal/domain"
	"github.com/ahrav/go-verifier/internal/ports"
)

var _ ports.DecisionJudge = (*DecisionJudge)(nil)

// FreeTextSuffix is appended to the judgment prompt when the structured
// request fails and the judge falls back to parsing free text.
const FreeTextSuffix = "\n\nProvide your response in JSON format with verdict, confidence, and rationale fields."

// maxFallbackExcerpt is how much of an unparsable response the fallback
// rationale quotes.
const maxFallbackExcerpt = 200

var errUnknownVerdict = errors.New("verdict is not a recognized value")

// DecisionJudge decides a verdict for a claim from its evidence.
// It is stateless and safe for concurrent use.
type DecisionJudge struct {
	config    Config
	llmClient ports.LLMClient
	system    string
	prompt    *template.Template
	schema    *jsonschema.Definition
}

// NewDecisionJudge creates a DecisionJudge.
func NewDecisionJudge(llmClient ports.LLMClient, config Config) (*DecisionJudge, error) {
	if llmClient == nil {
		return nil, ErrNilClient
	}
	config, err := config.withDefaults()
	if err != nil {
		return nil, err
	}
	prompt, err := parseTemplate(string(domain.StageDecisionJudgment), config.Prompts.DecisionJudgment.User)
	if err != nil {
		return nil, err
	}
	schema, err := llm.SchemaFor(domain.Judgment{})
	if err != nil {
		return nil, err
	}
	return &DecisionJudge{
		config:    config,
		llmClient: llmClient,
		system:    config.Prompts.DecisionJudgment.System,
		prompt:    prompt,
		schema:    schema,
	}, nil
}

// Judge returns a verdict for claimText. It first asks for structured
// output; if that call fails or its output is unusable, it asks again in
// free text and extracts the first JSON object from the reply. When no
// judgment can be recovered it returns NOT_FOUND with confidence 0 and a
// rationale quoting the reply. Only a failure of the free-text call itself
// is reported as a StageError.
func (j *DecisionJudge) Judge(
	ctx context.Context,
	claimText string,
	evidence []domain.Evidence,
) domain.StageResult[domain.Judgment] {
	const stage = domain.StageDecisionJudgment
	const failPrefix = "Decision judgment failed"

	ctx, span := startSpan(ctx, stage,
		attribute.String("claim.text", truncateRunes(claimText, maxTraceText)),
		attribute.Int("evidence.count", len(evidence)))
	defer span.End()

	if evidence == nil {
		evidence = []domain.Evidence{}
	}
	evidenceData, err := json.MarshalIndent(evidenceEnvelope{Evidence: evidence}, "", "  ")
	if err != nil {
		return fail[domain.Judgment](span, stage, failPrefix, err)
	}

	prompt, err := render(j.prompt, struct {
		ClaimText    string
		EvidenceData string
	}{
		ClaimText:    sanitizeUserContent(claimText),
		EvidenceData: sanitizeUserContent(string(evidenceData)),
	})
	if err != nil {
		return fail[domain.Judgment](span, stage, failPrefix, err)
	}

	structuredOpts := withSchema(j.config, callOptions(j.config, stage, j.system), j.schema,
		"decision_judgment", "Report the verdict for the claim")
	response, err := j.llmClient.Complete(ctx, prompt, structuredOpts)
	if err == nil {
		judgment, perr := parseJudgment(response)
		if perr == nil {
			span.SetAttributes(attribute.String("judgment.verdict", string(judgment.Verdict)),
				attribute.String("judgment.tier", "structured"))
			return domain.Succeeded(judgment)
		}
		err = perr
	}
	if ctx.Err() != nil {
		return fail[domain.Judgment](span, stage, failPrefix, ctx.Err())
	}
	j.config.Logger.DebugContext(ctx, "structured judgment unusable, retrying as free text", "error", err)

	response, err = j.llmClient.Complete(ctx, prompt+FreeTextSuffix, callOptions(j.config, stage, j.system))
	if err != nil {
		return fail[domain.Judgment](span, stage, failPrefix, err)
	}

	var raw domain.RawJudgment
	if err := decodeResponse(response, &raw); err != nil {
		span.SetAttributes(attribute.String("judgment.tier", "fallback"))
		return domain.Succeeded(domain.FallbackJudgment(
			"Failed to parse structured output: " + truncateExcerpt(response, maxFallbackExcerpt)))
	}

	judgment := raw.Judgment()
	span.SetAttributes(attribute.String("judgment.verdict", string(judgment.Verdict)),
		attribute.String("judgment.tier", "free_text"))
	return domain.Succeeded(judgment)
}

// parseJudgment decodes a structured judgment. The verdict must be a
// recognized string; the other fields are coerced.
func parseJudgment(response string) (domain.Judgment, error) {
	var raw domain.RawJudgment
	if err := decodeResponse(response, &raw); err != nil {
		return domain.Judgment{}, err
	}
	s, ok := raw.Verdict.(string)
	if !ok {
		return domain.Judgment{}, fmt.Errorf("%w: %v", errUnknownVerdict, raw.Verdict)
	}
	if _, ok := domain.ParseVerdict(s); !ok {
		return domain.Judgment{}, fmt.Errorf("%w: %q", errUnknownVerdict, s)
	}

	judgment := raw.Judgment()
	if err := validate.Struct(judgment); err != nil {
		return domain.Judgment{}, fmt.Errorf("invalid judgment: %w", err)
	}
	return judgment, nil
}

// truncateExcerpt returns the first n runes of s.
func truncateExcerpt(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
