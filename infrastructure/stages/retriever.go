package stages

import (
	"context"
	"text/template"
	"unicode/utf8"

	"github.com/sashabaranov/go-openai/jsonschema"
	"go.opentelemetry.io/otel/attribute"

	"github.com/ahrav/go-verifier/infrastructure/llm"
	"github.com/ahrav/go-verifier/internal/domain"
	"github.com/ahrav/go-verifier/internal/ports"
)

var _ ports.EvidenceRetriever = (*EvidenceRetriever)(nil)

// retrievalResult is the structured output of evidence retrieval.
type retrievalResult struct {
	Evidence []domain.Evidence `json:"evidence" description:"Relevant passages quoted from the sources"`
}

// evidenceEnvelope is the JSON shape evidence is handed on in.
type evidenceEnvelope struct {
	Evidence []domain.Evidence `json:"evidence"`
}

// EvidenceRetriever locates source passages related to a claim.
// It is stateless and safe for concurrent use.
type EvidenceRetriever struct {
	config       Config
	llmClient    ports.LLMClient
	system       string
	prompt       *template.Template
	cachedPrefix *template.Template
	cachedPrompt *template.Template
	schema       *jsonschema.Definition
}

// NewEvidenceRetriever creates an EvidenceRetriever.
func NewEvidenceRetriever(llmClient ports.LLMClient, config Config) (*EvidenceRetriever, error) {
	if llmClient == nil {
		return nil, ErrNilClient
	}
	config, err := config.withDefaults()
	if err != nil {
		return nil, err
	}

	pt := config.Prompts.EvidenceRetrieval
	r := &EvidenceRetriever{config: config, llmClient: llmClient, system: pt.System}
	if r.prompt, err = parseTemplate(string(domain.StageEvidenceRetrieval), pt.User); err != nil {
		return nil, err
	}
	if pt.CachedPrefix != "" && pt.CachedUser != "" {
		if r.cachedPrefix, err = parseTemplate("evidence_retrieval_prefix", pt.CachedPrefix); err != nil {
			return nil, err
		}
		if r.cachedPrompt, err = parseTemplate("evidence_retrieval_cached", pt.CachedUser); err != nil {
			return nil, err
		}
	}
	if r.schema, err = llm.SchemaFor(retrievalResult{}); err != nil {
		return nil, err
	}
	return r, nil
}

type retrievalData struct {
	ClaimText string
	Sources   string
}

// Retrieve returns the evidence for one claim in the order the model
// listed it. Scores are clamped to [0,1], unknown relationships become
// "relates", and passages without a document or text are dropped.
func (r *EvidenceRetriever) Retrieve(
	ctx context.Context,
	claimText string,
	sources []domain.Document,
) domain.StageResult[[]domain.Evidence] {
	const stage = domain.StageEvidenceRetrieval
	const failPrefix = "Evidence retrieval failed"

	ctx, span := startSpan(ctx, stage,
		attribute.String("claim.text", truncateRunes(claimText, maxTraceText)),
		attribute.Int("sources.count", len(sources)))
	defer span.End()

	rendered := renderSources(sources)
	data := retrievalData{
		ClaimText: sanitizeUserContent(claimText),
		Sources:   sanitizeUserContent(rendered),
	}
	opts := withSchema(r.config, callOptions(r.config, stage, r.system), r.schema,
		"evidence_retrieval", "Report the source passages relevant to the claim")

	var prompt string
	var err error
	split := r.splitForCache(rendered)
	if split {
		var prefix string
		if prefix, err = render(r.cachedPrefix, data); err == nil {
			opts[llm.OptCachePrefix] = prefix
			prompt, err = render(r.cachedPrompt, data)
		}
	} else {
		prompt, err = render(r.prompt, data)
	}
	if err != nil {
		return fail[[]domain.Evidence](span, stage, failPrefix, err)
	}
	span.SetAttributes(attribute.Bool("cache.split", split))

	response, err := r.llmClient.Complete(ctx, prompt, opts)
	if err != nil {
		return fail[[]domain.Evidence](span, stage, failPrefix, err)
	}

	var result retrievalResult
	if err := decodeResponse(response, &result); err != nil {
		return fail[[]domain.Evidence](span, stage, failPrefix, err)
	}

	evidence := make([]domain.Evidence, 0, len(result.Evidence))
	for _, ev := range result.Evidence {
		ev = ev.Normalize()
		if err := validate.Struct(ev); err != nil {
			r.config.Logger.DebugContext(ctx, "dropping invalid evidence", "doc_id", ev.DocID, "error", err)
			continue
		}
		evidence = append(evidence, ev)
	}

	span.SetAttributes(attribute.Int("evidence.count", len(evidence)))
	return domain.Succeeded(evidence)
}

// splitForCache reports whether the sources go out as a cacheable prefix.
func (r *EvidenceRetriever) splitForCache(rendered string) bool {
	return r.config.CachingEnabled &&
		r.cachedPrefix != nil &&
		utf8.RuneCountInString(rendered) > CacheSplitThreshold
}
