package stages

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"text/template"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	"github.com/sashabaranov/go-openai/jsonschema"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/text/cases"

	"github.com/ahrav/go-verifier/infrastructure/llm"
	"github.com/ahrav/go-verifier/internal/domain"
	"github.com/ahrav/go-verifier/internal/ports"
)

var _ ports.CitationBuilder = (*CitationBuilder)(nil)

// DocIDSimilarityThreshold is the minimum normalized Levenshtein
// similarity for a cited document name to be mapped onto a source file.
const DocIDSimilarityThreshold = 0.8

// citationResult is the structured output of citation building.
type citationResult struct {
	Citations []domain.Citation `json:"citations" description:"Citations pointing at the source documents"`
}

type sourceMetadata struct {
	SourceFiles []string `json:"source_files"`
}

// CitationBuilder turns evidence into citations.
// It is stateless and safe for concurrent use.
type CitationBuilder struct {
	config    Config
	llmClient ports.LLMClient
	system    string
	prompt    *template.Template
	schema    *jsonschema.Definition
}

// NewCitationBuilder creates a CitationBuilder.
func NewCitationBuilder(llmClient ports.LLMClient, config Config) (*CitationBuilder, error) {
	if llmClient == nil {
		return nil, ErrNilClient
	}
	config, err := config.withDefaults()
	if err != nil {
		return nil, err
	}
	prompt, err := parseTemplate(string(domain.StageCitationBuilding), config.Prompts.CitationBuilding.User)
	if err != nil {
		return nil, err
	}
	schema, err := llm.SchemaFor(citationResult{})
	if err != nil {
		return nil, err
	}
	return &CitationBuilder{
		config:    config,
		llmClient: llmClient,
		system:    config.Prompts.CitationBuilding.System,
		prompt:    prompt,
		schema:    schema,
	}, nil
}

// Build returns citations for the evidence. Zero citations is a valid
// result. Cited document names are mapped onto sourceFiles where a close
// match exists and versions below 1 are raised to 1.
func (b *CitationBuilder) Build(
	ctx context.Context,
	evidence []domain.Evidence,
	sourceFiles []string,
) domain.StageResult[[]domain.Citation] {
	const stage = domain.StageCitationBuilding
	const failPrefix = "Citation building failed"

	ctx, span := startSpan(ctx, stage, attribute.Int("evidence.count", len(evidence)))
	defer span.End()

	if evidence == nil {
		evidence = []domain.Evidence{}
	}
	if sourceFiles == nil {
		sourceFiles = []string{}
	}
	evidenceData, err := json.MarshalIndent(evidenceEnvelope{Evidence: evidence}, "", "  ")
	if err != nil {
		return fail[[]domain.Citation](span, stage, failPrefix, err)
	}
	metadata, err := json.Marshal(sourceMetadata{SourceFiles: sourceFiles})
	if err != nil {
		return fail[[]domain.Citation](span, stage, failPrefix, err)
	}

	prompt, err := render(b.prompt, struct {
		EvidenceData   string
		SourceMetadata string
		SourceFiles    []string
	}{
		EvidenceData:   sanitizeUserContent(string(evidenceData)),
		SourceMetadata: string(metadata),
		SourceFiles:    sourceFiles,
	})
	if err != nil {
		return fail[[]domain.Citation](span, stage, failPrefix, err)
	}

	opts := withSchema(b.config, callOptions(b.config, stage, b.system), b.schema,
		"citation_building", "Report citations for the evidence")
	response, err := b.llmClient.Complete(ctx, prompt, opts)
	if err != nil {
		return fail[[]domain.Citation](span, stage, failPrefix, err)
	}

	var result citationResult
	if err := decodeResponse(response, &result); err != nil {
		return fail[[]domain.Citation](span, stage, failPrefix, err)
	}

	citations := make([]domain.Citation, 0, len(result.Citations))
	for _, c := range result.Citations {
		c.DocID = normalizeDocID(c.DocID, sourceFiles)
		if c.Version < 1 {
			c.Version = 1
		}
		if err := validate.Struct(c); err != nil {
			b.config.Logger.DebugContext(ctx, "dropping invalid citation", "error", err)
			continue
		}
		citations = append(citations, c)
	}

	span.SetAttributes(attribute.Int("citations.count", len(citations)))
	return domain.Succeeded(citations)
}

// normalizeDocID maps a cited document name onto the closest source file.
// A case-folded exact match wins, with or without the file extension;
// otherwise the most similar file at or above DocIDSimilarityThreshold is
// used. Names with no close match are returned trimmed but unchanged.
func normalizeDocID(docID string, sourceFiles []string) string {
	docID = strings.TrimSpace(docID)
	if docID == "" || len(sourceFiles) == 0 {
		return docID
	}

	fold := cases.Fold()
	want := fold.String(docID)
	for _, name := range sourceFiles {
		folded := fold.String(name)
		if folded == want || strings.TrimSuffix(folded, filepath.Ext(folded)) == want {
			return name
		}
	}

	best, bestScore := "", 0.0
	for _, name := range sourceFiles {
		if score := similarity(want, fold.String(name)); score > bestScore {
			best, bestScore = name, score
		}
	}
	if bestScore >= DocIDSimilarityThreshold {
		return best
	}
	return docID
}

// similarity is 1 minus the edit distance over the longer length.
func similarity(a, b string) float64 {
	longest := max(utf8.RuneCountInString(a), utf8.RuneCountInString(b))
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
}
