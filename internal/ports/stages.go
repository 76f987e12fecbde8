package ports

import (
	"context"

	"github.com/ahrav/go-verifier/internal/domain"
)

// ClaimExtractor turns a target document into an ordered list of claims.
// Implementations never return Go errors: every failure is reported as a
// StageError inside the result.
type ClaimExtractor interface {
	Extract(ctx context.Context, documentName, content string) domain.StageResult[[]domain.ExtractedClaim]
}

// EvidenceRetriever finds passages in the source documents that relate to
// a single claim.
type EvidenceRetriever interface {
	Retrieve(ctx context.Context, claimText string, sources []domain.Document) domain.StageResult[[]domain.Evidence]
}

// DecisionJudge decides a verdict for a claim from its evidence. A judge
// recovers from malformed model output on its own; only transport failures
// surface as a StageError.
type DecisionJudge interface {
	Judge(ctx context.Context, claimText string, evidence []domain.Evidence) domain.StageResult[domain.Judgment]
}

// CitationBuilder converts evidence into structured citations that point
// back at the named source files.
type CitationBuilder interface {
	Build(ctx context.Context, evidence []domain.Evidence, sourceFiles []string) domain.StageResult[[]domain.Citation]
}

// Stages bundles the four stage implementations a pipeline runs.
type Stages struct {
	Extractor ClaimExtractor
	Retriever EvidenceRetriever
	Judge     DecisionJudge
	Citations CitationBuilder
}

// PipelineObserver receives progress notifications from a verification
// run. Observers are informational only and must not block for long;
// OnClaimCompleted and the stage callbacks are invoked concurrently from
// worker goroutines.
type PipelineObserver interface {
	OnRunStarted(ctx context.Context, sessionID string, target string, sources []string)
	OnStageStarted(ctx context.Context, stage domain.Stage, claimID string)
	OnStageCompleted(ctx context.Context, stage domain.Stage, claimID string, stageErr *domain.StageError)
	OnClaimCompleted(ctx context.Context, claim domain.VerifiedClaim, total int)
	OnRunCompleted(ctx context.Context, result *domain.VerificationResult, location string)
	OnRunFailed(ctx context.Context, sessionID string, err error, location string)
}
