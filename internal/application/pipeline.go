// Package application orchestrates a verification run: it loads the
// documents, drives the four stages through the run's phases, aggregates
// the verified claims into a report and persists the outcome.
package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/ahrav/go-verifier/internal/domain"
	"github.com/ahrav/go-verifier/internal/ports"
)

// FailurePolicy decides what happens when a claim fails irrecoverably,
// that is when its context is canceled or the run budget is spent.
type FailurePolicy string

const (
	// PolicyIsolate records the claim as a fallback NOT_FOUND claim and
	// lets the run continue.
	PolicyIsolate FailurePolicy = "isolate"

	// PolicyAbort fails the whole run and writes the error report.
	PolicyAbort FailurePolicy = "abort"
)

// DefaultConcurrency is the number of claims processed at once.
const DefaultConcurrency = 4

var configValidator = validator.New()

// Config controls how a Pipeline schedules claims.
type Config struct {
	Concurrency   int           `yaml:"concurrency" mapstructure:"concurrency" validate:"min=1,max=64"`
	FailurePolicy FailurePolicy `yaml:"failure_policy" mapstructure:"failure_policy" validate:"oneof=isolate abort"`

	// CachingEnabled is recorded in the report's performance section.
	CachingEnabled bool `yaml:"-" mapstructure:"-"`
}

// DefaultConfig returns the default pipeline configuration.
func DefaultConfig() Config {
	return Config{
		Concurrency:    DefaultConcurrency,
		FailurePolicy:  PolicyIsolate,
		CachingEnabled: true,
	}
}

// Request describes one verification run.
type Request struct {
	// SessionID names the run and its report. A fresh id is generated
	// when empty.
	SessionID string
	TargetDir string
	SourceDir string
}

// Outcome is the result of a successful run.
type Outcome struct {
	SessionID string
	Location  string
	Result    *domain.VerificationResult
	Counts    domain.VerdictCounts
	Usage     domain.Usage
}

// Pipeline runs verification sessions. It is safe to call Verify
// concurrently; each call has its own run state.
type Pipeline struct {
	stages   ports.Stages
	store    ports.ReportStore
	config   Config
	observer ports.PipelineObserver
	logger   *slog.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithObservers registers progress observers.
func WithObservers(observers ...ports.PipelineObserver) Option {
	return func(p *Pipeline) {
		var fan Observers
		if existing, ok := p.observer.(Observers); ok {
			fan = existing
		}
		for _, o := range observers {
			if o != nil {
				fan = append(fan, o)
			}
		}
		p.observer = fan
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithTracer sets the tracer for run and claim spans. The default comes
// from the global tracer provider.
func WithTracer(t trace.Tracer) Option {
	return func(p *Pipeline) { p.tracer = t }
}

// New creates a Pipeline over the given stages and report store.
func New(stages ports.Stages, store ports.ReportStore, config Config, opts ...Option) (*Pipeline, error) {
	if stages.Extractor == nil || stages.Retriever == nil || stages.Judge == nil || stages.Citations == nil {
		return nil, fmt.Errorf("%w: all four stages are required", ErrInvalidPipeline)
	}
	if store == nil {
		return nil, fmt.Errorf("%w: report store is required", ErrInvalidPipeline)
	}
	if config.Concurrency == 0 {
		config.Concurrency = DefaultConcurrency
	}
	if config.FailurePolicy == "" {
		config.FailurePolicy = PolicyIsolate
	}
	if err := configValidator.Struct(config); err != nil {
		return nil, fmt.Errorf("pipeline configuration validation failed: %w", err)
	}

	p := &Pipeline{
		stages:   stages,
		store:    store,
		config:   config,
		observer: Observers(nil),
		logger:   slog.New(slog.DiscardHandler),
		tracer:   otel.Tracer("github.com/ahrav/go-verifier/internal/application"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Verify runs one session end to end. Setup errors, such as a missing
// target document, are returned before anything is written. Any later
// failure writes {session}_error.json and returns a *RunError.
func (p *Pipeline) Verify(ctx context.Context, req Request) (*Outcome, error) {
	target, sources, err := LoadDocuments(req.TargetDir, req.SourceDir)
	if err != nil {
		return nil, err
	}

	start := p.now()
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = NewSessionID(start)
	}

	ctx, span := p.tracer.Start(ctx, "verification.run", trace.WithAttributes(
		attribute.String("session.id", sessionID),
	))
	defer span.End()

	usage := domain.NewUsageTracker()
	ctx = domain.ContextWithUsage(ctx, usage)
	run := domain.NewRun(sessionID, start)
	logger := p.logger.With("session_id", sessionID)

	logger.InfoContext(ctx, "verification started",
		"target", target.Name,
		"sources", len(sources),
		"concurrency", p.config.Concurrency,
	)
	p.observer.OnRunStarted(ctx, sessionID, target.Name, documentNames(sources))

	result, err := p.execute(ctx, run, usage, target, sources)
	if err != nil {
		return nil, p.fail(ctx, run, logger, err)
	}

	location, err := p.store.SaveResult(ctx, sessionID, result)
	if err != nil {
		return nil, p.fail(ctx, run, logger, fmt.Errorf("persist report: %w", err))
	}
	if err := run.Advance(domain.PhasePersist); err != nil {
		return nil, p.fail(ctx, run, logger, err)
	}

	counts := result.VerdictCounts()
	logger.InfoContext(ctx, "verification completed",
		"location", location,
		"claims", counts.Total(),
		"supported", counts.Supported,
		"contradicted", counts.Contradicted,
		"partial", counts.Partial,
		"not_found", counts.NotFound,
		"elapsed", p.now().Sub(start),
	)
	p.observer.OnRunCompleted(ctx, result, location)

	return &Outcome{
		SessionID: sessionID,
		Location:  location,
		Result:    result,
		Counts:    counts,
		Usage:     usage.Snapshot(),
	}, nil
}

// execute walks the run from ClaimExtraction through Aggregation.
func (p *Pipeline) execute(
	ctx context.Context,
	run *domain.Run,
	usage *domain.UsageTracker,
	target domain.Document,
	sources []domain.Document,
) (*domain.VerificationResult, error) {
	if err := run.Advance(domain.PhaseClaimExtraction); err != nil {
		return nil, err
	}
	claims, err := p.extractClaims(ctx, target)
	if err != nil {
		return nil, err
	}

	if err := run.Advance(domain.PhaseClaimProcessing); err != nil {
		return nil, err
	}
	verified, err := p.processClaims(ctx, claims, sources, usage)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("verification canceled: %w", err)
	}

	if err := run.Advance(domain.PhaseAggregation); err != nil {
		return nil, err
	}
	result := domain.AssembleResult(domain.ResultInput{
		SessionID:      run.SessionID(),
		TargetName:     target.Name,
		SourceNames:    documentNames(sources),
		Claims:         verified,
		CreatedAt:      p.now().UTC(),
		Elapsed:        p.now().Sub(run.StartedAt()),
		CachingEnabled: p.config.CachingEnabled,
	})
	return &result, nil
}

// extractClaims runs stage 1. A stage error fails the run rather than
// being treated as an empty claim list.
func (p *Pipeline) extractClaims(ctx context.Context, target domain.Document) ([]domain.ExtractedClaim, error) {
	p.observer.OnStageStarted(ctx, domain.StageClaimExtraction, "")
	res := p.stages.Extractor.Extract(ctx, target.Name, target.Content)
	p.observer.OnStageCompleted(ctx, domain.StageClaimExtraction, "", res.Err)
	if !res.OK() {
		return nil, res.Err
	}
	p.logger.DebugContext(ctx, "claims extracted", "count", len(res.Value))
	return res.Value, nil
}

// processClaims verifies every claim on a bounded worker pool. Results
// land in the slot of the claim's extraction index, so the order of the
// output never depends on which worker finishes first.
func (p *Pipeline) processClaims(
	ctx context.Context,
	claims []domain.ExtractedClaim,
	sources []domain.Document,
	usage *domain.UsageTracker,
) ([]domain.VerifiedClaim, error) {
	if len(claims) == 0 {
		return []domain.VerifiedClaim{}, nil
	}

	var (
		mu       sync.Mutex
		verified = make([]domain.VerifiedClaim, len(claims))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.config.Concurrency)

	for i, claim := range claims {
		g.Go(func() error {
			vc, err := p.processClaim(gctx, i, len(claims), claim, sources, usage)
			if err != nil {
				if p.config.FailurePolicy == PolicyAbort {
					return fmt.Errorf("claim %s: %w", claim.ClaimID, err)
				}
				p.logger.WarnContext(gctx, "claim failed, recorded as not found",
					"claim_id", claim.ClaimID, "error", err)
			}

			mu.Lock()
			verified[i] = vc
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return verified, nil
}

// processClaim runs stages 2 to 4 for one claim. It always returns a
// well-formed VerifiedClaim. If any stage failed, the judgment is the
// fallback judgment naming the failed stages and the citations come from
// the citation stage only if it succeeded. The error is non-nil only when
// the failure is irrecoverable for the run.
func (p *Pipeline) processClaim(
	ctx context.Context,
	index, total int,
	claim domain.ExtractedClaim,
	sources []domain.Document,
	usage *domain.UsageTracker,
) (domain.VerifiedClaim, error) {
	ctx, span := p.tracer.Start(ctx, "verification.claim", trace.WithAttributes(
		attribute.String("claim.id", claim.ClaimID),
		attribute.Int("claim.index", index),
	))
	defer span.End()

	var failures []string
	record := func(stage domain.Stage, stageErr *domain.StageError) {
		p.observer.OnStageCompleted(ctx, stage, claim.ClaimID, stageErr)
		if stageErr != nil {
			failures = append(failures, stageErr.Message)
			p.logger.WarnContext(ctx, "stage failed",
				"stage", stage, "claim_id", claim.ClaimID, "error", stageErr.Message)
		}
	}

	p.observer.OnStageStarted(ctx, domain.StageEvidenceRetrieval, claim.ClaimID)
	evidenceRes := p.stages.Retriever.Retrieve(ctx, claim.ClaimText, sources)
	record(domain.StageEvidenceRetrieval, evidenceRes.Err)
	evidence := evidenceRes.Value
	if evidence == nil {
		evidence = []domain.Evidence{}
	}

	p.observer.OnStageStarted(ctx, domain.StageDecisionJudgment, claim.ClaimID)
	judgmentRes := p.stages.Judge.Judge(ctx, claim.ClaimText, evidence)
	record(domain.StageDecisionJudgment, judgmentRes.Err)

	p.observer.OnStageStarted(ctx, domain.StageCitationBuilding, claim.ClaimID)
	citationRes := p.stages.Citations.Build(ctx, evidence, documentNames(sources))
	record(domain.StageCitationBuilding, citationRes.Err)

	vc := domain.VerifiedClaim{
		Claim:     claim,
		Judgment:  judgmentRes.Value,
		Citations: citationRes.Value,
		Index:     index,
	}
	if vc.Citations == nil {
		vc.Citations = []domain.Citation{}
	}

	var irrecoverable error
	if len(failures) > 0 {
		vc.Judgment = domain.FallbackJudgment(strings.Join(failures, "; "))
		irrecoverable = claimFailure(ctx, usage)
	}
	vc.Judgment = vc.Judgment.Coerce()

	span.SetAttributes(attribute.String("claim.verdict", string(vc.Judgment.Verdict)))
	p.observer.OnClaimCompleted(ctx, vc, total)
	return vc, irrecoverable
}

// claimFailure reports why the remaining work of a run cannot succeed,
// or nil when a stage failure was local to its claim.
func claimFailure(ctx context.Context, usage *domain.UsageTracker) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return usage.Exceeded()
}

// fail moves the run to PhaseFailed and writes the error report. The
// report is written even when ctx was canceled.
func (p *Pipeline) fail(ctx context.Context, run *domain.Run, logger *slog.Logger, cause error) error {
	phase := run.Phase()
	if err := run.Fail(cause); err != nil {
		cause = errors.Join(cause, err)
	}

	report := &domain.ErrorReport{
		DocumentID: run.SessionID(),
		Error:      cause.Error(),
		Timestamp:  p.now().UTC(),
	}
	location, err := p.store.SaveError(context.WithoutCancel(ctx), run.SessionID(), report)
	if err != nil {
		cause = errors.Join(cause, fmt.Errorf("save error report: %w", err))
	}

	logger.ErrorContext(ctx, "verification failed", "phase", phase, "error", cause, "error_report", location)
	p.observer.OnRunFailed(ctx, run.SessionID(), cause, location)

	return &RunError{
		SessionID: run.SessionID(),
		Phase:     phase,
		Location:  location,
		Err:       cause,
	}
}
