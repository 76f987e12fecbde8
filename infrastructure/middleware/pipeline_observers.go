package middleware

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/go-verifier/internal/domain"
	"github.com/ahrav/go-verifier/internal/ports"
)

var (
	_ ports.PipelineObserver = (*MetricsObserver)(nil)
	_ ports.PipelineObserver = (*OTelObserver)(nil)
)

// MetricsObserver turns pipeline notifications into metrics: stage
// durations and errors, claims by verdict and runs by outcome.
type MetricsObserver struct {
	metrics ports.MetricsCollector

	mu      sync.Mutex
	started map[stageKey]time.Time
	now     func() time.Time
}

type stageKey struct {
	stage   domain.Stage
	claimID string
}

// NewMetricsObserver creates an observer that reports to metrics.
func NewMetricsObserver(metrics ports.MetricsCollector) *MetricsObserver {
	return &MetricsObserver{
		metrics: metrics,
		started: make(map[stageKey]time.Time),
		now:     time.Now,
	}
}

func (o *MetricsObserver) OnRunStarted(context.Context, string, string, []string) {}

func (o *MetricsObserver) OnStageStarted(_ context.Context, stage domain.Stage, claimID string) {
	o.mu.Lock()
	o.started[stageKey{stage, claimID}] = o.now()
	o.mu.Unlock()
}

func (o *MetricsObserver) OnStageCompleted(_ context.Context, stage domain.Stage, claimID string, stageErr *domain.StageError) {
	key := stageKey{stage, claimID}
	o.mu.Lock()
	start, ok := o.started[key]
	delete(o.started, key)
	o.mu.Unlock()

	status := "success"
	if stageErr != nil {
		status = "error"
		o.metrics.RecordCounter(MetricStageErrors, 1, map[string]string{"stage": string(stage)})
	}
	if ok {
		o.metrics.RecordLatency(MetricStageDuration, o.now().Sub(start), map[string]string{
			"stage":  string(stage),
			"status": status,
		})
	}
}

func (o *MetricsObserver) OnClaimCompleted(_ context.Context, claim domain.VerifiedClaim, _ int) {
	o.metrics.RecordCounter(MetricClaimsTotal, 1, map[string]string{"verdict": string(claim.Judgment.Verdict)})
}

func (o *MetricsObserver) OnRunCompleted(_ context.Context, result *domain.VerificationResult, _ string) {
	o.metrics.RecordCounter(MetricRunsTotal, 1, map[string]string{"status": "completed"})
	if result != nil && result.Performance != nil {
		o.metrics.RecordHistogram(MetricRunDuration, result.Performance.TotalTimeSeconds, nil)
	}
}

func (o *MetricsObserver) OnRunFailed(context.Context, string, error, string) {
	o.metrics.RecordCounter(MetricRunsTotal, 1, map[string]string{"status": "failed"})
}

// OTelObserver records pipeline progress as events on the span carried by
// the notification context, which is the run span for run-level events
// and the claim span for per-claim events.
type OTelObserver struct{}

// NewOTelObserver creates an OTelObserver.
func NewOTelObserver() *OTelObserver { return &OTelObserver{} }

func (OTelObserver) OnRunStarted(ctx context.Context, sessionID string, target string, sources []string) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.String("session.id", sessionID),
		attribute.String("document.target", target),
		attribute.StringSlice("document.sources", sources),
	)
	span.AddEvent("run.started")
}

func (OTelObserver) OnStageStarted(ctx context.Context, stage domain.Stage, claimID string) {
	trace.SpanFromContext(ctx).AddEvent("stage.started", trace.WithAttributes(
		attribute.String("stage", string(stage)),
		attribute.String("claim.id", claimID),
	))
}

func (OTelObserver) OnStageCompleted(ctx context.Context, stage domain.Stage, claimID string, stageErr *domain.StageError) {
	attrs := []attribute.KeyValue{
		attribute.String("stage", string(stage)),
		attribute.String("claim.id", claimID),
		attribute.Bool("stage.failed", stageErr != nil),
	}
	if stageErr != nil {
		attrs = append(attrs, attribute.String("stage.error", stageErr.Message))
	}
	trace.SpanFromContext(ctx).AddEvent("stage.completed", trace.WithAttributes(attrs...))
}

func (OTelObserver) OnClaimCompleted(ctx context.Context, claim domain.VerifiedClaim, total int) {
	trace.SpanFromContext(ctx).AddEvent("claim.completed", trace.WithAttributes(
		attribute.String("claim.id", claim.Claim.ClaimID),
		attribute.String("claim.category", claim.Claim.Category),
		attribute.String("claim.verdict", string(claim.Judgment.Verdict)),
		attribute.Int("claim.confidence", claim.Judgment.Confidence),
		attribute.Int("claim.citations", len(claim.Citations)),
		attribute.Int("claims.total", total),
	))
}

func (OTelObserver) OnRunCompleted(ctx context.Context, result *domain.VerificationResult, location string) {
	span := trace.SpanFromContext(ctx)
	counts := result.VerdictCounts()
	span.SetAttributes(
		attribute.String("report.location", location),
		attribute.Int("report.blocks", len(result.Blocks)),
		attribute.Int("report.claims", result.ClaimCount()),
		attribute.Int("verdict.supported", counts.Supported),
		attribute.Int("verdict.contradicted", counts.Contradicted),
		attribute.Int("verdict.partial", counts.Partial),
		attribute.Int("verdict.not_found", counts.NotFound),
	)
	span.AddEvent("run.completed")
	span.SetStatus(codes.Ok, "")
}

func (OTelObserver) OnRunFailed(ctx context.Context, sessionID string, err error, location string) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(attribute.String("report.error_location", location))
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
