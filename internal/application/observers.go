package application

import (
	"context"

	"github.com/ahrav/go-verifier/internal/domain"
	"github.com/ahrav/go-verifier/internal/ports"
)

var _ ports.PipelineObserver = Observers(nil)

// Observers fans each notification out to every observer in order. A nil
// or empty Observers is a valid no-op observer.
type Observers []ports.PipelineObserver

func (o Observers) OnRunStarted(ctx context.Context, sessionID string, target string, sources []string) {
	for _, obs := range o {
		obs.OnRunStarted(ctx, sessionID, target, sources)
	}
}

func (o Observers) OnStageStarted(ctx context.Context, stage domain.Stage, claimID string) {
	for _, obs := range o {
		obs.OnStageStarted(ctx, stage, claimID)
	}
}

func (o Observers) OnStageCompleted(ctx context.Context, stage domain.Stage, claimID string, stageErr *domain.StageError) {
	for _, obs := range o {
		obs.OnStageCompleted(ctx, stage, claimID, stageErr)
	}
}

func (o Observers) OnClaimCompleted(ctx context.Context, claim domain.VerifiedClaim, total int) {
	for _, obs := range o {
		obs.OnClaimCompleted(ctx, claim, total)
	}
}

func (o Observers) OnRunCompleted(ctx context.Context, result *domain.VerificationResult, location string) {
	for _, obs := range o {
		obs.OnRunCompleted(ctx, result, location)
	}
}

func (o Observers) OnRunFailed(ctx context.Context, sessionID string, err error, location string) {
	for _, obs := range o {
		obs.OnRunFailed(ctx, sessionID, err, location)
	}
}
