package domain

import (
	"fmt"
	"sync"
	"time"
)

// Phase is a step of a verification run. Phases advance strictly forward;
// PhaseFailed can be entered from any non-terminal phase.
type Phase int

const (
	PhaseInit Phase = iota
	PhaseClaimExtraction
	PhaseClaimProcessing
	PhaseAggregation
	PhasePersist
	PhaseFailed
)

var phaseNames = map[Phase]string{
	PhaseInit:            "init",
	PhaseClaimExtraction: "claim_extraction",
	PhaseClaimProcessing: "claim_processing",
	PhaseAggregation:     "aggregation",
	PhasePersist:         "persist",
	PhaseFailed:          "failed",
}

// String implements fmt.Stringer.
func (p Phase) String() string {
	if name, ok := phaseNames[p]; ok {
		return name
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// Terminal reports whether no further transition is possible.
func (p Phase) Terminal() bool { return p == PhasePersist || p == PhaseFailed }

// Stage identifies one of the four model-backed steps.
type Stage string

const (
	StageClaimExtraction   Stage = "claim_extraction"
	StageEvidenceRetrieval Stage = "evidence_retrieval"
	StageDecisionJudgment  Stage = "decision_judgment"
	StageCitationBuilding  Stage = "citation_building"
)

// Run tracks the lifecycle of a single verification session. It is safe
// for concurrent use.
type Run struct {
	mu        sync.RWMutex
	sessionID string
	phase     Phase
	startedAt time.Time
	failure   error
}

// NewRun starts a run in PhaseInit at the given time.
func NewRun(sessionID string, startedAt time.Time) *Run {
	return &Run{sessionID: sessionID, phase: PhaseInit, startedAt: startedAt}
}

// SessionID returns the run's session identifier.
func (r *Run) SessionID() string { return r.sessionID }

// StartedAt returns when the run entered PhaseInit.
func (r *Run) StartedAt() time.Time { return r.startedAt }

// Phase returns the current phase.
func (r *Run) Phase() Phase {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.phase
}

// Advance moves the run to next, which must be the phase immediately
// following the current one.
func (r *Run) Advance(next Phase) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.phase.Terminal() || next == PhaseFailed || next != r.phase+1 {
		return &PhaseError{From: r.phase, To: next}
	}
	r.phase = next
	return nil
}

// Fail moves the run to PhaseFailed and records the cause. Failing a run
// that already reached a terminal phase is an error.
func (r *Run) Fail(cause error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.phase.Terminal() {
		return &PhaseError{From: r.phase, To: PhaseFailed}
	}
	r.phase = PhaseFailed
	r.failure = cause
	return nil
}

// Failure returns the error recorded by Fail, if any.
func (r *Run) Failure() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.failure
}
