package viewer

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/ahrav/go-verifier/internal/domain"
	"github.com/ahrav/go-verifier/internal/ports"
)

const progressBarWidth = 30

var stageLabels = map[domain.Stage]string{
	domain.StageClaimExtraction:   "Claim extraction",
	domain.StageEvidenceRetrieval: "Evidence retrieval",
	domain.StageDecisionJudgment:  "Decision judgment",
	domain.StageCitationBuilding:  "Citation building",
}

// Progress prints a run's progress to a terminal. Claims are reported as
// they complete, which under concurrency is not extraction order.
type Progress struct {
	mu        sync.Mutex
	w         io.Writer
	s         styles
	verbose   bool
	completed int
}

var _ ports.PipelineObserver = (*Progress)(nil)

// NewProgress returns a Progress writing to w. In verbose mode every
// stage start and success is printed as well as failures.
func NewProgress(w io.Writer, opts Options, verbose bool) *Progress {
	return &Progress{w: w, s: newStyles(opts.Color), verbose: verbose}
}

func (p *Progress) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, format, args...)
}

func (p *Progress) OnRunStarted(_ context.Context, sessionID string, target string, sources []string) {
	p.mu.Lock()
	p.completed = 0
	p.mu.Unlock()

	p.printf("%s\n", p.s.box.Render(strings.Join([]string{
		p.s.title.Render("Verification " + sessionID),
		"Target:  " + target,
		"Sources: " + strings.Join(sources, ", "),
	}, "\n")))
}

func (p *Progress) OnStageStarted(_ context.Context, stage domain.Stage, claimID string) {
	if !p.verbose {
		return
	}
	p.printf("%s\n", p.s.muted.Render(fmt.Sprintf("  → %s%s", stageLabels[stage], forClaim(claimID))))
}

func (p *Progress) OnStageCompleted(_ context.Context, stage domain.Stage, claimID string, stageErr *domain.StageError) {
	switch {
	case stageErr != nil:
		p.printf("  %s %s%s: %s\n",
			p.s.verdictStyle(domain.VerdictContradicted).UnsetPadding().Render("✗"),
			stageLabels[stage], forClaim(claimID), stageErr.Message)
	case p.verbose:
		p.printf("  %s %s%s\n",
			p.s.verdictStyle(domain.VerdictSupported).UnsetPadding().Render("✓"),
			stageLabels[stage], forClaim(claimID))
	}
}

func (p *Progress) OnClaimCompleted(_ context.Context, claim domain.VerifiedClaim, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.completed++

	verdict := p.s.verdictStyle(claim.Judgment.Verdict).UnsetPadding().
		Render(fmt.Sprintf("%-9s", VerdictLabel(claim.Judgment.Verdict)))
	fmt.Fprintf(p.w, "%s [%d/%d] %s %s %3d%%  %s\n",
		ProgressBar(p.completed, total, progressBarWidth),
		p.completed, total,
		ClaimLabel(claim.Claim.ClaimID),
		verdict,
		claim.Judgment.Confidence,
		Truncate(claim.Claim.ClaimText, 60))
}

func (p *Progress) OnRunCompleted(_ context.Context, result *domain.VerificationResult, location string) {
	counts := result.VerdictCounts()
	lines := []string{
		p.s.title.Render("Verification complete"),
		fmt.Sprintf("Claims:       %d in %d blocks", counts.Total(), len(result.Blocks)),
		fmt.Sprintf("Supported:    %d", counts.Supported),
		fmt.Sprintf("Contradicted: %d", counts.Contradicted),
		fmt.Sprintf("Partial:      %d", counts.Partial),
		fmt.Sprintf("Not found:    %d", counts.NotFound),
		fmt.Sprintf("Pass rate:    %.1f%%", counts.PassRate()),
	}
	if perf := result.Performance; perf != nil {
		lines = append(lines, fmt.Sprintf("Time:         %.2fs (%.2fs/claim)", perf.TotalTimeSeconds, perf.AvgTimePerClaim))
	}
	lines = append(lines, "Report:       "+location)
	p.printf("%s\n", p.s.box.Render(strings.Join(lines, "\n")))
}

func (p *Progress) OnRunFailed(_ context.Context, sessionID string, err error, location string) {
	lines := []string{"Verification " + sessionID + " failed", err.Error()}
	if location != "" {
		lines = append(lines, "Error report: "+location)
	}
	p.printf("%s\n", p.s.errBox.Render(strings.Join(lines, "\n")))
}

// ProgressBar draws done/total as a bar of width cells.
func ProgressBar(done, total, width int) string {
	if total <= 0 {
		return "[" + strings.Repeat("░", width) + "]"
	}
	filled := min(done*width/total, width)
	return "[" + strings.Repeat("█", filled) + strings.Repeat("░", width-filled) + "]"
}

func forClaim(claimID string) string {
	if claimID == "" {
		return ""
	}
	return " (" + claimID + ")"
}
