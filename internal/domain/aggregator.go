package domain

import (
	"fmt"
	"math"
	"slices"
	"strings"
	"time"
)

// claimTitleRunes is how much of the claim text is kept in a claim title.
const claimTitleRunes = 50

// ResultInput carries everything needed to assemble a VerificationResult.
type ResultInput struct {
	SessionID      string
	TargetName     string
	SourceNames    []string
	Claims         []VerifiedClaim
	CreatedAt      time.Time
	Elapsed        time.Duration
	CachingEnabled bool
}

// AssembleResult builds the final report. Claims are grouped into blocks
// by category and ordered by their original extraction index.
func AssembleResult(in ResultInput) VerificationResult {
	sources := make([]SourceDocumentRef, 0, len(in.SourceNames))
	for _, name := range in.SourceNames {
		sources = append(sources, SourceDocumentRef{
			DocID:   name,
			Version: DefaultSourceVersion,
			Kind:    SourceDocumentKind,
		})
	}

	perf := NewPerformance(in.Elapsed, len(in.Claims), in.CachingEnabled)

	return VerificationResult{
		DocumentID:   in.SessionID,
		Title:        fmt.Sprintf("%s Verification vs Sources", in.TargetName),
		Description:  fmt.Sprintf("Target: %s is verified against source documents", in.TargetName),
		Details:      ResultDetails{SourceDocuments: sources},
		Priority:     ReportPriority,
		Dependencies: []string{},
		Status:       ReportStatus,
		Blocks:       BuildBlocks(in.Claims),
		Audit: Audit{
			CreatedBy:   AuditCreatedBy,
			CreatedAt:   in.CreatedAt,
			ReviewStage: AuditReviewStage,
			Notes:       AuditNotes,
		},
		Performance: &perf,
	}
}

// BuildBlocks groups claims by category. Claims are first ordered by Index;
// a block is created the first time its category is seen and blocks are
// numbered block-01, block-02, ... in that order. The input is not modified.
func BuildBlocks(claims []VerifiedClaim) []Block {
	ordered := slices.Clone(claims)
	slices.SortStableFunc(ordered, func(a, b VerifiedClaim) int { return a.Index - b.Index })

	blocks := make([]Block, 0)
	byCategory := make(map[string]int)

	for _, vc := range ordered {
		category := vc.Claim.Category
		if category == "" {
			category = DefaultCategory
		}

		pos, ok := byCategory[category]
		if !ok {
			pos = len(blocks)
			byCategory[category] = pos
			blocks = append(blocks, Block{
				BlockID:     fmt.Sprintf("block-%02d", pos+1),
				Title:       "Block: " + category,
				Description: "Claims related to " + strings.ToLower(category),
				Details:     BlockDetails{PageRange: DefaultPageRange},
				Priority:    ReportPriority,
				Status:      ReportStatus,
				Claims:      make([]ReportClaim, 0),
			})
		}
		blocks[pos].Claims = append(blocks[pos].Claims, NewReportClaim(vc))
	}

	return blocks
}

// NewReportClaim converts a VerifiedClaim into its persisted shape.
func NewReportClaim(vc VerifiedClaim) ReportClaim {
	citations := vc.Citations
	if citations == nil {
		citations = []Citation{}
	}

	return ReportClaim{
		ClaimID:     vc.Claim.ClaimID,
		Title:       "Claim: " + truncateRunes(vc.Claim.ClaimText, claimTitleRunes) + "...",
		Description: vc.Claim.ClaimText,
		Details: ClaimDetails{
			ClaimText:     vc.Claim.ClaimText,
			TargetLocator: vc.Claim.TargetLocator,
			Verdict:       vc.Judgment.Verdict,
			Confidence:    vc.Judgment.Confidence,
			Rationale:     vc.Judgment.Rationale,
			Citations:     citations,
		},
		Priority:     ReportPriority,
		Dependencies: []string{},
		Status:       ReportStatus,
	}
}

// NewPerformance computes run timing. The average divides by at least one
// claim so an empty run reports its total time rather than NaN.
func NewPerformance(elapsed time.Duration, claims int, cachingEnabled bool) Performance {
	total := elapsed.Seconds()
	return Performance{
		TotalTimeSeconds: round2(total),
		ClaimsProcessed:  claims,
		AvgTimePerClaim:  round2(total / float64(max(claims, 1))),
		CachingEnabled:   cachingEnabled,
	}
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
