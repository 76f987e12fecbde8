package domain

import "time"

// Report field values that are fixed for every run.
const (
	ReportPriority       = "high"
	ReportStatus         = "completed"
	SourceDocumentKind   = "source_document"
	AuditCreatedBy       = "go-verifier"
	AuditReviewStage     = "automated"
	AuditNotes           = "Automated verification using multi-stage LLM analysis"
	DefaultSourceVersion = 1
)

// DefaultPageRange is the page range attached to every block.
var DefaultPageRange = [2]int{1, 50}

// VerificationResult is the persisted report of one verification run.
type VerificationResult struct {
	DocumentID   string        `json:"document_id"`
	Title        string        `json:"title"`
	Description  string        `json:"description"`
	Details      ResultDetails `json:"details"`
	Priority     string        `json:"priority"`
	Dependencies []string      `json:"dependencies"`
	Status       string        `json:"status"`
	Blocks       []Block       `json:"blocks"`
	Audit        Audit         `json:"audit"`
	Performance  *Performance  `json:"performance,omitempty"`
}

// ResultDetails lists the source documents the target was checked against.
type ResultDetails struct {
	SourceDocuments []SourceDocumentRef `json:"sourceDocuments"`
}

// SourceDocumentRef identifies one source document.
type SourceDocumentRef struct {
	DocID   string `json:"docId"`
	Version int    `json:"version"`
	Kind    string `json:"kind"`
}

// Block groups the claims that share a category.
type Block struct {
	BlockID     string        `json:"block_id"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Details     BlockDetails  `json:"details"`
	Priority    string        `json:"priority"`
	Status      string        `json:"status"`
	Claims      []ReportClaim `json:"claims"`
}

// BlockDetails carries block-level metadata.
type BlockDetails struct {
	PageRange [2]int `json:"pageRange"`
}

// ReportClaim is a VerifiedClaim in its persisted shape.
type ReportClaim struct {
	ClaimID      string       `json:"claim_id"`
	Title        string       `json:"title"`
	Description  string       `json:"description"`
	Details      ClaimDetails `json:"details"`
	Priority     string       `json:"priority"`
	Dependencies []string     `json:"dependencies"`
	Status       string       `json:"status"`
}

// ClaimDetails holds the outcome of verifying one claim.
type ClaimDetails struct {
	ClaimText     string     `json:"claimText"`
	TargetLocator Locator    `json:"targetLocator"`
	Verdict       Verdict    `json:"verdict"`
	Confidence    int        `json:"confidence"`
	Rationale     string     `json:"rationale"`
	Citations     []Citation `json:"citations"`
}

// Audit records who produced the report and when.
type Audit struct {
	CreatedBy   string    `json:"createdBy"`
	CreatedAt   time.Time `json:"createdAt"`
	ReviewStage string    `json:"reviewStage"`
	Notes       string    `json:"notes"`
}

// Performance summarizes the timing of a run.
type Performance struct {
	TotalTimeSeconds float64 `json:"total_time_seconds"`
	ClaimsProcessed  int     `json:"claims_processed"`
	AvgTimePerClaim  float64 `json:"avg_time_per_claim"`
	CachingEnabled   bool    `json:"caching_enabled"`
}

// ErrorReport is persisted instead of a VerificationResult when a run fails.
type ErrorReport struct {
	DocumentID string    `json:"document_id"`
	Error      string    `json:"error"`
	Timestamp  time.Time `json:"timestamp"`
}

// ClaimCount returns the number of claims across all blocks.
func (r *VerificationResult) ClaimCount() int {
	n := 0
	for _, b := range r.Blocks {
		n += len(b.Claims)
	}
	return n
}

// VerdictCounts tallies the verdicts of every claim in the report.
func (r *VerificationResult) VerdictCounts() VerdictCounts {
	var counts VerdictCounts
	for _, b := range r.Blocks {
		for _, c := range b.Claims {
			counts.Add(c.Details.Verdict)
		}
	}
	return counts
}
