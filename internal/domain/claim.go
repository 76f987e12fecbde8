// Package domain contains the dependency-free data contracts of the claim
// verifier: claims, evidence, judgments, citations, the persisted report
// and the rules that assemble one from the other.
package domain

import (
	"fmt"
	"math"
)

// DefaultCategory is assigned to claims whose category is empty.
const DefaultCategory = "General"

// Locator points at a position inside a document. Page is a page or line
// number; Span names a section or a short excerpt.
type Locator struct {
	Page int    `json:"page" description:"Page or line number"`
	Span string `json:"span" description:"Section or span identifier"`
}

// Document is a named plain-text document loaded from disk.
type Document struct {
	Name    string
	Content string
}

// ExtractedClaim is a discrete, verifiable assertion found in the target
// document. Claims are produced once per run and never modified afterwards.
type ExtractedClaim struct {
	ClaimID       string  `json:"claim_id" description:"Unique identifier for the claim" validate:"required"`
	ClaimText     string  `json:"claim_text" description:"The exact verifiable claim text" validate:"required"`
	TargetLocator Locator `json:"target_locator" description:"Where the claim appears in the target document"`
	Category      string  `json:"category" description:"Category or section the claim belongs to"`
}

// Normalize fills in the identifier and category when the extractor left
// them empty. index is the claim's zero-based position in extraction order.
func (c ExtractedClaim) Normalize(index int) ExtractedClaim {
	if c.ClaimID == "" {
		c.ClaimID = fmt.Sprintf("claim-%d", index+1)
	}
	if c.Category == "" {
		c.Category = DefaultCategory
	}
	return c
}

// Relationship describes how an evidence passage relates to a claim.
type Relationship string

const (
	RelationshipSupports    Relationship = "supports"
	RelationshipContradicts Relationship = "contradicts"
	RelationshipRelates     Relationship = "relates"
)

// Evidence is a passage from a source document judged relevant to a claim.
type Evidence struct {
	DocID          string       `json:"doc_id" description:"Source document file name" validate:"required"`
	EvidenceText   string       `json:"evidence_text" description:"Verbatim relevant text from the source" validate:"required"`
	Location       Locator      `json:"location" description:"Location in the source document"`
	RelevanceScore float64      `json:"relevance_score" description:"Relevance between 0 and 1" validate:"gte=0,lte=1"`
	Relationship   Relationship `json:"relationship" description:"How the passage relates to the claim" enum:"supports,contradicts,relates" validate:"oneof=supports contradicts relates"`
}

// Normalize clamps the relevance score into [0,1] and maps unknown
// relationships to RelationshipRelates.
func (e Evidence) Normalize() Evidence {
	switch {
	case e.RelevanceScore < 0 || math.IsNaN(e.RelevanceScore):
		e.RelevanceScore = 0
	case e.RelevanceScore > 1:
		e.RelevanceScore = 1
	}
	switch e.Relationship {
	case RelationshipSupports, RelationshipContradicts, RelationshipRelates:
	default:
		e.Relationship = RelationshipRelates
	}
	return e
}

// Judgment is the decision reached for one claim.
type Judgment struct {
	Verdict               Verdict  `json:"verdict" description:"One of SUPPORTED, CONTRADICTED, PARTIAL, NOT_FOUND" enum:"SUPPORTED,CONTRADICTED,PARTIAL,NOT_FOUND" validate:"required,oneof=SUPPORTED CONTRADICTED PARTIAL NOT_FOUND"`
	Confidence            int      `json:"confidence" description:"Confidence from 0 to 100" validate:"gte=0,lte=100"`
	Rationale             string   `json:"rationale" description:"Explanation of the decision" validate:"required"`
	SupportingEvidence    []string `json:"supporting_evidence" description:"Identifiers of supporting evidence"`
	ContradictingEvidence []string `json:"contradicting_evidence" description:"Identifiers of contradicting evidence"`
}

// FallbackJudgment is the canonical judgment used whenever no judgment
// could be obtained for a claim.
func FallbackJudgment(rationale string) Judgment {
	if rationale == "" {
		rationale = "No judgment could be produced"
	}
	return Judgment{
		Verdict:               VerdictNotFound,
		Confidence:            0,
		Rationale:             rationale,
		SupportingEvidence:    []string{},
		ContradictingEvidence: []string{},
	}
}

// Citation is a structured pointer back to a source document location.
type Citation struct {
	DocID   string `json:"docId" description:"Source document file name" validate:"required"`
	Version int    `json:"version" description:"Document version number, 1 when unknown"`
	Page    int    `json:"page" description:"Page or line number"`
	Span    string `json:"span" description:"Section or span identifier"`
	Note    string `json:"note,omitempty" description:"Optional context for the citation"`
}

// VerifiedClaim joins a claim with its judgment and citations. It is the
// per-claim unit placed into the report.
type VerifiedClaim struct {
	Claim     ExtractedClaim
	Judgment  Judgment
	Citations []Citation

	// Index is the claim's position in extraction order. Aggregation sorts
	// by it so the report does not depend on completion order.
	Index int
}
