package domain

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func verified(index int, id, category string, verdict Verdict, confidence int) VerifiedClaim {
	return VerifiedClaim{
		Index: index,
		Claim: ExtractedClaim{
			ClaimID:   id,
			ClaimText: "claim text for " + id,
			Category:  category,
		},
		Judgment: Judgment{Verdict: verdict, Confidence: confidence, Rationale: "r"},
	}
}

func TestBuildBlocks(t *testing.T) {
	t.Run("groups by category in first seen order", func(t *testing.T) {
		claims := []VerifiedClaim{
			verified(0, "claim-1", "Performance", VerdictSupported, 90),
			verified(1, "claim-2", "Security", VerdictContradicted, 70),
			verified(2, "claim-3", "Performance", VerdictPartial, 50),
		}

		blocks := BuildBlocks(claims)

		require.Len(t, blocks, 2)
		assert.Equal(t, "block-01", blocks[0].BlockID)
		assert.Equal(t, "Block: Performance", blocks[0].Title)
		assert.Equal(t, "Claims related to performance", blocks[0].Description)
		assert.Equal(t, [2]int{1, 50}, blocks[0].Details.PageRange)
		assert.Equal(t, "block-02", blocks[1].BlockID)
		require.Len(t, blocks[0].Claims, 2)
		assert.Equal(t, "claim-1", blocks[0].Claims[0].ClaimID)
		assert.Equal(t, "claim-3", blocks[0].Claims[1].ClaimID)
	})

	t.Run("order depends on claim index not slice order", func(t *testing.T) {
		// Given claims that completed out of order
		claims := []VerifiedClaim{
			verified(2, "claim-3", "B", VerdictSupported, 90),
			verified(0, "claim-1", "A", VerdictSupported, 90),
			verified(1, "claim-2", "B", VerdictSupported, 90),
		}

		// When blocks are built
		blocks := BuildBlocks(claims)

		// Then the lowest claim index decides block order
		require.Len(t, blocks, 2)
		assert.Equal(t, "Block: A", blocks[0].Title)
		assert.Equal(t, "Block: B", blocks[1].Title)
		assert.Equal(t, "claim-2", blocks[1].Claims[0].ClaimID)
		assert.Equal(t, "claim-3", blocks[1].Claims[1].ClaimID)
		assert.Equal(t, 2, claims[0].Index, "input must not be reordered")
	})

	t.Run("empty category uses default", func(t *testing.T) {
		blocks := BuildBlocks([]VerifiedClaim{verified(0, "claim-1", "", VerdictNotFound, 0)})
		require.Len(t, blocks, 1)
		assert.Equal(t, "Block: General", blocks[0].Title)
	})

	t.Run("no claims yields no blocks", func(t *testing.T) {
		blocks := BuildBlocks(nil)
		assert.NotNil(t, blocks)
		assert.Empty(t, blocks)
	})
}

func TestNewReportClaim(t *testing.T) {
	vc := VerifiedClaim{
		Claim: ExtractedClaim{
			ClaimID:       "claim-7",
			ClaimText:     "The platform sustains five hundred concurrent sessions per node under load.",
			TargetLocator: Locator{Page: 3, Span: "Capacity"},
			Category:      "Capacity",
		},
		Judgment: Judgment{Verdict: VerdictPartial, Confidence: 61, Rationale: "only half"},
	}

	rc := NewReportClaim(vc)

	assert.Equal(t, "Claim: The platform sustains five hundred concurrent sess...", rc.Title)
	assert.Equal(t, vc.Claim.ClaimText, rc.Description)
	assert.Equal(t, VerdictPartial, rc.Details.Verdict)
	assert.Equal(t, 61, rc.Details.Confidence)
	assert.Equal(t, Locator{Page: 3, Span: "Capacity"}, rc.Details.TargetLocator)
	assert.NotNil(t, rc.Details.Citations)
	assert.Equal(t, []string{}, rc.Dependencies)
	assert.Equal(t, ReportStatus, rc.Status)
}

func TestNewPerformance(t *testing.T) {
	t.Run("zero claims does not divide by zero", func(t *testing.T) {
		p := NewPerformance(1500*time.Millisecond, 0, true)

		assert.Equal(t, 0, p.ClaimsProcessed)
		assert.Equal(t, 1.5, p.TotalTimeSeconds)
		assert.Equal(t, 1.5, p.AvgTimePerClaim)
		assert.False(t, math.IsNaN(p.AvgTimePerClaim))
		assert.True(t, p.CachingEnabled)
	})

	t.Run("rounds to two decimals", func(t *testing.T) {
		p := NewPerformance(10*time.Second+4567*time.Millisecond, 3, false)

		assert.Equal(t, 14.57, p.TotalTimeSeconds)
		assert.Equal(t, 4.86, p.AvgTimePerClaim)
	})
}

func TestAssembleResult(t *testing.T) {
	created := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	result := AssembleResult(ResultInput{
		SessionID:   "sess-2025-03-01-abcd1234",
		TargetName:  "proposal.txt",
		SourceNames: []string{"rfp.txt", "spec.txt"},
		Claims: []VerifiedClaim{
			verified(0, "claim-1", "Performance", VerdictSupported, 90),
			verified(1, "claim-2", "Security", VerdictNotFound, 0),
		},
		CreatedAt:      created,
		Elapsed:        4 * time.Second,
		CachingEnabled: true,
	})

	assert.Equal(t, "sess-2025-03-01-abcd1234", result.DocumentID)
	assert.Equal(t, "proposal.txt Verification vs Sources", result.Title)
	assert.Equal(t, "Target: proposal.txt is verified against source documents", result.Description)
	require.Len(t, result.Details.SourceDocuments, 2)
	assert.Equal(t, SourceDocumentRef{DocID: "rfp.txt", Version: 1, Kind: "source_document"}, result.Details.SourceDocuments[0])
	assert.Equal(t, AuditCreatedBy, result.Audit.CreatedBy)
	assert.Equal(t, created, result.Audit.CreatedAt)
	assert.Equal(t, 2, result.ClaimCount())
	require.NotNil(t, result.Performance)
	assert.Equal(t, 2.0, result.Performance.AvgTimePerClaim)

	counts := result.VerdictCounts()
	assert.Equal(t, 1, counts.Supported)
	assert.Equal(t, 1, counts.NotFound)
}

func TestVerificationResult_RoundTrip(t *testing.T) {
	// Given an assembled report with mixed verdicts
	original := AssembleResult(ResultInput{
		SessionID:   "sess-rt",
		TargetName:  "t.txt",
		SourceNames: []string{"s.txt"},
		Claims: []VerifiedClaim{
			verified(0, "claim-1", "A", VerdictSupported, 90),
			verified(1, "claim-2", "B", VerdictContradicted, 80),
			verified(2, "claim-3", "A", VerdictPartial, 40),
		},
		CreatedAt: time.Now().UTC(),
		Elapsed:   time.Second,
	})

	// When it is serialized and parsed back
	data, err := json.Marshal(original)
	require.NoError(t, err)

	var decoded VerificationResult
	require.NoError(t, json.Unmarshal(data, &decoded))

	// Then block and claim counts and the verdict distribution survive
	assert.Len(t, decoded.Blocks, len(original.Blocks))
	assert.Equal(t, original.ClaimCount(), decoded.ClaimCount())
	assert.Equal(t, original.VerdictCounts(), decoded.VerdictCounts())
}

func TestReportJSONShape(t *testing.T) {
	result := AssembleResult(ResultInput{
		SessionID:   "sess-shape",
		TargetName:  "t.txt",
		SourceNames: []string{"s.txt"},
		Claims: []VerifiedClaim{{
			Claim:     ExtractedClaim{ClaimID: "claim-1", ClaimText: "x", Category: "A"},
			Judgment:  Judgment{Verdict: VerdictSupported, Confidence: 90, Rationale: "r"},
			Citations: []Citation{{DocID: "s.txt", Version: 1, Page: 2, Span: "intro"}},
		}},
		CreatedAt: time.Now().UTC(),
	})

	data, err := json.Marshal(result)
	require.NoError(t, err)

	var generic map[string]any
	require.NoError(t, json.Unmarshal(data, &generic))

	for _, key := range []string{"document_id", "title", "description", "details", "priority", "dependencies", "status", "blocks", "audit", "performance"} {
		assert.Contains(t, generic, key)
	}

	block := generic["blocks"].([]any)[0].(map[string]any)
	claim := block["claims"].([]any)[0].(map[string]any)
	details := claim["details"].(map[string]any)
	citation := details["citations"].([]any)[0].(map[string]any)

	assert.Contains(t, details, "claimText")
	assert.Contains(t, details, "targetLocator")
	assert.Equal(t, "s.txt", citation["docId"])
	assert.NotContains(t, citation, "note", "empty note is omitted")
}
