// Package viewer presents verification reports in the terminal: a table
// of blocks and claims with summary statistics, and a progress observer
// that prints claims as a run completes them.
package viewer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/ahrav/go-verifier/internal/domain"
	"github.com/ahrav/go-verifier/internal/ports"
)

// Column widths, in runes, before truncation.
const (
	blockTitleWidth   = 45
	claimTitleWidth   = 40
	dependenciesWidth = 28
	maxCitations      = 2
	ruleWidth         = 100
)

// ErrErrorReport is returned by Load for a {session}_error.json file.
var ErrErrorReport = errors.New("reference is an error report")

// Load resolves ref to a report. An existing file is read directly;
// anything else is treated as a session id or key in store.
func Load(ctx context.Context, store ports.ReportStore, ref string) (*domain.VerificationResult, error) {
	if info, err := os.Stat(ref); err == nil && info.Mode().IsRegular() {
		return readFile(ref)
	}
	if store == nil {
		return nil, fmt.Errorf("report %s: %w", ref, ports.ErrReportNotFound)
	}
	return store.Load(ctx, ref)
}

func readFile(path string) (*domain.VerificationResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read report: %w", err)
	}
	var doc struct {
		domain.VerificationResult
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode report %s: %w", path, err)
	}
	if doc.Error != "" {
		return nil, fmt.Errorf("%w: %s", ErrErrorReport, doc.Error)
	}
	return &doc.VerificationResult, nil
}

// Options control rendering.
type Options struct {
	// Color enables ANSI styling. Use IsTerminal to decide.
	Color bool
}

type rowKind int

const (
	rowBlock rowKind = iota
	rowClaim
	rowSeparator
)

// Render writes the results table, the summary statistics and, when the
// report has them, the performance metrics. The output depends only on
// result and opts.
func Render(w io.Writer, result *domain.VerificationResult, opts Options) error {
	s := newStyles(opts.Color)
	var b strings.Builder

	rule := strings.Repeat("=", ruleWidth)
	b.WriteString("\n")
	b.WriteString(s.title.Render(strings.Join([]string{
		rule,
		"VERIFICATION RESULTS TABLE",
		"Document: " + orDefault(result.Title, "Unknown"),
		"Session: " + orDefault(result.DocumentID, "Unknown"),
		rule,
	}, "\n")))
	b.WriteString("\n")

	b.WriteString(claimsTable(result, s))
	b.WriteString("\n\n")
	b.WriteString(s.title.Render("SUMMARY STATISTICS:"))
	b.WriteString("\n")
	b.WriteString(summaryTable(result, s))
	b.WriteString("\n")

	if perf := result.Performance; perf != nil {
		b.WriteString("\n")
		b.WriteString(s.title.Render("PERFORMANCE METRICS:"))
		b.WriteString("\n")
		b.WriteString(performanceTable(perf, s))
		b.WriteString("\n")
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func claimsTable(result *domain.VerificationResult, s styles) string {
	var (
		rows     [][]string
		kinds    []rowKind
		verdicts []domain.Verdict
	)
	add := func(kind rowKind, v domain.Verdict, cells ...string) {
		rows = append(rows, cells)
		kinds = append(kinds, kind)
		verdicts = append(verdicts, v)
	}

	for i, block := range result.Blocks {
		add(rowBlock, "",
			block.BlockID,
			Truncate(strings.TrimPrefix(block.Title, "Block: "), blockTitleWidth),
			"-", "-", "-")

		for _, claim := range block.Claims {
			add(rowClaim, claim.Details.Verdict,
				"  "+ClaimLabel(claim.ClaimID),
				"└─ "+Truncate(claimTitle(claim.Title), claimTitleWidth),
				VerdictLabel(claim.Details.Verdict),
				fmt.Sprintf("%d%%", claim.Details.Confidence),
				Truncate(CitationSummary(claim.Details.Citations), dependenciesWidth))
		}

		if i < len(result.Blocks)-1 {
			add(rowSeparator, "",
				strings.Repeat("-", 8), strings.Repeat("-", blockTitleWidth),
				strings.Repeat("-", 12), strings.Repeat("-", 8), strings.Repeat("-", 30))
		}
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("ID", "Block/Claim", "Status", "Confidence", "Dependencies").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return s.header
			case row < 0 || row >= len(kinds):
				return s.cell
			case kinds[row] == rowBlock:
				return s.block
			case kinds[row] == rowClaim && col == 2:
				return s.verdictStyle(verdicts[row])
			default:
				return s.cell
			}
		})
	return t.String()
}

func summaryTable(result *domain.VerificationResult, s styles) string {
	counts := result.VerdictCounts()
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("Metric", "Value").
		Row("Total Blocks", fmt.Sprint(len(result.Blocks))).
		Row("Total Claims", fmt.Sprint(counts.Total())).
		Row("Pass (Supported)", fmt.Sprint(counts.Supported)).
		Row("Fail (Contradicted)", fmt.Sprint(counts.Contradicted)).
		Row("Partial", fmt.Sprint(counts.Partial)).
		Row("Not Found", fmt.Sprint(counts.NotFound)).
		Row("Overall Pass Rate", fmt.Sprintf("%.1f%%", counts.PassRate()))

	metricVerdicts := map[int]domain.Verdict{
		2: domain.VerdictSupported,
		3: domain.VerdictContradicted,
		4: domain.VerdictPartial,
		5: domain.VerdictNotFound,
	}
	t.StyleFunc(func(row, col int) lipgloss.Style {
		if row == table.HeaderRow {
			return s.header
		}
		if v, ok := metricVerdicts[row]; ok && col == 0 {
			return s.verdictStyle(v)
		}
		if col == 1 {
			return s.cell.Align(lipgloss.Right)
		}
		return s.cell
	})
	return t.String()
}

func performanceTable(perf *domain.Performance, s styles) string {
	caching, cachingStyle := "DISABLED", s.disable
	if perf.CachingEnabled {
		caching, cachingStyle = "ENABLED", s.enabled
	}
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("Metric", "Value").
		Row("Total Time", fmt.Sprintf("%.2f seconds", perf.TotalTimeSeconds)).
		Row("Avg Time/Claim", fmt.Sprintf("%.2f seconds", perf.AvgTimePerClaim)).
		Row("Caching", caching).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return s.header
			case row == 2 && col == 1:
				return s.cell.Inherit(cachingStyle).Align(lipgloss.Right)
			case col == 1:
				return s.cell.Align(lipgloss.Right)
			default:
				return s.cell
			}
		})
	return t.String()
}

// VerdictLabel returns the status shown for a verdict.
func VerdictLabel(v domain.Verdict) string {
	switch v {
	case domain.VerdictSupported:
		return "Pass"
	case domain.VerdictContradicted:
		return "Fail"
	case domain.VerdictPartial:
		return "Partial"
	case domain.VerdictNotFound:
		return "Not Found"
	default:
		return string(v)
	}
}

// ClaimLabel shortens a claim id for display: claim-3 becomes 3 and
// claim-1-2 becomes 1.2.
func ClaimLabel(claimID string) string {
	return strings.ReplaceAll(strings.ReplaceAll(claimID, "claim-", ""), "-", ".")
}

// CitationSummary describes up to two citations and counts the rest.
func CitationSummary(citations []domain.Citation) string {
	if len(citations) == 0 {
		return "-"
	}

	parts := make([]string, 0, maxCitations)
	for _, c := range citations[:min(len(citations), maxCitations)] {
		doc := strings.ReplaceAll(c.DocID, ".txt", "")
		if doc == "" || c.Page == 0 {
			continue
		}
		lower := strings.ToLower(doc)
		switch {
		case strings.Contains(lower, "rfp"):
			parts = append(parts, fmt.Sprintf("RFP v%d p%d", c.Version, c.Page))
		case strings.Contains(lower, "internal"), strings.Contains(lower, "spec"):
			parts = append(parts, fmt.Sprintf("Internal Spec v%d, p%d", c.Version, c.Page))
		default:
			parts = append(parts, fmt.Sprintf("%s v%d p%d", doc, c.Version, c.Page))
		}
	}

	summary := strings.Join(parts, ", ")
	if extra := len(citations) - maxCitations; extra > 0 {
		summary += fmt.Sprintf(" (+%d more)", extra)
	}
	return orDefault(summary, "-")
}

// Truncate shortens s to at most maxLen runes, ending in "..." when cut.
func Truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}

func claimTitle(title string) string {
	return strings.TrimSuffix(strings.TrimPrefix(title, "Claim: "), "...")
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
