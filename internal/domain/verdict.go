package domain

import "strings"

// Verdict is the categorical outcome of comparing a claim against its
// evidence.
type Verdict string

const (
	// VerdictSupported means the evidence backs the claim.
	VerdictSupported Verdict = "SUPPORTED"

	// VerdictContradicted means the evidence refutes the claim.
	VerdictContradicted Verdict = "CONTRADICTED"

	// VerdictPartial means the evidence backs only part of the claim.
	VerdictPartial Verdict = "PARTIAL"

	// VerdictNotFound means no usable evidence was found, and is also the
	// verdict assigned whenever a judgment could not be produced.
	VerdictNotFound Verdict = "NOT_FOUND"
)

// Verdicts lists every valid verdict in report order.
var Verdicts = []Verdict{VerdictSupported, VerdictContradicted, VerdictPartial, VerdictNotFound}

// Valid reports whether v is one of the four known verdicts.
func (v Verdict) Valid() bool {
	switch v {
	case VerdictSupported, VerdictContradicted, VerdictPartial, VerdictNotFound:
		return true
	default:
		return false
	}
}

// String implements fmt.Stringer.
func (v Verdict) String() string { return string(v) }

// ParseVerdict normalizes a free-form verdict string. It accepts any
// casing and treats spaces and hyphens as underscores, so "not found" and
// "Not-Found" both map to VerdictNotFound.
func ParseVerdict(s string) (Verdict, bool) {
	normalized := strings.ToUpper(strings.TrimSpace(s))
	normalized = strings.NewReplacer(" ", "_", "-", "_").Replace(normalized)

	v := Verdict(normalized)
	if !v.Valid() {
		return VerdictNotFound, false
	}
	return v, true
}

// VerdictCounts tallies verdicts across a set of claims.
type VerdictCounts struct {
	Supported    int `json:"supported"`
	Contradicted int `json:"contradicted"`
	Partial      int `json:"partial"`
	NotFound     int `json:"not_found"`
}

// Add records one verdict. Unknown verdicts count as NOT_FOUND, matching
// the coercion applied when claims are assembled.
func (c *VerdictCounts) Add(v Verdict) {
	switch v {
	case VerdictSupported:
		c.Supported++
	case VerdictContradicted:
		c.Contradicted++
	case VerdictPartial:
		c.Partial++
	default:
		c.NotFound++
	}
}

// Total returns the number of verdicts recorded.
func (c VerdictCounts) Total() int {
	return c.Supported + c.Contradicted + c.Partial + c.NotFound
}

// PassRate returns the share of SUPPORTED and PARTIAL verdicts as a
// percentage. An empty tally yields 0.
func (c VerdictCounts) PassRate() float64 {
	total := c.Total()
	if total == 0 {
		return 0
	}
	return float64(c.Supported+c.Partial) / float64(total) * 100
}
