package domain

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// DefaultRationale replaces an empty or non-string rationale.
const DefaultRationale = "No rationale provided"

// RawJudgment is a judgment as decoded from an untrusted model response.
// Every field is left untyped so that malformed values can be coerced
// instead of failing the whole decode.
type RawJudgment struct {
	Verdict               any `json:"verdict"`
	Confidence            any `json:"confidence"`
	Rationale             any `json:"rationale"`
	SupportingEvidence    any `json:"supporting_evidence"`
	ContradictingEvidence any `json:"contradicting_evidence"`
}

// Judgment coerces the raw values into a well-formed Judgment. The result
// always has a valid verdict, a confidence in [0,100] and a non-empty
// rationale.
func (r RawJudgment) Judgment() Judgment {
	rationale, _ := r.Rationale.(string)
	if strings.TrimSpace(rationale) == "" {
		rationale = DefaultRationale
	}

	return Judgment{
		Verdict:               CoerceVerdict(r.Verdict),
		Confidence:            CoerceConfidence(r.Confidence),
		Rationale:             rationale,
		SupportingEvidence:    coerceStrings(r.SupportingEvidence),
		ContradictingEvidence: coerceStrings(r.ContradictingEvidence),
	}
}

// CoerceConfidence converts an arbitrary decoded value into a confidence.
// Numbers are truncated toward zero, numeric strings are parsed and
// truncated, and anything else yields 0. The result is clamped to [0,100].
func CoerceConfidence(raw any) int {
	var f float64
	switch v := raw.(type) {
	case int:
		f = float64(v)
	case int32:
		f = float64(v)
	case int64:
		f = float64(v)
	case float32:
		f = float64(v)
	case float64:
		f = v
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return 0
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0
		}
		f = parsed
	default:
		return 0
	}

	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}

	n := int(math.Trunc(f))
	switch {
	case n < 0:
		return 0
	case n > 100:
		return 100
	default:
		return n
	}
}

// CoerceVerdict converts an arbitrary decoded value into a Verdict. Only
// strings naming a known verdict survive; nested structures, numbers and
// unknown strings become VerdictNotFound.
func CoerceVerdict(raw any) Verdict {
	s, ok := raw.(string)
	if !ok {
		return VerdictNotFound
	}
	v, _ := ParseVerdict(s)
	return v
}

func coerceStrings(raw any) []string {
	out := []string{}
	items, ok := raw.([]any)
	if !ok {
		if ss, ok := raw.([]string); ok {
			return append(out, ss...)
		}
		return out
	}
	for _, item := range items {
		switch v := item.(type) {
		case string:
			out = append(out, v)
		case float64:
			out = append(out, strconv.FormatFloat(v, 'f', -1, 64))
		}
	}
	return out
}

// Coerce applies the same guarantees as RawJudgment.Judgment to an
// already typed judgment: unknown verdicts become NOT_FOUND, confidence is
// clamped to [0,100] and the rationale and evidence lists are never empty
// or nil.
func (j Judgment) Coerce() Judgment {
	if !j.Verdict.Valid() {
		j.Verdict = VerdictNotFound
	}
	j.Confidence = min(max(j.Confidence, 0), 100)
	if strings.TrimSpace(j.Rationale) == "" {
		j.Rationale = DefaultRationale
	}
	if j.SupportingEvidence == nil {
		j.SupportingEvidence = []string{}
	}
	if j.ContradictingEvidence == nil {
		j.ContradictingEvidence = []string{}
	}
	return j
}
