package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseVerdict(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		want   Verdict
		wantOK bool
	}{
		{name: "canonical", input: "SUPPORTED", want: VerdictSupported, wantOK: true},
		{name: "lower case", input: "contradicted", want: VerdictContradicted, wantOK: true},
		{name: "padded", input: "  partial\n", want: VerdictPartial, wantOK: true},
		{name: "space separated", input: "not found", want: VerdictNotFound, wantOK: true},
		{name: "hyphenated", input: "Not-Found", want: VerdictNotFound, wantOK: true},
		{name: "unknown", input: "MAYBE", want: VerdictNotFound, wantOK: false},
		{name: "empty", input: "", want: VerdictNotFound, wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseVerdict(tt.input)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantOK, ok)
		})
	}
}

func TestVerdict_Valid(t *testing.T) {
	for _, v := range Verdicts {
		assert.True(t, v.Valid(), "%s should be valid", v)
	}
	assert.False(t, Verdict("UNSURE").Valid())
}

func TestVerdictCounts(t *testing.T) {
	t.Run("empty tally has zero pass rate", func(t *testing.T) {
		var c VerdictCounts
		assert.Zero(t, c.Total())
		assert.Zero(t, c.PassRate())
	})

	t.Run("supported and partial count as passing", func(t *testing.T) {
		var c VerdictCounts
		for _, v := range []Verdict{VerdictSupported, VerdictPartial, VerdictContradicted, VerdictNotFound} {
			c.Add(v)
		}

		assert.Equal(t, 4, c.Total())
		assert.InDelta(t, 50.0, c.PassRate(), 0.001)
	})

	t.Run("unknown verdict counts as not found", func(t *testing.T) {
		var c VerdictCounts
		c.Add(Verdict("garbage"))
		assert.Equal(t, 1, c.NotFound)
	})
}
