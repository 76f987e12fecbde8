package stages

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-verifier/infrastructure/llm"
	"github.com/ahrav/go-verifier/internal/domain"
	"github.com/ahrav/go-verifier/internal/testutils"
)

var judgeEvidence = []domain.Evidence{{
	DocID:          "source.txt",
	EvidenceText:   "Load testing confirmed 520 requests per second",
	Location:       domain.Locator{Page: 1, Span: "Load Testing"},
	RelevanceScore: 0.95,
	Relationship:   domain.RelationshipSupports,
}}

const judgeStage = string(domain.StageDecisionJudgment)

func newTestJudge(t *testing.T, responses ...testutils.MockResponse) (*DecisionJudge, *testutils.MockLLMClient) {
	t.Helper()
	client := testutils.NewMockLLMClient("mock-model")
	for _, r := range responses {
		client.AddResponse(r)
	}
	judge, err := NewDecisionJudge(client, DefaultConfig())
	require.NoError(t, err)
	return judge, client
}

func TestDecisionJudge_Judge(t *testing.T) {
	t.Run("structured tier succeeds", func(t *testing.T) {
		judge, client := newTestJudge(t)

		res := judge.Judge(context.Background(), "The system handles 500 rps", judgeEvidence)

		require.True(t, res.OK())
		assert.Equal(t, domain.VerdictSupported, res.Value.Verdict)
		assert.Equal(t, 90, res.Value.Confidence)

		calls := client.Calls()
		require.Len(t, calls, 1, "no fallback call expected")
		assert.True(t, calls[0].Structured)
		assert.Contains(t, calls[0].Prompt, "520 requests per second")
		assert.Contains(t, calls[0].Prompt, `"evidence"`)
	})

	t.Run("coerces malformed fields without falling back", func(t *testing.T) {
		judge, client := newTestJudge(t, testutils.MockResponse{
			Stage:    judgeStage,
			Response: `{"verdict": "partial", "confidence": "72.9", "rationale": ""}`,
		})

		res := judge.Judge(context.Background(), "claim", judgeEvidence)

		require.True(t, res.OK())
		assert.Equal(t, domain.VerdictPartial, res.Value.Verdict)
		assert.Equal(t, 72, res.Value.Confidence)
		assert.Equal(t, domain.DefaultRationale, res.Value.Rationale)
		assert.Len(t, client.Calls(), 1)
	})

	t.Run("structured error falls back to free text", func(t *testing.T) {
		judge, client := newTestJudge(t,
			testutils.MockResponse{Stage: judgeStage, StructuredOnly: true, Err: errors.New("tool use unsupported")},
			testutils.MockResponse{
				Stage:        judgeStage,
				FreeTextOnly: true,
				Response:     "My assessment:\n```json\n{\"verdict\": \"CONTRADICTED\", \"confidence\": 80, \"rationale\": \"Only 300 rps measured.\"}\n```",
			},
		)

		res := judge.Judge(context.Background(), "claim", judgeEvidence)

		require.True(t, res.OK())
		assert.Equal(t, domain.VerdictContradicted, res.Value.Verdict)
		assert.Equal(t, 80, res.Value.Confidence)
		assert.Equal(t, "Only 300 rps measured.", res.Value.Rationale)

		calls := client.Calls()
		require.Len(t, calls, 2)
		assert.False(t, calls[1].Structured)
		assert.True(t, strings.HasSuffix(calls[1].Prompt, FreeTextSuffix))
		assert.NotContains(t, calls[1].Options, llm.OptResponseSchema)
	})

	t.Run("unknown structured verdict falls back to free text", func(t *testing.T) {
		judge, client := newTestJudge(t,
			testutils.MockResponse{Stage: judgeStage, StructuredOnly: true, Response: `{"verdict": {"value": "SUPPORTED"}, "confidence": 90}`},
			testutils.MockResponse{Stage: judgeStage, FreeTextOnly: true, Response: `{"verdict": "SUPPORTED", "confidence": 75, "rationale": "ok"}`},
		)

		res := judge.Judge(context.Background(), "claim", judgeEvidence)

		require.True(t, res.OK())
		assert.Equal(t, domain.VerdictSupported, res.Value.Verdict)
		assert.Equal(t, 75, res.Value.Confidence)
		assert.Len(t, client.Calls(), 2)
	})

	t.Run("free text tier coerces a non-scalar verdict", func(t *testing.T) {
		judge, _ := newTestJudge(t,
			testutils.MockResponse{Stage: judgeStage, StructuredOnly: true, Response: "garbage"},
			testutils.MockResponse{Stage: judgeStage, FreeTextOnly: true, Response: `{"verdict": ["SUPPORTED"], "confidence": {}}`},
		)

		res := judge.Judge(context.Background(), "claim", judgeEvidence)

		require.True(t, res.OK())
		assert.Equal(t, domain.VerdictNotFound, res.Value.Verdict)
		assert.Equal(t, 0, res.Value.Confidence)
	})

	t.Run("unrecoverable output yields the canonical fallback", func(t *testing.T) {
		reply := strings.Repeat("I am not sure what to say here. ", 20)
		judge, _ := newTestJudge(t,
			testutils.MockResponse{Stage: judgeStage, StructuredOnly: true, Response: "not json"},
			testutils.MockResponse{Stage: judgeStage, FreeTextOnly: true, Response: reply},
		)

		res := judge.Judge(context.Background(), "claim", judgeEvidence)

		require.True(t, res.OK())
		assert.Equal(t, domain.VerdictNotFound, res.Value.Verdict)
		assert.Equal(t, 0, res.Value.Confidence)
		assert.Equal(t, "Failed to parse structured output: "+reply[:200], res.Value.Rationale)
		assert.NotNil(t, res.Value.SupportingEvidence)
	})

	t.Run("free text transport failure is a stage error", func(t *testing.T) {
		judge, _ := newTestJudge(t, testutils.MockResponse{Stage: judgeStage, Err: errors.New("service unavailable")})

		res := judge.Judge(context.Background(), "claim", judgeEvidence)

		require.False(t, res.OK())
		assert.Equal(t, domain.StageDecisionJudgment, res.Err.Stage)
		assert.Equal(t, "Decision judgment failed: service unavailable", res.Err.Message)
	})

	t.Run("canceled context does not try the fallback", func(t *testing.T) {
		judge, client := newTestJudge(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		res := judge.Judge(ctx, "claim", judgeEvidence)

		require.False(t, res.OK())
		assert.Len(t, client.Calls(), 0)
	})

	t.Run("nil evidence is rendered as an empty list", func(t *testing.T) {
		judge, client := newTestJudge(t)

		res := judge.Judge(context.Background(), "claim", nil)

		require.True(t, res.OK())
		assert.Contains(t, client.Calls()[0].Prompt, `"evidence": []`)
	})
}

func TestParseJudgment(t *testing.T) {
	tests := []struct {
		name     string
		response string
		wantErr  bool
		want     domain.Verdict
	}{
		{name: "valid", response: `{"verdict": "SUPPORTED", "confidence": 90, "rationale": "r"}`, want: domain.VerdictSupported},
		{name: "lower case verdict", response: `{"verdict": "not found", "confidence": 0, "rationale": "r"}`, want: domain.VerdictNotFound},
		{name: "unknown verdict", response: `{"verdict": "LIKELY"}`, wantErr: true},
		{name: "numeric verdict", response: `{"verdict": 1}`, wantErr: true},
		{name: "no json", response: "SUPPORTED", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseJudgment(tt.response)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Verdict)
		})
	}
}
