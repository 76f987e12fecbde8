package middleware

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-verifier/infrastructure/llm"
	"github.com/ahrav/go-verifier/internal/domain"
)

// recordingMetrics implements ports.MetricsCollector and keeps every call.
type recordingMetrics struct {
	mu        sync.Mutex
	counters  map[string]float64
	gauges    map[string]float64
	latencies map[string][]time.Duration
	histos    map[string][]float64
	labels    map[string][]map[string]string
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{
		counters:  make(map[string]float64),
		gauges:    make(map[string]float64),
		latencies: make(map[string][]time.Duration),
		histos:    make(map[string][]float64),
		labels:    make(map[string][]map[string]string),
	}
}

func (m *recordingMetrics) RecordLatency(op string, d time.Duration, labels map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latencies[op] = append(m.latencies[op], d)
	m.labels[op] = append(m.labels[op], labels)
}

func (m *recordingMetrics) RecordCounter(metric string, v float64, labels map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[metric] += v
	m.labels[metric] = append(m.labels[metric], labels)
}

func (m *recordingMetrics) RecordGauge(metric string, v float64, _ map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gauges[metric] = v
}

func (m *recordingMetrics) RecordHistogram(metric string, v float64, _ map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.histos[metric] = append(m.histos[metric], v)
}

// mockBudgetObserver implements BudgetObserver for testing.
type mockBudgetObserver struct {
	mu    sync.Mutex
	pre   []domain.Usage
	post  []domain.Usage
	errs  []error
	ctxOK bool
}

type observerCtxKey struct{}

func (m *mockBudgetObserver) PreCheck(ctx context.Context, usage domain.Usage, _ domain.Budget) context.Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pre = append(m.pre, usage)
	return context.WithValue(ctx, observerCtxKey{}, true)
}

func (m *mockBudgetObserver) PostCheck(ctx context.Context, usage domain.Usage, _ domain.Budget, _ time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.post = append(m.post, usage)
	m.errs = append(m.errs, err)
	m.ctxOK, _ = ctx.Value(observerCtxKey{}).(bool)
}

func runContext() (context.Context, *domain.UsageTracker) {
	tracker := domain.NewUsageTracker()
	return domain.ContextWithUsage(context.Background(), tracker), tracker
}

func TestBudgetManager_ChargesUsage(t *testing.T) {
	// Given a budget with room for the call.
	mock := llm.NewMockCoreLLM()
	metrics := newRecordingMetrics()
	client := llm.WrapCore(mock, nil, BudgetMiddleware(domain.Budget{MaxTokens: 1000, MaxCalls: 5}, WithBudgetMetrics(metrics)))
	ctx, tracker := runContext()

	// When two calls are made.
	for range 2 {
		_, err := client.Complete(ctx, "prompt", nil)
		require.NoError(t, err)
	}

	// Then both calls and their tokens are charged to the run.
	assert.Equal(t, domain.Usage{Tokens: 60, Calls: 2}, tracker.Snapshot())
	assert.Equal(t, 60.0, metrics.gauges[MetricBudgetTokensUsed])
	assert.Equal(t, 2.0, metrics.gauges[MetricBudgetCallsUsed])
	assert.Zero(t, metrics.counters[MetricBudgetExceeded])
}

func TestBudgetManager_RejectsOverCallLimit(t *testing.T) {
	mock := llm.NewMockCoreLLM()
	metrics := newRecordingMetrics()
	client := llm.WrapCore(mock, nil, BudgetMiddleware(domain.Budget{MaxCalls: 1}, WithBudgetMetrics(metrics)))
	ctx, tracker := runContext()

	_, err := client.Complete(ctx, "first", nil)
	require.NoError(t, err)

	_, err = client.Complete(ctx, "second", nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrBudgetExceeded)
	assert.Equal(t, 1, mock.GetCallCount(), "rejected call never reaches the provider")
	assert.Equal(t, 1.0, metrics.counters[MetricBudgetExceeded])
	assert.Equal(t, "calls", metrics.labels[MetricBudgetExceeded][0]["limit_type"])
	assert.ErrorIs(t, tracker.Exceeded(), domain.ErrBudgetExceeded)
}

func TestBudgetManager_RejectsSpentTokens(t *testing.T) {
	mock := llm.NewMockCoreLLM()
	mock.TokensIn, mock.TokensOut = 400, 200
	client := llm.WrapCore(mock, nil, BudgetMiddleware(domain.Budget{MaxTokens: 500}))
	ctx, _ := runContext()

	_, err := client.Complete(ctx, "first", nil)
	require.NoError(t, err, "a call may overshoot the token limit")

	_, err = client.Complete(ctx, "second", nil)
	var be *domain.BudgetExceededError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, "tokens", be.LimitType)
	assert.Equal(t, int64(600), be.Used)
}

func TestBudgetManager_PassesThroughWithoutTracker(t *testing.T) {
	mock := llm.NewMockCoreLLM()
	client := llm.WrapCore(mock, nil, BudgetMiddleware(domain.Budget{MaxCalls: 1}))

	for range 3 {
		_, err := client.Complete(context.Background(), "prompt", nil)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, mock.GetCallCount())
}

func TestBudgetManager_RunsAreIsolated(t *testing.T) {
	mock := llm.NewMockCoreLLM()
	client := llm.WrapCore(mock, nil, BudgetMiddleware(domain.Budget{MaxCalls: 1}))

	first, _ := runContext()
	second, _ := runContext()

	_, err := client.Complete(first, "a", nil)
	require.NoError(t, err)
	_, err = client.Complete(second, "b", nil)
	require.NoError(t, err, "each run has its own allowance")
}

func TestBudgetManager_ProviderErrorStillCountsCall(t *testing.T) {
	mock := llm.NewMockCoreLLM()
	mock.Error = errors.New("provider down")
	client := llm.WrapCore(mock, nil, BudgetMiddleware(domain.Budget{MaxCalls: 3}))
	ctx, tracker := runContext()

	_, err := client.Complete(ctx, "prompt", nil)

	require.Error(t, err)
	assert.Equal(t, int64(1), tracker.Snapshot().Calls)
	assert.Zero(t, tracker.Snapshot().Tokens)
}

func TestBudgetManager_Observer(t *testing.T) {
	mock := llm.NewMockCoreLLM()
	observer := &mockBudgetObserver{}
	client := llm.WrapCore(mock, nil, BudgetMiddleware(domain.Budget{MaxCalls: 1}, WithBudgetObserver(observer)))
	ctx, _ := runContext()

	_, err := client.Complete(ctx, "ok", nil)
	require.NoError(t, err)
	_, err = client.Complete(ctx, "over", nil)
	require.Error(t, err)

	require.Len(t, observer.pre, 2)
	require.Len(t, observer.post, 2)
	assert.Equal(t, domain.Usage{}, observer.pre[0])
	assert.Equal(t, domain.Usage{Tokens: 30, Calls: 1}, observer.post[0])
	assert.NoError(t, observer.errs[0])
	assert.ErrorIs(t, observer.errs[1], domain.ErrBudgetExceeded)
	assert.True(t, observer.ctxOK, "PostCheck receives the context returned by PreCheck")
}

func TestBudgetManager_ConcurrentCallsHonorLimit(t *testing.T) {
	mock := llm.NewMockCoreLLM()
	mock.ResponseDelay = time.Millisecond
	client := llm.WrapCore(mock, nil, BudgetMiddleware(domain.Budget{MaxCalls: 10}))
	ctx, tracker := runContext()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		rejected int
	)
	for range 40 {
		wg.Go(func() {
			if _, err := client.Complete(ctx, "p", nil); errors.Is(err, domain.ErrBudgetExceeded) {
				mu.Lock()
				rejected++
				mu.Unlock()
			}
		})
	}
	wg.Wait()

	assert.Equal(t, 30, rejected)
	assert.Equal(t, 10, mock.GetCallCount())
	assert.Equal(t, int64(10), tracker.Snapshot().Calls)
}

func TestBudgetManager_Validate(t *testing.T) {
	tests := []struct {
		name    string
		budget  domain.Budget
		wantErr string
	}{
		{name: "unlimited", budget: domain.Budget{}},
		{name: "limits", budget: domain.Budget{MaxTokens: 10, MaxCalls: 2}},
		{name: "negative tokens", budget: domain.Budget{MaxTokens: -1}, wantErr: "max_tokens cannot be negative"},
		{name: "negative calls", budget: domain.Budget{MaxCalls: -1}, wantErr: "max_calls cannot be negative"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bm := BudgetMiddleware(tt.budget)(llm.NewMockCoreLLM()).(*BudgetManager)
			err := bm.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestBudgetManager_DelegatesModel(t *testing.T) {
	mock := llm.NewMockCoreLLM()
	bm := BudgetMiddleware(domain.Budget{})(mock)

	bm.SetModel("other")
	assert.Equal(t, "other", bm.GetModel())
}
