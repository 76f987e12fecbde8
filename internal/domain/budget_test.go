package domain

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUsageTracker_Reserve(t *testing.T) {
	t.Run("unlimited budget never rejects", func(t *testing.T) {
		tracker := NewUsageTracker()
		for range 100 {
			require.NoError(t, tracker.Reserve(Budget{}))
			tracker.AddTokens(1000)
		}
		assert.Equal(t, Usage{Tokens: 100_000, Calls: 100}, tracker.Snapshot())
		assert.NoError(t, tracker.Exceeded())
	})

	t.Run("call limit", func(t *testing.T) {
		tracker := NewUsageTracker()
		budget := Budget{MaxCalls: 2}

		require.NoError(t, tracker.Reserve(budget))
		require.NoError(t, tracker.Reserve(budget))
		err := tracker.Reserve(budget)

		var be *BudgetExceededError
		require.ErrorAs(t, err, &be)
		assert.Equal(t, "calls", be.LimitType)
		assert.Equal(t, int64(2), be.Limit)
		assert.Equal(t, int64(2), be.Used)
		assert.Equal(t, int64(2), tracker.Snapshot().Calls, "rejected call is not counted")
		assert.ErrorIs(t, tracker.Exceeded(), ErrBudgetExceeded)
	})

	t.Run("token limit is checked before the call", func(t *testing.T) {
		tracker := NewUsageTracker()
		budget := Budget{MaxTokens: 500}

		require.NoError(t, tracker.Reserve(budget))
		tracker.AddTokens(600)
		err := tracker.Reserve(budget)

		var be *BudgetExceededError
		require.ErrorAs(t, err, &be)
		assert.Equal(t, "tokens", be.LimitType)
		assert.Equal(t, int64(600), be.Used)
	})

	t.Run("first failure is kept", func(t *testing.T) {
		tracker := NewUsageTracker()
		require.NoError(t, tracker.Reserve(Budget{MaxCalls: 1}))
		first := tracker.Reserve(Budget{MaxCalls: 1})
		tracker.AddTokens(10)
		_ = tracker.Reserve(Budget{MaxTokens: 5})

		assert.Same(t, first, tracker.Exceeded())
	})

	t.Run("concurrent reservations respect the call limit", func(t *testing.T) {
		tracker := NewUsageTracker()
		budget := Budget{MaxCalls: 25}

		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			accepted int
		)
		for range 100 {
			wg.Go(func() {
				if tracker.Reserve(budget) == nil {
					mu.Lock()
					accepted++
					mu.Unlock()
				}
			})
		}
		wg.Wait()

		assert.Equal(t, 25, accepted)
		assert.Equal(t, int64(25), tracker.Snapshot().Calls)
	})
}

func TestUsageTracker_IgnoresNegativeTokens(t *testing.T) {
	tracker := NewUsageTracker()
	tracker.AddTokens(-5)
	assert.Zero(t, tracker.Snapshot().Tokens)
}

func TestUsageContext(t *testing.T) {
	assert.Nil(t, UsageFromContext(context.Background()))

	tracker := NewUsageTracker()
	ctx := ContextWithUsage(context.Background(), tracker)
	assert.Same(t, tracker, UsageFromContext(ctx))
}

func TestBudget_Unlimited(t *testing.T) {
	assert.True(t, Budget{}.Unlimited())
	assert.False(t, Budget{MaxCalls: 1}.Unlimited())
	assert.False(t, Budget{MaxTokens: 1}.Unlimited())
}
