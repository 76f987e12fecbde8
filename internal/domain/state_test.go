package domain

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_Advance(t *testing.T) {
	t.Run("walks every phase in order", func(t *testing.T) {
		run := NewRun("sess-1", time.Now())
		require.Equal(t, PhaseInit, run.Phase())

		for _, next := range []Phase{PhaseClaimExtraction, PhaseClaimProcessing, PhaseAggregation, PhasePersist} {
			require.NoError(t, run.Advance(next))
			assert.Equal(t, next, run.Phase())
		}
		assert.True(t, run.Phase().Terminal())
	})

	t.Run("rejects skipping a phase", func(t *testing.T) {
		run := NewRun("sess-2", time.Now())

		err := run.Advance(PhaseAggregation)

		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidPhaseTransition)
		var pe *PhaseError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, PhaseInit, pe.From)
		assert.Equal(t, PhaseAggregation, pe.To)
		assert.Equal(t, PhaseInit, run.Phase())
	})

	t.Run("rejects moving backward", func(t *testing.T) {
		run := NewRun("sess-3", time.Now())
		require.NoError(t, run.Advance(PhaseClaimExtraction))
		require.NoError(t, run.Advance(PhaseClaimProcessing))

		assert.ErrorIs(t, run.Advance(PhaseClaimExtraction), ErrInvalidPhaseTransition)
	})

	t.Run("advance cannot enter failed", func(t *testing.T) {
		run := NewRun("sess-4", time.Now())
		for _, next := range []Phase{PhaseClaimExtraction, PhaseClaimProcessing, PhaseAggregation, PhasePersist} {
			require.NoError(t, run.Advance(next))
		}
		assert.ErrorIs(t, run.Advance(PhaseFailed), ErrInvalidPhaseTransition)
	})
}

func TestRun_Fail(t *testing.T) {
	t.Run("records the cause", func(t *testing.T) {
		cause := errors.New("extraction failed")
		run := NewRun("sess-5", time.Now())
		require.NoError(t, run.Advance(PhaseClaimExtraction))

		require.NoError(t, run.Fail(cause))

		assert.Equal(t, PhaseFailed, run.Phase())
		assert.Equal(t, cause, run.Failure())
		assert.ErrorIs(t, run.Advance(PhaseClaimProcessing), ErrInvalidPhaseTransition)
	})

	t.Run("cannot fail a persisted run", func(t *testing.T) {
		run := NewRun("sess-6", time.Now())
		for _, next := range []Phase{PhaseClaimExtraction, PhaseClaimProcessing, PhaseAggregation, PhasePersist} {
			require.NoError(t, run.Advance(next))
		}

		assert.ErrorIs(t, run.Fail(errors.New("late")), ErrInvalidPhaseTransition)
		assert.Nil(t, run.Failure())
	})
}

func TestRun_ConcurrentReads(t *testing.T) {
	run := NewRun("sess-7", time.Now())

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = run.Phase()
			_ = run.Failure()
		}()
	}
	require.NoError(t, run.Advance(PhaseClaimExtraction))
	wg.Wait()

	assert.Equal(t, PhaseClaimExtraction, run.Phase())
	assert.Equal(t, "sess-7", run.SessionID())
}

func TestPhase_String(t *testing.T) {
	assert.Equal(t, "claim_processing", PhaseClaimProcessing.String())
	assert.Equal(t, "phase(42)", Phase(42).String())
}
