// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AdPulse/services/bandit/arms"
	"github.com/AleutianAI/AdPulse/services/bandit/storage/badgerdb"
)

func newTestEngine(t *testing.T, cfg Config) (*Engine, *arms.Store) {
	t.Helper()

	db, err := badgerdb.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store, err := arms.NewStore(db, arms.UniformPrior())
	require.NoError(t, err)

	eng, err := New(store, cfg)
	require.NoError(t, err)
	return eng, store
}

func TestNew(t *testing.T) {
	t.Run("nil store", func(t *testing.T) {
		_, err := New(nil, Config{})
		assert.Error(t, err)
	})

	t.Run("zero level defaults to 0.95", func(t *testing.T) {
		eng, _ := newTestEngine(t, Config{})
		assert.Equal(t, 0.95, eng.cfg.CredibleLevel)
	})
}

func TestEngine_SelectTopK_Validation(t *testing.T) {
	eng, _ := newTestEngine(t, Config{})
	ctx := context.Background()

	_, err := eng.SelectTopK(ctx, nil, 3, nil)
	assert.ErrorIs(t, err, ErrNoCandidates)

	_, err = eng.SelectTopK(ctx, []string{"a"}, 0, nil)
	assert.ErrorIs(t, err, ErrInvalidK)
}

func TestEngine_SelectTopK_Deterministic(t *testing.T) {
	eng, store := newTestEngine(t, Config{})
	ctx := context.Background()

	_, err := store.RecordOutcome(ctx, "hook_fast_cut", 80, 100, true)
	require.NoError(t, err)
	_, err = store.RecordOutcome(ctx, "hook_meme", 20, 100, true)
	require.NoError(t, err)
	_, err = store.RecordOutcome(ctx, "hook_ugc", 50, 100, true)
	require.NoError(t, err)

	candidates := []string{"hook_fast_cut", "hook_meme", "hook_ugc"}

	first, err := eng.SelectTopK(ctx, candidates, 2, NewSeededRNG(42))
	require.NoError(t, err)
	require.Len(t, first, 2)

	second, err := eng.SelectTopK(ctx, candidates, 2, NewSeededRNG(42))
	require.NoError(t, err)
	assert.Equal(t, first, second, "same seed must produce the same ranking")
}

func TestEngine_SelectTopK_KCappedAtCandidates(t *testing.T) {
	eng, _ := newTestEngine(t, Config{})

	ranked, err := eng.SelectTopK(context.Background(), []string{"only_one"}, 10, NewSeededRNG(7))
	require.NoError(t, err)
	assert.Len(t, ranked, 1)
	assert.Equal(t, "only_one", ranked[0].PatternID)
}

func TestEngine_SelectTopK_UnknownCandidatesUsePrior(t *testing.T) {
	eng, _ := newTestEngine(t, Config{})

	ranked, err := eng.SelectTopK(context.Background(), []string{"never_seen"}, 1, NewSeededRNG(1))
	require.NoError(t, err)
	require.Len(t, ranked, 1)

	// Uniform prior: mean 0.5, zero pulls, wide interval.
	assert.Equal(t, 0.5, ranked[0].PosteriorMean)
	assert.Equal(t, int64(0), ranked[0].Pulls)
	assert.Greater(t, ranked[0].Interval.Width(), 0.5)
}

// TestEngine_SelectTopK_Exploration checks that a fresh arm still wins
// a non-trivial share of selections against a well-established better
// arm. That share is the posterior-variance exploration the sampler
// guarantees.
func TestEngine_SelectTopK_Exploration(t *testing.T) {
	eng, store := newTestEngine(t, Config{})
	ctx := context.Background()

	// Strong incumbent: mean ~0.70 over 1000 trials, tight posterior.
	_, err := store.RecordOutcome(ctx, "incumbent", 700, 1000, true)
	require.NoError(t, err)
	_, err = store.GetOrCreate(ctx, "newcomer", "")
	require.NoError(t, err)

	rng := NewSeededRNG(9001)
	const draws = 2000

	newcomerWins := 0
	for i := 0; i < draws; i++ {
		ranked, err := eng.SelectTopK(ctx, []string{"incumbent", "newcomer"}, 1, rng)
		require.NoError(t, err)
		if ranked[0].PatternID == "newcomer" {
			newcomerWins++
		}
	}

	// P(Beta(1,1) > 0.70) = 0.30 against a near-point-mass incumbent.
	assert.Greater(t, newcomerWins, draws/10, "fresh arm must keep being explored")
	assert.Less(t, newcomerWins, draws/2, "fresh arm must not dominate a 0.70 incumbent")
}

func TestEngine_Update(t *testing.T) {
	ctx := context.Background()

	t.Run("auto-create enabled", func(t *testing.T) {
		eng, _ := newTestEngine(t, Config{AutoCreateArms: true})

		arm, err := eng.Update(ctx, "lazy_pattern", 3, 10)
		require.NoError(t, err)
		assert.Equal(t, 4.0, arm.Alpha)
		assert.Equal(t, 8.0, arm.Beta)
	})

	t.Run("auto-create disabled", func(t *testing.T) {
		eng, _ := newTestEngine(t, Config{AutoCreateArms: false})

		_, err := eng.Update(ctx, "lazy_pattern", 3, 10)
		assert.ErrorIs(t, err, arms.ErrPatternNotFound)
	})
}

func TestEngine_Posterior(t *testing.T) {
	eng, store := newTestEngine(t, Config{CredibleLevel: 0.99})
	ctx := context.Background()

	_, err := store.RecordOutcome(ctx, "pattern_p", 40, 100, true)
	require.NoError(t, err)

	p, err := eng.Posterior(ctx, "pattern_p")
	require.NoError(t, err)
	assert.InDelta(t, 0.4020, p.Mean, 0.0001)
	assert.Equal(t, int64(100), p.Pulls)
	assert.Equal(t, 0.99, p.Interval.Level)
	assert.Less(t, p.Interval.Lower, p.Mean)
	assert.Greater(t, p.Interval.Upper, p.Mean)

	_, err = eng.Posterior(ctx, "missing")
	assert.ErrorIs(t, err, arms.ErrPatternNotFound)
}

func TestEngine_TopByPosterior(t *testing.T) {
	eng, store := newTestEngine(t, Config{})
	ctx := context.Background()

	_, err := store.RecordOutcome(ctx, "mid", 50, 100, true)
	require.NoError(t, err)
	_, err = store.RecordOutcome(ctx, "best", 80, 100, true)
	require.NoError(t, err)
	_, err = store.RecordOutcome(ctx, "sparse", 3, 4, true)
	require.NoError(t, err)

	t.Run("ranks by posterior mean", func(t *testing.T) {
		top, err := eng.TopByPosterior(ctx, 10, 0)
		require.NoError(t, err)
		require.Len(t, top, 3)
		assert.Equal(t, "best", top[0].PatternID)
	})

	t.Run("min pulls filter", func(t *testing.T) {
		top, err := eng.TopByPosterior(ctx, 10, 50)
		require.NoError(t, err)
		require.Len(t, top, 2)
		for _, p := range top {
			assert.GreaterOrEqual(t, p.Pulls, int64(50))
		}
	})

	t.Run("n truncates", func(t *testing.T) {
		top, err := eng.TopByPosterior(ctx, 1, 0)
		require.NoError(t, err)
		require.Len(t, top, 1)
		assert.Equal(t, "best", top[0].PatternID)
	})

	t.Run("invalid n", func(t *testing.T) {
		_, err := eng.TopByPosterior(ctx, 0, 0)
		assert.ErrorIs(t, err, ErrInvalidK)
	})
}

func TestSampleBeta_Moments(t *testing.T) {
	rng := NewSeededRNG(1234)

	const n = 20000
	var sum float64
	for i := 0; i < n; i++ {
		sum += SampleBeta(rng, 41, 61)
	}
	mean := sum / n

	// Beta(41,61) has mean ~0.402 and sd ~0.048; the sample mean of
	// 20k draws lands well inside +-0.005.
	assert.InDelta(t, 0.402, mean, 0.005)
}

func TestBetaCredibleInterval(t *testing.T) {
	t.Run("clamped to unit interval", func(t *testing.T) {
		ci := BetaCredibleInterval(1, 1, 0.99)
		assert.GreaterOrEqual(t, ci.Lower, 0.0)
		assert.LessOrEqual(t, ci.Upper, 1.0)
	})

	t.Run("narrows with evidence", func(t *testing.T) {
		wide := BetaCredibleInterval(5, 5, 0.95)
		narrow := BetaCredibleInterval(500, 500, 0.95)
		assert.Greater(t, wide.Width(), narrow.Width())
	})

	t.Run("unsupported level falls back to 0.95", func(t *testing.T) {
		ci := BetaCredibleInterval(10, 10, 0.8)
		assert.Equal(t, 0.95, ci.Level)
	})
}
