// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package advisor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AdPulse/services/bandit/arms"
	"github.com/AleutianAI/AdPulse/services/bandit/engine"
	"github.com/AleutianAI/AdPulse/services/bandit/signals"
	"github.com/AleutianAI/AdPulse/services/bandit/storage/badgerdb"
)

type fixture struct {
	advisor  *Advisor
	arms     *arms.Store
	signals  *signals.Store
	uploaded time.Time
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()

	db, err := badgerdb.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	armStore, err := arms.NewStore(db, arms.UniformPrior())
	require.NoError(t, err)
	eng, err := engine.New(armStore, engine.Config{})
	require.NoError(t, err)

	sigStore, err := signals.NewStore(db, signals.DefaultWindows())
	require.NoError(t, err)
	analyzer, err := signals.NewAnalyzer(sigStore, 4)
	require.NoError(t, err)

	adv, err := New(eng, analyzer, cfg)
	require.NoError(t, err)

	return &fixture{
		advisor:  adv,
		arms:     armStore,
		signals:  sigStore,
		uploaded: time.Now().UTC().Add(-12 * time.Hour),
	}
}

// seed registers the creative under the pattern and records one
// cumulative snapshot ten hours after upload.
func (f *fixture) seed(t *testing.T, patternID, creativeID string, impressions, clicks, conversions int64) {
	t.Helper()
	ctx := context.Background()

	_, err := f.signals.Register(ctx, creativeID, patternID, f.uploaded)
	require.NoError(t, err)
	_, _, err = f.signals.Record(ctx, creativeID, impressions, clicks, conversions, f.uploaded.Add(10*time.Hour))
	require.NoError(t, err)
}

func TestNew(t *testing.T) {
	t.Run("nil engine", func(t *testing.T) {
		_, err := New(nil, nil, Config{})
		assert.Error(t, err)
	})

	t.Run("invalid threshold", func(t *testing.T) {
		_, err := New(nil, nil, Config{ScaleThreshold: 1.5})
		assert.Error(t, err)
	})
}

func TestAdvisor_Recommend(t *testing.T) {
	ctx := context.Background()
	cfg := Config{ScaleThreshold: 0.30, KillMinPulls: 50}

	t.Run("scale on strong verdict and high posterior", func(t *testing.T) {
		f := newFixture(t, cfg)
		// Strong signal: CTR 0.03, CVR 0.10 over 2000 impressions.
		f.seed(t, "hook_winner", "cr_winner", 2000, 60, 6)
		// Posterior mean ~0.40 over 100 pulls, above the 0.30 threshold.
		_, err := f.arms.RecordOutcome(ctx, "hook_winner", 40, 100, true)
		require.NoError(t, err)

		rec, err := f.advisor.Recommend(ctx, "hook_winner", "cr_winner")
		require.NoError(t, err)
		assert.Equal(t, DecisionScale, rec.Decision)
		assert.Equal(t, signals.VerdictStrong, rec.Verdict)
	})

	t.Run("hold on strong verdict but low posterior", func(t *testing.T) {
		f := newFixture(t, cfg)
		f.seed(t, "hook_meh", "cr_meh", 2000, 60, 6)
		_, err := f.arms.RecordOutcome(ctx, "hook_meh", 10, 100, true)
		require.NoError(t, err)

		rec, err := f.advisor.Recommend(ctx, "hook_meh", "cr_meh")
		require.NoError(t, err)
		assert.Equal(t, DecisionHold, rec.Decision)
	})

	t.Run("kill on weak verdict with enough pulls", func(t *testing.T) {
		f := newFixture(t, cfg)
		// Weak signal: CVR 0.01 misses the 0.02 threshold.
		f.seed(t, "hook_dud", "cr_dud", 10000, 300, 3)
		_, err := f.arms.RecordOutcome(ctx, "hook_dud", 5, 100, true)
		require.NoError(t, err)

		rec, err := f.advisor.Recommend(ctx, "hook_dud", "cr_dud")
		require.NoError(t, err)
		assert.Equal(t, DecisionKill, rec.Decision)
	})

	t.Run("hold on weak verdict without enough pulls", func(t *testing.T) {
		f := newFixture(t, cfg)
		f.seed(t, "hook_young", "cr_young", 10000, 300, 3)
		_, err := f.arms.RecordOutcome(ctx, "hook_young", 1, 10, true)
		require.NoError(t, err)

		rec, err := f.advisor.Recommend(ctx, "hook_young", "cr_young")
		require.NoError(t, err)
		assert.Equal(t, DecisionHold, rec.Decision)
	})

	t.Run("hold on insufficient data verdict", func(t *testing.T) {
		f := newFixture(t, cfg)
		// 300 impressions is below the 500 floor.
		f.seed(t, "hook_thin", "cr_thin", 300, 60, 20)
		_, err := f.arms.RecordOutcome(ctx, "hook_thin", 90, 100, true)
		require.NoError(t, err)

		rec, err := f.advisor.Recommend(ctx, "hook_thin", "cr_thin")
		require.NoError(t, err)
		assert.Equal(t, DecisionHold, rec.Decision)
		assert.Equal(t, signals.VerdictInsufficientData, rec.Verdict)
	})

	t.Run("insufficient data decision when arm is absent", func(t *testing.T) {
		f := newFixture(t, cfg)
		f.seed(t, "hook_unarmed", "cr_unarmed", 2000, 60, 6)

		rec, err := f.advisor.Recommend(ctx, "hook_unarmed", "cr_unarmed")
		require.NoError(t, err)
		assert.Equal(t, DecisionInsufficientData, rec.Decision)
		assert.Contains(t, rec.Rationale, "hook_unarmed")
	})

	t.Run("unknown creative is an error", func(t *testing.T) {
		f := newFixture(t, cfg)

		_, err := f.advisor.Recommend(ctx, "any_pattern", "cr_ghost")
		assert.ErrorIs(t, err, signals.ErrCreativeNotFound)
	})
}

// TestAdvisor_Recommend_Deterministic checks the decision is a pure
// function of its inputs.
func TestAdvisor_Recommend_Deterministic(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{ScaleThreshold: 0.30, KillMinPulls: 50})

	f.seed(t, "hook_stable", "cr_stable", 2000, 60, 6)
	_, err := f.arms.RecordOutcome(ctx, "hook_stable", 40, 100, true)
	require.NoError(t, err)

	first, err := f.advisor.Recommend(ctx, "hook_stable", "cr_stable")
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		again, err := f.advisor.Recommend(ctx, "hook_stable", "cr_stable")
		require.NoError(t, err)
		assert.Equal(t, first.Decision, again.Decision)
		assert.Equal(t, first.Rationale, again.Rationale)
	}
}

func TestAdvisor_RationaleEnumeratesFactors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{ScaleThreshold: 0.30, KillMinPulls: 50})

	f.seed(t, "hook_audit", "cr_audit", 2000, 60, 6)
	_, err := f.arms.RecordOutcome(ctx, "hook_audit", 40, 100, true)
	require.NoError(t, err)

	rec, err := f.advisor.Recommend(ctx, "hook_audit", "cr_audit")
	require.NoError(t, err)

	assert.Contains(t, rec.Rationale, "verdict=")
	assert.Contains(t, rec.Rationale, "posterior_mean=")
	assert.Contains(t, rec.Rationale, "ci_width=")
	assert.Contains(t, rec.Rationale, "pulls=")
}
