// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package bandit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AdPulse/services/bandit/advisor"
	"github.com/AleutianAI/AdPulse/services/bandit/signals"
	"github.com/AleutianAI/AdPulse/services/bandit/storage/badgerdb"
)

func newTestService(t *testing.T, cfg Config) *Service {
	t.Helper()

	db, err := badgerdb.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	svc, err := NewService(db, cfg, nil)
	require.NoError(t, err)
	return svc
}

func TestNewService(t *testing.T) {
	t.Run("nil db", func(t *testing.T) {
		_, err := NewService(nil, DefaultConfig(), nil)
		assert.Error(t, err)
	})

	t.Run("invalid config aborts construction", func(t *testing.T) {
		db, err := badgerdb.OpenInMemory()
		require.NoError(t, err)
		defer db.Close()

		cfg := DefaultConfig()
		cfg.Objective = "nonsense"
		_, err = NewService(db, cfg, nil)
		assert.ErrorIs(t, err, ErrConfigInvalid)
	})
}

func TestService_RecordMetrics_CTR(t *testing.T) {
	svc := newTestService(t, DefaultConfig())
	ctx := context.Background()
	uploaded := time.Now().UTC().Add(-6 * time.Hour)

	_, err := svc.RegisterCreative(ctx, "cr_1", "hook_fast_cut", uploaded)
	require.NoError(t, err)

	t.Run("first report feeds full totals as the delta", func(t *testing.T) {
		resp, err := svc.RecordMetrics(ctx, RecordMetricsRequest{
			CreativeID:  "cr_1",
			Impressions: 1000,
			Clicks:      30,
			Conversions: 5,
		})
		require.NoError(t, err)

		assert.Equal(t, "hook_fast_cut", resp.PatternID)
		assert.Equal(t, ObjectiveCTR, resp.Objective)
		// ctr objective: successes = click delta, trials = impression delta.
		assert.Equal(t, 1.0+30, resp.Arm.Alpha)
		assert.Equal(t, 1.0+(1000-30), resp.Arm.Beta)
		assert.Equal(t, int64(1000), resp.Arm.Pulls)
	})

	t.Run("second report feeds the increment only", func(t *testing.T) {
		resp, err := svc.RecordMetrics(ctx, RecordMetricsRequest{
			CreativeID:  "cr_1",
			Impressions: 1500,
			Clicks:      50,
			Conversions: 9,
		})
		require.NoError(t, err)

		assert.Equal(t, signals.Delta{Impressions: 500, Clicks: 20, Conversions: 4}, resp.Delta)
		assert.Equal(t, int64(1500), resp.Arm.Pulls)
	})

	t.Run("replaying the same totals is a zero-delta no-op", func(t *testing.T) {
		resp, err := svc.RecordMetrics(ctx, RecordMetricsRequest{
			CreativeID:  "cr_1",
			Impressions: 1500,
			Clicks:      50,
			Conversions: 9,
		})
		require.NoError(t, err)
		assert.Equal(t, signals.Delta{}, resp.Delta)
		assert.Equal(t, int64(1500), resp.Arm.Pulls)
	})

	t.Run("unknown creative", func(t *testing.T) {
		_, err := svc.RecordMetrics(ctx, RecordMetricsRequest{CreativeID: "cr_ghost", Impressions: 1})
		assert.True(t, IsNotFound(err))
	})
}

func TestService_RecordMetrics_CVR(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Objective = ObjectiveCVR
	svc := newTestService(t, cfg)
	ctx := context.Background()

	_, err := svc.RegisterCreative(ctx, "cr_cvr", "hook_ugc", time.Now().UTC().Add(-6*time.Hour))
	require.NoError(t, err)

	resp, err := svc.RecordMetrics(ctx, RecordMetricsRequest{
		CreativeID:  "cr_cvr",
		Impressions: 1000,
		Clicks:      40,
		Conversions: 8,
	})
	require.NoError(t, err)

	// cvr objective: successes = conversion delta, trials = click delta.
	assert.Equal(t, 1.0+8, resp.Arm.Alpha)
	assert.Equal(t, 1.0+(40-8), resp.Arm.Beta)
	assert.Equal(t, int64(40), resp.Arm.Pulls)
}

func TestService_SelectionAndTopPatterns(t *testing.T) {
	svc := newTestService(t, DefaultConfig())
	ctx := context.Background()
	uploaded := time.Now().UTC().Add(-6 * time.Hour)

	seed := func(creative, pattern string, impressions, clicks int64) {
		t.Helper()
		_, err := svc.RegisterCreative(ctx, creative, pattern, uploaded)
		require.NoError(t, err)
		_, err = svc.RecordMetrics(ctx, RecordMetricsRequest{
			CreativeID:  creative,
			Impressions: impressions,
			Clicks:      clicks,
		})
		require.NoError(t, err)
	}
	seed("cr_a", "hook_a", 1000, 100)
	seed("cr_b", "hook_b", 1000, 20)

	t.Run("seeded selection is reproducible", func(t *testing.T) {
		seedVal := uint64(7)
		first, err := svc.RecommendNextPatterns(ctx, []string{"hook_a", "hook_b"}, 2, &seedVal)
		require.NoError(t, err)
		second, err := svc.RecommendNextPatterns(ctx, []string{"hook_a", "hook_b"}, 2, &seedVal)
		require.NoError(t, err)
		assert.Equal(t, first, second)
	})

	t.Run("top patterns ranked by posterior mean", func(t *testing.T) {
		top, err := svc.GetTopPatterns(ctx, 10, 0)
		require.NoError(t, err)
		require.Len(t, top, 2)
		assert.Equal(t, "hook_a", top[0].PatternID)
	})
}

func TestService_ScalingRecommendation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Scaling = ScalingConfig{ScaleThreshold: 0.05, KillMinPulls: 500}
	svc := newTestService(t, cfg)
	ctx := context.Background()

	_, err := svc.RegisterCreative(ctx, "cr_scale", "hook_scale", time.Now().UTC().Add(-6*time.Hour))
	require.NoError(t, err)
	_, err = svc.RecordMetrics(ctx, RecordMetricsRequest{
		CreativeID:  "cr_scale",
		Impressions: 2000,
		Clicks:      200,
		Conversions: 20,
	})
	require.NoError(t, err)

	rec, err := svc.RecommendScaling(ctx, "hook_scale", "cr_scale")
	require.NoError(t, err)
	// CTR 0.10 and CVR 0.10 are strong; posterior mean ~0.10 clears 0.05.
	assert.Equal(t, advisor.DecisionScale, rec.Decision)
}

func TestService_Train(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Trainer.PruneFloor = 50
	cfg.Trainer.Retention = 0
	svc := newTestService(t, cfg)
	ctx := context.Background()

	_, err := svc.RegisterCreative(ctx, "cr_tiny", "hook_tiny", time.Now().UTC())
	require.NoError(t, err)

	summary, err := svc.Train(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Pruned, "zero-pull arm below the floor is pruned")
	assert.Zero(t, summary.ActivePatterns)
}

func TestService_Reconfigure(t *testing.T) {
	svc := newTestService(t, DefaultConfig())
	ctx := context.Background()

	t.Run("invalid config leaves old set running", func(t *testing.T) {
		bad := DefaultConfig()
		bad.CredibleLevel = 0.5

		err := svc.Reconfigure(ctx, bad)
		assert.ErrorIs(t, err, ErrConfigInvalid)
		assert.Equal(t, ObjectiveCTR, svc.Config().Objective)
	})

	t.Run("valid config swaps atomically", func(t *testing.T) {
		next := DefaultConfig()
		next.Objective = ObjectiveCVR

		require.NoError(t, svc.Reconfigure(ctx, next))
		assert.Equal(t, ObjectiveCVR, svc.Config().Objective)
	})

	t.Run("state survives the swap", func(t *testing.T) {
		uploaded := time.Now().UTC().Add(-6 * time.Hour)
		_, err := svc.RegisterCreative(ctx, "cr_keep", "hook_keep", uploaded)
		require.NoError(t, err)

		prev := DefaultConfig()
		require.NoError(t, svc.Reconfigure(ctx, prev))

		// The creative registered before the swap is still visible.
		_, err = svc.AnalyzeEarlySignal(ctx, "cr_keep")
		assert.NoError(t, err)
	})
}

func TestService_Ready(t *testing.T) {
	svc := newTestService(t, DefaultConfig())
	assert.NoError(t, svc.Ready(context.Background()))
}
