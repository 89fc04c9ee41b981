// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package signals

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAnalyzer(t *testing.T) (*Analyzer, *Store) {
	t.Helper()

	store := newTestStore(t)
	analyzer, err := NewAnalyzer(store, 4)
	require.NoError(t, err)
	return analyzer, store
}

func TestAnalyzer_Analyze(t *testing.T) {
	analyzer, store := newTestAnalyzer(t)
	ctx := context.Background()
	uploaded := time.Now().UTC().Add(-12 * time.Hour)

	register := func(id string) {
		t.Helper()
		_, err := store.Register(ctx, id, "hook_fast_cut", uploaded)
		require.NoError(t, err)
	}
	record := func(id string, impressions, clicks, conversions int64) {
		t.Helper()
		_, _, err := store.Record(ctx, id, impressions, clicks, conversions, uploaded.Add(10*time.Hour))
		require.NoError(t, err)
	}

	t.Run("below sample floor is insufficient regardless of rates", func(t *testing.T) {
		// 300 impressions against the 24h window's 500 minimum. The
		// rates are excellent and must not matter.
		register("cr_thin")
		record("cr_thin", 300, 60, 20)

		result, err := analyzer.Analyze(ctx, "cr_thin")
		require.NoError(t, err)
		assert.Equal(t, VerdictInsufficientData, result.Verdict)
		assert.Equal(t, "24h", result.WindowLabel)
	})

	t.Run("strong when both rates clear thresholds", func(t *testing.T) {
		// CTR 0.03, CVR 0.10 against 24h thresholds 0.015 / 0.02.
		register("cr_strong")
		record("cr_strong", 2000, 60, 6)

		result, err := analyzer.Analyze(ctx, "cr_strong")
		require.NoError(t, err)
		assert.Equal(t, VerdictStrong, result.Verdict)
		assert.InDelta(t, 0.03, result.CTR, 1e-9)
		assert.InDelta(t, 0.10, result.CVR, 1e-9)
	})

	t.Run("weak when one rate misses", func(t *testing.T) {
		// CTR 0.03 clears, CVR 0.01 misses the 0.02 threshold.
		register("cr_weak")
		record("cr_weak", 10000, 300, 3)

		result, err := analyzer.Analyze(ctx, "cr_weak")
		require.NoError(t, err)
		assert.Equal(t, VerdictWeak, result.Verdict)
	})

	t.Run("zero clicks means zero cvr, weak", func(t *testing.T) {
		register("cr_noclick")
		record("cr_noclick", 5000, 0, 0)

		result, err := analyzer.Analyze(ctx, "cr_noclick")
		require.NoError(t, err)
		assert.Equal(t, VerdictWeak, result.Verdict)
		assert.Zero(t, result.CVR)
	})

	t.Run("no snapshots classifies insufficient", func(t *testing.T) {
		register("cr_silent")

		result, err := analyzer.Analyze(ctx, "cr_silent")
		require.NoError(t, err)
		assert.Equal(t, VerdictInsufficientData, result.Verdict)
	})

	t.Run("unknown creative", func(t *testing.T) {
		_, err := analyzer.Analyze(ctx, "cr_missing")
		assert.ErrorIs(t, err, ErrCreativeNotFound)
	})
}

// TestAnalyzer_BulkAnalyze_Isolation checks that one unknown id never
// poisons the verdicts of the known ids in the same batch.
func TestAnalyzer_BulkAnalyze_Isolation(t *testing.T) {
	analyzer, store := newTestAnalyzer(t)
	ctx := context.Background()
	uploaded := time.Now().UTC().Add(-12 * time.Hour)

	_, err := store.Register(ctx, "cr_a", "p1", uploaded)
	require.NoError(t, err)
	_, _, err = store.Record(ctx, "cr_a", 2000, 60, 6, uploaded.Add(10*time.Hour))
	require.NoError(t, err)

	_, err = store.Register(ctx, "cr_b", "p2", uploaded)
	require.NoError(t, err)
	_, _, err = store.Record(ctx, "cr_b", 300, 10, 1, uploaded.Add(10*time.Hour))
	require.NoError(t, err)

	items := analyzer.BulkAnalyze(ctx, []string{"cr_a", "cr_ghost", "cr_b"})
	require.Len(t, items, 3)

	assert.NoError(t, items[0].Err)
	assert.Equal(t, VerdictStrong, items[0].Result.Verdict)

	assert.ErrorIs(t, items[1].Err, ErrCreativeNotFound)
	assert.Equal(t, "cr_ghost", items[1].CreativeID)

	assert.NoError(t, items[2].Err)
	assert.Equal(t, VerdictInsufficientData, items[2].Result.Verdict)
}

func TestAnalyzer_BulkAnalyze_Empty(t *testing.T) {
	analyzer, _ := newTestAnalyzer(t)
	assert.Empty(t, analyzer.BulkAnalyze(context.Background(), nil))
}
