// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package trainer performs periodic model maintenance on the arm store.
//
// A training pass prunes stale low-data arms and optionally re-fits the
// creation prior by empirical Bayes over the surviving posteriors. The
// pass takes no global lock: pruning deletes arm by arm through the
// store's per-key critical sections, so concurrent outcome recording is
// never starved.
package trainer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AdPulse/services/bandit/arms"
)

// Config controls training behavior.
type Config struct {
	// PruneFloor is the pulls count below which an arm is a pruning
	// candidate.
	PruneFloor int64 `yaml:"prune_floor"`

	// Retention is how long a below-floor arm must sit without an
	// update before it is pruned.
	Retention time.Duration `yaml:"retention"`

	// RefitEnabled turns on empirical-Bayes prior re-fitting.
	RefitEnabled bool `yaml:"refit_enabled"`

	// RefitMinPulls is the minimum pulls for an arm to contribute to
	// the re-fit.
	RefitMinPulls int64 `yaml:"refit_min_pulls"`
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.PruneFloor < 0 {
		return fmt.Errorf("prune floor %d must be non-negative", c.PruneFloor)
	}
	if c.Retention < 0 {
		return fmt.Errorf("retention %s must be non-negative", c.Retention)
	}
	if c.RefitMinPulls < 0 {
		return fmt.Errorf("refit min pulls %d must be non-negative", c.RefitMinPulls)
	}
	return nil
}

// Summary reports what one training pass did.
type Summary struct {
	// ActivePatterns is the arm count after pruning.
	ActivePatterns int `json:"active_patterns"`

	// Pruned is how many stale arms were removed.
	Pruned int `json:"pruned"`

	// PriorRefit reports whether a new prior was fitted and persisted.
	PriorRefit bool `json:"prior_refit"`

	// Prior is the creation prior in effect after the pass.
	Prior arms.Prior `json:"prior"`

	// StartedAt and Duration time the pass.
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// Trainer runs maintenance passes against the arm store.
//
// Thread Safety: Safe for concurrent use, though passes are normally
// serialized by the Runner. Two overlapping passes are harmless: both
// converge on the same prunes and the same prior.
type Trainer struct {
	store  *arms.Store
	cfg    Config
	logger *slog.Logger
}

// New creates a trainer.
func New(store *arms.Store, cfg Config, logger *slog.Logger) (*Trainer, error) {
	if store == nil {
		return nil, errors.New("store must not be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Trainer{store: store, cfg: cfg, logger: logger}, nil
}

// Train runs one maintenance pass.
//
// Description:
//
//	Prunes arms whose pulls stayed below the floor for longer than the
//	retention window, then re-fits the creation prior over the
//	survivors when enabled. Re-running without new data is idempotent:
//	the same arms survive, nothing further is pruned, and the re-fit
//	reproduces the same prior.
//
// Outputs:
//   - Summary: Counts, prior, and timing for the pass.
//   - error: arms.ErrTimeout or a storage error. A pass that prunes
//     some arms and then fails reports the error; the completed prunes
//     stand.
func (t *Trainer) Train(ctx context.Context) (Summary, error) {
	ctx, span := otel.Tracer("bandit").Start(ctx, "trainer.Train",
		trace.WithAttributes(attribute.Int64("prune_floor", t.cfg.PruneFloor)),
	)
	defer span.End()

	started := time.Now().UTC()

	all, err := t.store.List(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("list arms: %w", err)
	}

	cutoff := started.Add(-t.cfg.Retention)
	survivors := make([]arms.Arm, 0, len(all))
	pruned := 0
	for _, arm := range all {
		if arm.Pulls < t.cfg.PruneFloor && arm.UpdatedAt.Before(cutoff) {
			// The snapshot decision is re-checked inside the delete's
			// critical section: an outcome that committed since the
			// List keeps the arm alive.
			deleted, err := t.store.DeleteIf(ctx, arm.PatternID, t.cfg.PruneFloor, cutoff)
			if err != nil {
				return Summary{}, fmt.Errorf("prune arm %q: %w", arm.PatternID, err)
			}
			if deleted {
				t.logger.Debug("pruned stale arm",
					"pattern_id", arm.PatternID,
					"pulls", arm.Pulls,
					"updated_at", arm.UpdatedAt,
				)
				pruned++
				continue
			}
		}
		survivors = append(survivors, arm)
	}

	refit := false
	if t.cfg.RefitEnabled {
		if prior, ok := fitPrior(survivors, t.cfg.RefitMinPulls); ok {
			if err := t.store.SetPrior(ctx, prior); err != nil {
				return Summary{}, fmt.Errorf("persist prior: %w", err)
			}
			refit = true
		}
	}

	prior, err := t.store.Prior(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("read prior: %w", err)
	}

	summary := Summary{
		ActivePatterns: len(survivors),
		Pruned:         pruned,
		PriorRefit:     refit,
		Prior:          prior,
		StartedAt:      started,
		Duration:       time.Since(started),
	}

	t.logger.Info("training pass complete",
		"active_patterns", summary.ActivePatterns,
		"pruned", summary.Pruned,
		"prior_refit", summary.PriorRefit,
		"alpha0", summary.Prior.Alpha0,
		"beta0", summary.Prior.Beta0,
		"duration", summary.Duration,
	)
	return summary, nil
}

// fitPrior estimates Beta(alpha0, beta0) by method of moments over the
// posterior means of arms with sufficient pulls.
//
// The moment match needs at least two contributing arms and non-zero
// variance between their means; otherwise there is nothing to fit and
// the current prior stands.
func fitPrior(all []arms.Arm, minPulls int64) (arms.Prior, bool) {
	means := make([]float64, 0, len(all))
	for _, arm := range all {
		if arm.Pulls >= minPulls {
			means = append(means, arm.PosteriorMean())
		}
	}
	if len(means) < 2 {
		return arms.Prior{}, false
	}

	var sum float64
	for _, m := range means {
		sum += m
	}
	mean := sum / float64(len(means))

	var ss float64
	for _, m := range means {
		d := m - mean
		ss += d * d
	}
	variance := ss / float64(len(means)-1)
	if variance <= 0 || mean <= 0 || mean >= 1 {
		return arms.Prior{}, false
	}

	// Beta moment match: alpha+beta = m(1-m)/v - 1.
	common := mean*(1-mean)/variance - 1
	if common <= 0 {
		return arms.Prior{}, false
	}

	prior := arms.Prior{
		Alpha0: max(1, mean*common),
		Beta0:  max(1, (1-mean)*common),
	}
	return prior, true
}
