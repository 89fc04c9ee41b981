// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package engine implements Thompson Sampling selection and posterior
// queries over the pattern-arm store.
//
// Selection draws one Beta(alpha, beta) sample per candidate and ranks
// by draw. Arms with few pulls have high posterior variance, so they
// surface often enough to be explored; no epsilon-greedy term exists.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AdPulse/services/bandit/arms"
)

// Sentinel errors for the engine package.
var (
	// ErrNoCandidates is returned when SelectTopK receives an empty
	// candidate set.
	ErrNoCandidates = errors.New("candidate set must not be empty")

	// ErrInvalidK is returned when k is not positive.
	ErrInvalidK = errors.New("k must be positive")
)

// -----------------------------------------------------------------------------
// Engine
// -----------------------------------------------------------------------------

// Config controls engine behavior.
type Config struct {
	// AutoCreateArms lazily creates an arm from the prior when Update
	// references an unknown pattern. When false, Update fails with
	// arms.ErrPatternNotFound.
	AutoCreateArms bool

	// CredibleLevel is the credible-interval level reported alongside
	// posterior means (0.90, 0.95, or 0.99).
	CredibleLevel float64
}

// Engine performs Thompson Sampling over a pattern-arm store.
//
// Description:
//
//	The engine holds a read/write capability on the store but owns no
//	state of its own; every call is stateless and safe to cancel.
//
// Thread Safety: Safe for concurrent use. Selection reads one store
// snapshot per call; updates are linearizable per pattern.
type Engine struct {
	store *arms.Store
	cfg   Config
}

// New creates an engine over the given store.
//
// Inputs:
//   - store: The pattern-arm store. Must not be nil.
//   - cfg: Engine configuration.
//
// Outputs:
//   - *Engine: The new engine. Never nil on success.
//   - error: Non-nil if store is nil.
func New(store *arms.Store, cfg Config) (*Engine, error) {
	if store == nil {
		return nil, errors.New("store must not be nil")
	}
	if cfg.CredibleLevel == 0 {
		cfg.CredibleLevel = 0.95
	}
	return &Engine{store: store, cfg: cfg}, nil
}

// Ranked is one entry of a SelectTopK result.
type Ranked struct {
	// PatternID identifies the candidate pattern.
	PatternID string `json:"pattern_id"`

	// Sample is the Beta posterior draw that produced this rank.
	Sample float64 `json:"sample"`

	// PosteriorMean is alpha/(alpha+beta) at selection time.
	PosteriorMean float64 `json:"posterior_mean"`

	// Pulls is the cumulative trials recorded for the pattern.
	Pulls int64 `json:"pulls"`

	// Interval is the credible interval at the engine's configured level.
	Interval CredibleInterval `json:"credible_interval"`
}

// SelectTopK ranks candidate patterns by one Thompson draw each.
//
// Description:
//
//	Draws one Beta(alpha, beta) sample per candidate from a single
//	store snapshot, sorts descending by draw, and returns the top k.
//	Candidates without an arm participate with the store's current
//	prior, so brand-new patterns compete on full posterior variance.
//
// Inputs:
//   - ctx: Context carrying the caller's timeout.
//   - candidates: Pattern ids to rank. Must not be empty.
//   - k: Number of entries to return. Capped at len(candidates).
//   - rng: Randomness source; nil selects the process-wide source.
//
// Outputs:
//   - []Ranked: Top-k entries, best draw first.
//   - error: ErrNoCandidates, ErrInvalidK, or a store error.
//
// Thread Safety: Safe for concurrent use.
func (e *Engine) SelectTopK(ctx context.Context, candidates []string, k int, rng RNG) ([]Ranked, error) {
	ctx, span := otel.Tracer("bandit").Start(ctx, "engine.SelectTopK",
		trace.WithAttributes(
			attribute.Int("candidates", len(candidates)),
			attribute.Int("k", k),
		),
	)
	defer span.End()

	if len(candidates) == 0 {
		return nil, ErrNoCandidates
	}
	if k <= 0 {
		return nil, ErrInvalidK
	}
	if k > len(candidates) {
		k = len(candidates)
	}

	src := orProcess(rng)

	// One snapshot for the whole candidate set.
	known, err := e.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list arms: %w", err)
	}
	byID := make(map[string]arms.Arm, len(known))
	for _, a := range known {
		byID[a.PatternID] = a
	}

	prior, err := e.store.Prior(ctx)
	if err != nil {
		return nil, fmt.Errorf("read prior: %w", err)
	}

	ranked := make([]Ranked, 0, len(candidates))
	for _, id := range candidates {
		arm, ok := byID[id]
		if !ok {
			arm = arms.Arm{PatternID: id, Alpha: prior.Alpha0, Beta: prior.Beta0}
		}
		ranked = append(ranked, Ranked{
			PatternID:     id,
			Sample:        SampleBeta(src, arm.Alpha, arm.Beta),
			PosteriorMean: arm.PosteriorMean(),
			Pulls:         arm.Pulls,
			Interval:      BetaCredibleInterval(arm.Alpha, arm.Beta, e.cfg.CredibleLevel),
		})
	}

	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Sample > ranked[j].Sample })
	return ranked[:k], nil
}

// Update records (successes, trials) against the pattern's arm.
//
// Description:
//
//	Delegates to the store. When the pattern is unknown and
//	AutoCreateArms is disabled, fails with arms.ErrPatternNotFound.
//
// Outputs:
//   - arms.Arm: The arm after the update.
//   - error: arms.ErrInvalidMetric, arms.ErrPatternNotFound,
//     arms.ErrTimeout, or a store error.
//
// Thread Safety: Linearizable per pattern.
func (e *Engine) Update(ctx context.Context, patternID string, successes, trials int64) (arms.Arm, error) {
	return e.store.RecordOutcome(ctx, patternID, successes, trials, e.cfg.AutoCreateArms)
}

// Posterior holds a pattern's posterior summary.
type Posterior struct {
	PatternID string           `json:"pattern_id"`
	Mean      float64          `json:"posterior_mean"`
	Pulls     int64            `json:"pulls"`
	Interval  CredibleInterval `json:"credible_interval"`
}

// Posterior returns the pattern's current posterior summary.
//
// Outputs:
//   - Posterior: Mean, pulls, and credible interval.
//   - error: arms.ErrPatternNotFound if the arm does not exist.
func (e *Engine) Posterior(ctx context.Context, patternID string) (Posterior, error) {
	arm, err := e.store.Get(ctx, patternID)
	if err != nil {
		return Posterior{}, err
	}
	return Posterior{
		PatternID: patternID,
		Mean:      arm.PosteriorMean(),
		Pulls:     arm.Pulls,
		Interval:  BetaCredibleInterval(arm.Alpha, arm.Beta, e.cfg.CredibleLevel),
	}, nil
}

// TopByPosterior returns up to n patterns ranked by posterior mean.
//
// Description:
//
//	Reads one store snapshot, filters arms below minPulls, and sorts
//	descending by posterior mean (pattern id breaks ties for
//	deterministic output). This is the exploitation-only view used by
//	dashboards; it draws no samples.
//
// Inputs:
//   - ctx: Context carrying the caller's timeout.
//   - n: Maximum entries to return. Must be positive.
//   - minPulls: Drop arms with fewer pulls. Zero keeps everything.
func (e *Engine) TopByPosterior(ctx context.Context, n int, minPulls int64) ([]Posterior, error) {
	if n <= 0 {
		return nil, ErrInvalidK
	}

	known, err := e.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list arms: %w", err)
	}

	out := make([]Posterior, 0, len(known))
	for _, arm := range known {
		if arm.Pulls < minPulls {
			continue
		}
		out = append(out, Posterior{
			PatternID: arm.PatternID,
			Mean:      arm.PosteriorMean(),
			Pulls:     arm.Pulls,
			Interval:  BetaCredibleInterval(arm.Alpha, arm.Beta, e.cfg.CredibleLevel),
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Mean != out[j].Mean {
			return out[i].Mean > out[j].Mean
		}
		return out[i].PatternID < out[j].PatternID
	})

	if n < len(out) {
		out = out[:n]
	}
	return out, nil
}
