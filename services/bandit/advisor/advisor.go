// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package advisor fuses the bandit posterior with the early-signal
// verdict into a scale/hold/kill recommendation.
//
// The advisor holds read-only handles on the engine and the analyzer
// and never writes through them. A recommendation is a pure query
// result: it is not persisted and carries everything the caller needs
// to audit the decision.
package advisor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AdPulse/services/bandit/arms"
	"github.com/AleutianAI/AdPulse/services/bandit/engine"
	"github.com/AleutianAI/AdPulse/services/bandit/signals"
)

// Decision is the advisor's budget recommendation for a creative.
type Decision string

const (
	// DecisionScale recommends increasing budget: the signal is strong
	// and the pattern posterior clears the scale threshold.
	DecisionScale Decision = "scale"

	// DecisionHold recommends no change.
	DecisionHold Decision = "hold"

	// DecisionKill recommends stopping spend: the signal is weak and
	// the pattern has enough pulls to trust it.
	DecisionKill Decision = "kill"

	// DecisionInsufficientData means the pattern arm does not exist
	// yet; there is no posterior to decide on.
	DecisionInsufficientData Decision = "insufficient_data"
)

// Config holds the advisor decision thresholds.
type Config struct {
	// ScaleThreshold is the minimum posterior mean for a scale decision.
	ScaleThreshold float64

	// KillMinPulls is the minimum pulls before a weak verdict may kill.
	KillMinPulls int64
}

// Validate checks the thresholds.
func (c Config) Validate() error {
	if c.ScaleThreshold < 0 || c.ScaleThreshold > 1 {
		return fmt.Errorf("scale threshold %.3f must lie in [0, 1]", c.ScaleThreshold)
	}
	if c.KillMinPulls < 0 {
		return fmt.Errorf("kill min pulls %d must be non-negative", c.KillMinPulls)
	}
	return nil
}

// Recommendation is the advisor's answer for one (pattern, creative)
// pair. Ephemeral: callers persist it themselves if they want history.
type Recommendation struct {
	PatternID     string                  `json:"pattern_id"`
	CreativeID    string                  `json:"creative_id"`
	Decision      Decision                `json:"decision"`
	Verdict       signals.Verdict         `json:"verdict"`
	PosteriorMean float64                 `json:"posterior_mean"`
	Interval      engine.CredibleInterval `json:"credible_interval"`
	Pulls         int64                   `json:"pulls"`
	Rationale     string                  `json:"rationale"`
	GeneratedAt   time.Time               `json:"generated_at"`
}

// Advisor produces scaling recommendations.
//
// Thread Safety: Safe for concurrent use; it is stateless beyond its
// immutable configuration.
type Advisor struct {
	engine   *engine.Engine
	analyzer *signals.Analyzer
	cfg      Config
}

// New creates an advisor over the engine and analyzer.
func New(eng *engine.Engine, analyzer *signals.Analyzer, cfg Config) (*Advisor, error) {
	if eng == nil {
		return nil, errors.New("engine must not be nil")
	}
	if analyzer == nil {
		return nil, errors.New("analyzer must not be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Advisor{engine: eng, analyzer: analyzer, cfg: cfg}, nil
}

// Recommend decides scale/hold/kill for the creative's pattern.
//
// Description:
//
//	Reads the pattern posterior and the creative's early-signal
//	verdict, then applies the decision table:
//	  - scale: verdict strong AND posterior mean >= scale threshold,
//	  - kill:  verdict weak AND pulls >= kill min pulls,
//	  - hold:  everything else, including insufficient_data verdicts,
//	  - insufficient_data: the pattern arm does not exist.
//	Given the same inputs the decision is identical; no randomness is
//	involved.
//
// Outputs:
//   - Recommendation: Decision plus the full audit rationale.
//   - error: signals.ErrCreativeNotFound, a timeout, or a storage
//     error. A missing arm is a decision, not an error.
func (a *Advisor) Recommend(ctx context.Context, patternID, creativeID string) (Recommendation, error) {
	ctx, span := otel.Tracer("bandit").Start(ctx, "advisor.Recommend",
		trace.WithAttributes(
			attribute.String("pattern_id", patternID),
			attribute.String("creative_id", creativeID),
		),
	)
	defer span.End()

	result, err := a.analyzer.Analyze(ctx, creativeID)
	if err != nil {
		return Recommendation{}, err
	}

	posterior, err := a.engine.Posterior(ctx, patternID)
	if errors.Is(err, arms.ErrPatternNotFound) {
		return Recommendation{
			PatternID:   patternID,
			CreativeID:  creativeID,
			Decision:    DecisionInsufficientData,
			Verdict:     result.Verdict,
			Rationale:   fmt.Sprintf("no arm exists for pattern %q; verdict=%s", patternID, result.Verdict),
			GeneratedAt: time.Now().UTC(),
		}, nil
	}
	if err != nil {
		return Recommendation{}, err
	}

	decision := a.decide(result.Verdict, posterior)

	return Recommendation{
		PatternID:     patternID,
		CreativeID:    creativeID,
		Decision:      decision,
		Verdict:       result.Verdict,
		PosteriorMean: posterior.Mean,
		Interval:      posterior.Interval,
		Pulls:         posterior.Pulls,
		Rationale: fmt.Sprintf(
			"verdict=%s posterior_mean=%.4f ci_width=%.4f pulls=%d scale_threshold=%.4f kill_min_pulls=%d",
			result.Verdict, posterior.Mean, posterior.Interval.Width(), posterior.Pulls,
			a.cfg.ScaleThreshold, a.cfg.KillMinPulls,
		),
		GeneratedAt: time.Now().UTC(),
	}, nil
}

// decide is the pure decision table.
func (a *Advisor) decide(verdict signals.Verdict, p engine.Posterior) Decision {
	switch {
	case verdict == signals.VerdictStrong && p.Mean >= a.cfg.ScaleThreshold:
		return DecisionScale
	case verdict == signals.VerdictWeak && p.Pulls >= a.cfg.KillMinPulls:
		return DecisionKill
	default:
		return DecisionHold
	}
}
