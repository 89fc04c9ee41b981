// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package arms implements the durable per-pattern bandit statistics store.
//
// Each advertising creative pattern owns one arm: a Beta(alpha, beta)
// posterior accumulated from (successes, trials) outcomes. Arms are
// created lazily on first outcome, updated linearizably per pattern,
// and removed only by trainer pruning.
package arms

import (
	"math"
	"time"
)

// Arm holds the accumulated success/failure statistics for one pattern.
//
// Invariants (maintained by Store, assuming the arm started from the
// prior and was only updated through RecordOutcome):
//   - Alpha >= 1 and Beta >= 1
//   - Pulls == (Alpha - Alpha0) + (Beta - Beta0) summed over updates,
//     i.e. cumulative trials recorded against this pattern.
type Arm struct {
	// PatternID identifies the creative pattern this arm belongs to.
	PatternID string `json:"pattern_id"`

	// Tag is the free-form feature descriptor supplied at creation.
	// The engine never derives it; content analysis happens upstream.
	Tag string `json:"tag,omitempty"`

	// Alpha is the Beta-posterior success parameter.
	Alpha float64 `json:"alpha"`

	// Beta is the Beta-posterior failure parameter.
	Beta float64 `json:"beta"`

	// Pulls is the cumulative number of trials recorded.
	Pulls int64 `json:"pulls"`

	// Version increments on every write. Used to detect concurrent
	// modification in tests and diagnostics.
	Version uint64 `json:"version"`

	// CreatedAt is when the arm was lazily created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the arm last absorbed an outcome.
	UpdatedAt time.Time `json:"updated_at"`
}

// PosteriorMean returns alpha/(alpha+beta), the current success-rate
// estimate for the pattern.
func (a Arm) PosteriorMean() float64 {
	total := a.Alpha + a.Beta
	if total == 0 {
		return 0
	}
	return a.Alpha / total
}

// PosteriorStdDev returns the standard deviation of the Beta posterior.
func (a Arm) PosteriorStdDev() float64 {
	total := a.Alpha + a.Beta
	if total == 0 {
		return 0
	}
	return math.Sqrt(a.Alpha * a.Beta / (total * total * (total + 1)))
}

// Prior is the (alpha0, beta0) pair seeding fresh arms.
//
// The default uniform prior is {1, 1}; the trainer may re-fit it via
// empirical-Bayes shrinkage and persist the result in the store.
type Prior struct {
	Alpha0 float64 `json:"alpha0"`
	Beta0  float64 `json:"beta0"`
}

// Valid reports whether both parameters satisfy the alpha,beta >= 1
// invariant.
func (p Prior) Valid() bool {
	return p.Alpha0 >= 1 && p.Beta0 >= 1
}

// UniformPrior returns the Beta(1,1) prior.
func UniformPrior() Prior {
	return Prior{Alpha0: 1, Beta0: 1}
}
