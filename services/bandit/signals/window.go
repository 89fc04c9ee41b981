// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package signals classifies early post-launch creative performance.
//
// Each creative accumulates an append-only history of cumulative metric
// snapshots. The analyzer maps the latest snapshot's age onto a fixed
// observation window and compares click-through and conversion rates
// against that window's thresholds, with a minimum-impressions floor
// that overrides both rates.
package signals

import (
	"fmt"
	"sort"
	"time"
)

// Verdict is the early-signal classification of a creative.
type Verdict string

const (
	// VerdictStrong means both CTR and CVR clear the window thresholds.
	VerdictStrong Verdict = "strong"

	// VerdictWeak means at least one rate falls below its threshold.
	VerdictWeak Verdict = "weak"

	// VerdictInsufficientData means the sample-size floor was not met.
	// It is a valid outcome, not an error.
	VerdictInsufficientData Verdict = "insufficient_data"
)

// Window is one observation window of the threshold table.
type Window struct {
	// Label names the window in output ("24h", "48h", "72h").
	Label string `json:"label" yaml:"label"`

	// MaxAge is the upper bound of snapshot age this window covers.
	MaxAge time.Duration `json:"max_age" yaml:"max_age"`

	// MinImpressions is the sample-size floor. Below it the verdict is
	// insufficient_data regardless of rates.
	MinImpressions int64 `json:"min_impressions" yaml:"min_impressions"`

	// MinCTR is the clicks/impressions threshold for a strong verdict.
	MinCTR float64 `json:"min_ctr" yaml:"min_ctr"`

	// MinCVR is the conversions/clicks threshold for a strong verdict.
	MinCVR float64 `json:"min_cvr" yaml:"min_cvr"`
}

// Classify applies the window's thresholds to cumulative counts.
//
// CVR is defined as 0 when clicks = 0, so a creative with impressions
// above the floor but zero clicks classifies weak, not undefined.
func (w Window) Classify(impressions, clicks, conversions int64) Verdict {
	if impressions < w.MinImpressions {
		return VerdictInsufficientData
	}

	ctr := float64(clicks) / float64(impressions)
	cvr := 0.0
	if clicks > 0 {
		cvr = float64(conversions) / float64(clicks)
	}

	if ctr >= w.MinCTR && cvr >= w.MinCVR {
		return VerdictStrong
	}
	return VerdictWeak
}

// Windows is the ordered observation-window table.
type Windows []Window

// Validate checks the table is non-empty, strictly ordered by MaxAge,
// and carries sane thresholds.
func (ws Windows) Validate() error {
	if len(ws) == 0 {
		return ErrNoWindows
	}
	for i, w := range ws {
		if w.Label == "" {
			return fmt.Errorf("window %d: label must not be empty", i)
		}
		if w.MaxAge <= 0 {
			return fmt.Errorf("window %q: max_age must be positive", w.Label)
		}
		if w.MinImpressions < 0 {
			return fmt.Errorf("window %q: min_impressions must be non-negative", w.Label)
		}
		if w.MinCTR < 0 || w.MinCTR > 1 || w.MinCVR < 0 || w.MinCVR > 1 {
			return fmt.Errorf("window %q: thresholds must lie in [0, 1]", w.Label)
		}
		if i > 0 && w.MaxAge <= ws[i-1].MaxAge {
			return fmt.Errorf("window %q: max_age must exceed previous window %q", w.Label, ws[i-1].Label)
		}
	}
	return nil
}

// ForAge returns the window covering the given snapshot age. Ages past
// the last window's bound stay in the last window, so a creative never
// ages out of classification.
func (ws Windows) ForAge(age time.Duration) Window {
	idx := sort.Search(len(ws), func(i int) bool { return age <= ws[i].MaxAge })
	if idx == len(ws) {
		idx = len(ws) - 1
	}
	return ws[idx]
}

// DefaultWindows returns the 24/48/72 hour table with a 500-impression
// floor at every window.
func DefaultWindows() Windows {
	return Windows{
		{Label: "24h", MaxAge: 24 * time.Hour, MinImpressions: 500, MinCTR: 0.015, MinCVR: 0.02},
		{Label: "48h", MaxAge: 48 * time.Hour, MinImpressions: 500, MinCTR: 0.012, MinCVR: 0.02},
		{Label: "72h", MaxAge: 72 * time.Hour, MinImpressions: 500, MinCTR: 0.010, MinCVR: 0.015},
	}
}
