// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package arms

import "errors"

// Sentinel errors for the arms package.
var (
	// ErrInvalidMetric is returned for negative or inconsistent counts
	// (trials < 0, successes < 0, or successes > trials).
	ErrInvalidMetric = errors.New("invalid metric counts")

	// ErrPatternNotFound is returned when the pattern has no arm and
	// the caller did not ask for lazy creation.
	ErrPatternNotFound = errors.New("pattern not found")

	// ErrTimeout is returned when a store operation exceeded the
	// caller's context deadline. The operation is safe to retry.
	ErrTimeout = errors.New("store operation timed out")

	// ErrEmptyPatternID is returned when a pattern id is blank.
	ErrEmptyPatternID = errors.New("pattern id must not be empty")
)
