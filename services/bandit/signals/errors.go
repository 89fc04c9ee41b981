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

import "errors"

// Sentinel errors for the signals package. Callers match with errors.Is.
var (
	// ErrCreativeNotFound is returned when a creative id has never been
	// registered.
	ErrCreativeNotFound = errors.New("creative not found")

	// ErrCreativeExists is returned when registering an id that is
	// already registered against a different pattern.
	ErrCreativeExists = errors.New("creative already registered")

	// ErrInvalidMetric is returned for counts that are negative, violate
	// conversions <= clicks <= impressions, or regress below the
	// previously recorded cumulative totals.
	ErrInvalidMetric = errors.New("invalid metric counts")

	// ErrEmptyCreativeID is returned when a creative id is empty.
	ErrEmptyCreativeID = errors.New("creative id must not be empty")

	// ErrTimeout is returned when a store operation exceeds the caller's
	// deadline. Retryable.
	ErrTimeout = errors.New("store operation timed out")

	// ErrNoWindows is returned when an analyzer is constructed with an
	// empty window table.
	ErrNoWindows = errors.New("window table must not be empty")
)
