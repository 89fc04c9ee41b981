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
	"errors"

	"github.com/AleutianAI/AdPulse/services/bandit/arms"
	"github.com/AleutianAI/AdPulse/services/bandit/signals"
)

// ErrConfigInvalid is returned for a malformed configuration. At
// construction it is non-recoverable and aborts startup.
var ErrConfigInvalid = errors.New("invalid configuration")

// The remaining error kinds live with the packages that produce them.
// errors.Is classification helpers keep the HTTP boundary from
// matching each package's sentinel separately.

// IsNotFound reports whether err is an unknown pattern or creative id.
func IsNotFound(err error) bool {
	return errors.Is(err, arms.ErrPatternNotFound) || errors.Is(err, signals.ErrCreativeNotFound)
}

// IsInvalidMetric reports whether err is a rejected metric payload.
func IsInvalidMetric(err error) bool {
	return errors.Is(err, arms.ErrInvalidMetric) || errors.Is(err, signals.ErrInvalidMetric) ||
		errors.Is(err, arms.ErrEmptyPatternID) || errors.Is(err, signals.ErrEmptyCreativeID)
}

// IsTimeout reports whether err is a store deadline exhaustion.
// Timeouts are retryable.
func IsTimeout(err error) bool {
	return errors.Is(err, arms.ErrTimeout) || errors.Is(err, signals.ErrTimeout)
}

func isConflict(err error) bool {
	return errors.Is(err, signals.ErrCreativeExists)
}

func isConfigInvalid(err error) bool {
	return errors.Is(err, ErrConfigInvalid)
}
