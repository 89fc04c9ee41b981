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
	"time"

	"github.com/AleutianAI/AdPulse/services/bandit/advisor"
	"github.com/AleutianAI/AdPulse/services/bandit/arms"
	"github.com/AleutianAI/AdPulse/services/bandit/engine"
	"github.com/AleutianAI/AdPulse/services/bandit/signals"
)

// RegisterCreativeRequest binds POST /v1/bandit/creatives.
type RegisterCreativeRequest struct {
	CreativeID string     `json:"creative_id" binding:"required"`
	PatternID  string     `json:"pattern_id" binding:"required"`
	UploadedAt *time.Time `json:"uploaded_at"`
}

// RegisterCreativeResponse returns the stored mapping.
type RegisterCreativeResponse struct {
	Creative signals.Creative `json:"creative"`
}

// RecordMetricsRequest binds POST /v1/bandit/metrics. Counts are
// cumulative since upload.
type RecordMetricsRequest struct {
	CreativeID  string     `json:"creative_id" binding:"required"`
	Impressions int64      `json:"impressions" binding:"min=0"`
	Clicks      int64      `json:"clicks" binding:"min=0"`
	Conversions int64      `json:"conversions" binding:"min=0"`
	ObservedAt  *time.Time `json:"observed_at"`
}

// RecordMetricsResponse reports what the update did.
type RecordMetricsResponse struct {
	PatternID string           `json:"pattern_id"`
	Objective Objective        `json:"objective"`
	Snapshot  signals.Snapshot `json:"snapshot"`
	Delta     signals.Delta    `json:"delta"`
	Arm       arms.Arm         `json:"arm"`
}

// AnalyzeRequest binds POST /v1/bandit/signals/analyze.
type AnalyzeRequest struct {
	CreativeID string `json:"creative_id" binding:"required"`
}

// BulkAnalyzeRequest binds POST /v1/bandit/signals/bulk.
type BulkAnalyzeRequest struct {
	CreativeIDs []string `json:"creative_ids" binding:"required,min=1"`
}

// BulkAnalyzeItem is one per-id entry; Error is set instead of Result
// when the id failed.
type BulkAnalyzeItem struct {
	CreativeID string          `json:"creative_id"`
	Result     *signals.Result `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// BulkAnalyzeResponse returns one item per requested id, in order.
type BulkAnalyzeResponse struct {
	Items []BulkAnalyzeItem `json:"items"`
}

// SelectPatternsRequest binds POST /v1/bandit/patterns/select. A seed
// makes the ranking reproducible.
type SelectPatternsRequest struct {
	Candidates []string `json:"candidates" binding:"required,min=1"`
	K          int      `json:"k" binding:"required,min=1"`
	Seed       *uint64  `json:"seed"`
}

// SelectPatternsResponse returns the ranked top-k.
type SelectPatternsResponse struct {
	Ranked []engine.Ranked `json:"ranked"`
}

// TopPatternsResponse returns patterns ranked by posterior mean.
type TopPatternsResponse struct {
	Patterns []engine.Posterior `json:"patterns"`
}

// RecommendScalingRequest binds POST /v1/bandit/recommendations.
type RecommendScalingRequest struct {
	PatternID  string `json:"pattern_id" binding:"required"`
	CreativeID string `json:"creative_id" binding:"required"`
}

// RecommendScalingResponse returns the advisor's decision.
type RecommendScalingResponse struct {
	Recommendation advisor.Recommendation `json:"recommendation"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is the error code (optional).
	Code string `json:"code,omitempty"`
}
