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
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// defaultBulkLimit bounds analyzer concurrency when the caller does not
// configure one.
const defaultBulkLimit = 8

// Result is one early-signal classification.
type Result struct {
	CreativeID  string    `json:"creative_id"`
	Verdict     Verdict   `json:"verdict"`
	WindowLabel string    `json:"window_label"`
	Impressions int64     `json:"impressions"`
	Clicks      int64     `json:"clicks"`
	Conversions int64     `json:"conversions"`
	CTR         float64   `json:"ctr"`
	CVR         float64   `json:"cvr"`
	AnalyzedAt  time.Time `json:"analyzed_at"`
}

// BulkItem is one entry of a BulkAnalyze response. Exactly one of
// Result and Err is meaningful.
type BulkItem struct {
	CreativeID string
	Result     Result
	Err        error
}

// Analyzer classifies creatives against the window threshold table.
//
// Thread Safety: Safe for concurrent use; it holds only read
// capabilities on the store.
type Analyzer struct {
	store     *Store
	windows   Windows
	bulkLimit int
}

// NewAnalyzer creates an analyzer over the store's window table.
//
// Inputs:
//   - store: The snapshot store. Must not be nil.
//   - bulkLimit: Maximum concurrent per-item analyses in BulkAnalyze.
//     Non-positive selects the default of 8.
func NewAnalyzer(store *Store, bulkLimit int) (*Analyzer, error) {
	if store == nil {
		return nil, errors.New("store must not be nil")
	}
	if bulkLimit <= 0 {
		bulkLimit = defaultBulkLimit
	}
	return &Analyzer{store: store, windows: store.windows, bulkLimit: bulkLimit}, nil
}

// Analyze classifies the creative's latest snapshot.
//
// Description:
//
//	The snapshot's age relative to the creative's upload time selects
//	the observation window; the window's thresholds produce the
//	verdict. The sample-size floor dominates: below the window's
//	minimum impressions the verdict is insufficient_data regardless of
//	how good or bad the rates look.
//
// Outputs:
//   - Result: Verdict plus the rates it was computed from.
//   - error: ErrCreativeNotFound, ErrTimeout, or a storage error.
func (a *Analyzer) Analyze(ctx context.Context, creativeID string) (Result, error) {
	ctx, span := otel.Tracer("bandit").Start(ctx, "signals.Analyze",
		trace.WithAttributes(attribute.String("creative_id", creativeID)),
	)
	defer span.End()

	creative, err := a.store.Get(ctx, creativeID)
	if err != nil {
		return Result{}, err
	}
	snap, err := a.store.Latest(ctx, creativeID)
	if err != nil {
		return Result{}, err
	}

	window := a.windows.ForAge(snap.Timestamp.Sub(creative.UploadedAt))
	return Result{
		CreativeID:  creativeID,
		Verdict:     window.Classify(snap.Impressions, snap.Clicks, snap.Conversions),
		WindowLabel: window.Label,
		Impressions: snap.Impressions,
		Clicks:      snap.Clicks,
		Conversions: snap.Conversions,
		CTR:         snap.CTR(),
		CVR:         snap.CVR(),
		AnalyzedAt:  time.Now().UTC(),
	}, nil
}

// BulkAnalyze classifies each creative independently.
//
// Description:
//
//	One BulkItem per input id, in input order. A failing id (unknown
//	creative, storage fault) carries its error in the item and never
//	aborts the rest of the batch. Concurrency is bounded by the
//	configured limit.
//
// Thread Safety: Safe for concurrent use.
func (a *Analyzer) BulkAnalyze(ctx context.Context, creativeIDs []string) []BulkItem {
	ctx, span := otel.Tracer("bandit").Start(ctx, "signals.BulkAnalyze",
		trace.WithAttributes(attribute.Int("batch_size", len(creativeIDs))),
	)
	defer span.End()

	items := make([]BulkItem, len(creativeIDs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(a.bulkLimit)
	for i, id := range creativeIDs {
		g.Go(func() error {
			result, err := a.Analyze(ctx, id)
			items[i] = BulkItem{CreativeID: id, Result: result, Err: err}
			// Errors stay per-item; the group never cancels siblings.
			return nil
		})
	}
	_ = g.Wait()

	return items
}
