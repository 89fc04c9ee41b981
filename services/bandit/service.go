// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package bandit is the creative-performance engine facade.
//
// It owns the component set (arm store, sampling engine, signal
// analyzer, scaling advisor, trainer) built over one shared BadgerDB
// instance, and exposes the operations the HTTP layer serves.
// Reconfiguration swaps the whole component set atomically through a
// copy-on-write pointer; in-flight calls finish against the set they
// started with.
package bandit

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/AleutianAI/AdPulse/pkg/logging"
	"github.com/AleutianAI/AdPulse/services/bandit/advisor"
	"github.com/AleutianAI/AdPulse/services/bandit/arms"
	"github.com/AleutianAI/AdPulse/services/bandit/engine"
	"github.com/AleutianAI/AdPulse/services/bandit/signals"
	"github.com/AleutianAI/AdPulse/services/bandit/storage/badgerdb"
	"github.com/AleutianAI/AdPulse/services/bandit/trainer"
)

// components is one immutable wiring of the engine. Swapped as a unit
// on reconfigure.
type components struct {
	cfg      Config
	arms     *arms.Store
	signals  *signals.Store
	engine   *engine.Engine
	analyzer *signals.Analyzer
	advisor  *advisor.Advisor
	trainer  *trainer.Trainer
}

func buildComponents(db *badgerdb.DB, cfg Config, logger *logging.Logger) (*components, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	armStore, err := arms.NewStore(db, arms.Prior{Alpha0: cfg.Prior.Alpha0, Beta0: cfg.Prior.Beta0})
	if err != nil {
		return nil, fmt.Errorf("%w: arm store: %v", ErrConfigInvalid, err)
	}
	eng, err := engine.New(armStore, engine.Config{
		AutoCreateArms: cfg.AutoCreateArms,
		CredibleLevel:  cfg.CredibleLevel,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: engine: %v", ErrConfigInvalid, err)
	}

	sigStore, err := signals.NewStore(db, cfg.Windows)
	if err != nil {
		return nil, fmt.Errorf("%w: signal store: %v", ErrConfigInvalid, err)
	}
	analyzer, err := signals.NewAnalyzer(sigStore, cfg.BulkLimit)
	if err != nil {
		return nil, fmt.Errorf("%w: analyzer: %v", ErrConfigInvalid, err)
	}

	adv, err := advisor.New(eng, analyzer, advisor.Config{
		ScaleThreshold: cfg.Scaling.ScaleThreshold,
		KillMinPulls:   cfg.Scaling.KillMinPulls,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: advisor: %v", ErrConfigInvalid, err)
	}

	tr, err := trainer.New(armStore, trainer.Config{
		PruneFloor:    cfg.Trainer.PruneFloor,
		Retention:     cfg.Trainer.Retention,
		RefitEnabled:  cfg.Trainer.RefitEnabled,
		RefitMinPulls: cfg.Trainer.RefitMinPulls,
	}, logger.Slog())
	if err != nil {
		return nil, fmt.Errorf("%w: trainer: %v", ErrConfigInvalid, err)
	}

	return &components{
		cfg:      cfg,
		arms:     armStore,
		signals:  sigStore,
		engine:   eng,
		analyzer: analyzer,
		advisor:  adv,
		trainer:  tr,
	}, nil
}

// Service is the facade over the bandit component set.
//
// Thread Safety: Safe for concurrent use. Reconfigure swaps the
// component pointer atomically; every operation loads the pointer once
// and runs against that set end to end.
type Service struct {
	db     *badgerdb.DB
	logger *logging.Logger
	comps  atomic.Pointer[components]
}

// NewService builds the component set over the database.
//
// Outputs:
//   - *Service: The facade. Never nil on success.
//   - error: ErrConfigInvalid aborts construction; there is no
//     degraded mode.
func NewService(db *badgerdb.DB, cfg Config, logger *logging.Logger) (*Service, error) {
	if db == nil {
		return nil, errors.New("db must not be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}

	comps, err := buildComponents(db, cfg, logger)
	if err != nil {
		return nil, err
	}

	s := &Service{db: db, logger: logger}
	s.comps.Store(comps)
	return s, nil
}

// Config returns the configuration of the current component set.
func (s *Service) Config() Config {
	return s.comps.Load().cfg
}

// opCtx applies the configured store timeout on top of the caller's
// context.
func (s *Service) opCtx(ctx context.Context, cfg Config) (context.Context, context.CancelFunc) {
	if cfg.StoreTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, cfg.StoreTimeout)
}

// RegisterCreative stores the creative -> pattern mapping and lazily
// creates the pattern's arm so selection can see it immediately.
func (s *Service) RegisterCreative(ctx context.Context, creativeID, patternID string, uploadedAt time.Time) (signals.Creative, error) {
	c := s.comps.Load()
	ctx, cancel := s.opCtx(ctx, c.cfg)
	defer cancel()

	creative, err := c.signals.Register(ctx, creativeID, patternID, uploadedAt)
	if err != nil {
		return signals.Creative{}, err
	}
	if _, err := c.arms.GetOrCreate(ctx, patternID, ""); err != nil {
		return signals.Creative{}, fmt.Errorf("create arm for pattern %q: %w", patternID, err)
	}

	s.logger.Info("registered creative",
		"creative_id", creativeID,
		"pattern_id", patternID,
	)
	return creative, nil
}

// RecordMetrics ingests one cumulative metric report.
//
// Description:
//
//	Appends a MetricSnapshot, computes the delta since the previous
//	snapshot, derives (successes, trials) from the configured objective
//	(ctr: click deltas over impression deltas; cvr: conversion deltas
//	over click deltas), and absorbs the outcome into the pattern's arm.
//	Cumulative totals are never fed to the bandit directly.
//
//	A failed call changes nothing the caller can't retry: snapshot
//	append and arm update are separate transactions, and replaying the
//	same cumulative totals yields a zero delta.
//
// Outputs:
//   - RecordMetricsResponse: Snapshot, delta, and the updated arm.
//   - error: Not-found, invalid-metric, or timeout errors; never
//     silently dropped.
func (s *Service) RecordMetrics(ctx context.Context, req RecordMetricsRequest) (RecordMetricsResponse, error) {
	c := s.comps.Load()
	ctx, cancel := s.opCtx(ctx, c.cfg)
	defer cancel()

	creative, err := c.signals.Get(ctx, req.CreativeID)
	if err != nil {
		metricUpdates.WithLabelValues("rejected").Inc()
		return RecordMetricsResponse{}, err
	}

	observedAt := time.Time{}
	if req.ObservedAt != nil {
		observedAt = *req.ObservedAt
	}
	snap, delta, err := c.signals.Record(ctx, req.CreativeID, req.Impressions, req.Clicks, req.Conversions, observedAt)
	if err != nil {
		metricUpdates.WithLabelValues("rejected").Inc()
		return RecordMetricsResponse{}, err
	}

	var successes, trials int64
	switch c.cfg.Objective {
	case ObjectiveCVR:
		successes, trials = delta.Conversions, delta.Clicks
	default:
		successes, trials = delta.Clicks, delta.Impressions
	}

	arm, err := c.engine.Update(ctx, creative.PatternID, successes, trials)
	if err != nil {
		metricUpdates.WithLabelValues("failed").Inc()
		return RecordMetricsResponse{}, fmt.Errorf("update arm %q: %w", creative.PatternID, err)
	}
	metricUpdates.WithLabelValues("ok").Inc()

	s.logger.Debug("recorded metrics",
		"creative_id", req.CreativeID,
		"pattern_id", creative.PatternID,
		"successes", successes,
		"trials", trials,
	)

	return RecordMetricsResponse{
		PatternID: creative.PatternID,
		Objective: c.cfg.Objective,
		Snapshot:  snap,
		Delta:     delta,
		Arm:       arm,
	}, nil
}

// AnalyzeEarlySignal classifies the creative's latest snapshot.
func (s *Service) AnalyzeEarlySignal(ctx context.Context, creativeID string) (signals.Result, error) {
	c := s.comps.Load()
	ctx, cancel := s.opCtx(ctx, c.cfg)
	defer cancel()

	result, err := c.analyzer.Analyze(ctx, creativeID)
	if err != nil {
		return signals.Result{}, err
	}
	metricVerdicts.WithLabelValues(string(result.Verdict)).Inc()
	return result, nil
}

// BulkAnalyzeEarlySignal classifies each id independently; one bad id
// never fails the batch.
func (s *Service) BulkAnalyzeEarlySignal(ctx context.Context, creativeIDs []string) BulkAnalyzeResponse {
	c := s.comps.Load()
	ctx, cancel := s.opCtx(ctx, c.cfg)
	defer cancel()

	items := c.analyzer.BulkAnalyze(ctx, creativeIDs)
	out := make([]BulkAnalyzeItem, len(items))
	for i, item := range items {
		if item.Err != nil {
			out[i] = BulkAnalyzeItem{CreativeID: item.CreativeID, Error: item.Err.Error()}
			continue
		}
		result := item.Result
		metricVerdicts.WithLabelValues(string(result.Verdict)).Inc()
		out[i] = BulkAnalyzeItem{CreativeID: item.CreativeID, Result: &result}
	}
	return BulkAnalyzeResponse{Items: out}
}

// GetTopPatterns returns up to n patterns ranked by posterior mean.
func (s *Service) GetTopPatterns(ctx context.Context, n int, minPulls int64) ([]engine.Posterior, error) {
	c := s.comps.Load()
	ctx, cancel := s.opCtx(ctx, c.cfg)
	defer cancel()

	return c.engine.TopByPosterior(ctx, n, minPulls)
}

// RecommendNextPatterns runs one Thompson Sampling selection.
//
// A non-nil seed yields a reproducible ranking; otherwise the
// process-wide randomness source is used.
func (s *Service) RecommendNextPatterns(ctx context.Context, candidates []string, k int, seed *uint64) ([]engine.Ranked, error) {
	c := s.comps.Load()
	ctx, cancel := s.opCtx(ctx, c.cfg)
	defer cancel()

	var rng engine.RNG
	if seed != nil {
		rng = engine.NewSeededRNG(*seed)
	}

	started := time.Now()
	ranked, err := c.engine.SelectTopK(ctx, candidates, k, rng)
	if err != nil {
		return nil, err
	}
	metricSelections.Inc()
	metricSelectionLatency.Observe(time.Since(started).Seconds())
	return ranked, nil
}

// RecommendScaling fuses posterior and verdict into scale/hold/kill.
func (s *Service) RecommendScaling(ctx context.Context, patternID, creativeID string) (advisor.Recommendation, error) {
	c := s.comps.Load()
	ctx, cancel := s.opCtx(ctx, c.cfg)
	defer cancel()

	rec, err := c.advisor.Recommend(ctx, patternID, creativeID)
	if err != nil {
		return advisor.Recommendation{}, err
	}
	metricDecisions.WithLabelValues(string(rec.Decision)).Inc()
	return rec, nil
}

// Train runs one maintenance pass against the current component set.
// It satisfies trainer.Pass, so a trainer.Runner scheduled on the
// service keeps honoring reconfigured training policy.
func (s *Service) Train(ctx context.Context) (trainer.Summary, error) {
	c := s.comps.Load()

	summary, err := c.trainer.Train(ctx)
	if err != nil {
		metricTrainerRuns.WithLabelValues("failed").Inc()
		return trainer.Summary{}, err
	}
	metricTrainerRuns.WithLabelValues("ok").Inc()
	metricPrunedArms.Add(float64(summary.Pruned))
	return summary, nil
}

// Reconfigure validates the new configuration and swaps the component
// set atomically.
//
// Description:
//
//	The new set is built over the same database before the swap, so a
//	bad configuration leaves the old set untouched. In-flight calls
//	that loaded the old set finish against it.
//
// Outputs:
//   - error: ErrConfigInvalid when the new configuration is rejected.
func (s *Service) Reconfigure(ctx context.Context, cfg Config) error {
	comps, err := buildComponents(s.db, cfg, s.logger)
	if err != nil {
		return err
	}
	s.comps.Store(comps)

	s.logger.Info("reconfigured",
		"objective", cfg.Objective,
		"scale_threshold", cfg.Scaling.ScaleThreshold,
		"prune_floor", cfg.Trainer.PruneFloor,
	)
	return nil
}

// Ready reports whether the store answers a cheap read. Used by the
// readiness probe.
func (s *Service) Ready(ctx context.Context) error {
	c := s.comps.Load()
	ctx, cancel := s.opCtx(ctx, c.cfg)
	defer cancel()

	_, err := c.arms.Prior(ctx)
	return err
}
