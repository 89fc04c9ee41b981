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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus instruments for the service facade. Registered once with
// the default registry and served through telemetry.MetricsHandler.
var (
	metricUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "adpulse_bandit_updates_total",
		Help: "Outcome updates absorbed into pattern arms, by status.",
	}, []string{"status"})

	metricSelections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "adpulse_bandit_selections_total",
		Help: "Thompson Sampling selection requests served.",
	})

	metricSelectionLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "adpulse_bandit_selection_seconds",
		Help:    "Latency of one selection request.",
		Buckets: prometheus.DefBuckets,
	})

	metricVerdicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "adpulse_signal_verdicts_total",
		Help: "Early-signal verdicts issued, by verdict.",
	}, []string{"verdict"})

	metricDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "adpulse_scaling_decisions_total",
		Help: "Scaling recommendations issued, by decision.",
	}, []string{"decision"})

	metricTrainerRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "adpulse_trainer_runs_total",
		Help: "Training passes, by status.",
	}, []string{"status"})

	metricPrunedArms = promauto.NewCounter(prometheus.CounterOpts{
		Name: "adpulse_trainer_pruned_arms_total",
		Help: "Stale arms removed by training passes.",
	})
)
