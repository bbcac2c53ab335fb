// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package supervision

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Prometheus Metrics for Supervision
// =============================================================================

var (
	// breakerState is the current breaker state (0 closed, 1 open, 2 half-open).
	breakerState = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "autocorrect",
		Subsystem: "supervision",
		Name:      "breaker_state",
		Help:      "Circuit breaker state: 0 closed, 1 open, 2 half-open",
	})

	// breakerTrips counts Closed/HalfOpen -> Open transitions.
	breakerTrips = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "autocorrect",
		Subsystem: "supervision",
		Name:      "breaker_trips_total",
		Help:      "Total transitions into the open state",
	})

	// stageLatency measures pipeline stage durations.
	// Labels: stage (parse, analysis, strategies, codegen, gate, trigger)
	stageLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "autocorrect",
		Subsystem: "pipeline",
		Name:      "stage_duration_seconds",
		Help:      "Pipeline stage latency in seconds",
		Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"stage"})

	// strategyRuns counts strategy invocations.
	// Labels: strategy, status (candidates, empty, error)
	strategyRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "autocorrect",
		Subsystem: "strategy",
		Name:      "runs_total",
		Help:      "Strategy invocations by outcome",
	}, []string{"strategy", "status"})

	// outcomes counts trigger outcomes.
	// Labels: decision, failure
	outcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "autocorrect",
		Subsystem: "pipeline",
		Name:      "outcomes_total",
		Help:      "Trigger outcomes by decision and failure kind",
	}, []string{"decision", "failure"})
)
