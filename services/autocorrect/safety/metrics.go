// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package safety

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/AleutianAI/autocorrect/services/autocorrect/fix"
)

var meter = otel.Meter("autocorrect.safety")

var (
	decisionsTotal  metric.Int64Counter
	decisionLatency metric.Float64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error
		decisionsTotal, err = meter.Int64Counter(
			"autocorrect_gate_decisions_total",
			metric.WithDescription("Gate decisions by outcome and safety level"),
		)
		if err != nil {
			metricsErr = err
			return
		}
		decisionLatency, err = meter.Float64Histogram(
			"autocorrect_gate_decision_duration_seconds",
			metric.WithDescription("Time to apply, offer or reject an edit"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
		}
	})
	return metricsErr
}

func recordDecisionMetrics(ctx context.Context, d fix.Decision, level fix.SafetyLevel, duration time.Duration) {
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("decision", d.String()),
		attribute.String("safety", level.String()),
	)
	decisionsTotal.Add(ctx, 1, attrs)
	if duration > 0 {
		decisionLatency.Record(ctx, duration.Seconds(), attrs)
	}
}
