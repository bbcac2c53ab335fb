// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/autocorrect/services/autocorrect/fix"
	"github.com/AleutianAI/autocorrect/services/autocorrect/supervision"
	"github.com/AleutianAI/autocorrect/services/autocorrect/trigger"
)

var (
	tracer = otel.Tracer("autocorrect.engine")
	meter  = otel.Meter("autocorrect.engine")
)

var (
	triggersTotal  metric.Int64Counter
	triggerLatency metric.Float64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error
		triggersTotal, err = meter.Int64Counter(
			"autocorrect_triggers_processed_total",
			metric.WithDescription("Triggers processed by kind and decision"),
		)
		if err != nil {
			metricsErr = err
			return
		}
		triggerLatency, err = meter.Float64Histogram(
			"autocorrect_trigger_duration_seconds",
			metric.WithDescription("End-to-end trigger processing time"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
		}
	})
	return metricsErr
}

func recordTriggerMetrics(ctx context.Context, kind string, d fix.Decision, duration time.Duration) {
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("decision", d.String()),
	)
	triggersTotal.Add(ctx, 1, attrs)
	triggerLatency.Record(ctx, duration.Seconds(), attrs)
}

func startTriggerSpan(ctx context.Context, t *trigger.Trigger, adm supervision.Admission) (context.Context, trace.Span) {
	return tracer.Start(ctx, "engine.Process",
		trace.WithAttributes(
			attribute.String("autocorrect.trigger_id", t.ID()),
			attribute.String("autocorrect.trigger_kind", t.Kind().String()),
			attribute.String("autocorrect.file", t.File()),
			attribute.String("autocorrect.breaker", adm.State.String()),
			attribute.Bool("autocorrect.probe", adm.Probe),
		),
	)
}
