// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package analysis

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("autocorrect.analysis")
	meter  = otel.Meter("autocorrect.analysis")
)

var (
	analyzeLatency metric.Float64Histogram
	cacheLookups   metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error
		analyzeLatency, err = meter.Float64Histogram(
			"autocorrect_analysis_duration_seconds",
			metric.WithDescription("Duration of context analysis per trigger"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}
		cacheLookups, err = meter.Int64Counter(
			"autocorrect_analysis_cache_lookups_total",
			metric.WithDescription("Analysis cache lookups by result"),
		)
		if err != nil {
			metricsErr = err
		}
	})
	return metricsErr
}

func recordAnalyzeMetrics(ctx context.Context, language string, duration time.Duration, hit, success bool) {
	if err := initMetrics(); err != nil {
		return
	}
	analyzeLatency.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("language", language),
		attribute.Bool("success", success),
	))
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookups.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

func startAnalyzeSpan(ctx context.Context, file string, span string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "analysis.Analyze",
		trace.WithAttributes(
			attribute.String("analysis.file", file),
			attribute.String("analysis.span", span),
		),
	)
}
