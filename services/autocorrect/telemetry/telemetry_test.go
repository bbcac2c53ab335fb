// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

func TestInit_NilContext(t *testing.T) {
	//nolint:staticcheck // nil context is the case under test
	_, err := Init(nil, DefaultConfig())
	assert.ErrorIs(t, err, ErrNilContext)
}

func TestInit_NoExporters(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MetricExporter = "none"

	p, err := Init(context.Background(), cfg)
	require.NoError(t, err)
	assert.Nil(t, p.MetricsHandler())
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestInit_UnknownExporter(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TraceExporter = "zipkin"
	_, err := Init(context.Background(), cfg)
	assert.ErrorIs(t, err, ErrUnknownExporter)

	cfg = DefaultConfig()
	cfg.MetricExporter = "graphite"
	_, err = Init(context.Background(), cfg)
	assert.ErrorIs(t, err, ErrUnknownExporter)
}

func TestInit_PrometheusHandler(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Registry = prometheus.NewRegistry()

	p, err := Init(context.Background(), cfg)
	require.NoError(t, err)
	defer p.Shutdown(context.Background())
	require.NotNil(t, p.MetricsHandler())

	counter, err := otel.Meter("telemetry-test").Int64Counter("autocorrect_test_events")
	require.NoError(t, err)
	counter.Add(context.Background(), 3)

	srv := httptest.NewServer(p.MetricsHandler())
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "autocorrect_test_events")
}

func TestInit_StdoutTraces(t *testing.T) {
	var out bytes.Buffer
	cfg := DefaultConfig()
	cfg.TraceExporter = "stdout"
	cfg.MetricExporter = "none"
	cfg.Output = &out

	p, err := Init(context.Background(), cfg)
	require.NoError(t, err)

	_, span := otel.Tracer("telemetry-test").Start(context.Background(), "autocorrect.test.span")
	span.End()

	require.NoError(t, p.Shutdown(context.Background()))
	assert.Contains(t, out.String(), "autocorrect.test.span")
}

func TestLoggerWithTrace(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	LoggerWithTrace(context.Background(), logger).Info("no span")
	assert.NotContains(t, buf.String(), "trace_id")

	traceID := trace.TraceID{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f, 0x10}
	spanCtx := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     trace.SpanID{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08},
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), spanCtx)

	buf.Reset()
	LoggerWithTrigger(ctx, logger, "trig-1", "main.go").Info("with span")
	assert.Contains(t, buf.String(), traceID.String())
	assert.Contains(t, buf.String(), `"trigger":"trig-1"`)
	assert.Contains(t, buf.String(), `"file":"main.go"`)

	assert.NotNil(t, LoggerWithTrace(ctx, nil))
}

func TestRecordError(t *testing.T) {
	_, span := otel.Tracer("telemetry-test").Start(context.Background(), "record")
	defer span.End()
	RecordError(span, nil)
	RecordError(span, errors.New("boom"))
	RecordError(nil, errors.New("ignored"))
}
