// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/autocorrect/pkg/logging"
	"github.com/AleutianAI/autocorrect/services/autocorrect/analysis"
	"github.com/AleutianAI/autocorrect/services/autocorrect/engine"
	"github.com/AleutianAI/autocorrect/services/autocorrect/failure"
	"github.com/AleutianAI/autocorrect/services/autocorrect/queue"
	"github.com/AleutianAI/autocorrect/services/autocorrect/safety"
	"github.com/AleutianAI/autocorrect/services/autocorrect/strategy"
	"github.com/AleutianAI/autocorrect/services/autocorrect/supervision"
	"github.com/AleutianAI/autocorrect/services/autocorrect/watch"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "autocorrect.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefault_MatchesPackageDefaults(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, queue.DefaultConfig(), cfg.Queue.ToQueueConfig())
	assert.Equal(t, analysis.DefaultConfig(), cfg.Analysis.ToEngineConfig())
	assert.Equal(t, engine.DefaultConfig(), cfg.Engine)
	assert.Equal(t, supervision.DefaultBreakerConfig(), cfg.Breaker)
	assert.Equal(t, safety.DefaultThresholds(), cfg.Safety)
	assert.Equal(t, watch.DefaultOptions(), cfg.Watch.Options)
	assert.Equal(t, strategy.DefaultThreshold, cfg.Strategy.Threshold)
	assert.Equal(t, strategy.DefaultTimeout, cfg.Strategy.Timeout)
	assert.True(t, cfg.Watch.Enabled)
	assert.Equal(t, "prometheus", cfg.Telemetry.Metrics)
}

func TestLoad_NoFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
root: /srv/repo
engine:
  workers: 8
breaker:
  cool_down: 1m
safety:
  high: 0.95
watch:
  enabled: false
  ignore: [".git"]
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/srv/repo", cfg.Root)
	assert.Equal(t, 8, cfg.Engine.Workers)
	assert.Equal(t, time.Minute, cfg.Breaker.CoolDown)
	assert.Equal(t, 0.95, cfg.Safety.High)
	assert.Equal(t, 0.5, cfg.Safety.Low, "unset keys keep their defaults")
	assert.False(t, cfg.Watch.Enabled)
	assert.Equal(t, []string{".git"}, cfg.Watch.Ignore)
	assert.Equal(t, 200*time.Millisecond, cfg.Watch.Debounce)
}

func TestLoad_EmptyFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"unknown key", "engine:\n  threads: 4\n", "threads"},
		{"bad duration", "queue:\n  dedup_ttl: soon\n", "time.Duration"},
		{"zero workers", "engine:\n  workers: 0\n", "Workers"},
		{"low above high", "safety:\n  high: 0.6\n  low: 0.7\n", "low < high"},
		{"breaker threshold", "breaker:\n  threshold: 1.5\n", "Threshold"},
		{"exporter", "telemetry:\n  metrics: graphite\n", "Metrics"},
		{"otlp needs endpoint", "telemetry:\n  traces: otlp\n  otlp_endpoint: \"\"\n", "OTLPEndpoint"},
		{"log level", "logging:\n  level: loud\n", "Level"},
		{"audit path", "audit:\n  path: \"\"\n", "Path"},
		{"addr", "server:\n  addr: localhost\n", "Addr"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.ErrorIs(t, err, failure.ErrConfiguration)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_InMemoryAuditNeedsNoPath(t *testing.T) {
	cfg, err := Load(writeConfig(t, "audit:\n  path: \"\"\n  in_memory: true\n"))
	require.NoError(t, err)
	assert.True(t, cfg.Audit.InMemory)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorIs(t, err, failure.ErrConfiguration)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "engine:\n  workers: 8\n")
	t.Setenv("AUTOCORRECT_WORKERS", "2")
	t.Setenv("AUTOCORRECT_BREAKER_COOL_DOWN", "45s")
	t.Setenv("AUTOCORRECT_AUDIT_IN_MEMORY", "true")
	t.Setenv("AUTOCORRECT_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Engine.Workers)
	assert.Equal(t, 45*time.Second, cfg.Breaker.CoolDown)
	assert.True(t, cfg.Audit.InMemory)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_EnvTouchesOnlyBoundFields(t *testing.T) {
	t.Setenv("AUTOCORRECT_WORKERS", "3")
	t.Setenv("AUTOCORRECT_WATCH_DEBOUNCE", "1s")

	cfg, err := Load("")
	require.NoError(t, err)

	want := Default()
	want.Engine.Workers = 3
	want.Watch.Debounce = time.Second
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("Load() mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad_MalformedEnv(t *testing.T) {
	t.Setenv("AUTOCORRECT_WORKERS", "many")
	t.Setenv("AUTOCORRECT_SAFETY_HIGH", "high")

	_, err := Load("")
	require.Error(t, err)
	assert.ErrorIs(t, err, failure.ErrConfiguration)
	assert.Contains(t, err.Error(), "AUTOCORRECT_WORKERS")
	assert.Contains(t, err.Error(), "AUTOCORRECT_SAFETY_HIGH")
}

func TestEnvNames(t *testing.T) {
	names := EnvNames()
	assert.Contains(t, names, "AUTOCORRECT_ROOT")
	for _, n := range names {
		assert.True(t, strings.HasPrefix(n, EnvPrefix), n)
	}
}

func TestConversions(t *testing.T) {
	cfg := Default()

	store := cfg.Audit.ToStoreConfig("/srv/repo", nil)
	assert.Equal(t, filepath.Join("/srv/repo", ".autocorrect/audit"), store.Path)
	assert.True(t, store.SyncWrites)

	cfg.Audit.Path = "/var/lib/autocorrect"
	assert.Equal(t, "/var/lib/autocorrect", cfg.Audit.ToStoreConfig("/srv/repo", nil).Path)

	lc := LoggingConfig{Level: "warn", JSON: true}.ToLoggingConfig("autocorrect")
	assert.Equal(t, logging.LevelWarn, lc.Level)
	assert.Equal(t, "autocorrect", lc.Service)
	assert.True(t, lc.JSON)

	tc := cfg.Telemetry.ToTelemetryConfig("1.2.3")
	assert.Equal(t, "autocorrect", tc.ServiceName)
	assert.Equal(t, "1.2.3", tc.ServiceVersion)
	assert.Equal(t, "prometheus", tc.MetricExporter)
	assert.Equal(t, "none", tc.TraceExporter)
}
