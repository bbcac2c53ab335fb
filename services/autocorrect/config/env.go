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
	"errors"
	"fmt"
	"strconv"
	"time"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "AUTOCORRECT_"

type envBinding struct {
	name string
	set  func(c *Config, v string) error
}

func envString(name string, field func(*Config) *string) envBinding {
	return envBinding{name, func(c *Config, v string) error {
		*field(c) = v
		return nil
	}}
}

func envInt(name string, field func(*Config) *int) envBinding {
	return envBinding{name, func(c *Config, v string) error {
		i, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*field(c) = i
		return nil
	}}
}

func envFloat(name string, field func(*Config) *float64) envBinding {
	return envBinding{name, func(c *Config, v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		*field(c) = f
		return nil
	}}
}

func envDuration(name string, field func(*Config) *time.Duration) envBinding {
	return envBinding{name, func(c *Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*field(c) = d
		return nil
	}}
}

func envBool(name string, field func(*Config) *bool) envBinding {
	return envBinding{name, func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*field(c) = b
		return nil
	}}
}

var envBindings = []envBinding{
	envString("ROOT", func(c *Config) *string { return &c.Root }),

	// Queue
	envInt("QUEUE_CAPACITY", func(c *Config) *int { return &c.Queue.Capacity }),
	envDuration("QUEUE_DEDUP_TTL", func(c *Config) *time.Duration { return &c.Queue.DedupTTL }),

	// Analysis
	envInt("ANALYSIS_CACHE_CAPACITY", func(c *Config) *int { return &c.Analysis.CacheCapacity }),
	envDuration("ANALYSIS_BUILD_TIMEOUT", func(c *Config) *time.Duration { return &c.Analysis.BuildTimeout }),

	// Strategy
	envFloat("STRATEGY_THRESHOLD", func(c *Config) *float64 { return &c.Strategy.Threshold }),
	envDuration("STRATEGY_TIMEOUT", func(c *Config) *time.Duration { return &c.Strategy.Timeout }),

	// Engine
	envInt("WORKERS", func(c *Config) *int { return &c.Engine.Workers }),
	envDuration("TRIGGER_TIMEOUT", func(c *Config) *time.Duration { return &c.Engine.TriggerTimeout }),

	// Breaker
	envFloat("BREAKER_THRESHOLD", func(c *Config) *float64 { return &c.Breaker.Threshold }),
	envDuration("BREAKER_WINDOW", func(c *Config) *time.Duration { return &c.Breaker.Window }),
	envInt("BREAKER_MIN_SAMPLES", func(c *Config) *int { return &c.Breaker.MinSamples }),
	envDuration("BREAKER_COOL_DOWN", func(c *Config) *time.Duration { return &c.Breaker.CoolDown }),

	// Safety
	envFloat("SAFETY_HIGH", func(c *Config) *float64 { return &c.Safety.High }),
	envFloat("SAFETY_LOW", func(c *Config) *float64 { return &c.Safety.Low }),

	// Audit
	envString("AUDIT_PATH", func(c *Config) *string { return &c.Audit.Path }),
	envBool("AUDIT_IN_MEMORY", func(c *Config) *bool { return &c.Audit.InMemory }),

	// Watch
	envBool("WATCH_ENABLED", func(c *Config) *bool { return &c.Watch.Enabled }),
	envDuration("WATCH_DEBOUNCE", func(c *Config) *time.Duration { return &c.Watch.Debounce }),

	// Server
	envString("ADDR", func(c *Config) *string { return &c.Server.Addr }),
	envFloat("DIAGNOSTICS_RATE", func(c *Config) *float64 { return &c.Server.DiagnosticsRate }),

	// Logging
	envString("LOG_LEVEL", func(c *Config) *string { return &c.Logging.Level }),
	envString("LOG_DIR", func(c *Config) *string { return &c.Logging.Dir }),
	envBool("LOG_JSON", func(c *Config) *bool { return &c.Logging.JSON }),

	// Telemetry
	envString("METRICS_EXPORTER", func(c *Config) *string { return &c.Telemetry.Metrics }),
	envString("TRACES_EXPORTER", func(c *Config) *string { return &c.Telemetry.Traces }),
	envString("OTLP_ENDPOINT", func(c *Config) *string { return &c.Telemetry.OTLPEndpoint }),
	envFloat("TRACE_SAMPLE_RATE", func(c *Config) *float64 { return &c.Telemetry.SampleRate }),
}

// applyEnv overrides cfg from AUTOCORRECT_* variables. Every malformed
// value is reported.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	var errs []error
	for _, b := range envBindings {
		name := EnvPrefix + b.name
		v, ok := lookup(name)
		if !ok || v == "" {
			continue
		}
		if err := b.set(cfg, v); err != nil {
			errs = append(errs, fmt.Errorf("%s=%q: %w", name, v, err))
		}
	}
	return errors.Join(errs...)
}

// EnvNames lists the recognized environment variables.
func EnvNames() []string {
	names := make([]string, len(envBindings))
	for i, b := range envBindings {
		names[i] = EnvPrefix + b.name
	}
	return names
}
