// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the autocorrect service configuration.
//
// Configuration is layered: the embedded default.yaml, then an optional
// YAML file, then AUTOCORRECT_* environment variables. The result is
// validated once; any problem is a Configuration failure and the service
// refuses to start.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/autocorrect/pkg/logging"
	"github.com/AleutianAI/autocorrect/services/autocorrect/analysis"
	"github.com/AleutianAI/autocorrect/services/autocorrect/audit"
	"github.com/AleutianAI/autocorrect/services/autocorrect/engine"
	"github.com/AleutianAI/autocorrect/services/autocorrect/failure"
	"github.com/AleutianAI/autocorrect/services/autocorrect/queue"
	"github.com/AleutianAI/autocorrect/services/autocorrect/safety"
	"github.com/AleutianAI/autocorrect/services/autocorrect/supervision"
	"github.com/AleutianAI/autocorrect/services/autocorrect/telemetry"
	"github.com/AleutianAI/autocorrect/services/autocorrect/watch"
)

//go:embed default.yaml
var defaultYAML []byte

// Config is the complete service configuration.
//
// Thread Safety: Safe to read concurrently. Not safe to modify after Load.
type Config struct {
	// Root is the workspace directory files are read from and written to.
	Root string `yaml:"root" json:"root" validate:"required"`

	Queue     QueueConfig               `yaml:"queue" json:"queue"`
	Analysis  AnalysisConfig            `yaml:"analysis" json:"analysis"`
	Strategy  StrategyConfig            `yaml:"strategy" json:"strategy"`
	Engine    engine.Config             `yaml:"engine" json:"engine"`
	Breaker   supervision.BreakerConfig `yaml:"breaker" json:"breaker"`
	Safety    safety.Thresholds         `yaml:"safety" json:"safety"`
	Audit     AuditConfig               `yaml:"audit" json:"audit"`
	Watch     WatchConfig               `yaml:"watch" json:"watch"`
	Bridge    BridgeConfig              `yaml:"bridge" json:"bridge"`
	Server    ServerConfig              `yaml:"server" json:"server"`
	Logging   LoggingConfig             `yaml:"logging" json:"logging"`
	Telemetry TelemetryConfig           `yaml:"telemetry" json:"telemetry"`
}

// QueueConfig configures the trigger queue.
type QueueConfig struct {
	Capacity        int           `yaml:"capacity" json:"capacity" validate:"gte=1"`
	SubmitTimeout   time.Duration `yaml:"submit_timeout" json:"submit_timeout" validate:"gt=0"`
	DedupTTL        time.Duration `yaml:"dedup_ttl" json:"dedup_ttl" validate:"gt=0"`
	JanitorInterval time.Duration `yaml:"janitor_interval" json:"janitor_interval" validate:"gt=0"`
}

// AnalysisConfig configures the syntax analysis engine.
type AnalysisConfig struct {
	CacheCapacity  int           `yaml:"cache_capacity" json:"cache_capacity" validate:"gte=1"`
	MaxWindowNodes int           `yaml:"max_window_nodes" json:"max_window_nodes" validate:"gte=1"`
	MaxDepth       int           `yaml:"max_depth" json:"max_depth" validate:"gte=1"`
	MaxTreeNodes   int           `yaml:"max_tree_nodes" json:"max_tree_nodes" validate:"gte=1"`
	BuildTimeout   time.Duration `yaml:"build_timeout" json:"build_timeout" validate:"gt=0"`
}

// StrategyConfig configures the strategy library.
type StrategyConfig struct {
	// Threshold is the minimum similarity for identifier suggestions.
	Threshold float64 `yaml:"threshold" json:"threshold" validate:"gt=0,lte=1"`

	// Timeout bounds one strategy's Propose call.
	Timeout time.Duration `yaml:"timeout" json:"timeout" validate:"gt=0"`
}

// AuditConfig configures the fix application log.
type AuditConfig struct {
	// Path is the badger directory, relative paths resolved against Root.
	Path           string        `yaml:"path" json:"path" validate:"required_if=InMemory false"`
	InMemory       bool          `yaml:"in_memory" json:"in_memory"`
	SyncWrites     bool          `yaml:"sync_writes" json:"sync_writes"`
	GCInterval     time.Duration `yaml:"gc_interval" json:"gc_interval" validate:"gte=0"`
	GCDiscardRatio float64       `yaml:"gc_discard_ratio" json:"gc_discard_ratio" validate:"gt=0,lt=1"`
}

// WatchConfig configures the file watcher.
type WatchConfig struct {
	Enabled       bool `yaml:"enabled" json:"enabled"`
	watch.Options `yaml:",inline"`
}

// BridgeConfig configures the IDE bridge.
type BridgeConfig struct {
	MaxPending int `yaml:"max_pending" json:"max_pending" validate:"gte=1"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Addr string `yaml:"addr" json:"addr" validate:"required,hostname_port"`

	// DiagnosticsRate and DiagnosticsBurst limit diagnostic ingestion in
	// requests per second.
	DiagnosticsRate  float64       `yaml:"diagnostics_rate" json:"diagnostics_rate" validate:"gt=0"`
	DiagnosticsBurst int           `yaml:"diagnostics_burst" json:"diagnostics_burst" validate:"gte=1"`
	ShutdownTimeout  time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout" validate:"gt=0"`
}

// LoggingConfig configures pkg/logging.
type LoggingConfig struct {
	Level string `yaml:"level" json:"level" validate:"oneof=debug info warn warning error"`
	Dir   string `yaml:"dir" json:"dir"`
	JSON  bool   `yaml:"json" json:"json"`
	Quiet bool   `yaml:"quiet" json:"quiet"`
}

// TelemetryConfig configures OpenTelemetry exporters.
type TelemetryConfig struct {
	ServiceName string `yaml:"service_name" json:"service_name" validate:"required"`

	// Metrics is "prometheus", "stdout" or "none".
	Metrics string `yaml:"metrics" json:"metrics" validate:"oneof=prometheus stdout none"`

	// Traces is "otlp", "stdout" or "none".
	Traces       string  `yaml:"traces" json:"traces" validate:"oneof=otlp stdout none"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" json:"otlp_endpoint" validate:"required_if=Traces otlp"`
	SampleRate   float64 `yaml:"sample_rate" json:"sample_rate" validate:"gte=0,lte=1"`
}

var validate = validator.New()

// Default returns the embedded default configuration.
func Default() Config {
	var cfg Config
	if err := decode(defaultYAML, &cfg); err != nil {
		panic(fmt.Sprintf("config: embedded default.yaml is invalid: %v", err))
	}
	return cfg
}

// Load builds the configuration with priority env > file > defaults.
//
// Inputs:
//
//	path - YAML file to decode over the defaults. Empty skips the file.
//
// Outputs:
//
//	Config - The validated configuration.
//	error - Configuration failure for an unreadable or invalid file, a
//	malformed environment variable or a failed validation.
func Load(path string) (Config, error) {
	const op = "config.Load"
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, failure.Wrap(failure.KindConfiguration, op, err)
		}
		if err := decode(data, &cfg); err != nil {
			return cfg, failure.Wrap(failure.KindConfiguration, op, fmt.Errorf("parse %s: %w", path, err))
		}
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return cfg, failure.Wrap(failure.KindConfiguration, op, err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Validate checks field constraints and the cross-field rules the tags
// cannot express.
func (c Config) Validate() error {
	const op = "config.Validate"
	if err := validate.Struct(c); err != nil {
		return failure.Wrap(failure.KindConfiguration, op, err)
	}
	if err := c.Safety.Validate(); err != nil {
		return err
	}
	if err := c.Breaker.Validate(); err != nil {
		return err
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return failure.Wrap(failure.KindConfiguration, op, err)
	}
	return nil
}

// =============================================================================
// Conversions
// =============================================================================

// ToQueueConfig converts c to queue.Config.
func (c QueueConfig) ToQueueConfig() queue.Config {
	return queue.Config{
		Capacity:      c.Capacity,
		SubmitTimeout: c.SubmitTimeout,
		DedupTTL:      c.DedupTTL,
	}
}

// ToEngineConfig converts c to analysis.Config.
func (c AnalysisConfig) ToEngineConfig() analysis.Config {
	return analysis.Config{
		CacheCapacity:  c.CacheCapacity,
		MaxWindowNodes: c.MaxWindowNodes,
		MaxDepth:       c.MaxDepth,
		MaxTreeNodes:   c.MaxTreeNodes,
		BuildTimeout:   c.BuildTimeout,
	}
}

// ToStoreConfig returns the badger store configuration with Path resolved
// against root.
func (c AuditConfig) ToStoreConfig(root string, logger *slog.Logger) audit.StoreConfig {
	path := c.Path
	if path != "" && !filepath.IsAbs(path) {
		path = filepath.Join(root, path)
	}
	return audit.StoreConfig{
		Path:           path,
		InMemory:       c.InMemory,
		SyncWrites:     c.SyncWrites,
		GCInterval:     c.GCInterval,
		GCDiscardRatio: c.GCDiscardRatio,
		Logger:         logger,
	}
}

// ToLoggingConfig returns the pkg/logging configuration for service.
func (c LoggingConfig) ToLoggingConfig(service string) logging.Config {
	level, _ := logging.ParseLevel(c.Level)
	return logging.Config{
		Level:   level,
		LogDir:  c.Dir,
		Service: service,
		JSON:    c.JSON,
		Quiet:   c.Quiet,
	}
}

// ToTelemetryConfig converts c for telemetry.Init.
func (c TelemetryConfig) ToTelemetryConfig(version string) telemetry.Config {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceName = c.ServiceName
	cfg.ServiceVersion = version
	cfg.MetricExporter = c.Metrics
	cfg.TraceExporter = c.Traces
	cfg.OTLPEndpoint = c.OTLPEndpoint
	cfg.SampleRate = c.SampleRate
	return cfg
}
