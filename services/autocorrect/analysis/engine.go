// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package analysis builds the analysis context handed to correction
// strategies: the primary syntax node at a trigger span, a bounded window of
// surrounding nodes, the identifiers visible at the span and the file's
// imports.
//
// File analyses are cached per (path, content hash). A cache hit costs a map
// lookup; concurrent misses for the same key share one parse.
package analysis

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/autocorrect/services/autocorrect/ast"
	"github.com/AleutianAI/autocorrect/services/autocorrect/failure"
	"github.com/AleutianAI/autocorrect/services/autocorrect/trigger"
)

// Default configuration values.
const (
	DefaultCacheCapacity  = 128
	DefaultMaxWindowNodes = 32
	DefaultMaxDepth       = 16
	DefaultMaxTreeNodes   = 500_000
	DefaultBuildTimeout   = 5 * time.Second
)

// Latency stages reported to the LatencyObserver.
const (
	StageParse    = "parse"
	StageAnalysis = "analysis"
)

// Reader reads file content.
type Reader interface {
	Read(path string) ([]byte, error)
}

// LatencyObserver receives per-stage latencies.
type LatencyObserver interface {
	ObserveLatency(stage string, d time.Duration)
}

// Config configures an Engine.
type Config struct {
	// CacheCapacity is the number of file analyses kept.
	CacheCapacity int

	// MaxWindowNodes and MaxDepth bound the context window.
	MaxWindowNodes int
	MaxDepth       int

	// MaxTreeNodes rejects files whose tree is larger.
	MaxTreeNodes int

	// BuildTimeout bounds one parse and symbol extraction.
	BuildTimeout time.Duration
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		CacheCapacity:  DefaultCacheCapacity,
		MaxWindowNodes: DefaultMaxWindowNodes,
		MaxDepth:       DefaultMaxDepth,
		MaxTreeNodes:   DefaultMaxTreeNodes,
		BuildTimeout:   DefaultBuildTimeout,
	}
}

// Option configures an Engine.
type Option func(*Engine)

// WithLatencyObserver reports parse and analysis latencies to o.
func WithLatencyObserver(o LatencyObserver) Option {
	return func(e *Engine) { e.observer = o }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// Engine produces analysis contexts for triggers.
//
// Thread Safety: Safe for concurrent use.
type Engine struct {
	files    Reader
	parsers  *ast.ParserRegistry
	cfg      Config
	cache    *Cache
	observer LatencyObserver
	logger   *slog.Logger
}

// NewEngine creates an analysis engine.
//
// Outputs:
//
//	*Engine - The engine.
//	error - Configuration failure for non-positive limits.
func NewEngine(files Reader, parsers *ast.ParserRegistry, cfg Config, opts ...Option) (*Engine, error) {
	const op = "analysis.NewEngine"
	switch {
	case files == nil:
		return nil, failure.New(failure.KindConfiguration, op, "file reader is required")
	case parsers == nil:
		return nil, failure.New(failure.KindConfiguration, op, "parser registry is required")
	case cfg.CacheCapacity <= 0:
		return nil, failure.Newf(failure.KindConfiguration, op, "cache capacity must be positive, got %d", cfg.CacheCapacity)
	case cfg.MaxWindowNodes <= 0 || cfg.MaxDepth <= 0:
		return nil, failure.Newf(failure.KindConfiguration, op, "window limits must be positive, got %d nodes / depth %d", cfg.MaxWindowNodes, cfg.MaxDepth)
	case cfg.MaxTreeNodes <= 0:
		return nil, failure.Newf(failure.KindConfiguration, op, "max tree nodes must be positive, got %d", cfg.MaxTreeNodes)
	case cfg.BuildTimeout <= 0:
		return nil, failure.Newf(failure.KindConfiguration, op, "build timeout must be positive, got %s", cfg.BuildTimeout)
	}

	e := &Engine{
		files:   files,
		parsers: parsers,
		cfg:     cfg,
		cache:   NewCache(cfg.CacheCapacity),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "analysis")
	return e, nil
}

// Analyze returns the analysis context for t.
//
// Description:
//
//	Reads t's file and rejects the trigger when the file changed since the
//	trigger was created. The file analysis comes from the cache or is built
//	by parsing. Triggers other than AstAnalysis ones are rejected when the
//	top-level declaration around the span does not parse: strategies only
//	run on syntactically sound regions.
//
// Outputs:
//
//	*Context - The context for t's span.
//	error - FileOperation failure when the file cannot be read;
//	        DiagnosticProcessing failure for stale triggers; AstAnalysis
//	        failure for parse failures and unmappable spans;
//	        ResourceExhausted failure for trees over MaxTreeNodes.
func (e *Engine) Analyze(ctx context.Context, t *trigger.Trigger) (*Context, error) {
	const op = "analysis.Analyze"
	if t == nil {
		return nil, failure.New(failure.KindAstAnalysis, op, "nil trigger")
	}

	content, err := e.files.Read(t.File())
	if err != nil {
		return nil, failure.Wrap(failure.KindFileOperation, op, err)
	}
	if trigger.HashContent(content) != t.FileHash() {
		return nil, failure.Newf(failure.KindDiagnosticProcessing, op, "stale trigger: %s changed since the trigger was created", t.File())
	}

	actx, err := e.analyze(ctx, t.File(), content, t.Span())
	if err != nil {
		return nil, err
	}

	if t.Kind() != trigger.KindAstAnalysis {
		if diag, ok := diagnosticNear(actx); ok {
			return nil, failure.Newf(failure.KindAstAnalysis, op, "parse failure at %s: %s", diag.Position, diag.Message)
		}
	}
	return actx, nil
}

// AnalyzeContent returns the analysis context for span in content, which is
// taken as the current content of path.
func (e *Engine) AnalyzeContent(ctx context.Context, path string, content []byte, span ast.Span) (*Context, error) {
	return e.analyze(ctx, path, content, span)
}

// Load returns the file analysis of content, from the cache when possible.
func (e *Engine) Load(ctx context.Context, path string, content []byte) (*FileAnalysis, error) {
	fa, _, err := e.load(ctx, path, content)
	return fa, err
}

func (e *Engine) analyze(ctx context.Context, path string, content []byte, span ast.Span) (*Context, error) {
	const op = "analysis.Analyze"
	start := time.Now()
	ctx, sp := startAnalyzeSpan(ctx, path, span.String())
	defer sp.End()

	fa, hit, err := e.load(ctx, path, content)
	if err != nil {
		sp.RecordError(err)
		sp.SetStatus(codes.Error, "load failed")
		recordAnalyzeMetrics(ctx, "", time.Since(start), hit, false)
		return nil, err
	}

	actx := fa.Context(span, WindowLimits{MaxNodes: e.cfg.MaxWindowNodes, MaxDepth: e.cfg.MaxDepth})
	elapsed := time.Since(start)
	e.observe(StageAnalysis, elapsed)
	recordAnalyzeMetrics(ctx, fa.Tree.Language, elapsed, hit, actx != nil)
	sp.SetAttributes(attribute.Bool("analysis.cache_hit", hit))

	if actx == nil {
		sp.SetStatus(codes.Error, "span unmapped")
		return nil, failure.Newf(failure.KindAstAnalysis, op, "span %s does not map to a syntax node in %s", span, path)
	}
	return actx, nil
}

func (e *Engine) load(ctx context.Context, path string, content []byte) (*FileAnalysis, bool, error) {
	const op = "analysis.build"
	hash := trigger.HashContent(content)

	fa, hit, err := e.cache.GetOrBuild(ctx, path, hash, func(buildCtx context.Context) (*FileAnalysis, error) {
		parser, err := e.parsers.ForPath(path)
		if err != nil {
			return nil, failure.Wrap(failure.KindAstAnalysis, op, err)
		}

		buildCtx, cancel := context.WithTimeout(buildCtx, e.cfg.BuildTimeout)
		defer cancel()

		parseStart := time.Now()
		tree, diags, err := parser.Parse(buildCtx, content)
		e.observe(StageParse, time.Since(parseStart))
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, failure.Wrap(failure.KindOperationTimeout, op, err)
			}
			return nil, failure.Wrap(failure.KindAstAnalysis, op, err)
		}
		if len(tree.Nodes) > e.cfg.MaxTreeNodes {
			return nil, failure.Newf(failure.KindResourceExhausted, op,
				"%s has %d syntax nodes, limit is %d", path, len(tree.Nodes), e.cfg.MaxTreeNodes)
		}

		e.logger.Debug("file analyzed", "file", path, "nodes", len(tree.Nodes), "diagnostics", len(diags))
		return newFileAnalysis(path, tree, diags), nil
	})
	return fa, hit, err
}

func (e *Engine) observe(stage string, d time.Duration) {
	if e.observer != nil {
		e.observer.ObserveLatency(stage, d)
	}
}

// diagnosticNear returns the first parser diagnostic inside the top-level
// declaration that contains the context's primary node.
func diagnosticNear(c *Context) (ast.ParseDiagnostic, bool) {
	region := c.Primary.TopLevel()
	if region == nil {
		region = c.Tree().Root
	}
	for _, d := range c.Diagnostics() {
		if region.Span.Contains(d.Span) || region.Span.Overlaps(d.Span) {
			return d, true
		}
	}
	return ast.ParseDiagnostic{}, false
}

// Invalidate drops every cached analysis of path.
func (e *Engine) Invalidate(path string) {
	if n := e.cache.InvalidateFile(path); n > 0 {
		e.logger.Debug("analysis cache invalidated", "file", path, "entries", n)
	}
}

// CacheStats returns the analysis cache counters.
func (e *Engine) CacheStats() CacheStats {
	return e.cache.Stats()
}
