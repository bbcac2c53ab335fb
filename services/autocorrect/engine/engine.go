// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package engine runs the correction pipeline.
//
// A fixed pool of workers pulls triggers from the queue. Each worker takes
// one trigger end to end: breaker admission, analysis, strategies, code
// generation, classification and the application gate. Every trigger ends
// in exactly one audit record and one outcome event.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/autocorrect/services/autocorrect/analysis"
	"github.com/AleutianAI/autocorrect/services/autocorrect/failure"
	"github.com/AleutianAI/autocorrect/services/autocorrect/fix"
	"github.com/AleutianAI/autocorrect/services/autocorrect/queue"
	"github.com/AleutianAI/autocorrect/services/autocorrect/safety"
	"github.com/AleutianAI/autocorrect/services/autocorrect/strategy"
	"github.com/AleutianAI/autocorrect/services/autocorrect/supervision"
	"github.com/AleutianAI/autocorrect/services/autocorrect/telemetry"
	"github.com/AleutianAI/autocorrect/services/autocorrect/trigger"
)

// Pipeline stages reported as latency events, in addition to the parse and
// analysis stages reported by the analysis engine.
const (
	StageStrategies = "strategies"
	StageCodegen    = "codegen"
	StageGate       = "gate"
	StageTrigger    = "trigger"
)

// Default configuration values.
const (
	DefaultWorkers        = 4
	DefaultTriggerTimeout = 2 * time.Second
)

// Analyzer builds analysis contexts. *analysis.Engine satisfies it.
type Analyzer interface {
	Analyze(ctx context.Context, t *trigger.Trigger) (*analysis.Context, error)
}

// Proposer runs the strategy library. *strategy.Library satisfies it.
type Proposer interface {
	Run(ctx context.Context, actx *analysis.Context, t *trigger.Trigger) (strategy.Result, error)
}

// Materializer validates candidates. *codegen.Materializer satisfies it.
type Materializer interface {
	Materialize(ctx context.Context, cand fix.Candidate, actx *analysis.Context) (*fix.ValidatedEdit, error)
}

// Admitter grants automatic application. *supervision.Breaker satisfies it.
//
// Admit is asked when a trigger starts; Guard wraps the write itself so a
// trip while the trigger is in flight still suppresses it.
type Admitter interface {
	Admit() supervision.Admission
	Guard(write func() error) (bool, error)
}

// Config configures the worker pool.
type Config struct {
	// Workers is the number of concurrent workers.
	Workers int `yaml:"workers" json:"workers" validate:"gte=1"`

	// TriggerTimeout bounds the processing of one trigger.
	TriggerTimeout time.Duration `yaml:"trigger_timeout" json:"trigger_timeout" validate:"gt=0"`
}

// DefaultConfig returns the default pool configuration.
func DefaultConfig() Config {
	return Config{Workers: DefaultWorkers, TriggerTimeout: DefaultTriggerTimeout}
}

// Deps are the pipeline stages an Engine drives. All are required.
type Deps struct {
	Queue        *queue.Queue
	Analyzer     Analyzer
	Strategies   Proposer
	Materializer Materializer
	Classifier   *safety.Classifier
	Gate         *safety.Gate
	Breaker      Admitter
	Bus          *supervision.Bus
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// Engine is the worker pool.
//
// Thread Safety: Safe for concurrent use. Process may be called directly
// while workers are running.
type Engine struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// New creates an engine.
//
// Outputs:
//
//	*Engine - The engine, not yet started.
//	error - Configuration failure for missing stages or invalid limits.
func New(cfg Config, deps Deps, opts ...Option) (*Engine, error) {
	const op = "engine.New"
	if cfg.Workers < 1 || cfg.TriggerTimeout <= 0 {
		return nil, failure.Newf(failure.KindConfiguration, op, "workers must be >= 1 and trigger timeout positive, got %d and %s", cfg.Workers, cfg.TriggerTimeout)
	}
	missing := map[string]bool{
		"queue":        deps.Queue == nil,
		"analyzer":     deps.Analyzer == nil,
		"strategies":   deps.Strategies == nil,
		"materializer": deps.Materializer == nil,
		"classifier":   deps.Classifier == nil,
		"gate":         deps.Gate == nil,
		"breaker":      deps.Breaker == nil,
		"bus":          deps.Bus == nil,
	}
	for _, name := range []string{"queue", "analyzer", "strategies", "materializer", "classifier", "gate", "breaker", "bus"} {
		if missing[name] {
			return nil, failure.Newf(failure.KindConfiguration, op, "missing %s", name)
		}
	}

	e := &Engine{
		cfg:    cfg,
		deps:   deps,
		logger: slog.Default().With("component", "engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Start launches the workers. They run until ctx is done, Stop is called
// or the queue is closed and drained.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return errors.New("engine already started")
	}
	e.started = true

	ctx, e.cancel = context.WithCancel(ctx)
	for i := 0; i < e.cfg.Workers; i++ {
		e.wg.Add(1)
		go e.worker(ctx, i)
	}
	e.logger.Info("engine started", slog.Int("workers", e.cfg.Workers))
	return nil
}

// Stop cancels the workers and waits for them to return. In-flight
// triggers are abandoned at their next cancellation point.
func (e *Engine) Stop() {
	e.mu.Lock()
	cancel := e.cancel
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	e.wg.Wait()
}

// Wait blocks until every worker has returned, e.g. after the queue was
// closed and drained.
func (e *Engine) Wait() {
	e.wg.Wait()
}

func (e *Engine) worker(ctx context.Context, id int) {
	defer e.wg.Done()
	logger := e.logger.With(slog.Int("worker", id))
	for {
		t, err := e.deps.Queue.Next(ctx)
		if err != nil {
			if !errors.Is(err, queue.ErrClosed) && !errors.Is(err, context.Canceled) {
				logger.Warn("worker stopped", slog.String("error", err.Error()))
			}
			return
		}
		if _, err := e.Process(ctx, t); err != nil {
			logger.Error("trigger failed",
				slog.String("trigger_id", t.ID()),
				slog.String("file", t.File()),
				slog.String("error", err.Error()))
		}
	}
}

// Process runs one trigger through the pipeline.
//
// # Description
//
// The breaker is consulted first; its admission travels with the trigger
// so a probe claimed here is resolved by this trigger's outcome. Analysis
// failures and the absence of a qualifying candidate are recorded as
// Rejected. Candidates are materialized best first; the first valid edit
// is classified and handed to the gate. When every candidate fails
// validation the best one is recorded as a CodeGeneration rejection.
// Exceeding the per-trigger timeout records Rejected with
// OperationTimeout.
//
// # Outputs
//
//   - fix.Record: The appended record.
//   - error: Write or audit failures reported by the gate.
func (e *Engine) Process(ctx context.Context, t *trigger.Trigger) (fix.Record, error) {
	if t == nil {
		return fix.Record{}, failure.New(failure.KindDiagnosticProcessing, "engine.Process", "nil trigger")
	}
	start := time.Now()
	adm := e.deps.Breaker.Admit()

	ctx, span := startTriggerSpan(ctx, t, adm)
	defer span.End()

	tctx, cancel := context.WithTimeout(ctx, e.cfg.TriggerTimeout)
	defer cancel()

	rec, err := e.run(tctx, t, adm)
	telemetry.RecordError(span, err)
	span.SetAttributes(
		attribute.String("autocorrect.decision", rec.Decision.String()),
		attribute.String("autocorrect.failure", rec.Failure.String()))

	elapsed := time.Since(start)
	e.deps.Bus.ObserveLatency(StageTrigger, elapsed)
	e.deps.Bus.Publish(supervision.Event{
		Kind:      supervision.EventOutcome,
		TriggerID: t.ID(),
		File:      t.File(),
		Decision:  rec.Decision,
		Failure:   rec.Failure,
		Probe:     adm.Probe,
	})
	recordTriggerMetrics(ctx, t.Kind().String(), rec.Decision, elapsed)
	return rec, err
}

func (e *Engine) run(ctx context.Context, t *trigger.Trigger, adm supervision.Admission) (fix.Record, error) {
	base := fix.Record{
		TriggerID:   t.ID(),
		TriggerKind: t.Kind().String(),
		File:        t.File(),
	}

	actx, err := e.deps.Analyzer.Analyze(ctx, t)
	if err != nil {
		return e.reject(ctx, base, err)
	}

	stageStart := time.Now()
	result, err := e.deps.Strategies.Run(ctx, actx, t)
	e.deps.Bus.ObserveLatency(StageStrategies, time.Since(stageStart))
	if err != nil {
		return e.reject(ctx, base, err)
	}
	if len(result.Candidates) == 0 {
		base.Reason = fix.ReasonNoCandidate
		return e.deps.Gate.Reject(ctx, base)
	}

	stageStart = time.Now()
	ve, err := e.firstValid(ctx, result.Candidates, actx)
	e.deps.Bus.ObserveLatency(StageCodegen, time.Since(stageStart))
	if err != nil {
		return e.reject(ctx, base, err)
	}

	level := e.deps.Classifier.Classify(ve)
	opts := []safety.RecordOption{safety.WithTriggerKind(base.TriggerKind)}
	if adm.Probe {
		opts = append(opts, safety.WithReason("breaker probe"))
	} else if adm.State != supervision.Closed {
		opts = append(opts, safety.WithReason("breaker "+adm.State.String()))
	}

	stageStart = time.Now()
	var permit safety.Permit
	if adm.Permit {
		permit = e.deps.Breaker
	}
	rec, err := e.deps.Gate.Decide(ctx, ve, level, permit, opts...)
	e.deps.Bus.ObserveLatency(StageGate, time.Since(stageStart))
	if err != nil && ctx.Err() != nil && rec.Seq == 0 {
		return e.reject(ctx, base, ctx.Err())
	}
	return rec, err
}

// firstValid materializes candidates in rank order and returns the first
// valid edit, or the best candidate's invalid edit when none validates.
func (e *Engine) firstValid(ctx context.Context, cands []fix.Candidate, actx *analysis.Context) (*fix.ValidatedEdit, error) {
	var first *fix.ValidatedEdit
	for _, c := range cands {
		ve, err := e.deps.Materializer.Materialize(ctx, c, actx)
		if ve == nil {
			if err == nil {
				err = failure.Newf(failure.KindCodeGeneration, "engine.Process", "no edit materialized for candidate %s", c.ID)
			}
			return nil, err
		}
		if ve.Valid {
			return ve, nil
		}
		e.logger.Debug("candidate failed validation",
			slog.String("candidate", c.ID),
			slog.String("strategy", c.Strategy),
			slog.String("reason", ve.Failure))
		if first == nil {
			first = ve
		}
	}
	return first, nil
}

// reject records a trigger that ended without a decidable edit. The
// record is written even when ctx has expired.
func (e *Engine) reject(ctx context.Context, rec fix.Record, cause error) (fix.Record, error) {
	kind := failure.KindOf(cause)
	if errors.Is(cause, context.DeadlineExceeded) || (kind == failure.KindUnknown && ctx.Err() != nil) {
		kind = failure.KindOperationTimeout
	}
	if kind == failure.KindUnknown {
		kind = failure.KindAstAnalysis
	}
	rec.Failure = kind
	rec.Reason = cause.Error()
	if kind == failure.KindOperationTimeout {
		rec.Reason = fmt.Sprintf("trigger timed out after %s", e.cfg.TriggerTimeout)
	}

	telemetry.LoggerWithTrigger(ctx, e.logger, rec.TriggerID, rec.File).Warn("trigger rejected",
		slog.String("failure", kind.String()),
		slog.String("error", cause.Error()))
	return e.deps.Gate.Reject(context.WithoutCancel(ctx), rec)
}
