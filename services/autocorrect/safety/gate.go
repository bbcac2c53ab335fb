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
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/autocorrect/services/autocorrect/audit"
	"github.com/AleutianAI/autocorrect/services/autocorrect/failure"
	"github.com/AleutianAI/autocorrect/services/autocorrect/fix"
)

// Writer applies an edit to its file. Implementations serialize writes
// per file and check the edit precondition against current content.
type Writer interface {
	Apply(ctx context.Context, edit fix.Edit) error
}

// CodeActionSink receives edits that need human review.
type CodeActionSink interface {
	// Offer publishes ve as a code action and returns the action id.
	Offer(ctx context.Context, ve *fix.ValidatedEdit, reason string) (string, error)
}

// Permit guards automatic application. Guard runs write only if
// automatic application is allowed at that moment and reports whether it
// ran. *supervision.Breaker satisfies it.
type Permit interface {
	Guard(write func() error) (bool, error)
}

// Gate turns classified edits into decisions and records every outcome.
//
// Thread Safety: Safe for concurrent use if its collaborators are.
type Gate struct {
	writer Writer
	sink   CodeActionSink
	log    audit.Log
	logger *slog.Logger
	now    func() time.Time
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithLogger sets the gate's logger.
func WithLogger(logger *slog.Logger) GateOption {
	return func(g *Gate) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithClock replaces time.Now for record timestamps.
func WithClock(now func() time.Time) GateOption {
	return func(g *Gate) {
		if now != nil {
			g.now = now
		}
	}
}

// NewGate creates a gate.
//
// Inputs:
//
//	writer - Applies Safe edits. Required.
//	sink - Receives edits queued for review. Required.
//	log - Audit log every decision is appended to. Required.
//
// Outputs:
//
//	*Gate - The gate.
//	error - Configuration failure if a collaborator is nil.
func NewGate(writer Writer, sink CodeActionSink, log audit.Log, opts ...GateOption) (*Gate, error) {
	if writer == nil || sink == nil || log == nil {
		return nil, failure.New(failure.KindConfiguration, "safety.NewGate", "writer, code action sink and audit log are required")
	}
	g := &Gate{
		writer: writer,
		sink:   sink,
		log:    log,
		logger: slog.Default().With("component", "gate"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// RecordOption adds context to the record the gate writes.
type RecordOption func(*fix.Record)

// WithTriggerKind records the kind of the trigger being decided.
func WithTriggerKind(kind string) RecordOption {
	return func(r *fix.Record) { r.TriggerKind = kind }
}

// WithReason prefixes the record's reason, e.g. with the breaker state.
func WithReason(prefix string) RecordOption {
	return func(r *fix.Record) {
		if prefix != "" {
			r.Reason = prefix + ": " + r.Reason
		}
	}
}

// Decide applies, queues or rejects ve.
//
// Description:
//
//	The effective level is the riskier of level and the level validation
//	assigned to ve, so an invalid edit is always rejected.
//	Safe with permit     - written through the Writer; AutoApplied.
//	Safe without permit  - offered as a code action; QueuedForReview.
//	The permit is consulted at write time, not when the trigger was
//	admitted; a Safe edit it refuses is queued for review.
//	Caution              - offered as a code action; QueuedForReview.
//	Unsafe               - Rejected.
//	A failed write is recorded as Rejected with FileOperation and
//	returned; it is never retried. Every outcome is appended to the audit
//	log before Decide returns.
//
// Inputs:
//
//	ctx - Context for the write, the offer and the append.
//	ve - The validated edit.
//	level - The classifier's level.
//	permit - Guards the write. Nil never permits.
//	opts - Extra record fields.
//
// Outputs:
//
//	fix.Record - The appended record (Seq assigned).
//	error - Write, offer or append failure.
func (g *Gate) Decide(ctx context.Context, ve *fix.ValidatedEdit, level fix.SafetyLevel, permit Permit, opts ...RecordOption) (fix.Record, error) {
	if ve == nil {
		return fix.Record{}, failure.New(failure.KindCodeGeneration, "safety.Decide", "nil validated edit")
	}
	start := time.Now()
	level = fix.MoreRisky(level, ve.Safety)
	if !ve.Valid {
		level = fix.Unsafe
	}

	cand := ve.Candidate
	rec := fix.Record{
		ID:        uuid.NewString(),
		TriggerID: cand.TriggerID,
		File:      cand.Edit.File,
		Candidate: &cand,
		Safety:    level,
		Timestamp: g.now(),
	}

	applied := false
	var opErr error
	if level == fix.Safe && permit != nil {
		var err error
		applied, err = permit.Guard(func() error { return g.writer.Apply(ctx, cand.Edit) })
		switch {
		case err != nil:
			opErr = failure.Wrap(failure.KindFileOperation, "safety.Decide", err)
			rec.Decision = fix.Rejected
			rec.Failure = failure.KindFileOperation
			rec.Reason = fmt.Sprintf("write failed: %v", err)
		case applied:
			rec.Decision = fix.AutoApplied
			rec.Diff = ve.Diff
			rec.Reason = cand.Rationale
		}
	}

	switch {
	case applied || opErr != nil:

	case level == fix.Unsafe:
		rec.Decision = fix.Rejected
		rec.Reason = "unsafe edit"
		if !ve.Valid {
			rec.Failure = failure.KindCodeGeneration
			if ve.Failure != "" {
				rec.Reason = ve.Failure
			}
		}

	default:
		reason := "caution: review required"
		if level == fix.Safe {
			reason = "automatic application suspended"
		}
		id, err := g.sink.Offer(ctx, ve, reason)
		if err != nil {
			opErr = fmt.Errorf("offer code action: %w", err)
			rec.Decision = fix.Rejected
			rec.Reason = fmt.Sprintf("code action could not be offered: %v", err)
			break
		}
		rec.Decision = fix.QueuedForReview
		rec.ActionID = id
		rec.Diff = ve.Diff
		rec.Reason = reason
	}

	for _, opt := range opts {
		opt(&rec)
	}

	stored, err := g.log.Append(ctx, rec)
	recordDecisionMetrics(ctx, rec.Decision, rec.Safety, time.Since(start))
	if err != nil {
		g.logger.Error("audit append failed",
			slog.String("record", rec.ID),
			slog.String("error", err.Error()))
		return rec, errors.Join(opErr, fmt.Errorf("append record: %w", err))
	}

	g.logger.Info("edit decided",
		slog.String("file", stored.File),
		slog.String("strategy", cand.Strategy),
		slog.String("decision", stored.Decision.String()),
		slog.String("safety", stored.Safety.String()),
		slog.Float64("confidence", cand.Confidence))
	return stored, opErr
}

// Reject records a decision for a trigger that produced no applicable
// edit, e.g. when no candidate qualified or analysis failed.
func (g *Gate) Reject(ctx context.Context, rec fix.Record) (fix.Record, error) {
	rec.Decision = fix.Rejected
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = g.now()
	}
	stored, err := g.log.Append(ctx, rec)
	recordDecisionMetrics(ctx, rec.Decision, rec.Safety, 0)
	if err != nil {
		return rec, fmt.Errorf("append record: %w", err)
	}
	return stored, nil
}
