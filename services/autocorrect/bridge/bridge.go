// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package bridge holds the code actions offered to the IDE.
//
// Edits the gate does not apply automatically become pending code actions.
// IDE clients list them or stream them over a websocket and answer with an
// accept or reject, which is appended to the audit log as a manual
// override. Accepting writes the edit through the same serialized writer
// the gate uses.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/autocorrect/services/autocorrect/ast"
	"github.com/AleutianAI/autocorrect/services/autocorrect/audit"
	"github.com/AleutianAI/autocorrect/services/autocorrect/failure"
	"github.com/AleutianAI/autocorrect/services/autocorrect/fix"
	"github.com/AleutianAI/autocorrect/services/autocorrect/safety"
)

// DefaultMaxPending bounds the number of unanswered code actions.
const DefaultMaxPending = 1024

// ErrActionNotFound is returned for unknown or already resolved actions.
var ErrActionNotFound = errors.New("code action not found")

// CodeAction is an edit offered to the IDE for review.
type CodeAction struct {
	ID          string          `json:"id"`
	TriggerID   string          `json:"trigger_id"`
	File        string          `json:"file"`
	Span        ast.Span        `json:"span"`
	OldText     string          `json:"old_text"`
	Replacement string          `json:"replacement"`
	Strategy    string          `json:"strategy"`
	Rationale   string          `json:"rationale"`
	Reason      string          `json:"reason"`
	Confidence  float64         `json:"confidence"`
	Safety      fix.SafetyLevel `json:"safety"`
	Diff        string          `json:"diff,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// EventType identifies a stream event.
type EventType string

const (
	EventOffered  EventType = "offered"
	EventAccepted EventType = "accepted"
	EventRejected EventType = "rejected"
	EventExpired  EventType = "expired"
)

// Event is one code action change pushed to stream subscribers.
type Event struct {
	Type   EventType  `json:"type"`
	Action CodeAction `json:"action"`
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithMaxPending bounds the pending set; the oldest action expires when a
// new one would exceed it.
func WithMaxPending(n int) Option {
	return func(b *Bridge) {
		if n > 0 {
			b.maxPending = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bridge) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(b *Bridge) { b.now = now }
}

type pending struct {
	action CodeAction
	edit   fix.Edit
	cand   fix.Candidate
}

// Bridge is the pending code action set and its subscribers.
//
// It implements safety.CodeActionSink.
//
// Thread Safety: Safe for concurrent use.
type Bridge struct {
	writer     safety.Writer
	log        audit.Log
	logger     *slog.Logger
	now        func() time.Time
	maxPending int

	mu      sync.Mutex
	actions map[string]*pending
	order   []string

	hub *hub
}

// New creates a bridge that applies accepted actions through writer and
// records overrides in log.
func New(writer safety.Writer, log audit.Log, opts ...Option) (*Bridge, error) {
	if writer == nil || log == nil {
		return nil, failure.New(failure.KindConfiguration, "bridge.New", "writer and audit log are required")
	}
	b := &Bridge{
		writer:     writer,
		log:        log,
		logger:     slog.Default().With("component", "bridge"),
		now:        time.Now,
		maxPending: DefaultMaxPending,
		actions:    make(map[string]*pending),
		hub:        newHub(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Offer implements safety.CodeActionSink.
func (b *Bridge) Offer(ctx context.Context, ve *fix.ValidatedEdit, reason string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if ve == nil {
		return "", errors.New("nil validated edit")
	}
	cand := ve.Candidate
	action := CodeAction{
		ID:          uuid.NewString(),
		TriggerID:   cand.TriggerID,
		File:        cand.Edit.File,
		Span:        cand.Edit.Span,
		OldText:     cand.Edit.OldText,
		Replacement: cand.Edit.NewText,
		Strategy:    cand.Strategy,
		Rationale:   cand.Rationale,
		Reason:      reason,
		Confidence:  cand.Confidence,
		Safety:      ve.Safety,
		Diff:        ve.Diff,
		CreatedAt:   b.now(),
	}

	b.mu.Lock()
	var expired []CodeAction
	for len(b.order) >= b.maxPending {
		oldest := b.order[0]
		b.order = b.order[1:]
		if p, ok := b.actions[oldest]; ok {
			expired = append(expired, p.action)
			delete(b.actions, oldest)
		}
	}
	b.actions[action.ID] = &pending{action: action, edit: cand.Edit, cand: cand}
	b.order = append(b.order, action.ID)
	b.mu.Unlock()

	for _, a := range expired {
		b.logger.Warn("code action expired", slog.String("action", a.ID), slog.String("file", a.File))
		b.hub.publish(Event{Type: EventExpired, Action: a})
	}
	b.hub.publish(Event{Type: EventOffered, Action: action})
	return action.ID, nil
}

// Pending returns the unanswered actions, oldest first. A non-empty file
// restricts the result to that file.
func (b *Bridge) Pending(file string) []CodeAction {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]CodeAction, 0, len(b.order))
	for _, id := range b.order {
		p := b.actions[id]
		if p == nil || (file != "" && p.action.File != file) {
			continue
		}
		out = append(out, p.action)
	}
	return out
}

// Get returns one pending action.
func (b *Bridge) Get(id string) (CodeAction, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.actions[id]
	if !ok {
		return CodeAction{}, false
	}
	return p.action, true
}

// Accept applies the action's edit and records the override. An action
// whose write fails for any reason other than a stale file stays pending.
//
// Outputs:
//
//	fix.Record - The override record.
//	error - ErrActionNotFound, or the write failure (also recorded).
func (b *Bridge) Accept(ctx context.Context, id string) (fix.Record, error) {
	return b.resolve(ctx, id, true)
}

// Reject discards the action and records the override.
func (b *Bridge) Reject(ctx context.Context, id string) (fix.Record, error) {
	return b.resolve(ctx, id, false)
}

func (b *Bridge) resolve(ctx context.Context, id string, accept bool) (fix.Record, error) {
	b.mu.Lock()
	p, ok := b.actions[id]
	if ok {
		delete(b.actions, id)
		for i, oid := range b.order {
			if oid == id {
				b.order = append(b.order[:i], b.order[i+1:]...)
				break
			}
		}
	}
	b.mu.Unlock()
	if !ok {
		return fix.Record{}, fmt.Errorf("%w: %s", ErrActionNotFound, id)
	}

	cand := p.cand
	rec := fix.Record{
		TriggerID: p.action.TriggerID,
		File:      p.action.File,
		Candidate: &cand,
		Decision:  fix.QueuedForReview,
		Safety:    p.action.Safety,
		ActionID:  id,
		Override:  &fix.Override{ActionID: id, Accepted: accept},
		Reason:    "rejected by reviewer",
	}

	var (
		opErr    error
		restored bool
	)
	if accept {
		rec.Reason = "accepted by reviewer"
		if err := b.writer.Apply(ctx, p.edit); err != nil {
			opErr = failure.Wrap(failure.KindFileOperation, "bridge.Accept", err)
			rec.Failure = failure.KindFileOperation
			rec.Reason = fmt.Sprintf("accepted by reviewer, write failed: %v", err)
			// A stale edit can never apply; any other failure may be retried.
			if !errors.Is(err, fix.ErrPrecondition) {
				b.restore(id, p)
				restored = true
			}
		} else {
			rec.Override.Applied = true
			rec.Diff = p.action.Diff
		}
	}

	stored, err := b.log.Append(context.WithoutCancel(ctx), rec)
	if err != nil {
		return rec, errors.Join(opErr, fmt.Errorf("append override: %w", err))
	}

	if !restored {
		evt := EventRejected
		if accept {
			evt = EventAccepted
		}
		b.hub.publish(Event{Type: evt, Action: p.action})
	}
	b.logger.Info("code action resolved",
		slog.String("action", id),
		slog.String("file", p.action.File),
		slog.Bool("accepted", accept),
		slog.Bool("applied", rec.Override.Applied))
	return stored, opErr
}

// restore puts a pending action back in offer order after a failed accept.
func (b *Bridge) restore(id string, p *pending) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.actions[id]; ok {
		return
	}
	at := slices.IndexFunc(b.order, func(oid string) bool {
		q := b.actions[oid]
		return q != nil && q.action.CreatedAt.After(p.action.CreatedAt)
	})
	if at < 0 {
		at = len(b.order)
	}
	b.actions[id] = p
	b.order = slices.Insert(b.order, at, id)
}

// Subscribe registers a stream subscriber. The returned cancel function
// must be called to release it.
func (b *Bridge) Subscribe(buffer int) (<-chan Event, func()) {
	return b.hub.subscribe(buffer)
}

// Subscribers returns the number of live subscribers.
func (b *Bridge) Subscribers() int {
	return b.hub.len()
}

// =============================================================================
// Hub
// =============================================================================

type hub struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
}

func newHub() *hub {
	return &hub{subs: make(map[chan Event]struct{})}
}

func (h *hub) subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// publish delivers e to every subscriber that has room; slow subscribers
// miss events rather than block the pipeline.
func (h *hub) publish(e Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (h *hub) len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
