// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package strategy holds the correction strategies and the library that runs
// them.
//
// # Description
//
// A Strategy inspects an analysis context and a trigger and proposes zero or
// more candidates. The Library runs every registered strategy concurrently,
// each bounded by its own timeout, then merges the proposals: when two
// candidates touch overlapping spans the one with the higher confidence is
// kept, and an exact tie goes to the strategy registered with the lower
// priority value.
//
// # Thread Safety
//
// Strategies must be safe for concurrent use; the analysis context they
// receive is shared and read-only.
package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/autocorrect/services/autocorrect/analysis"
	"github.com/AleutianAI/autocorrect/services/autocorrect/failure"
	"github.com/AleutianAI/autocorrect/services/autocorrect/fix"
	"github.com/AleutianAI/autocorrect/services/autocorrect/trigger"
)

// DefaultTimeout bounds one strategy invocation.
const DefaultTimeout = 500 * time.Millisecond

// Strategy proposes candidate edits for a trigger.
type Strategy interface {
	// Name returns the strategy id recorded on its candidates.
	Name() string

	// Propose returns candidate edits. Returning no candidates and a nil
	// error means the strategy does not apply.
	Propose(ctx context.Context, actx *analysis.Context, t *trigger.Trigger) ([]fix.Candidate, error)
}

// Observer receives per-strategy outcomes.
type Observer interface {
	ObserveStrategy(name string, candidates int, d time.Duration, err error)
}

// Outcome reports what one strategy did during a Run.
type Outcome struct {
	Strategy   string        `json:"strategy"`
	Candidates int           `json:"candidates"`
	Duration   time.Duration `json:"duration"`
	Err        error         `json:"-"`
}

// Result is the merged output of a Run.
type Result struct {
	// Candidates are the merged candidates ordered by confidence, highest
	// first. No two candidates overlap.
	Candidates []fix.Candidate

	// Outcomes hold one entry per registered strategy, in priority order.
	Outcomes []Outcome
}

// Best returns the highest ranked candidate.
func (r Result) Best() (fix.Candidate, bool) {
	if len(r.Candidates) == 0 {
		return fix.Candidate{}, false
	}
	return r.Candidates[0], true
}

type registered struct {
	strategy Strategy
	priority int
}

// LibraryOption configures a Library.
type LibraryOption func(*Library)

// WithTimeout sets the per-strategy timeout.
func WithTimeout(d time.Duration) LibraryOption {
	return func(l *Library) { l.timeout = d }
}

// WithObserver reports strategy outcomes to o.
func WithObserver(o Observer) LibraryOption {
	return func(l *Library) { l.observer = o }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) LibraryOption {
	return func(l *Library) { l.logger = logger }
}

// Library runs registered strategies and merges their candidates.
//
// Thread Safety: Safe for concurrent use. Registration normally happens
// before the first Run.
type Library struct {
	mu         sync.RWMutex
	strategies []registered
	timeout    time.Duration
	observer   Observer
	logger     *slog.Logger
}

// NewLibrary creates an empty library.
func NewLibrary(opts ...LibraryOption) *Library {
	l := &Library{
		timeout: DefaultTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With("component", "strategy")
	return l
}

// Register adds s with the given priority. Lower values win ties.
//
// Outputs:
//
//	error - Configuration failure for a nil strategy or a duplicate name.
func (l *Library) Register(s Strategy, priority int) error {
	const op = "strategy.Register"
	if s == nil {
		return failure.New(failure.KindConfiguration, op, "nil strategy")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, r := range l.strategies {
		if r.strategy.Name() == s.Name() {
			return failure.Newf(failure.KindConfiguration, op, "strategy %q already registered", s.Name())
		}
	}
	l.strategies = append(l.strategies, registered{strategy: s, priority: priority})
	sort.SliceStable(l.strategies, func(i, j int) bool {
		return l.strategies[i].priority < l.strategies[j].priority
	})
	return nil
}

// Names returns the registered strategy names in priority order.
func (l *Library) Names() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, len(l.strategies))
	for i, r := range l.strategies {
		out[i] = r.strategy.Name()
	}
	return out
}

// Timeout returns the per-strategy timeout.
func (l *Library) Timeout() time.Duration {
	return l.timeout
}

// Run executes all strategies concurrently and merges their candidates.
//
// Description:
//
//	Each strategy runs under its own timeout derived from ctx. A strategy
//	that fails, panics or times out contributes nothing; the failure is
//	reported in its Outcome and never fails the Run. Candidates are stamped
//	with the trigger id, strategy name and priority, validated, and merged.
//
// Outputs:
//
//	Result - Merged candidates and per-strategy outcomes.
//	error - ctx.Err() when ctx ended before the strategies finished.
func (l *Library) Run(ctx context.Context, actx *analysis.Context, t *trigger.Trigger) (Result, error) {
	l.mu.RLock()
	strategies := make([]registered, len(l.strategies))
	copy(strategies, l.strategies)
	l.mu.RUnlock()

	proposals := make([][]fix.Candidate, len(strategies))
	outcomes := make([]Outcome, len(strategies))

	g, gctx := errgroup.WithContext(ctx)
	for i, r := range strategies {
		g.Go(func() error {
			start := time.Now()
			cands, err := l.invoke(gctx, r.strategy, actx, t)
			outcomes[i] = Outcome{
				Strategy:   r.strategy.Name(),
				Candidates: len(cands),
				Duration:   time.Since(start),
				Err:        err,
			}
			if err != nil {
				l.logger.Debug("strategy failed",
					"strategy", r.strategy.Name(), "trigger_id", t.ID(), "error", err)
			}
			for j := range cands {
				cands[j].TriggerID = t.ID()
				cands[j].Strategy = r.strategy.Name()
				cands[j].Priority = r.priority
				if cands[j].ID == "" {
					cands[j].ID = uuid.NewString()
				}
			}
			proposals[i] = cands
			if l.observer != nil {
				l.observer.ObserveStrategy(r.strategy.Name(), len(cands), outcomes[i].Duration, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return Result{Outcomes: outcomes}, err
	}

	var all []fix.Candidate
	for _, cands := range proposals {
		for _, c := range cands {
			if err := checkCandidate(c, t); err != nil {
				l.logger.Warn("candidate dropped", "strategy", c.Strategy, "trigger_id", t.ID(), "error", err)
				continue
			}
			all = append(all, c)
		}
	}
	return Result{Candidates: Merge(all), Outcomes: outcomes}, nil
}

// invoke runs one strategy under the per-strategy timeout. The strategy
// keeps running in the background if it ignores cancellation, but its
// result is discarded.
func (l *Library) invoke(ctx context.Context, s Strategy, actx *analysis.Context, t *trigger.Trigger) ([]fix.Candidate, error) {
	const op = "strategy.Run"
	sctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	type result struct {
		cands []fix.Candidate
		err   error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- result{err: fmt.Errorf("strategy %s panicked: %v", s.Name(), p)}
			}
		}()
		cands, err := s.Propose(sctx, actx, t)
		done <- result{cands: cands, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return nil, res.err
		}
		return res.cands, nil
	case <-sctx.Done():
		if errors.Is(sctx.Err(), context.DeadlineExceeded) {
			return nil, failure.Newf(failure.KindOperationTimeout, op, "strategy %s exceeded %s", s.Name(), l.timeout)
		}
		return nil, sctx.Err()
	}
}

func checkCandidate(c fix.Candidate, t *trigger.Trigger) error {
	switch {
	case c.Edit.File != t.File():
		return fmt.Errorf("edit targets %s, trigger file is %s", c.Edit.File, t.File())
	case !c.Edit.Span.Valid():
		return fmt.Errorf("invalid span %s", c.Edit.Span)
	case c.Confidence < 0 || c.Confidence > 1:
		return fmt.Errorf("confidence %.3f outside [0,1]", c.Confidence)
	case c.Edit.OldText == c.Edit.NewText:
		return errors.New("edit changes nothing")
	}
	return nil
}

// Merge orders candidates and drops those overlapping a better one.
//
// Candidates are ranked by confidence, then priority (lower first), then
// strategy name and span start for determinism. Walking the ranking, a
// candidate is kept unless its span overlaps one already kept.
func Merge(cands []fix.Candidate) []fix.Candidate {
	ranked := make([]fix.Candidate, len(cands))
	copy(ranked, cands)
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		if a.Strategy != b.Strategy {
			return a.Strategy < b.Strategy
		}
		return a.Edit.Span.Start < b.Edit.Span.Start
	})

	kept := ranked[:0]
	for _, c := range ranked {
		overlaps := false
		for _, k := range kept {
			if k.Edit.Span.Overlaps(c.Edit.Span) {
				overlaps = true
				break
			}
		}
		if !overlaps {
			kept = append(kept, c)
		}
	}
	return kept
}
