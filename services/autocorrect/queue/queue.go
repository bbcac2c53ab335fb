// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package queue implements trigger deduplication and the bounded
// multi-producer/multi-consumer queue that feeds the worker pool.
//
// Submission deduplicates on the trigger content hash within a TTL window.
// A full queue blocks the submitter up to SubmitTimeout and then fails with
// a ResourceExhausted failure. Triggers from one producer are delivered in
// submission order; there is no ordering across producers or kinds.
package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AleutianAI/autocorrect/services/autocorrect/failure"
	"github.com/AleutianAI/autocorrect/services/autocorrect/trigger"
)

// Outcome is the result of a successful submission.
type Outcome int

const (
	// Accepted means the trigger entered the queue.
	Accepted Outcome = iota + 1

	// Deduplicated means a trigger with the same content hash was already
	// accepted within the window; the new one was dropped.
	Deduplicated
)

// String returns "Accepted" or "Deduplicated".
func (o Outcome) String() string {
	switch o {
	case Accepted:
		return "Accepted"
	case Deduplicated:
		return "Deduplicated"
	default:
		return "Unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// ErrClosed is returned by Submit after Close, and by Next once the queue
// is closed and drained.
var ErrClosed = errors.New("queue closed")

// Default configuration values.
const (
	DefaultCapacity      = 256
	DefaultSubmitTimeout = 2 * time.Second
	DefaultDedupTTL      = 30 * time.Second
)

// Config configures a Queue.
type Config struct {
	// Capacity is the number of triggers buffered before Submit blocks.
	Capacity int

	// SubmitTimeout bounds how long Submit blocks on a full queue.
	SubmitTimeout time.Duration

	// DedupTTL is how long a content hash suppresses duplicates.
	DedupTTL time.Duration
}

// DefaultConfig returns the default queue configuration.
func DefaultConfig() Config {
	return Config{
		Capacity:      DefaultCapacity,
		SubmitTimeout: DefaultSubmitTimeout,
		DedupTTL:      DefaultDedupTTL,
	}
}

// Option configures a Queue.
type Option func(*Queue)

// WithClock sets the time source of the dedup window.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(q *Queue) { q.logger = logger }
}

// Stats reports queue counters.
type Stats struct {
	Accepted     int64 `json:"accepted"`
	Deduplicated int64 `json:"deduplicated"`
	Exhausted    int64 `json:"exhausted"`
	Depth        int   `json:"depth"`
	WindowSize   int   `json:"window_size"`
}

// Queue is a bounded deduplicating trigger queue.
//
// Thread Safety: Safe for concurrent use by any number of producers and
// consumers.
type Queue struct {
	cfg    Config
	items  chan *trigger.Trigger
	window *Window
	now    func() time.Time
	logger *slog.Logger

	// mu guards closed and the registration of senders. A blocked sender
	// holds no lock; it is counted in senders and leaves on done, and
	// Close closes items only after every sender has left.
	mu      sync.Mutex
	closed  bool
	done    chan struct{}
	senders sync.WaitGroup

	accepted     int64
	deduplicated int64
	exhausted    int64
}

// New creates a queue.
//
// Outputs:
//
//	*Queue - The queue.
//	error - Configuration failure for a non-positive capacity, timeout or TTL.
func New(cfg Config, opts ...Option) (*Queue, error) {
	const op = "queue.New"
	switch {
	case cfg.Capacity <= 0:
		return nil, failure.Newf(failure.KindConfiguration, op, "capacity must be positive, got %d", cfg.Capacity)
	case cfg.SubmitTimeout <= 0:
		return nil, failure.Newf(failure.KindConfiguration, op, "submit timeout must be positive, got %s", cfg.SubmitTimeout)
	case cfg.DedupTTL <= 0:
		return nil, failure.Newf(failure.KindConfiguration, op, "dedup ttl must be positive, got %s", cfg.DedupTTL)
	}

	q := &Queue{
		cfg:    cfg,
		items:  make(chan *trigger.Trigger, cfg.Capacity),
		done:   make(chan struct{}),
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(q)
	}
	q.window = NewWindow(cfg.DedupTTL, q.now)
	q.logger = q.logger.With("component", "queue")
	return q, nil
}

// Submit offers t to the queue.
//
// Description:
//
//	Returns Deduplicated when t's content hash was accepted within the
//	window. Otherwise enqueues t, blocking while the queue is full for at
//	most SubmitTimeout. A submission that times out or is cancelled releases
//	its hash so a retry is not mistaken for a duplicate.
//
// Outputs:
//
//	Outcome - Accepted or Deduplicated; zero on error.
//	error - ResourceExhausted failure on timeout, ErrClosed after or during
//	        Close, ctx.Err() on cancellation.
func (q *Queue) Submit(ctx context.Context, t *trigger.Trigger) (Outcome, error) {
	const op = "queue.Submit"
	if t == nil {
		return 0, failure.New(failure.KindDiagnosticProcessing, op, "nil trigger")
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return 0, ErrClosed
	}
	q.senders.Add(1)
	q.mu.Unlock()
	defer q.senders.Done()

	if !q.window.Claim(t.Hash()) {
		atomic.AddInt64(&q.deduplicated, 1)
		q.logger.Debug("trigger deduplicated", "trigger_id", t.ID(), "file", t.File(), "kind", t.Kind().String())
		return Deduplicated, nil
	}

	select {
	case q.items <- t:
		atomic.AddInt64(&q.accepted, 1)
		return Accepted, nil
	default:
	}

	timer := time.NewTimer(q.cfg.SubmitTimeout)
	defer timer.Stop()

	select {
	case q.items <- t:
		atomic.AddInt64(&q.accepted, 1)
		return Accepted, nil
	case <-timer.C:
		q.window.Forget(t.Hash())
		atomic.AddInt64(&q.exhausted, 1)
		q.logger.Warn("queue full", "trigger_id", t.ID(), "capacity", q.cfg.Capacity, "waited", q.cfg.SubmitTimeout)
		return 0, failure.Newf(failure.KindResourceExhausted, op,
			"queue full (capacity %d) after %s", q.cfg.Capacity, q.cfg.SubmitTimeout)
	case <-ctx.Done():
		q.window.Forget(t.Hash())
		return 0, ctx.Err()
	case <-q.done:
		q.window.Forget(t.Hash())
		return 0, ErrClosed
	}
}

// Next blocks until a trigger is available, ctx is done, or the queue is
// closed and drained.
func (q *Queue) Next(ctx context.Context) (*trigger.Trigger, error) {
	select {
	case t, ok := <-q.items:
		if !ok {
			return nil, ErrClosed
		}
		return t, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops accepting triggers. Submitters blocked on a full queue
// return ErrClosed. Already queued triggers remain available to Next.
// Safe to call more than once.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.done)
	q.mu.Unlock()

	q.senders.Wait()
	close(q.items)
}

// Len returns the number of queued triggers.
func (q *Queue) Len() int {
	return len(q.items)
}

// Stats returns a snapshot of the queue counters.
func (q *Queue) Stats() Stats {
	return Stats{
		Accepted:     atomic.LoadInt64(&q.accepted),
		Deduplicated: atomic.LoadInt64(&q.deduplicated),
		Exhausted:    atomic.LoadInt64(&q.exhausted),
		Depth:        len(q.items),
		WindowSize:   q.window.Len(),
	}
}

// RunJanitor sweeps the dedup window every interval until ctx is done.
func (q *Queue) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := q.window.Sweep(); n > 0 {
				q.logger.Debug("dedup window swept", "removed", n)
			}
		}
	}
}
