// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package supervision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AleutianAI/autocorrect/services/autocorrect/failure"
)

// State is the breaker state.
type State int32

const (
	// Closed is normal operation: Safe edits may be applied.
	Closed State = iota

	// Open suppresses automatic application.
	Open

	// HalfOpen lets one probe trigger through to test recovery.
	HalfOpen
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ErrBreakerStopped is returned by Sync and Reset once Run has returned.
var ErrBreakerStopped = errors.New("breaker stopped")

// BreakerConfig configures the failure-rate breaker.
type BreakerConfig struct {
	// Threshold is the failure ratio above which the breaker opens.
	Threshold float64 `yaml:"threshold" json:"threshold" validate:"gt=0,lte=1"`

	// Window is the length of the sliding window of trigger outcomes.
	Window time.Duration `yaml:"window" json:"window" validate:"gt=0"`

	// MinSamples is the number of outcomes the window must hold before
	// the ratio is evaluated.
	MinSamples int `yaml:"min_samples" json:"min_samples" validate:"gte=1"`

	// CoolDown is how long the breaker stays Open before probing.
	CoolDown time.Duration `yaml:"cool_down" json:"cool_down" validate:"gt=0"`

	// Buffer is the capacity of the event channel feeding the loop.
	Buffer int `yaml:"buffer" json:"buffer" validate:"gte=1"`
}

// DefaultBreakerConfig returns a 50% threshold over five minutes with at
// least ten samples and a thirty second cool-down.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Threshold:  0.5,
		Window:     5 * time.Minute,
		MinSamples: 10,
		CoolDown:   30 * time.Second,
		Buffer:     256,
	}
}

// Validate checks the configuration.
func (c BreakerConfig) Validate() error {
	switch {
	case c.Threshold <= 0 || c.Threshold > 1:
		return failure.Newf(failure.KindConfiguration, "supervision.BreakerConfig", "threshold must be in (0,1], got %v", c.Threshold)
	case c.Window <= 0, c.CoolDown <= 0:
		return failure.New(failure.KindConfiguration, "supervision.BreakerConfig", "window and cool-down must be positive")
	case c.MinSamples < 1, c.Buffer < 1:
		return failure.New(failure.KindConfiguration, "supervision.BreakerConfig", "min samples and buffer must be at least 1")
	}
	return nil
}

// Admission is the breaker's answer for one trigger.
type Admission struct {
	// Permit allows a Safe edit to be applied without review.
	Permit bool

	// Probe marks the single trigger let through while HalfOpen. Its
	// outcome decides whether the breaker closes; its edit still goes to
	// review.
	Probe bool

	State State
}

// BreakerStats is a point-in-time view of the breaker.
type BreakerStats struct {
	State      State     `json:"state"`
	Samples    int64     `json:"samples"`
	Failures   int64     `json:"failures"`
	Ratio      float64   `json:"ratio"`
	Trips      int64     `json:"trips"`
	LastChange time.Time `json:"last_change"`
}

type sample struct {
	at     time.Time
	failed bool
}

type breakerMsg struct {
	event *Event
	reset bool
	ack   chan struct{}
}

// Breaker is a failure-rate circuit breaker with a single writer.
//
// Description:
//
//	Workers call Admit, which reads the state atomically and claims the
//	HalfOpen probe with a compare-and-swap. Outcomes arrive through
//	Observe and are evaluated by Run, the only goroutine that changes
//	state. Sync is a barrier: it returns once every event observed before
//	it has been evaluated.
//
//	Closed -> Open      failure ratio in the window exceeds Threshold
//	Open -> HalfOpen    CoolDown elapsed
//	HalfOpen -> Closed  probe outcome succeeded
//	HalfOpen -> Open    probe outcome failed
//
// Thread Safety: Safe for concurrent use. Run must be running for
// Observe, Sync and Reset to make progress.
type Breaker struct {
	cfg    BreakerConfig
	bus    *Bus
	logger *slog.Logger
	now    func() time.Time
	after  func(time.Duration) <-chan time.Time

	state      atomic.Int32
	probeTaken atomic.Bool

	// guard is held shared by Guard for the duration of an automatic
	// write and exclusively by transition, so no guarded write is in
	// flight once a new state is visible.
	guard sync.RWMutex
	running    atomic.Bool

	// Snapshot for Stats; written only by the loop.
	nSamples   atomic.Int64
	nFailures  atomic.Int64
	trips      atomic.Int64
	lastChange atomic.Int64

	msgs chan breakerMsg
	done chan struct{}

	// Loop-owned.
	samples []sample
}

// BreakerOption configures a Breaker.
type BreakerOption func(*Breaker)

// WithBreakerLogger sets the logger.
func WithBreakerLogger(logger *slog.Logger) BreakerOption {
	return func(b *Breaker) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithBreakerBus publishes transitions on bus.
func WithBreakerBus(bus *Bus) BreakerOption {
	return func(b *Breaker) { b.bus = bus }
}

// WithBreakerClock replaces time.Now and time.After.
func WithBreakerClock(now func() time.Time, after func(time.Duration) <-chan time.Time) BreakerOption {
	return func(b *Breaker) {
		if now != nil {
			b.now = now
		}
		if after != nil {
			b.after = after
		}
	}
}

// NewBreaker creates a Closed breaker. Call Run to start evaluation.
func NewBreaker(cfg BreakerConfig, opts ...BreakerOption) (*Breaker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	b := &Breaker{
		cfg:    cfg,
		logger: slog.Default().With("component", "breaker"),
		now:    time.Now,
		after:  time.After,
		msgs:   make(chan breakerMsg, cfg.Buffer),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.lastChange.Store(b.now().UnixNano())
	breakerState.Set(float64(Closed))
	return b, nil
}

// State returns the current state.
func (b *Breaker) State() State {
	return State(b.state.Load())
}

// Admit decides whether the caller's trigger may be auto-applied.
func (b *Breaker) Admit() Admission {
	s := b.State()
	switch s {
	case Closed:
		return Admission{Permit: true, State: s}
	case HalfOpen:
		if b.probeTaken.CompareAndSwap(false, true) {
			return Admission{Probe: true, State: s}
		}
	}
	return Admission{State: s}
}

// Guard runs write only while the breaker is Closed and reports whether
// it ran.
//
// Description:
//
//	The state is checked and write executed under a shared lock that every
//	transition takes exclusively. A trip therefore waits for in-flight
//	guarded writes, and once Open is visible no further write runs until
//	the breaker is Closed again.
//
// Outputs:
//
//	bool - True if write ran.
//	error - The error returned by write.
//
// Thread Safety: Safe for concurrent use. write must not call back into
// the breaker.
func (b *Breaker) Guard(write func() error) (bool, error) {
	b.guard.RLock()
	defer b.guard.RUnlock()
	if b.State() != Closed {
		return false, nil
	}
	return true, write()
}

// Observe implements Sink. Only outcome events are evaluated.
func (b *Breaker) Observe(e Event) {
	if e.Kind != EventOutcome {
		return
	}
	select {
	case b.msgs <- breakerMsg{event: &e}:
	case <-b.done:
	}
}

// Sync waits until every previously observed event has been evaluated.
func (b *Breaker) Sync(ctx context.Context) error {
	return b.send(ctx, breakerMsg{})
}

// Reset forces the breaker Closed and clears the window.
func (b *Breaker) Reset(ctx context.Context) error {
	return b.send(ctx, breakerMsg{reset: true})
}

func (b *Breaker) send(ctx context.Context, m breakerMsg) error {
	m.ack = make(chan struct{})
	select {
	case b.msgs <- m:
	case <-b.done:
		return ErrBreakerStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-m.ack:
		return nil
	case <-b.done:
		return ErrBreakerStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run evaluates events until ctx is done. It may be called once.
func (b *Breaker) Run(ctx context.Context) error {
	if !b.running.CompareAndSwap(false, true) {
		return errors.New("breaker already running")
	}
	defer close(b.done)

	var coolDown <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-coolDown:
			coolDown = nil
			if b.State() == Open {
				b.transition(HalfOpen, "cool-down elapsed")
			}

		case m := <-b.msgs:
			switch {
			case m.reset:
				coolDown = nil
				if b.State() != Closed {
					b.transition(Closed, "manual reset")
				}
				b.samples = nil
				b.publishWindow()
			case m.event != nil:
				if b.evaluate(*m.event) == Open {
					coolDown = b.after(b.cfg.CoolDown)
				}
			}
			if m.ack != nil {
				close(m.ack)
			}
		}
	}
}

// evaluate applies one outcome and returns the state it transitioned to,
// or -1 when the state did not change.
func (b *Breaker) evaluate(e Event) State {
	switch b.State() {
	case HalfOpen:
		if !e.Probe {
			return -1
		}
		if e.Failed() {
			b.transition(Open, fmt.Sprintf("probe failed with %s", e.Failure))
			return Open
		}
		b.transition(Closed, "probe succeeded")
		b.samples = nil
		b.publishWindow()
		return Closed

	case Closed:
		at := e.Time
		if at.IsZero() {
			at = b.now()
		}
		b.samples = append(b.samples, sample{at: at, failed: e.Failed()})
		b.prune()
		samples, failures := b.publishWindow()
		if samples < int64(b.cfg.MinSamples) {
			return -1
		}
		if ratio := float64(failures) / float64(samples); ratio > b.cfg.Threshold {
			b.transition(Open, fmt.Sprintf("failure ratio %.2f over %d outcomes", ratio, samples))
			return Open
		}
	}
	return -1
}

func (b *Breaker) prune() {
	cutoff := b.now().Add(-b.cfg.Window)
	i := 0
	for i < len(b.samples) && b.samples[i].at.Before(cutoff) {
		i++
	}
	b.samples = b.samples[i:]
}

func (b *Breaker) publishWindow() (samples, failures int64) {
	for _, s := range b.samples {
		samples++
		if s.failed {
			failures++
		}
	}
	b.nSamples.Store(samples)
	b.nFailures.Store(failures)
	return samples, failures
}

func (b *Breaker) transition(to State, reason string) {
	from := b.State()
	if to == HalfOpen {
		b.probeTaken.Store(false)
	}
	b.guard.Lock()
	b.state.Store(int32(to))
	b.guard.Unlock()
	now := b.now()
	b.lastChange.Store(now.UnixNano())
	if to == Open {
		b.trips.Add(1)
		breakerTrips.Inc()
	}
	breakerState.Set(float64(to))

	b.logger.Warn("breaker transition",
		slog.String("from", from.String()),
		slog.String("to", to.String()),
		slog.String("reason", reason))
	if b.bus != nil {
		b.bus.Publish(Event{Kind: EventTransition, Time: now, From: from, To: to})
	}
}

// Stats returns a snapshot.
func (b *Breaker) Stats() BreakerStats {
	s := BreakerStats{
		State:      b.State(),
		Samples:    b.nSamples.Load(),
		Failures:   b.nFailures.Load(),
		Trips:      b.trips.Load(),
		LastChange: time.Unix(0, b.lastChange.Load()),
	}
	if s.Samples > 0 {
		s.Ratio = float64(s.Failures) / float64(s.Samples)
	}
	return s
}
