// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package supervision watches the pipeline and decides whether automatic
// application is currently allowed.
//
// The pipeline publishes Events to a Bus. The Breaker is the only monitor
// with authority: it turns the failure ratio into a permit the gate
// consults. PerformanceMonitor and Analytics are passive observers.
package supervision

import (
	"sync"
	"time"

	"github.com/AleutianAI/autocorrect/services/autocorrect/failure"
	"github.com/AleutianAI/autocorrect/services/autocorrect/fix"
)

// EventKind identifies what an Event reports.
type EventKind int

const (
	// EventOutcome reports the final decision for one trigger.
	EventOutcome EventKind = iota + 1

	// EventLatency reports the duration of one pipeline stage.
	EventLatency

	// EventTransition reports a breaker state change.
	EventTransition
)

// String returns the kind name.
func (k EventKind) String() string {
	switch k {
	case EventOutcome:
		return "outcome"
	case EventLatency:
		return "latency"
	case EventTransition:
		return "transition"
	default:
		return "unknown"
	}
}

// Event is one observation published on the Bus.
type Event struct {
	Kind EventKind
	Time time.Time

	// Outcome fields.
	TriggerID string
	File      string
	Decision  fix.Decision
	Failure   failure.Kind
	Probe     bool

	// Latency fields.
	Stage    string
	Duration time.Duration

	// Transition fields.
	From State
	To   State
}

// Failed reports whether an outcome counts against the breaker: the
// trigger failed code generation or analysis.
func (e Event) Failed() bool {
	return e.Failure == failure.KindCodeGeneration || e.Failure == failure.KindAstAnalysis
}

// Sink consumes events. Observe must not block for long; it is called on
// the publisher's goroutine.
type Sink interface {
	Observe(e Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

// Observe implements Sink.
func (f SinkFunc) Observe(e Event) { f(e) }

// Bus fans events out to every subscribed sink in subscription order.
//
// Thread Safety: Safe for concurrent use.
type Bus struct {
	mu    sync.RWMutex
	sinks []Sink
	now   func() time.Time
}

// NewBus creates a bus with the given sinks.
func NewBus(sinks ...Sink) *Bus {
	b := &Bus{now: time.Now}
	for _, s := range sinks {
		b.Subscribe(s)
	}
	return b
}

// Subscribe adds a sink. Nil sinks are ignored.
func (b *Bus) Subscribe(s Sink) {
	if s == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, s)
}

// Publish delivers e to every sink. A zero Time is set to now.
func (b *Bus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = b.now()
	}
	b.mu.RLock()
	sinks := b.sinks
	b.mu.RUnlock()
	for _, s := range sinks {
		s.Observe(e)
	}
}

// ObserveLatency publishes a latency event. It lets a Bus stand in as the
// analysis engine's latency observer.
func (b *Bus) ObserveLatency(stage string, d time.Duration) {
	b.Publish(Event{Kind: EventLatency, Stage: stage, Duration: d})
}
