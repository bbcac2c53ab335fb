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
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/AleutianAI/autocorrect/services/autocorrect/failure"
)

// DefaultLatencySamples is the number of recent durations kept per stage.
const DefaultLatencySamples = 1024

// LatencyStats summarizes recent durations of one stage.
type LatencyStats struct {
	Count int64         `json:"count"`
	Mean  time.Duration `json:"mean"`
	P50   time.Duration `json:"p50"`
	P95   time.Duration `json:"p95"`
	P99   time.Duration `json:"p99"`
	Max   time.Duration `json:"max"`
}

type ring struct {
	values []time.Duration
	next   int
	count  int64
}

func (r *ring) add(d time.Duration) {
	if len(r.values) < cap(r.values) {
		r.values = append(r.values, d)
	} else {
		r.values[r.next] = d
		r.next = (r.next + 1) % len(r.values)
	}
	r.count++
}

// PerformanceMonitor tracks stage latencies.
//
// It implements analysis.LatencyObserver and Sink (for latency events),
// exports every observation to Prometheus and keeps the most recent
// samples per stage for percentile snapshots.
//
// Thread Safety: Safe for concurrent use.
type PerformanceMonitor struct {
	mu      sync.Mutex
	stages  map[string]*ring
	samples int
}

// NewPerformanceMonitor keeps up to samples durations per stage.
func NewPerformanceMonitor(samples int) *PerformanceMonitor {
	if samples <= 0 {
		samples = DefaultLatencySamples
	}
	return &PerformanceMonitor{stages: make(map[string]*ring), samples: samples}
}

// ObserveLatency records one stage duration.
func (m *PerformanceMonitor) ObserveLatency(stage string, d time.Duration) {
	stageLatency.WithLabelValues(stage).Observe(d.Seconds())

	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.stages[stage]
	if !ok {
		r = &ring{values: make([]time.Duration, 0, m.samples)}
		m.stages[stage] = r
	}
	r.add(d)
}

// Observe implements Sink.
func (m *PerformanceMonitor) Observe(e Event) {
	if e.Kind == EventLatency {
		m.ObserveLatency(e.Stage, e.Duration)
	}
}

// Snapshot returns stats for every stage seen so far.
func (m *PerformanceMonitor) Snapshot() map[string]LatencyStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]LatencyStats, len(m.stages))
	for stage, r := range m.stages {
		out[stage] = summarize(r)
	}
	return out
}

func summarize(r *ring) LatencyStats {
	n := len(r.values)
	if n == 0 {
		return LatencyStats{Count: r.count}
	}
	sorted := make([]time.Duration, n)
	copy(sorted, r.values)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var total time.Duration
	for _, d := range sorted {
		total += d
	}
	pct := func(p float64) time.Duration {
		i := int(p*float64(n)+0.5) - 1
		return sorted[min(max(i, 0), n-1)]
	}
	return LatencyStats{
		Count: r.count,
		Mean:  total / time.Duration(n),
		P50:   pct(0.50),
		P95:   pct(0.95),
		P99:   pct(0.99),
		Max:   sorted[n-1],
	}
}

// =============================================================================
// Analytics
// =============================================================================

// StrategyStats counts one strategy's invocations.
type StrategyStats struct {
	Runs       int64         `json:"runs"`
	Candidates int64         `json:"candidates"`
	Errors     int64         `json:"errors"`
	Timeouts   int64         `json:"timeouts"`
	Total      time.Duration `json:"total"`
}

// AnalyticsSnapshot is a point-in-time copy of the counters.
type AnalyticsSnapshot struct {
	Strategies map[string]StrategyStats `json:"strategies"`
	Decisions  map[string]int64         `json:"decisions"`
	Failures   map[string]int64         `json:"failures"`
	Outcomes   int64                    `json:"outcomes"`
}

// Analytics counts strategy results and trigger outcomes.
//
// It implements strategy.Observer and Sink.
//
// Thread Safety: Safe for concurrent use.
type Analytics struct {
	mu         sync.Mutex
	strategies map[string]*StrategyStats
	decisions  map[string]int64
	failures   map[string]int64
	outcomes   int64
}

// NewAnalytics creates empty analytics.
func NewAnalytics() *Analytics {
	return &Analytics{
		strategies: make(map[string]*StrategyStats),
		decisions:  make(map[string]int64),
		failures:   make(map[string]int64),
	}
}

// ObserveStrategy records one strategy invocation.
func (a *Analytics) ObserveStrategy(name string, candidates int, d time.Duration, err error) {
	status := "candidates"
	switch {
	case err != nil:
		status = "error"
	case candidates == 0:
		status = "empty"
	}
	strategyRuns.WithLabelValues(name, status).Inc()

	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.strategies[name]
	if !ok {
		s = &StrategyStats{}
		a.strategies[name] = s
	}
	s.Runs++
	s.Candidates += int64(candidates)
	s.Total += d
	if err != nil {
		s.Errors++
		if errors.Is(err, failure.ErrOperationTimeout) {
			s.Timeouts++
		}
	}
}

// Observe implements Sink.
func (a *Analytics) Observe(e Event) {
	if e.Kind != EventOutcome {
		return
	}
	kind := "none"
	if e.Failure != failure.KindUnknown {
		kind = e.Failure.String()
	}
	outcomes.WithLabelValues(e.Decision.String(), kind).Inc()

	a.mu.Lock()
	defer a.mu.Unlock()
	a.outcomes++
	a.decisions[e.Decision.String()]++
	if e.Failure != failure.KindUnknown {
		a.failures[kind]++
	}
}

// Snapshot returns a copy of the counters.
func (a *Analytics) Snapshot() AnalyticsSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := AnalyticsSnapshot{
		Strategies: make(map[string]StrategyStats, len(a.strategies)),
		Decisions:  make(map[string]int64, len(a.decisions)),
		Failures:   make(map[string]int64, len(a.failures)),
		Outcomes:   a.outcomes,
	}
	for k, v := range a.strategies {
		out.Strategies[k] = *v
	}
	for k, v := range a.decisions {
		out.Decisions[k] = v
	}
	for k, v := range a.failures {
		out.Failures[k] = v
	}
	return out
}
