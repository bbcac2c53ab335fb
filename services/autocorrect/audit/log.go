// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package audit stores the append-only fix application log.
//
// Every gate decision and every manual override becomes one fix.Record.
// Records are never updated or deleted; an override is a new record that
// points at the code action it answers.
package audit

import (
	"context"
	"errors"
	"sync"
	"time"

	"fortio.org/safecast"
	"github.com/google/uuid"

	"github.com/AleutianAI/autocorrect/services/autocorrect/fix"
)

var (
	// ErrNotFound is returned when no record has the requested id.
	ErrNotFound = errors.New("record not found")

	// ErrClosed is returned by operations on a closed log.
	ErrClosed = errors.New("audit log closed")
)

// Log is the append-only fix application log.
//
// Thread Safety: Implementations are safe for concurrent use.
type Log interface {
	// Append stores rec and returns it with Seq assigned. An empty ID and
	// a zero Timestamp are filled in.
	Append(ctx context.Context, rec fix.Record) (fix.Record, error)

	// Get returns the record with the given id.
	Get(ctx context.Context, id string) (fix.Record, error)

	// List returns records matching q in ascending Seq order.
	List(ctx context.Context, q Query) ([]fix.Record, error)

	// Close releases resources. Further calls return ErrClosed.
	Close() error
}

// Query filters List results. Zero fields match everything.
type Query struct {
	File     string
	Decision fix.Decision
	ActionID string

	// AfterSeq returns only records with Seq greater than this value.
	AfterSeq uint64

	// Limit caps the number of records; 0 means no limit.
	Limit int
}

// Match reports whether rec satisfies q's filters (ignoring Limit).
func (q Query) Match(rec fix.Record) bool {
	if rec.Seq <= q.AfterSeq {
		return false
	}
	if q.File != "" && rec.File != q.File {
		return false
	}
	if q.Decision != 0 && rec.Decision != q.Decision {
		return false
	}
	if q.ActionID != "" && rec.ActionID != q.ActionID {
		return false
	}
	return true
}

// prepare fills the fields Append owns.
func prepare(rec fix.Record, seq uint64, now time.Time) fix.Record {
	rec.Seq = seq
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = now
	}
	return rec
}

// =============================================================================
// MemoryLog
// =============================================================================

// MemoryLog keeps records in memory.
type MemoryLog struct {
	mu      sync.RWMutex
	records []fix.Record
	byID    map[string]int
	closed  bool
	now     func() time.Time
}

// NewMemoryLog creates an empty in-memory log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{
		byID: make(map[string]int),
		now:  time.Now,
	}
}

// Append implements Log.
func (l *MemoryLog) Append(ctx context.Context, rec fix.Record) (fix.Record, error) {
	if err := ctx.Err(); err != nil {
		return fix.Record{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return fix.Record{}, ErrClosed
	}
	seq, err := safecast.Conv[uint64](len(l.records) + 1)
	if err != nil {
		return fix.Record{}, err
	}
	rec = prepare(rec, seq, l.now())
	l.byID[rec.ID] = len(l.records)
	l.records = append(l.records, rec)
	return rec, nil
}

// Get implements Log.
func (l *MemoryLog) Get(ctx context.Context, id string) (fix.Record, error) {
	if err := ctx.Err(); err != nil {
		return fix.Record{}, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return fix.Record{}, ErrClosed
	}
	i, ok := l.byID[id]
	if !ok {
		return fix.Record{}, ErrNotFound
	}
	return l.records[i], nil
}

// List implements Log.
func (l *MemoryLog) List(ctx context.Context, q Query) ([]fix.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return nil, ErrClosed
	}
	out := make([]fix.Record, 0)
	for _, rec := range l.records {
		if !q.Match(rec) {
			continue
		}
		out = append(out, rec)
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out, nil
}

// Len returns the number of records.
func (l *MemoryLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}

// Close implements Log.
func (l *MemoryLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}
