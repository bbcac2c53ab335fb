// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package watch

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/AleutianAI/autocorrect/services/autocorrect/queue"
	"github.com/AleutianAI/autocorrect/services/autocorrect/trigger"
)

// Files reads files and maps absolute paths to the names triggers use.
// fileio.OSFileSystem satisfies it.
type Files interface {
	Read(path string) ([]byte, error)
	Rel(path string) (string, error)
}

// Scanner turns file content into triggers. detect.Scanner satisfies it.
type Scanner interface {
	Supports(path string) bool
	Scan(ctx context.Context, path string, content []byte) ([]*trigger.Trigger, error)
}

// Submitter accepts triggers. queue.Queue satisfies it.
type Submitter interface {
	Submit(ctx context.Context, t *trigger.Trigger) (queue.Outcome, error)
}

// Invalidator drops cached analyses. analysis.Engine satisfies it.
type Invalidator interface {
	Invalidate(path string)
}

// FeederStats counts what the feeder did.
type FeederStats struct {
	Files        int64 `json:"files"`
	Submitted    int64 `json:"submitted"`
	Deduplicated int64 `json:"deduplicated"`
	Errors       int64 `json:"errors"`
}

// Feeder is a Handler that scans changed files and submits their triggers.
//
// Thread Safety: Safe for concurrent use.
type Feeder struct {
	files   Files
	scanner Scanner
	queue   Submitter
	cache   Invalidator
	logger  *slog.Logger

	nFiles, nSubmitted, nDeduplicated, nErrors atomic.Int64
}

// NewFeeder creates a feeder. cache may be nil.
func NewFeeder(files Files, scanner Scanner, q Submitter, cache Invalidator, logger *slog.Logger) *Feeder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Feeder{
		files:   files,
		scanner: scanner,
		queue:   q,
		cache:   cache,
		logger:  logger.With("component", "feeder"),
	}
}

// Handle implements Handler.
func (f *Feeder) Handle(ctx context.Context, changes []Change) {
	for _, c := range changes {
		if ctx.Err() != nil {
			return
		}
		name, err := f.files.Rel(c.Path)
		if err != nil {
			continue
		}
		if f.cache != nil {
			f.cache.Invalidate(name)
		}
		if c.Op == OpRemove || c.Op == OpRename || !f.scanner.Supports(name) {
			continue
		}
		if err := f.Feed(ctx, name); err != nil {
			f.logger.Warn("scan failed", slog.String("file", name), slog.String("error", err.Error()))
		}
	}
}

// Feed scans one file and submits its triggers.
func (f *Feeder) Feed(ctx context.Context, name string) error {
	f.nFiles.Add(1)
	content, err := f.files.Read(name)
	if err != nil {
		f.nErrors.Add(1)
		return err
	}
	triggers, err := f.scanner.Scan(ctx, name, content)
	if err != nil {
		f.nErrors.Add(1)
		return err
	}
	var errs []error
	for _, t := range triggers {
		out, err := f.queue.Submit(ctx, t)
		switch {
		case err != nil:
			f.nErrors.Add(1)
			errs = append(errs, err)
		case out == queue.Deduplicated:
			f.nDeduplicated.Add(1)
		default:
			f.nSubmitted.Add(1)
		}
	}
	if len(triggers) > 0 {
		f.logger.Debug("file scanned", slog.String("file", name), slog.Int("triggers", len(triggers)))
	}
	return errors.Join(errs...)
}

// Stats returns the feeder counters.
func (f *Feeder) Stats() FeederStats {
	return FeederStats{
		Files:        f.nFiles.Load(),
		Submitted:    f.nSubmitted.Load(),
		Deduplicated: f.nDeduplicated.Load(),
		Errors:       f.nErrors.Load(),
	}
}
