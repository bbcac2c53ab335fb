// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package fileio

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/AleutianAI/autocorrect/services/autocorrect/fix"
)

// ApplierOption configures an Applier.
type ApplierOption func(*Applier)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ApplierOption {
	return func(a *Applier) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// OnWrite registers a hook called with the path after every successful
// write, while the file lock is still held. The engine uses it to drop the
// file's cached analysis.
func OnWrite(hook func(path string)) ApplierOption {
	return func(a *Applier) {
		if hook != nil {
			a.hooks = append(a.hooks, hook)
		}
	}
}

// Applier writes edits to a FileSystem.
//
// # Description
//
// Each Apply reads the current content, re-checks the edit's precondition,
// applies it and writes the result, all under a per-file lock. An edit
// whose effect is already present is a no-op, so retried or duplicated
// edits never corrupt a file.
//
// # Thread Safety
//
// Applier is safe for concurrent use. Apply calls are serialized per file.
type Applier struct {
	files  FileSystem
	logger *slog.Logger
	hooks  []func(path string)

	fileLocks   map[string]*sync.Mutex
	fileLocksMu sync.Mutex
}

// NewApplier creates an applier writing to files.
func NewApplier(files FileSystem, opts ...ApplierOption) *Applier {
	a := &Applier{
		files:     files,
		logger:    slog.Default().With("component", "applier"),
		fileLocks: make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Read implements FileSystem's read side so the Applier can be handed to
// readers that must observe content consistent with its writes.
func (a *Applier) Read(path string) ([]byte, error) {
	return a.files.Read(path)
}

// Apply applies edit to its file.
//
// # Outputs
//
//   - error: fix.ErrPrecondition (wrapped) when the span no longer holds
//     the expected text, a FileOperation failure when reading or writing
//     fails, or the context error.
func (a *Applier) Apply(ctx context.Context, edit fix.Edit) error {
	_, err := a.apply(ctx, edit)
	return err
}

// ApplyChanged is Apply that also reports whether the file was written.
func (a *Applier) ApplyChanged(ctx context.Context, edit fix.Edit) (bool, error) {
	return a.apply(ctx, edit)
}

func (a *Applier) apply(ctx context.Context, edit fix.Edit) (bool, error) {
	lock := a.getFileLock(edit.File)
	lock.Lock()
	defer lock.Unlock()

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	default:
	}

	content, err := a.files.Read(edit.File)
	if err != nil {
		return false, err
	}
	updated, changed, err := edit.Apply(content)
	if err != nil {
		return false, fmt.Errorf("apply %s: %w", edit.File, err)
	}
	if !changed {
		a.logger.Debug("edit already applied", slog.String("file", edit.File), slog.String("span", edit.Span.String()))
		return false, nil
	}
	if err := a.files.Write(edit.File, updated); err != nil {
		return false, err
	}
	for _, hook := range a.hooks {
		hook(edit.File)
	}
	a.logger.Info("edit written",
		slog.String("file", edit.File),
		slog.String("span", edit.Span.String()),
		slog.Int("bytes", len(updated)))
	return true, nil
}

// getFileLock returns the mutex for path.
func (a *Applier) getFileLock(path string) *sync.Mutex {
	a.fileLocksMu.Lock()
	defer a.fileLocksMu.Unlock()

	if lock, ok := a.fileLocks[path]; ok {
		return lock
	}
	lock := &sync.Mutex{}
	a.fileLocks[path] = lock
	return lock
}
