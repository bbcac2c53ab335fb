// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package watch turns file system changes into triggers.
//
// A Watcher reports debounced batches of changed files under a root. A
// Feeder drops the analysis cached for each changed file, scans it for
// patterns and anomalies and submits the resulting triggers.
package watch

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/AleutianAI/autocorrect/services/autocorrect/failure"
)

// Op is the kind of file change.
type Op int

const (
	OpCreate Op = iota
	OpWrite
	OpRemove
	OpRename
)

// String returns the op name.
func (op Op) String() string {
	switch op {
	case OpCreate:
		return "create"
	case OpWrite:
		return "write"
	case OpRemove:
		return "remove"
	case OpRename:
		return "rename"
	default:
		return "unknown"
	}
}

// Change is one changed file.
type Change struct {
	// Path is the absolute path of the file.
	Path string
	Op   Op
	Time time.Time
}

// Handler receives a debounced batch with one change per path, the most
// recent op winning.
type Handler func(ctx context.Context, changes []Change)

// Options configures a Watcher.
type Options struct {
	// Debounce is how long the watcher waits for further changes before
	// delivering a batch.
	Debounce time.Duration `yaml:"debounce" json:"debounce" validate:"gt=0"`

	// Ignore holds base-name globs skipped for files and directories.
	Ignore []string `yaml:"ignore" json:"ignore"`
}

// DefaultOptions returns a 200ms debounce that skips VCS, dependency and
// editor scratch files.
func DefaultOptions() Options {
	return Options{
		Debounce: 200 * time.Millisecond,
		Ignore:   []string{".git", "node_modules", "vendor", ".idea", "__pycache__", "*.swp", "*.tmp", ".*.autocorrect-*"},
	}
}

// Watcher watches a directory tree.
//
// Thread Safety: Run may be called once. It owns the fsnotify watcher and
// calls the handler on its own goroutine.
type Watcher struct {
	root    string
	opts    Options
	handler Handler
	logger  *slog.Logger
	fsw     *fsnotify.Watcher
	running atomic.Bool
	ready   chan struct{}
}

// NewWatcher creates a watcher for root.
func NewWatcher(root string, handler Handler, opts Options, logger *slog.Logger) (*Watcher, error) {
	const op = "watch.NewWatcher"
	if handler == nil {
		return nil, failure.New(failure.KindConfiguration, op, "nil handler")
	}
	if opts.Debounce <= 0 {
		return nil, failure.New(failure.KindConfiguration, op, "debounce must be positive")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, failure.Wrap(failure.KindConfiguration, op, err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, failure.Wrap(failure.KindFileOperation, op, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		root:    abs,
		opts:    opts,
		handler: handler,
		logger:  logger.With("component", "watch"),
		fsw:     fsw,
		ready:   make(chan struct{}),
	}, nil
}

// Ready is closed once the initial directories are registered.
func (w *Watcher) Ready() <-chan struct{} {
	return w.ready
}

// Run watches until ctx is done, then flushes the pending batch and
// releases the watcher.
func (w *Watcher) Run(ctx context.Context) error {
	if !w.running.CompareAndSwap(false, true) {
		return errors.New("watcher already running")
	}
	defer w.fsw.Close()

	if err := w.addRecursive(w.root); err != nil {
		return failure.Wrap(failure.KindFileOperation, "watch.Run", err)
	}
	close(w.ready)
	w.logger.Info("watching", slog.String("root", w.root))

	pending := make(map[string]Change)
	var timer *time.Timer
	var timerC <-chan time.Time
	flush := func() {
		if timer != nil {
			timer.Stop()
			timer, timerC = nil, nil
		}
		if len(pending) == 0 {
			return
		}
		batch := make([]Change, 0, len(pending))
		for _, c := range pending {
			batch = append(batch, c)
		}
		clear(pending)
		w.handler(ctx, batch)
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return nil

		case <-timerC:
			timer, timerC = nil, nil
			flush()

		case event, ok := <-w.fsw.Events:
			if !ok {
				flush()
				return nil
			}
			if w.shouldIgnore(event.Name) {
				continue
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.addRecursive(event.Name); err != nil {
						w.logger.Warn("watch directory failed", slog.String("dir", event.Name), slog.String("error", err.Error()))
					}
					continue
				}
			}
			if event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			pending[event.Name] = Change{Path: event.Name, Op: convertOp(event.Op), Time: time.Now()}
			if timer == nil {
				timer = time.NewTimer(w.opts.Debounce)
				timerC = timer.C
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				flush()
				return nil
			}
			w.logger.Warn("watch error", slog.String("error", err.Error()))
		}
	}
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.root && w.shouldIgnore(path) {
			return filepath.SkipDir
		}
		return w.fsw.Add(path)
	})
}

func (w *Watcher) shouldIgnore(path string) bool {
	base := filepath.Base(path)
	for _, pattern := range w.opts.Ignore {
		if base == pattern {
			return true
		}
		if matched, _ := filepath.Match(pattern, base); matched {
			return true
		}
	}
	return false
}

func convertOp(op fsnotify.Op) Op {
	switch {
	case op.Has(fsnotify.Create):
		return OpCreate
	case op.Has(fsnotify.Write):
		return OpWrite
	case op.Has(fsnotify.Remove):
		return OpRemove
	case op.Has(fsnotify.Rename):
		return OpRename
	default:
		return OpWrite
	}
}
