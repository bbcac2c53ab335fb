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
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/AleutianAI/autocorrect/services/autocorrect/ast"
	"github.com/AleutianAI/autocorrect/services/autocorrect/detect"
	"github.com/AleutianAI/autocorrect/services/autocorrect/failure"
	"github.com/AleutianAI/autocorrect/services/autocorrect/queue"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const errorfSource = `package store

import "fmt"

func wrap(err error) error {
	return fmt.Errorf("store: %v", err)
}
`

type memFiles map[string]string

func (m memFiles) Read(path string) ([]byte, error) {
	s, ok := m[path]
	if !ok {
		return nil, os.ErrNotExist
	}
	return []byte(s), nil
}

func (m memFiles) Rel(path string) (string, error) {
	return strings.TrimPrefix(path, "/repo/"), nil
}

type invalidations struct {
	mu    sync.Mutex
	paths []string
}

func (i *invalidations) Invalidate(path string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.paths = append(i.paths, path)
}

func newFeeder(t *testing.T, files memFiles) (*Feeder, *queue.Queue, *invalidations) {
	t.Helper()
	scanner, err := detect.NewScanner(ast.DefaultRegistry())
	require.NoError(t, err)
	q, err := queue.New(queue.DefaultConfig())
	require.NoError(t, err)
	inv := &invalidations{}
	return NewFeeder(files, scanner, q, inv, nil), q, inv
}

func TestFeeder_Handle(t *testing.T) {
	f, q, inv := newFeeder(t, memFiles{"store.go": errorfSource, "notes.md": "# notes"})

	f.Handle(context.Background(), []Change{
		{Path: "/repo/store.go", Op: OpWrite},
		{Path: "/repo/notes.md", Op: OpWrite},
		{Path: "/repo/gone.go", Op: OpRemove},
	})

	assert.Equal(t, []string{"store.go", "notes.md", "gone.go"}, inv.paths)
	assert.Equal(t, 1, q.Len())
	assert.Equal(t, FeederStats{Files: 1, Submitted: 1}, f.Stats())

	tr, err := q.Next(context.Background())
	require.NoError(t, err)
	p, ok := tr.Pattern()
	require.True(t, ok)
	assert.Equal(t, detect.PatternErrorfWrap, p.ID)
	assert.Equal(t, "store.go", tr.File())
}

func TestFeeder_DuplicatesAreCounted(t *testing.T) {
	f, q, _ := newFeeder(t, memFiles{"store.go": errorfSource})
	ctx := context.Background()

	require.NoError(t, f.Feed(ctx, "store.go"))
	require.NoError(t, f.Feed(ctx, "store.go"))
	assert.Equal(t, 1, q.Len())
	assert.Equal(t, int64(1), f.Stats().Deduplicated)
}

func TestFeeder_ReadFailure(t *testing.T) {
	f, _, _ := newFeeder(t, memFiles{})
	assert.Error(t, f.Feed(context.Background(), "missing.go"))
	assert.Equal(t, int64(1), f.Stats().Errors)
}

func TestNewWatcher_Validation(t *testing.T) {
	_, err := NewWatcher(t.TempDir(), nil, DefaultOptions(), nil)
	assert.ErrorIs(t, err, failure.ErrConfiguration)

	_, err = NewWatcher(t.TempDir(), func(context.Context, []Change) {}, Options{}, nil)
	assert.ErrorIs(t, err, failure.ErrConfiguration)
}

func TestWatcher_DeliversDebouncedChanges(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, ".git"), 0o755))

	batches := make(chan []Change, 16)
	w, err := NewWatcher(root, func(_ context.Context, cs []Change) { batches <- cs },
		Options{Debounce: 20 * time.Millisecond, Ignore: DefaultOptions().Ignore}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	defer func() {
		cancel()
		require.NoError(t, <-done)
	}()

	select {
	case <-w.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("watcher not ready")
	}

	path := filepath.Join(root, "main.go")
	require.NoError(t, os.WriteFile(path, []byte("package main\n"), 0o644))
	require.NoError(t, os.WriteFile(path, []byte("package main\n\nfunc main() {}\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".git", "HEAD"), []byte("ref"), 0o644))

	seen := map[string]bool{}
	deadline := time.After(3 * time.Second)
	for !seen["main.go"] {
		select {
		case cs := <-batches:
			for _, c := range cs {
				seen[filepath.Base(c.Path)] = true
			}
		case <-deadline:
			t.Fatal("no change delivered for main.go")
		}
	}
	assert.False(t, seen["HEAD"], "ignored directories are not watched")
}

func TestOp_String(t *testing.T) {
	assert.Equal(t, "create", OpCreate.String())
	assert.Equal(t, "write", OpWrite.String())
	assert.Equal(t, "remove", OpRemove.String())
	assert.Equal(t, "rename", OpRename.String())
}
