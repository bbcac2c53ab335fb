// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package fileio reads and writes the source files the engine corrects.
//
// All writes go through an Applier, which serializes edits per file and
// re-checks each edit's precondition against the content on disk.
package fileio

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/AleutianAI/autocorrect/services/autocorrect/failure"
)

// ErrOutsideRoot is returned for paths that escape the file system root.
var ErrOutsideRoot = errors.New("path escapes root directory")

// FileSystem is the engine's view of source files.
type FileSystem interface {
	// Read returns the full content of path.
	Read(path string) ([]byte, error)

	// Write replaces the content of path. Implementations must not leave a
	// partially written file behind.
	Write(path string, content []byte) error
}

// =============================================================================
// OSFileSystem
// =============================================================================

// OSFileSystem reads and writes files under a root directory.
//
// Relative paths are resolved against the root; absolute paths must lie
// inside it. Writes go to a temporary file in the same directory that is
// then renamed over the target, preserving the target's mode.
//
// Thread Safety: Safe for concurrent use. Concurrent writes to the same
// path are last-writer-wins; use an Applier to serialize them.
type OSFileSystem struct {
	root string
}

// NewOSFileSystem creates a file system rooted at root.
//
// Outputs:
//
//	*OSFileSystem - The file system.
//	error - Configuration failure if root is not an existing directory.
func NewOSFileSystem(root string) (*OSFileSystem, error) {
	const op = "fileio.NewOSFileSystem"
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, failure.Wrap(failure.KindConfiguration, op, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, failure.Wrap(failure.KindConfiguration, op, err)
	}
	if !info.IsDir() {
		return nil, failure.Newf(failure.KindConfiguration, op, "root is not a directory: %s", abs)
	}
	return &OSFileSystem{root: abs}, nil
}

// Root returns the absolute root directory.
func (f *OSFileSystem) Root() string {
	return f.root
}

// Resolve maps path to an absolute path inside the root.
func (f *OSFileSystem) Resolve(path string) (string, error) {
	full := path
	if !filepath.IsAbs(full) {
		full = filepath.Join(f.root, full)
	}
	full = filepath.Clean(full)
	rel, err := filepath.Rel(f.root, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, path)
	}
	return full, nil
}

// Rel returns path relative to the root, using forward slashes.
func (f *OSFileSystem) Rel(path string) (string, error) {
	full, err := f.Resolve(path)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(f.root, full)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}

// Read implements FileSystem.
func (f *OSFileSystem) Read(path string) ([]byte, error) {
	full, err := f.Resolve(path)
	if err != nil {
		return nil, failure.Wrap(failure.KindFileOperation, "fileio.Read", err)
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, failure.Wrap(failure.KindFileOperation, "fileio.Read", err)
	}
	return data, nil
}

// Write implements FileSystem.
func (f *OSFileSystem) Write(path string, content []byte) error {
	const op = "fileio.Write"
	full, err := f.Resolve(path)
	if err != nil {
		return failure.Wrap(failure.KindFileOperation, op, err)
	}

	mode := fs.FileMode(0o644)
	if info, err := os.Stat(full); err == nil {
		mode = info.Mode().Perm()
	} else if !errors.Is(err, fs.ErrNotExist) {
		return failure.Wrap(failure.KindFileOperation, op, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(full), "."+filepath.Base(full)+".autocorrect-*")
	if err != nil {
		return failure.Wrap(failure.KindFileOperation, op, err)
	}
	tmpName := tmp.Name()
	cleanup := func(cause error) error {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return failure.Wrap(failure.KindFileOperation, op, cause)
	}

	if _, err := tmp.Write(content); err != nil {
		return cleanup(err)
	}
	if err := tmp.Sync(); err != nil {
		return cleanup(err)
	}
	if err := tmp.Chmod(mode); err != nil {
		return cleanup(err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return failure.Wrap(failure.KindFileOperation, op, err)
	}
	if err := os.Rename(tmpName, full); err != nil {
		_ = os.Remove(tmpName)
		return failure.Wrap(failure.KindFileOperation, op, err)
	}
	return nil
}

// =============================================================================
// MemFileSystem
// =============================================================================

// MemFileSystem is an in-memory FileSystem for tests and dry runs.
//
// Thread Safety: Safe for concurrent use.
type MemFileSystem struct {
	mu     sync.RWMutex
	files  map[string][]byte
	writes int

	// failWrites makes every Write fail with the given error.
	failWrites error
}

// NewMemFileSystem creates a file system holding a copy of files.
func NewMemFileSystem(files map[string]string) *MemFileSystem {
	m := &MemFileSystem{files: make(map[string][]byte, len(files))}
	for path, content := range files {
		m.files[path] = []byte(content)
	}
	return m
}

// Read implements FileSystem. The returned slice is a copy.
func (m *MemFileSystem) Read(path string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.files[path]
	if !ok {
		return nil, failure.Wrap(failure.KindFileOperation, "fileio.Read", fmt.Errorf("%s: %w", path, fs.ErrNotExist))
	}
	return append([]byte(nil), data...), nil
}

// Write implements FileSystem.
func (m *MemFileSystem) Write(path string, content []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrites != nil {
		return failure.Wrap(failure.KindFileOperation, "fileio.Write", m.failWrites)
	}
	m.files[path] = append([]byte(nil), content...)
	m.writes++
	return nil
}

// FailWrites makes subsequent writes fail with err; nil restores them.
func (m *MemFileSystem) FailWrites(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWrites = err
}

// Content returns the current content of path, or "" if absent.
func (m *MemFileSystem) Content(path string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return string(m.files[path])
}

// Writes returns the number of successful writes.
func (m *MemFileSystem) Writes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}

// Paths returns every stored path in sorted order.
func (m *MemFileSystem) Paths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	paths := make([]string, 0, len(m.files))
	for p := range m.files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
