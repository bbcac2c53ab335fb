// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ast is the parser boundary of the auto-correction engine.
//
// It turns raw source text into an immutable SyntaxTree plus a list of
// ParseDiagnostic values, and provides the byte-offset to line/column
// SourceMap used throughout the engine. Parsers are backed by tree-sitter
// grammars and are selected by file extension through a ParserRegistry.
//
// # Thread Safety
//
// Parsers create a tree-sitter parser per call and are safe for concurrent
// use. SyntaxTree values are immutable once returned.
package ast

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Parser turns source text into a syntax tree.
type Parser interface {
	// Parse parses content.
	//
	// Description:
	//
	//	Returns the tree and its syntax diagnostics. Syntax errors are not
	//	a failure: tree-sitter recovers and the damaged regions show up as
	//	ERROR or MISSING nodes plus diagnostics. An error is returned only
	//	when no tree can be produced (invalid content, size limit, cancelled
	//	context).
	//
	// Inputs:
	//
	//	ctx - Context for cancellation.
	//	content - Raw source bytes. The tree keeps a reference; callers must
	//	          not modify content afterwards.
	//
	// Outputs:
	//
	//	*SyntaxTree - The immutable tree.
	//	[]ParseDiagnostic - Syntax problems, in source order.
	//	error - Non-nil when parsing could not run.
	Parse(ctx context.Context, content []byte) (*SyntaxTree, []ParseDiagnostic, error)

	// Language returns the language name, e.g. "go".
	Language() string

	// Extensions returns the file extensions handled, with leading dots.
	Extensions() []string
}

// ParserRegistry maps languages and extensions to parsers.
//
// Thread Safety: Safe for concurrent use.
type ParserRegistry struct {
	mu          sync.RWMutex
	byLanguage  map[string]Parser
	byExtension map[string]Parser
}

// NewParserRegistry creates an empty registry.
func NewParserRegistry() *ParserRegistry {
	return &ParserRegistry{
		byLanguage:  make(map[string]Parser),
		byExtension: make(map[string]Parser),
	}
}

// DefaultRegistry returns a registry with the Go, Python, JavaScript and
// TypeScript parsers registered.
func DefaultRegistry() *ParserRegistry {
	r := NewParserRegistry()
	r.Register(NewGoParser())
	r.Register(NewPythonParser())
	r.Register(NewJavaScriptParser())
	r.Register(NewTypeScriptParser())
	return r
}

// Register adds p, replacing any parser with the same language or
// extensions.
func (r *ParserRegistry) Register(p Parser) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byLanguage[p.Language()] = p
	for _, ext := range p.Extensions() {
		r.byExtension[strings.ToLower(ext)] = p
	}
}

// ForLanguage returns the parser for a language name.
func (r *ParserRegistry) ForLanguage(language string) (Parser, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byLanguage[language]
	return p, ok
}

// ForPath returns the parser for a file path, chosen by extension.
//
// Outputs:
//
//	Parser - The matching parser.
//	error - ErrUnsupportedLanguage (wrapped) when nothing matches.
func (r *ParserRegistry) ForPath(path string) (Parser, error) {
	ext := strings.ToLower(filepath.Ext(path))
	r.mu.RLock()
	p, ok := r.byExtension[ext]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, ErrUnsupportedLanguage)
	}
	return p, nil
}

// Languages returns the registered language names, sorted.
func (r *ParserRegistry) Languages() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byLanguage))
	for lang := range r.byLanguage {
		out = append(out, lang)
	}
	sort.Strings(out)
	return out
}
