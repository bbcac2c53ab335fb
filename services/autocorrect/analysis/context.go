// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package analysis

import (
	"sort"
	"sync"
	"time"

	"github.com/AleutianAI/autocorrect/services/autocorrect/ast"
)

// =============================================================================
// FileAnalysis
// =============================================================================

// FileAnalysis is the cached, per-file result of parsing and symbol
// extraction. It is keyed by path and content hash and never shared across
// files.
//
// Thread Safety: Immutable except for the memoized contexts, which are
// guarded internally.
type FileAnalysis struct {
	Path        string
	Tree        *ast.SyntaxTree
	Diagnostics []ast.ParseDiagnostic
	Symbols     []Symbol
	Members     map[string][]Symbol
	Imports     []Import

	// ImportAnchor is the span of the last import declaration, or the
	// insertion point after the package clause when there is none.
	ImportAnchor ast.Span

	BuiltAt time.Time

	mu       sync.Mutex
	contexts map[ast.Span]*Context
}

func newFileAnalysis(path string, tree *ast.SyntaxTree, diags []ast.ParseDiagnostic) *FileAnalysis {
	fs := extractorFor(tree.Language).Extract(tree)
	return &FileAnalysis{
		Path:         path,
		Tree:         tree,
		Diagnostics:  diags,
		Symbols:      fs.symbols,
		Members:      fs.members,
		Imports:      fs.imports,
		ImportAnchor: fs.importAnchor,
		BuiltAt:      time.Now(),
		contexts:     make(map[ast.Span]*Context),
	}
}

// Hash returns the content hash the analysis was built from.
func (fa *FileAnalysis) Hash() string {
	return fa.Tree.Hash
}

// WindowLimits bounds the context window.
type WindowLimits struct {
	// MaxNodes caps the number of window nodes.
	MaxNodes int

	// MaxDepth caps how many ancestors are walked.
	MaxDepth int
}

// Context returns the analysis context for span, memoized per span.
//
// Outputs:
//
//	*Context - The context, or nil when span does not map to a node.
func (fa *FileAnalysis) Context(span ast.Span, limits WindowLimits) *Context {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	if c, ok := fa.contexts[span]; ok {
		return c
	}
	c := fa.buildContext(span, limits)
	if c != nil {
		fa.contexts[span] = c
	}
	return c
}

func (fa *FileAnalysis) buildContext(span ast.Span, limits WindowLimits) *Context {
	primary := fa.Tree.NodeAt(span)
	if primary == nil {
		return nil
	}
	return &Context{
		File:     fa.Path,
		Language: fa.Tree.Language,
		Hash:     fa.Tree.Hash,
		Span:     span,
		Primary:  primary,
		Window:   window(primary, limits),
		Scope:    visibleSymbols(fa.Symbols, span),
		file:     fa,
	}
}

// window collects ancestors nearest-first (up to MaxDepth), then the named
// siblings of the primary node ordered by distance, up to MaxNodes total.
func window(primary *ast.Node, limits WindowLimits) []*ast.Node {
	out := make([]*ast.Node, 0, limits.MaxNodes)
	depth := 0
	for p := primary.Parent; p != nil && depth < limits.MaxDepth && len(out) < limits.MaxNodes; p = p.Parent {
		out = append(out, p)
		depth++
	}
	if primary.Parent == nil || len(out) >= limits.MaxNodes {
		return out
	}

	siblings := primary.Parent.NamedChildren()
	idx := -1
	for i, s := range siblings {
		if s == primary {
			idx = i
			break
		}
	}
	for d := 1; len(out) < limits.MaxNodes && (idx-d >= 0 || idx+d < len(siblings)); d++ {
		if idx-d >= 0 && idx-d < len(siblings) {
			out = append(out, siblings[idx-d])
		}
		if idx+d < len(siblings) && idx+d >= 0 && len(out) < limits.MaxNodes {
			out = append(out, siblings[idx+d])
		}
	}
	return out
}

// visibleSymbols returns the symbols whose scope contains span. Local
// symbols must be declared before span. Inner declarations shadow outer
// ones of the same name.
func visibleSymbols(all []Symbol, span ast.Span) []Symbol {
	best := make(map[string]Symbol)
	for _, s := range all {
		if !s.Scope.Contains(span) {
			continue
		}
		if s.Local && s.Span.Start >= span.Start {
			continue
		}
		if prev, ok := best[s.Name]; ok && prev.Scope.Len() <= s.Scope.Len() {
			continue
		}
		best[s.Name] = s
	}
	out := make([]Symbol, 0, len(best))
	for _, s := range best {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Span.Start < out[j].Span.Start
	})
	return out
}

// =============================================================================
// Context
// =============================================================================

// Context is the analysis context handed to strategies.
//
// Thread Safety: Read-only; shared between concurrently running strategies.
type Context struct {
	File     string
	Language string

	// Hash is the content hash of the analyzed file.
	Hash string

	// Span is the trigger span the context was built for.
	Span ast.Span

	// Primary is the smallest named node covering Span.
	Primary *ast.Node

	// Window is the bounded sequence of ancestors (nearest first) followed
	// by siblings of Primary.
	Window []*ast.Node

	// Scope holds the identifiers visible at Span, sorted by name.
	Scope []Symbol

	file *FileAnalysis
}

// Tree returns the file's syntax tree.
func (c *Context) Tree() *ast.SyntaxTree {
	return c.file.Tree
}

// Source returns the analyzed file content. Callers must not modify it.
func (c *Context) Source() []byte {
	return c.file.Tree.Source
}

// SourceMap returns the file's offset to line/column projection.
func (c *Context) SourceMap() *ast.SourceMap {
	return c.file.Tree.Map
}

// Text returns the source text at span.
func (c *Context) Text(span ast.Span) string {
	return c.file.Tree.Slice(span)
}

// NodeText returns the source text of n.
func (c *Context) NodeText(n *ast.Node) string {
	return c.file.Tree.Text(n)
}

// Position returns the 1-based position of offset, or the zero Position.
func (c *Context) Position(offset int) ast.Position {
	pos, _ := c.file.Tree.Map.Position(offset)
	return pos
}

// Imports returns the file's imports.
func (c *Context) Imports() []Import {
	return c.file.Imports
}

// ImportAnchor returns where import declarations live in the file.
func (c *Context) ImportAnchor() ast.Span {
	return c.file.ImportAnchor
}

// Diagnostics returns the parser diagnostics of the file.
func (c *Context) Diagnostics() []ast.ParseDiagnostic {
	return c.file.Diagnostics
}

// Lookup returns the visible symbol named name.
func (c *Context) Lookup(name string) (Symbol, bool) {
	i := sort.Search(len(c.Scope), func(i int) bool { return c.Scope[i].Name >= name })
	if i < len(c.Scope) && c.Scope[i].Name == name {
		return c.Scope[i], true
	}
	return Symbol{}, false
}

// Members returns the fields and methods declared in this file for the
// type named typeName. Pointers and qualifiers are ignored.
func (c *Context) Members(typeName string) []Symbol {
	return c.file.Members[BaseTypeName(typeName)]
}

// AllSymbols returns every declaration in the file, including out-of-scope
// locals. Strategies use it for cross-scope suggestions.
func (c *Context) AllSymbols() []Symbol {
	return c.file.Symbols
}

// Enclosing returns the nearest node of one of types containing Primary.
func (c *Context) Enclosing(types ...string) *ast.Node {
	return c.Primary.Ancestor(types...)
}
