// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package strategy

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/mod/modfile"
	"golang.org/x/mod/module"

	"github.com/AleutianAI/autocorrect/services/autocorrect/analysis"
	"github.com/AleutianAI/autocorrect/services/autocorrect/ast"
	"github.com/AleutianAI/autocorrect/services/autocorrect/fix"
	"github.com/AleutianAI/autocorrect/services/autocorrect/trigger"
)

// stdlibPackages maps package names to standard library import paths.
var stdlibPackages = map[string]string{
	"bufio": "bufio", "bytes": "bytes", "context": "context", "errors": "errors",
	"fmt": "fmt", "io": "io", "math": "math", "os": "os", "path": "path",
	"reflect": "reflect", "regexp": "regexp", "sort": "sort", "strconv": "strconv",
	"strings": "strings", "sync": "sync", "time": "time", "unicode": "unicode",
	"atomic": "sync/atomic", "filepath": "path/filepath", "http": "net/http",
	"url": "net/url", "json": "encoding/json", "hex": "encoding/hex",
	"base64": "encoding/base64", "sha256": "crypto/sha256", "rand": "math/rand",
	"slog": "log/slog", "log": "log", "exec": "os/exec", "signal": "os/signal",
	"utf8": "unicode/utf8", "slices": "slices", "maps": "maps", "cmp": "cmp",
	"heap": "container/heap", "list": "container/list", "ioutil": "io/ioutil",
	"fs": "io/fs", "net": "net", "template": "text/template", "tabwriter": "text/tabwriter",
	"httptest": "net/http/httptest", "testing": "testing", "embed": "embed",
}

// ModuleIndex maps package names to import paths of the current module and
// its requirements, built from go.mod.
//
// Thread Safety: Immutable after construction.
type ModuleIndex struct {
	module string
	byName map[string][]string
}

// ParseModuleIndex builds an index from go.mod content.
//
// Description:
//
//	Every required module is indexed under the last element of its path,
//	ignoring a /vN major version suffix ("github.com/dgraph-io/badger/v4"
//	is found as "badger", "gopkg.in/yaml.v3" as "yaml"). Packages of the
//	module itself can be added with AddPackage.
func ParseModuleIndex(content []byte) (*ModuleIndex, error) {
	f, err := modfile.Parse("go.mod", content, nil)
	if err != nil {
		return nil, fmt.Errorf("parse go.mod: %w", err)
	}
	idx := &ModuleIndex{byName: make(map[string][]string)}
	if f.Module != nil {
		idx.module = f.Module.Mod.Path
	}
	for _, req := range f.Require {
		idx.add(req.Mod.Path)
	}
	for _, names := range idx.byName {
		sort.Strings(names)
	}
	return idx, nil
}

// Module returns the module path.
func (m *ModuleIndex) Module() string {
	if m == nil {
		return ""
	}
	return m.module
}

// AddPackage indexes a package of the module, given relative to the module
// root ("services/autocorrect/fix").
func (m *ModuleIndex) AddPackage(rel string) {
	if m.module == "" {
		return
	}
	m.add(m.module + "/" + strings.Trim(rel, "/"))
}

func (m *ModuleIndex) add(path string) {
	name := packageName(path)
	if name == "" {
		return
	}
	for _, p := range m.byName[name] {
		if p == path {
			return
		}
	}
	m.byName[name] = append(m.byName[name], path)
}

// Lookup returns the import paths indexed under name.
func (m *ModuleIndex) Lookup(name string) []string {
	if m == nil {
		return nil
	}
	return m.byName[name]
}

// packageName guesses the package name of an import path from its last
// element, skipping major version suffixes.
func packageName(path string) string {
	if prefix, _, ok := module.SplitPathVersion(path); ok && prefix != "" {
		path = prefix
	}
	name := path[strings.LastIndex(path, "/")+1:]
	if i := strings.Index(name, ".v"); i > 0 {
		name = name[:i]
	}
	name = strings.TrimPrefix(name, "go-")
	return strings.ReplaceAll(name, "-", "")
}

// ImportStrategy adds a missing Go import for an undefined package
// qualifier, resolving the path through the standard library and the
// module index.
type ImportStrategy struct {
	index *ModuleIndex
}

// NewImportStrategy creates the strategy. index may be nil.
func NewImportStrategy(index *ModuleIndex) *ImportStrategy {
	return &ImportStrategy{index: index}
}

// Name implements Strategy.
func (s *ImportStrategy) Name() string { return "import" }

// Propose implements Strategy.
func (s *ImportStrategy) Propose(ctx context.Context, actx *analysis.Context, t *trigger.Trigger) ([]fix.Candidate, error) {
	if actx.Language != "go" {
		return nil, nil
	}
	msg, ok := diagnosticMessage(t)
	if !ok {
		return nil, nil
	}
	if !strings.Contains(msg, "undefined: ") {
		return nil, nil
	}
	name, ok := undefinedName(msg)
	if !ok {
		return nil, nil
	}
	node := identifierAt(actx, name)
	if node == nil || !isQualifier(node) {
		return nil, nil
	}
	for _, imp := range actx.Imports() {
		if imp.Name == name {
			return nil, nil
		}
	}

	path, confidence := "", 0.0
	if p, ok := stdlibPackages[name]; ok {
		path, confidence = p, 0.9
	} else if paths := s.index.Lookup(name); len(paths) == 1 {
		path, confidence = paths[0], 0.8
	} else if len(paths) > 1 {
		path, confidence = paths[0], 0.6
	}
	if path == "" {
		return nil, ctx.Err()
	}

	edit, ok := importEdit(actx, t.File(), path)
	if !ok {
		return nil, nil
	}
	return []fix.Candidate{{
		Edit:       edit,
		Confidence: confidence,
		Safety:     fix.Caution,
		Rationale:  fmt.Sprintf("import %q for undefined package %s", path, name),
	}}, nil
}

// isQualifier reports whether n is the operand of a selector (n.Sel) or the
// package of a qualified type (n.Type).
func isQualifier(n *ast.Node) bool {
	if n.Parent == nil {
		return false
	}
	switch n.Parent.Type {
	case "selector_expression":
		return n.Field == "operand"
	case "qualified_type":
		return n.Field == "package"
	}
	return false
}

// importEdit builds the edit adding path to the file's imports.
func importEdit(actx *analysis.Context, file, path string) (fix.Edit, bool) {
	anchor := actx.ImportAnchor()
	quoted := strconv.Quote(path)

	if anchor.Len() == 0 {
		return fix.Edit{File: file, Span: anchor, NewText: "\n\nimport " + quoted}, anchor.Valid()
	}

	decl := actx.Tree().NodeAt(anchor)
	for decl != nil && decl.Type != "import_declaration" {
		decl = decl.Parent
	}
	if decl == nil {
		return fix.Edit{}, false
	}

	if list := findChild(decl, "import_spec_list"); list != nil {
		closing := findChild(list, ")")
		if closing == nil {
			return fix.Edit{}, false
		}
		text := "\t" + quoted + "\n"
		src := actx.Source()
		if closing.Span.Start == 0 || src[closing.Span.Start-1] != '\n' {
			text = "\n" + text
		}
		at := ast.Span{Start: closing.Span.Start, End: closing.Span.Start}
		return fix.Edit{File: file, Span: at, NewText: text}, true
	}

	// import "x" becomes a grouped declaration.
	spec := findChild(decl, "import_spec")
	if spec == nil {
		return fix.Edit{}, false
	}
	specs := []string{actx.NodeText(spec), quoted}
	sort.Strings(specs)
	old := actx.NodeText(decl)
	return fix.Edit{
		File:    file,
		Span:    decl.Span,
		OldText: old,
		NewText: "import (\n\t" + strings.Join(specs, "\n\t") + "\n)",
	}, true
}

func findChild(n *ast.Node, typ string) *ast.Node {
	for _, c := range n.Children {
		if c.Type == typ {
			return c
		}
	}
	return nil
}
