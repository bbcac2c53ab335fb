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
	"strconv"
	"strings"

	"github.com/AleutianAI/autocorrect/services/autocorrect/ast"
)

// SymbolKind classifies a declared identifier.
type SymbolKind int

const (
	SymbolFunction SymbolKind = iota + 1
	SymbolMethod
	SymbolType
	SymbolField
	SymbolVariable
	SymbolConstant
	SymbolParameter
	SymbolPackage
)

var symbolKindNames = [...]string{
	SymbolFunction:  "function",
	SymbolMethod:    "method",
	SymbolType:      "type",
	SymbolField:     "field",
	SymbolVariable:  "variable",
	SymbolConstant:  "constant",
	SymbolParameter: "parameter",
	SymbolPackage:   "package",
}

// String returns the lower-case kind name.
func (k SymbolKind) String() string {
	if k > 0 && int(k) < len(symbolKindNames) {
		return symbolKindNames[k]
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler.
func (k SymbolKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Symbol is a declared identifier.
type Symbol struct {
	Name string     `json:"name"`
	Kind SymbolKind `json:"kind"`

	// Span covers the identifier at its declaration.
	Span ast.Span `json:"span"`

	// Type is the declared or inferred type expression, when known.
	Type string `json:"type,omitempty"`

	// Owner is the receiver or enclosing type of fields and methods.
	Owner string `json:"owner,omitempty"`

	// Scope is the region in which the symbol is visible.
	Scope ast.Span `json:"-"`

	// Local is true for symbols declared inside a function body; they are
	// only visible after their declaration.
	Local bool `json:"-"`
}

// Import is one imported package or module.
type Import struct {
	// Name is the identifier the import is referenced by.
	Name string   `json:"name"`
	Path string   `json:"path"`
	Span ast.Span `json:"span"`
}

// fileSymbols is the result of extracting declarations from a tree.
type fileSymbols struct {
	symbols []Symbol
	members map[string][]Symbol
	imports []Import
	// importAnchor is the span of the import declarations, or an insertion
	// point for new imports when the file has none.
	importAnchor ast.Span
}

// SymbolExtractor extracts declarations from a syntax tree of one language.
type SymbolExtractor interface {
	Extract(tree *ast.SyntaxTree) fileSymbols
}

// extractorFor returns the extractor for a language.
func extractorFor(language string) SymbolExtractor {
	switch language {
	case "go":
		return goExtractor{}
	case "python":
		return pythonExtractor{}
	default:
		return scriptExtractor{}
	}
}

func childrenByField(n *ast.Node, field string) []*ast.Node {
	var out []*ast.Node
	for _, c := range n.Children {
		if c.Field == field {
			out = append(out, c)
		}
	}
	return out
}

func nearest(n *ast.Node, types ...string) *ast.Node {
	if n == nil || n.Parent == nil {
		return nil
	}
	return n.Parent.Ancestor(types...)
}

// =============================================================================
// Go
// =============================================================================

type goExtractor struct{}

var goFuncTypes = []string{"function_declaration", "method_declaration", "func_literal"}

var goScopeTypes = []string{
	"block", "if_statement", "for_statement", "expression_switch_statement",
	"type_switch_statement", "select_statement", "expression_case",
	"type_case", "communication_case", "default_case",
	"func_literal", "function_declaration", "method_declaration",
}

func (goExtractor) Extract(tree *ast.SyntaxTree) fileSymbols {
	fs := fileSymbols{members: make(map[string][]Symbol)}
	root := tree.Root
	var lastImport *ast.Node

	add := func(s Symbol) { fs.symbols = append(fs.symbols, s) }

	for _, n := range tree.Nodes {
		switch n.Type {
		case "function_declaration":
			if name := n.ChildByField("name"); name != nil {
				add(Symbol{Name: tree.Text(name), Kind: SymbolFunction, Span: name.Span,
					Type: goSignature(tree, n), Scope: root.Span})
			}

		case "method_declaration":
			name := n.ChildByField("name")
			if name == nil {
				continue
			}
			owner := goReceiverType(tree, n)
			fs.members[owner] = append(fs.members[owner], Symbol{
				Name: tree.Text(name), Kind: SymbolMethod, Span: name.Span,
				Type: goSignature(tree, n), Owner: owner, Scope: root.Span,
			})

		case "type_spec", "type_alias":
			name := n.ChildByField("name")
			if name == nil {
				continue
			}
			typeName := tree.Text(name)
			add(Symbol{Name: typeName, Kind: SymbolType, Span: name.Span, Scope: scopeOf(n, root, goFuncTypes, goScopeTypes)})
			if body := n.ChildByField("type"); body != nil {
				fs.members[typeName] = append(fs.members[typeName], goMembers(tree, body, typeName)...)
			}

		case "parameter_declaration", "variadic_parameter_declaration":
			fn := nearest(n, goFuncTypes...)
			if fn == nil {
				continue
			}
			typ := tree.Text(n.ChildByField("type"))
			for _, name := range childrenByField(n, "name") {
				add(Symbol{Name: tree.Text(name), Kind: SymbolParameter, Span: name.Span, Type: typ, Scope: fn.Span})
			}

		case "var_spec", "const_spec":
			kind := SymbolVariable
			if n.Type == "const_spec" {
				kind = SymbolConstant
			}
			scope := scopeOf(n, root, goFuncTypes, goScopeTypes)
			local := scope != root.Span
			declared := tree.Text(n.ChildByField("type"))
			values := goExpressions(n.ChildByField("value"))
			for i, name := range childrenByField(n, "name") {
				typ := declared
				if typ == "" && i < len(values) {
					typ = goInferType(tree, values[i])
				}
				add(Symbol{Name: tree.Text(name), Kind: kind, Span: name.Span, Type: typ, Scope: scope, Local: local})
			}

		case "short_var_declaration":
			scope := scopeOf(n, root, goFuncTypes, goScopeTypes)
			names := goExpressions(n.ChildByField("left"))
			values := goExpressions(n.ChildByField("right"))
			for i, name := range names {
				if name.Type != "identifier" {
					continue
				}
				typ := ""
				if len(values) == len(names) {
					typ = goInferType(tree, values[i])
				}
				add(Symbol{Name: tree.Text(name), Kind: SymbolVariable, Span: name.Span, Type: typ, Scope: scope, Local: true})
			}

		case "range_clause":
			loop := n.Parent
			if loop == nil {
				continue
			}
			for _, name := range goExpressions(n.ChildByField("left")) {
				if name.Type == "identifier" {
					add(Symbol{Name: tree.Text(name), Kind: SymbolVariable, Span: name.Span, Scope: loop.Span, Local: true})
				}
			}

		case "import_spec":
			path := n.ChildByField("path")
			if path == nil {
				continue
			}
			p, err := strconv.Unquote(tree.Text(path))
			if err != nil {
				continue
			}
			name := p[strings.LastIndex(p, "/")+1:]
			if alias := n.ChildByField("name"); alias != nil {
				name = tree.Text(alias)
			}
			fs.imports = append(fs.imports, Import{Name: name, Path: p, Span: n.Span})
			add(Symbol{Name: name, Kind: SymbolPackage, Span: n.Span, Type: p, Scope: root.Span})

		case "import_declaration":
			lastImport = n
		}
	}

	switch {
	case lastImport != nil:
		fs.importAnchor = lastImport.Span
	default:
		// Insert after the package clause.
		for _, c := range root.Children {
			if c.Type == "package_clause" {
				fs.importAnchor = ast.Span{Start: c.Span.End, End: c.Span.End}
				break
			}
		}
	}
	return fs
}

// scopeOf returns the visibility region of a declaration node: the nearest
// enclosing scope node when inside a function, otherwise the whole file.
func scopeOf(n, root *ast.Node, funcTypes, scopeTypes []string) ast.Span {
	if nearest(n, funcTypes...) == nil {
		return root.Span
	}
	if s := nearest(n, scopeTypes...); s != nil {
		return s.Span
	}
	return root.Span
}

func goExpressions(list *ast.Node) []*ast.Node {
	if list == nil {
		return nil
	}
	if list.Type != "expression_list" {
		return []*ast.Node{list}
	}
	return list.NamedChildren()
}

func goMembers(tree *ast.SyntaxTree, body *ast.Node, owner string) []Symbol {
	var out []Symbol
	switch body.Type {
	case "struct_type":
		for _, list := range body.Children {
			if list.Type != "field_declaration_list" {
				continue
			}
			for _, field := range list.Children {
				if field.Type != "field_declaration" {
					continue
				}
				typ := tree.Text(field.ChildByField("type"))
				names := childrenByField(field, "name")
				if len(names) == 0 {
					// Embedded field: the type name doubles as field name.
					embedded := strings.TrimPrefix(typ, "*")
					embedded = embedded[strings.LastIndex(embedded, ".")+1:]
					out = append(out, Symbol{Name: embedded, Kind: SymbolField, Span: field.Span, Type: typ, Owner: owner})
					continue
				}
				for _, name := range names {
					out = append(out, Symbol{Name: tree.Text(name), Kind: SymbolField, Span: name.Span, Type: typ, Owner: owner})
				}
			}
		}
	case "interface_type":
		for _, elem := range body.Children {
			if elem.Type != "method_elem" && elem.Type != "method_spec" {
				continue
			}
			if name := elem.ChildByField("name"); name != nil {
				out = append(out, Symbol{Name: tree.Text(name), Kind: SymbolMethod, Span: name.Span, Owner: owner})
			}
		}
	}
	return out
}

// goReceiverType returns the base type name of a method receiver, without
// pointer or type arguments.
func goReceiverType(tree *ast.SyntaxTree, method *ast.Node) string {
	recv := method.ChildByField("receiver")
	if recv == nil {
		return ""
	}
	for _, p := range recv.Children {
		if p.Type == "parameter_declaration" {
			return BaseTypeName(tree.Text(p.ChildByField("type")))
		}
	}
	return ""
}

func goSignature(tree *ast.SyntaxTree, fn *ast.Node) string {
	sig := tree.Text(fn.ChildByField("parameters"))
	if result := fn.ChildByField("result"); result != nil {
		sig += " " + tree.Text(result)
	}
	return "func" + sig
}

// goInferType guesses the static type of simple initializer expressions.
func goInferType(tree *ast.SyntaxTree, expr *ast.Node) string {
	switch expr.Type {
	case "composite_literal":
		return tree.Text(expr.ChildByField("type"))
	case "unary_expression":
		operand := expr.ChildByField("operand")
		if operand != nil && operand.Type == "composite_literal" && strings.HasPrefix(tree.Text(expr), "&") {
			return "*" + tree.Text(operand.ChildByField("type"))
		}
	case "interpreted_string_literal", "raw_string_literal":
		return "string"
	case "int_literal":
		return "int"
	case "float_literal":
		return "float64"
	case "rune_literal":
		return "rune"
	case "true", "false":
		return "bool"
	case "call_expression":
		// Conversions like int64(x) or []byte(s).
		fn := expr.ChildByField("function")
		if fn != nil && (fn.Type == "slice_type" || fn.Type == "parenthesized_type") {
			return tree.Text(fn)
		}
		if fn != nil && fn.Type == "identifier" && goBasicTypes[tree.Text(fn)] {
			return tree.Text(fn)
		}
	}
	return ""
}

var goBasicTypes = map[string]bool{
	"bool": true, "string": true, "byte": true, "rune": true, "error": true,
	"int": true, "int8": true, "int16": true, "int32": true, "int64": true,
	"uint": true, "uint8": true, "uint16": true, "uint32": true, "uint64": true,
	"uintptr": true, "float32": true, "float64": true, "complex64": true, "complex128": true,
}

// BaseTypeName strips pointers, slices, qualifiers and type arguments:
// "*pkg.Client[T]" becomes "Client".
func BaseTypeName(typ string) string {
	typ = strings.TrimSpace(typ)
	typ = strings.TrimLeft(typ, "*[]")
	if i := strings.IndexByte(typ, '['); i >= 0 {
		typ = typ[:i]
	}
	if i := strings.LastIndexByte(typ, '.'); i >= 0 {
		typ = typ[i+1:]
	}
	return typ
}

// =============================================================================
// Python
// =============================================================================

type pythonExtractor struct{}

var pyFuncTypes = []string{"function_definition", "lambda"}

func (pythonExtractor) Extract(tree *ast.SyntaxTree) fileSymbols {
	fs := fileSymbols{members: make(map[string][]Symbol)}
	root := tree.Root
	var lastImport *ast.Node

	for _, n := range tree.Nodes {
		switch n.Type {
		case "function_definition":
			name := n.ChildByField("name")
			if name == nil {
				continue
			}
			if class := nearest(n, "class_definition"); class != nil && nearest(n, pyFuncTypes...) == nil {
				owner := tree.Text(class.ChildByField("name"))
				fs.members[owner] = append(fs.members[owner], Symbol{Name: tree.Text(name), Kind: SymbolMethod, Span: name.Span, Owner: owner})
				continue
			}
			fs.symbols = append(fs.symbols, Symbol{Name: tree.Text(name), Kind: SymbolFunction, Span: name.Span,
				Scope: scopeOf(n, root, pyFuncTypes, pyFuncTypes)})

		case "class_definition":
			if name := n.ChildByField("name"); name != nil {
				fs.symbols = append(fs.symbols, Symbol{Name: tree.Text(name), Kind: SymbolType, Span: name.Span,
					Scope: scopeOf(n, root, pyFuncTypes, pyFuncTypes)})
			}

		case "assignment":
			left := n.ChildByField("left")
			if left == nil || left.Type != "identifier" {
				continue
			}
			scope := scopeOf(n, root, pyFuncTypes, pyFuncTypes)
			fs.symbols = append(fs.symbols, Symbol{Name: tree.Text(left), Kind: SymbolVariable, Span: left.Span,
				Type: tree.Text(n.ChildByField("type")), Scope: scope, Local: scope != root.Span})

		case "parameters", "lambda_parameters":
			fn := n.Parent
			if fn == nil {
				continue
			}
			for _, p := range n.NamedChildren() {
				name := p
				if p.Type != "identifier" {
					name = p.ChildByField("name")
					if name == nil && len(p.NamedChildren()) > 0 {
						name = p.NamedChildren()[0]
					}
				}
				if name != nil && name.Type == "identifier" {
					fs.symbols = append(fs.symbols, Symbol{Name: tree.Text(name), Kind: SymbolParameter, Span: name.Span, Scope: fn.Span})
				}
			}

		case "import_statement", "import_from_statement":
			lastImport = n
			for _, c := range n.NamedChildren() {
				if c.Field == "module_name" {
					continue
				}
				path, alias := tree.Text(c), ""
				if c.Type == "aliased_import" {
					path = tree.Text(c.ChildByField("name"))
					alias = tree.Text(c.ChildByField("alias"))
				}
				name := alias
				if name == "" {
					name = path[strings.LastIndex(path, ".")+1:]
				}
				fs.imports = append(fs.imports, Import{Name: name, Path: path, Span: n.Span})
				fs.symbols = append(fs.symbols, Symbol{Name: name, Kind: SymbolPackage, Span: n.Span, Type: path, Scope: root.Span})
			}
		}
	}
	if lastImport != nil {
		fs.importAnchor = lastImport.Span
	}
	return fs
}

// =============================================================================
// JavaScript and TypeScript
// =============================================================================

type scriptExtractor struct{}

var jsFuncTypes = []string{
	"function_declaration", "generator_function_declaration", "function_expression",
	"function", "arrow_function", "method_definition",
}

var jsScopeTypes = append([]string{"statement_block", "for_statement", "for_in_statement"}, jsFuncTypes...)

func (scriptExtractor) Extract(tree *ast.SyntaxTree) fileSymbols {
	fs := fileSymbols{members: make(map[string][]Symbol)}
	root := tree.Root
	var lastImport *ast.Node

	for _, n := range tree.Nodes {
		switch n.Type {
		case "function_declaration", "generator_function_declaration":
			if name := n.ChildByField("name"); name != nil {
				fs.symbols = append(fs.symbols, Symbol{Name: tree.Text(name), Kind: SymbolFunction, Span: name.Span,
					Scope: scopeOf(n, root, jsFuncTypes, jsScopeTypes)})
			}

		case "class_declaration", "interface_declaration", "type_alias_declaration":
			if name := n.ChildByField("name"); name != nil {
				fs.symbols = append(fs.symbols, Symbol{Name: tree.Text(name), Kind: SymbolType, Span: name.Span,
					Scope: scopeOf(n, root, jsFuncTypes, jsScopeTypes)})
			}

		case "method_definition", "public_field_definition", "field_definition":
			class := nearest(n, "class_declaration", "class")
			if class == nil {
				continue
			}
			name := n.ChildByField("name")
			if name == nil {
				name = n.ChildByField("property")
			}
			if name == nil {
				continue
			}
			kind := SymbolMethod
			if n.Type != "method_definition" {
				kind = SymbolField
			}
			owner := tree.Text(class.ChildByField("name"))
			fs.members[owner] = append(fs.members[owner], Symbol{Name: tree.Text(name), Kind: kind, Span: name.Span, Owner: owner})

		case "variable_declarator":
			name := n.ChildByField("name")
			if name == nil || name.Type != "identifier" {
				continue
			}
			scope := scopeOf(n, root, jsFuncTypes, jsScopeTypes)
			fs.symbols = append(fs.symbols, Symbol{Name: tree.Text(name), Kind: SymbolVariable, Span: name.Span,
				Type: strings.TrimPrefix(strings.TrimSpace(tree.Text(n.ChildByField("type"))), ": "),
				Scope: scope, Local: scope != root.Span})

		case "formal_parameters":
			fn := n.Parent
			if fn == nil {
				continue
			}
			for _, p := range n.NamedChildren() {
				name := p
				if p.Type != "identifier" {
					name = p.ChildByField("pattern")
				}
				if name != nil && name.Type == "identifier" {
					fs.symbols = append(fs.symbols, Symbol{Name: tree.Text(name), Kind: SymbolParameter, Span: name.Span, Scope: fn.Span})
				}
			}

		case "import_statement":
			lastImport = n
			source := n.ChildByField("source")
			path := strings.Trim(tree.Text(source), `"'`)
			for _, id := range n.Descendants("identifier") {
				fs.imports = append(fs.imports, Import{Name: tree.Text(id), Path: path, Span: n.Span})
				fs.symbols = append(fs.symbols, Symbol{Name: tree.Text(id), Kind: SymbolPackage, Span: id.Span, Type: path, Scope: root.Span})
			}
		}
	}
	if lastImport != nil {
		fs.importAnchor = lastImport.Span
	}
	return fs
}
