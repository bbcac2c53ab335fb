// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package codegen

import (
	"strings"
	"unicode"

	"github.com/AleutianAI/autocorrect/services/autocorrect/analysis"
	"github.com/AleutianAI/autocorrect/services/autocorrect/ast"
	"github.com/AleutianAI/autocorrect/services/autocorrect/fix"
)

// controlFlowKeywords change which statements run when they appear in a
// function body.
var controlFlowKeywords = map[string]bool{
	"return": true, "break": true, "continue": true, "goto": true, "fallthrough": true,
	"panic": true, "if": true, "else": true, "for": true, "while": true,
	"switch": true, "select": true, "case": true, "default": true,
	"defer": true, "go": true, "throw": true, "raise": true, "yield": true,
	"try": true, "catch": true, "except": true, "finally": true, "await": true,
}

// declarationKeywords introduce a new name.
var declarationKeywords = map[string]bool{
	"func": true, "type": true, "var": true, "const": true, "import": true,
	"def": true, "class": true, "let": true, "function": true, ":=": true,
}

var importNodes = []string{"import_declaration", "import_statement", "import_from_statement"}

// functionNodes are the node types that own a body of statements.
var functionNodes = []string{
	"function_declaration", "method_declaration", "func_literal",
	"function_definition", "lambda",
	"arrow_function", "method_definition", "function_expression", "function",
}

// ShapeOf derives the structural shape of edit within actx.
//
// Description:
//
//	The shape is computed from static rules over the edit text and the
//	syntax tree; it never looks at the candidate's confidence.
//	SingleToken: old and new text are each at most one token.
//	SingleExpression: the edit replaces exactly one expression node with
//	text on one line that holds no statement punctuation.
//	MultiLine: either side contains a newline.
//	CrossScope: the edit lies in a different top-level declaration than
//	the trigger's primary node.
//	TouchesDeclaration: the edit overlaps a declared name, adds or
//	removes a declaration keyword, or lies in an import declaration.
//	AltersControlFlow: the edit removes a control-flow keyword, or adds
//	one inside a function body.
func ShapeOf(actx *analysis.Context, edit fix.Edit) fix.Shape {
	oldTokens := tokenize(edit.OldText)
	newTokens := tokenize(edit.NewText)

	s := fix.Shape{
		SingleToken: len(oldTokens) <= 1 && len(newTokens) <= 1,
		MultiLine:   strings.Contains(edit.OldText, "\n") || strings.Contains(edit.NewText, "\n"),
	}

	tree := actx.Tree()
	node := tree.NodeAt(edit.Span)

	if !s.MultiLine && node != nil && node.Span == edit.Span && isExpression(node) &&
		!strings.ContainsAny(edit.NewText, ";{}") && !hasAny(newTokens, declarationKeywords) {
		s.SingleExpression = true
	}

	if actx.Primary != nil && node != nil {
		s.CrossScope = node.TopLevel() != actx.Primary.TopLevel()
	}

	s.TouchesDeclaration = hasAny(oldTokens, declarationKeywords) || hasAny(newTokens, declarationKeywords) ||
		(node != nil && node.Ancestor(importNodes...) != nil)
	if !s.TouchesDeclaration {
		for _, sym := range actx.AllSymbols() {
			if sym.Span.Overlaps(edit.Span) {
				s.TouchesDeclaration = true
				break
			}
		}
	}

	s.AltersControlFlow = hasAny(oldTokens, controlFlowKeywords)
	if !s.AltersControlFlow && hasAny(newTokens, controlFlowKeywords) {
		s.AltersControlFlow = node != nil && node.Ancestor(functionNodes...) != nil
	}
	return s
}

func isExpression(n *ast.Node) bool {
	switch {
	case strings.HasSuffix(n.Type, "_expression"),
		strings.HasSuffix(n.Type, "identifier"),
		strings.HasSuffix(n.Type, "_literal"):
		return true
	}
	switch n.Type {
	case "string", "number", "integer", "float", "true", "false", "nil", "none", "null",
		"call", "attribute", "subscript", "binary_operator", "unary_operator":
		return true
	}
	return false
}

func hasAny(tokens []string, set map[string]bool) bool {
	for _, t := range tokens {
		if set[t] {
			return true
		}
	}
	return false
}

// tokenize splits s into a rough token stream: words, quoted literals,
// single brackets and runs of other punctuation.
func tokenize(s string) []string {
	var out []string
	rs := []rune(s)
	for i := 0; i < len(rs); {
		r := rs[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case isWordRune(r):
			j := i
			for j < len(rs) && isWordRune(rs[j]) {
				j++
			}
			out = append(out, string(rs[i:j]))
			i = j
		case r == '"' || r == '\'' || r == '`':
			j := i + 1
			for j < len(rs) && rs[j] != r {
				if rs[j] == '\\' && r != '`' {
					j++
				}
				j++
			}
			j = min(j+1, len(rs))
			out = append(out, string(rs[i:j]))
			i = j
		case strings.ContainsRune("()[]{}", r):
			out = append(out, string(r))
			i++
		default:
			j := i
			for j < len(rs) && !unicode.IsSpace(rs[j]) && !isWordRune(rs[j]) &&
				!strings.ContainsRune("()[]{}\"'`", rs[j]) {
				j++
			}
			out = append(out, string(rs[i:j]))
			i = j
		}
	}
	return out
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
