// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package detect

import (
	"strings"

	"github.com/AleutianAI/autocorrect/services/autocorrect/ast"
	"github.com/AleutianAI/autocorrect/services/autocorrect/strategy"
)

// Pattern ids.
const (
	PatternErrorfWrap       = strategy.PatternErrorfWrap
	PatternEmptyErrorBranch = "empty-error-branch"
	PatternStringConcatLoop = "string-concat-loop"
)

var goOnly = []string{"go"}

// =============================================================================
// errorf-wrap
// =============================================================================

// ErrorfWrap finds fmt.Errorf calls that format a trailing error with %v or
// %s. The finding spans the called function so the error-wrap strategy
// resolves the call from it.
type ErrorfWrap struct{}

// ID implements Detector.
func (ErrorfWrap) ID() string { return PatternErrorfWrap }

// Languages implements Detector.
func (ErrorfWrap) Languages() []string { return goOnly }

// Detect implements Detector.
func (ErrorfWrap) Detect(tree *ast.SyntaxTree) []Finding {
	var out []Finding
	for _, call := range tree.Root.Descendants("call_expression") {
		if _, ok := strategy.ErrorfFormat(tree, call); !ok {
			continue
		}
		fn := call.ChildByField("function")
		out = append(out, Finding{
			Pattern: PatternErrorfWrap,
			Span:    fn.Span,
			Message: "fmt.Errorf formats an error without %w",
		})
	}
	return out
}

// =============================================================================
// empty-error-branch
// =============================================================================

// EmptyErrorBranch finds `if err != nil {}` with nothing in the body.
type EmptyErrorBranch struct{}

// ID implements Detector.
func (EmptyErrorBranch) ID() string { return PatternEmptyErrorBranch }

// Languages implements Detector.
func (EmptyErrorBranch) Languages() []string { return goOnly }

// Detect implements Detector.
func (EmptyErrorBranch) Detect(tree *ast.SyntaxTree) []Finding {
	var out []Finding
	for _, stmt := range tree.Root.Descendants("if_statement") {
		cond := stmt.ChildByField("condition")
		body := stmt.ChildByField("consequence")
		if cond == nil || body == nil || !isErrNotNil(tree, cond) || !emptyBlock(body) {
			continue
		}
		out = append(out, Finding{
			Pattern: PatternEmptyErrorBranch,
			Span:    cond.Span,
			Message: "error is checked but the branch is empty",
		})
	}
	return out
}

func isErrNotNil(tree *ast.SyntaxTree, cond *ast.Node) bool {
	if cond.Type != "binary_expression" {
		return false
	}
	left, op, right := cond.ChildByField("left"), cond.ChildByField("operator"), cond.ChildByField("right")
	if left == nil || op == nil || right == nil {
		return false
	}
	return left.Type == "identifier" && looksLikeError(tree.Text(left)) &&
		tree.Text(op) == "!=" && tree.Text(right) == "nil"
}

// emptyBlock reports whether a block holds no statements. Comments count
// as content: an explained empty branch is deliberate.
func emptyBlock(block *ast.Node) bool {
	for _, c := range block.NamedChildren() {
		if c.Type == "statement_list" && len(c.NamedChildren()) == 0 {
			continue
		}
		return false
	}
	return true
}

func looksLikeError(name string) bool {
	return name == "err" || strings.HasSuffix(name, "Err") || strings.HasSuffix(name, "Error")
}

// =============================================================================
// string-concat-loop
// =============================================================================

// StringConcatLoop finds `s += x` inside a for loop where s was declared as
// a string in the same function.
type StringConcatLoop struct{}

// ID implements Detector.
func (StringConcatLoop) ID() string { return PatternStringConcatLoop }

// Languages implements Detector.
func (StringConcatLoop) Languages() []string { return goOnly }

// Detect implements Detector.
func (StringConcatLoop) Detect(tree *ast.SyntaxTree) []Finding {
	var out []Finding
	for _, fn := range tree.Root.Descendants("function_declaration", "method_declaration", "func_literal") {
		body := fn.ChildByField("body")
		if body == nil {
			continue
		}
		strs := stringVars(tree, body)
		if len(strs) == 0 {
			continue
		}
		for _, as := range body.Descendants("assignment_statement") {
			if as.Ancestor("function_declaration", "method_declaration", "func_literal") != fn {
				continue
			}
			if as.Ancestor("for_statement") == nil {
				continue
			}
			op := as.ChildByField("operator")
			left := as.ChildByField("left")
			if op == nil || left == nil || tree.Text(op) != "+=" {
				continue
			}
			name := strings.TrimSpace(tree.Text(left))
			if !strs[name] {
				continue
			}
			out = append(out, Finding{
				Pattern: PatternStringConcatLoop,
				Span:    as.Span,
				Message: "string " + name + " is concatenated in a loop; use strings.Builder",
			})
		}
	}
	return out
}

// stringVars returns the names declared in body with a string literal
// initializer or an explicit string type.
func stringVars(tree *ast.SyntaxTree, body *ast.Node) map[string]bool {
	out := make(map[string]bool)
	for _, d := range body.Descendants("short_var_declaration") {
		left, right := d.ChildByField("left"), d.ChildByField("right")
		if left == nil || right == nil {
			continue
		}
		names, values := left.NamedChildren(), right.NamedChildren()
		for i, n := range names {
			if i < len(values) && isStringLiteral(values[i]) {
				out[tree.Text(n)] = true
			}
		}
	}
	for _, spec := range body.Descendants("var_spec") {
		typ := spec.ChildByField("type")
		value := spec.ChildByField("value")
		stringy := typ != nil && tree.Text(typ) == "string"
		if value != nil && len(value.NamedChildren()) > 0 && isStringLiteral(value.NamedChildren()[0]) {
			stringy = true
		}
		if !stringy {
			continue
		}
		for _, c := range spec.Children {
			if c.Field == "name" {
				out[tree.Text(c)] = true
			}
		}
	}
	return out
}

func isStringLiteral(n *ast.Node) bool {
	return n.Type == "interpreted_string_literal" || n.Type == "raw_string_literal"
}
