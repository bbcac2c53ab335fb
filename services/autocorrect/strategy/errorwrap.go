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
	"strings"

	"github.com/AleutianAI/autocorrect/services/autocorrect/analysis"
	"github.com/AleutianAI/autocorrect/services/autocorrect/ast"
	"github.com/AleutianAI/autocorrect/services/autocorrect/fix"
	"github.com/AleutianAI/autocorrect/services/autocorrect/trigger"
)

// PatternErrorfWrap is the pattern id of fmt.Errorf calls formatting an
// error operand with %v or %s instead of %w.
const PatternErrorfWrap = "errorf-wrap"

// ErrorWrapStrategy rewrites the verb formatting the trailing error operand
// of fmt.Errorf to %w so the cause stays inspectable with errors.Is.
type ErrorWrapStrategy struct{}

// NewErrorWrapStrategy creates the strategy.
func NewErrorWrapStrategy() *ErrorWrapStrategy { return &ErrorWrapStrategy{} }

// Name implements Strategy.
func (s *ErrorWrapStrategy) Name() string { return "error-wrap" }

// Propose implements Strategy.
func (s *ErrorWrapStrategy) Propose(_ context.Context, actx *analysis.Context, t *trigger.Trigger) ([]fix.Candidate, error) {
	p, ok := t.Pattern()
	if !ok || p.ID != PatternErrorfWrap || actx.Language != "go" {
		return nil, nil
	}
	call := actx.Primary.Ancestor("call_expression")
	if call == nil {
		return nil, nil
	}
	format, ok := ErrorfFormat(actx.Tree(), call)
	if !ok {
		return nil, nil
	}
	lit := actx.NodeText(format)
	i := lastVerb(lit)
	if i < 0 {
		return nil, nil
	}
	return []fix.Candidate{{
		Edit: fix.Edit{
			File:    t.File(),
			Span:    format.Span,
			OldText: lit,
			NewText: lit[:i] + "%w" + lit[i+2:],
		},
		Confidence: 0.95,
		Safety:     fix.Safe,
		Rationale:  "wrap the error with %w so callers can unwrap it",
	}}, nil
}

// ErrorfFormat returns the format string literal of a fmt.Errorf call
// whose last argument is an error-looking identifier (err, or ending in Err)
// and whose last verb is %v or %s.
func ErrorfFormat(tree *ast.SyntaxTree, call *ast.Node) (*ast.Node, bool) {
	if call.Type != "call_expression" || tree.Text(call.ChildByField("function")) != "fmt.Errorf" {
		return nil, false
	}
	args := call.ChildByField("arguments")
	if args == nil {
		return nil, false
	}
	named := args.NamedChildren()
	if len(named) < 2 {
		return nil, false
	}
	format := named[0]
	if format.Type != "interpreted_string_literal" && format.Type != "raw_string_literal" {
		return nil, false
	}
	last := named[len(named)-1]
	if last.Type != "identifier" || !looksLikeError(tree.Text(last)) {
		return nil, false
	}
	if lastVerb(tree.Text(format)) < 0 {
		return nil, false
	}
	return format, true
}

func looksLikeError(name string) bool {
	return name == "err" || strings.HasSuffix(name, "Err") || strings.HasSuffix(name, "Error")
}

// lastVerb returns the byte offset of the last verb in a format literal if
// it is %v or %s, or -1.
func lastVerb(lit string) int {
	last, verb := -1, byte(0)
	for i := 0; i < len(lit)-1; i++ {
		if lit[i] != '%' {
			continue
		}
		if lit[i+1] == '%' {
			i++
			continue
		}
		last, verb = i, lit[i+1]
	}
	if last < 0 || (verb != 'v' && verb != 's') {
		return -1
	}
	return last
}
