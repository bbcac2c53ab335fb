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
	"strings"

	"github.com/AleutianAI/autocorrect/services/autocorrect/analysis"
	"github.com/AleutianAI/autocorrect/services/autocorrect/fix"
	"github.com/AleutianAI/autocorrect/services/autocorrect/trigger"
)

// ReferenceStrategy fixes pointer/value mismatches: it takes the address of
// a value where a pointer is expected, dereferences a pointer where a value
// is expected, and drops a dereference of a non-pointer.
type ReferenceStrategy struct{}

// NewReferenceStrategy creates the strategy.
func NewReferenceStrategy() *ReferenceStrategy { return &ReferenceStrategy{} }

// Name implements Strategy.
func (s *ReferenceStrategy) Name() string { return "reference" }

// addressable lists the node types & can be applied to.
var addressable = map[string]bool{
	"identifier": true, "selector_expression": true, "index_expression": true,
	"composite_literal": true, "parenthesized_expression": true,
}

// Propose implements Strategy.
func (s *ReferenceStrategy) Propose(ctx context.Context, actx *analysis.Context, t *trigger.Trigger) ([]fix.Candidate, error) {
	if actx.Language != "go" {
		return nil, nil
	}
	msg, ok := diagnosticMessage(t)
	if !ok {
		return nil, nil
	}

	if m := indirectPattern.FindStringSubmatch(msg); m != nil {
		return s.dropDeref(actx, t, m[1]), nil
	}

	mm, ok := typeMismatch(msg)
	if !ok {
		return nil, nil
	}
	node := expressionAt(actx, mm.expr)
	if node == nil {
		return nil, ctx.Err()
	}

	switch {
	case "*"+mm.from == mm.to && addressable[node.Type]:
		return []fix.Candidate{{
			Edit:       fix.Edit{File: t.File(), Span: node.Span, OldText: mm.expr, NewText: "&" + mm.expr},
			Confidence: 0.9,
			Safety:     fix.Caution,
			Rationale:  fmt.Sprintf("pass the address of %s (%s expected)", mm.expr, mm.to),
		}}, nil

	case strings.HasPrefix(mm.expr, "&") && "*"+mm.to == mm.from:
		inner := strings.TrimPrefix(mm.expr, "&")
		return []fix.Candidate{{
			Edit:       fix.Edit{File: t.File(), Span: node.Span, OldText: mm.expr, NewText: inner},
			Confidence: 0.9,
			Safety:     fix.Safe,
			Rationale:  fmt.Sprintf("pass %s by value (%s expected)", inner, mm.to),
		}}, nil

	case mm.from == "*"+mm.to:
		operand := mm.expr
		if node.Type != "identifier" && node.Type != "selector_expression" && node.Type != "parenthesized_expression" {
			operand = "(" + operand + ")"
		}
		return []fix.Candidate{{
			Edit:       fix.Edit{File: t.File(), Span: node.Span, OldText: mm.expr, NewText: "*" + operand},
			Confidence: 0.85,
			Safety:     fix.Caution,
			Rationale:  fmt.Sprintf("dereference %s (%s expected); panics if nil", mm.expr, mm.to),
		}}, nil
	}
	return nil, nil
}

// dropDeref turns *x into x when x is not a pointer.
func (s *ReferenceStrategy) dropDeref(actx *analysis.Context, t *trigger.Trigger, operand string) []fix.Candidate {
	target := expressionAt(actx, "*"+operand)
	if target == nil {
		inner := expressionAt(actx, operand)
		if inner == nil || inner.Parent == nil || inner.Parent.Type != "unary_expression" {
			return nil
		}
		target = inner.Parent
	}
	if target.Type != "unary_expression" || !strings.HasPrefix(actx.NodeText(target), "*") {
		return nil
	}
	old := actx.NodeText(target)
	inner := target.ChildByField("operand")
	if inner == nil {
		return nil
	}
	return []fix.Candidate{{
		Edit:       fix.Edit{File: t.File(), Span: target.Span, OldText: old, NewText: actx.NodeText(inner)},
		Confidence: 0.9,
		Safety:     fix.Safe,
		Rationale:  fmt.Sprintf("remove dereference of non-pointer %s", operand),
	}}
}
