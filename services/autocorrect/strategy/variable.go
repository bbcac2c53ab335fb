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
	"github.com/AleutianAI/autocorrect/services/autocorrect/ast"
	"github.com/AleutianAI/autocorrect/services/autocorrect/fix"
	"github.com/AleutianAI/autocorrect/services/autocorrect/trigger"
)

// VariableStrategy handles local variables: unused declarations are
// replaced by the blank identifier, and misspelled uses are corrected to the
// nearest local variable or parameter.
type VariableStrategy struct {
	threshold float64
}

// NewVariableStrategy creates the strategy. A threshold outside (0,1]
// selects DefaultThreshold.
func NewVariableStrategy(threshold float64) *VariableStrategy {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultThreshold
	}
	return &VariableStrategy{threshold: threshold}
}

// Name implements Strategy.
func (s *VariableStrategy) Name() string { return "variable" }

// Propose implements Strategy.
func (s *VariableStrategy) Propose(ctx context.Context, actx *analysis.Context, t *trigger.Trigger) ([]fix.Candidate, error) {
	msg, ok := diagnosticMessage(t)
	if !ok {
		return nil, nil
	}
	if name, ok := unusedName(msg); ok {
		return s.blank(actx, t, name), nil
	}
	if name, ok := undefinedName(msg); ok {
		return s.misspelled(actx, t, name), nil
	}
	return nil, ctx.Err()
}

func (s *VariableStrategy) misspelled(actx *analysis.Context, t *trigger.Trigger, name string) []fix.Candidate {
	node := identifierAt(actx, name)
	if node == nil || isSelectorField(node) {
		return nil
	}
	var names []string
	for _, sym := range actx.Scope {
		if sym.Local || sym.Kind == analysis.SymbolParameter {
			names = append(names, sym.Name)
		}
	}
	matches := Closest(name, names, s.threshold)
	if len(matches) == 0 {
		return nil
	}
	best := matches[0]
	return []fix.Candidate{{
		Edit:       fix.Edit{File: t.File(), Span: node.Span, OldText: name, NewText: best.Name},
		Confidence: best.Score,
		Safety:     fix.Safe,
		Rationale:  fmt.Sprintf("use local %s instead of undefined %s (similarity %.2f)", best.Name, name, best.Score),
	}}
}

// blank replaces an unused variable with the blank identifier. When every
// other name of a short variable declaration is already blank, the
// declaration becomes an assignment so it still compiles.
func (s *VariableStrategy) blank(actx *analysis.Context, t *trigger.Trigger, name string) []fix.Candidate {
	node := identifierAt(actx, name)
	if node == nil || node.Type != "identifier" {
		return nil
	}
	list := node.Parent
	if list == nil {
		return nil
	}
	decl := list
	if list.Type == "expression_list" {
		decl = list.Parent
	}
	if decl == nil {
		return nil
	}

	single := fix.Candidate{
		Edit:       fix.Edit{File: t.File(), Span: node.Span, OldText: name, NewText: "_"},
		Confidence: 0.9,
		Safety:     fix.Safe,
		Rationale:  fmt.Sprintf("discard unused variable %s", name),
	}

	switch decl.Type {
	case "var_spec":
		return []fix.Candidate{single}

	case "short_var_declaration", "range_clause":
		left := decl.ChildByField("left")
		if left == nil {
			return nil
		}
		names := []*ast.Node{left}
		if left.Type == "expression_list" {
			names = left.NamedChildren()
		}
		othersBlank := true
		for _, n := range names {
			if n != node && actx.NodeText(n) != "_" {
				othersBlank = false
			}
		}
		if !othersBlank {
			return []fix.Candidate{single}
		}
		op := operatorAfter(decl, left, ":=")
		if op == nil {
			return nil
		}
		span := ast.Span{Start: left.Span.Start, End: op.Span.End}
		old := actx.Text(span)

		var newText string
		if decl.Type == "range_clause" {
			// for k := range m -> for range m
			span.End = nextNonSpace(actx.Source(), op.Span.End)
			old = actx.Text(span)
			newText = ""
		} else {
			blanked := make([]string, len(names))
			for i := range names {
				blanked[i] = "_"
			}
			gap := actx.Text(ast.Span{Start: left.Span.End, End: op.Span.Start})
			newText = strings.Join(blanked, ", ") + gap + "="
		}
		return []fix.Candidate{{
			Edit:       fix.Edit{File: t.File(), Span: span, OldText: old, NewText: newText},
			Confidence: 0.85,
			Safety:     fix.Caution,
			Rationale:  fmt.Sprintf("discard unused variable %s", name),
		}}
	}
	return nil
}

func operatorAfter(decl, left *ast.Node, op string) *ast.Node {
	for _, c := range decl.Children {
		if c.Span.Start >= left.Span.End && !c.Named && c.Type == op {
			return c
		}
	}
	return nil
}

func nextNonSpace(src []byte, from int) int {
	for from < len(src) && (src[from] == ' ' || src[from] == '\t') {
		from++
	}
	return from
}
