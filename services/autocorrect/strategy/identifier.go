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

	"github.com/AleutianAI/autocorrect/services/autocorrect/analysis"
	"github.com/AleutianAI/autocorrect/services/autocorrect/ast"
	"github.com/AleutianAI/autocorrect/services/autocorrect/fix"
	"github.com/AleutianAI/autocorrect/services/autocorrect/trigger"
)

// IdentifierStrategy corrects misspelled function, type, package-level and
// member names against the declarations visible at the error.
//
// For selector expressions (x.Nmae) the candidates are the fields and
// methods of x's declared type; otherwise the package-level symbols in
// scope. Local variables are left to VariableStrategy.
type IdentifierStrategy struct {
	threshold float64
}

// NewIdentifierStrategy creates the strategy. A threshold outside (0,1]
// selects DefaultThreshold.
func NewIdentifierStrategy(threshold float64) *IdentifierStrategy {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultThreshold
	}
	return &IdentifierStrategy{threshold: threshold}
}

// Name implements Strategy.
func (s *IdentifierStrategy) Name() string { return "identifier" }

// Propose implements Strategy.
func (s *IdentifierStrategy) Propose(ctx context.Context, actx *analysis.Context, t *trigger.Trigger) ([]fix.Candidate, error) {
	msg, ok := diagnosticMessage(t)
	if !ok {
		return nil, nil
	}
	name, ok := undefinedName(msg)
	if !ok {
		return nil, nil
	}
	node := identifierAt(actx, name)
	if node == nil {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var pool []analysis.Symbol
	if recvType, ok := selectorOperandType(actx, node); ok {
		pool = actx.Members(recvType)
	} else if isSelectorField(node) {
		// Members of an unknown type: nothing to compare against.
		return nil, nil
	} else {
		for _, sym := range actx.Scope {
			if sym.Local || sym.Kind == analysis.SymbolParameter {
				continue
			}
			pool = append(pool, sym)
		}
	}

	names := make([]string, 0, len(pool))
	for _, sym := range pool {
		names = append(names, sym.Name)
	}
	matches := Closest(name, names, s.threshold)
	if len(matches) == 0 {
		return nil, nil
	}
	best := matches[0]
	return []fix.Candidate{{
		Edit: fix.Edit{
			File:    t.File(),
			Span:    node.Span,
			OldText: name,
			NewText: best.Name,
		},
		Confidence: best.Score,
		Safety:     fix.Safe,
		Rationale:  fmt.Sprintf("rename %s to %s (similarity %.2f)", name, best.Name, best.Score),
	}}, nil
}

func isSelectorField(n *ast.Node) bool {
	if n.Parent == nil {
		return false
	}
	switch n.Parent.Type {
	case "selector_expression", "attribute", "member_expression":
		return n.Field == "field" || n.Field == "attribute" || n.Field == "property"
	}
	return false
}

// selectorOperandType returns the declared type of x in x.field when n is
// the field of a selector and x resolves to a typed symbol.
func selectorOperandType(actx *analysis.Context, n *ast.Node) (string, bool) {
	if !isSelectorField(n) {
		return "", false
	}
	operand := n.Parent.ChildByField("operand")
	if operand == nil {
		operand = n.Parent.ChildByField("object")
	}
	if operand == nil || operand.Type != "identifier" {
		return "", false
	}
	sym, ok := actx.Lookup(actx.NodeText(operand))
	if !ok || sym.Type == "" || sym.Kind == analysis.SymbolPackage {
		return "", false
	}
	return sym.Type, true
}
