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
	"unicode"

	"github.com/AleutianAI/autocorrect/services/autocorrect/analysis"
	"github.com/AleutianAI/autocorrect/services/autocorrect/ast"
	"github.com/AleutianAI/autocorrect/services/autocorrect/fix"
	"github.com/AleutianAI/autocorrect/services/autocorrect/trigger"
)

// StubStrategy answers code generation requests with a Go function or
// method stub placed after the receiver's type declaration.
type StubStrategy struct{}

// NewStubStrategy creates the strategy.
func NewStubStrategy() *StubStrategy { return &StubStrategy{} }

// Name implements Strategy.
func (s *StubStrategy) Name() string { return "stub" }

// Propose implements Strategy.
func (s *StubStrategy) Propose(_ context.Context, actx *analysis.Context, t *trigger.Trigger) ([]fix.Candidate, error) {
	g, ok := t.Generation()
	if !ok || actx.Language != "go" || !isIdentifier(g.Name) {
		return nil, nil
	}

	var anchor *ast.Node
	header := "func " + g.Name
	if g.Receiver != "" {
		typeName := analysis.BaseTypeName(g.Receiver)
		for _, m := range actx.Members(typeName) {
			if m.Name == g.Name {
				return nil, nil
			}
		}
		anchor = typeDeclaration(actx, typeName)
		if anchor == nil {
			return nil, nil
		}
		header = fmt.Sprintf("func (%s %s) %s", receiverName(typeName), g.Receiver, g.Name)
	} else {
		if _, exists := actx.Lookup(g.Name); exists {
			return nil, nil
		}
		anchor = actx.Primary.TopLevel()
		if anchor == nil {
			return nil, nil
		}
	}

	sig := strings.TrimSpace(g.Signature)
	if sig == "" {
		sig = "()"
	}
	body := "\n\n" + header + sig + " {\n\tpanic(\"not implemented\")\n}"
	at := ast.Span{Start: anchor.Span.End, End: anchor.Span.End}
	return []fix.Candidate{{
		Edit:       fix.Edit{File: t.File(), Span: at, NewText: body},
		Confidence: 0.8,
		Safety:     fix.Caution,
		Rationale:  fmt.Sprintf("generate stub for %s", strings.TrimPrefix(header, "func ")),
	}}, nil
}

// typeDeclaration returns the top-level declaration of the named type.
func typeDeclaration(actx *analysis.Context, name string) *ast.Node {
	for _, sym := range actx.AllSymbols() {
		if sym.Kind != analysis.SymbolType || sym.Name != name {
			continue
		}
		n := actx.Tree().NodeAt(sym.Span)
		if n == nil {
			continue
		}
		if top := n.TopLevel(); top != nil {
			return top
		}
	}
	return nil
}

func receiverName(typeName string) string {
	for _, r := range typeName {
		return string(unicode.ToLower(r))
	}
	return "r"
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if r != '_' && !unicode.IsLetter(r) && (i == 0 || !unicode.IsDigit(r)) {
			return false
		}
	}
	return true
}
