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

// insertableTokens are the punctuation tokens the parser may report as
// missing that can be inserted verbatim.
var insertableTokens = map[string]bool{
	")": true, "]": true, "}": true, ",": true, ":": true, ";": true, "\"": true, "'": true, "`": true,
}

// MissingTokenStrategy inserts a punctuation token the parser reported as
// missing while recovering from a syntax error.
type MissingTokenStrategy struct{}

// NewMissingTokenStrategy creates the strategy.
func NewMissingTokenStrategy() *MissingTokenStrategy { return &MissingTokenStrategy{} }

// Name implements Strategy.
func (s *MissingTokenStrategy) Name() string { return "missing-token" }

// Propose implements Strategy.
func (s *MissingTokenStrategy) Propose(_ context.Context, actx *analysis.Context, t *trigger.Trigger) ([]fix.Candidate, error) {
	a, ok := t.Anomaly()
	if !ok || !a.Missing || !insertableTokens[a.NodeType] {
		return nil, nil
	}

	// The trigger span is where the parser placed the MISSING node; confirm
	// the tree still reports it there.
	var found bool
	for _, d := range actx.Diagnostics() {
		if d.Missing && d.NodeType == a.NodeType && d.Span.Start == t.Span().Start {
			found = true
			break
		}
	}
	if !found {
		return nil, nil
	}

	at := ast.Span{Start: t.Span().Start, End: t.Span().Start}
	return []fix.Candidate{{
		Edit:       fix.Edit{File: t.File(), Span: at, NewText: a.NodeType},
		Confidence: 0.7,
		Safety:     fix.Caution,
		Rationale:  fmt.Sprintf("insert missing %q reported by the parser", a.NodeType),
	}}, nil
}
