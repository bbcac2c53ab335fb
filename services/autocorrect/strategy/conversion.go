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

// ConversionStrategy inserts explicit conversions for Go assignability
// errors between basic types: numeric conversions, string/[]byte, and
// integer formatting through strconv or fmt when those are imported.
type ConversionStrategy struct{}

// NewConversionStrategy creates the strategy.
func NewConversionStrategy() *ConversionStrategy { return &ConversionStrategy{} }

// Name implements Strategy.
func (s *ConversionStrategy) Name() string { return "type-conversion" }

type numericInfo struct {
	family string // int, uint, float, complex
	bits   int
}

var numericTypes = map[string]numericInfo{
	"int": {"int", 64}, "int8": {"int", 8}, "int16": {"int", 16}, "int32": {"int", 32}, "int64": {"int", 64},
	"rune": {"int", 32},
	"uint": {"uint", 64}, "uint8": {"uint", 8}, "uint16": {"uint", 16}, "uint32": {"uint", 32}, "uint64": {"uint", 64},
	"byte": {"uint", 8}, "uintptr": {"uint", 64},
	"float32": {"float", 32}, "float64": {"float", 64},
	"complex64": {"complex", 64}, "complex128": {"complex", 128},
}

// Propose implements Strategy.
func (s *ConversionStrategy) Propose(ctx context.Context, actx *analysis.Context, t *trigger.Trigger) ([]fix.Candidate, error) {
	if actx.Language != "go" {
		return nil, nil
	}
	msg, ok := diagnosticMessage(t)
	if !ok {
		return nil, nil
	}
	mm, ok := typeMismatch(msg)
	if !ok {
		return nil, nil
	}
	node := expressionAt(actx, mm.expr)
	if node == nil {
		return nil, ctx.Err()
	}

	var (
		newText    string
		confidence float64
		safety     fix.SafetyLevel
		why        string
	)
	from, fromNum := numericTypes[mm.from]
	to, toNum := numericTypes[mm.to]
	switch {
	case mm.from == "string" && (mm.to == "[]byte" || mm.to == "[]uint8"):
		newText, confidence, safety = "[]byte("+mm.expr+")", 0.95, fix.Safe
		why = "convert string to []byte"

	case (mm.from == "[]byte" || mm.from == "[]uint8") && mm.to == "string":
		newText, confidence, safety = "string("+mm.expr+")", 0.95, fix.Safe
		why = "convert []byte to string"

	case fromNum && toNum:
		newText = mm.to + "(" + mm.expr + ")"
		confidence = 0.92
		safety = fix.Safe
		why = fmt.Sprintf("convert %s to %s", mm.from, mm.to)
		if !widens(from, to) {
			// Narrowing or cross-family conversions can lose information.
			confidence, safety = 0.8, fix.Caution
			why += " (may lose precision)"
		}

	case fromNum && from.family == "int" && mm.to == "string":
		switch {
		case mm.from == "int" && hasImport(actx, "strconv"):
			newText = "strconv.Itoa(" + mm.expr + ")"
		case hasImport(actx, "strconv"):
			newText = "strconv.FormatInt(int64(" + mm.expr + "), 10)"
		case hasImport(actx, "fmt"):
			newText = "fmt.Sprint(" + mm.expr + ")"
		default:
			return nil, nil
		}
		confidence, safety = 0.85, fix.Caution
		why = fmt.Sprintf("format %s as decimal string", mm.from)

	default:
		return nil, nil
	}

	return []fix.Candidate{{
		Edit:       fix.Edit{File: t.File(), Span: node.Span, OldText: mm.expr, NewText: newText},
		Confidence: confidence,
		Safety:     safety,
		Rationale:  why,
	}}, nil
}

// widens reports whether every value of from is representable in to.
func widens(from, to numericInfo) bool {
	switch {
	case from.family == to.family:
		return from.bits <= to.bits
	case from.family == "uint" && to.family == "int":
		return from.bits < to.bits
	case (from.family == "int" || from.family == "uint") && to.family == "float":
		return from.bits < to.bits/2+1
	case from.family == "float" && to.family == "complex":
		return from.bits*2 <= to.bits
	}
	return false
}

func hasImport(actx *analysis.Context, path string) bool {
	for _, imp := range actx.Imports() {
		if imp.Path == path && imp.Name == path[strings.LastIndex(path, "/")+1:] {
			return true
		}
	}
	return false
}
