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
	"regexp"
	"strings"

	"github.com/AleutianAI/autocorrect/services/autocorrect/analysis"
	"github.com/AleutianAI/autocorrect/services/autocorrect/ast"
	"github.com/AleutianAI/autocorrect/services/autocorrect/trigger"
)

// Compiler message shapes recognized by the strategies. Go messages follow
// the go/types wording; Python, JavaScript and TypeScript follow their
// interpreters' and tsc's wording.
var (
	undefinedPatterns = []*regexp.Regexp{
		regexp.MustCompile(`undefined: ([\pL_][\pL\pN_]*)`),
		regexp.MustCompile(`has no field or method ([\pL_][\pL\pN_]*)`),
		regexp.MustCompile(`name '([\pL_][\pL\pN_]*)' is not defined`),
		regexp.MustCompile(`Cannot find name '([\pL_$][\pL\pN_$]*)'`),
		regexp.MustCompile(`Property '([\pL_$][\pL\pN_$]*)' does not exist on type`),
		regexp.MustCompile(`([\pL_$][\pL\pN_$]*) is not defined`),
	}

	unusedPatterns = []*regexp.Regexp{
		regexp.MustCompile(`declared and not used: ([\pL_][\pL\pN_]*)`),
		regexp.MustCompile(`([\pL_][\pL\pN_]*) declared and not used`),
		regexp.MustCompile(`([\pL_][\pL\pN_]*) declared but not used`),
	}

	// cannot use x (variable of type int) as string value in argument to f
	mismatchPattern = regexp.MustCompile(
		`cannot use (.+?) \((?:variable|value|constant|struct field)[^)]*? of (?:type|struct type|pointer type) ([^)]+)\) as (\S+) value`)

	// invalid operation: cannot indirect x (variable of type int)
	indirectPattern = regexp.MustCompile(`cannot indirect (.+?) \((?:variable|value)[^)]*? of type ([^)]+)\)`)
)

// undefinedName extracts the unresolved identifier from a diagnostic.
func undefinedName(msg string) (string, bool) {
	for _, re := range undefinedPatterns {
		if m := re.FindStringSubmatch(msg); m != nil {
			return m[1], true
		}
	}
	return "", false
}

// unusedName extracts the unused variable from a diagnostic.
func unusedName(msg string) (string, bool) {
	for _, re := range unusedPatterns {
		if m := re.FindStringSubmatch(msg); m != nil {
			return m[1], true
		}
	}
	return "", false
}

type mismatch struct {
	expr string
	from string
	to   string
}

func typeMismatch(msg string) (mismatch, bool) {
	m := mismatchPattern.FindStringSubmatch(msg)
	if m == nil {
		return mismatch{}, false
	}
	return mismatch{expr: m[1], from: strings.TrimSpace(m[2]), to: m[3]}, true
}

// diagnosticMessage returns the message of a compiler diagnostic trigger.
func diagnosticMessage(t *trigger.Trigger) (string, bool) {
	d, ok := t.Diagnostic()
	if !ok {
		return "", false
	}
	return d.Message, true
}

// identifierAt returns the identifier node named name at the context span:
// the primary node itself or its nearest identifier descendant.
func identifierAt(actx *analysis.Context, name string) *ast.Node {
	isIdent := func(n *ast.Node) bool {
		switch n.Type {
		case "identifier", "field_identifier", "type_identifier", "package_identifier",
			"property_identifier", "shorthand_property_identifier":
			return actx.NodeText(n) == name
		}
		return false
	}
	if isIdent(actx.Primary) {
		return actx.Primary
	}
	for _, d := range actx.Primary.Descendants("identifier", "field_identifier", "type_identifier",
		"package_identifier", "property_identifier", "shorthand_property_identifier") {
		if isIdent(d) {
			return d
		}
	}
	return nil
}

// expressionAt returns the smallest node at or around the context span
// whose text is exactly text.
func expressionAt(actx *analysis.Context, text string) *ast.Node {
	for n := actx.Primary; n != nil; n = n.Parent {
		if actx.NodeText(n) == text {
			return n
		}
		if n.Span.Len() > len(text) {
			break
		}
	}
	var found *ast.Node
	var walk func(*ast.Node)
	walk = func(n *ast.Node) {
		if found != nil {
			return
		}
		if n.Named && actx.NodeText(n) == text {
			found = n
			return
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(actx.Primary)
	return found
}
