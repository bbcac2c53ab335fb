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
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/autocorrect/services/autocorrect/ast"
	"github.com/AleutianAI/autocorrect/services/autocorrect/failure"
	"github.com/AleutianAI/autocorrect/services/autocorrect/trigger"
)

const patternsSource = `package store

import (
	"fmt"
	"os"
)

func load(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load %s: %v", path, err)
	}
	return data, nil
}

func save(path string, data []byte) {
	err := os.WriteFile(path, data, 0o644)
	if err != nil {
	}
}

func ignore(path string) {
	if err := os.Remove(path); err != nil {
		// best effort
	}
}

func join(parts []string) string {
	out := ""
	for _, p := range parts {
		out += p
	}
	return out
}

func sum(xs []int) int {
	total := 0
	for _, x := range xs {
		total += x
	}
	return total
}
`

func scan(t *testing.T, path, src string, opts ...Option) []*trigger.Trigger {
	t.Helper()
	s, err := NewScanner(ast.DefaultRegistry(), opts...)
	require.NoError(t, err)
	triggers, err := s.Scan(context.Background(), path, []byte(src))
	require.NoError(t, err)
	return triggers
}

func patterns(src string, triggers []*trigger.Trigger) map[string]string {
	out := make(map[string]string)
	for _, tr := range triggers {
		if p, ok := tr.Pattern(); ok {
			out[p.ID] = src[tr.Span().Start:tr.Span().End]
		}
	}
	return out
}

func TestNewScanner_NilRegistry(t *testing.T) {
	_, err := NewScanner(nil)
	assert.ErrorIs(t, err, failure.ErrConfiguration)
}

func TestScan_Patterns(t *testing.T) {
	triggers := scan(t, "store.go", patternsSource)
	require.Len(t, triggers, 3)

	got := patterns(patternsSource, triggers)
	assert.Equal(t, map[string]string{
		PatternErrorfWrap:       "fmt.Errorf",
		PatternEmptyErrorBranch: "err != nil",
		PatternStringConcatLoop: "out += p",
	}, got)

	for i := 1; i < len(triggers); i++ {
		assert.LessOrEqual(t, triggers[i-1].Span().Start, triggers[i].Span().Start)
	}
	for _, tr := range triggers {
		assert.Equal(t, trigger.KindPatternDetection, tr.Kind())
		assert.Equal(t, trigger.HashContent([]byte(patternsSource)), tr.FileHash())
	}
}

func TestScan_EmptyBranchIgnoresCommentedBody(t *testing.T) {
	triggers := scan(t, "store.go", patternsSource)
	start := strings.Index(patternsSource, "func ignore")
	for _, tr := range triggers {
		if p, _ := tr.Pattern(); p.ID == PatternEmptyErrorBranch {
			assert.Less(t, tr.Span().Start, start, "the commented branch in ignore is not reported")
		}
	}
}

func TestScan_Anomalies(t *testing.T) {
	src := "package main\n\nfunc main() {\n\tprintln(\"hi\"\n}\n"
	triggers := scan(t, "main.go", src, WithDetectors())
	require.NotEmpty(t, triggers)
	for _, tr := range triggers {
		assert.Equal(t, trigger.KindAstAnalysis, tr.Kind())
		a, ok := tr.Anomaly()
		require.True(t, ok)
		assert.NotEmpty(t, a.Message)
	}

	none := scan(t, "main.go", src, WithDetectors(), WithMaxAnomalies(0))
	assert.Empty(t, none)
}

func TestScan_DetectorsAreLanguageScoped(t *testing.T) {
	src := "def join(parts):\n    out = ''\n    for p in parts:\n        out += p\n    return out\n"
	assert.Empty(t, scan(t, "join.py", src))
}

func TestScan_UnsupportedFile(t *testing.T) {
	s, err := NewScanner(ast.DefaultRegistry())
	require.NoError(t, err)
	assert.False(t, s.Supports("README.md"))
	assert.True(t, s.Supports("main.go"))

	_, err = s.Scan(context.Background(), "README.md", []byte("# hi"))
	assert.ErrorIs(t, err, failure.ErrAstAnalysis)
}
