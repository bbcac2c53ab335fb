// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package trigger

import (
	"encoding/json"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/autocorrect/services/autocorrect/ast"
	"github.com/AleutianAI/autocorrect/services/autocorrect/failure"
)

var content = []byte("package main\n\nfunc main() {\n\tfetchUsr()\n}\n")

func TestNew_KindFromPayload(t *testing.T) {
	tests := []struct {
		payload Payload
		want    Kind
	}{
		{Diagnostic{Message: "undefined: fetchUsr"}, KindCompilerDiagnostic},
		{Pattern{ID: "errorf-wrap"}, KindPatternDetection},
		{Anomaly{NodeType: ")", Missing: true}, KindAstAnalysis},
		{Generation{Receiver: "Client", Name: "Close"}, KindCodeGeneration},
	}
	for _, tt := range tests {
		t.Run(tt.want.String(), func(t *testing.T) {
			tr, err := New("main.go", content, ast.Span{Start: 28, End: 36}, tt.payload)
			require.NoError(t, err)
			assert.Equal(t, tt.want, tr.Kind())
			assert.NotEmpty(t, tr.ID())
			assert.Equal(t, tt.payload, tr.Payload())
		})
	}
}

func TestNew_PayloadAccessors(t *testing.T) {
	tr, err := New("main.go", content, ast.Span{Start: 28, End: 36}, Diagnostic{Code: "UndeclaredName", Message: "undefined: fetchUsr"})
	require.NoError(t, err)

	d, ok := tr.Diagnostic()
	require.True(t, ok)
	assert.Equal(t, "UndeclaredName", d.Code)
	_, ok = tr.Pattern()
	assert.False(t, ok)
	assert.Equal(t, "undefined: fetchUsr", tr.Message())
}

func TestNew_Rejects(t *testing.T) {
	_, err := New("", content, ast.Span{}, Diagnostic{})
	assert.ErrorIs(t, err, failure.ErrDiagnosticProcessing)

	_, err = New("main.go", content, ast.Span{}, nil)
	assert.ErrorIs(t, err, failure.ErrDiagnosticProcessing)

	_, err = New("main.go", content, ast.Span{Start: 0, End: len(content) + 1}, Diagnostic{})
	assert.ErrorIs(t, err, failure.ErrDiagnosticProcessing)
}

func TestContentHash(t *testing.T) {
	span := ast.Span{Start: 28, End: 36}
	a, err := New("main.go", content, span, Diagnostic{Message: "one"})
	require.NoError(t, err)
	b, err := New("main.go", content, span, Diagnostic{Message: "two"})
	require.NoError(t, err)

	assert.Equal(t, a.Hash(), b.Hash(), "same content, span and kind")
	assert.NotEqual(t, a.ID(), b.ID())

	c, err := New("main.go", content, span, Pattern{ID: "p"})
	require.NoError(t, err)
	assert.NotEqual(t, a.Hash(), c.Hash(), "kind is part of the hash")

	d, err := New("main.go", content, ast.Span{Start: 28, End: 35}, Diagnostic{})
	require.NoError(t, err)
	assert.NotEqual(t, a.Hash(), d.Hash(), "span is part of the hash")

	edited := append([]byte(nil), content...)
	edited[len(edited)-2] = ' '
	e, err := New("main.go", edited, span, Diagnostic{})
	require.NoError(t, err)
	assert.NotEqual(t, a.Hash(), e.Hash(), "content is part of the hash")
	assert.NotEqual(t, a.FileHash(), e.FileHash())
}

func TestOptions(t *testing.T) {
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	tr, err := New("main.go", content, ast.Span{}, Pattern{ID: "p"}, WithID("fixed"), WithCreatedAt(at))
	require.NoError(t, err)
	assert.Equal(t, "fixed", tr.ID())
	assert.Equal(t, at, tr.CreatedAt())
}

func TestRebase(t *testing.T) {
	i := strings.Index(string(content), "fetchUsr")
	tr, err := New("main.go", content, ast.Span{Start: i, End: i + len("fetchUsr")}, Diagnostic{Message: "undefined: fetchUsr"})
	require.NoError(t, err)

	t.Run("unchanged file", func(t *testing.T) {
		got, ok := Rebase(tr, content, content)
		assert.True(t, ok)
		assert.Same(t, tr, got)
	})

	t.Run("edit after the span", func(t *testing.T) {
		after := []byte(string(content) + "\nfunc other() {}\n")
		got, ok := Rebase(tr, content, after)
		require.True(t, ok)
		assert.Equal(t, tr.ID(), got.ID())
		assert.Equal(t, tr.CreatedAt(), got.CreatedAt())
		assert.Equal(t, tr.Span(), got.Span())
		assert.Equal(t, HashContent(after), got.FileHash())
		assert.NotEqual(t, tr.Hash(), got.Hash())
	})

	t.Run("edit before the span", func(t *testing.T) {
		after := []byte("// header\n" + string(content))
		got, ok := Rebase(tr, content, after)
		assert.False(t, ok)
		assert.Same(t, tr, got)
	})

	t.Run("edit inside the span", func(t *testing.T) {
		after := []byte(strings.Replace(string(content), "fetchUsr", "fetchUser", 1))
		_, ok := Rebase(tr, content, after)
		assert.False(t, ok)
	})

	t.Run("unknown original", func(t *testing.T) {
		_, ok := Rebase(tr, []byte("package other\n"), content[:len(content)-1])
		assert.False(t, ok)
	})
}

func TestMarshalJSON(t *testing.T) {
	tr, err := New("main.go", content, ast.Span{Start: 1, End: 2}, Pattern{ID: "errorf-wrap"}, WithID("t1"))
	require.NoError(t, err)
	data, err := json.Marshal(tr)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"kind":"PatternDetection"`)
	assert.Contains(t, string(data), `"id":"errorf-wrap"`)
}

// =============================================================================
// Ingestion
// =============================================================================

type mapReader map[string][]byte

func (m mapReader) Read(path string) ([]byte, error) {
	if b, ok := m[path]; ok {
		return b, nil
	}
	return nil, os.ErrNotExist
}

func TestIngestor_FromRecord_Range(t *testing.T) {
	in := NewIngestor(mapReader{"main.go": content})

	tr, err := in.FromRecord(DiagnosticRecord{
		File:     "main.go",
		Range:    &Range{Start: ast.Position{Line: 4, Column: 2}},
		Code:     "typecheck",
		Message:  "undefined: fetchUsr",
		Severity: "error",
	})
	require.NoError(t, err)
	assert.Equal(t, KindCompilerDiagnostic, tr.Kind())
	assert.Equal(t, "fetchUsr", string(content[tr.Span().Start:tr.Span().End]))
}

func TestIngestor_FromRecord_Span(t *testing.T) {
	in := NewIngestor(mapReader{"main.go": content})
	start := strings.Index(string(content), "fetchUsr")

	tr, err := in.FromRecord(DiagnosticRecord{
		File:    "main.go",
		Span:    &ast.Span{Start: start, End: start + 8},
		Message: "undefined: fetchUsr",
	})
	require.NoError(t, err)
	assert.Equal(t, ast.Span{Start: start, End: start + 8}, tr.Span())
}

func TestIngestor_FromRecord_Failures(t *testing.T) {
	in := NewIngestor(mapReader{"main.go": content})

	tests := []struct {
		name string
		rec  DiagnosticRecord
		want error
	}{
		{"missing message", DiagnosticRecord{File: "main.go", Span: &ast.Span{}}, failure.ErrDiagnosticProcessing},
		{"missing location", DiagnosticRecord{File: "main.go", Message: "x"}, failure.ErrDiagnosticProcessing},
		{"bad severity", DiagnosticRecord{File: "main.go", Span: &ast.Span{}, Message: "x", Severity: "fatal"}, failure.ErrDiagnosticProcessing},
		{"unknown file", DiagnosticRecord{File: "nope.go", Span: &ast.Span{}, Message: "x"}, failure.ErrFileOperation},
		{"line out of range", DiagnosticRecord{File: "main.go", Range: &Range{Start: ast.Position{Line: 99, Column: 1}}, Message: "x"}, failure.ErrDiagnosticProcessing},
		{"span out of range", DiagnosticRecord{File: "main.go", Span: &ast.Span{Start: 0, End: 999}, Message: "x"}, failure.ErrDiagnosticProcessing},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := in.FromRecord(tt.rec)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestIngestor_FromRecords_ContinuesPastErrors(t *testing.T) {
	in := NewIngestor(mapReader{"main.go": content})
	triggers, errs := in.FromRecords([]DiagnosticRecord{
		{File: "main.go", Span: &ast.Span{Start: 0, End: 7}, Message: "a"},
		{File: "gone.go", Span: &ast.Span{}, Message: "b"},
		{File: "main.go", Span: &ast.Span{Start: 8, End: 12}, Message: "c"},
	})
	assert.Len(t, triggers, 2)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "record 1")
}

func TestDecodeFeed(t *testing.T) {
	array := `[{"file":"a.go","span":{"start":1,"end":2},"message":"m1"},{"file":"b.go","span":{"start":0,"end":0},"message":"m2"}]`
	recs, err := DecodeFeed(strings.NewReader(array))
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "b.go", recs[1].File)

	lines := "{\"file\":\"a.go\",\"range\":{\"start\":{\"line\":1,\"column\":1}},\"message\":\"m1\"}\n\n{\"file\":\"c.go\",\"span\":{\"start\":0,\"end\":0},\"message\":\"m3\"}\n"
	recs, err = DecodeFeed(strings.NewReader(lines))
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, 1, recs[0].Range.Start.Line)

	recs, err = DecodeFeed(strings.NewReader("  "))
	require.NoError(t, err)
	assert.Empty(t, recs)

	_, err = DecodeFeed(strings.NewReader("{not json"))
	assert.ErrorIs(t, err, failure.ErrDiagnosticProcessing)
}

func TestDecodeGolangCI(t *testing.T) {
	report := `{"Issues":[
	  {"FromLinter":"typecheck","Text":"undefined: fetchUsr","Severity":"","Pos":{"Filename":"main.go","Line":4,"Column":2}},
	  {"FromLinter":"unused","Text":"x is unused","Severity":"warning","Pos":{"Filename":"","Line":0,"Column":0}}
	]}`
	recs, err := DecodeGolangCI([]byte(report))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "typecheck", recs[0].Code)
	assert.Equal(t, "error", recs[0].Severity)
	assert.Equal(t, ast.Position{Line: 4, Column: 2}, recs[0].Range.Start)
	require.NoError(t, recs[0].Validate())

	_, err = DecodeGolangCI([]byte("nope"))
	assert.ErrorIs(t, err, failure.ErrDiagnosticProcessing)
}
