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
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/autocorrect/services/autocorrect/analysis"
	"github.com/AleutianAI/autocorrect/services/autocorrect/ast"
	"github.com/AleutianAI/autocorrect/services/autocorrect/failure"
	"github.com/AleutianAI/autocorrect/services/autocorrect/fix"
	"github.com/AleutianAI/autocorrect/services/autocorrect/trigger"
)

type mapReader map[string][]byte

func (m mapReader) Read(path string) ([]byte, error) {
	b, ok := m[path]
	if !ok {
		return nil, os.ErrNotExist
	}
	return b, nil
}

// fixture parses src as file and returns the context and a trigger for the
// first occurrence of needle.
func fixture(t *testing.T, file, src, needle string, payload trigger.Payload) (*analysis.Context, *trigger.Trigger) {
	t.Helper()
	i := strings.Index(src, needle)
	require.GreaterOrEqual(t, i, 0, "needle %q not in source", needle)
	return fixtureAt(t, file, src, ast.Span{Start: i, End: i + len(needle)}, payload)
}

func fixtureAt(t *testing.T, file, src string, span ast.Span, payload trigger.Payload) (*analysis.Context, *trigger.Trigger) {
	t.Helper()
	engine, err := analysis.NewEngine(mapReader{file: []byte(src)}, ast.DefaultRegistry(), analysis.DefaultConfig())
	require.NoError(t, err)
	tr, err := trigger.New(file, []byte(src), span, payload)
	require.NoError(t, err)
	actx, err := engine.Analyze(context.Background(), tr)
	require.NoError(t, err)
	return actx, tr
}

func applyCandidate(t *testing.T, src string, c fix.Candidate) string {
	t.Helper()
	out, changed, err := c.Edit.Apply([]byte(src))
	require.NoError(t, err)
	require.True(t, changed)
	return string(out)
}

// =============================================================================
// Similarity
// =============================================================================

func TestSimilarity(t *testing.T) {
	tests := []struct {
		a, b     string
		min, max float64
	}{
		{"fetchUsr", "fetchUser", 0.933, 0.934},
		{"count", "cnt", 0.64, 0.64},
		{"same", "same", 1, 1},
		{"", "x", 0, 0},
		{"abc", "xyz", 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.a+"_"+tt.b, func(t *testing.T) {
			got := Similarity(tt.a, tt.b)
			assert.InDelta(t, (tt.min+tt.max)/2, got, (tt.max-tt.min)/2+1e-9)
			assert.InDelta(t, got, Similarity(tt.b, tt.a), 1e-9, "symmetric")
		})
	}
}

func TestSimilarity_PrefixBoostOrdersCandidates(t *testing.T) {
	// Same edit distance; the shared prefix decides.
	assert.Greater(t, Similarity("handler", "handlr"), Similarity("handler", "andler"))
}

func TestClosest(t *testing.T) {
	got := Closest("fetchUsr", []string{"fetchUser", "fetchUsers", "main", "fetchUsr", "fetchUser"}, DefaultThreshold)
	require.Len(t, got, 2)
	assert.Equal(t, "fetchUser", got[0].Name)
	assert.Equal(t, "fetchUsers", got[1].Name)
	assert.Empty(t, Closest("zzz", []string{"fetchUser"}, DefaultThreshold))
}

// =============================================================================
// Merge
// =============================================================================

func cand(strategy string, priority int, start, end int, confidence float64) fix.Candidate {
	return fix.Candidate{
		Strategy:   strategy,
		Priority:   priority,
		Edit:       fix.Edit{File: "a.go", Span: ast.Span{Start: start, End: end}, OldText: "x", NewText: "y"},
		Confidence: confidence,
	}
}

func TestMerge(t *testing.T) {
	t.Run("overlap keeps higher confidence", func(t *testing.T) {
		got := Merge([]fix.Candidate{cand("a", 10, 0, 5, 0.8), cand("b", 20, 3, 8, 0.9)})
		require.Len(t, got, 1)
		assert.Equal(t, "b", got[0].Strategy)
	})
	t.Run("exact tie goes to lower priority", func(t *testing.T) {
		got := Merge([]fix.Candidate{cand("late", 20, 0, 5, 0.9), cand("early", 10, 0, 5, 0.9)})
		require.Len(t, got, 1)
		assert.Equal(t, "early", got[0].Strategy)
	})
	t.Run("disjoint spans are all kept", func(t *testing.T) {
		got := Merge([]fix.Candidate{cand("a", 10, 0, 5, 0.5), cand("b", 20, 5, 8, 0.9)})
		require.Len(t, got, 2)
		assert.Equal(t, "b", got[0].Strategy)
	})
	t.Run("insertions at the same offset overlap", func(t *testing.T) {
		got := Merge([]fix.Candidate{cand("a", 10, 4, 4, 0.5), cand("b", 20, 4, 4, 0.6)})
		require.Len(t, got, 1)
		assert.Equal(t, "b", got[0].Strategy)
	})
}

// =============================================================================
// Library
// =============================================================================

type fakeStrategy struct {
	name    string
	propose func(ctx context.Context, actx *analysis.Context, t *trigger.Trigger) ([]fix.Candidate, error)
}

func (f fakeStrategy) Name() string { return f.name }

func (f fakeStrategy) Propose(ctx context.Context, actx *analysis.Context, t *trigger.Trigger) ([]fix.Candidate, error) {
	return f.propose(ctx, actx, t)
}

type recordingObserver struct {
	mu   sync.Mutex
	seen map[string]error
}

func (r *recordingObserver) ObserveStrategy(name string, _ int, _ time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.seen == nil {
		r.seen = make(map[string]error)
	}
	r.seen[name] = err
}

const libSource = "package main\n\nfunc main() {\n\tx := 1\n\t_ = x\n}\n"

func TestLibrary_Register(t *testing.T) {
	lib := NewLibrary()
	ok := fakeStrategy{name: "a"}
	require.NoError(t, lib.Register(ok, 20))
	require.NoError(t, lib.Register(fakeStrategy{name: "b"}, 10))
	assert.ErrorIs(t, lib.Register(ok, 30), failure.ErrConfiguration)
	assert.ErrorIs(t, lib.Register(nil, 1), failure.ErrConfiguration)
	assert.Equal(t, []string{"b", "a"}, lib.Names())
}

func TestLibrary_RunIsolatesFailures(t *testing.T) {
	actx, tr := fixture(t, "main.go", libSource, "x", trigger.Diagnostic{Message: "m"})
	span := tr.Span()

	good := fakeStrategy{name: "good", propose: func(context.Context, *analysis.Context, *trigger.Trigger) ([]fix.Candidate, error) {
		return []fix.Candidate{{
			Edit:       fix.Edit{File: "main.go", Span: span, OldText: "x", NewText: "y"},
			Confidence: 0.8, Safety: fix.Safe,
		}}, nil
	}}
	slow := fakeStrategy{name: "slow", propose: func(context.Context, *analysis.Context, *trigger.Trigger) ([]fix.Candidate, error) {
		time.Sleep(200 * time.Millisecond)
		return []fix.Candidate{{Edit: fix.Edit{File: "main.go", Span: span, OldText: "x", NewText: "z"}, Confidence: 1}}, nil
	}}
	failing := fakeStrategy{name: "failing", propose: func(context.Context, *analysis.Context, *trigger.Trigger) ([]fix.Candidate, error) {
		return nil, errors.New("boom")
	}}
	panicking := fakeStrategy{name: "panicking", propose: func(context.Context, *analysis.Context, *trigger.Trigger) ([]fix.Candidate, error) {
		panic("bad strategy")
	}}
	wrongFile := fakeStrategy{name: "wrong-file", propose: func(context.Context, *analysis.Context, *trigger.Trigger) ([]fix.Candidate, error) {
		return []fix.Candidate{{Edit: fix.Edit{File: "other.go", Span: span, OldText: "x", NewText: "w"}, Confidence: 1}}, nil
	}}

	obs := &recordingObserver{}
	lib := NewLibrary(WithTimeout(30*time.Millisecond), WithObserver(obs))
	for i, s := range []Strategy{good, slow, failing, panicking, wrongFile} {
		require.NoError(t, lib.Register(s, i))
	}

	start := time.Now()
	res, err := lib.Run(context.Background(), actx, tr)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 150*time.Millisecond, "run is bounded by the per-strategy timeout")

	require.Len(t, res.Candidates, 1)
	best, ok := res.Best()
	require.True(t, ok)
	assert.Equal(t, "good", best.Strategy)
	assert.Equal(t, tr.ID(), best.TriggerID)
	assert.NotEmpty(t, best.ID)

	require.Len(t, res.Outcomes, 5)
	assert.ErrorIs(t, res.Outcomes[1].Err, failure.ErrOperationTimeout)
	assert.EqualError(t, res.Outcomes[2].Err, "boom")
	assert.Contains(t, res.Outcomes[3].Err.Error(), "panicked")

	obs.mu.Lock()
	defer obs.mu.Unlock()
	assert.Len(t, obs.seen, 5)
}

func TestLibrary_RunCancelled(t *testing.T) {
	actx, tr := fixture(t, "main.go", libSource, "x", trigger.Diagnostic{Message: "m"})
	lib := NewLibrary()
	require.NoError(t, lib.Register(fakeStrategy{name: "wait", propose: func(ctx context.Context, _ *analysis.Context, _ *trigger.Trigger) ([]fix.Candidate, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}, 1))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := lib.Run(ctx, actx, tr)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDefaultLibrary(t *testing.T) {
	lib, err := DefaultLibrary(DefaultThreshold, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"identifier", "variable", "type-conversion", "reference",
		"import", "error-wrap", "missing-token", "stub",
	}, lib.Names())
}
