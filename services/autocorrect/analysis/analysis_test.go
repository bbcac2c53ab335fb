// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package analysis

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/autocorrect/services/autocorrect/ast"
	"github.com/AleutianAI/autocorrect/services/autocorrect/failure"
	"github.com/AleutianAI/autocorrect/services/autocorrect/trigger"
)

const usersSource = `package main

import "fmt"

type Client struct {
	Name    string
	retries int
}

func (c *Client) Fetch(id int) string {
	return c.Name
}

func fetchUser(id int) string {
	return fmt.Sprint(id)
}

func main() {
	count := 3
	name := fetchUsr(count)
	fmt.Println(name)
}
`

type mapReader struct {
	mu    sync.Mutex
	files map[string][]byte
}

func newMapReader(files map[string]string) *mapReader {
	r := &mapReader{files: make(map[string][]byte)}
	for k, v := range files {
		r.files[k] = []byte(v)
	}
	return r
}

func (r *mapReader) Read(path string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.files[path]
	if !ok {
		return nil, os.ErrNotExist
	}
	return b, nil
}

func (r *mapReader) set(path, content string) {
	r.mu.Lock()
	r.files[path] = []byte(content)
	r.mu.Unlock()
}

type countingParser struct {
	ast.Parser
	calls int64
	delay time.Duration
}

func (p *countingParser) Parse(ctx context.Context, content []byte) (*ast.SyntaxTree, []ast.ParseDiagnostic, error) {
	atomic.AddInt64(&p.calls, 1)
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	return p.Parser.Parse(ctx, content)
}

type latencyRecorder struct {
	mu     sync.Mutex
	stages map[string]int
}

func (l *latencyRecorder) ObserveLatency(stage string, _ time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stages == nil {
		l.stages = make(map[string]int)
	}
	l.stages[stage]++
}

func spanOf(t *testing.T, content, needle string) ast.Span {
	t.Helper()
	i := strings.Index(content, needle)
	require.GreaterOrEqual(t, i, 0, "needle %q not found", needle)
	return ast.Span{Start: i, End: i + len(needle)}
}

func newTestEngine(t *testing.T, files Reader, opts ...Option) *Engine {
	t.Helper()
	e, err := NewEngine(files, ast.DefaultRegistry(), DefaultConfig(), opts...)
	require.NoError(t, err)
	return e
}

func diagTrigger(t *testing.T, file, content string, span ast.Span) *trigger.Trigger {
	t.Helper()
	tr, err := trigger.New(file, []byte(content), span, trigger.Diagnostic{Code: "UndeclaredName", Message: "undefined: fetchUsr"})
	require.NoError(t, err)
	return tr
}

func TestNewEngine_InvalidConfig(t *testing.T) {
	files := newMapReader(nil)
	mutate := []func(*Config){
		func(c *Config) { c.CacheCapacity = 0 },
		func(c *Config) { c.MaxWindowNodes = 0 },
		func(c *Config) { c.MaxDepth = -1 },
		func(c *Config) { c.MaxTreeNodes = 0 },
		func(c *Config) { c.BuildTimeout = 0 },
	}
	for _, m := range mutate {
		cfg := DefaultConfig()
		m(&cfg)
		_, err := NewEngine(files, ast.DefaultRegistry(), cfg)
		assert.ErrorIs(t, err, failure.ErrConfiguration)
	}
	_, err := NewEngine(nil, ast.DefaultRegistry(), DefaultConfig())
	assert.ErrorIs(t, err, failure.ErrConfiguration)
}

func TestAnalyze_GoContext(t *testing.T) {
	files := newMapReader(map[string]string{"main.go": usersSource})
	obs := &latencyRecorder{}
	e := newTestEngine(t, files, WithLatencyObserver(obs))

	span := spanOf(t, usersSource, "fetchUsr")
	actx, err := e.Analyze(context.Background(), diagTrigger(t, "main.go", usersSource, span))
	require.NoError(t, err)

	assert.Equal(t, "go", actx.Language)
	assert.Equal(t, "main.go", actx.File)
	assert.Equal(t, trigger.HashContent([]byte(usersSource)), actx.Hash)
	assert.Equal(t, "identifier", actx.Primary.Type)
	assert.Equal(t, "fetchUsr", actx.NodeText(actx.Primary))
	require.NotEmpty(t, actx.Window)
	assert.Equal(t, "call_expression", actx.Window[0].Type, "ancestors come nearest first")
	assert.LessOrEqual(t, len(actx.Window), DefaultMaxWindowNodes)

	fn, ok := actx.Lookup("fetchUser")
	require.True(t, ok)
	assert.Equal(t, SymbolFunction, fn.Kind)

	count, ok := actx.Lookup("count")
	require.True(t, ok)
	assert.Equal(t, "int", count.Type)

	fmtPkg, ok := actx.Lookup("fmt")
	require.True(t, ok)
	assert.Equal(t, SymbolPackage, fmtPkg.Kind)

	require.Len(t, actx.Imports(), 1)
	assert.Equal(t, "fmt", actx.Imports()[0].Path)
	assert.Equal(t, "function_declaration", actx.Enclosing("function_declaration").Type)

	members := actx.Members("*Client")
	names := make([]string, 0, len(members))
	for _, m := range members {
		names = append(names, m.Name)
	}
	assert.ElementsMatch(t, []string{"Name", "retries", "Fetch"}, names)

	pos := actx.Position(span.Start)
	assert.Equal(t, 20, pos.Line)

	assert.Equal(t, 1, obs.stages[StageParse])
	assert.Equal(t, 1, obs.stages[StageAnalysis])
}

func TestAnalyze_CacheHitAndMemoizedContext(t *testing.T) {
	files := newMapReader(map[string]string{"main.go": usersSource})
	parser := &countingParser{Parser: ast.NewGoParser()}
	reg := ast.NewParserRegistry()
	reg.Register(parser)
	e, err := NewEngine(files, reg, DefaultConfig())
	require.NoError(t, err)

	span := spanOf(t, usersSource, "fetchUsr")
	tr := diagTrigger(t, "main.go", usersSource, span)
	first, err := e.Analyze(context.Background(), tr)
	require.NoError(t, err)
	second, err := e.Analyze(context.Background(), tr)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, int64(1), atomic.LoadInt64(&parser.calls))
	stats := e.CacheStats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Builds)
	assert.Equal(t, 1, stats.Entries)

	e.Invalidate("main.go")
	_, err = e.Analyze(context.Background(), tr)
	require.NoError(t, err)
	assert.Equal(t, int64(2), atomic.LoadInt64(&parser.calls))
}

func TestAnalyze_ConcurrentMissesShareOneParse(t *testing.T) {
	files := newMapReader(map[string]string{"main.go": usersSource})
	parser := &countingParser{Parser: ast.NewGoParser(), delay: 20 * time.Millisecond}
	reg := ast.NewParserRegistry()
	reg.Register(parser)
	e, err := NewEngine(files, reg, DefaultConfig())
	require.NoError(t, err)

	tr := diagTrigger(t, "main.go", usersSource, spanOf(t, usersSource, "fetchUsr"))
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.Analyze(context.Background(), tr)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(1), atomic.LoadInt64(&parser.calls))
}

func TestAnalyze_Failures(t *testing.T) {
	broken := "package main\n\nfunc main() {\n\tx := fetchUsr(\n}\n\nfunc other() {\n\tfoo()\n}\n"

	t.Run("missing file", func(t *testing.T) {
		e := newTestEngine(t, newMapReader(nil))
		tr := diagTrigger(t, "main.go", usersSource, spanOf(t, usersSource, "fetchUsr"))
		_, err := e.Analyze(context.Background(), tr)
		assert.ErrorIs(t, err, failure.ErrFileOperation)
	})

	t.Run("stale trigger", func(t *testing.T) {
		files := newMapReader(map[string]string{"main.go": usersSource})
		e := newTestEngine(t, files)
		tr := diagTrigger(t, "main.go", usersSource, spanOf(t, usersSource, "fetchUsr"))
		files.set("main.go", usersSource+"\n// edited\n")
		_, err := e.Analyze(context.Background(), tr)
		assert.ErrorIs(t, err, failure.ErrDiagnosticProcessing)
		assert.Contains(t, err.Error(), "stale")
	})

	t.Run("unsupported language", func(t *testing.T) {
		files := newMapReader(map[string]string{"notes.txt": "hello world"})
		e := newTestEngine(t, files)
		_, err := e.Analyze(context.Background(), diagTrigger(t, "notes.txt", "hello world", ast.Span{Start: 0, End: 5}))
		assert.ErrorIs(t, err, failure.ErrAstAnalysis)
		assert.True(t, errors.Is(err, ast.ErrUnsupportedLanguage))
	})

	t.Run("parse failure around span", func(t *testing.T) {
		files := newMapReader(map[string]string{"main.go": broken})
		e := newTestEngine(t, files)
		_, err := e.Analyze(context.Background(), diagTrigger(t, "main.go", broken, spanOf(t, broken, "fetchUsr")))
		assert.ErrorIs(t, err, failure.ErrAstAnalysis)
		assert.Contains(t, err.Error(), "parse failure")
	})

	t.Run("parse failure elsewhere is tolerated", func(t *testing.T) {
		files := newMapReader(map[string]string{"main.go": broken})
		e := newTestEngine(t, files)
		_, err := e.Analyze(context.Background(), diagTrigger(t, "main.go", broken, spanOf(t, broken, "foo")))
		assert.NoError(t, err)
	})

	t.Run("anomaly triggers analyze broken regions", func(t *testing.T) {
		files := newMapReader(map[string]string{"main.go": broken})
		e := newTestEngine(t, files)
		tr, err := trigger.New("main.go", []byte(broken), spanOf(t, broken, "fetchUsr"), trigger.Anomaly{NodeType: "ERROR", Message: "unexpected"})
		require.NoError(t, err)
		_, err = e.Analyze(context.Background(), tr)
		assert.NoError(t, err)
	})

	t.Run("tree too large", func(t *testing.T) {
		files := newMapReader(map[string]string{"main.go": usersSource})
		cfg := DefaultConfig()
		cfg.MaxTreeNodes = 10
		e, err := NewEngine(files, ast.DefaultRegistry(), cfg)
		require.NoError(t, err)
		_, err = e.Analyze(context.Background(), diagTrigger(t, "main.go", usersSource, spanOf(t, usersSource, "fetchUsr")))
		assert.ErrorIs(t, err, failure.ErrResourceExhausted)
		assert.Equal(t, int64(1), e.CacheStats().Errors)
	})
}

func TestAnalyze_WindowBounded(t *testing.T) {
	files := newMapReader(map[string]string{"main.go": usersSource})
	cfg := DefaultConfig()
	cfg.MaxWindowNodes = 3
	cfg.MaxDepth = 2
	e, err := NewEngine(files, ast.DefaultRegistry(), cfg)
	require.NoError(t, err)

	actx, err := e.Analyze(context.Background(), diagTrigger(t, "main.go", usersSource, spanOf(t, usersSource, "fetchUsr")))
	require.NoError(t, err)
	assert.LessOrEqual(t, len(actx.Window), 3)
	assert.Equal(t, actx.Primary.Parent, actx.Window[0])
	assert.Equal(t, actx.Primary.Parent.Parent, actx.Window[1])
}

func TestVisibleSymbols_Shadowing(t *testing.T) {
	src := `package main

var name = "outer"

func run() {
	name := 42
	_ = name
}
`
	files := newMapReader(map[string]string{"main.go": src})
	e := newTestEngine(t, files)
	use := strings.LastIndex(src, "name")
	actx, err := e.AnalyzeContent(context.Background(), "main.go", []byte(src), ast.Span{Start: use, End: use + 4})
	require.NoError(t, err)

	sym, ok := actx.Lookup("name")
	require.True(t, ok)
	assert.Equal(t, "int", sym.Type)
	assert.True(t, sym.Local)

	// Before the local declaration only the package-level variable is visible.
	early := strings.Index(src, "func run")
	actx, err = e.AnalyzeContent(context.Background(), "main.go", []byte(src), ast.Span{Start: early, End: early + 4})
	require.NoError(t, err)
	sym, ok = actx.Lookup("name")
	require.True(t, ok)
	assert.Equal(t, "string", sym.Type)
}

func TestCache_LRUEviction(t *testing.T) {
	c := NewCache(2)
	build := func(path string) BuildFunc {
		return func(context.Context) (*FileAnalysis, error) {
			return &FileAnalysis{Path: path}, nil
		}
	}
	ctx := context.Background()
	_, _, err := c.GetOrBuild(ctx, "a", "1", build("a"))
	require.NoError(t, err)
	_, _, err = c.GetOrBuild(ctx, "b", "1", build("b"))
	require.NoError(t, err)

	_, hit := c.Get("a", "1")
	require.True(t, hit)

	_, _, err = c.GetOrBuild(ctx, "c", "1", build("c"))
	require.NoError(t, err)

	_, hit = c.Get("b", "1")
	assert.False(t, hit, "least recently used entry is evicted")
	_, hit = c.Get("a", "1")
	assert.True(t, hit)
	assert.Equal(t, int64(1), c.Stats().Evictions)
	assert.Equal(t, 2, c.Len())

	c.Clear()
	assert.Equal(t, 0, c.Len())
}

func TestCache_BuildErrorNotCached(t *testing.T) {
	c := NewCache(4)
	calls := 0
	boom := errors.New("boom")
	build := func(context.Context) (*FileAnalysis, error) {
		calls++
		return nil, boom
	}
	for i := 0; i < 2; i++ {
		_, _, err := c.GetOrBuild(context.Background(), "a", "1", build)
		assert.ErrorIs(t, err, boom)
	}
	assert.Equal(t, 2, calls)
	assert.Equal(t, 0, c.Len())
}

func TestCache_CancelledWaiterDoesNotCancelBuild(t *testing.T) {
	c := NewCache(4)
	release := make(chan struct{})
	build := func(ctx context.Context) (*FileAnalysis, error) {
		<-release
		return &FileAnalysis{Path: "a"}, ctx.Err()
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, _, err := c.GetOrBuild(ctx, "a", "1", build)
		done <- err
	}()
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	close(release)
	fa, _, err := c.GetOrBuild(context.Background(), "a", "1", build)
	require.NoError(t, err)
	assert.Equal(t, "a", fa.Path)
}
