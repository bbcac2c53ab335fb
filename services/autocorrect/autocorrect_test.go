// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package autocorrect

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/autocorrect/services/autocorrect/ast"
	"github.com/AleutianAI/autocorrect/services/autocorrect/audit"
	"github.com/AleutianAI/autocorrect/services/autocorrect/bridge"
	"github.com/AleutianAI/autocorrect/services/autocorrect/config"
	"github.com/AleutianAI/autocorrect/services/autocorrect/failure"
	"github.com/AleutianAI/autocorrect/services/autocorrect/fileio"
	"github.com/AleutianAI/autocorrect/services/autocorrect/fix"
	"github.com/AleutianAI/autocorrect/services/autocorrect/trigger"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const usersSource = `package main

import (
	"fmt"
)

func fetchUser(id int) string {
	return fmt.Sprint(id)
}

func main() {
	id := 7
	name := fetchUsr(id)
	fmt.Println(name)
}
`

const reviewSource = "package main\n\nfunc main() {\n\tprintln(usr)\n}\n"

type testService struct {
	svc    *Service
	files  *fileio.MemFileSystem
	log    *audit.MemoryLog
	router *gin.Engine
}

func newTestService(t *testing.T, files map[string]string) *testService {
	t.Helper()
	if files == nil {
		files = map[string]string{}
	}
	files["go.mod"] = "module example.com/app\n\ngo 1.22\n"

	mem := fileio.NewMemFileSystem(files)
	log := audit.NewMemoryLog()
	svc, err := NewService(config.Default(), WithFileSystem(mem), WithAuditLog(log))
	require.NoError(t, err)
	require.NoError(t, svc.Start(context.Background()))
	t.Cleanup(func() { assert.NoError(t, svc.Close()) })

	return &testService{
		svc:    svc,
		files:  mem,
		log:    log,
		router: NewRouter(svc, nil, nil),
	}
}

func (ts *testService) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func fetchUsrRecord() trigger.DiagnosticRecord {
	start := strings.Index(usersSource, "fetchUsr")
	return trigger.DiagnosticRecord{
		File:     "main.go",
		Span:     &ast.Span{Start: start, End: start + len("fetchUsr")},
		Code:     "UndeclaredName",
		Message:  "undefined: fetchUsr",
		Severity: "error",
	}
}

func reviewProposal() *fix.ValidatedEdit {
	start := strings.Index(reviewSource, "usr")
	return &fix.ValidatedEdit{
		Candidate: fix.Candidate{
			ID:        "cand-1",
			TriggerID: "trig-1",
			Strategy:  "identifier",
			Edit: fix.Edit{
				File:    "review.go",
				Span:    ast.Span{Start: start, End: start + 3},
				OldText: "usr",
				NewText: "user",
			},
			Confidence: 0.86,
			Safety:     fix.Caution,
			Rationale:  "usr is undefined; user is in scope",
		},
		Valid:  true,
		Safety: fix.Caution,
	}
}

func TestNewService_InvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Engine.Workers = 0
	_, err := NewService(cfg, WithFileSystem(fileio.NewMemFileSystem(nil)), WithAuditLog(audit.NewMemoryLog()))
	assert.ErrorIs(t, err, failure.ErrConfiguration)
}

func TestNewService_BadgerAuditLog(t *testing.T) {
	cfg := config.Default()
	cfg.Root = t.TempDir()
	cfg.Watch.Enabled = false

	svc, err := NewService(cfg)
	require.NoError(t, err)
	assert.NoError(t, svc.Close())
}

func TestDiagnostics_WaitAppliesFix(t *testing.T) {
	ts := newTestService(t, map[string]string{"main.go": usersSource})

	w := ts.do(t, http.MethodPost, "/v1/autocorrect/diagnostics", DiagnosticsRequest{
		Diagnostics: []trigger.DiagnosticRecord{fetchUsrRecord()},
		Wait:        true,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	resp := decode[DiagnosticsResponse](t, w)
	assert.Equal(t, 1, resp.Accepted)
	require.Len(t, resp.Records, 1)
	assert.Equal(t, fix.AutoApplied, resp.Records[0].Decision)
	assert.Contains(t, ts.files.Content("main.go"), "name := fetchUser(id)")
	assert.Equal(t, 1, ts.log.Len())
}

func TestDiagnostics_QueuedForWorkers(t *testing.T) {
	ts := newTestService(t, map[string]string{"main.go": usersSource})

	w := ts.do(t, http.MethodPost, "/v1/autocorrect/diagnostics", DiagnosticsRequest{
		Diagnostics: []trigger.DiagnosticRecord{fetchUsrRecord(), fetchUsrRecord()},
	})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	resp := decode[DiagnosticsResponse](t, w)
	assert.Equal(t, 1, resp.Accepted)
	assert.Equal(t, 1, resp.Deduplicated)

	ts.svc.Drain()
	assert.Equal(t, 1, ts.log.Len())
	assert.Contains(t, ts.files.Content("main.go"), "fetchUser(id)")
}

const twoCallsSource = `package main

func fetchUser(id int) string {
	return ""
}

func main() {
	a := fetchUsr(1)
	b := fetchUsr(2)
	println(a, b)
}
`

func TestProcessNow_SeveralTriggersInOneFile(t *testing.T) {
	ts := newTestService(t, map[string]string{"main.go": twoCallsSource})

	first := strings.Index(twoCallsSource, "fetchUsr")
	second := strings.LastIndex(twoCallsSource, "fetchUsr")
	require.NotEqual(t, first, second)

	var recs []trigger.DiagnosticRecord
	for _, start := range []int{first, second} {
		recs = append(recs, trigger.DiagnosticRecord{
			File:     "main.go",
			Span:     &ast.Span{Start: start, End: start + len("fetchUsr")},
			Code:     "UndeclaredName",
			Message:  "undefined: fetchUsr",
			Severity: "error",
		})
	}
	triggers, errs := ts.svc.Ingestor().FromRecords(recs)
	require.Empty(t, errs)
	require.Len(t, triggers, 2)

	records, err := ts.svc.ProcessNow(context.Background(), triggers)
	require.NoError(t, err)
	require.Len(t, records, 2)
	for _, rec := range records {
		assert.Equal(t, fix.AutoApplied, rec.Decision, rec.Reason)
	}

	content := ts.files.Content("main.go")
	assert.NotContains(t, content, "fetchUsr")
	assert.Contains(t, content, "a := fetchUser(1)")
	assert.Contains(t, content, "b := fetchUser(2)")
}

func TestDiagnostics_UnmappableRecordIsReported(t *testing.T) {
	ts := newTestService(t, nil)

	rec := fetchUsrRecord()
	rec.File = "missing.go"
	w := ts.do(t, http.MethodPost, "/v1/autocorrect/diagnostics", DiagnosticsRequest{
		Diagnostics: []trigger.DiagnosticRecord{rec},
	})
	require.Equal(t, http.StatusAccepted, w.Code)

	resp := decode[DiagnosticsResponse](t, w)
	assert.Equal(t, 0, resp.Accepted)
	assert.Equal(t, 1, resp.Failed)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "failed", resp.Results[0].Outcome)
}

func TestDiagnostics_InvalidBody(t *testing.T) {
	ts := newTestService(t, nil)

	for _, body := range []string{`{}`, `{"diagnostics": []}`, `not json`} {
		w := ts.do(t, http.MethodPost, "/v1/autocorrect/diagnostics", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
		assert.Equal(t, "INVALID_REQUEST", decode[ErrorResponse](t, w).Code)
	}
}

func TestGolangCI_QueuesIssues(t *testing.T) {
	ts := newTestService(t, map[string]string{"main.go": usersSource})

	report := `{"Issues":[{"FromLinter":"typecheck","Text":"undefined: fetchUsr","Severity":"error",
		"Pos":{"Filename":"main.go","Line":13,"Column":10}}]}`
	w := ts.do(t, http.MethodPost, "/v1/autocorrect/diagnostics/golangci", report)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.Equal(t, 1, decode[DiagnosticsResponse](t, w).Accepted)

	require.Eventually(t, func() bool { return ts.log.Len() == 1 }, 5*time.Second, 10*time.Millisecond)

	w = ts.do(t, http.MethodPost, "/v1/autocorrect/diagnostics/golangci", "{")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestActions_AcceptAndReject(t *testing.T) {
	ts := newTestService(t, map[string]string{"review.go": reviewSource})
	ctx := context.Background()

	accepted, err := ts.svc.Bridge().Offer(ctx, reviewProposal(), "caution: review required")
	require.NoError(t, err)
	rejected, err := ts.svc.Bridge().Offer(ctx, reviewProposal(), "caution: review required")
	require.NoError(t, err)

	w := ts.do(t, http.MethodGet, "/v1/autocorrect/actions?file=review.go", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[ActionsResponse](t, w).Actions, 2)

	w = ts.do(t, http.MethodGet, "/v1/autocorrect/actions/"+accepted, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "user", decode[bridge.CodeAction](t, w).Replacement)

	w = ts.do(t, http.MethodPost, "/v1/autocorrect/actions/"+accepted+"/accept", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	rec := decode[fix.Record](t, w)
	require.NotNil(t, rec.Override)
	assert.True(t, rec.Override.Accepted)
	assert.True(t, rec.Override.Applied)
	assert.Contains(t, ts.files.Content("review.go"), "println(user)")

	w = ts.do(t, http.MethodPost, "/v1/autocorrect/actions/"+rejected+"/reject", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	rec = decode[fix.Record](t, w)
	require.NotNil(t, rec.Override)
	assert.False(t, rec.Override.Accepted)

	w = ts.do(t, http.MethodPost, "/v1/autocorrect/actions/"+accepted+"/accept", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "ACTION_NOT_FOUND", decode[ErrorResponse](t, w).Code)

	w = ts.do(t, http.MethodGet, "/v1/autocorrect/actions", nil)
	assert.Empty(t, decode[ActionsResponse](t, w).Actions)
}

func TestActions_AcceptStaleEditConflicts(t *testing.T) {
	ts := newTestService(t, map[string]string{"review.go": reviewSource})

	id, err := ts.svc.Bridge().Offer(context.Background(), reviewProposal(), "caution")
	require.NoError(t, err)
	require.NoError(t, ts.files.Write("review.go", []byte("package main\n\nfunc main() {}\n")))

	w := ts.do(t, http.MethodPost, "/v1/autocorrect/actions/"+id+"/accept", nil)
	assert.Equal(t, http.StatusConflict, w.Code, w.Body.String())
	assert.Equal(t, "STALE_EDIT", decode[ErrorResponse](t, w).Code)
}

func TestRecords_Query(t *testing.T) {
	ts := newTestService(t, map[string]string{"main.go": usersSource})

	w := ts.do(t, http.MethodPost, "/v1/autocorrect/diagnostics", DiagnosticsRequest{
		Diagnostics: []trigger.DiagnosticRecord{fetchUsrRecord()},
		Wait:        true,
	})
	require.Equal(t, http.StatusOK, w.Code)
	applied := decode[DiagnosticsResponse](t, w).Records[0]

	w = ts.do(t, http.MethodGet, "/v1/autocorrect/records?decision=AutoApplied&file=main.go", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[RecordsResponse](t, w)
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, applied.ID, resp.Records[0].ID)

	w = ts.do(t, http.MethodGet, "/v1/autocorrect/records?decision=Rejected", nil)
	assert.Equal(t, 0, decode[RecordsResponse](t, w).Count)

	w = ts.do(t, http.MethodGet, "/v1/autocorrect/records?after_seq=1", nil)
	assert.Equal(t, 0, decode[RecordsResponse](t, w).Count)

	w = ts.do(t, http.MethodGet, "/v1/autocorrect/records/"+applied.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, applied.Seq, decode[fix.Record](t, w).Seq)

	w = ts.do(t, http.MethodGet, "/v1/autocorrect/records/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	for _, q := range []string{"decision=Maybe", "limit=-1", "after_seq=x"} {
		w = ts.do(t, http.MethodGet, "/v1/autocorrect/records?"+q, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
	}
}

func TestScan_QueuesDetectorFindings(t *testing.T) {
	ts := newTestService(t, map[string]string{"join.go": `package main

func join(parts []string) string {
	out := ""
	for _, p := range parts {
		out += p
	}
	return out
}
`})

	w := ts.do(t, http.MethodPost, "/v1/autocorrect/scan", ScanRequest{Files: []string{"join.go", "README.md"}})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.Empty(t, decode[ScanResponse](t, w).Errors)

	require.Eventually(t, func() bool { return ts.log.Len() >= 1 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(1), ts.svc.Status().Feeder.Files)

	w = ts.do(t, http.MethodPost, "/v1/autocorrect/scan", ScanRequest{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBreakerHealthAndStats(t *testing.T) {
	ts := newTestService(t, nil)

	w := ts.do(t, http.MethodGet, "/v1/autocorrect/breaker", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "closed", decode[map[string]any](t, w)["state"])

	w = ts.do(t, http.MethodPost, "/v1/autocorrect/breaker/reset", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = ts.do(t, http.MethodGet, "/v1/autocorrect/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	health := decode[HealthResponse](t, w)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, ServiceVersion, health.Version)
	assert.Equal(t, "closed", health.Breaker)

	w = ts.do(t, http.MethodGet, "/v1/autocorrect/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	stats := decode[map[string]any](t, w)
	assert.Equal(t, ServiceVersion, stats["version"])
	assert.Equal(t, false, stats["watching"])
	assert.NotEmpty(t, stats["strategies"])
}

func TestRateLimit(t *testing.T) {
	router := gin.New()
	router.GET("/limited", RateLimit(1, 1), func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/open", RateLimit(0, 0), func(c *gin.Context) { c.Status(http.StatusOK) })

	get := func(path string) int {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		return w.Code
	}
	assert.Equal(t, http.StatusOK, get("/limited"))
	assert.Equal(t, http.StatusTooManyRequests, get("/limited"))
	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, get("/open"))
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{bridge.ErrActionNotFound, http.StatusNotFound, "ACTION_NOT_FOUND"},
		{audit.ErrNotFound, http.StatusNotFound, "RECORD_NOT_FOUND"},
		{failure.Wrap(failure.KindFileOperation, "op", fix.ErrPrecondition), http.StatusConflict, "STALE_EDIT"},
		{failure.New(failure.KindResourceExhausted, "op", "full"), http.StatusServiceUnavailable, "QUEUE_FULL"},
		{failure.New(failure.KindDiagnosticProcessing, "op", "bad"), http.StatusBadRequest, "INVALID_DIAGNOSTIC"},
		{context.DeadlineExceeded, http.StatusGatewayTimeout, "TIMEOUT"},
		{errors.New("boom"), http.StatusInternalServerError, "INTERNAL"},
	}
	for _, tt := range tests {
		status, code := statusFor(tt.err)
		assert.Equal(t, tt.status, status, tt.err.Error())
		assert.Equal(t, tt.code, code, tt.err.Error())
	}
}

func TestServe_GracefulShutdown(t *testing.T) {
	ts := newTestService(t, nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, ts.svc, ln, http.NotFoundHandler()) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/v1/autocorrect/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancellation")
	}
}
