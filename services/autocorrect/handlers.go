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
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/autocorrect/services/autocorrect/audit"
	"github.com/AleutianAI/autocorrect/services/autocorrect/bridge"
	"github.com/AleutianAI/autocorrect/services/autocorrect/failure"
	"github.com/AleutianAI/autocorrect/services/autocorrect/fix"
	"github.com/AleutianAI/autocorrect/services/autocorrect/trigger"
)

// maxGolangCIBody bounds a raw golangci-lint report.
const maxGolangCIBody = 16 << 20

// Handlers serves the autocorrect HTTP API.
type Handlers struct {
	svc *Service

	// streams bounds the lifetime of websocket streams; cancelling it
	// closes every connected client.
	streams context.Context
}

// NewHandlers creates handlers for svc. Streams live until streams is
// done; nil means they live until the client leaves.
func NewHandlers(svc *Service, streams context.Context) *Handlers {
	if streams == nil {
		streams = context.Background()
	}
	return &Handlers{svc: svc, streams: streams}
}

func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}

// statusFor maps an engine failure to an HTTP status and error code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, bridge.ErrActionNotFound):
		return http.StatusNotFound, "ACTION_NOT_FOUND"
	case errors.Is(err, audit.ErrNotFound):
		return http.StatusNotFound, "RECORD_NOT_FOUND"
	case errors.Is(err, fix.ErrPrecondition):
		return http.StatusConflict, "STALE_EDIT"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "TIMEOUT"
	}
	switch failure.KindOf(err) {
	case failure.KindDiagnosticProcessing:
		return http.StatusBadRequest, "INVALID_DIAGNOSTIC"
	case failure.KindResourceExhausted:
		return http.StatusServiceUnavailable, "QUEUE_FULL"
	case failure.KindOperationTimeout:
		return http.StatusGatewayTimeout, "TIMEOUT"
	case failure.KindFileOperation:
		return http.StatusInternalServerError, "FILE_OPERATION"
	}
	return http.StatusInternalServerError, "INTERNAL"
}

func respondError(c *gin.Context, logger *slog.Logger, msg string, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Error(msg, "error", err)
	} else {
		logger.Warn(msg, "error", err)
	}
	c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
}

func badRequest(c *gin.Context, logger *slog.Logger, err error) {
	logger.Warn("Invalid request", "error", err)
	c.JSON(http.StatusBadRequest, ErrorResponse{
		Error:   "Invalid request",
		Code:    "INVALID_REQUEST",
		Details: err.Error(),
	})
}

// HandleDiagnostics handles POST /v1/autocorrect/diagnostics.
//
// Description:
//
//	Maps diagnostic records onto triggers and queues them. Records that
//	cannot be mapped are reported per record. With "wait" set, the
//	triggers run through the pipeline before the response and their
//	records are returned.
//
// Response:
//
//	202 Accepted: DiagnosticsResponse (queued)
//	200 OK: DiagnosticsResponse (wait)
//	400 Bad Request: Invalid body
func (h *Handlers) HandleDiagnostics(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleDiagnostics")

	var req DiagnosticsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, logger, err)
		return
	}

	if !req.Wait {
		sum := h.svc.IngestDiagnostics(c.Request.Context(), req.Diagnostics)
		logger.Info("Diagnostics queued",
			"accepted", sum.Accepted,
			"deduplicated", sum.Deduplicated,
			"failed", sum.Failed)
		c.JSON(http.StatusAccepted, DiagnosticsResponse{SubmitSummary: sum})
		return
	}

	triggers, errs := h.svc.Ingestor().FromRecords(req.Diagnostics)
	var resp DiagnosticsResponse
	for _, err := range errs {
		resp.add(SubmitResult{Outcome: "failed", Error: err.Error()})
	}
	records, err := h.svc.ProcessNow(c.Request.Context(), triggers)
	resp.Accepted = len(triggers)
	resp.Records = records
	if err != nil {
		logger.Warn("Diagnostics processed with errors", "error", err)
	}
	logger.Info("Diagnostics processed", "records", len(records))
	c.JSON(http.StatusOK, resp)
}

// HandleGolangCI handles POST /v1/autocorrect/diagnostics/golangci.
//
// Description:
//
//	Accepts a raw golangci-lint JSON report and queues its issues.
func (h *Handlers) HandleGolangCI(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleGolangCI")

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxGolangCIBody))
	if err != nil {
		badRequest(c, logger, err)
		return
	}
	recs, err := trigger.DecodeGolangCI(body)
	if err != nil {
		badRequest(c, logger, err)
		return
	}
	sum := h.svc.IngestDiagnostics(c.Request.Context(), recs)
	logger.Info("golangci report queued", "issues", len(recs), "accepted", sum.Accepted)
	c.JSON(http.StatusAccepted, DiagnosticsResponse{SubmitSummary: sum})
}

// HandleScan handles POST /v1/autocorrect/scan.
func (h *Handlers) HandleScan(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleScan")

	var req ScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, logger, err)
		return
	}
	resp := ScanResponse{Files: len(req.Files)}
	if err := h.svc.Scan(c.Request.Context(), req.Files); err != nil {
		logger.Warn("Scan incomplete", "error", err)
		resp.Errors = err.Error()
	}
	c.JSON(http.StatusAccepted, resp)
}

// HandleListActions handles GET /v1/autocorrect/actions.
//
// Query Parameters:
//
//	file - Only actions for this workspace-relative file (optional)
func (h *Handlers) HandleListActions(c *gin.Context) {
	getOrCreateRequestID(c)
	actions := h.svc.Bridge().Pending(c.Query("file"))
	if actions == nil {
		actions = []bridge.CodeAction{}
	}
	c.JSON(http.StatusOK, ActionsResponse{Actions: actions})
}

// HandleGetAction handles GET /v1/autocorrect/actions/:id.
func (h *Handlers) HandleGetAction(c *gin.Context) {
	getOrCreateRequestID(c)
	action, ok := h.svc.Bridge().Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: bridge.ErrActionNotFound.Error(),
			Code:  "ACTION_NOT_FOUND",
		})
		return
	}
	c.JSON(http.StatusOK, action)
}

// HandleAcceptAction handles POST /v1/autocorrect/actions/:id/accept.
//
// Response:
//
//	200 OK: fix.Record with the reviewer override
//	404 Not Found: Unknown or expired action
//	409 Conflict: The file changed since the action was offered
func (h *Handlers) HandleAcceptAction(c *gin.Context) {
	h.resolve(c, "HandleAcceptAction", h.svc.Bridge().Accept)
}

// HandleRejectAction handles POST /v1/autocorrect/actions/:id/reject.
func (h *Handlers) HandleRejectAction(c *gin.Context) {
	h.resolve(c, "HandleRejectAction", h.svc.Bridge().Reject)
}

func (h *Handlers) resolve(c *gin.Context, name string, fn func(context.Context, string) (fix.Record, error)) {
	requestID := getOrCreateRequestID(c)
	id := c.Param("id")
	logger := slog.With("request_id", requestID, "handler", name, "action_id", id)

	rec, err := fn(c.Request.Context(), id)
	if err != nil {
		respondError(c, logger, "Resolve action failed", err)
		return
	}
	logger.Info("Action resolved", "seq", rec.Seq, "applied", rec.Override != nil && rec.Override.Applied)
	c.JSON(http.StatusOK, rec)
}

// HandleActionStream handles GET /v1/autocorrect/actions/stream.
//
// Description:
//
//	Upgrades to a websocket that first sends the pending actions, then
//	streams offered, accepted, rejected and expired events. Clients
//	accept or reject over the same socket.
func (h *Handlers) HandleActionStream(c *gin.Context) {
	h.svc.Bridge().ServeStream(h.streams, c.Writer, c.Request)
}

// HandleListRecords handles GET /v1/autocorrect/records.
//
// Query Parameters:
//
//	file - Only records for this file
//	decision - AutoApplied, QueuedForReview or Rejected
//	action_id - Only records for this code action
//	after_seq - Only records with a greater sequence number
//	limit - Maximum records returned
func (h *Handlers) HandleListRecords(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleListRecords")

	q := audit.Query{
		File:     c.Query("file"),
		ActionID: c.Query("action_id"),
	}
	if d := c.Query("decision"); d != "" {
		if err := q.Decision.UnmarshalText([]byte(d)); err != nil {
			badRequest(c, logger, err)
			return
		}
	}
	if v := c.Query("after_seq"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			badRequest(c, logger, err)
			return
		}
		q.AfterSeq = n
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			badRequest(c, logger, errors.New("limit must be a non-negative integer"))
			return
		}
		q.Limit = n
	}

	records, err := h.svc.AuditLog().List(c.Request.Context(), q)
	if err != nil {
		respondError(c, logger, "List records failed", err)
		return
	}
	if records == nil {
		records = []fix.Record{}
	}
	c.JSON(http.StatusOK, RecordsResponse{Records: records, Count: len(records)})
}

// HandleGetRecord handles GET /v1/autocorrect/records/:id.
func (h *Handlers) HandleGetRecord(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleGetRecord")

	rec, err := h.svc.AuditLog().Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, logger, "Get record failed", err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// HandleBreaker handles GET /v1/autocorrect/breaker.
func (h *Handlers) HandleBreaker(c *gin.Context) {
	getOrCreateRequestID(c)
	c.JSON(http.StatusOK, h.svc.Status().Breaker)
}

// HandleResetBreaker handles POST /v1/autocorrect/breaker/reset.
func (h *Handlers) HandleResetBreaker(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleResetBreaker")

	if err := h.svc.ResetBreaker(c.Request.Context()); err != nil {
		respondError(c, logger, "Breaker reset failed", err)
		return
	}
	logger.Info("Breaker reset")
	c.JSON(http.StatusOK, h.svc.Status().Breaker)
}

// HandleStats handles GET /v1/autocorrect/stats.
func (h *Handlers) HandleStats(c *gin.Context) {
	getOrCreateRequestID(c)
	c.JSON(http.StatusOK, h.svc.Status())
}

// HandleHealth handles GET /v1/autocorrect/health.
//
// Description:
//
//	Returns 200 while the service runs. The breaker state is reported but
//	an Open breaker does not make the service unhealthy; it only stops
//	auto-application.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:  "healthy",
		Version: ServiceVersion,
		Breaker: h.svc.Status().Breaker.State.String(),
	})
}
