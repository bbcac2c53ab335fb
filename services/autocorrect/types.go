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
	"github.com/AleutianAI/autocorrect/services/autocorrect/bridge"
	"github.com/AleutianAI/autocorrect/services/autocorrect/fix"
	"github.com/AleutianAI/autocorrect/services/autocorrect/trigger"
)

// MaxDiagnosticsPerRequest caps one diagnostics submission.
const MaxDiagnosticsPerRequest = 1000

// DiagnosticsRequest is the body of POST /v1/autocorrect/diagnostics.
type DiagnosticsRequest struct {
	// Diagnostics are the compiler or linter records to correct.
	Diagnostics []trigger.DiagnosticRecord `json:"diagnostics" binding:"required,min=1,max=1000"`

	// Wait processes the triggers before responding instead of queueing
	// them. The response then carries the resulting records.
	Wait bool `json:"wait,omitempty"`
}

// DiagnosticsResponse reports a diagnostics submission.
type DiagnosticsResponse struct {
	SubmitSummary

	// Records holds the pipeline outcomes when the request set Wait.
	Records []fix.Record `json:"records,omitempty"`
}

// ScanRequest is the body of POST /v1/autocorrect/scan.
type ScanRequest struct {
	// Files are workspace-relative paths to run the detectors over.
	Files []string `json:"files" binding:"required,min=1,max=1000,dive,required"`
}

// ScanResponse reports a scan.
type ScanResponse struct {
	Files  int    `json:"files"`
	Errors string `json:"errors,omitempty"`
}

// ActionsResponse lists pending code actions.
type ActionsResponse struct {
	Actions []bridge.CodeAction `json:"actions"`
}

// RecordsResponse lists audit records.
type RecordsResponse struct {
	Records []fix.Record `json:"records"`
	Count   int          `json:"count"`
}

// HealthResponse is returned by GET /v1/autocorrect/health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Breaker string `json:"breaker"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is the error code (optional).
	Code string `json:"code,omitempty"`

	// Details provides additional error context (optional).
	Details string `json:"details,omitempty"`
}
