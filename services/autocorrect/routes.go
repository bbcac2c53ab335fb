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
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers all autocorrect routes with the router.
//
// Description:
//
//	Registers all /v1/autocorrect/* endpoints with the given Gin router
//	group. Diagnostic intake is rate limited per client.
//
// Inputs:
//
//	rg - Gin router group (typically /v1)
//	handlers - The handlers instance
//	limit - Rate limiting middleware for intake endpoints
//
// Intake Endpoints:
//
//	POST /v1/autocorrect/diagnostics - Submit diagnostic records
//	POST /v1/autocorrect/diagnostics/golangci - Submit a golangci-lint report
//	POST /v1/autocorrect/scan - Run pattern and anomaly detection on files
//
// Code Action Endpoints:
//
//	GET  /v1/autocorrect/actions - List pending code actions
//	GET  /v1/autocorrect/actions/stream - Websocket stream of action events
//	GET  /v1/autocorrect/actions/:id - Get one pending action
//	POST /v1/autocorrect/actions/:id/accept - Apply an action
//	POST /v1/autocorrect/actions/:id/reject - Discard an action
//
// Audit Endpoints:
//
//	GET  /v1/autocorrect/records - Query the fix application log
//	GET  /v1/autocorrect/records/:id - Get one record
//
// Supervision Endpoints:
//
//	GET  /v1/autocorrect/breaker - Breaker state
//	POST /v1/autocorrect/breaker/reset - Force the breaker closed
//	GET  /v1/autocorrect/stats - Queue, cache, latency and strategy stats
//	GET  /v1/autocorrect/health - Health check
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers, limit gin.HandlerFunc) {
	ac := rg.Group("/autocorrect")
	{
		intake := ac.Group("")
		if limit != nil {
			intake.Use(limit)
		}
		intake.POST("/diagnostics", handlers.HandleDiagnostics)
		intake.POST("/diagnostics/golangci", handlers.HandleGolangCI)
		intake.POST("/scan", handlers.HandleScan)

		ac.GET("/actions", handlers.HandleListActions)
		ac.GET("/actions/stream", handlers.HandleActionStream)
		ac.GET("/actions/:id", handlers.HandleGetAction)
		ac.POST("/actions/:id/accept", handlers.HandleAcceptAction)
		ac.POST("/actions/:id/reject", handlers.HandleRejectAction)

		ac.GET("/records", handlers.HandleListRecords)
		ac.GET("/records/:id", handlers.HandleGetRecord)

		ac.GET("/breaker", handlers.HandleBreaker)
		ac.POST("/breaker/reset", handlers.HandleResetBreaker)
		ac.GET("/stats", handlers.HandleStats)
		ac.GET("/health", handlers.HandleHealth)
	}
}
