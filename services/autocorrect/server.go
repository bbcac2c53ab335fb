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
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// NewRouter builds the gin engine serving svc. metrics, when non-nil, is
// mounted at /metrics. Websocket streams close when streams is done.
func NewRouter(svc *Service, metrics http.Handler, streams context.Context) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("autocorrect"))

	if metrics != nil {
		router.GET("/metrics", gin.WrapH(metrics))
	}

	server := svc.Config().Server
	v1 := router.Group("/v1")
	RegisterRoutes(v1, NewHandlers(svc, streams), RateLimit(server.DiagnosticsRate, server.DiagnosticsBurst))
	return router
}

// Serve runs the HTTP API on ln until ctx is done, then shuts down
// gracefully within the configured shutdown timeout.
func Serve(ctx context.Context, svc *Service, ln net.Listener, metrics http.Handler) error {
	streams, closeStreams := context.WithCancel(context.Background())
	defer closeStreams()

	srv := &http.Server{
		Handler:           NewRouter(svc, metrics, streams),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("autocorrect API listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	// Hijacked websocket connections are not tracked by Shutdown.
	closeStreams()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), svc.Config().Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	slog.Info("autocorrect API stopped")
	return nil
}
