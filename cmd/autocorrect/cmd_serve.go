// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/autocorrect/services/autocorrect"
	"github.com/AleutianAI/autocorrect/services/autocorrect/telemetry"
)

var (
	serveAddr  string
	serveDebug bool

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the autocorrect HTTP service and file watcher",
		Long: `serve runs the correction pipeline in the background. Diagnostics
arrive over HTTP, the file watcher rescans changed files, and IDE clients
review code actions over a websocket stream.`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
)

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides config)")
	serveCmd.Flags().BoolVar(&serveDebug, "debug", false, "gin debug mode")
}

func runServe(cmd *cobra.Command, args []string) error {
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}
	if serveDebug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	providers, err := telemetry.Init(ctx, cfg.Telemetry.ToTelemetryConfig(autocorrect.ServiceVersion))
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown", "error", err)
		}
	}()

	svc, err := autocorrect.NewService(cfg, autocorrect.WithLogger(logger.Slog()))
	if err != nil {
		return err
	}
	if err := svc.Start(ctx); err != nil {
		_ = svc.Close()
		return err
	}

	ln, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		_ = svc.Close()
		return fmt.Errorf("listen %s: %w", cfg.Server.Addr, err)
	}

	serveErr := autocorrect.Serve(ctx, svc, ln, providers.MetricsHandler())
	slog.Info("Shutting down autocorrect")
	return errors.Join(serveErr, svc.Close())
}
