// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command autocorrect runs the auto-correction engine as an HTTP service
// or as a one-shot fixer over a workspace.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/autocorrect/pkg/logging"
	"github.com/AleutianAI/autocorrect/services/autocorrect/config"
)

// --- Global Command Variables ---
var (
	configPath string
	rootDir    string
	logLevel   string
	outputCfg  OutputConfig

	cfg    config.Config
	logger *logging.Logger

	rootCmd = &cobra.Command{
		Use:   "autocorrect",
		Short: "Detects and repairs source code defects",
		Long: `autocorrect turns compiler diagnostics and detected code patterns into
validated edits. Safe edits are applied directly; the rest are offered to
the IDE for review. Every decision is recorded in an append-only log.`,
		SilenceUsage:      true,
		PersistentPreRunE: loadConfig,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logger != nil {
				_ = logger.Close()
			}
		},
	}
)

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", "", "path to an autocorrect YAML config file")
	flags.StringVar(&rootDir, "root", "", "workspace root (overrides config)")
	flags.StringVar(&logLevel, "log-level", "", "debug, info, warn or error (overrides config)")
	flags.BoolVar(&outputCfg.JSON, "json", false, "output as JSON")
	flags.BoolVar(&outputCfg.Compact, "compact", false, "compact JSON output")
	flags.BoolVarP(&outputCfg.Quiet, "quiet", "q", false, "no output, exit code only")

	rootCmd.AddCommand(serveCmd, fixCmd, scanCmd, recordsCmd)
}

func loadConfig(cmd *cobra.Command, args []string) error {
	loaded, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if rootDir != "" {
		loaded.Root = rootDir
	}
	if logLevel != "" {
		loaded.Logging.Level = logLevel
	}
	if outputCfg.JSON || outputCfg.Quiet {
		loaded.Logging.Quiet = true
	}
	if err := loaded.Validate(); err != nil {
		return err
	}
	cfg = loaded

	logger = logging.New(cfg.Logging.ToLoggingConfig("autocorrect"))
	slog.SetDefault(logger.Slog())
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(CLIExitError)
	}
}
