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
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/autocorrect/services/autocorrect"
	"github.com/AleutianAI/autocorrect/services/autocorrect/fix"
	"github.com/AleutianAI/autocorrect/services/autocorrect/trigger"
)

var (
	fixFormat string
	fixDiff   bool

	fixCmd = &cobra.Command{
		Use:   "fix [report]",
		Short: "Correct the diagnostics in a compiler or linter report",
		Long: `fix reads diagnostics from a report file, or stdin when no file or "-"
is given, and runs each through the pipeline once. Safe edits are written
to the workspace; everything else is recorded for review.

Formats:
  feed      JSON array or newline-delimited JSON of diagnostic records
  golangci  golangci-lint --out-format json output`,
		Args: cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			os.Exit(runFix(cmd, args))
		},
	}
)

func init() {
	fixCmd.Flags().StringVarP(&fixFormat, "format", "f", "feed", "report format: feed or golangci")
	fixCmd.Flags().BoolVar(&fixDiff, "diff", true, "print diffs of applied edits")
}

func readReport(args []string) ([]trigger.DiagnosticRecord, error) {
	var r io.Reader = os.Stdin
	if len(args) == 1 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	switch fixFormat {
	case "feed":
		return trigger.DecodeFeed(r)
	case "golangci":
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, err
		}
		return trigger.DecodeGolangCI(data)
	default:
		return nil, fmt.Errorf("unknown format %q", fixFormat)
	}
}

// fixResult is the JSON payload of the fix command.
type fixResult struct {
	Summary  summary      `json:"summary"`
	Skipped  []string     `json:"skipped,omitempty"`
	Records  []fix.Record `json:"records"`
	Warnings string       `json:"warnings,omitempty"`
}

func runFix(cmd *cobra.Command, args []string) int {
	start := time.Now()
	recs, err := readReport(args)
	if err != nil {
		return OutputResult(outputCfg, "fix", start, nil, false, err)
	}

	cfg.Watch.Enabled = false
	svc, err := autocorrect.NewService(cfg, autocorrect.WithLogger(logger.Slog()))
	if err != nil {
		return OutputResult(outputCfg, "fix", start, nil, false, err)
	}
	ctx := cmd.Context()
	if err := svc.Start(ctx); err != nil {
		_ = svc.Close()
		return OutputResult(outputCfg, "fix", start, nil, false, err)
	}

	triggers, errs := svc.Ingestor().FromRecords(recs)
	result := fixResult{}
	for _, e := range errs {
		result.Skipped = append(result.Skipped, e.Error())
	}
	records, procErr := svc.ProcessNow(ctx, triggers)
	if procErr != nil {
		result.Warnings = procErr.Error()
	}
	err = svc.Close()

	result.Records = records
	result.Summary = summarize(records)
	if !outputCfg.JSON && !outputCfg.Quiet {
		printRecords(os.Stdout, records, fixDiff)
		for _, s := range result.Skipped {
			fmt.Fprintf(os.Stderr, "skipped: %s\n", s)
		}
		fmt.Println(result.Summary.render())
	}
	return OutputResult(outputCfg, "fix", start, result, result.Summary.Review+result.Summary.Rejected > 0, err)
}
