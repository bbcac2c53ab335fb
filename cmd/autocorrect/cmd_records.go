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
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/autocorrect/services/autocorrect/audit"
)

var (
	recordsFile     string
	recordsDecision string
	recordsAction   string
	recordsAfter    uint64
	recordsLimit    int
	recordsDiff     bool

	recordsCmd = &cobra.Command{
		Use:   "records",
		Short: "Query the fix application log",
		Long: `records lists entries of the append-only fix application log, oldest
first. The log must not be open by a running service.`,
		Args: cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			os.Exit(runRecords(cmd))
		},
	}
)

func init() {
	flags := recordsCmd.Flags()
	flags.StringVar(&recordsFile, "file", "", "only records for this file")
	flags.StringVar(&recordsDecision, "decision", "", "AutoApplied, QueuedForReview or Rejected")
	flags.StringVar(&recordsAction, "action", "", "only records for this code action")
	flags.Uint64Var(&recordsAfter, "after", 0, "only records with a greater sequence number")
	flags.IntVarP(&recordsLimit, "limit", "n", 50, "maximum records (0 for all)")
	flags.BoolVar(&recordsDiff, "diff", false, "print diffs")
}

func runRecords(cmd *cobra.Command) int {
	start := time.Now()

	q := audit.Query{
		File:     recordsFile,
		ActionID: recordsAction,
		AfterSeq: recordsAfter,
		Limit:    recordsLimit,
	}
	if recordsDecision != "" {
		if err := q.Decision.UnmarshalText([]byte(recordsDecision)); err != nil {
			return OutputResult(outputCfg, "records", start, nil, false, err)
		}
	}
	if cfg.Audit.InMemory {
		return OutputResult(outputCfg, "records", start, nil, false,
			fmt.Errorf("audit log is configured in memory; nothing to read"))
	}

	log, err := audit.OpenBadgerLog(cfg.Audit.ToStoreConfig(cfg.Root, logger.Slog()))
	if err != nil {
		return OutputResult(outputCfg, "records", start, nil, false, err)
	}
	defer log.Close()

	records, err := log.List(cmd.Context(), q)
	if err != nil {
		return OutputResult(outputCfg, "records", start, nil, false, err)
	}
	if !outputCfg.JSON && !outputCfg.Quiet {
		printRecords(os.Stdout, records, recordsDiff)
		fmt.Println(summarize(records).render())
	}
	return OutputResult(outputCfg, "records", start, records, false, nil)
}
