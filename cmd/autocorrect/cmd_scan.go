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
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/autocorrect/services/autocorrect"
	"github.com/AleutianAI/autocorrect/services/autocorrect/fileio"
	"github.com/AleutianAI/autocorrect/services/autocorrect/trigger"
)

var (
	scanFix bool

	scanCmd = &cobra.Command{
		Use:   "scan [path...]",
		Short: "Run the pattern and anomaly detectors over the workspace",
		Long: `scan parses every supported file under the given paths (default: the
workspace root) and reports detected patterns and structural anomalies.
With --fix the findings run through the correction pipeline.`,
		Run: func(cmd *cobra.Command, args []string) {
			os.Exit(runScan(cmd, args))
		},
	}
)

func init() {
	scanCmd.Flags().BoolVar(&scanFix, "fix", false, "correct findings instead of only reporting them")
}

// scanFinding is one detector hit.
type scanFinding struct {
	File    string `json:"file"`
	Line    int    `json:"line"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// collectFiles expands args into workspace-relative files the scanner
// supports, skipping the configured ignore list.
func collectFiles(files *fileio.OSFileSystem, args []string, supports func(string) bool) ([]string, error) {
	if len(args) == 0 {
		args = []string{files.Root()}
	}
	var out []string
	for _, arg := range args {
		abs, err := files.Resolve(arg)
		if err != nil {
			return nil, err
		}
		err = filepath.WalkDir(abs, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if path != abs && slices.Contains(cfg.Watch.Ignore, d.Name()) {
					return filepath.SkipDir
				}
				return nil
			}
			rel, err := files.Rel(path)
			if err != nil || !supports(rel) {
				return nil
			}
			out = append(out, rel)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	slices.Sort(out)
	return slices.Compact(out), nil
}

func lineOf(content []byte, offset int) int {
	if offset > len(content) {
		offset = len(content)
	}
	return strings.Count(string(content[:offset]), "\n") + 1
}

func runScan(cmd *cobra.Command, args []string) int {
	start := time.Now()
	ctx := cmd.Context()

	osfs, err := fileio.NewOSFileSystem(cfg.Root)
	if err != nil {
		return OutputResult(outputCfg, "scan", start, nil, false, err)
	}
	cfg.Watch.Enabled = false
	svc, err := autocorrect.NewService(cfg, autocorrect.WithFileSystem(osfs), autocorrect.WithLogger(logger.Slog()))
	if err != nil {
		return OutputResult(outputCfg, "scan", start, nil, false, err)
	}
	defer svc.Close()

	files, err := collectFiles(osfs, args, svc.Scanner().Supports)
	if err != nil {
		return OutputResult(outputCfg, "scan", start, nil, false, err)
	}

	var (
		findings []scanFinding
		triggers []*trigger.Trigger
	)
	for _, name := range files {
		content, err := osfs.Read(name)
		if err != nil {
			logger.Warn("read failed", "file", name, "error", err)
			continue
		}
		found, err := svc.Scanner().Scan(ctx, name, content)
		if err != nil {
			logger.Warn("scan failed", "file", name, "error", err)
			continue
		}
		for _, t := range found {
			findings = append(findings, scanFinding{
				File:    name,
				Line:    lineOf(content, t.Span().Start),
				Kind:    t.Kind().String(),
				Message: t.Message(),
			})
		}
		triggers = append(triggers, found...)
	}

	if !scanFix {
		if !outputCfg.JSON && !outputCfg.Quiet {
			for _, f := range findings {
				fmt.Printf("%s:%d %s %s\n", f.File, f.Line, styles.Subtitle.Render(f.Kind), f.Message)
			}
			fmt.Println(styles.Muted.Render(fmt.Sprintf("%d files, %d findings", len(files), len(findings))))
		}
		return OutputResult(outputCfg, "scan", start, findings, len(findings) > 0, nil)
	}

	return fixTriggers(ctx, svc, triggers, start)
}

func fixTriggers(ctx context.Context, svc *autocorrect.Service, triggers []*trigger.Trigger, start time.Time) int {
	if err := svc.Start(ctx); err != nil {
		return OutputResult(outputCfg, "scan", start, nil, false, err)
	}
	records, procErr := svc.ProcessNow(ctx, triggers)
	result := fixResult{Records: records, Summary: summarize(records)}
	if procErr != nil {
		result.Warnings = procErr.Error()
	}
	if !outputCfg.JSON && !outputCfg.Quiet {
		printRecords(os.Stdout, records, true)
		fmt.Println(result.Summary.render())
	}
	return OutputResult(outputCfg, "scan", start, result, result.Summary.Review > 0, nil)
}
