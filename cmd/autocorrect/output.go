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
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"github.com/AleutianAI/autocorrect/services/autocorrect/fix"
)

// Exit codes for CLI commands.
const (
	CLIExitSuccess  = 0 // Operation completed successfully
	CLIExitFindings = 1 // Operation completed with findings left for review
	CLIExitError    = 2 // Operation failed
)

// OutputConfig controls output behavior.
type OutputConfig struct {
	JSON    bool // Output as JSON
	Compact bool // No indentation
	Quiet   bool // No output, exit code only
}

// CommandResult wraps command output with metadata.
type CommandResult struct {
	APIVersion string    `json:"api_version"`
	Command    string    `json:"command"`
	Timestamp  time.Time `json:"timestamp"`
	DurationMs int64     `json:"duration_ms"`
	Success    bool      `json:"success"`
	Data       any       `json:"data,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// Palette, deep ocean teals.
var (
	colorTealBright  = lipgloss.Color("#2CD7C7")
	colorTealPrimary = lipgloss.Color("#20B9B4")
	colorSlate       = lipgloss.Color("#2C4A54")
	colorWarning     = lipgloss.Color("#F4D03F")
	colorError       = lipgloss.Color("#E74C3C")
)

// styles used by the human-readable renderers.
var styles = struct {
	Title    lipgloss.Style
	Subtitle lipgloss.Style
	Muted    lipgloss.Style
	Applied  lipgloss.Style
	Review   lipgloss.Style
	Rejected lipgloss.Style
	Box      lipgloss.Style
}{
	Title:    lipgloss.NewStyle().Bold(true).Foreground(colorTealBright),
	Subtitle: lipgloss.NewStyle().Foreground(colorTealPrimary),
	Muted:    lipgloss.NewStyle().Foreground(colorSlate),
	Applied:  lipgloss.NewStyle().Bold(true).Foreground(colorTealBright),
	Review:   lipgloss.NewStyle().Bold(true).Foreground(colorWarning),
	Rejected: lipgloss.NewStyle().Bold(true).Foreground(colorError),
	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(colorTealPrimary).
		Padding(0, 1),
}

var (
	diffAdd  = color.New(color.FgGreen)
	diffDel  = color.New(color.FgRed)
	diffHunk = color.New(color.FgCyan, color.Bold)
)

// useColor reports whether w is a terminal that should get colors.
func useColor(w io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// OutputJSON writes structured data as JSON to w.
func OutputJSON(w io.Writer, data any, compact bool) error {
	encoder := json.NewEncoder(w)
	if !compact {
		encoder.SetIndent("", "  ")
	}
	return encoder.Encode(data)
}

// OutputResult writes the JSON envelope when requested and returns the
// exit code.
//
// # Inputs
//
//   - cfg: Output configuration.
//   - cmd: Command name for metadata.
//   - start: Start time for duration calculation.
//   - data: The data to output.
//   - hasFindings: Whether results remain for review (for exit code).
//   - err: Any error that occurred.
//
// # Outputs
//
//   - int: The exit code to use.
func OutputResult(cfg OutputConfig, cmd string, start time.Time, data any, hasFindings bool, err error) int {
	if cfg.Quiet {
		if err != nil {
			return CLIExitError
		}
		if hasFindings {
			return CLIExitFindings
		}
		return CLIExitSuccess
	}

	if cfg.JSON {
		result := CommandResult{
			APIVersion: "1.0",
			Command:    cmd,
			Timestamp:  time.Now(),
			DurationMs: time.Since(start).Milliseconds(),
			Success:    err == nil,
			Data:       data,
		}
		if err != nil {
			result.Error = err.Error()
		}
		if encErr := OutputJSON(os.Stdout, result, cfg.Compact); encErr != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode JSON: %v\n", encErr)
			return CLIExitError
		}
	} else if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s: %v\n", cmd, err)
	}

	switch {
	case err != nil:
		return CLIExitError
	case hasFindings:
		return CLIExitFindings
	}
	return CLIExitSuccess
}

// decisionLabel renders a decision badge.
func decisionLabel(d fix.Decision) string {
	switch d {
	case fix.AutoApplied:
		return styles.Applied.Render("APPLIED")
	case fix.QueuedForReview:
		return styles.Review.Render("REVIEW")
	default:
		return styles.Rejected.Render("REJECTED")
	}
}

// renderDiff colors a unified diff when colored is set.
func renderDiff(diff string, colored bool) string {
	if !colored {
		return diff
	}
	var b strings.Builder
	for _, line := range strings.SplitAfter(diff, "\n") {
		switch {
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
			b.WriteString(line)
		case strings.HasPrefix(line, "@@"):
			b.WriteString(diffHunk.Sprint(line))
		case strings.HasPrefix(line, "+"):
			b.WriteString(diffAdd.Sprint(line))
		case strings.HasPrefix(line, "-"):
			b.WriteString(diffDel.Sprint(line))
		default:
			b.WriteString(line)
		}
	}
	return b.String()
}

// printRecords writes one block per record to w.
func printRecords(w io.Writer, records []fix.Record, showDiff bool) {
	colored := useColor(w)
	for _, rec := range records {
		header := fmt.Sprintf("%s %s #%d", decisionLabel(rec.Decision), rec.File, rec.Seq)
		fmt.Fprintln(w, header)
		if rec.Candidate != nil {
			fmt.Fprintf(w, "  %s %s (%.2f, %s)\n",
				styles.Subtitle.Render(rec.Candidate.Strategy),
				rec.Candidate.Rationale,
				rec.Candidate.Confidence,
				rec.Safety)
		}
		fmt.Fprintf(w, "  %s\n", styles.Muted.Render(rec.Reason))
		if showDiff && rec.Diff != "" {
			fmt.Fprint(w, renderDiff(rec.Diff, colored))
		}
	}
}

// summarize counts records by decision.
type summary struct {
	Applied  int `json:"applied"`
	Review   int `json:"review"`
	Rejected int `json:"rejected"`
}

func summarize(records []fix.Record) summary {
	var s summary
	for _, rec := range records {
		switch rec.Decision {
		case fix.AutoApplied:
			s.Applied++
		case fix.QueuedForReview:
			s.Review++
		default:
			s.Rejected++
		}
	}
	return s
}

func (s summary) render() string {
	line := fmt.Sprintf("%d applied  %d for review  %d rejected", s.Applied, s.Review, s.Rejected)
	return styles.Box.Render(styles.Title.Render("autocorrect") + "  " + line)
}
