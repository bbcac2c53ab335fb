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
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/autocorrect/pkg/logging"
	"github.com/AleutianAI/autocorrect/services/autocorrect/ast"
	"github.com/AleutianAI/autocorrect/services/autocorrect/audit"
	"github.com/AleutianAI/autocorrect/services/autocorrect/config"
	"github.com/AleutianAI/autocorrect/services/autocorrect/fix"
	"github.com/AleutianAI/autocorrect/services/autocorrect/trigger"
)

const usersSource = `package main

import (
	"fmt"
)

func fetchUser(id int) string {
	return fmt.Sprint(id)
}

func main() {
	id := 7
	name := fetchUsr(id)
	fmt.Println(name)
}
`

const concatSource = `package main

func join(parts []string) string {
	out := ""
	for _, p := range parts {
		out += p
	}
	return out
}
`

// workspace writes files under a fresh root and points the command
// globals at it. The globals are restored when the test ends.
func workspace(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	files["go.mod"] = "module example.com/app\n\ngo 1.22\n"
	for name, content := range files {
		path := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}

	prevCfg, prevOut, prevLogger := cfg, outputCfg, logger
	prevFormat, prevScanFix, prevLimit := fixFormat, scanFix, recordsLimit
	t.Cleanup(func() {
		cfg, outputCfg, logger = prevCfg, prevOut, prevLogger
		fixFormat, scanFix, recordsLimit = prevFormat, prevScanFix, prevLimit
	})

	cfg = config.Default()
	cfg.Root = root
	cfg.Watch.Enabled = false
	outputCfg = OutputConfig{Quiet: true}
	logger = logging.Nop()
	fixFormat = "feed"
	scanFix = false
	recordsLimit = 50
	return root
}

func testCommand() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.SetContext(context.Background())
	return cmd
}

func writeReport(t *testing.T, recs []trigger.DiagnosticRecord) string {
	t.Helper()
	data, err := json.Marshal(recs)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "report.json")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func listRecords(t *testing.T, root string) []fix.Record {
	t.Helper()
	log, err := audit.OpenBadgerLog(cfg.Audit.ToStoreConfig(root, logging.Nop().Slog()))
	require.NoError(t, err)
	defer log.Close()
	records, err := log.List(context.Background(), audit.Query{})
	require.NoError(t, err)
	return records
}

func TestRunFix_AppliesReport(t *testing.T) {
	root := workspace(t, map[string]string{"main.go": usersSource})
	start := strings.Index(usersSource, "fetchUsr")
	report := writeReport(t, []trigger.DiagnosticRecord{{
		File:     "main.go",
		Span:     &ast.Span{Start: start, End: start + len("fetchUsr")},
		Code:     "UndeclaredName",
		Message:  "undefined: fetchUsr",
		Severity: "error",
	}})

	assert.Equal(t, CLIExitSuccess, runFix(testCommand(), []string{report}))

	data, err := os.ReadFile(filepath.Join(root, "main.go"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "name := fetchUser(id)")

	records := listRecords(t, root)
	require.Len(t, records, 1)
	assert.Equal(t, fix.AutoApplied, records[0].Decision)

	assert.Equal(t, CLIExitSuccess, runRecords(testCommand()))
}

func TestRunFix_Errors(t *testing.T) {
	root := workspace(t, map[string]string{"main.go": usersSource})

	fixFormat = "xml"
	assert.Equal(t, CLIExitError, runFix(testCommand(), []string{writeReport(t, nil)}))

	fixFormat = "feed"
	assert.Equal(t, CLIExitError, runFix(testCommand(), []string{filepath.Join(root, "missing.json")}))
}

func TestRunScan(t *testing.T) {
	root := workspace(t, map[string]string{"join.go": concatSource})

	assert.Equal(t, CLIExitFindings, runScan(testCommand(), nil), "findings are reported")
	assert.Empty(t, listRecords(t, root), "a plain scan decides nothing")

	scanFix = true
	assert.NotEqual(t, CLIExitError, runScan(testCommand(), nil))

	records := listRecords(t, root)
	require.NotEmpty(t, records, "every finding is decided and logged")
	for _, rec := range records {
		assert.Equal(t, "join.go", rec.File)
	}
}

func TestRunRecords_InMemoryAudit(t *testing.T) {
	workspace(t, map[string]string{})
	cfg.Audit.InMemory = true
	assert.Equal(t, CLIExitError, runRecords(testCommand()))
}

func TestRunRecords_BadDecision(t *testing.T) {
	workspace(t, map[string]string{})
	prev := recordsDecision
	t.Cleanup(func() { recordsDecision = prev })
	recordsDecision = "Maybe"
	assert.Equal(t, CLIExitError, runRecords(testCommand()))
}
