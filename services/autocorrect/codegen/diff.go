// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package codegen

import (
	"bytes"
	"fmt"
	"strings"

	"fortio.org/safecast"
	"github.com/sourcegraph/go-diff/diff"
)

// ContextLines is the number of unchanged lines around a hunk.
const ContextLines = 3

// UnifiedDiff renders the change from before to after as a single-file
// unified diff with one hunk.
//
// A single edit changes one contiguous run of lines, so the hunk is the
// region between the longest common line prefix and suffix. Equal inputs
// render as the empty string.
func UnifiedDiff(path string, before, after []byte) (string, error) {
	if bytes.Equal(before, after) {
		return "", nil
	}
	a := splitLines(before)
	b := splitLines(after)

	prefix := 0
	for prefix < len(a) && prefix < len(b) && a[prefix] == b[prefix] {
		prefix++
	}
	suffix := 0
	for suffix < len(a)-prefix && suffix < len(b)-prefix && a[len(a)-1-suffix] == b[len(b)-1-suffix] {
		suffix++
	}

	start := max(0, prefix-ContextLines)
	tail := min(suffix, ContextLines)

	var body bytes.Buffer
	writeLines(&body, ' ', a[start:prefix])
	writeLines(&body, '-', a[prefix:len(a)-suffix])
	writeLines(&body, '+', b[prefix:len(b)-suffix])
	writeLines(&body, ' ', a[len(a)-suffix:len(a)-suffix+tail])

	origStart, origLines, err := hunkRange(start, len(a)-suffix+tail-start)
	if err != nil {
		return "", fmt.Errorf("diff for %s: %w", path, err)
	}
	newStart, newLines, err := hunkRange(start, len(b)-suffix+tail-start)
	if err != nil {
		return "", fmt.Errorf("diff for %s: %w", path, err)
	}
	hunk := &diff.Hunk{
		OrigStartLine: origStart,
		OrigLines:     origLines,
		NewStartLine:  newStart,
		NewLines:      newLines,
		Body:          body.Bytes(),
	}

	out, err := diff.PrintFileDiff(&diff.FileDiff{
		OrigName: "a/" + path,
		NewName:  "b/" + path,
		Hunks:    []*diff.Hunk{hunk},
	})
	if err != nil {
		return "", fmt.Errorf("printing diff for %s: %w", path, err)
	}
	return string(out), nil
}

// hunkRange returns one side's start line and line count. The start is
// 1-based, except that an empty side starts at the line before the hunk.
func hunkRange(start, lines int) (int32, int32, error) {
	if lines > 0 {
		start++
	}
	from, err := safecast.Conv[int32](start)
	if err != nil {
		return 0, 0, err
	}
	count, err := safecast.Conv[int32](lines)
	if err != nil {
		return 0, 0, err
	}
	return from, count, nil
}

func splitLines(content []byte) []string {
	s := strings.TrimSuffix(string(content), "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

func writeLines(buf *bytes.Buffer, prefix byte, lines []string) {
	for _, l := range lines {
		buf.WriteByte(prefix)
		buf.WriteString(l)
		buf.WriteByte('\n')
	}
}
