// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ast

import (
	"fmt"
	"sort"
)

// =============================================================================
// Span
// =============================================================================

// Span is a half-open byte range [Start, End) within a file.
//
// A zero-length span (Start == End) denotes an insertion point.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Len returns the number of bytes covered.
func (s Span) Len() int {
	return s.End - s.Start
}

// Valid reports whether the span is well formed.
func (s Span) Valid() bool {
	return s.Start >= 0 && s.End >= s.Start
}

// Contains reports whether o lies entirely within s.
func (s Span) Contains(o Span) bool {
	return s.Start <= o.Start && o.End <= s.End
}

// Overlaps reports whether s and o share at least one byte. Two insertions
// at the same offset, or an insertion strictly inside a range, also overlap.
func (s Span) Overlaps(o Span) bool {
	if s.Len() == 0 || o.Len() == 0 {
		if s.Len() == 0 && o.Len() == 0 {
			return s.Start == o.Start
		}
		if s.Len() == 0 {
			return o.Start < s.Start && s.Start < o.End
		}
		return s.Start < o.Start && o.Start < s.End
	}
	return s.Start < o.End && o.Start < s.End
}

// String renders the span as "[start,end)".
func (s Span) String() string {
	return fmt.Sprintf("[%d,%d)", s.Start, s.End)
}

// =============================================================================
// Position and SourceMap
// =============================================================================

// Position is a 1-based line and byte column.
type Position struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// String renders the position as "line:column".
func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

// SourceMap projects byte offsets to line/column positions and back.
//
// Thread Safety: Immutable after construction; safe for concurrent use.
type SourceMap struct {
	// lineStarts[i] is the byte offset of the first byte of line i+1.
	lineStarts []int
	size       int
}

// NewSourceMap indexes the line starts of content.
func NewSourceMap(content []byte) *SourceMap {
	starts := make([]int, 1, len(content)/32+1)
	for i, b := range content {
		if b == '\n' {
			starts = append(starts, i+1)
		}
	}
	return &SourceMap{lineStarts: starts, size: len(content)}
}

// Size returns the length of the indexed content in bytes.
func (m *SourceMap) Size() int {
	return m.size
}

// LineCount returns the number of lines. A trailing newline starts an
// (empty) final line.
func (m *SourceMap) LineCount() int {
	return len(m.lineStarts)
}

// Position converts a byte offset in [0, Size] to a 1-based position.
func (m *SourceMap) Position(offset int) (Position, error) {
	if offset < 0 || offset > m.size {
		return Position{}, fmt.Errorf("offset %d outside [0,%d]", offset, m.size)
	}
	line := sort.Search(len(m.lineStarts), func(i int) bool {
		return m.lineStarts[i] > offset
	}) - 1
	return Position{Line: line + 1, Column: offset - m.lineStarts[line] + 1}, nil
}

// Offset converts a 1-based position to a byte offset.
//
// The column may point one past the last byte of the line (the newline
// position), which is how end-of-line insertions are expressed.
func (m *SourceMap) Offset(pos Position) (int, error) {
	if pos.Line < 1 || pos.Line > len(m.lineStarts) {
		return 0, fmt.Errorf("line %d outside [1,%d]", pos.Line, len(m.lineStarts))
	}
	lineSpan, _ := m.LineSpan(pos.Line)
	if pos.Column < 1 || pos.Column-1 > lineSpan.Len() {
		return 0, fmt.Errorf("column %d outside line %d (length %d)", pos.Column, pos.Line, lineSpan.Len())
	}
	return lineSpan.Start + pos.Column - 1, nil
}

// LineSpan returns the span of a 1-based line, excluding its newline.
func (m *SourceMap) LineSpan(line int) (Span, error) {
	if line < 1 || line > len(m.lineStarts) {
		return Span{}, fmt.Errorf("line %d outside [1,%d]", line, len(m.lineStarts))
	}
	start := m.lineStarts[line-1]
	end := m.size
	if line < len(m.lineStarts) {
		end = m.lineStarts[line] - 1
	}
	return Span{Start: start, End: end}, nil
}

// SpanOf converts a start and end position to a byte span.
func (m *SourceMap) SpanOf(start, end Position) (Span, error) {
	s, err := m.Offset(start)
	if err != nil {
		return Span{}, err
	}
	e, err := m.Offset(end)
	if err != nil {
		return Span{}, err
	}
	if e < s {
		return Span{}, fmt.Errorf("end %s precedes start %s", end, start)
	}
	return Span{Start: s, End: e}, nil
}
