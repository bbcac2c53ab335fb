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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpan_Overlaps(t *testing.T) {
	tests := []struct {
		name string
		a, b Span
		want bool
	}{
		{"disjoint", Span{0, 3}, Span{3, 5}, false},
		{"overlap", Span{0, 4}, Span{3, 5}, true},
		{"nested", Span{0, 10}, Span{2, 3}, true},
		{"same insertion", Span{4, 4}, Span{4, 4}, true},
		{"different insertions", Span{4, 4}, Span{5, 5}, false},
		{"insertion inside", Span{4, 4}, Span{2, 6}, true},
		{"insertion at boundary", Span{2, 2}, Span{2, 6}, false},
		{"range contains insertion", Span{2, 6}, Span{3, 3}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.a.Overlaps(tt.b))
			assert.Equal(t, tt.want, tt.b.Overlaps(tt.a), "overlap is symmetric")
		})
	}
}

func TestSpan_Basics(t *testing.T) {
	s := Span{Start: 2, End: 7}
	assert.Equal(t, 5, s.Len())
	assert.True(t, s.Valid())
	assert.False(t, Span{Start: 3, End: 1}.Valid())
	assert.True(t, s.Contains(Span{Start: 2, End: 7}))
	assert.False(t, s.Contains(Span{Start: 1, End: 3}))
	assert.Equal(t, "[2,7)", s.String())
}

func TestSourceMap_RoundTrip(t *testing.T) {
	content := []byte("ab\ncde\n\nf")
	m := NewSourceMap(content)

	assert.Equal(t, 4, m.LineCount())
	assert.Equal(t, len(content), m.Size())

	for offset := 0; offset <= len(content); offset++ {
		pos, err := m.Position(offset)
		require.NoError(t, err)
		back, err := m.Offset(pos)
		require.NoError(t, err)
		assert.Equal(t, offset, back, "offset %d via %s", offset, pos)
	}
}

func TestSourceMap_Positions(t *testing.T) {
	m := NewSourceMap([]byte("ab\ncde\n"))

	pos, err := m.Position(0)
	require.NoError(t, err)
	assert.Equal(t, Position{Line: 1, Column: 1}, pos)

	pos, err = m.Position(4)
	require.NoError(t, err)
	assert.Equal(t, Position{Line: 2, Column: 2}, pos)

	_, err = m.Position(-1)
	assert.Error(t, err)
	_, err = m.Position(100)
	assert.Error(t, err)
}

func TestSourceMap_LineSpanAndErrors(t *testing.T) {
	m := NewSourceMap([]byte("ab\ncde\n"))

	span, err := m.LineSpan(2)
	require.NoError(t, err)
	assert.Equal(t, Span{Start: 3, End: 6}, span)

	_, err = m.Offset(Position{Line: 2, Column: 9})
	assert.Error(t, err)
	_, err = m.Offset(Position{Line: 0, Column: 1})
	assert.Error(t, err)

	s, err := m.SpanOf(Position{Line: 1, Column: 2}, Position{Line: 2, Column: 3})
	require.NoError(t, err)
	assert.Equal(t, Span{Start: 1, End: 5}, s)

	_, err = m.SpanOf(Position{Line: 2, Column: 3}, Position{Line: 1, Column: 1})
	assert.Error(t, err)
}
