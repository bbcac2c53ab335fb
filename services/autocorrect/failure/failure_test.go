// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package failure

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_IsMatchesSentinel(t *testing.T) {
	tests := []struct {
		kind     Kind
		sentinel error
	}{
		{KindDiagnosticProcessing, ErrDiagnosticProcessing},
		{KindAstAnalysis, ErrAstAnalysis},
		{KindCodeGeneration, ErrCodeGeneration},
		{KindFileOperation, ErrFileOperation},
		{KindConfiguration, ErrConfiguration},
		{KindResourceExhausted, ErrResourceExhausted},
		{KindOperationTimeout, ErrOperationTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			err := New(tt.kind, "op", "msg")
			assert.ErrorIs(t, err, tt.sentinel)
			assert.ErrorIs(t, fmt.Errorf("outer: %w", err), tt.sentinel)
			for _, other := range sentinels {
				if other != tt.sentinel {
					assert.NotErrorIs(t, err, other)
				}
			}
		})
	}
}

func TestError_MessageAndUnwrap(t *testing.T) {
	err := &Error{Kind: KindFileOperation, Op: "fileio.Write", Message: "main.go", Cause: io.ErrShortWrite}
	assert.Equal(t, "fileio.Write: FileOperation: main.go: short write", err.Error())
	assert.ErrorIs(t, err, io.ErrShortWrite)
}

func TestWrap(t *testing.T) {
	assert.Nil(t, Wrap(KindAstAnalysis, "op", nil))

	err := Wrap(KindAstAnalysis, "analysis.Analyze", io.EOF)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAstAnalysis)
	assert.ErrorIs(t, err, io.EOF)
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindUnknown, KindOf(nil))
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	assert.Equal(t, KindOperationTimeout, KindOf(context.DeadlineExceeded))
	assert.Equal(t, KindCodeGeneration, KindOf(fmt.Errorf("x: %w", New(KindCodeGeneration, "", ""))))
}

func TestRecoverable(t *testing.T) {
	assert.False(t, Recoverable(New(KindConfiguration, "config.Load", "bad")))
	assert.True(t, Recoverable(New(KindAstAnalysis, "", "")))
	assert.True(t, Recoverable(errors.New("other")))
}

func TestKind_TextRoundTrip(t *testing.T) {
	b, err := KindResourceExhausted.MarshalText()
	require.NoError(t, err)

	var k Kind
	require.NoError(t, k.UnmarshalText(b))
	assert.Equal(t, KindResourceExhausted, k)
	assert.Equal(t, KindUnknown, ParseKind("Bogus"))
}
