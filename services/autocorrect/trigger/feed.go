// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package trigger

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/autocorrect/services/autocorrect/ast"
	"github.com/AleutianAI/autocorrect/services/autocorrect/failure"
)

// =============================================================================
// Diagnostic records
// =============================================================================

// Range is a line/column range, 1-based. A zero End means "the token
// starting at Start".
type Range struct {
	Start ast.Position `json:"start"`
	End   ast.Position `json:"end"`
}

// DiagnosticRecord is one structured record from a compiler or linter feed.
//
// The location is either a byte Span or a line/column Range; Range wins when
// both are present.
type DiagnosticRecord struct {
	File     string    `json:"file" validate:"required"`
	Span     *ast.Span `json:"span,omitempty"`
	Range    *Range    `json:"range,omitempty"`
	Code     string    `json:"code,omitempty" validate:"max=128"`
	Message  string    `json:"message" validate:"required,max=4096"`
	Severity string    `json:"severity,omitempty" validate:"omitempty,oneof=error warning info hint"`
}

var validate *validator.Validate

func init() {
	validate = validator.New()
	validate.RegisterStructValidation(func(sl validator.StructLevel) {
		rec := sl.Current().Interface().(DiagnosticRecord)
		if rec.Span == nil && rec.Range == nil {
			sl.ReportError(rec.Span, "Span", "span", "span_or_range", "")
		}
	}, DiagnosticRecord{})
}

// Validate checks the record's required fields.
func (r DiagnosticRecord) Validate() error {
	return validate.Struct(r)
}

// Reader reads source files. fileio.FileSystem satisfies it.
type Reader interface {
	Read(path string) ([]byte, error)
}

// Ingestor maps diagnostic records 1:1 to compiler diagnostic triggers.
//
// Thread Safety: Safe for concurrent use.
type Ingestor struct {
	files Reader
	now   func() time.Time
}

// NewIngestor creates an Ingestor reading file content from files.
func NewIngestor(files Reader) *Ingestor {
	return &Ingestor{files: files, now: time.Now}
}

// FromRecord builds the trigger for one diagnostic record.
//
// Description:
//
//	Validates the record, reads the current file content, resolves the
//	location to a byte span and creates a CompilerDiagnostic trigger. A
//	range without an end is widened to the identifier starting at the range
//	start, since compilers usually report only the token start.
//
// Outputs:
//
//	*Trigger - The trigger.
//	error - DiagnosticProcessing failure for malformed or unmappable
//	        records; FileOperation failure if the file cannot be read.
func (in *Ingestor) FromRecord(rec DiagnosticRecord) (*Trigger, error) {
	const op = "trigger.FromRecord"
	if err := rec.Validate(); err != nil {
		return nil, &failure.Error{Kind: failure.KindDiagnosticProcessing, Op: op, Message: "invalid record", Cause: err}
	}

	content, err := in.files.Read(rec.File)
	if err != nil {
		return nil, failure.Wrap(failure.KindFileOperation, op, err)
	}

	span, err := resolveSpan(rec, content)
	if err != nil {
		return nil, &failure.Error{Kind: failure.KindDiagnosticProcessing, Op: op, Message: rec.File, Cause: err}
	}

	return New(rec.File, content, span, Diagnostic{
		Code:     rec.Code,
		Message:  rec.Message,
		Severity: rec.Severity,
	}, WithCreatedAt(in.now()))
}

// FromRecords ingests a batch. Records that fail are reported in errs and
// do not stop the batch.
func (in *Ingestor) FromRecords(recs []DiagnosticRecord) (triggers []*Trigger, errs []error) {
	for i, rec := range recs {
		t, err := in.FromRecord(rec)
		if err != nil {
			errs = append(errs, fmt.Errorf("record %d: %w", i, err))
			continue
		}
		triggers = append(triggers, t)
	}
	return triggers, errs
}

func resolveSpan(rec DiagnosticRecord, content []byte) (ast.Span, error) {
	if rec.Range == nil {
		return *rec.Span, nil
	}
	m := ast.NewSourceMap(content)
	start, err := m.Offset(rec.Range.Start)
	if err != nil {
		return ast.Span{}, err
	}
	if rec.Range.End == (ast.Position{}) {
		return ast.Span{Start: start, End: start + wordLen(content[start:])}, nil
	}
	return m.SpanOf(rec.Range.Start, rec.Range.End)
}

// wordLen returns the length of the identifier at the start of b.
func wordLen(b []byte) int {
	n := 0
	for n < len(b) {
		c := b[n]
		if c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' {
			n++
			continue
		}
		break
	}
	return n
}

// =============================================================================
// Feed decoding
// =============================================================================

// DecodeFeed reads diagnostic records as a JSON array or as JSON lines.
func DecodeFeed(r io.Reader) ([]DiagnosticRecord, error) {
	const op = "trigger.DecodeFeed"
	br := bufio.NewReader(r)
	first, err := peekNonSpace(br)
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, failure.Wrap(failure.KindDiagnosticProcessing, op, err)
	}

	if first == '[' {
		var recs []DiagnosticRecord
		if err := json.NewDecoder(br).Decode(&recs); err != nil {
			return nil, failure.Wrap(failure.KindDiagnosticProcessing, op, err)
		}
		return recs, nil
	}

	var recs []DiagnosticRecord
	dec := json.NewDecoder(br)
	for {
		var rec DiagnosticRecord
		err := dec.Decode(&rec)
		if errors.Is(err, io.EOF) {
			return recs, nil
		}
		if err != nil {
			return recs, failure.Wrap(failure.KindDiagnosticProcessing, op, err)
		}
		recs = append(recs, rec)
	}
}

func peekNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		if b != ' ' && b != '\n' && b != '\r' && b != '\t' {
			return b, br.UnreadByte()
		}
	}
}

// golangCIReport mirrors the subset of `golangci-lint run --out-format json`
// output that maps onto diagnostic records.
type golangCIReport struct {
	Issues []struct {
		FromLinter string `json:"FromLinter"`
		Text       string `json:"Text"`
		Severity   string `json:"Severity"`
		Pos        struct {
			Filename string `json:"Filename"`
			Line     int    `json:"Line"`
			Column   int    `json:"Column"`
		} `json:"Pos"`
	} `json:"Issues"`
}

// DecodeGolangCI converts golangci-lint JSON output into diagnostic
// records. Issues without a position are skipped.
func DecodeGolangCI(data []byte) ([]DiagnosticRecord, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}
	var report golangCIReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, failure.Wrap(failure.KindDiagnosticProcessing, "trigger.DecodeGolangCI", err)
	}

	recs := make([]DiagnosticRecord, 0, len(report.Issues))
	for _, issue := range report.Issues {
		if issue.Pos.Filename == "" || issue.Pos.Line < 1 {
			continue
		}
		col := issue.Pos.Column
		if col < 1 {
			col = 1
		}
		recs = append(recs, DiagnosticRecord{
			File:     issue.Pos.Filename,
			Range:    &Range{Start: ast.Position{Line: issue.Pos.Line, Column: col}},
			Code:     issue.FromLinter,
			Message:  issue.Text,
			Severity: normalizeSeverity(issue.Severity),
		})
	}
	return recs, nil
}

func normalizeSeverity(s string) string {
	switch strings.ToLower(s) {
	case "", "error":
		return "error"
	case "warning", "warn":
		return "warning"
	case "info":
		return "info"
	default:
		return "hint"
	}
}
