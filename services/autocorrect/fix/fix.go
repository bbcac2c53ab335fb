// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package fix holds the value types that flow through the correction
// pipeline: edits, candidates, validated edits, safety levels, decisions and
// the append-only application records.
package fix

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/AleutianAI/autocorrect/services/autocorrect/ast"
	"github.com/AleutianAI/autocorrect/services/autocorrect/failure"
)

// =============================================================================
// Safety levels
// =============================================================================

// SafetyLevel is a risk classification, ordered Safe < Caution < Unsafe.
type SafetyLevel int

const (
	Safe SafetyLevel = iota + 1
	Caution
	Unsafe
)

// String returns the level name.
func (l SafetyLevel) String() string {
	switch l {
	case Safe:
		return "Safe"
	case Caution:
		return "Caution"
	case Unsafe:
		return "Unsafe"
	default:
		return "Unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (l SafetyLevel) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *SafetyLevel) UnmarshalText(b []byte) error {
	switch string(b) {
	case "Safe":
		*l = Safe
	case "Caution":
		*l = Caution
	case "Unsafe":
		*l = Unsafe
	default:
		return fmt.Errorf("unknown safety level %q", b)
	}
	return nil
}

// MoreRisky returns the riskier of a and b. The zero value counts as Safe.
func MoreRisky(a, b SafetyLevel) SafetyLevel {
	if a > b {
		return a
	}
	if b == 0 {
		return Safe
	}
	return b
}

// =============================================================================
// Decisions
// =============================================================================

// Decision is the outcome of the application gate.
type Decision int

const (
	AutoApplied Decision = iota + 1
	QueuedForReview
	Rejected
)

// String returns the decision name.
func (d Decision) String() string {
	switch d {
	case AutoApplied:
		return "AutoApplied"
	case QueuedForReview:
		return "QueuedForReview"
	case Rejected:
		return "Rejected"
	default:
		return "Unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (d Decision) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Decision) UnmarshalText(b []byte) error {
	switch string(b) {
	case "AutoApplied":
		*d = AutoApplied
	case "QueuedForReview":
		*d = QueuedForReview
	case "Rejected":
		*d = Rejected
	default:
		return fmt.Errorf("unknown decision %q", b)
	}
	return nil
}

// =============================================================================
// Edit
// =============================================================================

// ErrPrecondition is returned when an edit's span no longer holds the text
// the edit was computed against.
var ErrPrecondition = errors.New("edit precondition failed: span does not hold expected text")

// Edit replaces the text at Span in File. OldText is the precondition: the
// text the span must hold for the edit to apply.
type Edit struct {
	File    string   `json:"file"`
	Span    ast.Span `json:"span"`
	OldText string   `json:"old_text"`
	NewText string   `json:"new_text"`
}

// IsInsertion reports whether the edit inserts without replacing.
func (e Edit) IsInsertion() bool {
	return e.Span.Len() == 0
}

// Applied reports whether content already reflects the edit.
//
// This is only decidable for edits that extend OldText (insertions and
// appends), because for those the precondition still holds after
// application. Other edits are detected through the precondition alone.
func (e Edit) Applied(content []byte) bool {
	if len(e.NewText) <= len(e.OldText) || !strings.HasPrefix(e.NewText, e.OldText) {
		return false
	}
	end := e.Span.Start + len(e.NewText)
	return e.Span.Start >= 0 && end <= len(content) && string(content[e.Span.Start:end]) == e.NewText
}

// Apply returns content with the edit applied.
//
// Description:
//
//	Applying an edit is idempotent. When content already reflects the edit,
//	the content is returned unchanged with changed=false and no error. When
//	the span does not hold OldText, ErrPrecondition is returned. content is
//	never modified in place.
//
// Outputs:
//
//	[]byte - The new content (or content itself when unchanged).
//	bool - Whether anything changed.
//	error - ErrPrecondition, wrapped, on mismatch.
func (e Edit) Apply(content []byte) ([]byte, bool, error) {
	if !e.Span.Valid() || e.Span.End > len(content) {
		return content, false, fmt.Errorf("%w: span %s outside %d bytes", ErrPrecondition, e.Span, len(content))
	}
	if e.Applied(content) {
		return content, false, nil
	}
	if string(content[e.Span.Start:e.Span.End]) != e.OldText {
		return content, false, fmt.Errorf("%w: %s at %s", ErrPrecondition, e.File, e.Span)
	}
	out := make([]byte, 0, len(content)-e.Span.Len()+len(e.NewText))
	out = append(out, content[:e.Span.Start]...)
	out = append(out, e.NewText...)
	out = append(out, content[e.Span.End:]...)
	return out, true, nil
}

// Shift returns the edit moved by delta bytes.
func (e Edit) Shift(delta int) Edit {
	e.Span.Start += delta
	e.Span.End += delta
	return e
}

// =============================================================================
// Candidate and ValidatedEdit
// =============================================================================

// Candidate is a proposed, not yet applied edit.
type Candidate struct {
	ID        string `json:"id"`
	TriggerID string `json:"trigger_id"`

	// Strategy is the id of the strategy that proposed the candidate and
	// Priority its registration priority (lower wins ties).
	Strategy string `json:"strategy"`
	Priority int    `json:"priority"`

	Edit Edit `json:"edit"`

	// Confidence is the strategy's similarity or heuristic score in [0,1].
	Confidence float64 `json:"confidence"`

	// Safety is the level the strategy proposes. The classifier never
	// returns anything less risky.
	Safety SafetyLevel `json:"safety"`

	Rationale string `json:"rationale"`
}

// Shape describes the structure of an edit for safety classification.
type Shape struct {
	SingleToken        bool `json:"single_token"`
	SingleExpression   bool `json:"single_expression"`
	MultiLine          bool `json:"multi_line"`
	CrossScope         bool `json:"cross_scope"`
	TouchesDeclaration bool `json:"touches_declaration"`
	AltersControlFlow  bool `json:"alters_control_flow"`
}

// ValidatedEdit is a materialized candidate with its validation outcome.
type ValidatedEdit struct {
	Candidate Candidate `json:"candidate"`
	Shape     Shape     `json:"shape"`

	// Valid is true when the patched region re-parsed without errors.
	Valid bool `json:"valid"`

	// Failure explains an invalid edit.
	Failure string `json:"failure,omitempty"`

	// Safety is the level after validation: Unsafe whenever Valid is false,
	// otherwise the candidate's proposed level.
	Safety SafetyLevel `json:"safety"`

	// Diff is the unified diff of the file before and after the edit.
	Diff string `json:"diff,omitempty"`
}

// =============================================================================
// Records
// =============================================================================

// Override is a manual accept or reject received from the IDE bridge.
type Override struct {
	ActionID string `json:"action_id"`
	Accepted bool   `json:"accepted"`

	// Applied is true when an accepted action was written to the file.
	Applied bool `json:"applied"`
}

// Record is one append-only entry of the fix application log.
type Record struct {
	// Seq is assigned by the log on append and is strictly increasing.
	Seq uint64 `json:"seq"`

	ID          string `json:"id"`
	TriggerID   string `json:"trigger_id"`
	TriggerKind string `json:"trigger_kind"`
	File        string `json:"file"`

	// Candidate is nil when no candidate qualified.
	Candidate *Candidate `json:"candidate,omitempty"`

	Decision Decision    `json:"decision"`
	Safety   SafetyLevel `json:"safety,omitempty"`

	// Failure is set when the decision was caused by an engine failure.
	Failure failure.Kind `json:"failure,omitempty"`

	// Reason is the human-readable rationale for the decision.
	Reason string `json:"reason"`

	// Diff is set for applied edits.
	Diff string `json:"diff,omitempty"`

	// ActionID links QueuedForReview records to their IDE code action.
	ActionID string `json:"action_id,omitempty"`

	Override *Override `json:"override,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// ReasonNoCandidate is the rationale recorded when no strategy produced a
// qualifying candidate.
const ReasonNoCandidate = "no qualifying candidate"
