// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package trigger defines the immutable signal records that start an
// auto-correction cycle, and the ingestion boundary that builds them from
// compiler diagnostic feeds.
//
// A Trigger is one of four kinds (compiler diagnostic, pattern detection,
// AST anomaly, code generation request) with exactly one kind-specific
// payload. Its content hash covers the file content, the span and the kind
// and is the deduplication key used by the queue.
package trigger

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/autocorrect/services/autocorrect/ast"
	"github.com/AleutianAI/autocorrect/services/autocorrect/failure"
)

// =============================================================================
// Kind
// =============================================================================

// Kind identifies what produced a trigger.
type Kind int

const (
	KindCompilerDiagnostic Kind = iota + 1
	KindPatternDetection
	KindAstAnalysis
	KindCodeGeneration
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindCompilerDiagnostic:
		return "CompilerDiagnostic"
	case KindPatternDetection:
		return "PatternDetection"
	case KindAstAnalysis:
		return "AstAnalysis"
	case KindCodeGeneration:
		return "CodeGeneration"
	default:
		return "Unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// =============================================================================
// Payloads
// =============================================================================

// Payload is the kind-specific part of a trigger. The set of payload types
// is closed: Diagnostic, Pattern, Anomaly and Generation.
type Payload interface {
	kind() Kind
}

// Diagnostic is the payload of a compiler diagnostic trigger.
type Diagnostic struct {
	Code     string `json:"code,omitempty"`
	Message  string `json:"message"`
	Severity string `json:"severity,omitempty"`
}

func (Diagnostic) kind() Kind { return KindCompilerDiagnostic }

// Pattern is the payload of a pattern detection trigger.
type Pattern struct {
	ID      string `json:"id"`
	Message string `json:"message,omitempty"`
}

func (Pattern) kind() Kind { return KindPatternDetection }

// Anomaly is the payload of a structural anomaly found in a syntax tree.
type Anomaly struct {
	// NodeType is the grammar symbol involved; for missing tokens it is the
	// token the parser expected, e.g. ")".
	NodeType string `json:"node_type"`
	Message  string `json:"message"`
	Missing  bool   `json:"missing"`
}

func (Anomaly) kind() Kind { return KindAstAnalysis }

// Generation is the payload of a code generation request: produce a method
// Name with Signature on the type Receiver.
type Generation struct {
	Receiver  string `json:"receiver"`
	Name      string `json:"name"`
	Signature string `json:"signature,omitempty"`
}

func (Generation) kind() Kind { return KindCodeGeneration }

// =============================================================================
// Trigger
// =============================================================================

// Trigger is an immutable record of a detected signal.
//
// Thread Safety: Immutable after construction; safe to share.
type Trigger struct {
	id        string
	kind      Kind
	file      string
	span      ast.Span
	hash      string
	fileHash  string
	createdAt time.Time
	payload   Payload
}

// Option configures trigger construction.
type Option func(*Trigger)

// WithID overrides the generated id.
func WithID(id string) Option {
	return func(t *Trigger) { t.id = id }
}

// WithCreatedAt overrides the creation timestamp.
func WithCreatedAt(at time.Time) Option {
	return func(t *Trigger) { t.createdAt = at }
}

// New creates a trigger for span in file, whose current content is content.
//
// Description:
//
//	The trigger kind is taken from the payload. The content hash is computed
//	over content, span and kind; the file hash over content alone, so the
//	analysis engine can detect that the file changed after the trigger was
//	raised.
//
// Outputs:
//
//	*Trigger - The immutable trigger.
//	error - DiagnosticProcessing failure if file is empty, payload is nil or
//	        span does not lie within content.
func New(file string, content []byte, span ast.Span, payload Payload, opts ...Option) (*Trigger, error) {
	const op = "trigger.New"
	if file == "" {
		return nil, failure.New(failure.KindDiagnosticProcessing, op, "empty file path")
	}
	if payload == nil {
		return nil, failure.New(failure.KindDiagnosticProcessing, op, "nil payload")
	}
	if !span.Valid() || span.End > len(content) {
		return nil, failure.Newf(failure.KindDiagnosticProcessing, op,
			"span %s outside %s (%d bytes)", span, file, len(content))
	}

	t := &Trigger{
		kind:      payload.kind(),
		file:      file,
		span:      span,
		payload:   payload,
		fileHash:  HashContent(content),
		createdAt: time.Now(),
	}
	t.hash = ContentHash(content, span, t.kind)
	for _, opt := range opts {
		opt(t)
	}
	if t.id == "" {
		t.id = uuid.NewString()
	}
	return t, nil
}

// Rebase carries t over to after, the current content of its file, when
// before is the content t was raised on and nothing up to the end of t's
// span changed. The rebased trigger keeps t's id, creation time and
// payload. It returns t unchanged and true when after is the content t was
// raised on, and t with false when the span cannot be carried over.
func Rebase(t *Trigger, before, after []byte) (*Trigger, bool) {
	if HashContent(after) == t.fileHash {
		return t, true
	}
	if HashContent(before) != t.fileHash {
		return t, false
	}
	end := t.span.End
	if end > len(after) || !bytes.Equal(before[:end], after[:end]) {
		return t, false
	}
	rebased, err := New(t.file, after, t.span, t.payload, WithID(t.id), WithCreatedAt(t.createdAt))
	if err != nil {
		return t, false
	}
	return rebased, true
}

// ID returns the trigger's unique id.
func (t *Trigger) ID() string { return t.id }

// Kind returns the trigger kind.
func (t *Trigger) Kind() Kind { return t.kind }

// File returns the source file path.
func (t *Trigger) File() string { return t.file }

// Span returns the byte span the trigger refers to.
func (t *Trigger) Span() ast.Span { return t.span }

// Hash returns the deduplication content hash.
func (t *Trigger) Hash() string { return t.hash }

// FileHash returns the hash of the file content seen at creation.
func (t *Trigger) FileHash() string { return t.fileHash }

// CreatedAt returns the creation timestamp.
func (t *Trigger) CreatedAt() time.Time { return t.createdAt }

// Payload returns the kind-specific payload.
func (t *Trigger) Payload() Payload { return t.payload }

// Diagnostic returns the payload of a compiler diagnostic trigger.
func (t *Trigger) Diagnostic() (Diagnostic, bool) {
	d, ok := t.payload.(Diagnostic)
	return d, ok
}

// Pattern returns the payload of a pattern detection trigger.
func (t *Trigger) Pattern() (Pattern, bool) {
	p, ok := t.payload.(Pattern)
	return p, ok
}

// Anomaly returns the payload of an AST anomaly trigger.
func (t *Trigger) Anomaly() (Anomaly, bool) {
	a, ok := t.payload.(Anomaly)
	return a, ok
}

// Generation returns the payload of a code generation trigger.
func (t *Trigger) Generation() (Generation, bool) {
	g, ok := t.payload.(Generation)
	return g, ok
}

// Message returns a one-line description of the signal.
func (t *Trigger) Message() string {
	switch p := t.payload.(type) {
	case Diagnostic:
		return p.Message
	case Pattern:
		if p.Message != "" {
			return p.Message
		}
		return p.ID
	case Anomaly:
		return p.Message
	case Generation:
		return "generate " + p.Receiver + "." + p.Name
	}
	return ""
}

// MarshalJSON renders the trigger for APIs and logs.
func (t *Trigger) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ID        string    `json:"id"`
		Kind      Kind      `json:"kind"`
		File      string    `json:"file"`
		Span      ast.Span  `json:"span"`
		Hash      string    `json:"hash"`
		CreatedAt time.Time `json:"created_at"`
		Payload   Payload   `json:"payload"`
	}{t.id, t.kind, t.file, t.span, t.hash, t.createdAt, t.payload})
}

// =============================================================================
// Hashing
// =============================================================================

// HashContent returns the hex SHA-256 of content.
func HashContent(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// ContentHash returns the deduplication key for a signal of kind at span
// over content.
func ContentHash(content []byte, span ast.Span, kind Kind) string {
	h := sha256.New()
	h.Write(content)
	var buf [24]byte
	binary.BigEndian.PutUint64(buf[0:8], uint64(span.Start))
	binary.BigEndian.PutUint64(buf[8:16], uint64(span.End))
	binary.BigEndian.PutUint64(buf[16:24], uint64(kind))
	h.Write(buf[:])
	return hex.EncodeToString(h.Sum(nil))
}
