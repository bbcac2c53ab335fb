// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package failure defines the error taxonomy of the auto-correction engine.
//
// Every failure the engine reports carries a Kind. Callers test for a kind
// with errors.Is against the package sentinels:
//
//	if errors.Is(err, failure.ErrAstAnalysis) { ... }
//
// or extract it with KindOf.
package failure

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies an engine failure.
type Kind int

const (
	// KindUnknown is the zero value; it is never produced by the engine.
	KindUnknown Kind = iota

	// KindDiagnosticProcessing is a malformed or unmappable diagnostic record.
	KindDiagnosticProcessing

	// KindAstAnalysis is a parse or context-extraction failure.
	KindAstAnalysis

	// KindCodeGeneration is a materialization or re-validation failure.
	KindCodeGeneration

	// KindFileOperation is a read or write failure.
	KindFileOperation

	// KindConfiguration is an invalid setting detected at startup.
	KindConfiguration

	// KindResourceExhausted is a full queue or an over-capacity cache.
	KindResourceExhausted

	// KindOperationTimeout is an exceeded per-trigger or per-strategy deadline.
	KindOperationTimeout
)

var kindNames = map[Kind]string{
	KindUnknown:              "Unknown",
	KindDiagnosticProcessing: "DiagnosticProcessing",
	KindAstAnalysis:          "AstAnalysis",
	KindCodeGeneration:       "CodeGeneration",
	KindFileOperation:        "FileOperation",
	KindConfiguration:        "Configuration",
	KindResourceExhausted:    "ResourceExhausted",
	KindOperationTimeout:     "OperationTimeout",
}

// String returns the kind name, e.g. "AstAnalysis".
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "Unknown"
}

// ParseKind is the inverse of Kind.String. Unrecognized names map to KindUnknown.
func ParseKind(name string) Kind {
	for k, n := range kindNames {
		if n == name {
			return k
		}
	}
	return KindUnknown
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(b []byte) error {
	*k = ParseKind(string(b))
	return nil
}

// Sentinel errors, one per kind. *Error values match the sentinel of their
// kind under errors.Is.
var (
	ErrDiagnosticProcessing = errors.New("diagnostic processing failed")
	ErrAstAnalysis          = errors.New("ast analysis failed")
	ErrCodeGeneration       = errors.New("code generation failed")
	ErrFileOperation        = errors.New("file operation failed")
	ErrConfiguration        = errors.New("invalid configuration")
	ErrResourceExhausted    = errors.New("resource exhausted")
	ErrOperationTimeout     = errors.New("operation timed out")
)

var sentinels = map[Kind]error{
	KindDiagnosticProcessing: ErrDiagnosticProcessing,
	KindAstAnalysis:          ErrAstAnalysis,
	KindCodeGeneration:       ErrCodeGeneration,
	KindFileOperation:        ErrFileOperation,
	KindConfiguration:        ErrConfiguration,
	KindResourceExhausted:    ErrResourceExhausted,
	KindOperationTimeout:     ErrOperationTimeout,
}

// Error is a classified engine failure.
type Error struct {
	// Kind classifies the failure.
	Kind Kind

	// Op names the operation that failed, e.g. "queue.Submit".
	Op string

	// Message is a human-readable description.
	Message string

	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is the sentinel for e's kind, or an *Error of
// the same kind.
func (e *Error) Is(target error) bool {
	if s, ok := sentinels[e.Kind]; ok && target == s {
		return true
	}
	var other *Error
	if errors.As(target, &other) {
		return other.Kind == e.Kind && other.Op == "" && other.Message == "" && other.Cause == nil
	}
	return false
}

// New creates an *Error of the given kind.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Newf creates an *Error with a formatted message.
func Newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies cause under kind. A nil cause returns nil.
func Wrap(kind Kind, op string, cause error) error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Cause: cause}
}

// KindOf returns the kind of the first *Error in err's chain.
//
// Context deadline errors that were never classified map to
// KindOperationTimeout; everything else unclassified is KindUnknown.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindOperationTimeout
	}
	return KindUnknown
}

// Recoverable reports whether the engine may continue with the next trigger
// after err. Only configuration failures are fatal.
func Recoverable(err error) bool {
	return KindOf(err) != KindConfiguration
}
