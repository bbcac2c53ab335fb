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
	"errors"
	"fmt"
)

// Sentinel errors for parse operations.
var (
	// ErrUnsupportedLanguage indicates no parser is registered for a
	// language or file extension.
	ErrUnsupportedLanguage = errors.New("unsupported language")

	// ErrInvalidContent indicates content that cannot be parsed at all,
	// such as invalid UTF-8.
	ErrInvalidContent = errors.New("invalid content")

	// ErrFileTooLarge indicates content above the parser's size limit.
	ErrFileTooLarge = errors.New("file too large")

	// ErrParseFailed indicates the parser produced no tree.
	ErrParseFailed = errors.New("parse failed")
)

// ParseError carries the location of a parse failure.
type ParseError struct {
	Language string
	Position Position
	Message  string
	Cause    error
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	loc := e.Language
	if e.Position.Line > 0 {
		loc = fmt.Sprintf("%s %s", loc, e.Position)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", loc, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", loc, e.Message)
}

// Unwrap returns the cause.
func (e *ParseError) Unwrap() error {
	return e.Cause
}

func newParseError(language, message string, cause error) *ParseError {
	return &ParseError{Language: language, Message: message, Cause: cause}
}
