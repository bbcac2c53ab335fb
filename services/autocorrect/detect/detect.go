// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package detect scans source files for known anti-patterns and structural
// anomalies and turns each finding into a trigger.
package detect

import (
	"context"
	"log/slog"
	"sort"

	"github.com/AleutianAI/autocorrect/services/autocorrect/ast"
	"github.com/AleutianAI/autocorrect/services/autocorrect/failure"
	"github.com/AleutianAI/autocorrect/services/autocorrect/trigger"
)

// DefaultMaxAnomalies caps anomaly triggers per file; recovery from one
// syntax error often produces a cascade of ERROR nodes.
const DefaultMaxAnomalies = 8

// Finding is one pattern match.
type Finding struct {
	Pattern string
	Span    ast.Span
	Message string
}

// Detector finds one pattern in a syntax tree.
type Detector interface {
	// ID returns the pattern id carried by the resulting triggers.
	ID() string

	// Languages returns the languages the detector understands.
	Languages() []string

	// Detect returns the pattern's findings in source order.
	Detect(tree *ast.SyntaxTree) []Finding
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithDetectors replaces the default detectors.
func WithDetectors(ds ...Detector) Option {
	return func(s *Scanner) { s.detectors = ds }
}

// WithMaxAnomalies sets the anomaly cap; 0 disables anomaly triggers.
func WithMaxAnomalies(n int) Option {
	return func(s *Scanner) { s.maxAnomalies = n }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scanner) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Scanner produces PatternDetection and AstAnalysis triggers for a file.
//
// Thread Safety: Safe for concurrent use.
type Scanner struct {
	parsers      *ast.ParserRegistry
	detectors    []Detector
	maxAnomalies int
	logger       *slog.Logger
}

// NewScanner creates a scanner with the built-in detectors.
func NewScanner(parsers *ast.ParserRegistry, opts ...Option) (*Scanner, error) {
	if parsers == nil {
		return nil, failure.New(failure.KindConfiguration, "detect.NewScanner", "nil parser registry")
	}
	s := &Scanner{
		parsers:      parsers,
		detectors:    Defaults(),
		maxAnomalies: DefaultMaxAnomalies,
		logger:       slog.Default().With("component", "detect"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Defaults returns the built-in detectors.
func Defaults() []Detector {
	return []Detector{ErrorfWrap{}, EmptyErrorBranch{}, StringConcatLoop{}}
}

// Supports reports whether path has a registered parser.
func (s *Scanner) Supports(path string) bool {
	_, err := s.parsers.ForPath(path)
	return err == nil
}

// Scan parses content and returns one trigger per finding, ordered by
// span start.
//
// Outputs:
//
//	[]*trigger.Trigger - Pattern triggers followed by anomaly triggers at
//	                     equal offsets.
//	error - AstAnalysis failure when the file cannot be parsed at all.
func (s *Scanner) Scan(ctx context.Context, path string, content []byte) ([]*trigger.Trigger, error) {
	const op = "detect.Scan"
	parser, err := s.parsers.ForPath(path)
	if err != nil {
		return nil, failure.Wrap(failure.KindAstAnalysis, op, err)
	}
	tree, diags, err := parser.Parse(ctx, content)
	if err != nil {
		return nil, failure.Wrap(failure.KindAstAnalysis, op, err)
	}

	var out []*trigger.Trigger
	for _, d := range s.detectors {
		if !supports(d, tree.Language) {
			continue
		}
		for _, f := range d.Detect(tree) {
			t, err := trigger.New(path, content, f.Span, trigger.Pattern{ID: d.ID(), Message: f.Message})
			if err != nil {
				s.logger.Warn("finding dropped", "pattern", d.ID(), "file", path, "error", err)
				continue
			}
			out = append(out, t)
		}
	}

	for i, d := range diags {
		if i >= s.maxAnomalies {
			s.logger.Debug("anomalies capped", "file", path, "total", len(diags), "cap", s.maxAnomalies)
			break
		}
		t, err := trigger.New(path, content, d.Span, trigger.Anomaly{NodeType: d.NodeType, Message: d.Message, Missing: d.Missing})
		if err != nil {
			s.logger.Warn("anomaly dropped", "file", path, "error", err)
			continue
		}
		out = append(out, t)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Span().Start < out[j].Span().Start })
	return out, nil
}

func supports(d Detector, language string) bool {
	for _, l := range d.Languages() {
		if l == language {
			return true
		}
	}
	return false
}
