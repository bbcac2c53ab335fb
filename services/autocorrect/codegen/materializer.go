// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package codegen turns correction candidates into validated edits.
//
// A candidate is materialized against the exact content its analysis
// context was built from. Only the top-level region the edit touches is
// re-parsed, which keeps validation cheap on large files and keeps
// unrelated syntax errors elsewhere in the file from failing the edit.
package codegen

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/autocorrect/services/autocorrect/analysis"
	"github.com/AleutianAI/autocorrect/services/autocorrect/ast"
	"github.com/AleutianAI/autocorrect/services/autocorrect/failure"
	"github.com/AleutianAI/autocorrect/services/autocorrect/fix"
)

// goPackagePrelude is prepended to Go regions that do not contain the
// package clause so they parse as a file.
const goPackagePrelude = "package p\n\n"

// Materializer validates candidates by applying them in memory.
//
// Thread Safety: Safe for concurrent use. Parsers are stateless.
type Materializer struct {
	parsers *ast.ParserRegistry
	logger  *slog.Logger
}

// MaterializerOption configures a Materializer.
type MaterializerOption func(*Materializer)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) MaterializerOption {
	return func(m *Materializer) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewMaterializer creates a materializer using parsers for re-parsing.
func NewMaterializer(parsers *ast.ParserRegistry, opts ...MaterializerOption) (*Materializer, error) {
	if parsers == nil {
		return nil, failure.New(failure.KindConfiguration, "codegen.NewMaterializer", "parser registry is nil")
	}
	m := &Materializer{
		parsers: parsers,
		logger:  slog.Default().With("component", "codegen"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Materialize applies cand to the context's content and validates it.
//
// Description:
//
//	Checks the edit precondition, applies the edit to the enclosing
//	top-level region and re-parses that region. A region that does not
//	re-parse cleanly produces an invalid ValidatedEdit at Unsafe together
//	with a CodeGeneration failure. The candidate's confidence is never
//	modified. Valid edits carry their shape and a unified diff of the file.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	cand - The candidate to materialize.
//	actx - The analysis context the candidate was proposed against.
//
// Outputs:
//
//	*fix.ValidatedEdit - Always non-nil unless ctx is done.
//	error - CodeGeneration failure for invalid edits, or ctx's error.
func (m *Materializer) Materialize(ctx context.Context, cand fix.Candidate, actx *analysis.Context) (*fix.ValidatedEdit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ve := &fix.ValidatedEdit{Candidate: cand, Safety: cand.Safety}
	edit := cand.Edit
	if edit.File != actx.File {
		return m.invalid(ve, fmt.Sprintf("edit targets %s, context is %s", edit.File, actx.File))
	}

	content := actx.Source()
	patched, changed, err := edit.Apply(content)
	if err != nil {
		return m.invalid(ve, err.Error())
	}
	if !changed {
		return m.invalid(ve, "edit is already applied")
	}

	ve.Shape = ShapeOf(actx, edit)

	region := Region(actx.Tree(), edit.Span)
	if err := m.reparse(ctx, actx, region, edit); err != nil {
		var fe *failure.Error
		if errors.As(err, &fe) && fe.Kind == failure.KindCodeGeneration {
			return m.invalid(ve, fe.Message)
		}
		return nil, err
	}

	ve.Diff, err = UnifiedDiff(edit.File, content, patched)
	if err != nil {
		return m.invalid(ve, fmt.Sprintf("rendering diff: %v", err))
	}
	ve.Valid = true
	return ve, nil
}

func (m *Materializer) invalid(ve *fix.ValidatedEdit, reason string) (*fix.ValidatedEdit, error) {
	ve.Valid = false
	ve.Failure = reason
	ve.Safety = fix.Unsafe
	m.logger.Debug("candidate failed validation",
		slog.String("candidate", ve.Candidate.ID),
		slog.String("strategy", ve.Candidate.Strategy),
		slog.String("reason", reason))
	return ve, failure.New(failure.KindCodeGeneration, "codegen.Materialize", reason)
}

// reparse parses the patched region. Syntax errors come back as a
// CodeGeneration failure; a parser that cannot run returns its error.
func (m *Materializer) reparse(ctx context.Context, actx *analysis.Context, region ast.Span, edit fix.Edit) error {
	parser, ok := m.parsers.ForLanguage(actx.Language)
	if !ok {
		return failure.Newf(failure.KindCodeGeneration, "codegen.reparse", "no parser for %s", actx.Language)
	}

	content := actx.Source()
	var buf []byte
	prelude := 0
	if actx.Language == "go" && !containsPackageClause(actx.Tree(), region) {
		buf = append(buf, goPackagePrelude...)
		prelude = len(goPackagePrelude)
	}
	buf = append(buf, content[region.Start:edit.Span.Start]...)
	buf = append(buf, edit.NewText...)
	buf = append(buf, content[edit.Span.End:region.End]...)

	_, diags, err := parser.Parse(ctx, buf)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return failure.Newf(failure.KindCodeGeneration, "codegen.reparse", "re-parse failed: %v", err)
	}
	if len(diags) == 0 {
		return nil
	}

	d := diags[0]
	offset := region.Start + d.Span.Start - prelude
	if offset < region.Start {
		offset = region.Start
	}
	pos := actx.Position(min(offset, len(content)))
	return failure.Newf(failure.KindCodeGeneration, "codegen.reparse",
		"patched region does not parse: %s near %s", d.Message, pos)
}

// Region returns the span covering every top-level node the edit span
// touches, or the edit span itself when it touches none.
//
// Touching includes adjacency, so an insertion at the end of a declaration
// is validated together with that declaration.
func Region(tree *ast.SyntaxTree, span ast.Span) ast.Span {
	r := span
	if tree == nil || tree.Root == nil {
		return r
	}
	for _, top := range tree.Root.Children {
		if !top.Named && !top.IsError {
			continue
		}
		if top.Span.Start <= span.End && span.Start <= top.Span.End {
			r.Start = min(r.Start, top.Span.Start)
			r.End = max(r.End, top.Span.End)
		}
	}
	return r
}

func containsPackageClause(tree *ast.SyntaxTree, region ast.Span) bool {
	if tree == nil || tree.Root == nil {
		return false
	}
	for _, top := range tree.Root.Children {
		if top.Type == "package_clause" && region.Contains(top.Span) {
			return true
		}
	}
	return false
}
