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
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// DefaultMaxFileSize is the default parse size limit (10MB).
const DefaultMaxFileSize = 10 * 1024 * 1024

// TreeSitterParser parses one language with a tree-sitter grammar.
type TreeSitterParser struct {
	language    string
	extensions  []string
	grammar     *sitter.Language
	maxFileSize int
}

// ParserOption configures a TreeSitterParser.
type ParserOption func(*TreeSitterParser)

// WithMaxFileSize sets the maximum content size in bytes.
func WithMaxFileSize(bytes int) ParserOption {
	return func(p *TreeSitterParser) {
		p.maxFileSize = bytes
	}
}

func newTreeSitterParser(language string, grammar *sitter.Language, exts []string, opts []ParserOption) *TreeSitterParser {
	p := &TreeSitterParser{
		language:    language,
		extensions:  exts,
		grammar:     grammar,
		maxFileSize: DefaultMaxFileSize,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewGoParser creates a Go parser.
func NewGoParser(opts ...ParserOption) *TreeSitterParser {
	return newTreeSitterParser("go", golang.GetLanguage(), []string{".go"}, opts)
}

// NewPythonParser creates a Python parser.
func NewPythonParser(opts ...ParserOption) *TreeSitterParser {
	return newTreeSitterParser("python", python.GetLanguage(), []string{".py", ".pyi"}, opts)
}

// NewJavaScriptParser creates a JavaScript parser.
func NewJavaScriptParser(opts ...ParserOption) *TreeSitterParser {
	return newTreeSitterParser("javascript", javascript.GetLanguage(), []string{".js", ".jsx", ".mjs", ".cjs"}, opts)
}

// NewTypeScriptParser creates a TypeScript parser.
func NewTypeScriptParser(opts ...ParserOption) *TreeSitterParser {
	return newTreeSitterParser("typescript", typescript.GetLanguage(), []string{".ts", ".mts", ".cts"}, opts)
}

// Language implements Parser.
func (p *TreeSitterParser) Language() string {
	return p.language
}

// Extensions implements Parser.
func (p *TreeSitterParser) Extensions() []string {
	out := make([]string, len(p.extensions))
	copy(out, p.extensions)
	return out
}

// Parse implements Parser.
func (p *TreeSitterParser) Parse(ctx context.Context, content []byte) (*SyntaxTree, []ParseDiagnostic, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	ctx, span := startParseSpan(ctx, p.language, len(content))
	defer span.End()
	start := time.Now()

	tree, diags, err := p.parse(ctx, content)
	recordParseMetrics(ctx, p.language, time.Since(start), len(diags), err == nil)
	if err != nil {
		span.RecordError(err)
		return nil, nil, err
	}
	return tree, diags, nil
}

func (p *TreeSitterParser) parse(ctx context.Context, content []byte) (*SyntaxTree, []ParseDiagnostic, error) {
	if len(content) > p.maxFileSize {
		return nil, nil, newParseError(p.language,
			fmt.Sprintf("%d bytes exceeds limit of %d", len(content), p.maxFileSize), ErrFileTooLarge)
	}
	if !utf8.Valid(content) {
		return nil, nil, newParseError(p.language, "content is not valid UTF-8", ErrInvalidContent)
	}

	sum := sha256.Sum256(content)
	hash := hex.EncodeToString(sum[:])

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(p.grammar)

	tsTree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, nil, newParseError(p.language, "tree-sitter parse", err)
	}
	if tsTree == nil {
		return nil, nil, newParseError(p.language, "no tree produced", ErrParseFailed)
	}
	defer tsTree.Close()

	tree := buildTree(p.language, tsTree.RootNode(), content, hash)
	return tree, tree.Diagnostics(), nil
}

var _ Parser = (*TreeSitterParser)(nil)
