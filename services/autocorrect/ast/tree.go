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
	sitter "github.com/smacker/go-tree-sitter"
)

// Node is one node of an immutable syntax tree.
//
// Nodes are copied out of the tree-sitter tree at parse time so that the
// tree-sitter memory can be released immediately and the result can be
// cached and shared between goroutines. Fields must not be modified.
type Node struct {
	// ID is the node's pre-order index in SyntaxTree.Nodes.
	ID int

	// Type is the grammar symbol, e.g. "call_expression" or "ERROR".
	Type string

	// Field is the grammar field name under the parent, e.g. "function".
	Field string

	// Named is false for anonymous tokens like "(" or "func".
	Named bool

	// Span is the byte range covered by the node.
	Span Span

	// StartPos and EndPos are the 1-based positions of Span.
	StartPos Position
	EndPos   Position

	// IsError marks an ERROR node; IsMissing marks a token the parser
	// inserted to recover from a syntax error.
	IsError   bool
	IsMissing bool

	// Depth is 0 for the root.
	Depth int

	Parent   *Node
	Children []*Node
}

// NamedChildren returns the node's named children.
func (n *Node) NamedChildren() []*Node {
	out := make([]*Node, 0, len(n.Children))
	for _, c := range n.Children {
		if c.Named {
			out = append(out, c)
		}
	}
	return out
}

// ChildByField returns the first child with the given field name.
func (n *Node) ChildByField(field string) *Node {
	for _, c := range n.Children {
		if c.Field == field {
			return c
		}
	}
	return nil
}

// Ancestor returns the nearest ancestor (or the node itself) of one of the
// given types, or nil.
func (n *Node) Ancestor(types ...string) *Node {
	for cur := n; cur != nil; cur = cur.Parent {
		for _, t := range types {
			if cur.Type == t {
				return cur
			}
		}
	}
	return nil
}

// TopLevel returns the child of the root that contains n. The root itself
// returns nil.
func (n *Node) TopLevel() *Node {
	cur := n
	for cur != nil && cur.Parent != nil && cur.Parent.Parent != nil {
		cur = cur.Parent
	}
	if cur == nil || cur.Parent == nil {
		return nil
	}
	return cur
}

// Descendants returns the descendants of n with one of the given types, in
// source order. n itself is not included.
func (n *Node) Descendants(types ...string) []*Node {
	var out []*Node
	var walk func(*Node)
	walk = func(cur *Node) {
		for _, c := range cur.Children {
			for _, t := range types {
				if c.Type == t {
					out = append(out, c)
					break
				}
			}
			walk(c)
		}
	}
	walk(n)
	return out
}

// HasSyntaxError reports whether n or any descendant is ERROR or MISSING.
func (n *Node) HasSyntaxError() bool {
	if n.IsError || n.IsMissing {
		return true
	}
	for _, c := range n.Children {
		if c.HasSyntaxError() {
			return true
		}
	}
	return false
}

// ParseDiagnostic describes one syntax problem found by the parser.
type ParseDiagnostic struct {
	Span     Span     `json:"span"`
	Position Position `json:"position"`
	Message  string   `json:"message"`

	// Missing is true when the parser recovered by inserting a token of
	// type NodeType; false for ERROR (unexpected input) diagnostics.
	Missing  bool   `json:"missing"`
	NodeType string `json:"node_type"`
}

// SyntaxTree is an immutable parse result.
//
// Thread Safety: Safe for concurrent reads.
type SyntaxTree struct {
	Language string
	Root     *Node

	// Nodes holds every node in pre-order; Nodes[i].ID == i.
	Nodes []*Node

	Source []byte
	Map    *SourceMap

	// Hash is the hex SHA-256 of Source.
	Hash string
}

// Text returns the source text covered by n.
func (t *SyntaxTree) Text(n *Node) string {
	if n == nil {
		return ""
	}
	return string(t.Source[n.Span.Start:n.Span.End])
}

// Slice returns the source text covered by span, clamped to the source.
func (t *SyntaxTree) Slice(span Span) string {
	start, end := span.Start, span.End
	if start < 0 {
		start = 0
	}
	if end > len(t.Source) {
		end = len(t.Source)
	}
	if start > end {
		return ""
	}
	return string(t.Source[start:end])
}

// NodeAt returns the smallest named node whose span contains span.
//
// For zero-length spans the node immediately enclosing the offset is
// returned. Returns nil when span lies outside the source.
func (t *SyntaxTree) NodeAt(span Span) *Node {
	if t.Root == nil || !span.Valid() || span.End > len(t.Source) {
		return nil
	}
	best := t.Root
	for {
		next := (*Node)(nil)
		for _, c := range best.Children {
			if !c.Span.Contains(span) {
				continue
			}
			// Anonymous tokens are never returned.
			if c.Named || c.IsMissing {
				next = c
				break
			}
		}
		if next == nil {
			return best
		}
		best = next
	}
}

// Diagnostics returns one ParseDiagnostic per ERROR or MISSING node, in
// source order.
func (t *SyntaxTree) Diagnostics() []ParseDiagnostic {
	var out []ParseDiagnostic
	for _, n := range t.Nodes {
		switch {
		case n.IsMissing:
			out = append(out, ParseDiagnostic{
				Span: n.Span, Position: n.StartPos, Missing: true, NodeType: n.Type,
				Message: "missing " + n.Type,
			})
		case n.IsError:
			out = append(out, ParseDiagnostic{
				Span: n.Span, Position: n.StartPos, NodeType: n.Type,
				Message: "unexpected " + quoteSnippet(t.Text(n)),
			})
		}
	}
	return out
}

// HasError reports whether the tree contains any ERROR or MISSING node.
func (t *SyntaxTree) HasError() bool {
	return t.Root != nil && t.Root.HasSyntaxError()
}

func quoteSnippet(s string) string {
	const limit = 24
	if len(s) > limit {
		s = s[:limit] + "..."
	}
	return "\"" + s + "\""
}

// =============================================================================
// Conversion from tree-sitter
// =============================================================================

// buildTree copies a tree-sitter tree into the package's own node types.
func buildTree(language string, root *sitter.Node, source []byte, hash string) *SyntaxTree {
	tree := &SyntaxTree{
		Language: language,
		Source:   source,
		Map:      NewSourceMap(source),
		Hash:     hash,
	}
	tree.Root = tree.copyNode(root, nil, "", 0)
	return tree
}

func (t *SyntaxTree) copyNode(sn *sitter.Node, parent *Node, field string, depth int) *Node {
	start, end := int(sn.StartByte()), int(sn.EndByte())
	sp, ep := sn.StartPoint(), sn.EndPoint()
	n := &Node{
		ID:        len(t.Nodes),
		Type:      sn.Type(),
		Field:     field,
		Named:     sn.IsNamed(),
		Span:      Span{Start: start, End: end},
		StartPos:  Position{Line: int(sp.Row) + 1, Column: int(sp.Column) + 1},
		EndPos:    Position{Line: int(ep.Row) + 1, Column: int(ep.Column) + 1},
		IsError:   sn.IsError(),
		IsMissing: sn.IsMissing(),
		Depth:     depth,
		Parent:    parent,
	}
	t.Nodes = append(t.Nodes, n)

	count := int(sn.ChildCount())
	if count > 0 {
		n.Children = make([]*Node, 0, count)
	}
	for i := 0; i < count; i++ {
		child := sn.Child(i)
		if child == nil {
			continue
		}
		n.Children = append(n.Children, t.copyNode(child, n, sn.FieldNameForChild(i), depth+1))
	}
	return n
}
