// Package filter implements the filter engine (C6): a tree of predicate
// nodes evaluated against a document's attribute data.
//
// Grounded on bundoc/internal/query/ast.go's FieldNode/LogicalNode/Matcher
// shape (a map-to-AST parser plus a recursive Matches evaluator), generalized
// from bundoc's MVP operator set ($eq/$ne/$gt/$lt/$in) to the full set spec.md
// §4.5 requires, with strict (never-erroring) comparison semantics and
// numeric promotion via document.Compare instead of bundoc's
// fmt.Sprintf-based string coercion.
package filter

import (
	"regexp"

	"github.com/kartikbazzad/docstore/document"
)

// Op is a filter predicate operator.
type Op string

const (
	OpEq     Op = "Eq"
	OpNe     Op = "Ne"
	OpLt     Op = "Lt"
	OpLte    Op = "Lte"
	OpGt     Op = "Gt"
	OpGte    Op = "Gte"
	OpIn     Op = "In"
	OpNin    Op = "Nin"
	OpExists Op = "Exists"
	OpRegex  Op = "Regex"
	OpAnd    Op = "And"
	OpOr     Op = "Or"
	OpNot    Op = "Not"
)

// Node is one predicate in the filter tree. Exactly one of the
// shapes below is populated depending on Op:
//   - field comparisons (Eq/Ne/Lt/Lte/Gt/Gte): Path + Value
//   - In/Nin: Path + Values
//   - Exists: Path + Exists (the expected presence)
//   - Regex: Path + Pattern (compiled into re by RegexNode)
//   - And/Or: Children
//   - Not: Children[0]
type Node struct {
	Op       Op
	Path     string
	Value    document.Value
	Values   []document.Value
	Exists   bool
	Pattern  string
	Children []*Node

	re *regexp.Regexp
}

// Field builds a simple comparison node (Eq, Ne, Lt, Lte, Gt, Gte).
func Field(op Op, path string, value document.Value) *Node {
	return &Node{Op: op, Path: path, Value: value}
}

// InNode builds an In or Nin membership node.
func InNode(nin bool, path string, values []document.Value) *Node {
	op := OpIn
	if nin {
		op = OpNin
	}
	return &Node{Op: op, Path: path, Values: values}
}

// ExistsNode builds an Exists(true/false) node.
func ExistsNode(path string, exists bool) *Node {
	return &Node{Op: OpExists, Path: path, Exists: exists}
}

// RegexNode builds a Regex node, compiling pattern eagerly so Matches
// never writes to the node after construction — filter trees are shared
// across concurrent Matches calls once a scan is large enough to be
// evaluated in parallel (see cursor.filterAll), so the compiled *Regexp
// must be immutable, not lazily cached. An invalid pattern makes the
// node never match.
func RegexNode(path, pattern string) *Node {
	re, _ := regexp.Compile(pattern)
	return &Node{Op: OpRegex, Path: path, Pattern: pattern, re: re}
}

// And, Or combine two or more children.
func And(children ...*Node) *Node { return &Node{Op: OpAnd, Children: children} }
func Or(children ...*Node) *Node  { return &Node{Op: OpOr, Children: children} }

// NotNode inverts a single child.
func NotNode(child *Node) *Node { return &Node{Op: OpNot, Children: []*Node{child}} }

// Matches evaluates the tree against doc's data. A nil Node matches all
// documents, per spec.md §4.5's "an absent filter matches all".
func Matches(n *Node, data map[string]document.Value) bool {
	if n == nil {
		return true
	}
	switch n.Op {
	case OpAnd:
		for _, c := range n.Children {
			if !Matches(c, data) {
				return false
			}
		}
		return true
	case OpOr:
		for _, c := range n.Children {
			if Matches(c, data) {
				return true
			}
		}
		return false
	case OpNot:
		if len(n.Children) == 0 {
			return true
		}
		return !Matches(n.Children[0], data)
	case OpExists:
		_, ok := document.GetPath(data, n.Path)
		return ok == n.Exists
	case OpIn, OpNin:
		v, ok := document.GetPath(data, n.Path)
		if !ok {
			v = document.Null
		}
		found := false
		for _, cand := range n.Values {
			if document.Equal(v, cand) {
				found = true
				break
			}
		}
		if n.Op == OpIn {
			return found
		}
		return !found
	case OpRegex:
		v, ok := document.GetPath(data, n.Path)
		if !ok || v.Kind != document.KindString {
			return false
		}
		if n.re == nil {
			return false
		}
		return n.re.MatchString(v.Str)
	default:
		v, ok := document.GetPath(data, n.Path)
		if !ok {
			v = document.Null
		}
		return compare(n.Op, v, n.Value)
	}
}

// compare implements strict comparison: kind-incompatible comparisons
// (beyond numeric promotion) yield false rather than an error.
func compare(op Op, actual, expected document.Value) bool {
	switch op {
	case OpEq:
		return document.Equal(actual, expected)
	case OpNe:
		return !document.Equal(actual, expected)
	}

	if !comparable(actual, expected) {
		return false
	}
	c := document.Compare(actual, expected)
	switch op {
	case OpLt:
		return c < 0
	case OpLte:
		return c <= 0
	case OpGt:
		return c > 0
	case OpGte:
		return c >= 0
	}
	return false
}

// comparable reports whether ordering comparisons between a and b are
// meaningful: both numeric (with promotion), or identical kinds.
func comparable(a, b document.Value) bool {
	if a.IsNumeric() && b.IsNumeric() {
		return true
	}
	return a.Kind == b.Kind
}
