// Package query parses boolean search queries.
//
// The grammar, from lowest to highest precedence:
//
//	query   = or EOF
//	or      = and { "OR" and }
//	and     = unary { ["AND"] unary }
//	unary   = ("NOT" | "-") unary | primary
//	primary = "(" or ")" | PHRASE | WORD
//
// Adjacent terms are joined by AND. Words are normalized with the
// search tokenizer: a word of several tokens, such as "top-tube",
// is a phrase.
//
// Parsed queries are simplified: nested ANDs and ORs are flattened,
// duplicate operands removed, operands sorted and double negations
// cancelled. The String form of a simplified query is canonical.
package query

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Node is a node of a parsed query.
type Node interface {
	String() string
	node()
}

// Term matches pages containing a word.
type Term struct {
	Word string
}

// Phrase matches pages with a fragment containing every word.
type Phrase struct {
	Words []string
}

// And matches pages matching every child.
type And struct {
	Children []Node
}

// Or matches pages matching any child.
type Or struct {
	Children []Node
}

// Not matches pages that do not match Child.
type Not struct {
	Child Node
}

func (Term) node()   {}
func (Phrase) node() {}
func (And) node()    {}
func (Or) node()     {}
func (Not) node()    {}

func (n Term) String() string   { return n.Word }
func (n Phrase) String() string { return `"` + strings.Join(n.Words, " ") + `"` }
func (n Not) String() string    { return "NOT " + n.Child.String() }
func (n And) String() string    { return joinNodes(n.Children, " AND ") }
func (n Or) String() string     { return joinNodes(n.Children, " OR ") }

func joinNodes(nodes []Node, sep string) string {
	strs := make([]string, len(nodes))
	for i, n := range nodes {
		strs[i] = n.String()
	}
	return "(" + strings.Join(strs, sep) + ")"
}

// ErrEmpty is returned by Parse for a query with no tokens.
var ErrEmpty = errors.New("query: empty query")

// ParseError reports a malformed query.
type ParseError struct {
	Pos int // byte offset in the query
	Msg string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("query: %s at offset %d", e.Msg, e.Pos)
}

// MaxDepth is the maximum nesting of parentheses and negations.
const MaxDepth = 32

// Terms reports the words of the positive terms and phrases of n,
// in the order they appear in its String form.
// They are the words to highlight in a search result.
func Terms(n Node) []string {
	var words []string
	seen := make(map[string]bool)
	add := func(w string) {
		if !seen[w] {
			seen[w] = true
			words = append(words, w)
		}
	}
	var walk func(n Node)
	walk = func(n Node) {
		switch n := n.(type) {
		case Term:
			add(n.Word)
		case Phrase:
			for _, w := range n.Words {
				add(w)
			}
		case And:
			for _, c := range n.Children {
				walk(c)
			}
		case Or:
			for _, c := range n.Children {
				walk(c)
			}
		}
	}
	walk(n)
	return words
}

// Simplify returns the canonical form of n.
func Simplify(n Node) Node {
	switch n := n.(type) {
	case Not:
		c := Simplify(n.Child)
		if nn, ok := c.(Not); ok {
			return nn.Child
		}
		return Not{Child: c}
	case And:
		children := flatten(n.Children, func(c Node) ([]Node, bool) {
			a, ok := c.(And)
			return a.Children, ok
		})
		if len(children) == 1 {
			return children[0]
		}
		return And{Children: children}
	case Or:
		children := flatten(n.Children, func(c Node) ([]Node, bool) {
			o, ok := c.(Or)
			return o.Children, ok
		})
		if len(children) == 1 {
			return children[0]
		}
		return Or{Children: children}
	case Phrase:
		if len(n.Words) == 1 {
			return Term{Word: n.Words[0]}
		}
	}
	return n
}

// flatten simplifies children, splices in the children of nested
// nodes of the same kind, removes duplicates and sorts.
func flatten(children []Node, same func(Node) ([]Node, bool)) []Node {
	var out []Node
	seen := make(map[string]bool)
	var add func(list []Node)
	add = func(list []Node) {
		for _, c := range list {
			c = Simplify(c)
			if inner, ok := same(c); ok {
				add(inner)
				continue
			}
			key := c.String()
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, c)
		}
	}
	add(children)
	sort.SliceStable(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}
