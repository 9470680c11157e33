package query

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

var parseTests = []struct {
	in   string
	want string
}{
	{"hetchins", "hetchins"},
	{"Hetchins", "hetchins"},
	{"Hetchins Masi", "(hetchins AND masi)"},
	{"Hetchins AND Masi", "(hetchins AND masi)"},
	{"masi hetchins", "(hetchins AND masi)"},
	{"a OR b", "(a OR b)"},
	{"a OR b c", "((b AND c) OR a)"},
	{"a b OR c", "((a AND b) OR c)"},
	{"(a OR b) c", "((a OR b) AND c)"},
	{"(a OR b) AND (c OR d)", "((a OR b) AND (c OR d))"},
	{"(a AND b) AND c", "(a AND b AND c)"},
	{"a OR (b OR c)", "(a OR b OR c)"},
	{"a a", "a"},
	{"(a)", "a"},
	{"((a))", "a"},
	{"NOT a", "NOT a"},
	{"-a", "NOT a"},
	{"-a b", "(NOT a AND b)"},
	{"NOT NOT a", "a"},
	{"--a", "a"},
	{"NOT (a OR b)", "NOT (a OR b)"},
	{"NOT a OR b", "(NOT a OR b)"},
	{"a -(b c)", "(NOT (b AND c) AND a)"},
	{"-(a OR b)", "NOT (a OR b)"},
	{"a -(b OR c)", "(NOT (b OR c) AND a)"},
	{"-(-a)", "a"},
	{`a -"b c"`, `(NOT "b c" AND a)`},
	{"a and b", "(a AND and AND b)"},
	{"not or", "(not AND or)"},
	{`"top tube" lugs`, `("top tube" AND lugs)`},
	{`"Top   Tube"`, `"top tube"`},
	{`"Nervex"`, "nervex"},
	{"top-tube", `"top tube"`},
	{"Cinéllì", "cinelli"},
	{"Rene's", "renes"},
	{`-"top tube"`, `NOT "top tube"`},
	{"a-b", `"a b"`},
	{"tire(s)", "(s AND tire)"},
}

func TestParse(t *testing.T) {
	for _, test := range parseTests {
		n, err := Parse(test.in)
		if err != nil {
			t.Errorf("Parse(%q): %v", test.in, err)
			continue
		}
		if got := n.String(); got != test.want {
			t.Errorf("Parse(%q)=%s, want %s", test.in, got, test.want)
		}
	}
}

func TestParseCanonical(t *testing.T) {
	// Equivalent queries share a canonical form.
	groups := [][]string{
		{"a b c", "c AND b AND a", "(a b) c", "a (b c)", "c a b a"},
		{"a OR b", "b OR a", "(b) OR (a)", "a OR b OR a"},
		{"a -b", "NOT b AND a", "-b a", "a NOT NOT NOT b"},
	}
	for _, g := range groups {
		var want string
		for i, q := range g {
			n, err := Parse(q)
			if err != nil {
				t.Fatalf("Parse(%q): %v", q, err)
			}
			if i == 0 {
				want = n.String()
			} else if got := n.String(); got != want {
				t.Errorf("Parse(%q)=%s, want %s (as %q)", q, got, want, g[0])
			}
		}
	}
}

func TestParseTree(t *testing.T) {
	n, err := Parse(`hetchins (curly OR "vi-locity") -replica`)
	if err != nil {
		t.Fatal(err)
	}
	want := And{Children: []Node{
		Or{Children: []Node{
			Phrase{Words: []string{"vi", "locity"}},
			Term{Word: "curly"},
		}},
		Not{Child: Term{Word: "replica"}},
		Term{Word: "hetchins"},
	}}
	if diff := cmp.Diff(Node(want), n); diff != "" {
		t.Errorf("Parse mismatch (-want +got):\n%s", diff)
	}
}

var parseErrorTests = []struct {
	in  string
	pos int
	msg string
}{
	{"(", 1, "unexpected end of query"},
	{"()", 1, "empty group"},
	{"(a", 2, "missing ')'"},
	{"a)", 1, "unexpected ')'"},
	{"a OR", 4, "missing operand after OR"},
	{"a AND", 5, "missing operand after AND"},
	{"a OR OR b", 5, "missing operand after OR"},
	{"AND a", 0, "unexpected AND"},
	{"OR", 0, "unexpected OR"},
	{"NOT", 3, "missing operand after NOT"},
	{"a NOT", 5, "missing operand after NOT"},
	{`"unterminated`, 0, "unterminated phrase"},
	{`a "b`, 2, "unterminated phrase"},
	{"!!!", 0, "no searchable text in word"},
	{`a ""`, 2, "no searchable text in phrase"},
	{"- a", 0, "no searchable text in word"},
	{strings.Repeat("(", 40) + "a" + strings.Repeat(")", 40), 33, "query too deeply nested"},
}

func TestParseError(t *testing.T) {
	for _, test := range parseErrorTests {
		n, err := Parse(test.in)
		if err == nil {
			t.Errorf("Parse(%q)=%v, want error", test.in, n)
			continue
		}
		var perr *ParseError
		if !errors.As(err, &perr) {
			t.Errorf("Parse(%q) error %v is not a *ParseError", test.in, err)
			continue
		}
		if perr.Pos != test.pos || perr.Msg != test.msg {
			t.Errorf("Parse(%q) error=%q at %d, want %q at %d", test.in, perr.Msg, perr.Pos, test.msg, test.pos)
		}
	}
}

func TestParseEmpty(t *testing.T) {
	for _, in := range []string{"", "   ", "\t\n"} {
		if _, err := Parse(in); err != ErrEmpty {
			t.Errorf("Parse(%q) err=%v, want ErrEmpty", in, err)
		}
	}
}

func TestScanner(t *testing.T) {
	s := NewScanner(`NOT (a OR "b c") -d and`)
	var got []string
	for s.Next() {
		got = append(got, s.Token.String()+":"+s.Value)
	}
	want := []string{
		"NOT:NOT", "'(':", "word:a", "OR:OR", `phrase:b c`, "')':",
		"'-':", "word:d", "word:and",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("scan mismatch (-want +got):\n%s", diff)
	}
	if s.Token != TokenEnd {
		t.Errorf("final token %v, want %v", s.Token, TokenEnd)
	}
}

func TestScannerMinusGroup(t *testing.T) {
	s := NewScanner(`-(a) - b -) x-y`)
	var got []string
	for s.Next() {
		got = append(got, s.Token.String()+":"+s.Value)
	}
	want := []string{
		"'-':", "'(':", "word:a", "')':",
		"word:-", "word:b", "word:-", "')':", "word:x-y",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("scan mismatch (-want +got):\n%s", diff)
	}
}

func TestTerms(t *testing.T) {
	n, err := Parse(`hetchins "curly stays" -replica OR (masi NOT paint)`)
	if err != nil {
		t.Fatal(err)
	}
	got := Terms(n)
	want := []string{"curly", "stays", "hetchins", "masi"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Terms(%s) mismatch (-want +got):\n%s", n, diff)
	}
}
