package query

import (
	"fmt"
	"unicode"
	"unicode/utf8"
)

type Token int

const (
	TokenUnknown Token = iota
	TokenWord
	TokenPhrase
	TokenAnd
	TokenOr
	TokenNot
	TokenMinus // prefix negation, "-word"
	TokenOpen
	TokenClose
	TokenEnd
)

func (t Token) String() string {
	switch t {
	case TokenUnknown:
		return "unknown-token"
	case TokenWord:
		return "word"
	case TokenPhrase:
		return "phrase"
	case TokenAnd:
		return "AND"
	case TokenOr:
		return "OR"
	case TokenNot:
		return "NOT"
	case TokenMinus:
		return "'-'"
	case TokenOpen:
		return "'('"
	case TokenClose:
		return "')'"
	case TokenEnd:
		return "end of query"
	default:
		return fmt.Sprintf("Token(%d)", int(t))
	}
}

// Scanner splits a query into tokens.
//
// Operators are recognized only in upper case, so "and", "or" and
// "not" are ordinary words. A '-' that starts a word negates it.
// A '"' starts a phrase running to the next '"'.
type Scanner struct {
	src string
	off int

	Token Token
	Value string // text of a word or phrase
	Pos   int    // byte offset of the token in the query
	Error error
}

func NewScanner(src string) *Scanner {
	return &Scanner{src: src}
}

// Next advances to the next token.
// It reports false at the end of the query or on error.
func (s *Scanner) Next() bool {
	if s.Error != nil {
		return false
	}
	s.Value = ""
	for s.off < len(s.src) {
		r, size := utf8.DecodeRuneInString(s.src[s.off:])
		if !unicode.IsSpace(r) {
			break
		}
		s.off += size
	}
	s.Pos = s.off
	if s.off >= len(s.src) {
		s.Token = TokenEnd
		return false
	}

	switch c := s.src[s.off]; c {
	case '(':
		s.off++
		s.Token = TokenOpen
		return true
	case ')':
		s.off++
		s.Token = TokenClose
		return true
	case '"':
		end := s.off + 1
		for end < len(s.src) && s.src[end] != '"' {
			end++
		}
		if end >= len(s.src) {
			s.Token = TokenUnknown
			s.Error = &ParseError{Pos: s.off, Msg: "unterminated phrase"}
			return false
		}
		s.Value = s.src[s.off+1 : end]
		s.off = end + 1
		s.Token = TokenPhrase
		return true
	case '-':
		// A minus before a word, phrase or group negates it.
		if next := s.off + 1; next < len(s.src) && (s.src[next] == '(' || !isDelim(s.src[next])) {
			s.off++
			s.Token = TokenMinus
			return true
		}
	}

	start := s.off
	for s.off < len(s.src) {
		r, size := utf8.DecodeRuneInString(s.src[s.off:])
		if unicode.IsSpace(r) || r == '(' || r == ')' || r == '"' {
			break
		}
		s.off += size
	}
	s.Value = s.src[start:s.off]
	switch s.Value {
	case "AND":
		s.Token = TokenAnd
	case "OR":
		s.Token = TokenOr
	case "NOT":
		s.Token = TokenNot
	default:
		s.Token = TokenWord
	}
	return true
}

func isDelim(c byte) bool {
	switch c {
	case ' ', '\t', '\n', '\r', '(', ')':
		return true
	}
	return false
}
