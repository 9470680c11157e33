package query

import (
	"strings"

	"crarchive.org/search/token"
)

// Parse parses and simplifies a search query.
func Parse(src string) (Node, error) {
	if strings.TrimSpace(src) == "" {
		return nil, ErrEmpty
	}
	p := &parser{s: NewScanner(src)}
	p.next()
	n, err := p.parseOr(0)
	if err != nil {
		return nil, err
	}
	if p.s.Error != nil {
		return nil, p.s.Error
	}
	if p.s.Token != TokenEnd {
		return nil, p.error("unexpected " + p.s.Token.String())
	}
	return Simplify(n), nil
}

type parser struct {
	s *Scanner
}

func (p *parser) next() {
	p.s.Next()
}

func (p *parser) error(msg string) error {
	if p.s.Error != nil {
		return p.s.Error
	}
	return &ParseError{Pos: p.s.Pos, Msg: msg}
}

// or = and { "OR" and }
func (p *parser) parseOr(depth int) (Node, error) {
	n, err := p.parseAnd(depth)
	if err != nil {
		return nil, err
	}
	children := []Node{n}
	for p.s.Token == TokenOr {
		p.next()
		if !startsUnary(p.s.Token) {
			return nil, p.error("missing operand after OR")
		}
		n, err := p.parseAnd(depth)
		if err != nil {
			return nil, err
		}
		children = append(children, n)
	}
	if len(children) == 1 {
		return children[0], nil
	}
	return Or{Children: children}, nil
}

// and = unary { ["AND"] unary }
func (p *parser) parseAnd(depth int) (Node, error) {
	n, err := p.parseUnary(depth)
	if err != nil {
		return nil, err
	}
	children := []Node{n}
	for {
		if p.s.Token == TokenAnd {
			p.next()
			if !startsUnary(p.s.Token) {
				return nil, p.error("missing operand after AND")
			}
		} else if !startsUnary(p.s.Token) {
			break
		}
		n, err := p.parseUnary(depth)
		if err != nil {
			return nil, err
		}
		children = append(children, n)
	}
	if len(children) == 1 {
		return children[0], nil
	}
	return And{Children: children}, nil
}

func startsUnary(t Token) bool {
	switch t {
	case TokenWord, TokenPhrase, TokenOpen, TokenNot, TokenMinus:
		return true
	}
	return false
}

// unary = ("NOT" | "-") unary | primary
func (p *parser) parseUnary(depth int) (Node, error) {
	if depth > MaxDepth {
		return nil, p.error("query too deeply nested")
	}
	switch p.s.Token {
	case TokenNot, TokenMinus:
		op := p.s.Token
		p.next()
		if !startsUnary(p.s.Token) {
			return nil, p.error("missing operand after " + op.String())
		}
		n, err := p.parseUnary(depth + 1)
		if err != nil {
			return nil, err
		}
		return Not{Child: n}, nil
	}
	return p.parsePrimary(depth)
}

// primary = "(" or ")" | PHRASE | WORD
func (p *parser) parsePrimary(depth int) (Node, error) {
	switch p.s.Token {
	case TokenOpen:
		p.next()
		if p.s.Token == TokenClose {
			return nil, p.error("empty group")
		}
		n, err := p.parseOr(depth + 1)
		if err != nil {
			return nil, err
		}
		if p.s.Token != TokenClose {
			return nil, p.error("missing ')'")
		}
		p.next()
		return n, nil
	case TokenWord, TokenPhrase:
		pos, val := p.s.Pos, p.s.Value
		words := token.Tokenize(val)
		if len(words) == 0 {
			return nil, &ParseError{Pos: pos, Msg: "no searchable text in " + p.s.Token.String()}
		}
		p.next()
		if len(words) == 1 {
			return Term{Word: words[0]}, nil
		}
		return Phrase{Words: words}, nil
	}
	return nil, p.error("unexpected " + p.s.Token.String())
}
