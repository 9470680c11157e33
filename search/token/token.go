// Package token splits text into normalized search terms.
//
// Indexing and query parsing both use Tokenize, so a query word
// matches the terms stored for the same word in a message.
package token

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// MaxLen is the maximum length of a term in runes.
// Longer tokens are truncated.
const MaxLen = 64

// fold decomposes text and removes combining marks,
// so "Cinéllì" becomes "Cinelli".
// A chain holds state, so each call builds its own.
func fold() transform.Transformer {
	return transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
}

// Tokenize splits text into lower-case terms of letters and digits.
// Apostrophes inside a word are dropped: "Rene's" is "renes".
func Tokenize(text string) []string {
	s, _, err := transform.String(fold(), text)
	if err != nil {
		s = text
	}
	var toks []string
	var cur []rune
	emit := func() {
		if len(cur) > 0 {
			if len(cur) > MaxLen {
				cur = cur[:MaxLen]
			}
			toks = append(toks, string(cur))
		}
		cur = cur[:0]
	}
	rs := []rune(s)
	for i, r := range rs {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			cur = append(cur, unicode.ToLower(r))
		case isApostrophe(r) && len(cur) > 0 && i+1 < len(rs) && isWordRune(rs[i+1]):
			// inside a word
		default:
			emit()
		}
	}
	emit()
	return toks
}

// Terms reports the distinct terms of text in first-seen order.
func Terms(text string) []string {
	seen := make(map[string]bool)
	var terms []string
	for _, t := range Tokenize(text) {
		if !seen[t] {
			seen[t] = true
			terms = append(terms, t)
		}
	}
	return terms
}

// Normalize joins the tokens of text with single spaces.
func Normalize(text string) string {
	return strings.Join(Tokenize(text), " ")
}

func isApostrophe(r rune) bool {
	return r == '\'' || r == '’' || r == 'ʼ'
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}
