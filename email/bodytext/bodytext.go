// Package bodytext derives the display and search text of a message.
package bodytext

import (
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strings"

	"crarchive.org/email"
	"crarchive.org/html/htmltext"
)

// Body is the text of a message body.
type Body struct {
	Text     string      // LF line endings, trailing space trimmed
	HTML     *email.Part // HTML body part, nil if there is none
	FromHTML bool        // Text was converted from HTML
}

// Extract chooses the text of msg.
// A non-empty text/plain body is preferred, otherwise the
// HTML body is converted to text.
func Extract(msg *email.Msg) (Body, error) {
	var body Body
	body.HTML = msg.Body("text/html")

	if p := msg.Body("text/plain"); p != nil {
		b, err := readPart(p)
		if err != nil {
			return Body{}, fmt.Errorf("bodytext.Extract: %v", err)
		}
		body.Text = Clean(string(b))
		if body.Text != "" || body.HTML == nil {
			return body, nil
		}
	}
	if body.HTML == nil {
		return body, nil
	}

	b, err := readPart(body.HTML)
	if err != nil {
		return Body{}, fmt.Errorf("bodytext.Extract: %v", err)
	}
	buf := new(bytes.Buffer)
	if err := htmltext.PlainText(buf, bytes.NewReader(b)); err != nil {
		return Body{}, fmt.Errorf("bodytext.Extract: html: %v", err)
	}
	body.Text = Clean(buf.String())
	body.FromHTML = true
	return body, nil
}

func readPart(p *email.Part) ([]byte, error) {
	if p.Content == nil {
		return nil, nil
	}
	if _, err := p.Content.Seek(0, 0); err != nil {
		return nil, err
	}
	return io.ReadAll(p.Content)
}

// Clean normalizes line endings to LF, removes trailing white space
// from each line and drops leading and trailing blank lines.
func Clean(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t\u00a0")
	}
	for len(lines) > 0 && lines[0] == "" {
		lines = lines[1:]
	}
	for len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines, "\n")
}

// Trimmer removes list footers and other boilerplate from message text.
//
// Each pattern is a regular expression matched in multi-line mode.
// The text is cut at the earliest match.
type Trimmer struct {
	patterns []*regexp.Regexp
}

// NewTrimmer compiles footer patterns.
func NewTrimmer(patterns []string) (*Trimmer, error) {
	t := &Trimmer{}
	for _, p := range patterns {
		re, err := regexp.Compile("(?m)" + p)
		if err != nil {
			return nil, fmt.Errorf("bodytext.NewTrimmer: %q: %v", p, err)
		}
		t.patterns = append(t.patterns, re)
	}
	return t, nil
}

// Trim cuts text at the first footer.
// A nil Trimmer returns text unchanged.
func (t *Trimmer) Trim(text string) string {
	if t == nil {
		return text
	}
	cut := len(text)
	for _, re := range t.patterns {
		if loc := re.FindStringIndex(text); loc != nil && loc[0] < cut {
			cut = loc[0]
		}
	}
	if cut == len(text) {
		return text
	}
	return Clean(text[:cut])
}
