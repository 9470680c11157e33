// Package htmltext converts HTML mail bodies to plain text.
package htmltext

import (
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// PlainText processes HTML into plain text.
//
// Block elements start a new line, paragraphs are separated by a
// blank line and white space is collapsed outside <pre>.
// The content of script, style, head and title elements is dropped.
// Newlines are LF.
func PlainText(dst io.Writer, src io.Reader) error {
	z := html.NewTokenizer(src)
	w := &textWriter{dst: dst}
	skipDepth := 0
	preDepth := 0
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			if err := z.Err(); err != io.EOF {
				return err
			}
			return w.err
		case html.TextToken:
			if skipDepth > 0 {
				continue
			}
			w.text(z.Text(), preDepth > 0)
		case html.StartTagToken, html.SelfClosingTagToken:
			tn, _ := z.TagName()
			a := atom.Lookup(tn)
			switch a {
			case atom.Script, atom.Style, atom.Head, atom.Title:
				if tt == html.StartTagToken {
					skipDepth++
				}
			case atom.Pre:
				preDepth++
				w.breakLines(2)
			case atom.Br:
				w.lineBreak()
			case atom.Img:
				if alt := attr(z, "alt"); alt != "" {
					w.text([]byte("["+alt+"]"), false)
				}
			default:
				w.breakLines(blockBreak(a))
			}
		case html.EndTagToken:
			tn, _ := z.TagName()
			a := atom.Lookup(tn)
			switch a {
			case atom.Script, atom.Style, atom.Head, atom.Title:
				if skipDepth > 0 {
					skipDepth--
				}
			case atom.Pre:
				if preDepth > 0 {
					preDepth--
				}
				w.breakLines(2)
			default:
				w.breakLines(blockBreak(a))
			}
		}
		if w.err != nil {
			return w.err
		}
	}
}

// blockBreak reports how many line breaks surround an element.
func blockBreak(a atom.Atom) int {
	switch a {
	case atom.P, atom.Blockquote, atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6,
		atom.Table, atom.Ul, atom.Ol, atom.Hr:
		return 2
	case atom.Div, atom.Li, atom.Tr, atom.Dt, atom.Dd, atom.Center, atom.Address:
		return 1
	}
	return 0
}

func attr(z *html.Tokenizer, name string) string {
	for {
		k, v, more := z.TagAttr()
		if string(k) == name {
			return string(v)
		}
		if !more {
			return ""
		}
	}
}

type textWriter struct {
	dst     io.Writer
	err     error
	started bool // some text has been written
	nl      int  // newlines ending the output
	pending int  // newlines required before the next text
	space   bool // a space is owed before the next text
}

func (w *textWriter) write(b []byte) {
	if w.err != nil {
		return
	}
	_, w.err = w.dst.Write(b)
}

func (w *textWriter) breakLines(n int) {
	if n > w.pending {
		w.pending = n
	}
}

// lineBreak handles <br>. Two in a row make a blank line.
func (w *textWriter) lineBreak() {
	n := w.pending
	if w.nl > n {
		n = w.nl
	}
	n++
	if n > 2 {
		n = 2
	}
	w.pending = n
}

func (w *textWriter) flush() {
	if w.started {
		for ; w.nl < w.pending; w.nl++ {
			w.write(newline)
		}
	}
	w.pending = 0
}

func (w *textWriter) text(b []byte, pre bool) {
	s := strings.ReplaceAll(string(b), "\u00a0", " ")
	if pre {
		if s == "" {
			return
		}
		w.flush()
		w.write([]byte(s))
		w.started = true
		w.nl = len(s) - len(strings.TrimRight(s, "\n"))
		if w.nl > 2 {
			w.nl = 2
		}
		w.space = false
		return
	}
	fields := strings.Fields(s)
	if len(fields) == 0 {
		if s != "" {
			w.space = true
		}
		return
	}
	leading := strings.TrimLeft(s, " \t\r\n") != s
	trailing := strings.TrimRight(s, " \t\r\n") != s
	w.flush()
	if w.started && w.nl == 0 && (w.space || leading) {
		w.write(space)
	}
	w.write([]byte(strings.Join(fields, " ")))
	w.started = true
	w.nl = 0
	w.space = trailing
}

var (
	newline = []byte{'\n'}
	space   = []byte{' '}
)
