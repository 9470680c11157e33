// Package htmlsafe strips an HTML document down to a small subset
// of HTML that is safe to embed in an archive page.
//
// The output is a fragment: document-level elements are removed,
// the content of scripts, styles and the document head is discarded,
// and every element left open by the input is closed.
package htmlsafe

import (
	"io"
	"net/url"
	"sort"
	"strings"

	"golang.org/x/net/html"
	a "golang.org/x/net/html/atom"
)

type Tag struct {
	Attrs []a.Atom
}

type Options struct {
	AllowedTags map[a.Atom]Tag
}

// Archive allows the markup used by the mail clients of the archive
// era. Styling, ids and classes are dropped so message markup cannot
// restyle or collide with the surrounding page.
var Archive = &Options{
	AllowedTags: map[a.Atom]Tag{
		a.A:          {Attrs: []a.Atom{a.Href, a.Title}},
		a.B:          {},
		a.Blockquote: {Attrs: []a.Atom{a.Cite}},
		a.Br:         {},
		a.Center:     {},
		a.Code:       {},
		a.Dd:         {},
		a.Div:        {Attrs: []a.Atom{a.Align, a.Dir}},
		a.Dl:         {},
		a.Dt:         {},
		a.Em:         {},
		a.Font:       {Attrs: []a.Atom{a.Color, a.Face, a.Size}},
		a.H1:         {Attrs: []a.Atom{a.Align, a.Dir}},
		a.H2:         {Attrs: []a.Atom{a.Align, a.Dir}},
		a.H3:         {Attrs: []a.Atom{a.Align, a.Dir}},
		a.H4:         {Attrs: []a.Atom{a.Align, a.Dir}},
		a.H5:         {Attrs: []a.Atom{a.Align, a.Dir}},
		a.H6:         {Attrs: []a.Atom{a.Align, a.Dir}},
		a.Hr:         {Attrs: []a.Atom{a.Align, a.Size, a.Width}},
		a.I:          {},
		a.Img:        {Attrs: []a.Atom{a.Align, a.Alt, a.Height, a.Src, a.Width}},
		a.Li:         {Attrs: []a.Atom{a.Dir, a.Type}},
		a.Ol:         {Attrs: []a.Atom{a.Dir, a.Type}},
		a.P:          {Attrs: []a.Atom{a.Align, a.Dir}},
		a.Pre:        {},
		a.S:          {},
		a.Small:      {},
		a.Span:       {},
		a.Strike:     {},
		a.Strong:     {},
		a.Sub:        {},
		a.Sup:        {},
		a.Table:      {Attrs: []a.Atom{a.Align, a.Width}},
		a.Tbody:      {},
		a.Td:         {Attrs: []a.Atom{a.Align, a.Colspan, a.Height, a.Rowspan, a.Width}},
		a.Th:         {Attrs: []a.Atom{a.Align, a.Colspan, a.Height, a.Rowspan, a.Width}},
		a.Thead:      {},
		a.Tr:         {Attrs: []a.Atom{a.Align}},
		a.Tt:         {},
		a.U:          {},
		a.Ul:         {Attrs: []a.Atom{a.Dir, a.Type}},
	},
}

// Strict allows only text-level markup and links.
var Strict = &Options{
	AllowedTags: map[a.Atom]Tag{
		a.A:      {Attrs: []a.Atom{a.Href}},
		a.B:      {},
		a.Br:     {},
		a.Em:     {},
		a.I:      {},
		a.P:      {},
		a.Pre:    {},
		a.Strong: {},
	},
}

// Union combines the allowed tags and attributes of several Options.
func Union(optsList ...*Options) *Options {
	res := &Options{
		AllowedTags: make(map[a.Atom]Tag),
	}
	for _, opts := range optsList {
		for atom, t := range opts.AllowedTags {
			res.AllowedTags[atom] = Tag{
				Attrs: unionAttrs(res.AllowedTags[atom].Attrs, t.Attrs),
			}
		}
	}
	return res
}

func unionAttrs(x, y []a.Atom) (res []a.Atom) {
	m := make(map[a.Atom]struct{}, len(x)+len(y))
	for _, atom := range x {
		m[atom] = struct{}{}
	}
	for _, atom := range y {
		m[atom] = struct{}{}
	}
	for atom := range m {
		res = append(res, atom)
	}
	sort.Slice(res, func(i, j int) bool { return res[i] < res[j] })
	return res
}

// discarded elements lose their content as well as their tags.
var discarded = map[a.Atom]bool{
	a.Script:   true,
	a.Style:    true,
	a.Head:     true,
	a.Title:    true,
	a.Object:   true,
	a.Iframe:   true,
	a.Noscript: true,
	a.Template: true,
}

var void = map[a.Atom]bool{
	a.Br:  true,
	a.Hr:  true,
	a.Img: true,
}

type Sanitizer struct {
	// RewriteURL, if set, maps every kept href and src.
	// Returning "" drops the attribute.
	// It is how cid: references to message parts become links.
	RewriteURL func(attr string, url *url.URL) string
	Options    *Options
	MaxBuf     int // maximum input bytes buffered, 0 means unlimited
}

// Sanitize builds a sanitized version of the HTML input.
func (s *Sanitizer) Sanitize(dst io.Writer, src io.Reader) (n int, err error) {
	opts := s.Options
	if opts == nil {
		opts = Archive
	}
	w := &countWriter{w: dst}

	var open []a.Atom // stack of elements written and not yet closed
	dropDepth := 0

	z := html.NewTokenizer(src)
	z.SetMaxBuf(s.MaxBuf)
	for w.err == nil {
		tt := z.Next()
		if tt == html.ErrorToken {
			break
		}

		switch tt {
		case html.StartTagToken, html.SelfClosingTagToken:
			t := z.Token()
			if discarded[t.DataAtom] {
				if tt == html.StartTagToken {
					dropDepth++
				}
				continue
			}
			if dropDepth > 0 {
				continue
			}
			allowTag, found := opts.AllowedTags[t.DataAtom]
			if !found {
				continue
			}
			w.WriteString("<" + t.DataAtom.String())
			for _, attr := range t.Attr {
				if attr.Namespace != "" {
					continue
				}
				key := a.Lookup([]byte(attr.Key))
				if !allowTag.hasAttr(key) {
					continue
				}
				val := attr.Val
				if key == a.Href || key == a.Src || key == a.Cite {
					if val = s.rewriteURL(key, val); val == "" {
						continue
					}
				}
				w.WriteString(" " + key.String() + `="` + html.EscapeString(val) + `"`)
				if key == a.Href {
					w.WriteString(` rel="nofollow"`)
				}
			}
			if void[t.DataAtom] || tt == html.SelfClosingTagToken {
				w.WriteString("/>")
			} else {
				w.WriteString(">")
				open = append(open, t.DataAtom)
			}
		case html.EndTagToken:
			t := z.Token()
			if discarded[t.DataAtom] {
				if dropDepth > 0 {
					dropDepth--
				}
				continue
			}
			if dropDepth > 0 {
				continue
			}
			// Close through the matching open element.
			// An end tag with no open element is dropped.
			for i := len(open) - 1; i >= 0; i-- {
				if open[i] != t.DataAtom {
					continue
				}
				for j := len(open) - 1; j >= i; j-- {
					w.WriteString("</" + open[j].String() + ">")
				}
				open = open[:i]
				break
			}
		case html.TextToken:
			if dropDepth > 0 {
				continue
			}
			w.WriteString(html.EscapeString(string(z.Text())))
		}
	}
	for i := len(open) - 1; i >= 0; i-- {
		w.WriteString("</" + open[i].String() + ">")
	}

	if w.err != nil {
		return w.n, w.err
	}
	if err := z.Err(); err != io.EOF {
		return w.n, err
	}
	return w.n, nil
}

func (s *Sanitizer) rewriteURL(attr a.Atom, val string) string {
	u, err := url.Parse(strings.TrimSpace(val))
	if err != nil {
		return "" // bad URL is not an I/O error
	}
	switch strings.ToLower(u.Scheme) {
	case "cid", "http", "https", "mailto":
		if s.RewriteURL != nil {
			return s.RewriteURL(attr.String(), u)
		}
		return u.String()
	}
	return ""
}

func (t Tag) hasAttr(attr a.Atom) bool {
	for _, tattr := range t.Attrs {
		if tattr == attr {
			return true
		}
	}
	return false
}

type countWriter struct {
	w   io.Writer
	n   int
	err error
}

func (c *countWriter) WriteString(s string) {
	if c.err != nil {
		return
	}
	n, err := io.WriteString(c.w, s)
	c.n += n
	c.err = err
}
