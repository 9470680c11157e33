package web

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"crarchive.org/archivedb"
	"crarchive.org/email"
	"crarchive.org/email/bodytext"
	"crarchive.org/html/htmlsafe"
	"crarchive.org/search/token"
)

//go:embed templates/*.html
var templateFS embed.FS

var funcs = template.FuncMap{
	"msgURL":    msgURL,
	"monthURL":  monthURL,
	"monthName": monthName,
	"comma":     func(n int) string { return humanize.Comma(int64(n)) },
	"bytes":     func(n int64) string { return humanize.Bytes(uint64(n)) },
	"ordinal":   humanize.Ordinal,
	"date": func(t time.Time) string {
		if t.IsZero() {
			return "undated"
		}
		return t.Format("Mon, 2 Jan 2006 15:04 MST")
	},
	"day": func(t time.Time) string {
		if t.IsZero() {
			return ""
		}
		return t.Format("2 Jan 2006")
	},
	"indent": func(depth int) template.CSS {
		if depth > 12 {
			depth = 12
		}
		return template.CSS(fmt.Sprintf("margin-left: %dem", 2*depth))
	},
}

// loadTemplates parses the built-in templates, then any *.html
// in dir, which replace built-in templates of the same name.
func loadTemplates(dir string) (*template.Template, error) {
	t, err := template.New("").Funcs(funcs).ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("web: templates: %v", err)
	}
	if dir == "" {
		return t, nil
	}
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("web: templates: %v", err)
	}
	matches, err := filepath.Glob(filepath.Join(dir, "*.html"))
	if err != nil {
		return nil, fmt.Errorf("web: templates: %v", err)
	}
	if len(matches) == 0 {
		return t, nil
	}
	if t, err = t.ParseFiles(matches...); err != nil {
		return nil, fmt.Errorf("web: templates: %v", err)
	}
	return t, nil
}

// page is the data passed to every template.
type page struct {
	Site  string
	Title string
	Data  interface{}
}

func (s *Server) render(w http.ResponseWriter, r *http.Request, code int, name string, p *page) {
	p.Site = s.opts.Title
	buf := new(bytes.Buffer)
	if err := s.tmpl.ExecuteTemplate(buf, name, p); err != nil {
		s.logf("web: %s: template %s: %v", r.URL.Path, name, err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(code)
	if r.Method != http.MethodHead {
		w.Write(buf.Bytes())
	}
}

func monthName(m int) string { return time.Month(m).String() }

func monthURL(year, month int) string {
	return fmt.Sprintf("/%04d-%02d/maillist.html", year, month)
}

// msgURL is the MHonARC URL of a numbered message,
// otherwise its /msg/ URL.
func msgURL(m archivedb.MsgSummary) string {
	if m.Numbered() {
		return fmt.Sprintf("/%04d-%02d/msg%05d.html", m.Year, m.Month, m.Seq)
	}
	return "/msg/" + m.MsgID.String()
}

var urlRE = regexp.MustCompile(`(?i)\b(?:https?://|ftp://|www\.)[^\s<>"]+`)

// linkify escapes text, turning URLs into links.
func linkify(buf *strings.Builder, text string) {
	for text != "" {
		loc := urlRE.FindStringIndex(text)
		if loc == nil {
			buf.WriteString(template.HTMLEscapeString(text))
			return
		}
		u := strings.TrimRight(text[loc[0]:loc[1]], ".,;:!?)'")
		end := loc[0] + len(u)
		buf.WriteString(template.HTMLEscapeString(text[:loc[0]]))

		href := u
		if strings.HasPrefix(strings.ToLower(href), "www.") {
			href = "http://" + href
		}
		if _, err := url.Parse(href); err != nil {
			buf.WriteString(template.HTMLEscapeString(u))
		} else {
			fmt.Fprintf(buf, `<a href="%s" rel="nofollow">%s</a>`,
				template.HTMLEscapeString(href), template.HTMLEscapeString(u))
		}
		text = text[end:]
	}
}

// renderText renders message text one fragment per block,
// each anchored as f{n} to match search results.
func renderText(text string) template.HTML {
	buf := new(strings.Builder)
	for _, f := range bodytext.Fragments(text) {
		class := "frag"
		if f.Quoted {
			class = "frag quoted"
		}
		fmt.Fprintf(buf, `<pre id="f%d" class="%s">`, f.Num, class)
		linkify(buf, f.Text)
		buf.WriteString("</pre>\n")
	}
	return template.HTML(buf.String())
}

// renderHTML sanitizes the HTML body of msg.
// Links to cid: parts of the message point at the attachment URL.
func renderHTML(msg *archivedb.Message) (template.HTML, error) {
	cids := make(map[string]int)
	for _, p := range msg.Parts {
		if p.ContentID != "" {
			cids[email.MessageID(p.ContentID)] = p.PartNum
		}
	}
	s := &htmlsafe.Sanitizer{
		Options: htmlsafe.Archive,
		RewriteURL: func(attr string, u *url.URL) string {
			if strings.EqualFold(u.Scheme, "cid") {
				partNum, ok := cids[email.MessageID(u.Opaque)]
				if !ok {
					return ""
				}
				return attURL(msg.MsgID, partNum)
			}
			return u.String()
		},
	}
	buf := new(bytes.Buffer)
	if _, err := s.Sanitize(buf, strings.NewReader(msg.BodyHTML)); err != nil {
		return "", err
	}
	return template.HTML(buf.String()), nil
}

func attURL(msgID email.MsgID, partNum int) string {
	return fmt.Sprintf("/att/%s/%d", msgID, partNum)
}

var wordRE = regexp.MustCompile(`[\p{L}\p{N}][\p{L}\p{N}'’]*`)

// highlight escapes text, marking words that are search terms.
func highlight(text string, terms []string) template.HTML {
	set := make(map[string]bool, len(terms))
	for _, t := range terms {
		set[t] = true
	}
	buf := new(strings.Builder)
	last := 0
	for _, loc := range wordRE.FindAllStringIndex(text, -1) {
		word := text[loc[0]:loc[1]]
		if !set[token.Normalize(word)] {
			continue
		}
		buf.WriteString(template.HTMLEscapeString(text[last:loc[0]]))
		buf.WriteString("<mark>")
		buf.WriteString(template.HTMLEscapeString(word))
		buf.WriteString("</mark>")
		last = loc[1]
	}
	buf.WriteString(template.HTMLEscapeString(text[last:]))
	return template.HTML(buf.String())
}
