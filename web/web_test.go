package web

import (
	"context"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"crawshaw.io/iox"
	"github.com/google/go-cmp/cmp"

	"crarchive.org/archivedb"
	"crarchive.org/email"
	"crarchive.org/email/mailparse"
	"crarchive.org/util/throttle"
)

const msgHetchins = `Message-ID: <1@example.com>
Date: Mon, 1 Jan 2001 10:00:00 -0500
From: Alice <alice@example.com>
Subject: [CR] Hetchins curly stays

I found a Hetchins with curly stays.
Photos at www.example.com/hetchins.

Paint is original.
`

const msgReply = `Message-ID: <2@example.com>
In-Reply-To: <1@example.com>
Date: Wed, 3 Jan 2001 09:30:00 +0000
From: Bob <bob@example.com>
Subject: Re: [CR] Hetchins curly stays

> I found a Hetchins with curly stays.

Nice find. Magnum Opus?
`

const msgReplyCopy = `Message-ID: <2@example.com>
In-Reply-To: <1@example.com>
Date: Wed, 3 Jan 2001 09:30:00 +0000
From: Bob <bob@example.com>
Subject: Re: [CR] Hetchins curly stays
X-Gateway: second

> I found a Hetchins with curly stays.

Nice find.   Magnum Opus?
`

const msgMasi = `Message-ID: <4@example.com>
Date: Thu, 1 Feb 2001 12:00:00 +0100
From: Carol <carol@example.com>
Subject: Masi Gran Criterio
MIME-Version: 1.0
Content-Type: multipart/mixed; boundary="XYZ"

--XYZ
Content-Type: text/plain; charset=us-ascii

Geometry of my Masi attached.

--XYZ
Content-Type: text/plain; name="geometry.txt"
Content-Disposition: attachment; filename="geometry.txt"

Seat tube 57cm c-t, top tube 56.5cm.

--XYZ--
`

type testServer struct {
	*Server
	ids map[string]email.MsgID
}

func newTestServer(t *testing.T, opts Options) *testServer {
	t.Helper()

	filer := iox.NewFiler(0)
	t.Cleanup(func() { filer.Shutdown(context.Background()) })
	db, err := archivedb.Open(filer, fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()), 2)
	if err != nil {
		t.Fatal(err)
	}
	db.Logf = t.Logf
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	ids := make(map[string]email.MsgID)
	for _, m := range []struct{ name, raw string }{
		{"hetchins", msgHetchins},
		{"reply", msgReply},
		{"copy", msgReplyCopy},
		{"masi", msgMasi},
	} {
		msg, err := mailparse.Parse(filer, strings.NewReader(m.raw))
		if err != nil {
			t.Fatal(err)
		}
		if err := db.InsertMsg(ctx, msg, ""); err != nil {
			t.Fatal(err)
		}
		ids[m.name] = msg.MsgID
		msg.Close()
	}
	if _, err := db.Dedup(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Relink(ctx); err != nil {
		t.Fatal(err)
	}

	s, err := New(db, opts)
	if err != nil {
		t.Fatal(err)
	}
	s.Logf = t.Logf
	return &testServer{Server: s, ids: ids}
}

func (s *testServer) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	return s.do(t, http.MethodGet, path)
}

func (s *testServer) do(t *testing.T, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	r := httptest.NewRequest(method, path, nil)
	r.RemoteAddr = "192.0.2.1:4321"
	w := httptest.NewRecorder()
	s.ServeHTTP(w, r)
	return w
}

func TestRoutes(t *testing.T) {
	s := newTestServer(t, Options{})
	hetchins := s.ids["hetchins"].String()

	tests := []struct {
		path     string
		code     int
		contains string
		location string
	}{
		{path: "/", code: 200, contains: `href="/2001-01/maillist.html"`},
		{path: "/healthz", code: 200, contains: "ok"},
		{path: "/2001-01/maillist.html", code: 200, contains: `href="/2001-01/msg00001.html"`},
		{path: "/2001-01/threads.html", code: 200, contains: "Re: [CR] Hetchins curly stays"},
		{path: "/2001-01/", code: 301, location: "/2001-01/maillist.html"},
		{path: "/2001-01", code: 301, location: "/2001-01/maillist.html"},
		{path: "/2001-01/msg00000.html", code: 200, contains: "Paint is original."},
		{path: "/2001-01/msg00001.html", code: 200, contains: "Magnum Opus?"},
		{path: "/2001-02/msg00000.html", code: 200, contains: "geometry.txt"},
		{path: "/1999-01/maillist.html", code: 404, contains: "nothing at this address"},
		{path: "/2001-01/msg00009.html", code: 404},
		{path: "/msg/" + hetchins, code: 302, location: "/2001-01/msg00000.html"},
		{path: "/msg/" + s.ids["copy"].String(), code: 200, contains: "Duplicate of"},
		{path: "/msg/m99999", code: 404},
		{path: "/message-id/2@example.com", code: 302, location: "/2001-01/msg00001.html"},
		{path: "/message-id/nobody@example.com", code: 404},
		{path: "/topics/", code: 200, contains: "Masi Gran Criterio"},
		{path: "/topics/?letter=h", code: 200, contains: "Hetchins curly stays"},
		{path: "/thread/99999", code: 404},
		{path: "/search", code: 200, contains: `name="q"`},
		{path: "/no/such/page", code: 404},

		{path: "/2001-13/maillist.html", code: StatusMalformed},
		{path: "/01-01/maillist.html", code: StatusMalformed},
		{path: "/2001-01/msgabc.html", code: StatusMalformed},
		{path: "/2001-01/msg-1.html", code: StatusMalformed},
		{path: "/msg/xyz", code: StatusMalformed},
		{path: "/thread/0", code: StatusMalformed},
		{path: "/topic/abc", code: StatusMalformed},
		{path: "/topics/?letter=HH", code: StatusMalformed},
		{path: "/att/" + hetchins + "/x", code: StatusMalformed},
		{path: "/search?q=hetchins&page=0", code: StatusMalformed},
		{path: "/search?q=" + strings.Repeat("a", 300), code: StatusMalformed},
	}
	for _, test := range tests {
		t.Run(test.path, func(t *testing.T) {
			w := s.get(t, test.path)
			if w.Code != test.code {
				t.Fatalf("code=%d, want %d", w.Code, test.code)
			}
			body := w.Body.String()
			if test.code == StatusMalformed && body != "" {
				t.Errorf("444 with body %q", body)
			}
			if test.contains != "" && !strings.Contains(body, test.contains) {
				t.Errorf("body does not contain %q:\n%s", test.contains, body)
			}
			if test.location != "" {
				if got := w.Header().Get("Location"); got != test.location {
					t.Errorf("Location=%q, want %q", got, test.location)
				}
			}
		})
	}
}

func TestMethods(t *testing.T) {
	s := newTestServer(t, Options{})

	w := s.do(t, http.MethodPost, "/")
	if w.Code != StatusMalformed || w.Body.Len() != 0 {
		t.Errorf("POST /: code=%d body=%q, want empty 444", w.Code, w.Body.String())
	}

	w = s.do(t, http.MethodHead, "/2001-01/msg00000.html")
	if w.Code != http.StatusOK {
		t.Errorf("HEAD: code=%d, want 200", w.Code)
	}
	if w.Body.Len() != 0 {
		t.Errorf("HEAD: body of %d bytes", w.Body.Len())
	}
}

func TestMessagePage(t *testing.T) {
	s := newTestServer(t, Options{})

	body := s.get(t, "/2001-01/msg00000.html").Body.String()
	for _, want := range []string{
		`<div id="f0" class="meta">`,
		`<pre id="f1" class="frag">`,
		`<a href="http://www.example.com/hetchins" rel="nofollow">www.example.com/hetchins</a>.`,
		`rel="next" href="/2001-01/msg00001.html"`,
		"2 messages",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("message page does not contain %q", want)
		}
	}

	body = s.get(t, "/2001-01/msg00001.html").Body.String()
	if !strings.Contains(body, `class="frag quoted"`) {
		t.Errorf("reply page has no quoted fragment:\n%s", body)
	}
	if !strings.Contains(body, `rel="prev" href="/2001-01/msg00000.html"`) {
		t.Errorf("reply page has no prev link")
	}
}

func TestAttachment(t *testing.T) {
	s := newTestServer(t, Options{})
	path := fmt.Sprintf("/att/%s/1", s.ids["masi"])

	w := s.get(t, path)
	if w.Code != http.StatusOK {
		t.Fatalf("code=%d, want 200", w.Code)
	}
	if got, want := w.Body.String(), "Seat tube 57cm c-t, top tube 56.5cm.\n"; got != want {
		t.Errorf("body=%q, want %q", got, want)
	}
	h := w.Header()
	if got, want := h.Get("Content-Type"), "text/plain; charset=utf-8"; got != want {
		t.Errorf("Content-Type=%q, want %q", got, want)
	}
	if got, want := h.Get("Content-Disposition"), `attachment; filename=geometry.txt`; got != want {
		t.Errorf("Content-Disposition=%q, want %q", got, want)
	}
	if got := h.Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options=%q", got)
	}

	if w := s.get(t, fmt.Sprintf("/att/%s/7", s.ids["masi"])); w.Code != http.StatusNotFound {
		t.Errorf("missing part: code=%d, want 404", w.Code)
	}
}

func TestSearch(t *testing.T) {
	s := newTestServer(t, Options{PageSize: 1})

	w := s.get(t, "/search?q=hetchins")
	if w.Code != http.StatusOK {
		t.Fatalf("code=%d, want 200", w.Code)
	}
	body := w.Body.String()
	for _, want := range []string{
		`href="/2001-01/msg00000.html#f`,
		"<mark>Hetchins</mark>",
		`rel="next" href="/search?page=2&amp;q=hetchins"`,
		"Page 1 of 2",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("search page does not contain %q:\n%s", want, body)
		}
	}

	body = s.get(t, "/search?q=hetchins&page=2").Body.String()
	if !strings.Contains(body, `href="/2001-01/msg00001.html#f`) {
		t.Errorf("page 2 does not show the reply:\n%s", body)
	}
	if !strings.Contains(body, `rel="prev" href="/search?q=hetchins"`) {
		t.Errorf("page 2 has no prev link:\n%s", body)
	}

	w = s.get(t, "/search?q=%28hetchins")
	if w.Code != http.StatusOK {
		t.Fatalf("parse error: code=%d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), `class="error"`) {
		t.Errorf("parse error not reported:\n%s", w.Body.String())
	}
}

func TestSearchRateLimit(t *testing.T) {
	s := newTestServer(t, Options{RateLimit: 0.001, RateBurst: 1})

	if w := s.get(t, "/search?q=masi"); w.Code != http.StatusOK {
		t.Fatalf("first search: code=%d, want 200", w.Code)
	}
	w := s.get(t, "/search?q=masi")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second search: code=%d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("no Retry-After")
	}
	// The empty form is not limited.
	if w := s.get(t, "/search"); w.Code != http.StatusOK {
		t.Errorf("search form: code=%d, want 200", w.Code)
	}
}

func TestMalformedThrottle(t *testing.T) {
	tr := &throttle.Throttle{Delay: time.Millisecond}
	s := newTestServer(t, Options{Throttle: tr})

	s.get(t, "/2001-01/maillist.html")
	if got := tr.Len(); got != 0 {
		t.Errorf("after good request Len=%d, want 0", got)
	}
	s.get(t, "/2001-99/maillist.html")
	if got := tr.Len(); got != 1 {
		t.Errorf("after malformed request Len=%d, want 1", got)
	}

	body := s.get(t, "/metrics").Body.String()
	for _, want := range []string{
		"crarchive_http_malformed_total 1",
		`crarchive_http_requests_total{code="200",route="maillist"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics do not contain %q:\n%s", want, body)
		}
	}
}

func TestTemplateOverride(t *testing.T) {
	dir := t.TempDir()
	const tmpl = `{{template "header" .}}<p>Local 404</p>{{template "footer" .}}`
	if err := ioutil.WriteFile(dir+"/notfound.html", []byte(tmpl), 0666); err != nil {
		t.Fatal(err)
	}
	s := newTestServer(t, Options{Templates: dir, Title: "CR"})
	w := s.get(t, "/nothing")
	if w.Code != http.StatusNotFound {
		t.Fatalf("code=%d, want 404", w.Code)
	}
	if body := w.Body.String(); !strings.Contains(body, "Local 404") || !strings.Contains(body, "<title>Not found - CR</title>") {
		t.Errorf("override not used:\n%s", body)
	}

	if _, err := loadTemplates(dir + "/missing"); err == nil {
		t.Error("missing template directory: no error")
	}
}

func TestParseMonth(t *testing.T) {
	tests := []struct {
		in          string
		year, month int
		ok          bool
	}{
		{"2001-01", 2001, 1, true},
		{"1999-12", 1999, 12, true},
		{"2001-00", 0, 0, false},
		{"2001-13", 0, 0, false},
		{"2001-1", 0, 0, false},
		{"20011-01", 0, 0, false},
		{"0000-01", 0, 0, false},
	}
	for _, test := range tests {
		year, month, ok := parseMonth(test.in)
		if ok != test.ok || (ok && (year != test.year || month != test.month)) {
			t.Errorf("parseMonth(%q)=%d, %d, %v, want %d, %d, %v", test.in, year, month, ok, test.year, test.month, test.ok)
		}
	}
}

func TestLinkify(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"no links <here>", "no links &lt;here&gt;"},
		{"see http://example.com/a?b=1&c=2.", `see <a href="http://example.com/a?b=1&amp;c=2" rel="nofollow">http://example.com/a?b=1&amp;c=2</a>.`},
		{"(www.example.com)", `(<a href="http://www.example.com" rel="nofollow">www.example.com</a>)`},
		{`javascript:alert(1)`, `javascript:alert(1)`},
	}
	for _, test := range tests {
		buf := new(strings.Builder)
		linkify(buf, test.in)
		if got := buf.String(); got != test.want {
			t.Errorf("linkify(%q)=%q, want %q", test.in, got, test.want)
		}
	}
}

func TestHighlight(t *testing.T) {
	got := highlight("Campagnolo & Campy hubs, campagnolo's", []string{"campagnolo", "hubs"})
	want := "<mark>Campagnolo</mark> &amp; Campy <mark>hubs</mark>, campagnolo&#39;s"
	if string(got) != want {
		t.Errorf("highlight=%q, want %q", got, want)
	}
}

func TestRenderHTML(t *testing.T) {
	msg := &archivedb.Message{
		MsgSummary: archivedb.MsgSummary{MsgID: 7},
		BodyHTML: `<p style="color:red">Lug <b>detail</b>:</p>` +
			`<img src="cid:lug@example.com"><img src="cid:gone@example.com">` +
			`<script>alert(1)</script><a href="javascript:x">x</a>`,
		Parts: []archivedb.PartInfo{
			{PartNum: 0, IsBody: true, ContentType: "text/html"},
			{PartNum: 1, ContentType: "image/jpeg", ContentID: "<lug@example.com>"},
		},
	}
	got, err := renderHTML(msg)
	if err != nil {
		t.Fatal(err)
	}
	want := `<p>Lug <b>detail</b>:</p><img src="/att/m7/1"/><img/><a>x</a>`
	if diff := cmp.Diff(want, string(got)); diff != "" {
		t.Errorf("renderHTML mismatch (-want +got):\n%s", diff)
	}
}
