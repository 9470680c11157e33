package bodytext

import (
	"context"
	"strings"
	"testing"

	"crawshaw.io/iox"
	"crarchive.org/email"
	"github.com/google/go-cmp/cmp"
)

func newPart(filer *iox.Filer, contentType, content string) email.Part {
	buf := filer.BufferFile(0)
	buf.Write([]byte(content))
	return email.Part{IsBody: true, ContentType: contentType, Content: buf}
}

func TestExtract(t *testing.T) {
	filer := iox.NewFiler(0)
	defer filer.Shutdown(context.Background())

	tests := []struct {
		name     string
		parts    []email.Part
		want     string
		fromHTML bool
	}{
		{
			name:  "plain",
			parts: []email.Part{newPart(filer, "text/plain", "Hello,\r\n\r\nNice Masi.  \r\n\r\n")},
			want:  "Hello,\n\nNice Masi.",
		},
		{
			name: "plain preferred",
			parts: []email.Part{
				newPart(filer, "text/plain", "plain version"),
				newPart(filer, "text/html", "<p>html version</p>"),
			},
			want: "plain version",
		},
		{
			name: "empty plain falls back to html",
			parts: []email.Part{
				newPart(filer, "text/plain", "\r\n"),
				newPart(filer, "text/html", "<p>html version</p>"),
			},
			want:     "html version",
			fromHTML: true,
		},
		{
			name:     "html only",
			parts:    []email.Part{newPart(filer, "text/html", "<p>one</p><p>two</p>")},
			want:     "one\n\ntwo",
			fromHTML: true,
		},
		{
			name: "no body",
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			msg := &email.Msg{Parts: test.parts}
			defer msg.Close()
			body, err := Extract(msg)
			if err != nil {
				t.Fatal(err)
			}
			if body.Text != test.want {
				t.Errorf("Text=%q, want %q", body.Text, test.want)
			}
			if body.FromHTML != test.fromHTML {
				t.Errorf("FromHTML=%v, want %v", body.FromHTML, test.fromHTML)
			}
		})
	}
}

func TestTrimmer(t *testing.T) {
	tr, err := NewTrimmer([]string{
		`^-+ ?Classic Rendezvous list`,
		`^_{20,}$`,
	})
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		in, want string
	}{
		{"no footer here", "no footer here"},
		{
			"Nice frame.\n\n-- Classic Rendezvous list --\nhttp://www.bikelist.org\n",
			"Nice frame.",
		},
		{
			"Body.\n\n" + strings.Repeat("_", 30) + "\nGet your free email\n-- Classic Rendezvous list",
			"Body.",
		},
	}
	for _, test := range tests {
		if got := tr.Trim(test.in); got != test.want {
			t.Errorf("Trim(%q)=%q, want %q", test.in, got, test.want)
		}
	}

	var nilTrimmer *Trimmer
	if got := nilTrimmer.Trim("x\n"); got != "x\n" {
		t.Errorf("nil Trim changed text: %q", got)
	}
	if _, err := NewTrimmer([]string{"("}); err == nil {
		t.Error("NewTrimmer accepted a bad pattern")
	}
}

func TestFragments(t *testing.T) {
	text := `On Monday, Jane wrote:

> Has anyone seen a Hetchins
> with curly stays?
>
> I have one.

Yes, at the Cirque.
It was red.


Dale
> late quote`

	want := []Fragment{
		{Num: 1, Text: "On Monday, Jane wrote:"},
		{Num: 2, Text: "> Has anyone seen a Hetchins\n> with curly stays?\n>\n> I have one.", Quoted: true},
		{Num: 3, Text: "Yes, at the Cirque.\nIt was red."},
		{Num: 4, Text: "Dale"},
		{Num: 5, Text: "> late quote", Quoted: true},
	}
	if diff := cmp.Diff(want, Fragments(text)); diff != "" {
		t.Errorf("Fragments mismatch (-want +got):\n%s", diff)
	}

	if got := Fragments("\n\n  \n"); len(got) != 0 {
		t.Errorf("Fragments of blank text = %v, want none", got)
	}
}

func TestQuotedBlockAcrossBlankLines(t *testing.T) {
	got := Fragments("> one\n\n> two\n\nreply")
	want := []Fragment{
		{Num: 1, Text: "> one\n\n> two", Quoted: true},
		{Num: 2, Text: "reply"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Fragments mismatch (-want +got):\n%s", diff)
	}
}

func TestHeaderFragment(t *testing.T) {
	f := HeaderFragment("Hetchins curly stays", "Jane Rider")
	if f.Num != 0 {
		t.Errorf("Num=%d, want 0", f.Num)
	}
	if want := "Hetchins curly stays\nJane Rider"; f.Text != want {
		t.Errorf("Text=%q, want %q", f.Text, want)
	}
}

func TestSplitSubject(t *testing.T) {
	tests := []struct {
		in    string
		base  string
		reply bool
	}{
		{"Hetchins curly stays", "Hetchins curly stays", false},
		{"[CR] Hetchins curly stays", "Hetchins curly stays", false},
		{"Re: [CR] Hetchins curly stays", "Hetchins curly stays", true},
		{"RE: Re: [CR]   Hetchins  curly stays", "Hetchins curly stays", true},
		{"[CR] Re: Hetchins", "Hetchins", true},
		{"Re[2]: Hetchins", "Hetchins", true},
		{"Fwd: [cr-list] Hetchins (fwd)", "Hetchins", true},
		{"AW: Hetchins", "Hetchins", true},
		{"Reynolds tubing", "Reynolds tubing", false},
		{"[CR]", "", false},
		{"", "", false},
	}
	for _, test := range tests {
		base, reply := SplitSubject(test.in)
		if base != test.base || reply != test.reply {
			t.Errorf("SplitSubject(%q)=%q, %v; want %q, %v", test.in, base, reply, test.base, test.reply)
		}
		if got := NormalizeSubject(test.in); got != test.base {
			t.Errorf("NormalizeSubject(%q)=%q, want %q", test.in, got, test.base)
		}
	}
}
