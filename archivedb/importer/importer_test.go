package importer

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"crawshaw.io/iox"
	"github.com/google/go-cmp/cmp"

	"crarchive.org/archivedb"
)

const mbox = `From alice@example.com Mon Jan  1 15:00:00 2001
Message-ID: <1@example.com>
Date: Mon, 1 Jan 2001 10:00:00 -0500
From: Alice <alice@example.com>
Subject: [CR] Hetchins curly stays

I found a Hetchins with curly stays.
>From the photos, the paint is original.

From bob@example.com Wed Jan  3 09:30:00 2001
Message-ID: <2@example.com>
In-Reply-To: <1@example.com>
From: Bob <bob@example.com>
Subject: Re: [CR] Hetchins curly stays

From memory, Magnum Opus.

`

const single = `Message-ID: <3@example.com>
Date: Thu, 1 Feb 2001 12:00:00 +0100
From: Carol <carol@example.com>
Subject: Masi Gran Criterio

Geometry of my Masi.
`

func TestMboxReader(t *testing.T) {
	mr := newMboxReader(strings.NewReader(mbox))

	var envelopes, msgs []string
	for {
		buf := new(bytes.Buffer)
		envelope, err := mr.Next(buf)
		if err == io.EOF {
			break
		} else if err != nil {
			t.Fatal(err)
		}
		envelopes = append(envelopes, envelope)
		msgs = append(msgs, buf.String())
	}

	wantEnvelopes := []string{
		"From alice@example.com Mon Jan  1 15:00:00 2001",
		"From bob@example.com Wed Jan  3 09:30:00 2001",
	}
	if diff := cmp.Diff(wantEnvelopes, envelopes); diff != "" {
		t.Errorf("envelopes mismatch (-want +got):\n%s", diff)
	}
	if len(msgs) != 2 {
		t.Fatalf("%d messages, want 2", len(msgs))
	}
	if want := "I found a Hetchins with curly stays.\nFrom the photos, the paint is original.\n"; !strings.HasSuffix(msgs[0], want) {
		t.Errorf("first message body:\n%s\nwant suffix:\n%s", msgs[0], want)
	}
	if want := "\nFrom memory, Magnum Opus.\n"; !strings.HasSuffix(msgs[1], want) {
		t.Errorf("second message body:\n%s\nwant suffix:\n%s", msgs[1], want)
	}
	if !strings.HasPrefix(msgs[1], "Message-ID: <2@example.com>\n") {
		t.Errorf("second message starts %q", msgs[1])
	}
}

func TestMboxReaderNotMbox(t *testing.T) {
	mr := newMboxReader(strings.NewReader(single))
	if _, err := mr.Next(io.Discard); err != errNotMbox {
		t.Errorf("err=%v, want errNotMbox", err)
	}

	mr = newMboxReader(strings.NewReader("\n\n"))
	if _, err := mr.Next(io.Discard); err != io.EOF {
		t.Errorf("empty mbox err=%v, want io.EOF", err)
	}
}

func TestUnescapeFrom(t *testing.T) {
	tests := []struct{ in, want string }{
		{">From here\n", "From here\n"},
		{">>From here\n", ">From here\n"},
		{"> quoted\n", "> quoted\n"},
		{">Fromage\n", ">Fromage\n"},
		{"From\n", "From\n"},
	}
	for _, test := range tests {
		if got := unescapeFrom(test.in); got != test.want {
			t.Errorf("unescapeFrom(%q)=%q, want %q", test.in, got, test.want)
		}
	}
}

func TestMatch(t *testing.T) {
	db := newTestDB(t)
	im, err := New(db, []string{"**.mbox", "**.mbox.gz", "*/cur/*"}, []string{"drafts/**"})
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		name string
		want bool
	}{
		{"2001/cr-2001-01.mbox", true},
		{"cr.mbox.gz", true},
		{"inbox/cur/1234.host:2,S", true},
		{"drafts/x.mbox", false},
		{"notes.txt", false},
	}
	for _, test := range tests {
		if got := im.Match(test.name); got != test.want {
			t.Errorf("Match(%q)=%v, want %v", test.name, got, test.want)
		}
	}

	if _, err := New(db, []string{"[unclosed"}, nil); err == nil {
		t.Error("New accepted a bad pattern")
	}
}

func TestImport(t *testing.T) {
	db := newTestDB(t)
	dir := t.TempDir()

	writeFile(t, filepath.Join(dir, "2001", "cr-2001-01.mbox"), mbox)
	writeFile(t, filepath.Join(dir, "inbox", "cur", "1.host:2,S"), single)
	writeFile(t, filepath.Join(dir, "inbox", "new", "2.host"), single)
	writeFile(t, filepath.Join(dir, "inbox", "tmp", "3.host"), "partial")
	writeFile(t, filepath.Join(dir, "notes.txt"), "not mail")

	gzbuf := new(bytes.Buffer)
	zw := gzip.NewWriter(gzbuf)
	io.WriteString(zw, mbox)
	zw.Close()
	writeFile(t, filepath.Join(dir, "old", "cr.mbox.gz"), gzbuf.String())

	im, err := New(db, nil, []string{"*.txt"})
	if err != nil {
		t.Fatal(err)
	}
	im.Logf = t.Logf
	res, err := im.Import(context.Background(), dir)
	if err != nil {
		t.Fatal(err)
	}
	want := Result{Files: 4, Skipped: 1, Msgs: 3, Duplicates: 3}
	if diff := cmp.Diff(want, res); diff != "" {
		t.Errorf("Import mismatch (-want +got):\n%s", diff)
	}

	msg, err := db.LoadMsgByMessageID(context.Background(), "<2@example.com>")
	if err != nil {
		t.Fatal(err)
	}
	if got, want := msg.Date.Format("2006-01-02 15:04"), "2001-01-03 09:30"; got != want {
		t.Errorf("envelope date=%s, want %s", got, want)
	}
	msg, err = db.LoadMsgByMessageID(context.Background(), "<1@example.com>")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(msg.BodyText, "\nFrom the photos") {
		t.Errorf("escaped From line not restored: %q", msg.BodyText)
	}
}

func TestImportFile(t *testing.T) {
	db := newTestDB(t)
	name := filepath.Join(t.TempDir(), "broken.mbox")
	writeFile(t, name, "From nowhere\nno envelope date\n")

	im, err := New(db, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	im.Logf = t.Logf
	res, err := im.Import(context.Background(), name)
	if err != nil {
		t.Fatal(err)
	}
	if want := (Result{Files: 1, Errors: 1}); res != want {
		t.Errorf("Import=%+v, want %+v", res, want)
	}

	if _, err := im.Import(context.Background(), filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("Import of a missing path succeeded")
	}
}

func writeFile(t *testing.T, name, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(name), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(name, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func newTestDB(t *testing.T) *archivedb.DB {
	t.Helper()
	filer := iox.NewFiler(0)
	t.Cleanup(func() { filer.Shutdown(context.Background()) })

	db, err := archivedb.Open(filer, fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()), 1)
	if err != nil {
		t.Fatal(err)
	}
	db.Logf = t.Logf
	t.Cleanup(func() { db.Close() })
	return db
}
