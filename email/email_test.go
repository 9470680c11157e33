package email

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestCanonicalKey(t *testing.T) {
	tests := []struct {
		in   string
		want Key
	}{
		{"subject", "Subject"},
		{"MESSAGE-ID", "Message-ID"},
		{"in-reply-to", "In-Reply-To"},
		{"x-some-header", "X-Some-Header"},
		{"Cc", "CC"},
	}
	for _, test := range tests {
		in := []byte(test.in)
		if got := CanonicalKey(in); got != test.want {
			t.Errorf("CanonicalKey(%q)=%q, want %q", test.in, got, test.want)
		}
		if string(in) != test.in {
			t.Errorf("CanonicalKey modified its input: %q", in)
		}
	}
}

func TestHeader(t *testing.T) {
	var h Header
	h.Add("Received", []byte("from a"))
	h.Add("Subject", []byte("hello"))
	h.Add("Received", []byte("from b"))

	if got, want := string(h.Get("Received")), "from a"; got != want {
		t.Errorf("Get(Received)=%q, want %q", got, want)
	}
	if got := len(h.All("Received")); got != 2 {
		t.Errorf("len(All(Received))=%d, want 2", got)
	}
	h.Del("Received")
	if got := h.Get("Received"); got != nil {
		t.Errorf("after Del, Get(Received)=%q", got)
	}
	if got, want := h.String(), "Subject: hello\n"; got != want {
		t.Errorf("String()=%q, want %q", got, want)
	}

	h2 := Header{Entries: h.Entries}
	if got, want := string(h2.Get("Subject")), "hello"; got != want {
		t.Errorf("lazy index Get(Subject)=%q, want %q", got, want)
	}
}

func TestMessageID(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"<abc@example.com>", "abc@example.com"},
		{"  <abc@example.com>  ", "abc@example.com"},
		{"abc@example.com", "abc@example.com"},
		{"<a@b> <c@d>", "a@b"},
		{"", ""},
		{"not an id", ""},
	}
	for _, test := range tests {
		if got := MessageID(test.in); got != test.want {
			t.Errorf("MessageID(%q)=%q, want %q", test.in, got, test.want)
		}
	}
}

func TestParseReferences(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"<a@x> <b@x>\n\t<c@x>", []string{"a@x", "b@x", "c@x"}},
		{`"Jan Smith" <js@x> of "Tue, 4 Mar 1997" <m1@x>`, []string{"js@x", "m1@x"}},
		{"no ids here", nil},
		{"<broken", nil},
		{"<> <ok@x>", []string{"ok@x"}},
	}
	for _, test := range tests {
		got := ParseReferences(test.in)
		if diff := cmp.Diff(test.want, got); diff != "" {
			t.Errorf("ParseReferences(%q) mismatch (-want +got):\n%s", test.in, diff)
		}
	}
}

func TestParseMsgID(t *testing.T) {
	for _, s := range []string{"m42", "42"} {
		id, err := ParseMsgID(s)
		if err != nil {
			t.Fatal(err)
		}
		if id != 42 {
			t.Errorf("ParseMsgID(%q)=%d, want 42", s, id)
		}
	}
	for _, s := range []string{"", "m", "m-1", "mx"} {
		if _, err := ParseMsgID(s); err == nil {
			t.Errorf("ParseMsgID(%q) succeeded, want error", s)
		}
	}
	if got, want := MsgID(7).String(), "m7"; got != want {
		t.Errorf("String()=%q, want %q", got, want)
	}
}
