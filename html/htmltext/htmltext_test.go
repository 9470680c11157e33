package htmltext

import (
	"bytes"
	"strings"
	"testing"
)

func TestPlainText(t *testing.T) {
	const html = "Here is some HTML to convert to plain text " +
		"version.<div>Next line.</div><div><br></div><div>Next&nbsp;" +
		"paragraph.</div><div><br></div><div>This is&nbsp;<b>bold</b>" +
		",&nbsp;<i>italic</i>, and&nbsp;<u>underlined</u>&nbsp;text." +
		"</div><div><br></div><div>Regards.</div>" +
		"<div><br></div>" +
		"<div><br></div>"

	want := `Here is some HTML to convert to plain text version.
Next line.

Next paragraph.

This is bold, italic, and underlined text.

Regards.`

	buf := new(bytes.Buffer)
	if err := PlainText(buf, strings.NewReader(html)); err != nil {
		t.Fatal(err)
	}
	got := buf.String()
	if got != want {
		t.Errorf("PlainText()=\n%s\n\nwant:\n%s", got, want)
	}
}

func TestPlainTextElements(t *testing.T) {
	tests := []struct {
		name, html, want string
	}{
		{
			name: "paragraphs",
			html: "<p>One\n  two</p><p>Three</p>",
			want: "One two\n\nThree",
		},
		{
			name: "line breaks",
			html: "a<br>b<br/><br>c",
			want: "a\nb\n\nc",
		},
		{
			name: "dropped content",
			html: "<html><head><title>T</title><style>p{color:red}</style></head>" +
				"<body><script>alert(1)</script>Body &amp; soul</body></html>",
			want: "Body & soul",
		},
		{
			name: "pre",
			html: "<p>Frame:</p><pre>  top   tube\n  seat  tube</pre><p>end</p>",
			want: "Frame:\n\n  top   tube\n  seat  tube\n\nend",
		},
		{
			name: "image alt",
			html: "See <img src=\"x.jpg\" alt=\"headbadge\"> here",
			want: "See [headbadge] here",
		},
		{
			name: "list",
			html: "<ul><li>Campagnolo</li><li>Simplex</li></ul>",
			want: "Campagnolo\nSimplex",
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			buf := new(bytes.Buffer)
			if err := PlainText(buf, strings.NewReader(test.html)); err != nil {
				t.Fatal(err)
			}
			if got := buf.String(); got != test.want {
				t.Errorf("PlainText(%q)=%q, want %q", test.html, got, test.want)
			}
		})
	}
}
