package email

import (
	"bytes"
	"fmt"
	"io"
)

// Key is a canonical MIME header entry key.
//
// Use CanonicalKey to canonise bytes as a Key.
type Key string

type HeaderEntry struct {
	Key   Key
	Value []byte
}

// Header is a MIME-style header.
type Header struct {
	Entries []HeaderEntry
	Index   map[Key][][]byte
}

func (h *Header) Add(k Key, v []byte) {
	h.Entries = append(h.Entries, HeaderEntry{Key: k, Value: v})
	if h.Index == nil {
		h.Index = make(map[Key][][]byte)
	}
	h.Index[k] = append(h.Index[k], v)
}

func (h *Header) buildIndex() {
	h.Index = make(map[Key][][]byte)
	for _, entry := range h.Entries {
		h.Index[entry.Key] = append(h.Index[entry.Key], entry.Value)
	}
}

func (h *Header) Get(k Key) []byte {
	if h.Index == nil {
		h.buildIndex()
	}
	vals := h.Index[k]
	if len(vals) == 0 {
		return nil
	}
	return vals[0]
}

// All reports every value of k in the order they appear.
func (h *Header) All(k Key) [][]byte {
	if h.Index == nil {
		h.buildIndex()
	}
	return h.Index[k]
}

func (h *Header) Del(k Key) {
	var e []HeaderEntry
	for _, entry := range h.Entries {
		if entry.Key != k {
			e = append(e, entry)
		}
	}
	h.Entries = e
	if h.Index != nil {
		delete(h.Index, k)
	}
}

// Encode writes the header one unfolded entry per line.
// Newlines are always '\n'. This is the storage form, not a wire form.
func (h *Header) Encode(w io.Writer) (n int, err error) {
	for _, entry := range h.Entries {
		n2, err := fmt.Fprintf(w, "%s: %s\n", entry.Key, bytes.TrimSpace(entry.Value))
		n += n2
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

func (h Header) String() string {
	buf := new(bytes.Buffer)
	if _, err := h.Encode(buf); err != nil {
		return fmt.Sprintf("email.Header(encode error: %v)", err)
	}
	return buf.String()
}

// CanonicalKey builds a MIME header key out of bytes.
func CanonicalKey(keyBytes []byte) Key {
	b := make([]byte, len(keyBytes))
	copy(b, keyBytes)
	asciiLower(b)

	// Headers seen in the archive whose canonical form is not
	// simple capitalization.
	switch string(b) {
	case "subject":
		return "Subject"
	case "date":
		return "Date"
	case "from":
		return "From"
	case "to":
		return "To"
	case "cc":
		return "CC"
	case "message-id":
		return "Message-ID"
	case "in-reply-to":
		return "In-Reply-To"
	case "references":
		return "References"
	case "content-id":
		return "Content-ID"
	case "mime-version":
		return "MIME-Version"
	case "list-id":
		return "List-ID"
	case "x-mailer":
		return "X-Mailer"
	case "x-mimeole":
		return "X-MimeOLE"
	case "x-msmail-priority":
		return "X-MSMail-Priority"
	case "x-ms-has-attach":
		return "X-MS-Has-Attach"
	case "x-originating-ip":
		return "X-Originating-IP"
	case "x-uidl":
		return "X-UIDL"
	case "x-mailman-version":
		return "X-Mailman-Version"
	case "errors-to":
		return "Errors-To"
	}
	// Capitalize each letter following a '-'.
	for i, c := range b {
		if 'a' <= c && c <= 'z' {
			if i == 0 || b[i-1] == '-' {
				b[i] -= 'a' - 'A'
			}
		}
	}
	return Key(b)
}

func asciiLower(data []byte) {
	for i, b := range data {
		if b >= 'A' && b <= 'Z' {
			data[i] = b + ('a' - 'A')
		}
	}
}
