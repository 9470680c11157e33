package mailparse

import (
	"io"
	"mime"
	"net/mail"
	"strings"
	"unicode/utf8"

	"crarchive.org/email"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/encoding/simplifiedchinese"
)

var wordDecoder = &mime.WordDecoder{
	CharsetReader: func(charset string, input io.Reader) (io.Reader, error) {
		enc, err := ianaindex.MIME.Encoding(charset)
		if err != nil {
			return nil, err
		}
		if enc == nil {
			if strings.EqualFold(charset, "gb2312") {
				enc = simplifiedchinese.HZGB2312
			} else {
				return input, nil
			}
		}
		return enc.NewDecoder().Reader(input), nil
	},
}

// DecodeHeader decodes RFC 2047 encoded-words in v.
// Undecodable words are left as they are.
func DecodeHeader(v string) string {
	if !utf8.ValidString(v) {
		if s, err := charmap.Windows1252.NewDecoder().String(v); err == nil {
			v = s
		}
	}
	if !strings.Contains(v, "=?") {
		return v
	}
	s, err := wordDecoder.DecodeHeader(v)
	if err != nil {
		return v
	}
	return s
}

// DecodeHeaderBytes is DecodeHeader for a raw header value.
func DecodeHeaderBytes(v []byte) []byte {
	if utf8.Valid(v) && !strings.Contains(string(v), "=?") {
		return v
	}
	return []byte(DecodeHeader(string(v)))
}

// ParseAddress parses the From header of a message.
//
// Archived mail contains many From values net/mail rejects, such as
// "user at example.com (Name)" or unquoted names with dots.
// Those are handled heuristically.
func ParseAddress(v string) email.Address {
	v = strings.TrimSpace(v)
	if v == "" {
		return email.Address{}
	}
	if a, err := (&mail.AddressParser{WordDecoder: wordDecoder}).Parse(v); err == nil {
		return email.Address{Name: a.Name, Addr: strings.ToLower(a.Address)}
	}

	var addr email.Address
	if i := strings.LastIndexByte(v, '<'); i >= 0 {
		if j := strings.IndexByte(v[i:], '>'); j > 0 {
			addr.Addr = strings.TrimSpace(v[i+1 : i+j])
			addr.Name = strings.TrimSpace(v[:i] + v[i+j+1:])
		}
	}
	if addr.Addr == "" {
		rest := v
		if i := strings.IndexByte(v, '('); i >= 0 {
			if j := strings.LastIndexByte(v, ')'); j > i {
				addr.Name = strings.TrimSpace(v[i+1 : j])
				rest = v[:i] + v[j+1:]
			}
		}
		rest = strings.TrimSpace(rest)
		rest = strings.Replace(rest, " at ", "@", 1)
		rest = strings.Replace(rest, " AT ", "@", 1)
		if strings.ContainsRune(rest, '@') && !strings.ContainsAny(rest, " \t") {
			addr.Addr = rest
		} else if addr.Name == "" {
			addr.Name = rest
		}
	}
	addr.Name = strings.Trim(addr.Name, `"' `)
	addr.Addr = strings.ToLower(addr.Addr)
	return addr
}
