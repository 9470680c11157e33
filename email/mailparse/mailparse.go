// Package mailparse splits an RFC 5322 message into headers and
// decoded parts.
//
// Archived mail is frequently malformed. The parser is lenient:
// a part that cannot be transfer-decoded is kept as raw bytes,
// an unknown charset is passed through, and invalid UTF-8 in a part
// that declares no charset is read as Windows-1252.
package mailparse

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"strings"
	"unicode/utf8"

	"crawshaw.io/iox"
	"crarchive.org/email"
	"github.com/zeebo/blake3"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/ianaindex"
)

// maxDepth bounds multipart nesting.
const maxDepth = 16

// Parse reads a message from src.
//
// The caller must Close the returned message.
func Parse(filer *iox.Filer, src io.Reader) (*email.Msg, error) {
	msg, err := parse(filer, src)
	if err != nil {
		return nil, fmt.Errorf("mailparse: %v", err)
	}
	return msg, nil
}

func parse(filer *iox.Filer, src io.Reader) (msgPtr *email.Msg, err error) {
	msg := new(email.Msg)
	defer func() {
		if err != nil {
			msg.Close()
		}
	}()

	h := blake3.New()
	cr := &countReader{r: io.TeeReader(src, h)}
	r := bufio.NewReader(cr)

	msg.Headers, err = ReadHeader(r)
	if err != nil {
		return nil, err
	}
	if len(msg.Headers.Entries) == 0 {
		return nil, fmt.Errorf("no headers")
	}

	p := &parser{filer: filer, msg: msg}
	if err := p.walk(msg.Headers, "", 0, r, 0); err != nil {
		return nil, fmt.Errorf("cannot process mime part: %v", err)
	}
	// Drain so the hash covers the whole input.
	if _, err := io.Copy(io.Discard, r); err != nil {
		return nil, err
	}

	msg.RawHash = base64.RawURLEncoding.EncodeToString(h.Sum(nil))
	msg.EncodedSize = cr.n
	return msg, nil
}

type parser struct {
	filer *iox.Filer
	msg   *email.Msg
}

func (p *parser) walk(hdr email.Header, parentMediaType string, localPartNum int, r io.Reader, depth int) error {
	mediaType, params, err := mime.ParseMediaType(string(hdr.Get("Content-Type")))
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") || depth >= maxDepth {
		return p.part(hdr, parentMediaType, localPartNum, r)
	}
	boundary := params["boundary"]
	if boundary == "" {
		return p.part(hdr, parentMediaType, localPartNum, r)
	}

	mr := multipart.NewReader(r, boundary)
	for i := 0; ; i++ {
		part, err := mr.NextRawPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			if i > 0 {
				// Truncated archives often lose the closing boundary.
				return nil
			}
			return fmt.Errorf("corrupt mime part: %v", err)
		}
		partHdr := convertHeader(part.Header)
		if err := p.walk(partHdr, mediaType, i, part, depth+1); err != nil {
			return err
		}
	}
	return nil
}

func (p *parser) part(hdr email.Header, parentMediaType string, localPartNum int, r io.Reader) (err error) {
	mediaType, params, err := mime.ParseMediaType(string(hdr.Get("Content-Type")))
	if err != nil {
		// RFC 2045 default.
		mediaType, params = "text/plain", map[string]string{}
	}
	if mediaType == "image/jpg" { // yes people do this
		mediaType = "image/jpeg"
	}

	isAttachment := false
	fileName := ""
	if d, dparams, err := mime.ParseMediaType(string(hdr.Get("Content-Disposition"))); err == nil {
		fileName = dparams["filename"]
		if strings.EqualFold(d, "attachment") {
			isAttachment = true
		}
	}
	if fileName == "" {
		fileName = params["name"]
	}
	fileName = DecodeHeader(fileName)

	isBody := false
	switch parentMediaType {
	case "":
		isBody = true
	case "multipart/alternative":
		isBody = !isAttachment
	case "multipart/mixed", "multipart/related", "multipart/signed":
		isBody = localPartNum == 0 && !isAttachment
		if len(hdr.Get("Content-Disposition")) == 0 && localPartNum > 0 {
			isAttachment = !strings.HasPrefix(mediaType, "text/")
		}
	default:
		isBody = localPartNum == 0
	}
	if isBody && !strings.HasPrefix(mediaType, "text/") {
		isBody = false
		isAttachment = true
	}

	raw := p.filer.BufferFile(0)
	defer raw.Close()
	if _, err := io.Copy(raw, r); err != nil {
		return err
	}

	buf := p.filer.BufferFile(0)
	defer func() {
		if err != nil {
			buf.Close()
		}
	}()
	cte := strings.ToLower(strings.TrimSpace(string(hdr.Get("Content-Transfer-Encoding"))))
	if err := transferDecode(buf, raw, cte); err != nil {
		return err
	}

	charset := strings.ToLower(params["charset"])
	if strings.HasPrefix(mediaType, "text/") {
		buf, err = p.toUTF8(buf, charset)
		if err != nil {
			return err
		}
	}
	if _, err := buf.Seek(0, 0); err != nil {
		return err
	}

	contentID := strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(string(hdr.Get("Content-ID"))), "<"), ">")

	p.msg.Parts = append(p.msg.Parts, email.Part{
		PartNum:      len(p.msg.Parts),
		Name:         fileName,
		IsBody:       isBody,
		IsAttachment: isAttachment,
		ContentType:  mediaType,
		ContentID:    contentID,
		Charset:      charset,
		Content:      buf,
	})
	return nil
}

// transferDecode writes the decoded content of raw to dst.
// If the content does not decode, the raw bytes are used.
func transferDecode(dst *iox.BufferFile, raw *iox.BufferFile, cte string) error {
	if _, err := raw.Seek(0, 0); err != nil {
		return err
	}
	var r io.Reader
	switch cte {
	case "base64":
		r = base64.NewDecoder(base64.StdEncoding, &base64Cleaner{r: raw})
	case "quoted-printable":
		r = quotedprintable.NewReader(raw)
	default:
		_, err := io.Copy(dst, raw)
		return err
	}
	if _, err := io.Copy(dst, r); err == nil {
		return nil
	}
	if err := dst.Truncate(0); err != nil {
		return err
	}
	if _, err := dst.Seek(0, 0); err != nil {
		return err
	}
	if _, err := raw.Seek(0, 0); err != nil {
		return err
	}
	_, err := io.Copy(dst, raw)
	return err
}

func (p *parser) toUTF8(buf *iox.BufferFile, charset string) (*iox.BufferFile, error) {
	enc := lookupCharset(charset)
	if enc == nil {
		if _, err := buf.Seek(0, 0); err != nil {
			return nil, err
		}
		valid, err := isUTF8(buf)
		if err != nil {
			return nil, err
		}
		if valid {
			return buf, nil
		}
		enc = charmap.Windows1252
	}
	if _, err := buf.Seek(0, 0); err != nil {
		return nil, err
	}
	out := p.filer.BufferFile(0)
	if _, err := io.Copy(out, enc.NewDecoder().Reader(buf)); err != nil {
		out.Close()
		return nil, err
	}
	buf.Close()
	return out, nil
}

// lookupCharset reports the decoder for a MIME charset.
// UTF-8, US-ASCII and unknown charsets report nil.
func lookupCharset(charset string) encoding.Encoding {
	switch charset {
	case "", "utf-8", "utf8", "us-ascii", "ascii":
		return nil
	case "latin1", "iso8859-1":
		return charmap.ISO8859_1
	}
	enc, err := ianaindex.MIME.Encoding(charset)
	if err != nil || enc == nil {
		return nil
	}
	return enc
}

func isUTF8(r io.Reader) (bool, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return false, err
	}
	return utf8.Valid(b), nil
}

// ReadHeader reads a MIME-style header from r.
// The header is a sequence of possibly continued Key: Value lines
// ending in a blank line or the end of input.
//
// Lines that are not headers (no colon, or a leading mbox
// "From " envelope line) are skipped.
func ReadHeader(r *bufio.Reader) (email.Header, error) {
	var hdr email.Header
	var key email.Key
	var val []byte
	flush := func() {
		if key != "" {
			hdr.Add(key, DecodeHeaderBytes(bytes.TrimSpace(val)))
		}
		key, val = "", nil
	}
	for {
		line, err := r.ReadBytes('\n')
		if err != nil && err != io.EOF {
			return hdr, err
		}
		eof := err == io.EOF
		line = bytes.TrimRight(line, "\r\n")
		if len(line) == 0 {
			flush()
			return hdr, nil
		}
		if line[0] == ' ' || line[0] == '\t' {
			if key != "" {
				val = append(val, ' ')
				val = append(val, bytes.TrimSpace(line)...)
			}
		} else {
			flush()
			i := bytes.IndexByte(line, ':')
			if i > 0 && !bytes.ContainsAny(line[:i], " \t") {
				key = email.CanonicalKey(line[:i])
				val = append([]byte(nil), line[i+1:]...)
			}
		}
		if eof {
			flush()
			return hdr, nil
		}
	}
}

func convertHeader(h map[string][]string) email.Header {
	var hdr email.Header
	for k, vs := range h {
		key := email.CanonicalKey([]byte(k))
		for _, v := range vs {
			hdr.Add(key, []byte(strings.TrimSpace(v)))
		}
	}
	return hdr
}

type countReader struct {
	r io.Reader
	n int64
}

func (c *countReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// base64Cleaner drops bytes outside the base64 alphabet,
// such as the stray spaces and line noise found in old mail.
type base64Cleaner struct {
	r io.Reader
}

func (c *base64Cleaner) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	j := 0
	for _, b := range p[:n] {
		switch {
		case 'A' <= b && b <= 'Z', 'a' <= b && b <= 'z', '0' <= b && b <= '9',
			b == '+', b == '/', b == '=':
			p[j] = b
			j++
		}
	}
	return j, err
}
