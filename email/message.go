// Package email is a light-weight set of types fundamental to archiving email.
package email

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// MsgID is a unique identifier for an archived message.
//
// A message does not have a MsgID until it is stored in the archive database.
type MsgID int64

func (id MsgID) String() string { return fmt.Sprintf("m%d", int64(id)) }

// ParseMsgID parses the String form of a MsgID.
// A bare decimal number is also accepted.
func ParseMsgID(str string) (MsgID, error) {
	s := strings.TrimPrefix(str, "m")
	if s == "" {
		return 0, fmt.Errorf("ParseMsgID: empty id %q", str)
	}
	i, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("ParseMsgID: %v", err)
	}
	if i <= 0 {
		return 0, fmt.Errorf("ParseMsgID: %d is not positive", i)
	}
	return MsgID(i), nil
}

// Msg is an email message.
type Msg struct {
	MsgID       MsgID  // assigned on insertion into the archive, 0 otherwise
	RawHash     string // hash of the raw message bytes
	Date        time.Time
	Headers     Header
	Parts       []Part // Parts[i].PartNum == i
	EncodedSize int64  // size of the raw message
}

func (m *Msg) Close() {
	for i := range m.Parts {
		p := &m.Parts[i]
		if p.Content != nil {
			p.Content.Close()
			p.Content = nil
		}
	}
}

// Body reports the first body part with the given media type.
func (m *Msg) Body(contentType string) *Part {
	for i := range m.Parts {
		p := &m.Parts[i]
		if p.IsBody && p.ContentType == contentType {
			return p
		}
	}
	return nil
}

// Part represents a single part of a MIME multipart message.
// A Msg with a single text/plain part is not multipart encoded.
type Part struct {
	PartNum      int
	Name         string
	IsBody       bool
	IsAttachment bool
	ContentType  string
	ContentID    string
	Charset      string // declared charset, text parts are decoded to UTF-8
	Content      Buffer // decoded data
}

// Buffer is content store.
//
// It is usually an *iox.BufferFile.
type Buffer interface {
	io.Reader
	io.Writer
	io.Seeker
	io.Closer
	Size() int64
}

// Address is an email address.
type Address struct {
	Name string // proper name, may be empty
	Addr string // user@domain
}

// Display reports the name if known, otherwise the address.
func (a Address) Display() string {
	if a.Name != "" {
		return a.Name
	}
	return a.Addr
}
