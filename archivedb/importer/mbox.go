package importer

import (
	"bufio"
	"errors"
	"io"
	"strings"

	"crarchive.org/email/maildate"
)

// errNotMbox reports a file that does not start with an envelope line.
var errNotMbox = errors.New("not an mbox file")

// mboxReader splits an mbox file into messages.
//
// A message starts at a "From " line carrying an envelope date.
// Lines escaped as ">From " (any number of '>') lose one '>',
// and the blank line before the next envelope is dropped.
type mboxReader struct {
	br       *bufio.Reader
	envelope string // envelope of the next message
	started  bool
	eof      bool
}

func newMboxReader(r io.Reader) *mboxReader {
	return &mboxReader{br: bufio.NewReader(r)}
}

// Next writes the next message to dst and reports its envelope line.
// At the end of the file it reports io.EOF.
func (m *mboxReader) Next(dst io.Writer) (envelope string, err error) {
	if !m.started {
		m.started = true
		for {
			line, err := m.br.ReadString('\n')
			if err == io.EOF && line == "" {
				return "", io.EOF
			} else if err != nil && err != io.EOF {
				return "", err
			}
			if isBlank(line) {
				continue
			}
			if !isEnvelope(line) {
				return "", errNotMbox
			}
			m.envelope = strings.TrimRight(line, "\r\n")
			break
		}
	}
	if m.eof {
		return "", io.EOF
	}

	envelope = m.envelope
	w := bufio.NewWriter(dst)
	pendingBlank := ""
	for {
		line, err := m.br.ReadString('\n')
		if err != nil && err != io.EOF {
			return "", err
		}
		if line == "" && err == io.EOF {
			m.eof = true
			break
		}
		if isEnvelope(line) {
			m.envelope = strings.TrimRight(line, "\r\n")
			break
		}
		if isBlank(line) {
			if _, werr := w.WriteString(pendingBlank); werr != nil {
				return "", werr
			}
			pendingBlank = line
		} else {
			if _, werr := w.WriteString(pendingBlank + unescapeFrom(line)); werr != nil {
				return "", werr
			}
			pendingBlank = ""
		}
		if err == io.EOF {
			m.eof = true
			break
		}
	}
	if err := w.Flush(); err != nil {
		return "", err
	}
	return envelope, nil
}

func isBlank(line string) bool {
	return strings.TrimRight(line, "\r\n") == ""
}

// isEnvelope reports whether line is an mbox "From " separator.
// Unescaped "From " lines in bodies rarely carry a parsable date.
func isEnvelope(line string) bool {
	if !strings.HasPrefix(line, "From ") {
		return false
	}
	_, err := maildate.ParseEnvelope(strings.TrimRight(line, "\r\n"))
	return err == nil
}

func unescapeFrom(line string) string {
	s := strings.TrimLeft(line, ">")
	if len(s) < len(line) && strings.HasPrefix(s, "From ") {
		return line[1:]
	}
	return line
}
