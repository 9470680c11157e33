// Package maildate finds the date a message was sent.
//
// Old list archives carry Date headers in dozens of broken shapes,
// and some carry none at all. Extract tries the Date header, then the
// Received trace headers, then the mbox envelope line.
package maildate

import (
	"errors"
	"strings"
	"time"

	"crarchive.org/email"
)

// Source records where a message date came from.
type Source int

const (
	DateNone Source = iota
	DateHeader
	DateReceived
	DateEnvelope
)

func (s Source) String() string {
	switch s {
	case DateHeader:
		return "header"
	case DateReceived:
		return "received"
	case DateEnvelope:
		return "envelope"
	default:
		return "none"
	}
}

var ErrNoDate = errors.New("maildate: no plausible date")

// Earliest is the oldest date accepted as plausible.
var Earliest = time.Date(1985, time.January, 1, 0, 0, 0, 0, time.UTC)

// Slop is how far into the future a date may be.
const Slop = 48 * time.Hour

var now = time.Now

// Plausible reports whether t could be the send date of a message.
func Plausible(t time.Time) bool {
	return !t.Before(Earliest) && !t.After(now().Add(Slop))
}

// Extract reports the send date of a message with headers hdr.
// The envelope is the mbox "From " line of the message, if any.
func Extract(hdr email.Header, envelope string) (time.Time, Source, error) {
	if t, err := Parse(string(hdr.Get("Date"))); err == nil && Plausible(t) {
		return t, DateHeader, nil
	}
	for _, v := range hdr.All("Received") {
		s := string(v)
		i := strings.LastIndexByte(s, ';')
		if i < 0 {
			continue
		}
		if t, err := Parse(s[i+1:]); err == nil && Plausible(t) {
			return t, DateReceived, nil
		}
	}
	if envelope != "" {
		if t, err := ParseEnvelope(envelope); err == nil && Plausible(t) {
			return t, DateEnvelope, nil
		}
	}
	return time.Time{}, DateNone, ErrNoDate
}

// ParseEnvelope parses the date of an mbox "From " line.
// The line may be given with or without the "From sender" prefix.
func ParseEnvelope(line string) (time.Time, error) {
	line = strings.TrimSpace(line)
	if strings.HasPrefix(line, "From ") {
		f := strings.Fields(line)
		if len(f) < 3 {
			return time.Time{}, errors.New("maildate: short envelope line")
		}
		line = strings.Join(f[2:], " ")
	}
	return Parse(line)
}

type layout struct {
	layout    string
	shortYear bool
}

var layouts = []layout{
	{"2 Jan 2006 15:04:05 -0700", false},
	{"2 Jan 2006 15:04 -0700", false},
	{"2 Jan 06 15:04:05 -0700", true},
	{"2 Jan 06 15:04 -0700", true},
	{"2 Jan 2006 15:04:05", false},
	{"2 Jan 2006 15:04", false},
	{"2 Jan 06 15:04:05", true},
	{"Jan 2 2006 15:04:05 -0700", false},
	{"Jan 2 15:04:05 2006", false},
	{"Jan 2 15:04:05 -0700 2006", false},
	{"Jan 2 15:04 2006", false},
	{"Jan 2 06 15:04:05 -0700", true},
	{"2006-01-02T15:04:05Z07:00", false},
	{"2006-01-02 15:04:05 -0700", false},
	{"2006-01-02 15:04:05", false},
	{"2 January 2006 15:04:05 -0700", false},
	{"January 2 2006 15:04:05 -0700", false},
	{"2-Jan-2006 15:04:05 -0700", false},
	{"2-Jan-06 15:04:05 -0700", true},
}

// Parse parses a date in any of the layouts seen in old mail.
// Dates without a zone are taken to be UTC.
func Parse(v string) (time.Time, error) {
	s := normalize(v)
	if s == "" {
		return time.Time{}, errors.New("maildate: empty date")
	}
	for _, l := range layouts {
		t, err := time.Parse(l.layout, s)
		if err != nil {
			continue
		}
		if l.shortYear && t.Year() == 1969 {
			// time.Parse puts 69 in 1969.
			t = t.AddDate(100, 0, 0)
		}
		return t, nil
	}
	return time.Time{}, errors.New("maildate: unrecognized date: " + v)
}

var zones = map[string]string{
	"UT":   "+0000",
	"UTC":  "+0000",
	"GMT":  "+0000",
	"Z":    "+0000",
	"WET":  "+0000",
	"BST":  "+0100",
	"CET":  "+0100",
	"MET":  "+0100",
	"MEZ":  "+0100",
	"CEST": "+0200",
	"MEST": "+0200",
	"MESZ": "+0200",
	"EET":  "+0200",
	"JST":  "+0900",
	"AEST": "+1000",
	"EST":  "-0500",
	"EDT":  "-0400",
	"CST":  "-0600",
	"CDT":  "-0500",
	"MST":  "-0700",
	"MDT":  "-0600",
	"PST":  "-0800",
	"PDT":  "-0700",
	"AKST": "-0900",
	"HST":  "-1000",
}

var weekdays = []string{"mon", "tue", "wed", "thu", "fri", "sat", "sun"}

func normalize(v string) string {
	// Drop comments such as "(PDT)".
	var b strings.Builder
	depth := 0
	for _, r := range v {
		switch {
		case r == '(':
			depth++
		case r == ')' && depth > 0:
			depth--
		case depth > 0:
		case r == ',':
			b.WriteByte(' ')
		default:
			b.WriteRune(r)
		}
	}
	f := strings.Fields(b.String())
	if len(f) > 0 && isWeekday(f[0]) {
		f = f[1:]
	}
	for i, s := range f {
		if z, ok := zones[strings.ToUpper(s)]; ok {
			f[i] = z
		} else if fixed, ok := fixZone(s); ok {
			f[i] = fixed
		}
	}
	// "-0500 EST": the numeric zone wins.
	if n := len(f); n >= 2 && isNumericZone(f[n-2]) && isNumericZone(f[n-1]) {
		f = f[:n-1]
	}
	// Unknown zone abbreviations are dropped.
	if n := len(f); n >= 4 && isAlpha(f[n-1]) && len(f[n-1]) <= 5 && !isMonth(f[n-1]) {
		f = f[:n-1]
	}
	return strings.Join(f, " ")
}

// fixZone repairs numeric zones missing a leading zero, as in "-500".
func fixZone(s string) (string, bool) {
	if len(s) == 4 && (s[0] == '+' || s[0] == '-') && isDigits(s[1:]) {
		return s[:1] + "0" + s[1:], true
	}
	return "", false
}

func isWeekday(s string) bool {
	s = strings.ToLower(s)
	if len(s) < 3 {
		return false
	}
	for _, d := range weekdays {
		if strings.HasPrefix(s, d) {
			return true
		}
	}
	return false
}

var months = []string{"jan", "feb", "mar", "apr", "may", "jun", "jul", "aug", "sep", "oct", "nov", "dec"}

func isMonth(s string) bool {
	s = strings.ToLower(s)
	if len(s) < 3 {
		return false
	}
	for _, m := range months {
		if strings.HasPrefix(s, m) {
			return true
		}
	}
	return false
}

func isNumericZone(s string) bool {
	return len(s) == 5 && (s[0] == '+' || s[0] == '-') && isDigits(s[1:])
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return len(s) > 0
}

func isAlpha(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !('a' <= c && c <= 'z' || 'A' <= c && c <= 'Z') {
			return false
		}
	}
	return len(s) > 0
}
