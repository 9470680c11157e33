package bodytext

import (
	"regexp"
	"strings"
)

// Fragment is a numbered paragraph of a message.
//
// Fragment 0 is the header fragment, the subject and author.
// Body fragments are numbered from 1 in text order.
type Fragment struct {
	Num    int
	Text   string
	Quoted bool // every line is quoted from an earlier message
}

// HeaderFragment builds fragment 0 of a message.
func HeaderFragment(subject, author string) Fragment {
	return Fragment{Num: 0, Text: strings.TrimSpace(subject + "\n" + author)}
}

// Fragments splits text into paragraphs.
//
// Paragraphs are separated by blank lines, or by a change between
// quoted and unquoted lines. A quoted block stays one fragment
// across blank lines.
func Fragments(text string) []Fragment {
	var frags []Fragment
	var cur []string
	curQuoted := false
	emit := func() {
		if len(cur) > 0 {
			frags = append(frags, Fragment{
				Num:    len(frags) + 1,
				Text:   strings.Join(cur, "\n"),
				Quoted: curQuoted,
			})
		}
		cur = nil
	}

	lines := strings.Split(Clean(text), "\n")
	for i := 0; i < len(lines); i++ {
		line := lines[i]
		if strings.TrimSpace(line) == "" {
			if curQuoted && len(cur) > 0 && nextQuoted(lines[i+1:]) {
				cur = append(cur, "")
				continue
			}
			emit()
			continue
		}
		q := IsQuoted(line)
		if len(cur) > 0 && q != curQuoted {
			emit()
		}
		curQuoted = q
		cur = append(cur, line)
	}
	emit()
	return frags
}

// nextQuoted reports whether the next non-blank line is quoted.
func nextQuoted(lines []string) bool {
	for _, line := range lines {
		if strings.TrimSpace(line) != "" {
			return IsQuoted(line)
		}
	}
	return false
}

// IsQuoted reports whether a line is quoted from another message.
func IsQuoted(line string) bool {
	s := strings.TrimLeft(line, " \t")
	return strings.HasPrefix(s, ">") || strings.HasPrefix(s, "|>")
}

var subjectPrefixRE = regexp.MustCompile(`(?i)^\s*(?:(?:re|fwd?|aw)\s*(?:\[\d+\]|\(\d+\))?\s*:|\[[^\]]*\])\s*`)

// SplitSubject removes reply and forward prefixes and list tags
// such as "[CR]" from a subject, reporting whether any reply or
// forward prefix was present.
func SplitSubject(s string) (base string, reply bool) {
	for {
		loc := subjectPrefixRE.FindStringIndex(s)
		if loc == nil || loc[1] == 0 {
			break
		}
		prefix := strings.TrimSpace(s[:loc[1]])
		if !strings.HasPrefix(prefix, "[") {
			reply = true
		}
		s = s[loc[1]:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "(fwd)")
	return strings.Join(strings.Fields(s), " "), reply
}

// NormalizeSubject is the base subject of s, see SplitSubject.
func NormalizeSubject(s string) string {
	base, _ := SplitSubject(s)
	return base
}
