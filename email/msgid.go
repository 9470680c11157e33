package email

import "strings"

// MessageID normalizes a Message-ID header value.
//
// Surrounding white space and angle brackets are removed.
// If the value holds more than one bracketed id, the first is used.
func MessageID(v string) string {
	v = strings.TrimSpace(v)
	if i := strings.IndexByte(v, '<'); i >= 0 {
		if j := strings.IndexByte(v[i:], '>'); j > 0 {
			return strings.TrimSpace(v[i+1 : i+j])
		}
		v = v[i+1:]
	}
	v = strings.TrimSuffix(v, ">")
	if strings.ContainsAny(v, " \t") {
		return ""
	}
	return v
}

// ParseReferences extracts the bracketed message ids in a References
// or In-Reply-To header value, in order.
//
// Mail clients put all sorts of things in In-Reply-To,
// including quoted sender names and dates, which are ignored.
func ParseReferences(v string) []string {
	var ids []string
	for {
		i := strings.IndexByte(v, '<')
		if i < 0 {
			break
		}
		j := strings.IndexByte(v[i:], '>')
		if j < 0 {
			break
		}
		id := strings.TrimSpace(v[i+1 : i+j])
		if id != "" && !strings.ContainsAny(id, " \t<") {
			ids = append(ids, id)
		}
		v = v[i+j+1:]
	}
	return ids
}
