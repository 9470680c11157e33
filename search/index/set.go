package index

import (
	"sort"

	"crarchive.org/email"
)

// Set is the result of evaluating a query: the matching pages,
// each with the fragments that matched.
//
// A page may match with no fragments, for example under a negation.
// Sets returned by the evaluator are shared and must not be modified.
type Set map[email.MsgID]Frags

// Frags is a sorted list of fragment numbers.
type Frags []int

// MsgIDs reports the pages of s in increasing order.
func (s Set) MsgIDs() []email.MsgID {
	ids := make([]email.MsgID, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (f Frags) union(g Frags) Frags {
	if len(f) == 0 {
		return g
	}
	if len(g) == 0 {
		return f
	}
	out := make(Frags, 0, len(f)+len(g))
	i, j := 0, 0
	for i < len(f) && j < len(g) {
		switch {
		case f[i] < g[j]:
			out = append(out, f[i])
			i++
		case f[i] > g[j]:
			out = append(out, g[j])
			j++
		default:
			out = append(out, f[i])
			i++
			j++
		}
	}
	out = append(out, f[i:]...)
	return append(out, g[j:]...)
}

func (f Frags) intersect(g Frags) Frags {
	var out Frags
	i, j := 0, 0
	for i < len(f) && j < len(g) {
		switch {
		case f[i] < g[j]:
			i++
		case f[i] > g[j]:
			j++
		default:
			out = append(out, f[i])
			i++
			j++
		}
	}
	return out
}

// and reports the pages in both a and b, with their fragments unioned.
func and(a, b Set) Set {
	if len(b) < len(a) {
		a, b = b, a
	}
	out := make(Set)
	for id, fa := range a {
		if fb, ok := b[id]; ok {
			out[id] = fa.union(fb)
		}
	}
	return out
}

// or reports the pages in a or b, with their fragments unioned.
func or(a, b Set) Set {
	out := make(Set, len(a)+len(b))
	for id, f := range a {
		out[id] = f
	}
	for id, f := range b {
		out[id] = out[id].union(f)
	}
	return out
}

// without reports the pages of a that are not in b.
func without(a, b Set) Set {
	out := make(Set)
	for id, f := range a {
		if _, ok := b[id]; !ok {
			out[id] = f
		}
	}
	return out
}

// near reports the pages of a and b that share a fragment,
// keeping only the shared fragments.
func near(a, b Set) Set {
	if len(b) < len(a) {
		a, b = b, a
	}
	out := make(Set)
	for id, fa := range a {
		fb, ok := b[id]
		if !ok {
			continue
		}
		if f := fa.intersect(fb); len(f) > 0 {
			out[id] = f
		}
	}
	return out
}
