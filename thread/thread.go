// Package thread reconstructs reply threads from message headers.
//
// It implements Jamie Zawinski's message threading algorithm
// (https://www.jwz.org/doc/threading.html) over the Message-ID,
// References and In-Reply-To headers, with optional grouping of
// unlinked messages by subject.
//
// The result does not depend on the order of the input messages.
package thread

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"crarchive.org/email/bodytext"
)

// Message is a message to be threaded.
type Message interface {
	MessageID() string
	References() []string // oldest first, see MergeReferences
	Subject() string
	Date() time.Time
}

// Container is a node in a thread tree.
//
// An empty container has no Message. It stands for a message that
// is referenced but not in the archive, or joins messages that share
// a subject.
type Container struct {
	ID       string // Message-ID, or a synthetic ID for duplicates
	Message  Message
	Parent   *Container
	Children []*Container

	earliest time.Time // cached by sortTree
}

// Earliest reports the date of the earliest message in the tree
// rooted at c.
func (c *Container) Earliest() time.Time {
	if !c.earliest.IsZero() {
		return c.earliest
	}
	var t time.Time
	if c.Message != nil {
		t = c.Message.Date()
	}
	for _, child := range c.Children {
		if ct := child.Earliest(); !ct.IsZero() && (t.IsZero() || ct.Before(t)) {
			t = ct
		}
	}
	return t
}

// Count reports the number of messages in the tree rooted at c.
func (c *Container) Count() int {
	n := 0
	if c.Message != nil {
		n++
	}
	for _, child := range c.Children {
		n += child.Count()
	}
	return n
}

// isAncestorOf reports whether c is d or one of d's ancestors.
func (c *Container) isAncestorOf(d *Container) bool {
	for ; d != nil; d = d.Parent {
		if d == c {
			return true
		}
	}
	return false
}

func (c *Container) addChild(child *Container) {
	child.Parent = c
	c.Children = append(c.Children, child)
}

func (c *Container) detach() {
	p := c.Parent
	if p == nil {
		return
	}
	for i, child := range p.Children {
		if child == c {
			p.Children = append(p.Children[:i:i], p.Children[i+1:]...)
			break
		}
	}
	c.Parent = nil
}

// Options configures Thread.
type Options struct {
	// GroupBySubject gathers root messages sharing a base subject
	// into one thread, as in step 5 of the JWZ algorithm.
	GroupBySubject bool
}

// Thread builds thread trees from msgs and returns their roots.
//
// Siblings are ordered by date, roots by the date of the earliest
// message in their tree.
func Thread(msgs []Message, opts Options) []*Container {
	sorted := append([]Message(nil), msgs...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return lessMsg(sorted[i], sorted[j])
	})

	t := &threader{ids: make(map[string]*Container)}
	conts := make([]*Container, len(sorted))
	for i, m := range sorted {
		conts[i] = t.add(m)
	}
	for i, m := range sorted {
		t.linkRefs(conts[i], m.References())
	}
	for i, m := range sorted {
		t.setParent(conts[i], m.References())
	}

	var roots []*Container
	for _, c := range t.order {
		if c.Parent == nil {
			roots = append(roots, c)
		}
	}
	roots = prune(nil, roots)
	sortTree(roots)

	if opts.GroupBySubject {
		roots = groupBySubject(roots)
		sortTree(roots)
	}
	return roots
}

func lessMsg(a, b Message) bool {
	if da, db := a.Date(), b.Date(); !da.Equal(db) {
		return da.Before(db)
	}
	if ia, ib := a.MessageID(), b.MessageID(); ia != ib {
		return ia < ib
	}
	if sa, sb := a.Subject(), b.Subject(); sa != sb {
		return sa < sb
	}
	return strings.Join(a.References(), " ") < strings.Join(b.References(), " ")
}

type threader struct {
	ids   map[string]*Container
	order []*Container // containers in creation order
	dups  int
}

func (t *threader) container(id string) *Container {
	c := t.ids[id]
	if c == nil {
		c = &Container{ID: id}
		t.ids[id] = c
		t.order = append(t.order, c)
	}
	return c
}

// add creates the container holding m.
// A message with no Message-ID, or with the Message-ID of a message
// already added, is given a synthetic ID.
func (t *threader) add(m Message) *Container {
	id := m.MessageID()
	if c := t.ids[id]; id == "" || (c != nil && c.Message != nil) {
		t.dups++
		id = fmt.Sprintf("dup %d %s", t.dups, id)
	}
	c := t.container(id)
	c.Message = m
	return c
}

// linkRefs links each pair of adjacent references as parent and
// child, unless the child already has a parent or the link would
// create a loop.
func (t *threader) linkRefs(c *Container, refs []string) {
	var prev *Container
	for _, ref := range refs {
		if ref == "" {
			continue
		}
		rc := t.container(ref)
		if rc == c {
			continue
		}
		if prev != nil && rc.Parent == nil && !rc.isAncestorOf(prev) {
			prev.addChild(rc)
		}
		prev = rc
	}
}

// setParent makes the last reference of a message its parent.
// A message's own headers override any parent implied by the
// references of other messages.
func (t *threader) setParent(c *Container, refs []string) {
	var parent *Container
	for i := len(refs) - 1; i >= 0; i-- {
		if refs[i] != "" && t.ids[refs[i]] != c {
			parent = t.ids[refs[i]]
			break
		}
	}
	if parent == c.Parent {
		return
	}
	c.detach()
	if parent != nil && !c.isAncestorOf(parent) {
		parent.addChild(c)
	}
}

// prune removes empty containers from a list of siblings.
// An empty container without children is dropped. One with children
// is replaced by them, except in the root set where it is kept
// unless it has a single child.
func prune(parent *Container, list []*Container) []*Container {
	var out []*Container
	for _, c := range list {
		c.Children = prune(c, c.Children)
		if c.Message != nil {
			out = append(out, c)
			continue
		}
		switch {
		case len(c.Children) == 0:
			c.Parent = nil
		case parent != nil || len(c.Children) == 1:
			for _, child := range c.Children {
				child.Parent = parent
				out = append(out, child)
			}
			c.Children = nil
			c.Parent = nil
		default:
			out = append(out, c)
		}
	}
	return out
}

// groupBySubject merges root threads that share a base subject.
func groupBySubject(roots []*Container) []*Container {
	type entry struct {
		c     *Container
		reply bool
	}
	subjects := make(map[string]entry)
	subjectOf := func(c *Container) (string, bool) {
		m := c.Message
		if m == nil && len(c.Children) > 0 {
			m = c.Children[0].Message
		}
		if m == nil {
			return "", false
		}
		base, reply := bodytext.SplitSubject(m.Subject())
		return strings.ToLower(base), reply
	}

	for _, c := range roots {
		key, reply := subjectOf(c)
		if key == "" {
			continue
		}
		old, found := subjects[key]
		if !found ||
			(c.Message == nil && old.c.Message != nil) ||
			(old.reply && !reply && (old.c.Message != nil) == (c.Message != nil)) {
			subjects[key] = entry{c: c, reply: reply}
		}
	}

	var out []*Container
	removed := make(map[*Container]bool)
	for _, this := range roots {
		if removed[this] {
			continue
		}
		key, reply := subjectOf(this)
		e, found := subjects[key]
		if key == "" || !found || e.c == this {
			continue
		}
		that := e.c
		switch {
		case this.Message == nil && that.Message == nil:
			for _, child := range this.Children {
				that.addChild(child)
			}
			this.Children = nil
			removed[this] = true
		case that.Message == nil:
			that.addChild(this)
			removed[this] = true
		case this.Message == nil:
			this.addChild(that)
			removed[that] = true
			subjects[key] = entry{c: this}
		case !e.reply && reply:
			that.addChild(this)
			removed[this] = true
		case e.reply && !reply:
			this.addChild(that)
			removed[that] = true
			subjects[key] = entry{c: this, reply: reply}
		default:
			joined := &Container{ID: "subject " + key}
			joined.addChild(that)
			joined.addChild(this)
			removed[that] = true
			removed[this] = true
			subjects[key] = entry{c: joined}
			out = append(out, joined)
		}
	}
	for _, c := range roots {
		if !removed[c] {
			out = append(out, c)
		}
	}
	return out
}

// sortTree orders siblings by date throughout the trees.
func sortTree(list []*Container) {
	for _, c := range list {
		c.earliest = time.Time{}
		sortTree(c.Children)
		c.earliest = c.Earliest()
	}
	sort.SliceStable(list, func(i, j int) bool {
		ti, tj := list[i].Earliest(), list[j].Earliest()
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return list[i].ID < list[j].ID
	})
}

// Walk calls fn for each container of the trees in depth-first order.
// The depth of a root is 0.
func Walk(roots []*Container, fn func(c *Container, depth int)) {
	var walk func(list []*Container, depth int)
	walk = func(list []*Container, depth int) {
		for _, c := range list {
			fn(c, depth)
			walk(c.Children, depth+1)
		}
	}
	walk(roots, 0)
}

// MergeReferences combines the References and In-Reply-To ids of a
// message into one list, oldest first. The first In-Reply-To id is
// appended when References does not already contain it.
func MergeReferences(references, inReplyTo []string) []string {
	refs := append([]string(nil), references...)
	if len(inReplyTo) == 0 {
		return refs
	}
	irt := inReplyTo[0]
	for _, r := range refs {
		if r == irt {
			return refs
		}
	}
	return append(refs, irt)
}
