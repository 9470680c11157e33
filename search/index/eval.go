package index

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"crawshaw.io/sqlite"
	"crawshaw.io/sqlite/sqlitex"
	lru "github.com/hashicorp/golang-lru"

	"crarchive.org/email"
	"crarchive.org/search/query"
)

// Eval evaluates q against the index.
func (ix *Index) Eval(ctx context.Context, q query.Node) (Set, error) {
	conn := ix.PoolRO.Get(ctx)
	if conn == nil {
		return nil, context.Canceled
	}
	defer ix.PoolRO.Put(conn)

	s, err := ix.eval(conn, q)
	if err != nil {
		return nil, fmt.Errorf("index.Eval: %v", err)
	}
	return s, nil
}

// eval reads the generation and every postings list of q
// in one read transaction.
func (ix *Index) eval(conn *sqlite.Conn, q query.Node) (_ Set, err error) {
	defer sqlitex.Save(conn)(&err)

	gen, err := generation(conn)
	if err != nil {
		return nil, err
	}
	e := &evaluator{
		conn:  conn,
		gen:   gen,
		cache: ix.cache,
		memo:  make(map[string]Set),
	}
	return e.eval(q)
}

const universeKey = "*"

// evaluator evaluates one query.
// Sub-queries are memoized by their canonical string.
type evaluator struct {
	conn  *sqlite.Conn
	gen   int64
	cache *postingsCache
	memo  map[string]Set
}

func (e *evaluator) eval(n query.Node) (s Set, err error) {
	key := n.String()
	if s, ok := e.memo[key]; ok {
		return s, nil
	}
	switch n := n.(type) {
	case query.Term:
		s, err = e.term(n.Word)
	case query.Phrase:
		s, err = e.phrase(n.Words)
	case query.And:
		s, err = e.and(n.Children)
	case query.Or:
		s, err = e.or(n.Children)
	case query.Not:
		s, err = e.not([]query.Node{n.Child})
	default:
		err = fmt.Errorf("unknown query node %T", n)
	}
	if err != nil {
		return nil, err
	}
	e.memo[key] = s
	return s, nil
}

func (e *evaluator) term(word string) (Set, error) {
	if s, ok := e.cache.get(e.gen, word); ok {
		return s, nil
	}
	stmt := e.conn.Prep(`SELECT Postings.MsgID, Postings.Fragment
		FROM Postings
		INNER JOIN Terms ON Terms.TermID = Postings.TermID
		WHERE Terms.Term = $term
		ORDER BY Postings.MsgID, Postings.Fragment;`)
	stmt.SetText("$term", word)
	s := make(Set)
	for {
		if hasNext, err := stmt.Step(); err != nil {
			return nil, err
		} else if !hasNext {
			break
		}
		id := email.MsgID(stmt.GetInt64("MsgID"))
		s[id] = append(s[id], int(stmt.GetInt64("Fragment")))
	}
	e.cache.add(e.gen, word, s)
	return s, nil
}

// phrase matches the fragments that contain every word.
func (e *evaluator) phrase(words []string) (Set, error) {
	var s Set
	for i, w := range words {
		ws, err := e.eval(query.Term{Word: w})
		if err != nil {
			return nil, err
		}
		if i == 0 {
			s = ws
		} else {
			s = near(s, ws)
		}
		if len(s) == 0 {
			break
		}
	}
	return s, nil
}

func (e *evaluator) and(children []query.Node) (Set, error) {
	var pos []Set
	var neg []query.Node
	for _, c := range children {
		if n, ok := c.(query.Not); ok {
			neg = append(neg, n.Child)
			continue
		}
		s, err := e.eval(c)
		if err != nil {
			return nil, err
		}
		pos = append(pos, s)
	}
	if len(pos) == 0 {
		return e.not(neg)
	}

	sort.SliceStable(pos, func(i, j int) bool { return len(pos[i]) < len(pos[j]) })
	s := pos[0]
	for _, p := range pos[1:] {
		if len(s) == 0 {
			return s, nil
		}
		s = and(s, p)
	}
	for _, c := range neg {
		if len(s) == 0 {
			break
		}
		ns, err := e.eval(c)
		if err != nil {
			return nil, err
		}
		s = without(s, ns)
	}
	return s, nil
}

func (e *evaluator) or(children []query.Node) (Set, error) {
	s := make(Set)
	for _, c := range children {
		cs, err := e.eval(c)
		if err != nil {
			return nil, err
		}
		s = or(s, cs)
	}
	return s, nil
}

// not reports every indexed page matching none of nodes.
// The pages carry no fragments.
func (e *evaluator) not(nodes []query.Node) (Set, error) {
	u, err := e.universe()
	if err != nil {
		return nil, err
	}
	s := make(Set, len(u))
	for id := range u {
		s[id] = nil
	}
	for _, n := range nodes {
		ns, err := e.eval(n)
		if err != nil {
			return nil, err
		}
		for id := range ns {
			delete(s, id)
		}
	}
	return s, nil
}

func (e *evaluator) universe() (Set, error) {
	if s, ok := e.memo[universeKey]; ok {
		return s, nil
	}
	stmt := e.conn.Prep("SELECT MsgID FROM IndexedMsgs;")
	s := make(Set)
	for {
		if hasNext, err := stmt.Step(); err != nil {
			return nil, err
		} else if !hasNext {
			break
		}
		s[email.MsgID(stmt.GetInt64("MsgID"))] = nil
	}
	e.memo[universeKey] = s
	return s, nil
}

// postingsCache holds the postings of recently used terms.
//
// Entries belong to one index generation. A reader at a newer
// generation empties the cache; a reader at an older generation
// bypasses it.
type postingsCache struct {
	mu  sync.Mutex
	gen int64
	lru *lru.Cache
}

func (c *postingsCache) sync(gen int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen > c.gen {
		c.lru.Purge()
		c.gen = gen
	}
	return gen == c.gen
}

func (c *postingsCache) get(gen int64, term string) (Set, bool) {
	if !c.sync(gen) {
		return nil, false
	}
	v, ok := c.lru.Get(term)
	if !ok {
		return nil, false
	}
	return v.(Set), true
}

func (c *postingsCache) add(gen int64, term string, s Set) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen == c.gen {
		c.lru.Add(term, s)
	}
}
