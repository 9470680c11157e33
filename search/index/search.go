package index

import (
	"context"
	"fmt"
	"sort"
	"time"

	"crawshaw.io/sqlite"
	"crawshaw.io/sqlite/sqlitex"

	"crarchive.org/email"
	"crarchive.org/search/query"
)

// DefaultSnippets is the number of matching fragments shown per hit.
const DefaultSnippets = 3

// Searcher runs text queries against an Index.
type Searcher struct {
	Index    *Index
	Snippets int // fragments loaded per hit, zero means DefaultSnippets
	Logf     func(format string, v ...interface{})
}

// Results is one page of search results.
type Results struct {
	Query string   // canonical form of the query
	Terms []string // words to highlight
	Total int      // number of matching pages
	Hits  []Hit
}

// Hit is a matching page.
type Hit struct {
	MsgID     email.MsgID
	Date      time.Time
	Fragments []Snippet
}

// Snippet is the text of a matching fragment.
type Snippet struct {
	Num  int
	Text string
}

// Search parses q and reports the matching pages from offset,
// at most limit of them, in date order.
//
// Parse errors are reported as *query.ParseError or query.ErrEmpty.
func (s *Searcher) Search(ctx context.Context, q string, offset, limit int) (*Results, error) {
	n, err := query.Parse(q)
	if err != nil {
		return nil, err
	}
	start := time.Now()

	ix := s.Index
	conn := ix.PoolRO.Get(ctx)
	if conn == nil {
		return nil, context.Canceled
	}
	defer ix.PoolRO.Put(conn)

	res, err := s.search(conn, n, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("index.Search: %v", err)
	}
	if s.Logf != nil {
		s.Logf("search %q: %d hits in %s", res.Query, res.Total, time.Since(start))
	}
	return res, nil
}

// search evaluates n and loads its hits in one read transaction,
// so a concurrent index update is seen entirely or not at all.
func (s *Searcher) search(conn *sqlite.Conn, n query.Node, offset, limit int) (res *Results, err error) {
	defer sqlitex.Save(conn)(&err)

	set, err := s.Index.eval(conn, n)
	if err != nil {
		return nil, err
	}
	res = &Results{
		Query: n.String(),
		Terms: query.Terms(n),
		Total: len(set),
	}
	if res.Hits, err = s.hits(conn, set, offset, limit); err != nil {
		return nil, err
	}
	return res, nil
}

// smallSet is the largest result set ordered by looking up the date
// of each page. Larger sets are ordered by walking IndexedMsgs.
var smallSet = 1000

// hits orders the pages of set by date and loads the snippets
// of the requested window.
func (s *Searcher) hits(conn *sqlite.Conn, set Set, offset, limit int) ([]Hit, error) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 || offset >= len(set) {
		return nil, nil
	}

	var hits []Hit
	var err error
	if len(set) <= smallSet {
		hits, err = lookupHits(conn, set, offset, limit)
	} else {
		hits, err = walkHits(conn, set, offset, limit)
	}
	if err != nil {
		return nil, err
	}

	max := s.Snippets
	if max <= 0 {
		max = DefaultSnippets
	}
	for i := range hits {
		frags := set[hits[i].MsgID]
		if len(frags) > max {
			frags = frags[:max]
		}
		for _, num := range frags {
			text, err := fragmentText(conn, hits[i].MsgID, num)
			if err != nil {
				return nil, err
			}
			hits[i].Fragments = append(hits[i].Fragments, Snippet{Num: num, Text: text})
		}
	}
	return hits, nil
}

// lookupHits reads the date of every page in set.
func lookupHits(conn *sqlite.Conn, set Set, offset, limit int) ([]Hit, error) {
	var all []Hit
	stmt := conn.Prep("SELECT Date FROM IndexedMsgs WHERE MsgID = $msgID;")
	for id := range set {
		stmt.SetInt64("$msgID", int64(id))
		hasNext, err := stmt.Step()
		if err != nil {
			stmt.Reset()
			return nil, err
		}
		if !hasNext {
			continue
		}
		all = append(all, newHit(id, stmt.GetInt64("Date")))
		stmt.Reset()
	}
	sort.Slice(all, func(i, j int) bool {
		if si, sj := unixSec(all[i].Date), unixSec(all[j].Date); si != sj {
			return si < sj
		}
		return all[i].MsgID < all[j].MsgID
	})
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// walkHits scans IndexedMsgs in date order until the window is full.
func walkHits(conn *sqlite.Conn, set Set, offset, limit int) ([]Hit, error) {
	var hits []Hit
	stmt := conn.Prep("SELECT MsgID, Date FROM IndexedMsgs ORDER BY Date, MsgID;")
	defer stmt.Reset()
	n := 0
	for len(hits) < limit {
		if hasNext, err := stmt.Step(); err != nil {
			return nil, err
		} else if !hasNext {
			break
		}
		id := email.MsgID(stmt.GetInt64("MsgID"))
		if _, ok := set[id]; !ok {
			continue
		}
		if n++; n <= offset {
			continue
		}
		hits = append(hits, newHit(id, stmt.GetInt64("Date")))
	}
	return hits, nil
}

func newHit(id email.MsgID, sec int64) Hit {
	hit := Hit{MsgID: id}
	if sec != 0 {
		hit.Date = time.Unix(sec, 0).UTC()
	}
	return hit
}

func fragmentText(conn *sqlite.Conn, msgID email.MsgID, num int) (string, error) {
	stmt := conn.Prep("SELECT Text FROM Fragments WHERE MsgID = $msgID AND Fragment = $fragment;")
	stmt.SetInt64("$msgID", int64(msgID))
	stmt.SetInt64("$fragment", int64(num))
	if hasNext, err := stmt.Step(); err != nil {
		return "", err
	} else if !hasNext {
		return "", nil
	}
	text := stmt.GetText("Text")
	stmt.Reset()
	return text, nil
}
