// Package index is an inverted index of archived messages and
// the evaluator of search queries against it.
//
// Messages are indexed by fragment: each posting records that a term
// appears in fragment n of a page. Fragment 0 holds the subject and
// author, later fragments are paragraphs of the body.
package index

import (
	"context"
	"fmt"
	"time"

	"crawshaw.io/sqlite"
	"crawshaw.io/sqlite/sqlitex"
	lru "github.com/hashicorp/golang-lru"

	"crarchive.org/email"
	"crarchive.org/email/bodytext"
	"crarchive.org/search/token"
)

// DefaultCacheSize is the number of term postings lists kept in memory.
const DefaultCacheSize = 4096

const createSQL = `
CREATE TABLE IF NOT EXISTS Terms (
	TermID INTEGER PRIMARY KEY,
	Term   TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS Postings (
	TermID   INTEGER NOT NULL,
	MsgID    INTEGER NOT NULL,
	Fragment INTEGER NOT NULL, -- 0 is the header fragment

	PRIMARY KEY (TermID, MsgID, Fragment)
) WITHOUT ROWID;

CREATE INDEX IF NOT EXISTS PostingsMsgID ON Postings (MsgID);

CREATE TABLE IF NOT EXISTS Fragments (
	MsgID    INTEGER NOT NULL,
	Fragment INTEGER NOT NULL,
	Text     TEXT NOT NULL,

	PRIMARY KEY (MsgID, Fragment)
);

CREATE TABLE IF NOT EXISTS IndexedMsgs (
	MsgID     INTEGER PRIMARY KEY,
	Date      INTEGER NOT NULL, -- message date, unix seconds or 0, orders hits
	IndexedAt INTEGER NOT NULL  -- time.Now().Unix()
);

CREATE INDEX IF NOT EXISTS IndexedMsgsDate ON IndexedMsgs (Date, MsgID);

-- Generation counts modifications of the index.
-- Cached postings are valid only for the generation they were read at.
CREATE TABLE IF NOT EXISTS IndexState (
	ID         INTEGER PRIMARY KEY CHECK (ID = 0),
	Generation INTEGER NOT NULL
);

INSERT OR IGNORE INTO IndexState (ID, Generation) VALUES (0, 0);
`

// Tokenize splits text into the terms stored in the index.
func Tokenize(text string) []string { return token.Tokenize(text) }

// Init creates the index tables on conn.
func Init(conn *sqlite.Conn) (err error) {
	defer sqlitex.Save(conn)(&err)
	if err := sqlitex.ExecScript(conn, createSQL); err != nil {
		return fmt.Errorf("index.Init: %v", err)
	}
	return nil
}

// Doc is a message as seen by the index.
type Doc struct {
	MsgID     email.MsgID
	Date      time.Time
	Fragments []bodytext.Fragment
}

// Index is a search index stored in an SQLite database.
//
// Writes go through PoolRW, queries through PoolRO.
// The two may be the same pool.
type Index struct {
	PoolRW *sqlitex.Pool
	PoolRO *sqlitex.Pool
	Logf   func(format string, v ...interface{})

	cache *postingsCache
}

// New creates the index tables if necessary and returns an Index.
// A cacheSize of zero uses DefaultCacheSize.
func New(poolRW, poolRO *sqlitex.Pool, cacheSize int) (*Index, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	c, err := lru.New(cacheSize)
	if err != nil {
		return nil, fmt.Errorf("index.New: %v", err)
	}
	conn := poolRW.Get(nil)
	err = Init(conn)
	poolRW.Put(conn)
	if err != nil {
		return nil, err
	}
	return &Index{
		PoolRW: poolRW,
		PoolRO: poolRO,
		cache:  &postingsCache{lru: c, gen: -1},
	}, nil
}

// SetCacheSize bounds the number of postings lists kept in memory.
// A size of zero uses DefaultCacheSize.
func (ix *Index) SetCacheSize(size int) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	ix.cache.lru.Resize(size)
}

func (ix *Index) logf(format string, v ...interface{}) {
	if ix.Logf != nil {
		ix.Logf(format, v...)
	}
}

// Add indexes doc, replacing any previous entry for doc.MsgID.
func (ix *Index) Add(ctx context.Context, doc Doc) error {
	conn := ix.PoolRW.Get(ctx)
	if conn == nil {
		return context.Canceled
	}
	defer ix.PoolRW.Put(conn)
	if err := Insert(conn, doc); err != nil {
		return fmt.Errorf("index.Add: %v", err)
	}
	return nil
}

// Remove deletes msgID from the index.
func (ix *Index) Remove(ctx context.Context, msgID email.MsgID) error {
	conn := ix.PoolRW.Get(ctx)
	if conn == nil {
		return context.Canceled
	}
	defer ix.PoolRW.Put(conn)
	if err := Delete(conn, msgID); err != nil {
		return fmt.Errorf("index.Remove: %v", err)
	}
	return nil
}

// Reset empties the index.
func (ix *Index) Reset(ctx context.Context) error {
	conn := ix.PoolRW.Get(ctx)
	if conn == nil {
		return context.Canceled
	}
	defer ix.PoolRW.Put(conn)
	if err := Clear(conn); err != nil {
		return fmt.Errorf("index.Reset: %v", err)
	}
	ix.logf("index: reset")
	return nil
}

// Insert indexes doc using conn.
// Callers holding a write transaction, such as a bulk reindex,
// use it in place of Index.Add.
func Insert(conn *sqlite.Conn, doc Doc) (err error) {
	defer sqlitex.Save(conn)(&err)

	if err := deleteMsg(conn, doc.MsgID); err != nil {
		return err
	}

	stmt := conn.Prep(`INSERT INTO IndexedMsgs (MsgID, Date, IndexedAt)
		VALUES ($msgID, $date, $indexedAt);`)
	stmt.SetInt64("$msgID", int64(doc.MsgID))
	stmt.SetInt64("$date", unixSec(doc.Date))
	stmt.SetInt64("$indexedAt", time.Now().Unix())
	if _, err := stmt.Step(); err != nil {
		return err
	}

	termIDs := make(map[string]int64)
	for _, frag := range doc.Fragments {
		stmt := conn.Prep(`INSERT OR REPLACE INTO Fragments (MsgID, Fragment, Text)
			VALUES ($msgID, $fragment, $text);`)
		stmt.SetInt64("$msgID", int64(doc.MsgID))
		stmt.SetInt64("$fragment", int64(frag.Num))
		stmt.SetText("$text", frag.Text)
		if _, err := stmt.Step(); err != nil {
			return err
		}

		for _, term := range token.Terms(frag.Text) {
			termID, ok := termIDs[term]
			if !ok {
				if termID, err = insertTerm(conn, term); err != nil {
					return err
				}
				termIDs[term] = termID
			}
			stmt := conn.Prep(`INSERT OR IGNORE INTO Postings (TermID, MsgID, Fragment)
				VALUES ($termID, $msgID, $fragment);`)
			stmt.SetInt64("$termID", termID)
			stmt.SetInt64("$msgID", int64(doc.MsgID))
			stmt.SetInt64("$fragment", int64(frag.Num))
			if _, err := stmt.Step(); err != nil {
				return err
			}
		}
	}
	return bumpGeneration(conn)
}

func insertTerm(conn *sqlite.Conn, term string) (int64, error) {
	stmt := conn.Prep("INSERT OR IGNORE INTO Terms (Term) VALUES ($term);")
	stmt.SetText("$term", term)
	if _, err := stmt.Step(); err != nil {
		return 0, err
	}
	stmt = conn.Prep("SELECT TermID FROM Terms WHERE Term = $term;")
	stmt.SetText("$term", term)
	return sqlitex.ResultInt64(stmt)
}

// Delete removes msgID from the index using conn.
func Delete(conn *sqlite.Conn, msgID email.MsgID) (err error) {
	defer sqlitex.Save(conn)(&err)
	if err := deleteMsg(conn, msgID); err != nil {
		return err
	}
	return bumpGeneration(conn)
}

func deleteMsg(conn *sqlite.Conn, msgID email.MsgID) error {
	for _, q := range []string{
		"DELETE FROM Postings WHERE MsgID = $msgID;",
		"DELETE FROM Fragments WHERE MsgID = $msgID;",
		"DELETE FROM IndexedMsgs WHERE MsgID = $msgID;",
	} {
		stmt := conn.Prep(q)
		stmt.SetInt64("$msgID", int64(msgID))
		if _, err := stmt.Step(); err != nil {
			return err
		}
	}
	return nil
}

// SetDate changes the date hits on msgID are ordered by.
func SetDate(conn *sqlite.Conn, msgID email.MsgID, date time.Time) error {
	stmt := conn.Prep("UPDATE IndexedMsgs SET Date = $date WHERE MsgID = $msgID;")
	stmt.SetInt64("$date", unixSec(date))
	stmt.SetInt64("$msgID", int64(msgID))
	_, err := stmt.Step()
	return err
}

// Clear removes every message from the index using conn.
func Clear(conn *sqlite.Conn) (err error) {
	defer sqlitex.Save(conn)(&err)
	for _, q := range []string{
		"DELETE FROM Postings;",
		"DELETE FROM Fragments;",
		"DELETE FROM IndexedMsgs;",
		"DELETE FROM Terms;",
	} {
		if err := sqlitex.Exec(conn, q, nil); err != nil {
			return err
		}
	}
	return bumpGeneration(conn)
}

// unixSec is t in seconds, 0 for an unknown date.
func unixSec(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func bumpGeneration(conn *sqlite.Conn) error {
	return sqlitex.Exec(conn, "UPDATE IndexState SET Generation = Generation + 1 WHERE ID = 0;", nil)
}

func generation(conn *sqlite.Conn) (int64, error) {
	stmt := conn.Prep("SELECT Generation FROM IndexState WHERE ID = 0;")
	return sqlitex.ResultInt64(stmt)
}

// Stats summarizes the contents of the index.
type Stats struct {
	Msgs       int64
	Terms      int64
	Postings   int64
	Fragments  int64
	Generation int64
}

func (ix *Index) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	conn := ix.PoolRO.Get(ctx)
	if conn == nil {
		return s, context.Canceled
	}
	defer ix.PoolRO.Put(conn)

	for _, c := range []struct {
		dst *int64
		q   string
	}{
		{&s.Msgs, "SELECT count(*) FROM IndexedMsgs;"},
		{&s.Terms, "SELECT count(*) FROM Terms;"},
		{&s.Postings, "SELECT count(*) FROM Postings;"},
		{&s.Fragments, "SELECT count(*) FROM Fragments;"},
		{&s.Generation, "SELECT Generation FROM IndexState WHERE ID = 0;"},
	} {
		v, err := sqlitex.ResultInt64(conn.Prep(c.q))
		if err != nil {
			return s, fmt.Errorf("index.Stats: %v", err)
		}
		*c.dst = v
	}
	return s, nil
}
