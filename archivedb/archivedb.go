// Package archivedb stores the mailing list archive in SQLite.
//
// Messages are inserted as they are imported. Derived data, the
// MHonARC sequence numbers, threads, duplicate marks and the search
// index, is maintained by the Renumber, Relink, Dedup, Redate and
// Reindex operations.
package archivedb

import (
	"errors"
	"fmt"
	"log"
	"time"

	"crawshaw.io/iox"
	"crawshaw.io/sqlite"
	"crawshaw.io/sqlite/sqlitex"

	"crarchive.org/email"
	"crarchive.org/email/bodytext"
	"crarchive.org/email/maildate"
	"crarchive.org/search/index"
)

var (
	ErrNotFound  = errors.New("archivedb: not found")
	ErrDuplicate = errors.New("archivedb: message already archived")
)

// DB is an archive database.
//
// Writes go through PoolRW, a single connection.
// Page loads and searches use PoolRO.
type DB struct {
	PoolRW *sqlitex.Pool
	PoolRO *sqlitex.Pool
	Index  *index.Index
	Filer  *iox.Filer
	Logf   func(format string, v ...interface{})

	// Trimmer removes list footers from message text
	// before it is stored and indexed.
	Trimmer *bodytext.Trimmer

	// GroupBySubject makes Relink gather unlinked messages
	// with the same subject into one thread.
	GroupBySubject bool
}

// Open opens or creates the archive database dbfile.
// The poolSize counts the writer connection.
func Open(filer *iox.Filer, dbfile string, poolSize int) (_ *DB, err error) {
	db := &DB{
		Filer: filer,
		Logf:  log.Printf,
	}
	defer func() {
		if err != nil {
			db.Close()
		}
	}()

	flags := sqlite.SQLITE_OPEN_SHAREDCACHE |
		sqlite.SQLITE_OPEN_WAL |
		sqlite.SQLITE_OPEN_URI |
		sqlite.SQLITE_OPEN_NOMUTEX
	flagsRW := flags | sqlite.SQLITE_OPEN_READWRITE | sqlite.SQLITE_OPEN_CREATE

	db.PoolRW, err = sqlitex.Open(dbfile, flagsRW, 1)
	if err != nil {
		return nil, fmt.Errorf("archivedb.Open: %v", err)
	}
	conn := db.PoolRW.Get(nil)
	err = initDB(conn)
	db.PoolRW.Put(conn)
	if err != nil {
		return nil, fmt.Errorf("archivedb.Open: init DB: %v", err)
	}

	if poolSize > 1 {
		flagsRO := flags | sqlite.SQLITE_OPEN_READONLY
		db.PoolRO, err = sqlitex.Open(dbfile, flagsRO, poolSize-1)
		if err != nil {
			return nil, fmt.Errorf("archivedb.Open: %v", err)
		}
	} else {
		db.PoolRO = db.PoolRW
	}

	db.Index, err = index.New(db.PoolRW, db.PoolRO, 0)
	if err != nil {
		return nil, fmt.Errorf("archivedb.Open: %v", err)
	}
	db.Index.Logf = db.Logf
	return db, nil
}

func (db *DB) Close() (err error) {
	if db == nil {
		return fmt.Errorf("archivedb: already closed")
	}
	if db.PoolRW != nil {
		err = db.PoolRW.Close()
	}
	if db.PoolRO != nil && db.PoolRW != db.PoolRO {
		if cerr := db.PoolRO.Close(); err == nil {
			err = cerr
		}
	}
	db.PoolRW = nil
	db.PoolRO = nil
	return err
}

func initDB(conn *sqlite.Conn) (err error) {
	if err := sqlitex.ExecTransient(conn, "PRAGMA journal_mode=WAL;", nil); err != nil {
		return err
	}
	defer sqlitex.Save(conn)(&err)
	if err := sqlitex.ExecScript(conn, createSQL); err != nil {
		return err
	}
	return nil
}

func (db *DB) log(l Log) {
	if db.Logf != nil {
		db.Logf("%s", l)
	}
}

// MsgSummary is the listing form of an archived message.
type MsgSummary struct {
	MsgID       email.MsgID
	MessageID   string
	Subject     string
	From        email.Address
	Date        time.Time // zero if unknown
	Year        int
	Month       int
	Seq         int // -1 until numbered by Renumber
	TopicID     int64
	ThreadID    int64
	ThreadDepth int
	DuplicateOf email.MsgID
}

// Numbered reports whether the message has an MHonARC URL.
func (m *MsgSummary) Numbered() bool { return m.Seq >= 0 && m.Year > 0 }

// Message is an archived message without its part contents.
type Message struct {
	MsgSummary
	DateSource   maildate.Source
	ParentID     email.MsgID
	Headers      email.Header
	References   []string
	BodyText     string
	BodyHTML     string
	BodyFromHTML bool
	EncodedSize  int64
	Parts        []PartInfo
}

// PartInfo describes a stored MIME part.
type PartInfo struct {
	PartNum      int
	Name         string
	IsBody       bool
	IsAttachment bool
	ContentType  string
	ContentID    string
	Charset      string
	Size         int64
}

// Month is a month of the archive calendar.
type Month struct {
	Year  int
	Month int
	Count int
}

// Topic is the set of messages sharing a normalized subject.
type Topic struct {
	TopicID int64
	Subject string
	Letter  string
	Count   int
	First   time.Time
	Last    time.Time
}

// Thread is a reply thread built by Relink.
type Thread struct {
	ThreadID  int64
	RootMsgID email.MsgID
	Subject   string
	MsgCount  int
	FirstDate time.Time
	LastDate  time.Time
}

// Stats summarizes the archive.
type Stats struct {
	Msgs       int64
	Duplicates int64
	Undated    int64
	Unnumbered int64
	Months     int64
	Topics     int64
	Threads    int64
	Parts      int64
	BlobBytes  int64
	First      time.Time
	Last       time.Time
	Index      index.Stats
}

func unixTime(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}
