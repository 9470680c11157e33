package archivedb

import (
	"bufio"
	"context"
	"fmt"
	"strings"
	"time"

	"crawshaw.io/sqlite"
	"crawshaw.io/sqlite/sqlitex"

	"crarchive.org/email"
	"crarchive.org/email/maildate"
	"crarchive.org/email/mailparse"
	"crarchive.org/search/index"
	"crarchive.org/thread"
)

// rw runs fn in a savepoint on the writer connection and logs the
// operation. The counts fn reports are logged as data.
func (db *DB) rw(ctx context.Context, where string, fn func(conn *sqlite.Conn) (map[string]interface{}, error)) (err error) {
	start := time.Now()
	var data map[string]interface{}
	defer func() {
		db.log(Log{
			Where:    where,
			What:     "maintenance",
			When:     start,
			Duration: time.Since(start),
			Err:      err,
			Data:     data,
		})
	}()

	conn := db.PoolRW.Get(ctx)
	if conn == nil {
		return context.Canceled
	}
	defer db.PoolRW.Put(conn)

	err = func() (err error) {
		defer sqlitex.Save(conn)(&err)
		data, err = fn(conn)
		return err
	}()
	if err != nil {
		return fmt.Errorf("%s: %v", where, err)
	}
	return nil
}

// Dedup marks copies of a message as duplicates.
//
// Messages with the same Message-ID and the same body text are
// copies. The earliest dated copy is kept, the others are marked
// DuplicateOf it and removed from the search index, and the
// archive is renumbered. Dedup reports the number of duplicates.
func (db *DB) Dedup(ctx context.Context) (dups int, err error) {
	err = db.rw(ctx, "archivedb.Dedup", func(conn *sqlite.Conn) (map[string]interface{}, error) {
		stmt := conn.Prep(`SELECT MsgID, MessageID, BodyHash, DuplicateOf IS NOT NULL AS WasDup
			FROM Msgs
			WHERE MessageID != ''
			ORDER BY MessageID, BodyHash, Date = 0, Date, MsgID;`)
		type mark struct {
			msgID, dupOf email.MsgID
			wasDup       bool
		}
		var marks []mark
		var key string
		var first email.MsgID
		for {
			if hasNext, err := stmt.Step(); err != nil {
				return nil, err
			} else if !hasNext {
				break
			}
			id := email.MsgID(stmt.GetInt64("MsgID"))
			wasDup := stmt.GetInt64("WasDup") != 0
			k := stmt.GetText("MessageID") + "\x00" + stmt.GetText("BodyHash")
			if k != key {
				key, first = k, id
				if wasDup {
					marks = append(marks, mark{msgID: id, wasDup: true})
				}
				continue
			}
			marks = append(marks, mark{msgID: id, dupOf: first, wasDup: wasDup})
		}

		for _, m := range marks {
			stmt := conn.Prep("UPDATE Msgs SET DuplicateOf = $dupOf, Seq = NULL WHERE MsgID = $msgID;")
			stmt.SetInt64("$msgID", int64(m.msgID))
			if m.dupOf == 0 {
				stmt.SetNull("$dupOf")
			} else {
				stmt.SetInt64("$dupOf", int64(m.dupOf))
				dups++
			}
			if _, err := stmt.Step(); err != nil {
				return nil, err
			}
			if m.dupOf == 0 {
				if err := reindexMsg(conn, m.msgID); err != nil {
					return nil, err
				}
			} else if !m.wasDup {
				if err := index.Delete(conn, m.msgID); err != nil {
					return nil, err
				}
			}
		}
		if len(marks) == 0 {
			return map[string]interface{}{"duplicates": dups}, nil
		}
		numbered, err := renumber(conn)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"duplicates": dups, "numbered": numbered}, nil
	})
	return dups, err
}

// Redate extracts the date of every message again from its stored
// headers and envelope, then renumbers the archive.
// It reports the number of messages whose date changed.
func (db *DB) Redate(ctx context.Context) (changed int, err error) {
	err = db.rw(ctx, "archivedb.Redate", func(conn *sqlite.Conn) (map[string]interface{}, error) {
		type redate struct {
			msgID  email.MsgID
			date   time.Time
			source maildate.Source
		}
		var updates []redate

		stmt := conn.Prep("SELECT MsgID, HdrsAll, Envelope, Date, DateSource FROM Msgs;")
		for {
			if hasNext, err := stmt.Step(); err != nil {
				return nil, err
			} else if !hasNext {
				break
			}
			msgID := email.MsgID(stmt.GetInt64("MsgID"))
			hdr, err := mailparse.ReadHeader(bufio.NewReader(strings.NewReader(stmt.GetText("HdrsAll"))))
			if err != nil {
				stmt.Reset()
				return nil, fmt.Errorf("%s: %v", msgID, err)
			}
			date, source, _ := maildate.Extract(hdr, stmt.GetText("Envelope"))
			old := unixTime(stmt.GetInt64("Date"))
			oldSource := maildate.Source(stmt.GetInt64("DateSource"))
			if !date.Equal(old) || source != oldSource {
				updates = append(updates, redate{msgID: msgID, date: date, source: source})
			}
		}

		for _, u := range updates {
			stmt := conn.Prep(`UPDATE Msgs SET
					Date = $date, DateSource = $dateSource, Year = $year, Month = $month, Seq = NULL
				WHERE MsgID = $msgID;`)
			stmt.SetInt64("$msgID", int64(u.msgID))
			setDate(stmt, u.date, u.source)
			if _, err := stmt.Step(); err != nil {
				return nil, err
			}
			if err := index.SetDate(conn, u.msgID, u.date); err != nil {
				return nil, err
			}
		}
		changed = len(updates)

		numbered, err := renumber(conn)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"changed": changed, "numbered": numbered}, nil
	})
	return changed, err
}

// Renumber assigns MHonARC sequence numbers. Within each month the
// listed messages are numbered from 0 in date order.
// It reports the number of numbered messages.
func (db *DB) Renumber(ctx context.Context) (numbered int, err error) {
	err = db.rw(ctx, "archivedb.Renumber", func(conn *sqlite.Conn) (map[string]interface{}, error) {
		numbered, err = renumber(conn)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"numbered": numbered}, nil
	})
	return numbered, err
}

func renumber(conn *sqlite.Conn) (int, error) {
	type seq struct {
		msgID email.MsgID
		seq   int
	}
	var seqs []seq
	stmt := conn.Prep(`SELECT MsgID, Year, Month FROM Msgs
		WHERE ` + listed + `
		ORDER BY Year, Month, Date, MsgID;`)
	year, month, n := 0, 0, 0
	for {
		if hasNext, err := stmt.Step(); err != nil {
			return 0, err
		} else if !hasNext {
			break
		}
		y, m := int(stmt.GetInt64("Year")), int(stmt.GetInt64("Month"))
		if y != year || m != month {
			year, month, n = y, m, 0
		}
		seqs = append(seqs, seq{msgID: email.MsgID(stmt.GetInt64("MsgID")), seq: n})
		n++
	}

	if err := sqlitex.Exec(conn, "UPDATE Msgs SET Seq = NULL;", nil); err != nil {
		return 0, err
	}
	for _, s := range seqs {
		stmt := conn.Prep("UPDATE Msgs SET Seq = $seq WHERE MsgID = $msgID;")
		stmt.SetInt64("$seq", int64(s.seq))
		stmt.SetInt64("$msgID", int64(s.msgID))
		if _, err := stmt.Step(); err != nil {
			return 0, err
		}
	}
	return len(seqs), nil
}

// threadMsg is a message as seen by the threading algorithm.
type threadMsg struct {
	msgID     email.MsgID
	messageID string
	subject   string
	date      time.Time
	refs      []string
}

func (m *threadMsg) MessageID() string    { return m.messageID }
func (m *threadMsg) References() []string { return m.refs }
func (m *threadMsg) Subject() string      { return m.subject }
func (m *threadMsg) Date() time.Time      { return m.date }

// Relink rebuilds every thread of the archive from the message
// references. It reports the number of threads.
func (db *DB) Relink(ctx context.Context) (threads int, err error) {
	err = db.rw(ctx, "archivedb.Relink", func(conn *sqlite.Conn) (map[string]interface{}, error) {
		byID := make(map[email.MsgID]*threadMsg)
		var msgs []thread.Message

		stmt := conn.Prep(`SELECT MsgID, MessageID, Subject, Date FROM Msgs
			WHERE DuplicateOf IS NULL
			ORDER BY MsgID;`)
		for {
			if hasNext, err := stmt.Step(); err != nil {
				return nil, err
			} else if !hasNext {
				break
			}
			m := &threadMsg{
				msgID:     email.MsgID(stmt.GetInt64("MsgID")),
				messageID: stmt.GetText("MessageID"),
				subject:   stmt.GetText("Subject"),
				date:      unixTime(stmt.GetInt64("Date")),
			}
			byID[m.msgID] = m
			msgs = append(msgs, m)
		}

		stmt = conn.Prep("SELECT MsgID, RefID FROM MsgRefs ORDER BY MsgID, Position;")
		for {
			if hasNext, err := stmt.Step(); err != nil {
				return nil, err
			} else if !hasNext {
				break
			}
			if m := byID[email.MsgID(stmt.GetInt64("MsgID"))]; m != nil {
				m.refs = append(m.refs, stmt.GetText("RefID"))
			}
		}

		roots := thread.Thread(msgs, thread.Options{GroupBySubject: db.GroupBySubject})

		for _, q := range []string{
			"DELETE FROM Threads;",
			"UPDATE Msgs SET ThreadID = NULL, ParentID = NULL, ThreadDepth = 0, ThreadOrder = 0;",
		} {
			if err := sqlitex.Exec(conn, q, nil); err != nil {
				return nil, err
			}
		}
		for _, root := range roots {
			if ok, err := insertThread(conn, root); err != nil {
				return nil, err
			} else if ok {
				threads++
			}
		}
		return map[string]interface{}{"threads": threads, "msgs": len(msgs)}, nil
	})
	if err != nil {
		return 0, err
	}
	return threads, nil
}

// insertThread stores the thread rooted at root.
// Depth and parent count only archived messages:
// the children of an empty container are siblings.
func insertThread(conn *sqlite.Conn, root *thread.Container) (bool, error) {
	type pos struct {
		msg    *threadMsg
		parent email.MsgID
		depth  int
	}
	var list []pos
	var walk func(c *thread.Container, parent email.MsgID, depth int)
	walk = func(c *thread.Container, parent email.MsgID, depth int) {
		if c.Message != nil {
			m := c.Message.(*threadMsg)
			list = append(list, pos{msg: m, parent: parent, depth: depth})
			parent, depth = m.msgID, depth+1
		}
		for _, child := range c.Children {
			walk(child, parent, depth)
		}
	}
	walk(root, 0, 0)
	if len(list) == 0 {
		return false, nil
	}

	first, last := list[0].msg.date, list[0].msg.date
	for _, p := range list[1:] {
		d := p.msg.date
		if d.IsZero() {
			continue
		}
		if first.IsZero() || d.Before(first) {
			first = d
		}
		if d.After(last) {
			last = d
		}
	}

	stmt := conn.Prep(`INSERT INTO Threads (RootMsgID, Subject, MsgCount, FirstDate, LastDate)
		VALUES ($rootMsgID, $subject, $msgCount, $firstDate, $lastDate);`)
	stmt.SetInt64("$rootMsgID", int64(list[0].msg.msgID))
	stmt.SetText("$subject", list[0].msg.subject)
	stmt.SetInt64("$msgCount", int64(len(list)))
	stmt.SetInt64("$firstDate", unixSec(first))
	stmt.SetInt64("$lastDate", unixSec(last))
	if _, err := stmt.Step(); err != nil {
		return false, err
	}
	threadID := conn.LastInsertRowID()

	for i, p := range list {
		stmt := conn.Prep(`UPDATE Msgs SET
				ThreadID = $threadID, ParentID = $parentID,
				ThreadDepth = $depth, ThreadOrder = $order
			WHERE MsgID = $msgID;`)
		stmt.SetInt64("$threadID", threadID)
		if p.parent != 0 {
			stmt.SetInt64("$parentID", int64(p.parent))
		} else {
			stmt.SetNull("$parentID")
		}
		stmt.SetInt64("$depth", int64(p.depth))
		stmt.SetInt64("$order", int64(i))
		stmt.SetInt64("$msgID", int64(p.msg.msgID))
		if _, err := stmt.Step(); err != nil {
			return false, err
		}
	}
	return true, nil
}

func unixSec(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

// Reindex rebuilds the search index from every listed message.
// Undated messages are indexed too. It reports the number of
// messages indexed.
func (db *DB) Reindex(ctx context.Context) (indexed int, err error) {
	err = db.rw(ctx, "archivedb.Reindex", func(conn *sqlite.Conn) (map[string]interface{}, error) {
		if err := index.Clear(conn); err != nil {
			return nil, err
		}
		var ids []email.MsgID
		stmt := conn.Prep("SELECT MsgID FROM Msgs WHERE DuplicateOf IS NULL ORDER BY MsgID;")
		for {
			if hasNext, err := stmt.Step(); err != nil {
				return nil, err
			} else if !hasNext {
				break
			}
			ids = append(ids, email.MsgID(stmt.GetInt64("MsgID")))
		}
		for _, id := range ids {
			if err := reindexMsg(conn, id); err != nil {
				return nil, fmt.Errorf("%s: %v", id, err)
			}
		}
		indexed = len(ids)
		return map[string]interface{}{"indexed": indexed}, nil
	})
	return indexed, err
}

// reindexMsg indexes the stored text of msgID.
func reindexMsg(conn *sqlite.Conn, msgID email.MsgID) error {
	stmt := conn.Prep(`SELECT Subject, FromName, FromAddr, Date, BodyText
		FROM Msgs WHERE MsgID = $msgID;`)
	stmt.SetInt64("$msgID", int64(msgID))
	if hasNext, err := stmt.Step(); err != nil {
		return err
	} else if !hasNext {
		return ErrNotFound
	}
	subject := stmt.GetText("Subject")
	from := email.Address{Name: stmt.GetText("FromName"), Addr: stmt.GetText("FromAddr")}
	date := unixTime(stmt.GetInt64("Date"))
	text := stmt.GetText("BodyText")
	stmt.Reset()
	return index.Insert(conn, indexDoc(msgID, date, subject, from, text))
}
