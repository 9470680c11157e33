package archivedb

import (
	"bufio"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"strings"

	"crawshaw.io/sqlite"
	"crawshaw.io/sqlite/sqlitex"

	"crarchive.org/email"
	"crarchive.org/email/maildate"
	"crarchive.org/email/mailparse"
)

// summaryCols are the Msgs columns read by scanSummary.
const summaryCols = `Msgs.MsgID, MessageID, Msgs.Subject, FromName, FromAddr, Date,
	Year, Month, coalesce(Seq, -1) AS Seq, coalesce(TopicID, 0) AS TopicID,
	coalesce(Msgs.ThreadID, 0) AS ThreadID, ThreadDepth,
	coalesce(DuplicateOf, 0) AS DuplicateOf`

// listed restricts a query to messages shown in archive listings.
const listed = "DuplicateOf IS NULL AND Year > 0"

func scanSummary(stmt *sqlite.Stmt) MsgSummary {
	return MsgSummary{
		MsgID:     email.MsgID(stmt.GetInt64("MsgID")),
		MessageID: stmt.GetText("MessageID"),
		Subject:   stmt.GetText("Subject"),
		From: email.Address{
			Name: stmt.GetText("FromName"),
			Addr: stmt.GetText("FromAddr"),
		},
		Date:        unixTime(stmt.GetInt64("Date")),
		Year:        int(stmt.GetInt64("Year")),
		Month:       int(stmt.GetInt64("Month")),
		Seq:         int(stmt.GetInt64("Seq")),
		TopicID:     stmt.GetInt64("TopicID"),
		ThreadID:    stmt.GetInt64("ThreadID"),
		ThreadDepth: int(stmt.GetInt64("ThreadDepth")),
		DuplicateOf: email.MsgID(stmt.GetInt64("DuplicateOf")),
	}
}

func scanSummaries(stmt *sqlite.Stmt) (list []MsgSummary, err error) {
	for {
		if hasNext, err := stmt.Step(); err != nil {
			return nil, err
		} else if !hasNext {
			break
		}
		list = append(list, scanSummary(stmt))
	}
	return list, nil
}

// ro runs fn with a read-only connection.
func (db *DB) ro(ctx context.Context, fn func(conn *sqlite.Conn) error) error {
	conn := db.PoolRO.Get(ctx)
	if conn == nil {
		return context.Canceled
	}
	defer db.PoolRO.Put(conn)
	return fn(conn)
}

// Months reports the months of the archive with their message counts,
// oldest first.
func (db *DB) Months(ctx context.Context) (months []Month, err error) {
	err = db.ro(ctx, func(conn *sqlite.Conn) error {
		stmt := conn.Prep(`SELECT Year, Month, count(*) AS Count FROM Msgs
			WHERE ` + listed + `
			GROUP BY Year, Month
			ORDER BY Year, Month;`)
		for {
			if hasNext, err := stmt.Step(); err != nil {
				return err
			} else if !hasNext {
				break
			}
			months = append(months, Month{
				Year:  int(stmt.GetInt64("Year")),
				Month: int(stmt.GetInt64("Month")),
				Count: int(stmt.GetInt64("Count")),
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("archivedb.Months: %v", err)
	}
	return months, nil
}

// Order is the order of a message listing.
type Order int

const (
	ByDate   Order = iota // MHonARC maillist.html
	ByThread              // MHonARC threads.html
)

// MonthMsgs lists the messages of a month.
func (db *DB) MonthMsgs(ctx context.Context, year, month int, order Order) (list []MsgSummary, err error) {
	err = db.ro(ctx, func(conn *sqlite.Conn) error {
		var stmt *sqlite.Stmt
		switch order {
		case ByThread:
			stmt = conn.Prep(`SELECT ` + summaryCols + ` FROM Msgs
				LEFT JOIN Threads ON Threads.ThreadID = Msgs.ThreadID
				WHERE ` + listed + ` AND Year = $year AND Month = $month
				ORDER BY coalesce(Threads.FirstDate, Msgs.Date), coalesce(Msgs.ThreadID, 0),
					ThreadOrder, Msgs.Date, Msgs.MsgID;`)
		default:
			stmt = conn.Prep(`SELECT ` + summaryCols + ` FROM Msgs
				WHERE ` + listed + ` AND Year = $year AND Month = $month
				ORDER BY Date, MsgID;`)
		}
		stmt.SetInt64("$year", int64(year))
		stmt.SetInt64("$month", int64(month))
		list, err = scanSummaries(stmt)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("archivedb.MonthMsgs: %v", err)
	}
	return list, nil
}

// Summaries loads the summaries of the listed msgIDs.
// Unknown IDs are skipped.
func (db *DB) Summaries(ctx context.Context, msgIDs []email.MsgID) (map[email.MsgID]MsgSummary, error) {
	res := make(map[email.MsgID]MsgSummary, len(msgIDs))
	err := db.ro(ctx, func(conn *sqlite.Conn) error {
		stmt := conn.Prep(`SELECT ` + summaryCols + ` FROM Msgs WHERE MsgID = $msgID;`)
		for _, id := range msgIDs {
			stmt.SetInt64("$msgID", int64(id))
			hasNext, err := stmt.Step()
			if err != nil {
				return err
			}
			if hasNext {
				res[id] = scanSummary(stmt)
			}
			if err := stmt.Reset(); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("archivedb.Summaries: %v", err)
	}
	return res, nil
}

// LoadMsg loads a message, without part contents.
func (db *DB) LoadMsg(ctx context.Context, msgID email.MsgID) (msg *Message, err error) {
	err = db.ro(ctx, func(conn *sqlite.Conn) error {
		msg, err = loadMsg(conn, msgID)
		return err
	})
	if err != nil {
		if err == ErrNotFound {
			return nil, err
		}
		return nil, fmt.Errorf("archivedb.LoadMsg(%s): %v", msgID, err)
	}
	return msg, nil
}

// LoadMsgBySeq loads the message with an MHonARC number.
func (db *DB) LoadMsgBySeq(ctx context.Context, year, month, seq int) (msg *Message, err error) {
	err = db.ro(ctx, func(conn *sqlite.Conn) error {
		stmt := conn.Prep(`SELECT MsgID FROM Msgs
			WHERE Year = $year AND Month = $month AND Seq = $seq;`)
		stmt.SetInt64("$year", int64(year))
		stmt.SetInt64("$month", int64(month))
		stmt.SetInt64("$seq", int64(seq))
		msgID, err := resultMsgID(stmt)
		if err != nil {
			return err
		}
		msg, err = loadMsg(conn, msgID)
		return err
	})
	if err != nil {
		if err == ErrNotFound {
			return nil, err
		}
		return nil, fmt.Errorf("archivedb.LoadMsgBySeq(%d-%02d/%d): %v", year, month, seq, err)
	}
	return msg, nil
}

// LoadMsgByMessageID loads the message with a Message-ID header.
// When several messages share the id, the earliest listed one is used.
func (db *DB) LoadMsgByMessageID(ctx context.Context, messageID string) (msg *Message, err error) {
	messageID = email.MessageID(messageID)
	if messageID == "" {
		return nil, ErrNotFound
	}
	err = db.ro(ctx, func(conn *sqlite.Conn) error {
		stmt := conn.Prep(`SELECT MsgID FROM Msgs
			WHERE MessageID = $messageID
			ORDER BY DuplicateOf IS NOT NULL, Date, MsgID
			LIMIT 1;`)
		stmt.SetText("$messageID", messageID)
		msgID, err := resultMsgID(stmt)
		if err != nil {
			return err
		}
		msg, err = loadMsg(conn, msgID)
		return err
	})
	if err != nil {
		if err == ErrNotFound {
			return nil, err
		}
		return nil, fmt.Errorf("archivedb.LoadMsgByMessageID(%q): %v", messageID, err)
	}
	return msg, nil
}

func resultMsgID(stmt *sqlite.Stmt) (email.MsgID, error) {
	if hasNext, err := stmt.Step(); err != nil {
		return 0, err
	} else if !hasNext {
		return 0, ErrNotFound
	}
	id := email.MsgID(stmt.GetInt64("MsgID"))
	stmt.Reset()
	return id, nil
}

func loadMsg(conn *sqlite.Conn, msgID email.MsgID) (*Message, error) {
	stmt := conn.Prep(`SELECT ` + summaryCols + `,
			DateSource, coalesce(ParentID, 0) AS ParentID, EncodedSize,
			HdrsAll, BodyText, coalesce(BodyHTML, '') AS BodyHTML, BodyFromHTML
		FROM Msgs WHERE MsgID = $msgID;`)
	stmt.SetInt64("$msgID", int64(msgID))
	if hasNext, err := stmt.Step(); err != nil {
		return nil, err
	} else if !hasNext {
		return nil, ErrNotFound
	}
	msg := &Message{
		MsgSummary:   scanSummary(stmt),
		DateSource:   maildate.Source(stmt.GetInt64("DateSource")),
		ParentID:     email.MsgID(stmt.GetInt64("ParentID")),
		EncodedSize:  stmt.GetInt64("EncodedSize"),
		BodyText:     stmt.GetText("BodyText"),
		BodyHTML:     stmt.GetText("BodyHTML"),
		BodyFromHTML: stmt.GetInt64("BodyFromHTML") != 0,
	}
	hdrs := stmt.GetText("HdrsAll")
	stmt.Reset()

	var err error
	msg.Headers, err = mailparse.ReadHeader(bufio.NewReader(strings.NewReader(hdrs)))
	if err != nil {
		return nil, fmt.Errorf("reading headers: %v", err)
	}

	stmt = conn.Prep("SELECT RefID FROM MsgRefs WHERE MsgID = $msgID ORDER BY Position;")
	stmt.SetInt64("$msgID", int64(msgID))
	for {
		if hasNext, err := stmt.Step(); err != nil {
			return nil, err
		} else if !hasNext {
			break
		}
		msg.References = append(msg.References, stmt.GetText("RefID"))
	}

	stmt = conn.Prep(`SELECT
			PartNum, Name, IsBody, IsAttachment,
			ContentType, ContentID, Charset, Size
		FROM MsgParts
		WHERE MsgID = $msgID ORDER BY PartNum;`)
	stmt.SetInt64("$msgID", int64(msgID))
	for {
		if hasNext, err := stmt.Step(); err != nil {
			return nil, fmt.Errorf("enumerating parts: %v", err)
		} else if !hasNext {
			break
		}
		msg.Parts = append(msg.Parts, PartInfo{
			PartNum:      int(stmt.GetInt64("PartNum")),
			Name:         stmt.GetText("Name"),
			IsBody:       stmt.GetInt64("IsBody") != 0,
			IsAttachment: stmt.GetInt64("IsAttachment") != 0,
			ContentType:  stmt.GetText("ContentType"),
			ContentID:    stmt.GetText("ContentID"),
			Charset:      stmt.GetText("Charset"),
			Size:         stmt.GetInt64("Size"),
		})
	}
	return msg, nil
}

// LoadPart loads a part with its content.
// It is the callers responsibility to close the part content.
func (db *DB) LoadPart(ctx context.Context, msgID email.MsgID, partNum int) (part *email.Part, err error) {
	err = db.ro(ctx, func(conn *sqlite.Conn) error {
		stmt := conn.Prep(`SELECT
				Name, IsBody, IsAttachment, IsCompressed,
				ContentType, ContentID, Charset, BlobID
			FROM MsgParts
			WHERE MsgID = $msgID AND PartNum = $partNum;`)
		stmt.SetInt64("$msgID", int64(msgID))
		stmt.SetInt64("$partNum", int64(partNum))
		if hasNext, err := stmt.Step(); err != nil {
			return err
		} else if !hasNext {
			return ErrNotFound
		}
		part = &email.Part{
			PartNum:      partNum,
			Name:         stmt.GetText("Name"),
			IsBody:       stmt.GetInt64("IsBody") != 0,
			IsAttachment: stmt.GetInt64("IsAttachment") != 0,
			ContentType:  stmt.GetText("ContentType"),
			ContentID:    stmt.GetText("ContentID"),
			Charset:      stmt.GetText("Charset"),
		}
		blobID := stmt.GetInt64("BlobID")
		isCompressed := stmt.GetInt64("IsCompressed") != 0
		stmt.Reset()

		part.Content, err = db.readBlob(conn, blobID, isCompressed)
		return err
	})
	if err != nil {
		if err == ErrNotFound {
			return nil, err
		}
		return nil, fmt.Errorf("archivedb.LoadPart(%s, %d): %v", msgID, partNum, err)
	}
	return part, nil
}

func (db *DB) readBlob(conn *sqlite.Conn, blobID int64, isCompressed bool) (_ email.Buffer, err error) {
	dst := db.Filer.BufferFile(0)
	defer func() {
		if err != nil {
			dst.Close()
		}
	}()

	stmt := conn.Prep("SELECT length(Content) FROM Blobs WHERE BlobID = $blobID;")
	stmt.SetInt64("$blobID", blobID)
	size, err := sqlitex.ResultInt64(stmt)
	if err != nil {
		return nil, err
	}
	if size > 0 {
		blob, err := conn.OpenBlob("", "Blobs", "Content", blobID, false)
		if err != nil {
			return nil, err
		}
		defer blob.Close()

		var src io.Reader = blob
		if isCompressed {
			zr, err := gzip.NewReader(blob)
			if err != nil {
				return nil, err
			}
			defer zr.Close()
			src = zr
		}
		if _, err := io.Copy(dst, src); err != nil {
			return nil, err
		}
	}
	if _, err := dst.Seek(0, 0); err != nil {
		return nil, err
	}
	return dst, nil
}

// ThreadMsgs loads a thread and its messages in thread order.
func (db *DB) ThreadMsgs(ctx context.Context, threadID int64) (th *Thread, list []MsgSummary, err error) {
	err = db.ro(ctx, func(conn *sqlite.Conn) error {
		stmt := conn.Prep(`SELECT ThreadID, RootMsgID, Subject, MsgCount, FirstDate, LastDate
			FROM Threads WHERE ThreadID = $threadID;`)
		stmt.SetInt64("$threadID", threadID)
		if hasNext, err := stmt.Step(); err != nil {
			return err
		} else if !hasNext {
			return ErrNotFound
		}
		th = &Thread{
			ThreadID:  stmt.GetInt64("ThreadID"),
			RootMsgID: email.MsgID(stmt.GetInt64("RootMsgID")),
			Subject:   stmt.GetText("Subject"),
			MsgCount:  int(stmt.GetInt64("MsgCount")),
			FirstDate: unixTime(stmt.GetInt64("FirstDate")),
			LastDate:  unixTime(stmt.GetInt64("LastDate")),
		}
		stmt.Reset()

		stmt = conn.Prep(`SELECT ` + summaryCols + ` FROM Msgs
			WHERE ThreadID = $threadID AND DuplicateOf IS NULL
			ORDER BY ThreadOrder;`)
		stmt.SetInt64("$threadID", threadID)
		list, err = scanSummaries(stmt)
		return err
	})
	if err != nil {
		if err == ErrNotFound {
			return nil, nil, err
		}
		return nil, nil, fmt.Errorf("archivedb.ThreadMsgs(%d): %v", threadID, err)
	}
	return th, list, nil
}

// Topics lists topics by index letter, in subject order.
// An empty letter lists every topic.
func (db *DB) Topics(ctx context.Context, letter string) (topics []Topic, err error) {
	err = db.ro(ctx, func(conn *sqlite.Conn) error {
		stmt := conn.Prep(`SELECT Topics.TopicID, Topics.Subject, Letter,
				count(*) AS Count, min(Date) AS First, max(Date) AS Last
			FROM Topics
			INNER JOIN Msgs ON Msgs.TopicID = Topics.TopicID
			WHERE (Letter = $letter OR $letter = '') AND ` + listed + `
			GROUP BY Topics.TopicID
			ORDER BY Topics.NormSubject;`)
		stmt.SetText("$letter", letter)
		for {
			if hasNext, err := stmt.Step(); err != nil {
				return err
			} else if !hasNext {
				break
			}
			topics = append(topics, scanTopic(stmt))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("archivedb.Topics: %v", err)
	}
	return topics, nil
}

func scanTopic(stmt *sqlite.Stmt) Topic {
	return Topic{
		TopicID: stmt.GetInt64("TopicID"),
		Subject: stmt.GetText("Subject"),
		Letter:  stmt.GetText("Letter"),
		Count:   int(stmt.GetInt64("Count")),
		First:   unixTime(stmt.GetInt64("First")),
		Last:    unixTime(stmt.GetInt64("Last")),
	}
}

// TopicMsgs loads a topic and its messages in date order.
func (db *DB) TopicMsgs(ctx context.Context, topicID int64) (topic *Topic, list []MsgSummary, err error) {
	err = db.ro(ctx, func(conn *sqlite.Conn) error {
		stmt := conn.Prep(`SELECT ` + summaryCols + ` FROM Msgs
			WHERE TopicID = $topicID AND ` + listed + `
			ORDER BY Date, MsgID;`)
		stmt.SetInt64("$topicID", topicID)
		if list, err = scanSummaries(stmt); err != nil {
			return err
		}
		if len(list) == 0 {
			return ErrNotFound
		}

		stmt = conn.Prep("SELECT TopicID, Subject, Letter FROM Topics WHERE TopicID = $topicID;")
		stmt.SetInt64("$topicID", topicID)
		if hasNext, err := stmt.Step(); err != nil {
			return err
		} else if !hasNext {
			return ErrNotFound
		}
		topic = &Topic{
			TopicID: stmt.GetInt64("TopicID"),
			Subject: stmt.GetText("Subject"),
			Letter:  stmt.GetText("Letter"),
			Count:   len(list),
			First:   list[0].Date,
			Last:    list[len(list)-1].Date,
		}
		stmt.Reset()
		return nil
	})
	if err != nil {
		if err == ErrNotFound {
			return nil, nil, err
		}
		return nil, nil, fmt.Errorf("archivedb.TopicMsgs(%d): %v", topicID, err)
	}
	return topic, list, nil
}

// Neighbours reports the listed messages before and after msgID
// in date order. Either may be nil.
func (db *DB) Neighbours(ctx context.Context, msgID email.MsgID) (prev, next *MsgSummary, err error) {
	err = db.ro(ctx, func(conn *sqlite.Conn) error {
		stmt := conn.Prep("SELECT Date FROM Msgs WHERE MsgID = $msgID;")
		stmt.SetInt64("$msgID", int64(msgID))
		if hasNext, err := stmt.Step(); err != nil {
			return err
		} else if !hasNext {
			return ErrNotFound
		}
		date := stmt.GetInt64("Date")
		stmt.Reset()

		find := func(query string) (*MsgSummary, error) {
			stmt := conn.Prep(query)
			stmt.SetInt64("$date", date)
			stmt.SetInt64("$msgID", int64(msgID))
			list, err := scanSummaries(stmt)
			if err != nil || len(list) == 0 {
				return nil, err
			}
			return &list[0], nil
		}
		prev, err = find(`SELECT ` + summaryCols + ` FROM Msgs
			WHERE ` + listed + ` AND (Date < $date OR (Date = $date AND MsgID < $msgID))
			ORDER BY Date DESC, MsgID DESC LIMIT 1;`)
		if err != nil {
			return err
		}
		next, err = find(`SELECT ` + summaryCols + ` FROM Msgs
			WHERE ` + listed + ` AND (Date > $date OR (Date = $date AND MsgID > $msgID))
			ORDER BY Date, MsgID LIMIT 1;`)
		return err
	})
	if err != nil {
		if err == ErrNotFound {
			return nil, nil, err
		}
		return nil, nil, fmt.Errorf("archivedb.Neighbours(%s): %v", msgID, err)
	}
	return prev, next, nil
}

// Stats summarizes the archive and its search index.
func (db *DB) Stats(ctx context.Context) (s Stats, err error) {
	err = db.ro(ctx, func(conn *sqlite.Conn) error {
		for _, c := range []struct {
			dst *int64
			q   string
		}{
			{&s.Msgs, "SELECT count(*) FROM Msgs;"},
			{&s.Duplicates, "SELECT count(*) FROM Msgs WHERE DuplicateOf IS NOT NULL;"},
			{&s.Undated, "SELECT count(*) FROM Msgs WHERE Year = 0;"},
			{&s.Unnumbered, "SELECT count(*) FROM Msgs WHERE " + listed + " AND Seq IS NULL;"},
			{&s.Months, "SELECT count(*) FROM (SELECT DISTINCT Year, Month FROM Msgs WHERE " + listed + ");"},
			{&s.Topics, "SELECT count(*) FROM Topics;"},
			{&s.Threads, "SELECT count(*) FROM Threads;"},
			{&s.Parts, "SELECT count(*) FROM MsgParts;"},
			{&s.BlobBytes, "SELECT coalesce(sum(length(Content)), 0) FROM Blobs;"},
		} {
			v, err := sqlitex.ResultInt64(conn.Prep(c.q))
			if err != nil {
				return err
			}
			*c.dst = v
		}
		stmt := conn.Prep("SELECT coalesce(min(Date), 0) AS First, coalesce(max(Date), 0) AS Last FROM Msgs WHERE " + listed + ";")
		if _, err := stmt.Step(); err != nil {
			return err
		}
		s.First = unixTime(stmt.GetInt64("First"))
		s.Last = unixTime(stmt.GetInt64("Last"))
		stmt.Reset()
		return nil
	})
	if err != nil {
		return s, fmt.Errorf("archivedb.Stats: %v", err)
	}
	if s.Index, err = db.Index.Stats(ctx); err != nil {
		return s, fmt.Errorf("archivedb.Stats: %v", err)
	}
	return s, nil
}
