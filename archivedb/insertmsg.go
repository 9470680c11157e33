package archivedb

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode"

	"crawshaw.io/sqlite"
	"crawshaw.io/sqlite/sqlitex"
	"github.com/zeebo/blake3"

	"crarchive.org/email"
	"crarchive.org/email/bodytext"
	"crarchive.org/email/maildate"
	"crarchive.org/email/mailparse"
	"crarchive.org/search/index"
	"crarchive.org/thread"
)

// InsertMsg archives msg, a message parsed by mailparse.
// The envelope is its mbox "From " line, if it had one.
//
// On success msg.MsgID and msg.Date are set.
// A message whose raw bytes are already archived is reported with
// ErrDuplicate, and msg.MsgID is set to the archived copy.
func (db *DB) InsertMsg(ctx context.Context, msg *email.Msg, envelope string) (err error) {
	start := time.Now()
	defer func() {
		l := Log{
			Where:    "archivedb.InsertMsg",
			What:     msg.MsgID.String(),
			When:     start,
			Duration: time.Since(start),
			Data: map[string]interface{}{
				"raw_hash": msg.RawHash,
				"size":     msg.EncodedSize,
			},
		}
		if err != nil && err != ErrDuplicate {
			l.Err = err
		}
		if err == ErrDuplicate {
			l.Data["duplicate"] = true
		}
		db.log(l)
	}()

	conn := db.PoolRW.Get(ctx)
	if conn == nil {
		return context.Canceled
	}
	defer db.PoolRW.Put(conn)

	if err := db.insertMsg(conn, msg, envelope); err != nil {
		if err == ErrDuplicate {
			return err
		}
		return fmt.Errorf("archivedb.InsertMsg: %v", err)
	}
	return nil
}

func (db *DB) insertMsg(conn *sqlite.Conn, msg *email.Msg, envelope string) (err error) {
	defer sqlitex.Save(conn)(&err)

	if msg.RawHash == "" {
		return errors.New("missing hash")
	}
	stmt := conn.Prep("SELECT MsgID FROM Msgs WHERE RawHash = $rawHash;")
	stmt.SetText("$rawHash", msg.RawHash)
	if hasNext, err := stmt.Step(); err != nil {
		return err
	} else if hasNext {
		msg.MsgID = email.MsgID(stmt.GetInt64("MsgID"))
		stmt.Reset()
		return ErrDuplicate
	}

	date, dateSource, err := maildate.Extract(msg.Headers, envelope)
	if err != nil && err != maildate.ErrNoDate {
		return err
	}
	msg.Date = date

	body, err := bodytext.Extract(msg)
	if err != nil {
		return err
	}
	text := db.Trimmer.Trim(body.Text)
	var bodyHTML string
	if body.FromHTML {
		b, err := readAll(body.HTML.Content)
		if err != nil {
			return fmt.Errorf("html body: %v", err)
		}
		bodyHTML = string(b)
	}

	subject := strings.TrimSpace(string(msg.Headers.Get("Subject")))
	from := mailparse.ParseAddress(string(msg.Headers.Get("From")))
	topicID, err := insertTopic(conn, subject)
	if err != nil {
		return fmt.Errorf("topic: %v", err)
	}

	hdrBuf := new(bytes.Buffer)
	if _, err := msg.Headers.Encode(hdrBuf); err != nil {
		return err
	}

	stmt = conn.Prep(`INSERT INTO Msgs (
			MessageID, RawHash, BodyHash,
			Subject, NormSubject, FromName, FromAddr,
			Envelope, Date, DateSource, Year, Month,
			TopicID, EncodedSize,
			HdrsAll, BodyText, BodyHTML, BodyFromHTML, Inserted
		) VALUES (
			$messageID, $rawHash, $bodyHash,
			$subject, $normSubject, $fromName, $fromAddr,
			$envelope, $date, $dateSource, $year, $month,
			$topicID, $encodedSize,
			$hdrsAll, $bodyText, $bodyHTML, $bodyFromHTML, $inserted
		);`)
	stmt.SetText("$messageID", email.MessageID(string(msg.Headers.Get("Message-ID"))))
	stmt.SetText("$rawHash", msg.RawHash)
	stmt.SetText("$bodyHash", BodyHash(text))
	stmt.SetText("$subject", subject)
	stmt.SetText("$normSubject", bodytext.NormalizeSubject(subject))
	stmt.SetText("$fromName", from.Name)
	stmt.SetText("$fromAddr", from.Addr)
	stmt.SetText("$envelope", envelope)
	setDate(stmt, date, dateSource)
	if topicID != 0 {
		stmt.SetInt64("$topicID", topicID)
	} else {
		stmt.SetNull("$topicID")
	}
	stmt.SetInt64("$encodedSize", msg.EncodedSize)
	stmt.SetText("$hdrsAll", hdrBuf.String())
	stmt.SetText("$bodyText", text)
	if body.FromHTML {
		stmt.SetText("$bodyHTML", bodyHTML)
	} else {
		stmt.SetNull("$bodyHTML")
	}
	stmt.SetBool("$bodyFromHTML", body.FromHTML)
	stmt.SetInt64("$inserted", time.Now().Unix())
	if _, err := stmt.Step(); err != nil {
		return err
	}
	msg.MsgID = email.MsgID(conn.LastInsertRowID())

	refs := thread.MergeReferences(
		email.ParseReferences(string(msg.Headers.Get("References"))),
		email.ParseReferences(string(msg.Headers.Get("In-Reply-To"))),
	)
	for i, ref := range refs {
		stmt := conn.Prep(`INSERT INTO MsgRefs (MsgID, Position, RefID)
			VALUES ($msgID, $position, $refID);`)
		stmt.SetInt64("$msgID", int64(msg.MsgID))
		stmt.SetInt64("$position", int64(i))
		stmt.SetText("$refID", ref)
		if _, err := stmt.Step(); err != nil {
			return err
		}
	}

	for i := range msg.Parts {
		if err := db.insertPart(conn, msg.MsgID, &msg.Parts[i]); err != nil {
			return fmt.Errorf("part %d: %v", i, err)
		}
	}

	return index.Insert(conn, indexDoc(msg.MsgID, date, subject, from, text))
}

// setDate sets the $date, $dateSource, $year and $month parameters.
func setDate(stmt *sqlite.Stmt, date time.Time, source maildate.Source) {
	stmt.SetInt64("$dateSource", int64(source))
	if date.IsZero() {
		stmt.SetInt64("$date", 0)
		stmt.SetInt64("$year", 0)
		stmt.SetInt64("$month", 0)
		return
	}
	date = date.UTC()
	stmt.SetInt64("$date", date.Unix())
	stmt.SetInt64("$year", int64(date.Year()))
	stmt.SetInt64("$month", int64(date.Month()))
}

func indexDoc(msgID email.MsgID, date time.Time, subject string, from email.Address, text string) index.Doc {
	author := from.Name
	if from.Addr != "" {
		author = strings.TrimSpace(author + " " + from.Addr)
	}
	frags := append([]bodytext.Fragment{bodytext.HeaderFragment(subject, author)}, bodytext.Fragments(text)...)
	return index.Doc{MsgID: msgID, Date: date, Fragments: frags}
}

// BodyHash is the hash of message text used to find duplicates.
// White space differences do not change it.
func BodyHash(text string) string {
	h := blake3.New()
	for _, f := range strings.Fields(text) {
		io.WriteString(h, f)
		h.Write([]byte{' '})
	}
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}

// insertTopic finds or creates the topic of subject.
// An empty subject has no topic.
func insertTopic(conn *sqlite.Conn, subject string) (int64, error) {
	norm := strings.ToLower(bodytext.NormalizeSubject(subject))
	if norm == "" {
		return 0, nil
	}
	stmt := conn.Prep("SELECT TopicID FROM Topics WHERE NormSubject = $norm;")
	stmt.SetText("$norm", norm)
	if hasNext, err := stmt.Step(); err != nil {
		return 0, err
	} else if hasNext {
		id := stmt.GetInt64("TopicID")
		stmt.Reset()
		return id, nil
	}

	stmt = conn.Prep(`INSERT INTO Topics (NormSubject, Subject, Letter)
		VALUES ($norm, $subject, $letter);`)
	stmt.SetText("$norm", norm)
	stmt.SetText("$subject", bodytext.NormalizeSubject(subject))
	stmt.SetText("$letter", topicLetter(norm))
	if _, err := stmt.Step(); err != nil {
		return 0, err
	}
	return conn.LastInsertRowID(), nil
}

// topicLetter is the topic index letter of a normalized subject.
func topicLetter(norm string) string {
	for _, r := range norm {
		if r < unicode.MaxASCII && unicode.IsLetter(r) {
			return string(unicode.ToUpper(r))
		}
		if !unicode.IsPunct(r) && !unicode.IsSpace(r) {
			break
		}
	}
	return "#"
}

// insertPart stores a part, gzipped when that saves space.
func (db *DB) insertPart(conn *sqlite.Conn, msgID email.MsgID, part *email.Part) (err error) {
	var content []byte
	if part.Content != nil {
		if content, err = readAll(part.Content); err != nil {
			return err
		}
	}
	stored, compressed := content, false
	if len(content) > 256 {
		buf := new(bytes.Buffer)
		gzw := gzip.NewWriter(buf)
		if _, err := gzw.Write(content); err != nil {
			return err
		}
		if err := gzw.Close(); err != nil {
			return err
		}
		if buf.Len() < len(content)*9/10 {
			stored, compressed = buf.Bytes(), true
		}
	}

	stmt := conn.Prep("INSERT INTO Blobs (Content) VALUES ($content);")
	stmt.SetZeroBlob("$content", int64(len(stored)))
	if _, err := stmt.Step(); err != nil {
		return err
	}
	blobID := conn.LastInsertRowID()
	if len(stored) > 0 {
		blob, err := conn.OpenBlob("", "Blobs", "Content", blobID, true)
		if err != nil {
			return err
		}
		_, err = blob.Write(stored)
		if err2 := blob.Close(); err == nil {
			err = err2
		}
		if err != nil {
			return err
		}
	}

	stmt = conn.Prep(`INSERT INTO MsgParts (
			MsgID, PartNum, Name, IsBody, IsAttachment, IsCompressed,
			ContentType, ContentID, Charset, Size, BlobID
		) VALUES (
			$msgID, $partNum, $name, $isBody, $isAttachment, $isCompressed,
			$contentType, $contentID, $charset, $size, $blobID
		);`)
	stmt.SetInt64("$msgID", int64(msgID))
	stmt.SetInt64("$partNum", int64(part.PartNum))
	stmt.SetText("$name", part.Name)
	stmt.SetBool("$isBody", part.IsBody)
	stmt.SetBool("$isAttachment", part.IsAttachment)
	stmt.SetBool("$isCompressed", compressed)
	stmt.SetText("$contentType", part.ContentType)
	stmt.SetText("$contentID", part.ContentID)
	stmt.SetText("$charset", part.Charset)
	stmt.SetInt64("$size", int64(len(content)))
	stmt.SetInt64("$blobID", blobID)
	_, err = stmt.Step()
	return err
}

func readAll(buf email.Buffer) ([]byte, error) {
	if buf == nil {
		return nil, nil
	}
	if _, err := buf.Seek(0, 0); err != nil {
		return nil, err
	}
	defer buf.Seek(0, 0)
	return io.ReadAll(buf)
}
