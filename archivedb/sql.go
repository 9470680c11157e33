package archivedb

const createSQL = `
-- SQL schema for the mailing list archive.
--
-- Every imported message is kept, including duplicates, which are
-- marked with DuplicateOf and hidden from listings and search.
-- Dates, sequence numbers, topics and threads are derived data,
-- recomputed by the maintenance operations Redate, Renumber and Relink.

CREATE TABLE IF NOT EXISTS Msgs (
	MsgID        INTEGER PRIMARY KEY,
	MessageID    TEXT NOT NULL,    -- normalized Message-ID header, may be empty
	RawHash      TEXT NOT NULL UNIQUE,
	BodyHash     TEXT NOT NULL,    -- hash of the cleaned body text
	Subject      TEXT NOT NULL,
	NormSubject  TEXT NOT NULL,    -- subject without Re: prefixes and list tags
	FromName     TEXT NOT NULL,
	FromAddr     TEXT NOT NULL,
	Envelope     TEXT NOT NULL,    -- mbox "From " line, if the message had one
	Date         INTEGER NOT NULL, -- seconds since epoch, 0 if unknown
	DateSource   INTEGER NOT NULL, -- maildate.Source
	Year         INTEGER NOT NULL, -- 0 if the date is unknown
	Month        INTEGER NOT NULL,
	Seq          INTEGER,          -- MHonARC msgNNNNN.html number within the month
	TopicID      INTEGER,
	ThreadID     INTEGER,
	ParentID     INTEGER,          -- MsgID of the nearest archived ancestor
	ThreadDepth  INTEGER NOT NULL DEFAULT 0,
	ThreadOrder  INTEGER NOT NULL DEFAULT 0,
	DuplicateOf  INTEGER,
	EncodedSize  INTEGER NOT NULL,
	HdrsAll      TEXT NOT NULL,    -- email.Header storage encoding
	BodyText     TEXT NOT NULL,    -- display and search text, footers trimmed
	BodyHTML     TEXT,             -- raw HTML body of messages with no text part
	BodyFromHTML BOOLEAN NOT NULL, -- BodyText was converted from BodyHTML
	Inserted     INTEGER NOT NULL, -- time.Now().Unix()

	UNIQUE (Year, Month, Seq),
	FOREIGN KEY(TopicID) REFERENCES Topics(TopicID),
	FOREIGN KEY(ThreadID) REFERENCES Threads(ThreadID),
	FOREIGN KEY(DuplicateOf) REFERENCES Msgs(MsgID)
);

CREATE INDEX IF NOT EXISTS MsgsMessageID ON Msgs (MessageID);
CREATE INDEX IF NOT EXISTS MsgsDate ON Msgs (Date, MsgID);
CREATE INDEX IF NOT EXISTS MsgsMonth ON Msgs (Year, Month, Date);
CREATE INDEX IF NOT EXISTS MsgsThread ON Msgs (ThreadID, ThreadOrder);
CREATE INDEX IF NOT EXISTS MsgsTopic ON Msgs (TopicID, Date);

-- MsgRefs is the merged References and In-Reply-To list of a message.
CREATE TABLE IF NOT EXISTS MsgRefs (
	MsgID    INTEGER NOT NULL,
	Position INTEGER NOT NULL, -- 0 is the oldest reference
	RefID    TEXT NOT NULL,    -- normalized Message-ID

	PRIMARY KEY (MsgID, Position),
	FOREIGN KEY(MsgID) REFERENCES Msgs(MsgID)
);

CREATE TABLE IF NOT EXISTS MsgParts (
	MsgID        INTEGER NOT NULL,
	PartNum      INTEGER NOT NULL,
	Name         TEXT NOT NULL,
	IsBody       BOOLEAN NOT NULL,
	IsAttachment BOOLEAN NOT NULL,
	IsCompressed BOOLEAN NOT NULL, -- Blobs.Content is gzipped
	ContentType  TEXT NOT NULL,
	ContentID    TEXT NOT NULL,
	Charset      TEXT NOT NULL,
	Size         INTEGER NOT NULL, -- decoded size
	BlobID       INTEGER NOT NULL,

	PRIMARY KEY (MsgID, PartNum),
	FOREIGN KEY(MsgID) REFERENCES Msgs(MsgID),
	FOREIGN KEY(BlobID) REFERENCES Blobs(BlobID)
);

CREATE TABLE IF NOT EXISTS Blobs (
	BlobID  INTEGER PRIMARY KEY,
	Content BLOB
);

-- Topics groups messages by normalized subject.
CREATE TABLE IF NOT EXISTS Topics (
	TopicID     INTEGER PRIMARY KEY,
	NormSubject TEXT NOT NULL UNIQUE, -- lower case
	Subject     TEXT NOT NULL,        -- as written in the first message
	Letter      TEXT NOT NULL         -- index letter, "#" for non-letters
);

CREATE INDEX IF NOT EXISTS TopicsLetter ON Topics (Letter, NormSubject);

-- Threads is rebuilt by Relink.
CREATE TABLE IF NOT EXISTS Threads (
	ThreadID  INTEGER PRIMARY KEY,
	RootMsgID INTEGER NOT NULL, -- earliest message of the thread
	Subject   TEXT NOT NULL,
	MsgCount  INTEGER NOT NULL,
	FirstDate INTEGER NOT NULL,
	LastDate  INTEGER NOT NULL
);
`
