// Package importer loads mail into the archive from mbox files,
// maildir directories and trees of single message files.
package importer

import (
	"bufio"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gobwas/glob"

	"crarchive.org/archivedb"
	"crarchive.org/email/mailparse"
)

// Importer feeds files into an archive.
//
// Errors reading a file or archiving one of its messages are logged
// and counted in Result, the import carries on.
type Importer struct {
	DB   *archivedb.DB
	Logf func(format string, v ...interface{})

	include []glob.Glob
	exclude []glob.Glob
}

// Result counts the work of an import.
type Result struct {
	Files      int // files read
	Skipped    int // files not matching the patterns
	Msgs       int // messages archived
	Duplicates int // messages already in the archive
	Errors     int // files or messages that failed
}

func (r Result) String() string {
	return fmt.Sprintf("%d files (%d skipped), %d messages, %d duplicates, %d errors",
		r.Files, r.Skipped, r.Msgs, r.Duplicates, r.Errors)
}

// New creates an Importer.
//
// Include and exclude are glob patterns matched against file paths
// relative to the import root, with '/' separating path elements.
// With no include patterns every file is included.
func New(db *archivedb.DB, include, exclude []string) (*Importer, error) {
	im := &Importer{DB: db, Logf: db.Logf}
	for _, p := range include {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("importer.New: include %q: %v", p, err)
		}
		im.include = append(im.include, g)
	}
	for _, p := range exclude {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("importer.New: exclude %q: %v", p, err)
		}
		im.exclude = append(im.exclude, g)
	}
	return im, nil
}

func (im *Importer) logf(format string, v ...interface{}) {
	if im.Logf != nil {
		im.Logf(format, v...)
	}
}

// Match reports whether the file at relative path name is imported.
func (im *Importer) Match(name string) bool {
	name = filepath.ToSlash(name)
	for _, g := range im.exclude {
		if g.Match(name) {
			return false
		}
	}
	if len(im.include) == 0 {
		return true
	}
	for _, g := range im.include {
		if g.Match(name) {
			return true
		}
	}
	return false
}

// Import archives the mail found at root, a file or a directory.
//
// Files starting with an mbox envelope line are split into messages,
// other files hold a single message. Files ending in ".gz" are
// decompressed. The tmp directory of a maildir is skipped.
//
// Only a missing root or a canceled ctx stops an import with an error.
func (im *Importer) Import(ctx context.Context, root string) (res Result, err error) {
	start := time.Now()
	defer func() {
		l := archivedb.Log{
			Where:    "importer.Import",
			What:     root,
			When:     start,
			Duration: time.Since(start),
			Err:      err,
			Data: map[string]interface{}{
				"files":      res.Files,
				"skipped":    res.Skipped,
				"msgs":       res.Msgs,
				"duplicates": res.Duplicates,
				"errors":     res.Errors,
			},
		}
		im.logf("%s", l)
	}()

	fi, err := os.Stat(root)
	if err != nil {
		return res, fmt.Errorf("importer.Import: %v", err)
	}
	if !fi.IsDir() {
		err = im.importFile(ctx, &res, root)
		return res, err
	}

	err = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			im.logf("importer: %s: %v", path, err)
			res.Errors++
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if info.IsDir() {
			if path != root && isMaildirTmp(path) {
				return filepath.SkipDir
			}
			return nil
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if !im.Match(rel) {
			res.Skipped++
			return nil
		}
		return im.importFile(ctx, &res, path)
	})
	if err != nil {
		return res, fmt.Errorf("importer.Import: %v", err)
	}
	return res, nil
}

// isMaildirTmp reports whether dir is the tmp directory of a maildir.
func isMaildirTmp(dir string) bool {
	if filepath.Base(dir) != "tmp" {
		return false
	}
	fi, err := os.Stat(filepath.Join(filepath.Dir(dir), "cur"))
	return err == nil && fi.IsDir()
}

// importFile archives the messages of one file.
// Only a canceled ctx is reported as an error.
func (im *Importer) importFile(ctx context.Context, res *Result, path string) error {
	res.Files++
	f, err := os.Open(path)
	if err != nil {
		im.logf("importer: %v", err)
		res.Errors++
		return nil
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		zr, err := gzip.NewReader(f)
		if err != nil {
			im.logf("importer: %s: %v", path, err)
			res.Errors++
			return nil
		}
		defer zr.Close()
		r = zr
	}

	br := bufio.NewReader(r)
	if b, _ := br.Peek(5); string(b) == "From " {
		return im.importMbox(ctx, res, path, br)
	}
	return im.insert(ctx, res, path, br, "")
}

func (im *Importer) importMbox(ctx context.Context, res *Result, path string, r io.Reader) error {
	filer := im.DB.Filer
	mr := newMboxReader(r)
	for i := 0; ; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		buf := filer.BufferFile(0)
		envelope, err := mr.Next(buf)
		if err == io.EOF {
			buf.Close()
			return nil
		} else if err != nil {
			buf.Close()
			im.logf("importer: %s: message %d: %v", path, i, err)
			res.Errors++
			return nil
		}
		if _, err := buf.Seek(0, 0); err != nil {
			buf.Close()
			return err
		}
		err = im.insert(ctx, res, fmt.Sprintf("%s: message %d", path, i), buf, envelope)
		buf.Close()
		if err != nil {
			return err
		}
	}
}

// insert archives one message read from r.
// Only a canceled ctx is reported as an error.
func (im *Importer) insert(ctx context.Context, res *Result, what string, r io.Reader, envelope string) error {
	msg, err := mailparse.Parse(im.DB.Filer, r)
	if err != nil {
		im.logf("importer: %s: %v", what, err)
		res.Errors++
		return nil
	}
	defer msg.Close()

	switch err := im.DB.InsertMsg(ctx, msg, envelope); err {
	case nil:
		res.Msgs++
	case archivedb.ErrDuplicate:
		res.Duplicates++
	case context.Canceled:
		return err
	default:
		im.logf("importer: %s: %v", what, err)
		res.Errors++
	}
	return nil
}
