package main

import (
	"context"
	"io/ioutil"
	"log"
	"os"
	"os/signal"

	"crawshaw.io/iox"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"crarchive.org/archivedb"
	"crarchive.org/config"
)

var (
	flagConfig  string
	flagDBDir   string
	flagVerbose bool
)

var rootCmd = &cobra.Command{
	Use:           "crarchive",
	Short:         "Maintain the Classic Rendezvous archive",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if isatty.IsTerminal(os.Stderr.Fd()) {
			log.SetFlags(log.Ltime)
		} else {
			log.SetFlags(0)
		}
	},
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "TOML configuration file")
	rootCmd.PersistentFlags().StringVar(&flagDBDir, "dbdir", "", "archive database directory, overrides archive.dbdir")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "log database operations")
}

// archive is an open archive database and the configuration it was
// opened with.
type archive struct {
	cfg     *config.Config
	db      *archivedb.DB
	filer   *iox.Filer
	tempdir string
}

func openArchive() (*archive, error) {
	if err := config.LoadDotEnv(".env"); err != nil {
		return nil, err
	}
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}
	if flagDBDir != "" {
		cfg.Archive.DBDir = flagDBDir
	}

	tempdir, err := ioutil.TempDir("", "crarchive-")
	if err != nil {
		return nil, err
	}
	filer := iox.NewFiler(0)
	filer.SetTempdir(tempdir)

	db, err := archivedb.Open(filer, cfg.DBFile(), 2)
	if err != nil {
		os.RemoveAll(tempdir)
		return nil, err
	}
	db.Logf = func(format string, v ...interface{}) {
		if flagVerbose {
			log.Printf(format, v...)
		}
	}
	if db.Trimmer, err = cfg.Trimmer(); err != nil {
		db.Close()
		os.RemoveAll(tempdir)
		return nil, err
	}
	db.GroupBySubject = cfg.Archive.GroupBySubject
	db.Index.SetCacheSize(cfg.Search.CacheSize)
	return &archive{cfg: cfg, db: db, filer: filer, tempdir: tempdir}, nil
}

func (a *archive) Close() error {
	err := a.db.Close()
	if ferr := a.filer.Shutdown(context.Background()); err == nil {
		err = ferr
	}
	os.RemoveAll(a.tempdir)
	return err
}

// runArchive opens the archive and calls fn with a context
// canceled by an interrupt.
func runArchive(fn func(ctx context.Context, a *archive) error) error {
	a, err := openArchive()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	err = fn(ctx, a)
	if cerr := a.Close(); err == nil {
		err = cerr
	}
	return err
}
