package main

import (
	"context"
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"crarchive.org/archivedb/importer"
)

var (
	flagInclude []string
	flagExclude []string
	flagNoMaint bool
)

var importCmd = &cobra.Command{
	Use:   "import path...",
	Short: "Import mbox files, maildirs and message files",
	Long: `Import reads each path, a file or a directory tree, into the archive.

Files ending in .gz are decompressed. A file starting with an mbox
"From " line is read as an mbox, any other file as one message.
After importing, duplicates are marked, messages are renumbered and
threads are rebuilt, unless --no-maint is given.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runArchive(func(ctx context.Context, a *archive) error {
			include, exclude := a.cfg.Import.Include, a.cfg.Import.Exclude
			if cmd.Flags().Changed("include") {
				include = flagInclude
			}
			if cmd.Flags().Changed("exclude") {
				exclude = flagExclude
			}
			im, err := importer.New(a.db, include, exclude)
			if err != nil {
				return err
			}
			im.Logf = log.Printf

			var total importer.Result
			for _, path := range args {
				res, err := im.Import(ctx, path)
				if err != nil {
					return err
				}
				fmt.Printf("%s: %s\n", path, res)
				total.Files += res.Files
				total.Skipped += res.Skipped
				total.Msgs += res.Msgs
				total.Duplicates += res.Duplicates
				total.Errors += res.Errors
			}
			if len(args) > 1 {
				fmt.Printf("total: %s\n", total)
			}
			if flagNoMaint || total.Msgs == 0 {
				return nil
			}
			return maintain(ctx, a)
		})
	},
}

func init() {
	importCmd.Flags().StringSliceVar(&flagInclude, "include", nil, "glob patterns of files to import, overrides import.include")
	importCmd.Flags().StringSliceVar(&flagExclude, "exclude", nil, "glob patterns of files to skip, overrides import.exclude")
	importCmd.Flags().BoolVar(&flagNoMaint, "no-maint", false, "skip dedup and relink after importing")
	rootCmd.AddCommand(importCmd)
}

// maintain marks duplicates, which renumbers the archive,
// then rebuilds the threads.
func maintain(ctx context.Context, a *archive) error {
	dups, err := a.db.Dedup(ctx)
	if err != nil {
		return err
	}
	threads, err := a.db.Relink(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("%d duplicates, %d threads\n", dups, threads)
	return nil
}
