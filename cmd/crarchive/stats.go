package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print archive statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runArchive(func(ctx context.Context, a *archive) error {
			s, err := a.db.Stats(ctx)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			row := func(name string, n int64) { fmt.Fprintf(w, "%s\t%s\n", name, humanize.Comma(n)) }
			row("messages", s.Msgs)
			row("duplicates", s.Duplicates)
			row("undated", s.Undated)
			row("unnumbered", s.Unnumbered)
			row("months", s.Months)
			row("topics", s.Topics)
			row("threads", s.Threads)
			row("parts", s.Parts)
			fmt.Fprintf(w, "blob bytes\t%s\n", humanize.Bytes(uint64(s.BlobBytes)))
			if !s.First.IsZero() {
				fmt.Fprintf(w, "first\t%s\n", s.First.Format("2006-01-02"))
				fmt.Fprintf(w, "last\t%s\n", s.Last.Format("2006-01-02"))
			}
			row("indexed", s.Index.Msgs)
			row("terms", s.Index.Terms)
			row("postings", s.Index.Postings)
			row("fragments", s.Index.Fragments)
			row("index generation", s.Index.Generation)
			return w.Flush()
		})
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}
