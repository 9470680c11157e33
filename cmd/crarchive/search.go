package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"crarchive.org/email"
	"crarchive.org/search/index"
)

var (
	flagLimit  int
	flagOffset int
)

var searchCmd = &cobra.Command{
	Use:   "search query...",
	Short: "Search the archive",
	Long: `Search prints the messages matching a query, oldest first.

All words must appear in a message. "Quoted words" must appear in one
paragraph. OR, NOT or a leading - and parentheses combine terms.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runArchive(func(ctx context.Context, a *archive) error {
			s := &index.Searcher{Index: a.db.Index, Snippets: a.cfg.Search.Snippets}
			res, err := s.Search(ctx, strings.Join(args, " "), flagOffset, flagLimit)
			if err != nil {
				return err
			}
			ids := make([]email.MsgID, len(res.Hits))
			for i, h := range res.Hits {
				ids[i] = h.MsgID
			}
			sums, err := a.db.Summaries(ctx, ids)
			if err != nil {
				return err
			}

			fmt.Printf("%s: %s matches\n", res.Query, humanize.Comma(int64(res.Total)))
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			for _, h := range res.Hits {
				m := sums[h.MsgID]
				date := "undated"
				if !m.Date.IsZero() {
					date = m.Date.Format("2006-01-02")
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", h.MsgID, date, m.From.Display(), m.Subject)
				for _, f := range h.Fragments {
					fmt.Fprintf(w, "\t#f%d\t%s\n", f.Num, oneLine(f.Text, 72))
				}
			}
			return w.Flush()
		})
	},
}

func init() {
	searchCmd.Flags().IntVarP(&flagLimit, "limit", "n", 20, "maximum messages printed")
	searchCmd.Flags().IntVar(&flagOffset, "offset", 0, "matches skipped")
	rootCmd.AddCommand(searchCmd)
}

// oneLine joins the lines of text, cut to at most n runes.
func oneLine(text string, n int) string {
	text = strings.Join(strings.Fields(text), " ")
	if r := []rune(text); len(r) > n {
		text = string(r[:n-1]) + "…"
	}
	return text
}
