package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// maintCmd builds a command running one archive maintenance step.
func maintCmd(use, short, unit string, fn func(ctx context.Context, a *archive) (int, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runArchive(func(ctx context.Context, a *archive) error {
				n, err := fn(ctx, a)
				if err != nil {
					return err
				}
				fmt.Printf("%s: %d %s\n", use, n, unit)
				return nil
			})
		},
	}
}

func init() {
	rootCmd.AddCommand(
		maintCmd("dedup", "Mark messages archived more than once", "duplicates",
			func(ctx context.Context, a *archive) (int, error) { return a.db.Dedup(ctx) }),
		maintCmd("redate", "Recompute message dates from headers and envelopes", "messages changed",
			func(ctx context.Context, a *archive) (int, error) { return a.db.Redate(ctx) }),
		maintCmd("relink", "Rebuild threads from message references", "threads",
			func(ctx context.Context, a *archive) (int, error) { return a.db.Relink(ctx) }),
		maintCmd("renumber", "Assign MHonARC message numbers", "messages numbered",
			func(ctx context.Context, a *archive) (int, error) { return a.db.Renumber(ctx) }),
		maintCmd("reindex", "Rebuild the search index", "messages indexed",
			func(ctx context.Context, a *archive) (int, error) { return a.db.Reindex(ctx) }),
	)
}
