package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/spinloop/internal/runtime"
)

func cacheCMD() *cobra.Command {
	c := &cobra.Command{Use: "cache", Short: "Inspect the scrape cache"}
	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List the most recent cached scrapes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *runtime.App) error {
				if app.Store == nil {
					return runtime.ErrPostgresNotConfigured
				}
				rows, err := app.Store.ListScraped(ctx, limit)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tURL\tCHARS\tSCRAPED")
				for _, r := range rows {
					fmt.Fprintf(tw, "%d\t%s\t%d\t%s\n", r.ID, r.URL, len(r.RawText), r.CreatedAt.Format("2006-01-02 15:04:05"))
				}
				return tw.Flush()
			})
		},
	}
	list.Flags().IntVar(&limit, "limit", 5, "number of rows (1-100)")
	c.AddCommand(list)
	return c
}

func statsCMD() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show cache, collection and policy statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *runtime.App) error {
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				if app.Store != nil {
					st, err := app.Store.Stats(ctx)
					if err != nil {
						return err
					}
					fmt.Fprintf(tw, "cached pages:\t%d\n", st.ScrapedPages)
				}
				cols, err := app.Collection.Stats(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(tw, "collections:\t%d\n", len(cols))
				for _, c := range cols {
					fmt.Fprintf(tw, "  %s\t%d documents\n", c.Name, c.Documents)
				}
				fmt.Fprintf(tw, "policy interactions:\t%d\n", app.Agent.HistoryLen())
				fmt.Fprintf(tw, "policy vocabulary:\t%d terms\n", len(app.Agent.Vocabulary()))
				return tw.Flush()
			})
		},
	}
}
