package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/spinloop/internal/bandit"
	"github.com/mohammad-safakhou/spinloop/internal/policystore"
	"github.com/mohammad-safakhou/spinloop/internal/retrieval"
	"github.com/mohammad-safakhou/spinloop/internal/runtime"
)

func retrieveCMD() *cobra.Command {
	var n int
	var format string
	c := &cobra.Command{
		Use:   "retrieve <query>",
		Short: "Search approved versions with a bandit-expanded query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *runtime.App) error {
				res, err := app.Retrieval.Retrieve(ctx, args[0], n)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if format == "json" {
					enc := json.NewEncoder(out)
					enc.SetIndent("", "  ")
					return enc.Encode(res)
				}
				fmt.Fprintf(out, "action: %s (%s)\n", res.Action, res.Outcome)
				fmt.Fprintf(out, "enhanced query: %s\n", res.EnhancedQuery)
				if len(res.Results) == 0 {
					fmt.Fprintln(out, "no results")
				}
				for i, h := range res.Results {
					fmt.Fprintf(out, "%d. %s (score %.3f)\n   %s\n", i+1, h.DocID, h.Score, excerpt(h.Content, 200))
				}
				fmt.Fprintf(out, "rate with: spinloop rate %q %s <0-5>\n", res.Query, res.Action)
				return nil
			})
		},
	}
	c.Flags().IntVarP(&n, "results", "n", 0, "number of results (default retrieval.default_results)")
	c.Flags().StringVar(&format, "format", "text", "text or json")
	return c
}

func rateCMD() *cobra.Command {
	return &cobra.Command{
		Use:   "rate <query> <action> <rating>",
		Short: "Rate a retrieval 0-5 and train the agent",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			rating, err := strconv.Atoi(args[2])
			if err != nil {
				return fmt.Errorf("rating must be an integer: %w", err)
			}
			return withApp(cmd, func(ctx context.Context, app *runtime.App) error {
				reward, err := app.Retrieval.Rate(ctx, args[0], bandit.Action(args[1]), rating)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "recorded reward %.2f for %q\n", reward, args[1])
				return nil
			})
		},
	}
}

func policyCMD() *cobra.Command {
	c := &cobra.Command{Use: "policy", Short: "Inspect the learned retrieval policy"}

	var format string
	show := &cobra.Command{
		Use:   "show",
		Short: "Print per-action term weights",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *runtime.App) error {
				return retrieval.RenderPolicy(cmd.OutOrStdout(), app.Retrieval.Policy(), format)
			})
		},
	}
	show.Flags().StringVar(&format, "format", "text", "text, json or yaml")

	versions := &cobra.Command{
		Use:   "versions",
		Short: "List stored policy versions (sqlite backend)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *runtime.App) error {
				s, ok := app.Policy.(*policystore.SQLite)
				if !ok {
					return fmt.Errorf("policy versions need policy.backend=sqlite")
				}
				vs, err := s.Versions()
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tHISTORY\tVOCAB\tCREATED\tACTIVE")
				for _, v := range vs {
					fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%v\n", v.ID, v.HistoryLen, v.VocabLen, v.CreatedAt.Format("2006-01-02 15:04:05"), v.Active)
				}
				return tw.Flush()
			})
		},
	}

	activate := &cobra.Command{
		Use:   "activate <version>",
		Short: "Make a stored policy version the active one (sqlite backend)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *runtime.App) error {
				s, ok := app.Policy.(*policystore.SQLite)
				if !ok {
					return fmt.Errorf("policy activate needs policy.backend=sqlite")
				}
				if err := s.Activate(args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "active policy: %s\n", args[0])
				return nil
			})
		},
	}

	c.AddCommand(show, versions, activate)
	return c
}
