package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/spinloop/internal/runtime"
	"github.com/mohammad-safakhou/spinloop/internal/workflow"
)

// rewriter is the workflow surface the commands drive.
type rewriter interface {
	Start(ctx context.Context, url string) (*workflow.Thread, error)
	Continue(ctx context.Context, threadID, feedback, providerName string, emit func(string) error) (*workflow.Thread, error)
	Approve(ctx context.Context, threadID, content, collection string) (string, error)
}

func writer(w io.Writer) func(string) error {
	return func(s string) error {
		_, err := io.WriteString(w, s)
		return err
	}
}

func excerpt(s string, n int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n]) + "..."
}

func startCMD() *cobra.Command {
	return &cobra.Command{
		Use:   "start <url>",
		Short: "Scrape a page (or reuse the cached scrape) and open a rewrite thread",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *runtime.App) error {
				t, err := app.Workflow.Start(ctx, args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "thread: %s\n", t.ID)
				fmt.Fprintf(out, "scraped %d chars from %s\n", len(t.Original), t.URL)
				fmt.Fprintln(out, excerpt(t.Original, 500))
				return nil
			})
		},
	}
}

func continueCMD() *cobra.Command {
	var feedback, providerName string
	c := &cobra.Command{
		Use:   "continue <thread>",
		Short: "Stream the next rewrite of a thread",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *runtime.App) error {
				_, err := app.Workflow.Continue(ctx, args[0], feedback, providerName, writer(cmd.OutOrStdout()))
				return err
			})
		},
	}
	c.Flags().StringVar(&feedback, "feedback", "", "reviewer feedback for this iteration")
	c.Flags().StringVar(&providerName, "provider", "", "provider name (default llm.default_provider)")
	return c
}

func approveCMD() *cobra.Command {
	var content, collection string
	c := &cobra.Command{
		Use:   "approve <thread>",
		Short: "Archive a thread's latest version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *runtime.App) error {
				docID, err := app.Workflow.Approve(ctx, args[0], content, collection)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "approved: %s\n", docID)
				return nil
			})
		},
	}
	c.Flags().StringVar(&content, "content", "", "approve this text instead of the generated version")
	c.Flags().StringVar(&collection, "collection", "", "target collection (default retrieval.collection)")
	return c
}

func reviewCMD() *cobra.Command {
	var providerName string
	c := &cobra.Command{
		Use:   "review <url>",
		Short: "Interactive loop: rewrite, review, give feedback, approve",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withInteractiveApp(cmd, func(ctx context.Context, app *runtime.App) error {
				_, err := review(ctx, app.Workflow, args[0], providerName, cmd.InOrStdin(), cmd.OutOrStdout())
				return err
			})
		},
	}
	c.Flags().StringVar(&providerName, "provider", "", "provider name (default llm.default_provider)")
	return c
}

var errReviewAborted = errors.New("review aborted: input closed before approval")

// review runs the human-in-the-loop cycle until the reviewer approves a
// version, returning the archived document id.
func review(ctx context.Context, wf rewriter, url, providerName string, in io.Reader, out io.Writer) (string, error) {
	t, err := wf.Start(ctx, url)
	if err != nil {
		return "", err
	}
	fmt.Fprintf(out, "thread %s: scraped %d chars\n", t.ID, len(t.Original))

	lines := bufio.NewScanner(in)
	ask := func(prompt string) (string, bool) {
		fmt.Fprint(out, prompt)
		if !lines.Scan() {
			return "", false
		}
		return strings.TrimSpace(lines.Text()), true
	}

	feedback := ""
	for {
		if _, err := wf.Continue(ctx, t.ID, feedback, providerName, writer(out)); err != nil {
			return "", err
		}
		answer, ok := ask("\nApprove this version? (y/n): ")
		if !ok {
			return "", errReviewAborted
		}
		if strings.EqualFold(answer, "y") || strings.EqualFold(answer, "yes") {
			docID, err := wf.Approve(ctx, t.ID, "", "")
			if err != nil {
				return "", err
			}
			fmt.Fprintf(out, "approved: %s\n", docID)
			return docID, nil
		}
		if feedback, ok = ask("Feedback for the next version: "); !ok {
			return "", errReviewAborted
		}
	}
}
