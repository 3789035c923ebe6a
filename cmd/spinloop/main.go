package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/spinloop/config"
	"github.com/mohammad-safakhou/spinloop/internal/runtime"
)

var cfgPath string

func main() {
	var root = &cobra.Command{
		Use:           "spinloop",
		Short:         "Scrape, rewrite and review pages, then tune retrieval over the approved versions",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is ./config/config.{json,yaml})")

	root.AddCommand(
		startCMD(), continueCMD(), reviewCMD(), approveCMD(),
		cacheCMD(), retrieveCMD(), rateCMD(), policyCMD(), statsCMD(),
		migrateCMD(),
	)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// withApp loads config, wires the services and runs fn under a context
// cancelled on SIGINT/SIGTERM or after general.default_timeout.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, app *runtime.App) error) error {
	return runApp(cmd, true, fn)
}

// withInteractiveApp is withApp without the deadline, for commands that
// wait on the user.
func withInteractiveApp(cmd *cobra.Command, fn func(ctx context.Context, app *runtime.App) error) error {
	return runApp(cmd, false, fn)
}

func runApp(cmd *cobra.Command, deadline bool, fn func(ctx context.Context, app *runtime.App) error) error {
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		return err
	}
	ctx, cancel := runtime.SignalContext(cmd.Context())
	defer cancel()
	if deadline && cfg.General.DefaultTimeout > 0 {
		var tcancel context.CancelFunc
		ctx, tcancel = context.WithTimeout(ctx, cfg.General.DefaultTimeout)
		defer tcancel()
	}
	app, err := runtime.NewApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()
	return fn(ctx, app)
}
