package main

import (
	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/spinloop/config"
	"github.com/mohammad-safakhou/spinloop/internal/runtime"
	"github.com/mohammad-safakhou/spinloop/internal/store"
)

func migrateCMD() *cobra.Command {
	var migDir string
	var direction string
	var steps int

	var migrate = &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			dsn, err := runtime.BuildPostgresDSN(cfg.Storage.Postgres)
			if err != nil {
				return err
			}
			if migDir == "" {
				migDir = cfg.Storage.MigrationsDir
			}
			return store.Migrate(migDir, dsn, direction, steps)
		},
	}
	migrate.Flags().StringVar(&migDir, "dir", "", "migrations source (default storage.migrations_dir)")
	migrate.Flags().StringVar(&direction, "direction", "up", "up or down")
	migrate.Flags().IntVar(&steps, "steps", 0, "number of steps (0 = all)")
	return migrate
}
