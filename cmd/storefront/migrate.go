package main

import (
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/shopline/storefront/internal/infrastructure/db/postgres"
	"github.com/shopline/storefront/internal/pkg/config"
)

// NewMigrateCmd creates the migrate subcommand.
func NewMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply PostgreSQL migrations",
		Long:  `Apply all pending migrations to the database named by POSTGRES_DSN.`,
		RunE:  runMigrate,
	}
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg, err := config.Load(ctx)
	if err != nil {
		return oops.Code("CONFIG_INVALID").With("operation", "load config").Wrap(err)
	}

	cmd.Println("Connecting to database...")
	pool, err := postgres.Connect(ctx, postgres.Config{DSN: cfg.Postgres.DSN, MaxConns: cfg.Postgres.MaxConns})
	if err != nil {
		return err
	}
	defer pool.Close()

	cmd.Println("Running migrations...")
	if err := postgres.Migrate(ctx, pool); err != nil {
		return err
	}

	cmd.Println("Migrations completed successfully")
	return nil
}
