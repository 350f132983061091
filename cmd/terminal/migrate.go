package main

import (
	"database/sql"
	"fmt"

	"warimas-pos/internal/db"

	"github.com/spf13/cobra"
)

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the local store schema",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigration(cmd, opts, db.Migrate)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigration(cmd, opts, db.MigrateDown)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Print the applied schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigration(cmd, opts, nil)
		},
	})

	return cmd
}

func runMigration(cmd *cobra.Command, opts *rootOptions, step func(*sql.DB, string) error) error {
	driver := opts.cfg.LocalDBDriver

	sqlDB, err := db.Open(driver, opts.cfg.LocalDBDSN)
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	if step != nil {
		if err := step(sqlDB, driver); err != nil {
			return err
		}
	}

	version, err := db.Version(sqlDB, driver)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "schema version %d\n", version)
	return nil
}
