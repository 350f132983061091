package main

import (
	"database/sql"
	"fmt"

	"warimas-pos/internal/config"
	"warimas-pos/internal/db"
	"warimas-pos/internal/logger"

	"github.com/spf13/cobra"
)

type rootOptions struct {
	driver string
	dsn    string

	cfg *config.Config
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "terminal",
		Short:         "POS terminal order staging",
		Long:          "Stages cart orders locally, mirrors them to customer displays and syncs them to the backend.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig()
			if opts.driver != "" {
				cfg.LocalDBDriver = opts.driver
			}
			if opts.dsn != "" {
				cfg.LocalDBDSN = opts.dsn
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			logger.Init(cfg.AppEnv)
			opts.cfg = cfg
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.driver, "driver", "", "local database driver (sqlite3|postgres), overrides LOCAL_DB_DRIVER")
	cmd.PersistentFlags().StringVar(&opts.dsn, "db", "", "local database DSN, overrides LOCAL_DB_DSN")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newMigrateCommand(opts))
	cmd.AddCommand(newOutboxCommand(opts))
	cmd.AddCommand(newCartCommand(opts))

	return cmd
}

// openStore opens the local database with the schema brought up to date.
func (o *rootOptions) openStore() (*sql.DB, db.Conn, error) {
	sqlDB, err := db.Open(o.cfg.LocalDBDriver, o.cfg.LocalDBDSN)
	if err != nil {
		return nil, nil, err
	}
	if err := db.Migrate(sqlDB, o.cfg.LocalDBDriver); err != nil {
		sqlDB.Close()
		return nil, nil, err
	}
	return sqlDB, db.Static(sqlDB, o.cfg.LocalDBDriver), nil
}
