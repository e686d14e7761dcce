package main

import (
	"fmt"

	"github.com/spf13/cobra"

	sqliteadapter "github.com/ericfisherdev/vendorvault/internal/adapter/driven/sqlite"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations and report the schema version",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		db, err := sqliteadapter.NewDB(cmd.Context(), cfg.DBPath)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := sqliteadapter.RunMigrations(db.Writer); err != nil {
			return err
		}
		version, dirty, err := sqliteadapter.MigrationVersion(db.Writer)
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "%s: schema version %d (dirty=%t)\n", cfg.DBPath, version, dirty)
		return nil
	},
}
