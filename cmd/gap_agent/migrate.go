package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jonathan/visibility-gap/internal/db"
)

var migrateStatus bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE:  runMigrate,
}

func init() {
	migrateCmd.Flags().BoolVar(&migrateStatus, "status", false, "Print the current schema version and exit")
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	d, err := connect(ctx, cfg, true, false)
	if err != nil {
		return err
	}
	defer d.Close()

	out := cmd.OutOrStdout()
	if migrateStatus {
		version, err := d.db.MigrationVersion(ctx)
		if err != nil {
			return err
		}
		sources, err := db.MigrationSources()
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Schema version %d (%d migrations embedded)\n", version, len(sources))
		return nil
	}

	applied, err := d.db.Migrate(ctx)
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		fmt.Fprintln(out, "Database is up to date")
		return nil
	}
	for _, m := range applied {
		fmt.Fprintf(out, "Applied %d %s\n", m.Version, m.Source)
	}
	return nil
}
