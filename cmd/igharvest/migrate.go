package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"igharvest/internal/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the database schema",
	Long: `Apply or roll back the embedded schema migrations of the configured database.

The server applies pending migrations itself when database.auto_migrate is set.`,
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(db *store.Store) error {
			if err := db.Migrate(); err != nil {
				return err
			}
			return printVersion(cmd, db)
		})
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back every migration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(db *store.Store) error {
			if err := db.MigrateDown(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "All migrations rolled back")
			return nil
		})
	},
}

var migrateVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the current schema version",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(db *store.Store) error {
			return printVersion(cmd, db)
		})
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateDownCmd)
	migrateCmd.AddCommand(migrateVersionCmd)
}

// withStore opens the database without auto migration and runs fn.
func withStore(cmd *cobra.Command, fn func(db *store.Store) error) error {
	cfg, log, err := setup(nil)
	if err != nil {
		return err
	}
	dbCfg := cfg.Database
	dbCfg.AutoMigrate = false

	db, err := store.Open(cmd.Context(), dbCfg, log)
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(db)
}

func printVersion(cmd *cobra.Command, db *store.Store) error {
	v, dirty, err := db.MigrationVersion()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	switch {
	case v == 0:
		fmt.Fprintf(out, "%s: no migrations applied\n", db.Driver())
	case dirty:
		fmt.Fprintf(out, "%s: schema version %d (dirty)\n", db.Driver(), v)
	default:
		fmt.Fprintf(out, "%s: schema version %d\n", db.Driver(), v)
	}
	return nil
}
