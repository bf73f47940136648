package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/banshee-data/auv.localiser/internal/db"
)

var migrateDBPath string

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the sqlite schema",
}

func withDB(fn func(*db.DB) error) error {
	store, err := db.OpenWithoutMigrate(migrateDBPath)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store)
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(func(d *db.DB) error { return d.MigrateUp() })
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the most recent migration",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(func(d *db.DB) error { return d.MigrateDown() })
	},
}

var migrateVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the current and latest schema versions",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(func(d *db.DB) error {
			v, dirty, err := d.MigrateVersion()
			if err != nil {
				return err
			}
			latest, err := db.LatestMigrationVersion()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "current=%d latest=%d dirty=%t\n", v, latest, dirty)
			return nil
		})
	},
}

var migrateForceCmd = &cobra.Command{
	Use:   "force VERSION",
	Short: "Mark the schema as VERSION without running migrations",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid version %q: %w", args[0], err)
		}
		return withDB(func(d *db.DB) error { return d.MigrateForce(v) })
	},
}

func init() {
	migrateCmd.PersistentFlags().StringVar(&migrateDBPath, "db", "localiser.db", "sqlite database path")
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateVersionCmd, migrateForceCmd)
	rootCmd.AddCommand(migrateCmd)
}
