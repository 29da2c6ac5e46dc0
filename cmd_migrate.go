package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/giygas/drug-registry/database"
)

var migrateDownSteps int

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations, or roll back with --down",
	RunE:  runMigrate,
}

func init() {
	migrateCmd.Flags().IntVar(&migrateDownSteps, "down", 0, "number of migrations to roll back")
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	db, err := database.Open(cmd.Context(), appConfig)
	if err != nil {
		return err
	}
	defer db.Close()

	if migrateDownSteps > 0 {
		if err := db.MigrateDown(migrateDownSteps); err != nil {
			return err
		}
	} else if err := db.Migrate(); err != nil {
		return err
	}

	version, dirty, err := db.Version()
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "schema version %d (dirty=%v)\n", version, dirty)
	return nil
}
