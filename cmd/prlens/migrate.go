package main

import (
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		database, _, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer database.Close()
		ui.Success("Database is up to date (%s)", database.Dialect)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
