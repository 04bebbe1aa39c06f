package main

import (
	"fmt"
	"strconv"

	"github.com/lewtec/labelhub/db"
	"github.com/spf13/cobra"
)

// migrateCmd represents the migrate command
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the database schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply every pending migration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		conn, err := db.Open(config.Database.Path)
		if err != nil {
			return err
		}
		defer conn.Close()
		return db.Migrate(conn, logger)
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down [steps]",
	Short: "Revert migrations, one step by default",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		steps := 1
		if len(args) == 1 {
			n, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("steps must be a number: %w", err)
			}
			steps = n
		}
		conn, err := db.Open(config.Database.Path)
		if err != nil {
			return err
		}
		defer conn.Close()
		return db.Rollback(conn, logger, steps)
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd)
}
