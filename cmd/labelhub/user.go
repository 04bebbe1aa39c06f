package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/lewtec/labelhub/annotation"
	"github.com/spf13/cobra"
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage annotators and dataset owners",
}

var userAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Create a user and print its id and an API token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, closeStore, err := openStore()
		if err != nil {
			return err
		}
		defer closeStore()

		u, err := store.Repos().Users.Create(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("failed to create user: %w", err)
		}
		token, err := annotation.MintToken(config.Auth.Secret, u.ID, config.Auth.TokenTTL)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", u.ID, token)
		return nil
	},
}

var userTokenCmd = &cobra.Command{
	Use:   "token <id|name>",
	Short: "Print a fresh API token for a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, closeStore, err := openStore()
		if err != nil {
			return err
		}
		defer closeStore()

		u, err := findUser(cmd.Context(), store, args[0])
		if err != nil {
			return err
		}
		token, err := annotation.MintToken(config.Auth.Secret, u.ID, config.Auth.TokenTTL)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

var userListCmd = &cobra.Command{
	Use:   "list",
	Short: "List users",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, closeStore, err := openStore()
		if err != nil {
			return err
		}
		defer closeStore()

		users, err := store.Repos().Users.List(cmd.Context())
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "id\tname\tcreated")
		for _, u := range users {
			fmt.Fprintf(w, "%s\t%s\t%s\n", u.ID, u.Name, u.CreatedAt.Format("2006-01-02"))
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(userCmd)
	userCmd.AddCommand(userAddCmd, userTokenCmd, userListCmd)
}
