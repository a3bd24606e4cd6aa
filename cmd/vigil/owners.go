package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"mercator-hq/vigil/pkg/cli"
)

var ownersFlags struct {
	purge bool
}

var ownersCmd = &cobra.Command{
	Use:   "owners",
	Short: "Manage monitored owners",
}

var ownersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List owners",
	RunE:  runOwnersList,
}

var ownersDeleteCmd = &cobra.Command{
	Use:   "delete KEY",
	Short: "Delete an owner",
	Long: `Delete an owner. An owner that still has results is refused unless
--purge is given, which deletes the results first.`,
	Args: cobra.ExactArgs(1),
	RunE: runOwnersDelete,
}

func init() {
	rootCmd.AddCommand(ownersCmd)
	ownersCmd.AddCommand(ownersListCmd, ownersDeleteCmd)

	ownersDeleteCmd.Flags().BoolVar(&ownersFlags.purge, "purge", false, "delete the owner's results first")
}

func runOwnersList(cmd *cobra.Command, args []string) error {
	printer, err := newPrinter(cmd)
	if err != nil {
		return err
	}
	repo, err := openCommandRepository()
	if err != nil {
		return err
	}
	defer repo.Close()

	owners, err := repo.ListOwners(cmd.Context())
	if err != nil {
		return cli.NewCommandError("owners list", err)
	}
	return printer.Owners(owners)
}

func runOwnersDelete(cmd *cobra.Command, args []string) error {
	key := args[0]

	repo, err := openCommandRepository()
	if err != nil {
		return err
	}
	defer repo.Close()

	ctx := cmd.Context()
	if ownersFlags.purge {
		deleted, err := repo.DeleteResultsByOwner(ctx, key)
		if err != nil {
			return cli.NewCommandError("owners delete", err)
		}
		if deleted > 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Deleted %d results of %s\n", deleted, key)
		}
	}

	if err := repo.DeleteOwner(ctx, key); err != nil {
		return cli.NewCommandError("owners delete", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Deleted owner %s\n", key)
	return nil
}
