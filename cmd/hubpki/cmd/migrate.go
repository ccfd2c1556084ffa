package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jmcleod/hubpki/migration"
)

var migrateCategories []string

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Secret store layout migrations",
}

var migrateSecretPathsCmd = &cobra.Command{
	Use:   "secret-paths",
	Short: "Copy DFSP secrets from numeric keys to DFSP identifiers",
	Long: `Copies every secret stored under a numeric DFSP key to the path named by the
DFSP identifier. Legacy secrets are kept and existing destinations are never
overwritten, so the command can be re-run safely.`,
	Args: cobra.NoArgs,
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		reports, err := migration.Run(cmd.Context(), a.store, a.directory, migrateCategories,
			migration.WithLogger(a.logger), migration.WithAudit(a.audit))
		if werr := writeJSON(cmd.OutOrStdout(), reports); werr != nil && err == nil {
			err = werr
		}
		return err
	}),
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the recorded secret layout version",
	Args:  cobra.NoArgs,
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		version, err := migration.LayoutVersion(cmd.Context(), a.store)
		if err != nil {
			return err
		}
		state := "pending"
		if version == migration.LayoutCurrent {
			state = "up to date"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "secret layout version %s (%s)\n", version, state)
		return nil
	}),
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.AddCommand(migrateSecretPathsCmd, migrateStatusCmd)
	migrateSecretPathsCmd.Flags().StringSliceVar(&migrateCategories, "category", nil,
		"Category to migrate, repeatable (default dfsp-jws, dfsp-ca and every dfsp-server-cert environment)")
}
