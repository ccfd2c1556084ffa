package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jmcleod/hubpki/config"
	"github.com/jmcleod/hubpki/secrets"
)

var signerCmd = &cobra.Command{
	Use:   "signer",
	Short: "External CA executable tools",
}

var signerCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Probe the CA executable version",
	Long: `Runs the configured CA executable with "version" and compares the output
with HUBPKI_LOCAL_SIGNER_VERSION. Only the local backend uses an executable.`,
	Args: cobra.NoArgs,
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		if a.cfg.Backend != config.BackendLocal {
			return fmt.Errorf("the %s backend has no CA executable", a.cfg.Backend)
		}
		vc, ok := a.store.(secrets.VersionChecker)
		if !ok {
			return fmt.Errorf("the %s backend cannot report a signer version", a.cfg.Backend)
		}
		if err := vc.CheckVersion(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "CA executable version %s OK\n", a.cfg.Local.SignerVersion)
		return nil
	}),
}

func init() {
	rootCmd.AddCommand(signerCmd)
	signerCmd.AddCommand(signerCheckCmd)
}
