package cmd

import (
	"github.com/spf13/cobra"

	"github.com/jmcleod/hubpki/pki"
)

var (
	jwsPublicFile  string
	jwsPrivateFile string
	jwsDFSP        string
)

var jwsCmd = &cobra.Command{
	Use:   "jws",
	Short: "Manage JWS signing keys",
}

var jwsRotateCmd = &cobra.Command{
	Use:   "rotate",
	Short: "Replace the hub JWS key pair",
	Long: `Generates a new hub JWS key pair, or installs the pair given with --public
and --private. The previous key stays in place when the new pair fails validation.`,
	Args: cobra.NoArgs,
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		var kp *pki.KeyPair
		if jwsPublicFile != "" || jwsPrivateFile != "" {
			pub, err := readPEMFile(jwsPublicFile)
			if err != nil {
				return err
			}
			priv, err := readPEMFile(jwsPrivateFile)
			if err != nil {
				return err
			}
			kp = &pki.KeyPair{PublicKeyPEM: pub, PrivateKeyPEM: priv}
		}
		jws, err := a.engine.RotateHubJWSCerts(cmd.Context(), kp)
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), jws)
	}),
}

var jwsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the hub JWS public key, or a DFSP key with --dfsp",
	Args:  cobra.NoArgs,
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		if jwsDFSP != "" {
			jws, err := a.engine.GetDFSPJWSCerts(cmd.Context(), jwsDFSP)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), jws)
		}
		jws, err := a.engine.GetHubJWSCerts(cmd.Context())
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), jws)
	}),
}

func init() {
	rootCmd.AddCommand(jwsCmd)
	jwsCmd.AddCommand(jwsRotateCmd, jwsShowCmd)

	jwsRotateCmd.Flags().StringVar(&jwsPublicFile, "public", "", "Public key PEM file")
	jwsRotateCmd.Flags().StringVar(&jwsPrivateFile, "private", "", "Private key PEM file")
	jwsRotateCmd.MarkFlagsRequiredTogether("public", "private")

	jwsShowCmd.Flags().StringVar(&jwsDFSP, "dfsp", "", "Show the key registered for this DFSP")
}
