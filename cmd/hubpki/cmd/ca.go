package cmd

import (
	"crypto/x509/pkix"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmcleod/hubpki/pki"
)

var (
	caCertFile string
	caKeyFile  string

	caSubject      pkix.Name
	caCountry      string
	caProvince     string
	caLocality     string
	caOrganization string
	caOrgUnit      string
	caValidity     time.Duration
	caKeyAlgorithm string
	caHistory      bool
)

var caCmd = &cobra.Command{
	Use:   "ca",
	Short: "Manage the hub certificate authority",
}

var caImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Make an existing CA certificate and key the current CA",
	Args:  cobra.NoArgs,
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		certPEM, err := readPEMFile(caCertFile)
		if err != nil {
			return err
		}
		keyPEM, err := readPEMFile(caKeyFile)
		if err != nil {
			return err
		}
		ca, err := a.engine.SetCurrentCA(cmd.Context(), a.cfg.Environment, certPEM, keyPEM)
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), ca)
	}),
}

var caCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Generate a self-signed CA and make it current",
	Args:  cobra.NoArgs,
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		alg, err := pki.ParseKeyAlgorithm(caKeyAlgorithm)
		if err != nil {
			return err
		}
		subject := caSubject
		subject.Country = nonEmpty(caCountry)
		subject.Province = nonEmpty(caProvince)
		subject.Locality = nonEmpty(caLocality)
		subject.Organization = nonEmpty(caOrganization)
		subject.OrganizationalUnit = nonEmpty(caOrgUnit)

		ca, err := a.engine.CreateCA(cmd.Context(), a.cfg.Environment, pki.CAParams{
			Subject:      subject,
			Validity:     caValidity,
			KeyAlgorithm: alg,
		})
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), ca)
	}),
}

var caShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the current CA, or every CA with --history",
	Args:  cobra.NoArgs,
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		if caHistory {
			cas, err := a.engine.ListCAs(cmd.Context(), a.cfg.Environment)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), cas)
		}
		ca, err := a.engine.GetCurrentCA(cmd.Context(), a.cfg.Environment)
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), ca)
	}),
}

func nonEmpty(v string) []string {
	if v == "" {
		return nil
	}
	return []string{v}
}

func init() {
	rootCmd.AddCommand(caCmd)
	caCmd.AddCommand(caImportCmd, caCreateCmd, caShowCmd)

	caImportCmd.Flags().StringVar(&caCertFile, "cert", "", "CA certificate PEM file")
	caImportCmd.Flags().StringVar(&caKeyFile, "key", "", "CA private key PEM file")
	_ = caImportCmd.MarkFlagRequired("cert")
	_ = caImportCmd.MarkFlagRequired("key")

	caCreateCmd.Flags().StringVar(&caSubject.CommonName, "cn", "", "Common name")
	caCreateCmd.Flags().StringVar(&caCountry, "country", "", "Country (C)")
	caCreateCmd.Flags().StringVar(&caProvince, "province", "", "State or province (ST)")
	caCreateCmd.Flags().StringVar(&caLocality, "locality", "", "Locality (L)")
	caCreateCmd.Flags().StringVar(&caOrganization, "org", "", "Organization (O)")
	caCreateCmd.Flags().StringVar(&caOrgUnit, "org-unit", "", "Organizational unit (OU)")
	caCreateCmd.Flags().DurationVar(&caValidity, "validity", pki.DefaultCAValidity, "Certificate lifetime")
	caCreateCmd.Flags().StringVar(&caKeyAlgorithm, "key-algorithm", string(pki.DefaultKeyAlgorithm), "rsa2048, rsa4096, ecdsa-p256 or ecdsa-p384")
	_ = caCreateCmd.MarkFlagRequired("cn")

	caShowCmd.Flags().BoolVar(&caHistory, "history", false, "List superseded CAs as well")
}
