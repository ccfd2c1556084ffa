package cmd

import (
	"crypto/x509/pkix"

	"github.com/spf13/cobra"

	"github.com/jmcleod/hubpki/enrollment"
	"github.com/jmcleod/hubpki/pki"
)

var (
	enrollDFSP     string
	enrollID       string
	enrollCSRFile  string
	enrollCertFile string
	enrollCN       string
	enrollOrg      string
)

var enrollCmd = &cobra.Command{
	Use:   "enroll",
	Short: "Run DFSP certificate enrollments",
}

var enrollInboundCmd = &cobra.Command{
	Use:   "inbound",
	Short: "Enrollments of DFSP client certificates signed by the hub CA",
}

var enrollInboundCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Submit a DFSP CSR",
	Args:  cobra.NoArgs,
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		csrPEM, err := readPEMFile(enrollCSRFile)
		if err != nil {
			return err
		}
		e, err := a.enroll.CreateInbound(cmd.Context(), enrollDFSP, csrPEM)
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), e)
	}),
}

var enrollInboundSignCmd = &cobra.Command{
	Use:   "sign",
	Short: "Sign a pending inbound enrollment with the current CA",
	Args:  cobra.NoArgs,
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		e, err := a.enroll.SignInbound(cmd.Context(), enrollDFSP, enrollID, enrollment.SignOptions{CommonName: enrollCN})
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), e)
	}),
}

var enrollInboundListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the inbound enrollments of a DFSP",
	Args:  cobra.NoArgs,
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		list, err := a.enroll.ListInbound(cmd.Context(), enrollDFSP)
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), list)
	}),
}

var enrollOutboundCmd = &cobra.Command{
	Use:   "outbound",
	Short: "Enrollments of hub client certificates signed by a DFSP CA",
}

var enrollOutboundCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Generate a hub key and CSR for a DFSP to sign",
	Args:  cobra.NoArgs,
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		e, err := a.enroll.CreateOutbound(cmd.Context(), enrollDFSP, pki.CSRParams{
			Subject: pkix.Name{CommonName: enrollCN, Organization: nonEmpty(enrollOrg)},
		})
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), e)
	}),
}

var enrollOutboundAttachCmd = &cobra.Command{
	Use:   "attach",
	Short: "Record the certificate a DFSP issued for an outbound enrollment",
	Args:  cobra.NoArgs,
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		certPEM, err := readPEMFile(enrollCertFile)
		if err != nil {
			return err
		}
		e, err := a.enroll.AttachOutboundCertificate(cmd.Context(), enrollDFSP, enrollID, certPEM)
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), e)
	}),
}

var enrollOutboundValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Re-validate an outbound enrollment",
	Args:  cobra.NoArgs,
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		e, err := a.enroll.ValidateOutbound(cmd.Context(), enrollDFSP, enrollID)
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), e)
	}),
}

var enrollOutboundListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the outbound enrollments of a DFSP",
	Args:  cobra.NoArgs,
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		list, err := a.enroll.ListOutbound(cmd.Context(), enrollDFSP)
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), list)
	}),
}

func init() {
	rootCmd.AddCommand(enrollCmd)
	enrollCmd.AddCommand(enrollInboundCmd, enrollOutboundCmd)
	enrollInboundCmd.AddCommand(enrollInboundCreateCmd, enrollInboundSignCmd, enrollInboundListCmd)
	enrollOutboundCmd.AddCommand(enrollOutboundCreateCmd, enrollOutboundAttachCmd, enrollOutboundValidateCmd, enrollOutboundListCmd)

	enrollCmd.PersistentFlags().StringVar(&enrollDFSP, "dfsp", "", "DFSP identifier")
	_ = enrollCmd.MarkPersistentFlagRequired("dfsp")

	for _, c := range []*cobra.Command{enrollInboundSignCmd, enrollOutboundAttachCmd, enrollOutboundValidateCmd} {
		c.Flags().StringVar(&enrollID, "id", "", "Enrollment id")
		_ = c.MarkFlagRequired("id")
	}

	enrollInboundCreateCmd.Flags().StringVar(&enrollCSRFile, "csr", "", "CSR PEM file")
	_ = enrollInboundCreateCmd.MarkFlagRequired("csr")
	enrollInboundSignCmd.Flags().StringVar(&enrollCN, "cn", "", "Override the certificate common name")

	enrollOutboundCreateCmd.Flags().StringVar(&enrollCN, "cn", "", "Common name of the hub client certificate")
	enrollOutboundCreateCmd.Flags().StringVar(&enrollOrg, "org", "", "Organization (O)")
	_ = enrollOutboundCreateCmd.MarkFlagRequired("cn")

	enrollOutboundAttachCmd.Flags().StringVar(&enrollCertFile, "cert", "", "Certificate PEM file")
	_ = enrollOutboundAttachCmd.MarkFlagRequired("cert")
}
