package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmcleod/hubpki/inspect"
	"github.com/jmcleod/hubpki/validation"
)

type csrReport struct {
	*inspect.CSRInfo
	RequiredDNFields inspect.DNCheck `json:"requiredDNFields"`
	SubjectAltNames  []string        `json:"subjectAltNames"`
}

type certReport struct {
	*inspect.CertInfo
	RequiredDNFields inspect.DNCheck `json:"requiredDNFields"`
	SubjectAltNames  []string        `json:"subjectAltNames"`
}

type validationReport struct {
	File    string              `json:"file"`
	State   validation.State    `json:"state"`
	Results []validation.Result `json:"results"`
}

var inspectEmailRequired bool

func dnOptions() []inspect.DNOption {
	if inspectEmailRequired {
		return []inspect.DNOption{inspect.WithEmailRequired()}
	}
	return nil
}

func readPEMFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("cannot read %s: %w", path, err)
	}
	return string(data), nil
}

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Show the contents of PEM encoded CSRs and certificates",
}

var inspectCSRCmd = &cobra.Command{
	Use:   "csr [file]",
	Short: "Inspect a certificate signing request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pemText, err := readPEMFile(args[0])
		if err != nil {
			return err
		}
		info, err := inspect.InspectCSR(pemText)
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), csrReport{
			CSRInfo:          info,
			RequiredDNFields: inspect.RequiredDNFields(info.Subject, dnOptions()...),
			SubjectAltNames:  inspect.FlattenSubjectAltNames(info.Extensions.SubjectAltName),
		})
	},
}

var inspectCertCmd = &cobra.Command{
	Use:   "cert [file]",
	Short: "Inspect every certificate of a PEM bundle",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pemText, err := readPEMFile(args[0])
		if err != nil {
			return err
		}
		infos, err := inspect.InspectCertificates(pemText)
		if err != nil {
			return err
		}
		reports := make([]certReport, len(infos))
		for i, info := range infos {
			reports[i] = certReport{
				CertInfo:         info,
				RequiredDNFields: inspect.RequiredDNFields(info.Subject, dnOptions()...),
				SubjectAltNames:  inspect.FlattenSubjectAltNames(info.Extensions.SubjectAltName),
			}
		}
		return writeJSON(cmd.OutOrStdout(), reports)
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Run the validation checks offline",
}

var validateCSRCmd = &cobra.Command{
	Use:   "csr [file]",
	Short: "Validate a certificate signing request",
	Long: `Runs the CSR checks and prints every result with the aggregate state.
Exits non-zero when the CSR is INVALID.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pemText, err := readPEMFile(args[0])
		if err != nil {
			return err
		}
		csr, err := inspect.ParseCSR(pemText)
		if err != nil {
			return err
		}
		results := validation.ValidateCSR(csr, validation.Options{
			Now:           time.Now().UTC(),
			EmailRequired: inspectEmailRequired,
		})
		report := validationReport{File: args[0], State: validation.Aggregate(results), Results: results}
		if err := writeJSON(cmd.OutOrStdout(), report); err != nil {
			return err
		}
		if report.State == validation.StateInvalid {
			return errValidationFailed
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(inspectCmd, validateCmd)
	inspectCmd.AddCommand(inspectCSRCmd, inspectCertCmd)
	validateCmd.AddCommand(validateCSRCmd)
	for _, c := range []*cobra.Command{inspectCmd, validateCmd} {
		c.PersistentFlags().BoolVar(&inspectEmailRequired, "email-required", false, "Require emailAddress in the subject")
	}
}
