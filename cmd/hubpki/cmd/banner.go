package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

const banner = `
  _   _       _     ____  _  _____
 | | | |_   _| |__ |  _ \| |/ /_ _|
 | |_| | | | | '_ \| |_) | ' / | |
 |  _  | |_| | |_) |  __/| . \ | |
 |_| |_|\__,_|_.__/|_|   |_|\_\___|
`

func printBanner(w io.Writer) {
	fmt.Fprintf(w, "\x1b[34m%s\x1b[0m", banner)
	fmt.Fprintf(w, "\x1b[32m  Hub PKI - Version %s\x1b[0m\n\n", Version)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the hubpki version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		printBanner(cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
