package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/feedplay/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long: `Print the feedplay build: version, commit, build date, Go toolchain and
platform. --short prints only the version, --json the full record.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		short, _ := cmd.Flags().GetBool("short")
		asJSON, _ := cmd.Flags().GetBool("json")

		out := cmd.OutOrStdout()
		switch {
		case short && asJSON:
			return fmt.Errorf("--short and --json are mutually exclusive")
		case short:
			fmt.Fprintln(out, version.Short())
		case asJSON:
			fmt.Fprintln(out, version.JSON())
		default:
			fmt.Fprintln(out, version.String())
			fmt.Fprintf(out, "  user agent: %s\n", version.UserAgent())
		}
		return nil
	},
}

func init() {
	versionCmd.Flags().Bool("short", false, "print only the version")
	versionCmd.Flags().Bool("json", false, "print version information as JSON")
	rootCmd.AddCommand(versionCmd)
}
