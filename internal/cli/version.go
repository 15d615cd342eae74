package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"crosswatch/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "crosswatch "+version.String())
	},
}
