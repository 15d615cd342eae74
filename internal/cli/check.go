package cli

import (
	"strings"

	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check SYMBOL",
	Short: "Evaluate the detector once for a symbol and print the outcome",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		symbol := strings.ToUpper(args[0])
		return getApp().Check(cmd.Context(), symbol)
	},
}
