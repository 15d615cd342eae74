package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"crosswatch/internal/app"
)

var (
	statsFrom string
	statsTo   string
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize closed paper trades",
	RunE: func(cmd *cobra.Command, args []string) error {
		var opts app.StatsOptions

		if statsFrom != "" {
			from, err := time.Parse(time.RFC3339, statsFrom)
			if err != nil {
				return fmt.Errorf("invalid --from value: %w", err)
			}
			opts.From = &from
		}

		if statsTo != "" {
			to, err := time.Parse(time.RFC3339, statsTo)
			if err != nil {
				return fmt.Errorf("invalid --to value: %w", err)
			}
			opts.To = &to
		}

		return getApp().Stats(cmd.Context(), opts)
	},
}

func init() {
	statsCmd.Flags().StringVar(&statsFrom, "from", "", "Start timestamp (RFC3339, inclusive)")
	statsCmd.Flags().StringVar(&statsTo, "to", "", "End timestamp (RFC3339, exclusive)")
}
