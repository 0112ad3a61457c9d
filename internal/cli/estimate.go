package cli

import (
	"github.com/spf13/cobra"
)

var estimateCmd = &cobra.Command{
	Use:   "estimate",
	Short: "Print the current fee rate estimate as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Estimate(cmd.Context())
	},
}
