package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"median-fee-estimator/internal/app"
)

var (
	backfillFrom   uint64
	backfillTo     uint64
	backfillDryRun bool
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Feed a range of historical blocks to the estimator",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !cmd.Flags().Changed("from") || !cmd.Flags().Changed("to") {
			return fmt.Errorf("--from and --to must be provided")
		}
		if backfillFrom > backfillTo {
			return fmt.Errorf("--from must not be after --to")
		}

		opts := app.BackfillOptions{
			From:   backfillFrom,
			To:     backfillTo,
			DryRun: backfillDryRun,
		}

		return getApp().Backfill(cmd.Context(), opts)
	},
}

func init() {
	backfillCmd.Flags().Uint64Var(&backfillFrom, "from", 0, "First block height (inclusive)")
	backfillCmd.Flags().Uint64Var(&backfillTo, "to", 0, "Last block height (inclusive)")
	backfillCmd.Flags().BoolVar(&backfillDryRun, "dry-run", false, "Keep estimates in memory instead of the configured store")
}
