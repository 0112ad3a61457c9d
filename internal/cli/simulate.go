package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"median-fee-estimator/internal/app"
)

var (
	simulateBlocks int
	simulateTxs    int
	simulateSeed   uint64
	simulateAlert  bool
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run synthetic blocks through an in-memory window",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateBlocks <= 0 {
			return errors.New("--blocks must be greater than zero")
		}

		return getApp().Simulate(cmd.Context(), app.SimulateOptions{
			Blocks: simulateBlocks,
			Txs:    simulateTxs,
			Seed:   simulateSeed,
			Alert:  simulateAlert,
		})
	},
}

func init() {
	simulateCmd.Flags().IntVar(&simulateBlocks, "blocks", 20, "Number of blocks to generate")
	simulateCmd.Flags().IntVar(&simulateTxs, "txs", 50, "Transactions per block")
	simulateCmd.Flags().Uint64Var(&simulateSeed, "seed", 1, "Random seed")
	simulateCmd.Flags().BoolVar(&simulateAlert, "alert", false, "Send the final window estimate through the configured notifier")
}
