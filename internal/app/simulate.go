package app

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"text/tabwriter"

	"median-fee-estimator/internal/alerting"
	"median-fee-estimator/internal/costmetric"
	"median-fee-estimator/internal/estimator"
	"median-fee-estimator/internal/receipt"
)

// Simulate feeds synthetic blocks through an in-memory window and prints
// the block and window estimates after each one.
func (a *App) Simulate(ctx context.Context, opts SimulateOptions) error {
	if opts.Blocks <= 0 {
		return errors.New("--blocks must be greater than zero")
	}
	if opts.Txs < 0 {
		return errors.New("--txs cannot be negative")
	}

	var notifier alerting.Notifier
	if opts.Alert {
		if notifier = a.newNotifier(); notifier == nil {
			return errors.New("alerting is not enabled")
		}
	}

	store, err := a.openMemoryStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	est, err := a.newEstimator(store, nil)
	if err != nil {
		return err
	}

	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))
	limit := costmetric.MainnetBlockLimit

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Height\tTxs\tSamples\tBlock low/mid/high\tWindow low/mid/high")

	var last estimator.Update
	var lastBlock receipt.Block
	for h := 1; h <= opts.Blocks; h++ {
		block := syntheticBlock(rng, uint64(h), opts.Txs, limit)
		update, err := est.Observe(ctx, block, limit)
		if err != nil {
			return err
		}
		if update.Skipped {
			fmt.Fprintf(writer, "%d\t%d\t-\tskipped\t-\n", h, len(block.Transactions))
			continue
		}
		fmt.Fprintf(writer, "%d\t%d\t%d\t%s/%s/%s\t%s/%s/%s\n", h, len(block.Transactions), update.Samples,
			formatRate(update.Block.Low), formatRate(update.Block.Middle), formatRate(update.Block.High),
			formatRate(update.Window.Low), formatRate(update.Window.Middle), formatRate(update.Window.High))
		last = update
		lastBlock = block
	}
	if err := writer.Flush(); err != nil {
		return err
	}

	if notifier == nil || lastBlock.Height == 0 {
		return nil
	}
	return notifier.Notify(ctx, alerting.Notification{
		Height:        lastBlock.Height,
		Hash:          lastBlock.Hash,
		Window:        last.Window,
		Block:         last.Block,
		ThresholdRate: a.Config.Alerting.ThresholdRate,
		WindowSize:    store.WindowSize(),
		Environment:   a.Config.App.Environment,
	})
}

// syntheticBlock draws a payload mix with log-normal fee rates. About one
// block in ten is left nearly empty so filler samples show up.
func syntheticBlock(rng *rand.Rand, height uint64, txs int, limit costmetric.ExecutionCost) receipt.Block {
	block := receipt.Block{
		Height: height,
		Hash:   fmt.Sprintf("sim-%d", height),
		Limit:  limit,
	}
	if txs > 0 && rng.IntN(10) == 0 {
		txs = 1 + rng.IntN(3)
	}

	block.Transactions = append(block.Transactions, receipt.Tx{
		ID:      fmt.Sprintf("sim-%d-coinbase", height),
		Origin:  receipt.OriginTransaction,
		Payload: receipt.PayloadCoinbase,
		Length:  180,
	})

	for i := 0; i < txs; i++ {
		tx := receipt.Tx{
			ID:     fmt.Sprintf("sim-%d-%d", height, i),
			Origin: receipt.OriginTransaction,
			Length: uint64(150 + rng.IntN(1500)),
		}
		rate := math.Exp(rng.NormFloat64()*1.2 + 3)

		switch roll := rng.IntN(100); {
		case roll < 50:
			tx.Payload = receipt.PayloadTransfer
		case roll < 90:
			tx.Payload = receipt.PayloadContractCall
			tx.Cost = fractionOf(rng, limit, 0.002)
		default:
			tx.Payload = receipt.PayloadContractDeploy
			tx.Cost = fractionOf(rng, limit, 0.01)
			tx.Length += uint64(rng.IntN(20_000))
		}
		tx.Fee = uint64(rate * float64(tx.Length))
		block.Transactions = append(block.Transactions, tx)
	}
	return block
}

func fractionOf(rng *rand.Rand, limit costmetric.ExecutionCost, max float64) costmetric.ExecutionCost {
	scale := func(v uint64) uint64 {
		return uint64(float64(v) * max * rng.Float64())
	}
	return costmetric.ExecutionCost{
		WriteLength: scale(limit.WriteLength),
		WriteCount:  scale(limit.WriteCount),
		ReadLength:  scale(limit.ReadLength),
		ReadCount:   scale(limit.ReadCount),
		Runtime:     scale(limit.Runtime),
	}
}
