package app

import (
	"context"
	"errors"
	"fmt"

	"median-fee-estimator/internal/service"
	"median-fee-estimator/internal/storage"
)

// Backfill feeds the blocks From..To to the estimator in height order.
func (a *App) Backfill(ctx context.Context, opts BackfillOptions) error {
	if opts.From > opts.To {
		return errors.New("backfill range is empty; check --from/--to")
	}

	var (
		store storage.WindowStore
		err   error
	)
	if opts.DryRun {
		a.Logger.Warn().Msg("backfill dry-run: estimates are kept in memory only")
		store, err = a.openMemoryStore(ctx)
	} else {
		store, err = a.openStore(ctx)
	}
	if err != nil {
		return err
	}
	defer store.Close()

	est, err := a.newEstimator(store, nil)
	if err != nil {
		return err
	}
	source, err := a.newSource()
	if err != nil {
		return err
	}

	svc := service.New(a.Config, nil, source, est, store, nil, nil, a.Logger)

	processed := 0
	failed := 0
	for height := opts.From; ; height++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if _, err := svc.ProcessHeight(ctx, height); err != nil {
			failed++
			a.Logger.Error().Err(err).Uint64("height", height).Msg("backfill failed")
		} else {
			processed++
		}
		if height == opts.To {
			break
		}
	}

	a.Logger.Info().Int("processed", processed).Int("failed", failed).Msg("backfill complete")

	if rates, err := est.RateEstimates(ctx); err == nil {
		fmt.Fprintf(a.Out, "window estimate: low %s middle %s high %s\n", formatRate(rates.Low), formatRate(rates.Middle), formatRate(rates.High))
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d blocks failed to backfill; check logs", failed, processed+failed)
	}
	return nil
}
