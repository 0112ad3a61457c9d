package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"median-fee-estimator/internal/estimator"
)

// Estimate prints the windowed estimate as JSON.
func (a *App) Estimate(ctx context.Context) error {
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	est, err := a.newEstimator(store, nil)
	if err != nil {
		return err
	}

	rates, err := est.RateEstimates(ctx)
	if errors.Is(err, estimator.ErrNoEstimateAvailable) {
		return fmt.Errorf("no estimate available yet: %w", err)
	}
	if err != nil {
		return err
	}

	enc := json.NewEncoder(a.Out)
	enc.SetIndent("", "  ")
	return enc.Encode(rates)
}
