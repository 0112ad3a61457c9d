package app

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/shopspring/decimal"

	"median-fee-estimator/internal/estimator"
)

// Show prints the aggregate followed by the retained window, newest first.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	rows, err := store.History(ctx)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Fprintln(a.Out, "no estimates recorded")
		return nil
	}

	agg, err := store.Current(ctx)
	if err != nil && !errors.Is(err, estimator.ErrNoEstimateAvailable) {
		return err
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(writer, "Window\t%d/%d\n", len(rows), store.WindowSize())
	fmt.Fprintf(writer, "Estimate\tlow %s\tmiddle %s\thigh %s\n", formatRate(agg.Low), formatRate(agg.Middle), formatRate(agg.High))
	fmt.Fprintln(writer)
	fmt.Fprintln(writer, "Key\tLow\tMiddle\tHigh")

	if opts.Limit > 0 && len(rows) > opts.Limit {
		rows = rows[:opts.Limit]
	}
	for _, row := range rows {
		fmt.Fprintf(writer, "%d\t%s\t%s\t%s\n", row.Key, formatRate(row.Low), formatRate(row.Middle), formatRate(row.High))
	}

	return writer.Flush()
}

func formatRate(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(3)
}
