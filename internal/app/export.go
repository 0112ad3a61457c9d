package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strconv"

	chart "github.com/wcharczuk/go-chart/v2"

	"median-fee-estimator/internal/storage"
)

// Export renders the retained window as CSV and/or PNG, oldest row first.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

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
		a.Logger.Info().Msg("no estimates recorded; nothing to export")
		return nil
	}
	slices.Reverse(rows)

	downsampled := downsampleRows(rows, opts.MaxPoints)
	a.Logger.Info().Int("total", len(rows)).Int("exported", len(downsampled)).Msg("exporting window")

	if opts.CSVPath != "" {
		if err := writeRowsCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeRowsPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func downsampleRows(rows []storage.Measurement, max int) []storage.Measurement {
	if max <= 0 || len(rows) <= max {
		return rows
	}
	if max == 1 {
		return rows[len(rows)-1:]
	}

	result := make([]storage.Measurement, 0, max)
	step := float64(len(rows)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(rows) {
			idx = len(rows) - 1
		}
		result = append(result, rows[idx])
	}
	return result
}

func writeRowsCSV(path string, rows []storage.Measurement) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)

	header := []string{"measure_key", "high", "middle", "low"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, row := range rows {
		record := []string{
			strconv.FormatInt(row.Key, 10),
			strconv.FormatFloat(row.High, 'f', -1, 64),
			strconv.FormatFloat(row.Middle, 'f', -1, 64),
			strconv.FormatFloat(row.Low, 'f', -1, 64),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func writeRowsPNG(path string, rows []storage.Measurement) error {
	if len(rows) < 2 {
		return errors.New("a chart needs at least two estimates")
	}
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]float64, len(rows))
	high := make([]float64, len(rows))
	middle := make([]float64, len(rows))
	low := make([]float64, len(rows))

	for i, row := range rows {
		x[i] = float64(row.Key)
		high[i] = row.High
		middle[i] = row.Middle
		low[i] = row.Low
	}

	rateFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.3f")
	}
	keyFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.0f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			Name:           "Measure",
			ValueFormatter: keyFormatter,
			Range:          paddedRange(x),
		},
		YAxis: chart.YAxis{
			Name:           "Fee rate",
			ValueFormatter: rateFormatter,
			Range:          paddedRange(slices.Concat(high, middle, low)),
		},
		Series: []chart.Series{
			chart.ContinuousSeries{Name: "High", XValues: x, YValues: high},
			chart.ContinuousSeries{Name: "Middle", XValues: x, YValues: middle},
			chart.ContinuousSeries{Name: "Low", XValues: x, YValues: low},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

// paddedRange never collapses to zero width, which the renderer rejects.
func paddedRange(values []float64) *chart.ContinuousRange {
	lo, hi := slices.Min(values), slices.Max(values)
	if lo == hi {
		lo, hi = lo-1, hi+1
	}
	return &chart.ContinuousRange{Min: lo, Max: hi}
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
