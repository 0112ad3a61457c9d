package estimator

import "slices"

// compareRates orders floats ascending. Values that do not compare, such as
// NaN, are treated as equal.
func compareRates(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// median sorts values in place and returns the central element, or the mean
// of the two central elements for an even count. values must be non-empty.
func median(values []float64) float64 {
	slices.SortFunc(values, compareRates)
	n := len(values)
	if n%2 == 1 {
		return values[n/2]
	}
	return (values[n/2-1] + values[n/2]) / 2
}

// ColumnMedian aggregates a window of block estimates by taking the median of
// each column on its own, not the median row.
func ColumnMedian(window []FeeRateEstimate) (FeeRateEstimate, error) {
	if len(window) == 0 {
		return FeeRateEstimate{}, ErrNoEstimateAvailable
	}

	highs := make([]float64, len(window))
	mids := make([]float64, len(window))
	lows := make([]float64, len(window))
	for i, e := range window {
		highs[i] = e.High
		mids[i] = e.Middle
		lows[i] = e.Low
	}

	return FeeRateEstimate{
		High:   median(highs),
		Middle: median(mids),
		Low:    median(lows),
	}, nil
}
