// Package estimator derives low, middle and high fee-rate estimates from
// block receipts and smooths them over a persisted window of blocks.
package estimator

// FeeRateEstimate holds the low, middle and high fee rates of a block or of
// the whole window.
type FeeRateEstimate struct {
	High   float64 `json:"high"`
	Middle float64 `json:"middle"`
	Low    float64 `json:"low"`
}

// FeeRateAndWeight is a single weighted fee-rate sample.
type FeeRateAndWeight struct {
	FeeRate float64
	Weight  uint64
}
