package storage

import "median-fee-estimator/internal/estimator"

// TableName is the window table. Other estimators may keep their own tables
// in the same database.
const TableName = "median_fee_estimator"

// Measurement is one retained block estimate.
type Measurement struct {
	// Key orders measurements by insertion.
	Key int64
	estimator.FeeRateEstimate
}

func estimates(rows []Measurement) []estimator.FeeRateEstimate {
	out := make([]estimator.FeeRateEstimate, len(rows))
	for i, m := range rows {
		out[i] = m.FeeRateEstimate
	}
	return out
}
