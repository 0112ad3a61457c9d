// Package storage persists the window of per-block fee-rate estimates.
package storage

import (
	"context"
	"errors"
	"fmt"

	"median-fee-estimator/internal/config"
	"median-fee-estimator/internal/estimator"
)

var (
	// ErrNotConfigured indicates the store was not initialised.
	ErrNotConfigured = errors.New("storage: store not configured")
	// ErrInvalidWindow rejects a zero window size.
	ErrInvalidWindow = errors.New("storage: window size must be positive")
)

// WindowStore is a window backend.
type WindowStore interface {
	estimator.Window
	// History lists the retained measurements, newest first.
	History(ctx context.Context) ([]Measurement, error)
	// Count returns the number of persisted rows.
	Count(ctx context.Context) (int64, error)
	WindowSize() uint32
	Close() error
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Open opens the configured backend, creating the window table if needed.
func Open(ctx context.Context, cfg config.StorageConfig, db config.DatabaseConfig, windowSize uint32) (WindowStore, error) {
	switch cfg.Driver {
	case config.DriverSQLite, "":
		return OpenSQLite(ctx, cfg.Path, windowSize)
	case config.DriverPostgres:
		pool, err := NewPool(ctx, db)
		if err != nil {
			return nil, err
		}
		store, err := NewPostgresStore(ctx, pool, windowSize)
		if err != nil {
			pool.Close()
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
}

// aggregate computes the column-wise median of the retained rows.
func aggregate(rows []Measurement) (estimator.FeeRateEstimate, error) {
	return estimator.ColumnMedian(estimates(rows))
}
