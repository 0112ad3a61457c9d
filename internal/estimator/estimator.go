package estimator

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"median-fee-estimator/internal/costmetric"
	"median-fee-estimator/internal/metrics"
	"median-fee-estimator/internal/receipt"
)

// Window persists block estimates and aggregates the retained ones.
type Window interface {
	// Record appends a block estimate, trims the window and returns the
	// aggregate as seen after the trim, all in one transaction.
	Record(ctx context.Context, est FeeRateEstimate) (FeeRateEstimate, error)
	// Current aggregates the retained window.
	Current(ctx context.Context) (FeeRateEstimate, error)
}

// Estimator is the weighted-median fee-rate estimator. Calls must be
// serialised by the caller.
type Estimator struct {
	sampler *Sampler
	window  Window
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// Option customises an Estimator.
type Option func(*Estimator)

// WithMetrics attaches Prometheus instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Estimator) {
		e.metrics = m
	}
}

// New wires a sampler to a window store.
func New(sampler *Sampler, window Window, logger zerolog.Logger, opts ...Option) *Estimator {
	e := &Estimator{
		sampler: sampler,
		window:  window,
		logger:  logger.With().Str("component", "estimator").Logger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Update describes the effect of one block on the window.
type Update struct {
	Block   FeeRateEstimate
	Window  FeeRateEstimate
	Samples int
	Skipped bool
}

// NotifyBlock computes the block's estimate and records it in the window.
// A block without fee samples is skipped and reported as success.
func (e *Estimator) NotifyBlock(ctx context.Context, block receipt.Block, limit costmetric.ExecutionCost) error {
	_, err := e.Observe(ctx, block, limit)
	return err
}

// Observe is NotifyBlock that also reports the block and window estimates.
func (e *Estimator) Observe(ctx context.Context, block receipt.Block, limit costmetric.ExecutionCost) (Update, error) {
	measure, samples, ok := e.sampler.Estimate(block, limit)
	if !ok {
		e.metrics.ObserveSkip()
		e.logger.Debug().Uint64("height", block.Height).Msg("block produced no fee samples; skipped")
		return Update{Skipped: true}, nil
	}

	start := time.Now()
	next, err := e.window.Record(ctx, measure)
	if err != nil {
		return Update{}, WrapStorage("record", err)
	}
	e.metrics.ObserveBlock(samples, measure.Low, measure.Middle, measure.High, time.Since(start))
	e.metrics.SetWindowEstimate(next.Low, next.Middle, next.High)

	e.logger.Debug().
		Uint64("height", block.Height).
		Int("samples", samples).
		Float64("new_measure_high", measure.High).
		Float64("new_measure_middle", measure.Middle).
		Float64("new_measure_low", measure.Low).
		Float64("new_estimate_high", next.High).
		Float64("new_estimate_middle", next.Middle).
		Float64("new_estimate_low", next.Low).
		Msg("updating fee rate estimate for new block")
	return Update{Block: measure, Window: next, Samples: samples}, nil
}

// RateEstimates returns the windowed estimate, or ErrNoEstimateAvailable
// while the window is empty.
func (e *Estimator) RateEstimates(ctx context.Context) (FeeRateEstimate, error) {
	est, err := e.window.Current(ctx)
	if err != nil {
		if errors.Is(err, ErrNoEstimateAvailable) {
			return FeeRateEstimate{}, err
		}
		return FeeRateEstimate{}, WrapStorage("current estimate", err)
	}
	return est, nil
}
