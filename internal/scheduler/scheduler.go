// Package scheduler drives the block polling loop.
package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// TickFunc is invoked once per polling round.
type TickFunc func(ctx context.Context) error

// Options tune scheduler behaviour.
type Options struct {
	Interval     time.Duration
	StartupDelay time.Duration
	// MaxBackoff caps the delay after consecutive failed ticks. Zero keeps
	// the regular interval.
	MaxBackoff time.Duration
}

// Scheduler polls at a fixed interval and backs off while ticks fail.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		panic("scheduler interval must be positive")
	}
	return &Scheduler{opts: opts, logger: logger.With().Str("component", "scheduler").Logger()}
}

// Run blocks, invoking tick until ctx is cancelled. The first tick runs
// after the startup delay.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	delay := s.opts.StartupDelay
	failures := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		if err := tick(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failures++
			delay = s.nextDelay(failures)
			s.logger.Error().Err(err).Int("failures", failures).Dur("retry_in", delay).Msg("tick execution failed")
			continue
		}

		failures = 0
		delay = s.opts.Interval
		s.logger.Debug().Dur("next_in", delay).Msg("tick complete")
	}
}

// nextDelay doubles the interval for every consecutive failure, bounded by
// MaxBackoff.
func (s *Scheduler) nextDelay(failures int) time.Duration {
	delay := s.opts.Interval
	if s.opts.MaxBackoff <= s.opts.Interval {
		return delay
	}
	for i := 1; i < failures; i++ {
		delay *= 2
		if delay >= s.opts.MaxBackoff {
			return s.opts.MaxBackoff
		}
	}
	return delay
}
