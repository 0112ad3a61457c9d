package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestNewPanicsOnZeroInterval(t *testing.T) {
	assert.Panics(t, func() { New(Options{}, zerolog.Nop()) })
}

func TestNextDelay(t *testing.T) {
	s := New(Options{Interval: time.Second, MaxBackoff: 10 * time.Second}, zerolog.Nop())
	assert.Equal(t, time.Second, s.nextDelay(1))
	assert.Equal(t, 2*time.Second, s.nextDelay(2))
	assert.Equal(t, 8*time.Second, s.nextDelay(4))
	assert.Equal(t, 10*time.Second, s.nextDelay(5))
	assert.Equal(t, 10*time.Second, s.nextDelay(60))

	flat := New(Options{Interval: time.Second}, zerolog.Nop())
	assert.Equal(t, time.Second, flat.nextDelay(7))
}

func TestRunTicksUntilCancelled(t *testing.T) {
	s := New(Options{Interval: time.Millisecond}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	err := s.Run(ctx, func(context.Context) error {
		if calls.Add(1) == 3 {
			cancel()
		}
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRunContinuesAfterFailure(t *testing.T) {
	s := New(Options{Interval: time.Millisecond, MaxBackoff: 4 * time.Millisecond}, zerolog.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var calls atomic.Int32
	err := s.Run(ctx, func(context.Context) error {
		n := calls.Add(1)
		if n < 3 {
			return errors.New("node unavailable")
		}
		cancel()
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(3), calls.Load())
}
