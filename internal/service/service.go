// Package service runs the block polling loop that feeds the estimator.
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"median-fee-estimator/internal/alerting"
	"median-fee-estimator/internal/config"
	"median-fee-estimator/internal/costmetric"
	"median-fee-estimator/internal/estimator"
	"median-fee-estimator/internal/fetcher"
	"median-fee-estimator/internal/metrics"
	"median-fee-estimator/internal/scheduler"
	"median-fee-estimator/internal/storage"
)

// Error stages reported to metrics.
const (
	stageTip    = "tip"
	stageFetch  = "fetch"
	stageRecord = "record"
	stageAlert  = "alert"
	stageLock   = "lock"
)

// Service orchestrates fetching, estimation, and alerting.
type Service struct {
	scheduler *scheduler.Scheduler
	source    fetcher.BlockSource
	estimator *estimator.Estimator
	notifier  alerting.Notifier
	metrics   *metrics.Metrics
	logger    zerolog.Logger

	confirmations uint64
	maxBlocks     int
	windowSize    uint32
	environment   string

	alertsOn  bool
	threshold float64
	cooldown  time.Duration
	now       func() time.Time

	locker  storage.AdvisoryLocker
	lockKey int64

	mu        sync.Mutex
	next      uint64
	started   bool
	lastAlert time.Time
}

// New constructs the polling service. The store is only consulted for its
// window size and for advisory locking when it supports it.
func New(cfg *config.Config, sched *scheduler.Scheduler, source fetcher.BlockSource, est *estimator.Estimator, store storage.WindowStore, notifier alerting.Notifier, m *metrics.Metrics, logger zerolog.Logger) *Service {
	var locker storage.AdvisoryLocker
	if l, ok := store.(storage.AdvisoryLocker); ok {
		locker = l
	}
	var windowSize uint32
	if store != nil {
		windowSize = store.WindowSize()
	}

	return &Service{
		scheduler:     sched,
		source:        source,
		estimator:     est,
		notifier:      notifier,
		metrics:       m,
		logger:        logger.With().Str("component", "service").Logger(),
		confirmations: cfg.Source.Confirmations,
		maxBlocks:     cfg.Scheduler.MaxBlocksPerTick,
		windowSize:    windowSize,
		environment:   cfg.App.Environment,
		alertsOn:      cfg.Alerting.Enabled && cfg.Alerting.ThresholdRate > 0,
		threshold:     cfg.Alerting.ThresholdRate,
		cooldown:      cfg.Alerting.Cooldown,
		now:           time.Now,
		locker:        locker,
		lockKey:       cfg.Scheduler.AdvisoryLockKey,
	}
}

// Run begins the polling loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.ProcessTick)
}

// StartAt makes the next tick resume from height instead of the tip.
func (s *Service) StartAt(height uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next = height
	s.started = true
}

// NextHeight returns the next height to process, if known.
func (s *Service) NextHeight() (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next, s.started
}

// ProcessTick feeds every newly confirmed block to the estimator, up to the
// per-tick limit. The first tick starts at the confirmed tip. A failing
// block ends the tick and is retried on the next one.
func (s *Service) ProcessTick(ctx context.Context) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		s.metrics.IncError(stageLock)
		return err
	}
	if !proceed {
		s.logger.Debug().Msg("skip tick because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tip, err := s.source.LatestHeight(ctx)
	if err != nil {
		s.metrics.IncError(stageTip)
		return fmt.Errorf("fetch tip: %w", err)
	}
	if tip < s.confirmations {
		return nil
	}
	confirmed := tip - s.confirmations
	if !s.started {
		s.next = confirmed
		s.started = true
	}
	if s.next > confirmed {
		return nil
	}

	end := confirmed
	if s.maxBlocks > 0 && end-s.next >= uint64(s.maxBlocks) {
		end = s.next + uint64(s.maxBlocks) - 1
	}

	processed := 0
	for h := s.next; h <= end; h++ {
		if _, err := s.processHeight(ctx, h); err != nil {
			return err
		}
		s.next = h + 1
		processed++
	}

	s.logger.Info().Uint64("tip", tip).
		Uint64("next_height", s.next).
		Int("processed", processed).
		Msg("tick complete")
	return nil
}

// ProcessHeight fetches one block and feeds it to the estimator without
// moving the polling cursor.
func (s *Service) ProcessHeight(ctx context.Context, height uint64) (estimator.Update, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processHeight(ctx, height)
}

func (s *Service) processHeight(ctx context.Context, height uint64) (estimator.Update, error) {
	block, err := s.source.Block(ctx, height)
	if err != nil {
		s.metrics.IncError(stageFetch)
		return estimator.Update{}, fmt.Errorf("fetch block %d: %w", height, err)
	}

	limit := block.Limit
	if limit.IsZero() {
		limit = costmetric.MainnetBlockLimit
	}

	update, err := s.estimator.Observe(ctx, block, limit)
	if err != nil {
		s.metrics.IncError(stageRecord)
		return estimator.Update{}, fmt.Errorf("record block %d: %w", height, err)
	}
	s.metrics.SetHeight(height)

	if update.Skipped {
		s.logger.Info().Uint64("height", height).Msg("block skipped")
		return update, nil
	}

	s.logger.Info().Uint64("height", height).
		Int("samples", update.Samples).
		Float64("window_high", update.Window.High).
		Float64("window_middle", update.Window.Middle).
		Float64("window_low", update.Window.Low).
		Msg("block recorded")

	s.maybeAlert(ctx, block.Height, block.Hash, update)
	return update, nil
}

func (s *Service) maybeAlert(ctx context.Context, height uint64, hash string, update estimator.Update) {
	if !s.alertsOn || s.notifier == nil {
		return
	}
	if update.Window.High < s.threshold {
		return
	}
	now := s.now()
	if s.cooldown > 0 && !s.lastAlert.IsZero() && now.Sub(s.lastAlert) < s.cooldown {
		s.logger.Debug().Uint64("height", height).Msg("alert suppressed by cooldown")
		return
	}

	note := alerting.Notification{
		Height:        height,
		Hash:          hash,
		Window:        update.Window,
		Block:         update.Block,
		ThresholdRate: s.threshold,
		WindowSize:    s.windowSize,
		Environment:   s.environment,
	}
	if err := s.notifier.Notify(ctx, note); err != nil {
		s.metrics.IncError(stageAlert)
		s.logger.Error().Err(err).Uint64("height", height).Msg("failed to dispatch alert")
		return
	}
	s.lastAlert = now
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
