// Package app wires configuration into the estimator, its store and the
// block source for the CLI commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"median-fee-estimator/internal/alerting"
	"median-fee-estimator/internal/config"
	"median-fee-estimator/internal/estimator"
	"median-fee-estimator/internal/fetcher"
	"median-fee-estimator/internal/metrics"
	"median-fee-estimator/internal/scheduler"
	"median-fee-estimator/internal/service"
	"median-fee-estimator/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	// Out receives command output.
	Out io.Writer
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger(), Out: os.Stdout}
}

func (a *App) newSource() (fetcher.BlockSource, error) {
	src := a.Config.Source
	switch src.Kind {
	case config.SourceHTTP, "":
		return fetcher.NewHTTPSource(fetcher.HTTPOptions{
			BaseURL:     src.URL,
			Timeout:     src.RequestTimeout,
			UserAgent:   src.UserAgent,
			FeeDecimals: src.FeeDecimals,
		}, a.Logger), nil
	case config.SourceEVM:
		return fetcher.NewEVMSource(fetcher.EVMOptions{
			RPCURL:      src.URL,
			Timeout:     src.RequestTimeout,
			FeeDecimals: src.FeeDecimals,
		}, a.Logger), nil
	default:
		return nil, fmt.Errorf("unsupported source kind %q", src.Kind)
	}
}

func (a *App) newNotifier() alerting.Notifier {
	if !a.Config.Alerting.Enabled {
		return nil
	}
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return alerting.NewLogNotifier(a.Logger)
}

func (a *App) openStore(ctx context.Context) (storage.WindowStore, error) {
	return storage.Open(ctx, a.Config.Storage, a.Config.Database, a.Config.Estimator.WindowSize)
}

func (a *App) openMemoryStore(ctx context.Context) (storage.WindowStore, error) {
	return storage.OpenSQLite(ctx, ":memory:", a.Config.Estimator.WindowSize)
}

func (a *App) newEstimator(window estimator.Window, m *metrics.Metrics) (*estimator.Estimator, error) {
	metric, err := a.Config.Estimator.NewMetric()
	if err != nil {
		return nil, err
	}
	var opts []estimator.SamplerOption
	if w := a.Config.Estimator.FullBlockWeight; w > 0 {
		opts = append(opts, estimator.WithFullBlockWeight(w))
	}
	return estimator.New(estimator.NewSampler(metric, opts...), window, a.Logger, estimator.WithMetrics(m)), nil
}

// Run executes the long-running polling service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	var m *metrics.Metrics
	if a.Config.Metrics.Enabled {
		m = metrics.New(a.Config.Metrics.Namespace)
		stop := a.serveMetrics(m)
		defer stop()
	}

	est, err := a.newEstimator(store, m)
	if err != nil {
		return err
	}
	source, err := a.newSource()
	if err != nil {
		return err
	}

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		StartupDelay: a.Config.Scheduler.StartupDelay,
		MaxBackoff:   a.Config.Scheduler.MaxBackoff,
	}, a.Logger)

	svc := service.New(a.Config, sched, source, est, store, a.newNotifier(), m, a.Logger)

	a.Logger.Info().
		Str("source", a.Config.Source.Kind).
		Str("storage", a.Config.Storage.Driver).
		Uint32("window_size", store.WindowSize()).
		Msg("starting fee estimator service")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("fee estimator service stopped")
	return nil
}

func (a *App) serveMetrics(m *metrics.Metrics) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:              a.Config.Metrics.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.Logger.Info().Str("addr", srv.Addr).Msg("serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.Error().Err(err).Msg("metrics server failed")
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

// ExportOptions hold parameters for exporting the retained window.
type ExportOptions struct {
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

// BackfillOptions configure the backfill job. Heights are inclusive.
type BackfillOptions struct {
	From   uint64
	To     uint64
	DryRun bool
}

// SimulateOptions configure synthetic block generation.
type SimulateOptions struct {
	Blocks int
	Txs    int
	Seed   uint64
	// Alert sends the final window estimate through the configured notifier.
	Alert bool
}
