package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, uint32(5), cfg.Estimator.WindowSize)
	assert.Equal(t, "proportion_dot_product", cfg.Estimator.Metric)
	assert.Equal(t, DriverSQLite, cfg.Storage.Driver)
	assert.Equal(t, SourceHTTP, cfg.Source.Kind)
	assert.Equal(t, 30*time.Second, cfg.Scheduler.Interval)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
estimator:
  window_size: 9
  metric: unit
storage:
  path: /tmp/fees.sqlite
source:
  kind: evm
  url: http://localhost:8545
  fee_decimals: 9
scheduler:
  interval: 12s
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, uint32(9), cfg.Estimator.WindowSize)
	assert.Equal(t, "unit", cfg.Estimator.Metric)
	assert.Equal(t, DriverSQLite, cfg.Storage.Driver)
	assert.Equal(t, SourceEVM, cfg.Source.Kind)
	assert.Equal(t, int32(9), cfg.Source.FeeDecimals)
	assert.Equal(t, 12*time.Second, cfg.Scheduler.Interval)
	assert.Equal(t, 50, cfg.Scheduler.MaxBlocksPerTick)
	assert.Equal(t, 30*time.Minute, cfg.Alerting.Cooldown)
}

func TestLoadEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("estimator:\n  window_size: 3\n"), 0o600))
	t.Setenv("FEEESTIMATOR_ESTIMATOR_WINDOW_SIZE", "11")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, uint32(11), cfg.Estimator.WindowSize)
}

func validConfig() Config {
	return Config{
		Estimator: EstimatorConfig{Metric: "proportion_dot_product", WindowSize: 5, BlockSizeLimit: 1024},
		Storage:   StorageConfig{Driver: DriverSQLite, Path: "x.sqlite"},
		Source:    SourceConfig{Kind: SourceHTTP},
		Scheduler: SchedulerConfig{Interval: time.Second, MaxBlocksPerTick: 1},
		Export:    ExportConfig{MaxDataPoints: 1},
	}
}

func TestValidate(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())

	cases := map[string]func(c *Config){
		"zero window":        func(c *Config) { c.Estimator.WindowSize = 0 },
		"unknown metric":     func(c *Config) { c.Estimator.Metric = "gas" },
		"postgres no dsn":    func(c *Config) { c.Storage.Driver = DriverPostgres },
		"unknown driver":     func(c *Config) { c.Storage.Driver = "bolt" },
		"unknown source":     func(c *Config) { c.Source.Kind = "grpc" },
		"negative decimals":  func(c *Config) { c.Source.FeeDecimals = -1 },
		"zero interval":      func(c *Config) { c.Scheduler.Interval = 0 },
		"telegram no token":  func(c *Config) { c.Alerting.Telegram.Enabled = true },
		"negative threshold": func(c *Config) { c.Alerting.ThresholdRate = -1 },
	}
	for name, mutate := range cases {
		c := validConfig()
		mutate(&c)
		assert.Error(t, c.Validate(), name)
	}
}

func TestResolveMaxPoints(t *testing.T) {
	cfg := validConfig()
	cfg.Export.MaxDataPoints = 100
	assert.Equal(t, 100, cfg.ResolveMaxPoints(0))
	assert.Equal(t, 7, cfg.ResolveMaxPoints(7))
}
