package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"median-fee-estimator/internal/costmetric"
	"median-fee-estimator/internal/logging"
)

// Storage drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Source kinds.
const (
	SourceHTTP = "http"
	SourceEVM  = "evm"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Estimator EstimatorConfig `mapstructure:"estimator"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Source    SourceConfig    `mapstructure:"source"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// EstimatorConfig tunes the sampler and the window.
type EstimatorConfig struct {
	Metric         string `mapstructure:"metric"`
	WindowSize     uint32 `mapstructure:"window_size"`
	BlockSizeLimit uint64 `mapstructure:"block_size_limit"`
	// FullBlockWeight overrides the metric-derived full block weight when non-zero.
	FullBlockWeight uint64 `mapstructure:"full_block_weight"`
}

// StorageConfig selects the window backend.
type StorageConfig struct {
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// SourceConfig covers block receipt retrieval.
type SourceConfig struct {
	Kind           string        `mapstructure:"kind"`
	URL            string        `mapstructure:"url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	FeeDecimals    int32         `mapstructure:"fee_decimals"`
	Confirmations  uint64        `mapstructure:"confirmations"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// SchedulerConfig governs polling cadence.
type SchedulerConfig struct {
	Interval         time.Duration `mapstructure:"interval"`
	StartupDelay     time.Duration `mapstructure:"startup_delay"`
	MaxBackoff       time.Duration `mapstructure:"max_backoff"`
	MaxBlocksPerTick int           `mapstructure:"max_blocks_per_tick"`
	AdvisoryLockKey  int64         `mapstructure:"advisory_lock_key"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
	Namespace  string `mapstructure:"namespace"`
}

// AlertingConfig defines alert thresholds and routing.
type AlertingConfig struct {
	Enabled       bool           `mapstructure:"enabled"`
	ThresholdRate float64        `mapstructure:"threshold_rate"`
	Cooldown      time.Duration  `mapstructure:"cooldown"`
	Telegram      TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes Telegram alert parameters.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FEEESTIMATOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "feeestimator")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("estimator.metric", costmetric.NameProportionDotProduct)
	v.SetDefault("estimator.window_size", 5)
	v.SetDefault("estimator.block_size_limit", costmetric.MaxBlockLength)
	v.SetDefault("estimator.full_block_weight", 0)

	v.SetDefault("storage.driver", DriverSQLite)
	v.SetDefault("storage.path", "fee_estimator.sqlite")

	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.max_idle_conns", 1)
	v.SetDefault("database.conn_max_lifetime", "30m")

	v.SetDefault("source.kind", SourceHTTP)
	v.SetDefault("source.url", "http://localhost:20443")
	v.SetDefault("source.request_timeout", "10s")
	v.SetDefault("source.fee_decimals", 6)
	v.SetDefault("source.confirmations", 0)
	v.SetDefault("source.user_agent", "feeestimator/1.0")

	v.SetDefault("scheduler.interval", "30s")
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.max_backoff", "5m")
	v.SetDefault("scheduler.max_blocks_per_tick", 50)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x66656573))

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen_addr", ":9464")
	v.SetDefault("metrics.namespace", "feeestimator")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.threshold_rate", 0.0)
	v.SetDefault("alerting.cooldown", "30m")
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("export.max_data_points", 10000)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Estimator.WindowSize == 0 {
		return fmt.Errorf("estimator.window_size must be greater than zero")
	}
	if _, err := c.Estimator.NewMetric(); err != nil {
		return fmt.Errorf("estimator.metric: %w", err)
	}
	switch c.Storage.Driver {
	case DriverSQLite:
		if c.Storage.Path == "" {
			return fmt.Errorf("storage.path is required for the sqlite driver")
		}
	case DriverPostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("storage.driver %q is not supported", c.Storage.Driver)
	}
	switch c.Source.Kind {
	case SourceHTTP, SourceEVM:
	default:
		return fmt.Errorf("source.kind %q is not supported", c.Source.Kind)
	}
	if c.Source.FeeDecimals < 0 {
		return fmt.Errorf("source.fee_decimals cannot be negative")
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Scheduler.MaxBlocksPerTick <= 0 {
		return fmt.Errorf("scheduler.max_blocks_per_tick must be greater than zero")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Alerting.ThresholdRate < 0 {
		return fmt.Errorf("alerting.threshold_rate cannot be negative")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required")
		}
	}
	return nil
}

// NewMetric builds the configured cost metric.
func (c EstimatorConfig) NewMetric() (costmetric.Metric, error) {
	return costmetric.New(c.Metric, c.BlockSizeLimit)
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
