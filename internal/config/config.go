// Package config loads application configuration from file and environment
// and initializes the global logger.
package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/opengov-uy/compras-analytics/internal/store"
)

// Config holds the full application configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Rates    RatesConfig    `yaml:"rates" mapstructure:"rates"`
	Pipeline PipelineConfig `yaml:"pipeline" mapstructure:"pipeline"`
	Anomaly  AnomalyConfig  `yaml:"anomaly" mapstructure:"anomaly"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the record store connection.
type StoreConfig struct {
	DatabaseURL string            `yaml:"database_url" mapstructure:"database_url"`
	Pool        *store.PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// RatesConfig configures the exchange-rate sources.
type RatesConfig struct {
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries  int    `yaml:"max_retries" mapstructure:"max_retries"`

	// CachePath is the sqlite file persisting the last good rate table.
	// Empty disables the cache.
	CachePath string `yaml:"cache_path" mapstructure:"cache_path"`

	// StaticPath points at a YAML rate table used instead of the HTTP
	// source (offline runs).
	StaticPath string `yaml:"static_path" mapstructure:"static_path"`
}

// PipelineConfig configures batching and budgets.
type PipelineConfig struct {
	BatchSize        int `yaml:"batch_size" mapstructure:"batch_size"`
	BatchTimeoutSecs int `yaml:"batch_timeout_secs" mapstructure:"batch_timeout_secs"`
	RunTimeoutMins   int `yaml:"run_timeout_mins" mapstructure:"run_timeout_mins"`
}

// AnomalyConfig configures price-spike detection thresholds.
type AnomalyConfig struct {
	HighValueThreshold float64 `yaml:"high_value_threshold" mapstructure:"high_value_threshold"`
	MinGroupSize       int     `yaml:"min_group_size" mapstructure:"min_group_size"`
	SpikeMultiplier    float64 `yaml:"spike_multiplier" mapstructure:"spike_multiplier"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("COMPRAS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults. Keys without a meaningful default still get an empty one so
	// AutomaticEnv can override them.
	v.SetDefault("store.database_url", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("rates.base_url", "https://cotizaciones.opengov.uy/api")
	v.SetDefault("rates.timeout_secs", 30)
	v.SetDefault("rates.max_retries", 3)
	v.SetDefault("rates.cache_path", "rates-cache.db")
	v.SetDefault("rates.static_path", "")
	v.SetDefault("pipeline.batch_size", 500)
	v.SetDefault("pipeline.batch_timeout_secs", 120)
	v.SetDefault("pipeline.run_timeout_mins", 120)
	v.SetDefault("anomaly.high_value_threshold", 100000)
	v.SetDefault("anomaly.min_group_size", 5)
	v.SetDefault("anomaly.spike_multiplier", 10)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
