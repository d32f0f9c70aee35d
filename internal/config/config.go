package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete application configuration
type Config struct {
	Binance  BinanceConfig  `mapstructure:"binance"`
	Scan     ScanConfig     `mapstructure:"scan"`
	Density  DensityConfig  `mapstructure:"density"`
	History  HistoryConfig  `mapstructure:"history"`
	Alerts   AlertsConfig   `mapstructure:"alerts"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// BinanceConfig holds upstream API configuration
type BinanceConfig struct {
	BaseURL             string        `mapstructure:"base_url"`
	Timeout             time.Duration `mapstructure:"timeout"`
	RequestsPerSecond   float64       `mapstructure:"requests_per_second"`
	Burst               int           `mapstructure:"burst"`
	MaxIdleConns        int           `mapstructure:"max_idle_conns"`
	MaxIdleConnsPerHost int           `mapstructure:"max_idle_conns_per_host"`
	IdleConnTimeout     time.Duration `mapstructure:"idle_conn_timeout"`
	RetryAttempts       int           `mapstructure:"retry_attempts"`
	RetryBaseDelay      time.Duration `mapstructure:"retry_base_delay"`
	RetryMaxDelay       time.Duration `mapstructure:"retry_max_delay"`
}

// ScanConfig holds default query parameters and the background scan loop
type ScanConfig struct {
	Interval       time.Duration `mapstructure:"interval"` // 0 disables the background loop
	MinNotional    float64       `mapstructure:"min_notional"`
	WindowPct      float64       `mapstructure:"window_pct"`
	DepthLimit     int           `mapstructure:"depth_limit"`
	Concurrency    int           `mapstructure:"concurrency"`
	LimitSymbols   int           `mapstructure:"limit_symbols"`
	SeedMultiplier float64       `mapstructure:"seed_multiplier"`
	TopPerSide     int           `mapstructure:"top_per_side"`
	Excluded       []string      `mapstructure:"excluded"`
	KlineInterval  string        `mapstructure:"kline_interval"`
	KlineLimit     int           `mapstructure:"kline_limit"`
	PollTimeout    time.Duration `mapstructure:"poll_timeout"`
}

// DensityConfig holds clustering parameters
type DensityConfig struct {
	CalibrationGapPct  float64 `mapstructure:"calibration_gap_pct"`
	DisplayGapPct      float64 `mapstructure:"display_gap_pct"`
	MinClusterNotional float64 `mapstructure:"min_cluster_notional"`
	MinClusterLevels   int     `mapstructure:"min_cluster_levels"`
	DefaultBase        float64 `mapstructure:"default_base"`
}

// HistoryConfig holds tracking configuration
type HistoryConfig struct {
	TTL               time.Duration `mapstructure:"ttl"`
	SweepInterval     time.Duration `mapstructure:"sweep_interval"`
	RelocateMinAge    time.Duration `mapstructure:"relocate_min_age"`
	TouchThresholdPct float64       `mapstructure:"touch_threshold_pct"`
}

// AlertsConfig holds alert thresholds
type AlertsConfig struct {
	MinScore       float64       `mapstructure:"min_score"`
	MaxDistancePct float64       `mapstructure:"max_distance_pct"`
	Cooldown       time.Duration `mapstructure:"cooldown"`
}

// CacheConfig holds response cache configuration
type CacheConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	Enabled        bool          `mapstructure:"enabled"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	StaticDir       string        `mapstructure:"static_dir"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	MaxBackups int    `mapstructure:"max_backups"`
}

// Load reads configuration from file and environment variables.
// An empty path loads defaults and environment only.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("DENSITYSCOPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	v.SetDefault("binance.base_url", "https://fapi.binance.com")
	v.SetDefault("binance.timeout", "10s")
	v.SetDefault("binance.requests_per_second", 20.0)
	v.SetDefault("binance.burst", 10)
	v.SetDefault("binance.max_idle_conns", 100)
	v.SetDefault("binance.max_idle_conns_per_host", 20)
	v.SetDefault("binance.idle_conn_timeout", "90s")
	v.SetDefault("binance.retry_attempts", 3)
	v.SetDefault("binance.retry_base_delay", "500ms")
	v.SetDefault("binance.retry_max_delay", "10s")

	v.SetDefault("scan.interval", "30s")
	v.SetDefault("scan.min_notional", 0.0)
	v.SetDefault("scan.window_pct", 5.0)
	v.SetDefault("scan.depth_limit", 100)
	v.SetDefault("scan.concurrency", 5)
	v.SetDefault("scan.limit_symbols", 30)
	v.SetDefault("scan.seed_multiplier", 2.0)
	v.SetDefault("scan.top_per_side", 1)
	v.SetDefault("scan.kline_interval", "5m")
	v.SetDefault("scan.kline_limit", 20)
	v.SetDefault("scan.poll_timeout", "2m")
	v.SetDefault("scan.excluded", []string{
		"BTCUSDT", "ETHUSDT", "SOLUSDT", "XRPUSDT", "DOGEUSDT",
		"ADAUSDT", "REPEUSDT", "AVAXUSDT", "TRXUSDT", "NEARUSDT",
		"DOTUSDT", "LINKUSDT", "MATICUSDT", "LTCUSDT", "BCHUSDT",
		"ETCUSDT", "FILUSDT", "AAVEUSDT", "UNIUSDT", "COMPUSDT",
	})

	v.SetDefault("density.calibration_gap_pct", 0.2)
	v.SetDefault("density.display_gap_pct", 0.5)
	v.SetDefault("density.min_cluster_notional", 20000.0)
	v.SetDefault("density.min_cluster_levels", 2)
	v.SetDefault("density.default_base", 50000.0)

	v.SetDefault("history.ttl", "60s")
	v.SetDefault("history.sweep_interval", "30s")
	v.SetDefault("history.relocate_min_age", "1s")
	v.SetDefault("history.touch_threshold_pct", 0.15)

	v.SetDefault("alerts.min_score", 5.0)
	v.SetDefault("alerts.max_distance_pct", 0.3)
	v.SetDefault("alerts.cooldown", "5m")

	v.SetDefault("cache.ttl", "3s")

	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", "")
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")

	v.SetDefault("server.addr", ":3000")
	v.SetDefault("server.static_dir", "")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_age_days", 7)
	v.SetDefault("logging.max_backups", 3)
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	if c.Binance.BaseURL == "" {
		return fmt.Errorf("binance.base_url is required")
	}
	if c.Binance.Timeout <= 0 {
		return fmt.Errorf("binance.timeout must be positive")
	}
	if c.Binance.RequestsPerSecond < 0 {
		return fmt.Errorf("binance.requests_per_second must not be negative")
	}
	if c.Binance.RetryAttempts < 1 {
		return fmt.Errorf("binance.retry_attempts must be at least 1")
	}

	if c.Scan.Interval < 0 {
		return fmt.Errorf("scan.interval must not be negative")
	}
	if c.Scan.Interval > 0 && c.Scan.Interval < time.Second {
		return fmt.Errorf("scan.interval must be at least 1 second")
	}
	if c.Scan.WindowPct <= 0 || c.Scan.WindowPct > 100 {
		return fmt.Errorf("scan.window_pct must be between 0 and 100")
	}
	if c.Scan.DepthLimit < 1 || c.Scan.DepthLimit > 1000 {
		return fmt.Errorf("scan.depth_limit must be between 1 and 1000")
	}
	if c.Scan.Concurrency < 1 || c.Scan.Concurrency > 20 {
		return fmt.Errorf("scan.concurrency must be between 1 and 20")
	}
	if c.Scan.LimitSymbols < 0 {
		return fmt.Errorf("scan.limit_symbols must not be negative")
	}
	if c.Scan.SeedMultiplier <= 0 {
		return fmt.Errorf("scan.seed_multiplier must be positive")
	}
	if c.Scan.TopPerSide < 1 {
		return fmt.Errorf("scan.top_per_side must be at least 1")
	}
	if c.Scan.KlineLimit < 1 {
		return fmt.Errorf("scan.kline_limit must be at least 1")
	}

	if c.Density.CalibrationGapPct <= 0 || c.Density.DisplayGapPct <= 0 {
		return fmt.Errorf("density gap percentages must be positive")
	}
	if c.Density.MinClusterLevels < 2 {
		return fmt.Errorf("density.min_cluster_levels must be at least 2")
	}
	if c.Density.DefaultBase <= 0 {
		return fmt.Errorf("density.default_base must be positive")
	}

	if c.History.TTL <= 0 || c.History.SweepInterval <= 0 {
		return fmt.Errorf("history.ttl and history.sweep_interval must be positive")
	}

	if c.Alerts.Cooldown < 0 {
		return fmt.Errorf("alerts.cooldown must not be negative")
	}

	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}

	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}
