package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/taskmon/internal/logger"
	"github.com/loykin/taskmon/internal/query"
)

// Defaults applied when the config file omits a value.
const (
	DefaultInterval      = 2 * time.Second
	DefaultHistoryPoints = 120
)

// Config is the full configuration surface consumed by the monitoring core.
type Config struct {
	// Interval is the refresh cadence. Must be positive.
	Interval time.Duration `mapstructure:"interval"`
	// HistoryPoints is the capacity of every history ring. Must be positive.
	HistoryPoints int `mapstructure:"history_points"`
	// Sort is the default ordering of query results (cpu|memory|name|pid).
	Sort string `mapstructure:"sort"`

	Log      logger.Config  `mapstructure:"log"`
	EventLog EventLogConfig `mapstructure:"eventlog"`
	Server   ServerConfig   `mapstructure:"server"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// EventLogConfig selects an optional external event sink. Empty DSN disables
// it; the core never requires on-disk state.
type EventLogConfig struct {
	DSN string `mapstructure:"dsn"`
}

// ServerConfig enables the optional embedded HTTP status API.
type ServerConfig struct {
	Listen   string `mapstructure:"listen"`
	BasePath string `mapstructure:"base_path"`
}

// MetricsConfig enables the optional Prometheus /metrics listener.
type MetricsConfig struct {
	Listen string `mapstructure:"listen"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Interval:      DefaultInterval,
		HistoryPoints: DefaultHistoryPoints,
		Sort:          string(query.SortCPU),
	}
}

// Load reads a TOML config file and validates it. Configuration errors are
// the only fatal errors in the system and must surface before the first
// refresh cycle.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := Default()
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects values the core cannot run with.
func (c *Config) Validate() error {
	if c.Interval <= 0 {
		return fmt.Errorf("refresh interval must be positive, got %s", c.Interval)
	}
	if c.HistoryPoints <= 0 {
		return fmt.Errorf("history_points must be positive, got %d", c.HistoryPoints)
	}
	if _, err := query.ParseSortKey(c.Sort); err != nil {
		return fmt.Errorf("invalid default sort: %w", err)
	}
	return nil
}

// SortKey returns the validated default sort key.
func (c *Config) SortKey() query.SortKey {
	k, err := query.ParseSortKey(c.Sort)
	if err != nil {
		return query.SortCPU
	}
	return k
}
