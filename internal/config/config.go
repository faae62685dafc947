// Package config loads the saturn YAML configuration file and applies
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the saturn pipeline.
type Config struct {
	Storage   Storage         `yaml:"storage"`
	Alpaca    Alpaca          `yaml:"alpaca"`
	Logging   Logging         `yaml:"logging"`
	Market    MarketConfig    `yaml:"market"`
	Collector CollectorConfig `yaml:"collector"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Fetch     FetchConfig     `yaml:"fetch"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Alpaca holds credentials and endpoints for the Alpaca market-data API.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	DataURL   string `yaml:"data_url"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MarketConfig defines the trading window and calendar parameters.
type MarketConfig struct {
	Timezone      string   `yaml:"timezone"`
	Open          string   `yaml:"open"`   // HH:MM
	Close         string   `yaml:"close"`  // HH:MM
	Cutoff        string   `yaml:"cutoff"` // HH:MM, expected-data cutoff
	ExtraHolidays []string `yaml:"extra_holidays"`
}

// CollectorConfig controls the snapshot collector.
type CollectorConfig struct {
	IntervalMinutes      int `yaml:"interval_minutes"`
	Concurrency          int `yaml:"concurrency"`
	RetentionDays        int `yaml:"retention_days"`
	ExpirationWindowDays int `yaml:"expiration_window_days"`
	MaxExpirations       int `yaml:"max_expirations"`
	StrikeCount          int `yaml:"strike_count"`
	FailureThreshold     int `yaml:"failure_threshold"`
}

// ArchiveConfig controls the historical archiver.
type ArchiveConfig struct {
	ChunkDays            int     `yaml:"chunk_days"`
	LookbackDays         int     `yaml:"lookback_days"`
	ExpirationWindowDays int     `yaml:"expiration_window_days"`
	StrikeBandPct        float64 `yaml:"strike_band_pct"`
}

// FetchConfig controls Data Source Client calls.
type FetchConfig struct {
	TimeoutSeconds  int `yaml:"timeout_seconds"`
	RetryAttempts   int `yaml:"retry_attempts"`
	RetryBaseMillis int `yaml:"retry_base_ms"`
	RateLimitPerMin int `yaml:"rate_limit_per_min"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Default returns a Config populated with the documented defaults.
func Default() *Config {
	return &Config{
		Storage: Storage{
			DataDir:    "data",
			SQLitePath: "data/saturn.db",
		},
		Logging: Logging{Level: "info", Format: "json"},
		Market: MarketConfig{
			Timezone: "America/New_York",
			Open:     "09:45",
			Close:    "16:45",
			Cutoff:   "16:30",
		},
		Collector: CollectorConfig{
			IntervalMinutes:      5,
			Concurrency:          4,
			RetentionDays:        90,
			ExpirationWindowDays: 60,
			MaxExpirations:       2,
			StrikeCount:          5,
			FailureThreshold:     3,
		},
		Archive: ArchiveConfig{
			ChunkDays:            30,
			LookbackDays:         30,
			ExpirationWindowDays: 365,
			StrikeBandPct:        0.20,
		},
		Fetch: FetchConfig{
			TimeoutSeconds:  30,
			RetryAttempts:   3,
			RetryBaseMillis: 1000,
			RateLimitPerMin: 200,
		},
	}
}

// Load reads the YAML configuration file at the given path over the defaults,
// applies environment variable overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault behaves like Load, except a missing file falls back to the
// defaults plus environment overrides instead of failing. Used by commands
// that should run without a config file.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := Default()
		applyEnvOverrides(cfg)
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	return Load(path)
}

// Validate fails fast on configuration that would misbehave at runtime.
func (c *Config) Validate() error {
	if c.Collector.IntervalMinutes <= 0 {
		return fmt.Errorf("collector.interval_minutes must be positive, got %d", c.Collector.IntervalMinutes)
	}
	if c.Collector.Concurrency <= 0 {
		return fmt.Errorf("collector.concurrency must be positive, got %d", c.Collector.Concurrency)
	}
	if c.Archive.ChunkDays <= 0 {
		return fmt.Errorf("archive.chunk_days must be positive, got %d", c.Archive.ChunkDays)
	}
	if c.Archive.LookbackDays <= 0 {
		return fmt.Errorf("archive.lookback_days must be positive, got %d", c.Archive.LookbackDays)
	}
	if c.Archive.StrikeBandPct <= 0 || c.Archive.StrikeBandPct >= 1 {
		return fmt.Errorf("archive.strike_band_pct must be in (0, 1), got %v", c.Archive.StrikeBandPct)
	}
	if c.Fetch.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetch.timeout_seconds must be positive, got %d", c.Fetch.TimeoutSeconds)
	}
	if c.Fetch.RetryAttempts < 1 {
		return fmt.Errorf("fetch.retry_attempts must be at least 1, got %d", c.Fetch.RetryAttempts)
	}
	return nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}

	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Alpaca.APISecret = v
	}
	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.Alpaca.DataURL = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv("SNAPSHOT_INTERVAL_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Collector.IntervalMinutes = n
		}
	}
	if v := os.Getenv("SNAPSHOT_RETENTION_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Collector.RetentionDays = n
		}
	}
	if v := os.Getenv("ARCHIVE_CHUNK_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Archive.ChunkDays = n
		}
	}

	// Standard Alpaca env vars (highest priority — canonical names used by SDK).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}
