package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds process configuration.
type Config struct {
	HTTPAddr         string          `yaml:"http_addr"`
	DatabaseURL      string          `yaml:"database_url"`
	MySQLDSN         string          `yaml:"mysql_dsn"`
	JWTSecret        string          `yaml:"jwt_secret"`
	LogLevel         string          `yaml:"log_level"`
	LogFormat        string          `yaml:"log_format"`
	Currency         string          `yaml:"currency"`
	BilledChannels   []string        `yaml:"billed_channels"`
	EstimatePriority int             `yaml:"estimate_priority"`
	BucketWidth      time.Duration   `yaml:"bucket_width"`
	Meters           []string        `yaml:"meters"`
	AllocateScopes   []ScopeConfig   `yaml:"allocate_scopes"`
	Scheduler        SchedulerConfig `yaml:"scheduler"`
	Loader           LoaderConfig    `yaml:"loader"`
}

// ScopeConfig names one billing unit the allocation job walks.
type ScopeConfig struct {
	Type   string `yaml:"type"`
	ID     int64  `yaml:"id"`
	Method string `yaml:"method"`
}

// SchedulerConfig tunes the background jobs.
type SchedulerConfig struct {
	Enabled             bool          `yaml:"enabled"`
	Interval            time.Duration `yaml:"interval"`
	Window              time.Duration `yaml:"window"`
	Concurrency         int           `yaml:"concurrency"`
	IngestLookback      time.Duration `yaml:"ingest_lookback"`
	ConsolidateLookback time.Duration `yaml:"consolidate_lookback"`
	AllocateLookback    time.Duration `yaml:"allocate_lookback"`
}

// LoaderConfig configures the MySQL stored-procedure loader.
type LoaderConfig struct {
	TVProc          string        `yaml:"tv_proc"`
	BucketsProc     string        `yaml:"buckets_proc"`
	Bucket          string        `yaml:"bucket"`
	MinuteBucket    int           `yaml:"minute_bucket"`
	MaxRetries      uint64        `yaml:"max_retries"`
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
	FailureRatio    float64       `yaml:"failure_ratio"`
	MinRequests     uint32        `yaml:"min_requests"`
	OpenTimeout     time.Duration `yaml:"open_timeout"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		HTTPAddr:         ":8080",
		LogLevel:         "info",
		LogFormat:        "json",
		Currency:         "RON",
		BilledChannels:   []string{"active_import"},
		EstimatePriority: 1000,
		BucketWidth:      15 * time.Minute,
		Scheduler: SchedulerConfig{
			Enabled:             true,
			Interval:            time.Minute,
			Window:              time.Hour,
			Concurrency:         4,
			IngestLookback:      2 * time.Hour,
			ConsolidateLookback: 2 * time.Hour,
			AllocateLookback:    24 * time.Hour,
		},
		Loader: LoaderConfig{
			Bucket:       "minute",
			MinuteBucket: 15,
		},
	}
}

// Load builds the configuration from defaults, the YAML file named by
// METERING_CONFIG, then environment overrides.
func Load() (Config, error) {
	cfg := Default()

	if path := os.Getenv("METERING_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.HTTPAddr = getenvDefault("HTTP_ADDR", cfg.HTTPAddr)
	cfg.DatabaseURL = getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", cfg.DatabaseURL))
	cfg.MySQLDSN = getenvDefault("MYSQL_DSN", cfg.MySQLDSN)
	cfg.JWTSecret = getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", cfg.JWTSecret))
	cfg.LogLevel = getenvDefault("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getenvDefault("LOG_FORMAT", cfg.LogFormat)
	cfg.Currency = getenvDefault("CURRENCY", cfg.Currency)
	cfg.BilledChannels = getenvCSV("BILLED_CHANNELS", cfg.BilledChannels)
	cfg.EstimatePriority = getenvIntDefault("ESTIMATE_PRIORITY", cfg.EstimatePriority)
	cfg.BucketWidth = getenvDuration("BUCKET_WIDTH", cfg.BucketWidth)
	cfg.Meters = getenvCSV("METERS", cfg.Meters)
	cfg.Scheduler.Enabled = getenvBool("SCHEDULER_ENABLED", cfg.Scheduler.Enabled)
	cfg.Scheduler.Interval = getenvDuration("SCHEDULER_INTERVAL", cfg.Scheduler.Interval)
	cfg.Scheduler.Window = getenvDuration("SCHEDULER_WINDOW", cfg.Scheduler.Window)
	cfg.Scheduler.Concurrency = getenvIntDefault("SCHEDULER_CONCURRENCY", cfg.Scheduler.Concurrency)
	cfg.Loader.TVProc = getenvDefault("LOADER_TV_PROC", cfg.Loader.TVProc)
	cfg.Loader.BucketsProc = getenvDefault("LOADER_BUCKETS_PROC", cfg.Loader.BucketsProc)

	return cfg, cfg.Validate()
}

// Validate checks required settings.
func (c Config) Validate() error {
	if c.DatabaseURL == "" {
		return errors.New("config: DATABASE_URL or PG_DSN is required")
	}
	if c.JWTSecret == "" {
		return errors.New("config: AUTH_JWT_SECRET is required")
	}
	if c.BucketWidth <= 0 {
		return errors.New("config: bucket_width must be positive")
	}
	if c.Scheduler.Window <= 0 || c.Scheduler.Interval <= 0 {
		return errors.New("config: scheduler interval and window must be positive")
	}
	if len(c.BilledChannels) == 0 {
		return errors.New("config: billed_channels must not be empty")
	}
	return nil
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvCSV(key string, fallback []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
