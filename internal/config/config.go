package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	DatabaseURL string `toml:"database_url"` // SIGNAL_DATABASE_URL (required)
	HTTPAddr    string `toml:"http_addr"`    // SIGNAL_HTTP_ADDR (default ":8080")
	NATSURL     string `toml:"nats_url"`     // SIGNAL_NATS_URL (optional, empty = no wake-ups or lifecycle events)
	AuthToken   string `toml:"auth_token"`   // SIGNAL_AUTH_TOKEN (optional, empty = auth disabled)
	LogLevel    string `toml:"log_level"`    // SIGNAL_LOG_LEVEL (default "info")

	// Object storage for offloaded payloads and attempt responses
	LogsBucket string `toml:"logs_bucket"` // SIGNAL_LOGS_BUCKET (required)
	S3Endpoint string `toml:"s3_endpoint"` // SIGNAL_S3_ENDPOINT (custom endpoint for MinIO)
	S3Region   string `toml:"s3_region"`   // SIGNAL_S3_REGION (default "us-east-1")

	// Worker settings
	WorkerConcurrency int           `toml:"worker_concurrency"` // SIGNAL_WORKER_CONCURRENCY (default 10)
	PollInterval      time.Duration `toml:"poll_interval"`      // SIGNAL_POLL_INTERVAL (default 1s)
	RetentionDays     int           `toml:"retention_days"`     // SIGNAL_RETENTION_DAYS (default 14)
	CleanupCron       string        `toml:"cleanup_cron"`       // SIGNAL_CLEANUP_CRON (default "0 0 * * *")
}

// Retention is the age after which events are purged.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

func defaults() *Config {
	return &Config{
		HTTPAddr:          ":8080",
		LogLevel:          "info",
		S3Region:          "us-east-1",
		WorkerConcurrency: 10,
		PollInterval:      time.Second,
		RetentionDays:     14,
		CleanupCron:       "0 0 * * *",
	}
}

// Load reads the file named by SIGNAL_CONFIG_FILE, if any, and then applies
// SIGNAL_* environment variables on top of it.
func Load() (*Config, error) {
	c := defaults()
	if path := os.Getenv("SIGNAL_CONFIG_FILE"); path != "" {
		if _, err := toml.DecodeFile(path, c); err != nil {
			return nil, fmt.Errorf("SIGNAL_CONFIG_FILE: %w", err)
		}
	}

	c.DatabaseURL = envOrDefault("SIGNAL_DATABASE_URL", c.DatabaseURL)
	c.HTTPAddr = envOrDefault("SIGNAL_HTTP_ADDR", c.HTTPAddr)
	c.NATSURL = envOrDefault("SIGNAL_NATS_URL", c.NATSURL)
	c.AuthToken = envOrDefault("SIGNAL_AUTH_TOKEN", c.AuthToken)
	c.LogLevel = envOrDefault("SIGNAL_LOG_LEVEL", c.LogLevel)
	c.LogsBucket = envOrDefault("SIGNAL_LOGS_BUCKET", c.LogsBucket)
	c.S3Endpoint = envOrDefault("SIGNAL_S3_ENDPOINT", c.S3Endpoint)
	c.S3Region = envOrDefault("SIGNAL_S3_REGION", c.S3Region)
	c.CleanupCron = envOrDefault("SIGNAL_CLEANUP_CRON", c.CleanupCron)

	var err error
	if c.WorkerConcurrency, err = envInt("SIGNAL_WORKER_CONCURRENCY", c.WorkerConcurrency); err != nil {
		return nil, err
	}
	if c.RetentionDays, err = envInt("SIGNAL_RETENTION_DAYS", c.RetentionDays); err != nil {
		return nil, err
	}
	if v := os.Getenv("SIGNAL_POLL_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("SIGNAL_POLL_INTERVAL: %w", err)
		}
		c.PollInterval = d
	}

	if c.DatabaseURL == "" {
		return nil, fmt.Errorf("SIGNAL_DATABASE_URL is required")
	}
	if c.LogsBucket == "" {
		return nil, fmt.Errorf("SIGNAL_LOGS_BUCKET is required")
	}
	if c.WorkerConcurrency < 1 {
		return nil, fmt.Errorf("SIGNAL_WORKER_CONCURRENCY must be at least 1, got %d", c.WorkerConcurrency)
	}
	if c.RetentionDays < 1 {
		return nil, fmt.Errorf("SIGNAL_RETENTION_DAYS must be at least 1, got %d", c.RetentionDays)
	}
	return c, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}
