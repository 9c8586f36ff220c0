package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

var allEnvVars = []string{
	"SIGNAL_CONFIG_FILE", "SIGNAL_DATABASE_URL", "SIGNAL_HTTP_ADDR", "SIGNAL_NATS_URL",
	"SIGNAL_AUTH_TOKEN", "SIGNAL_LOG_LEVEL", "SIGNAL_LOGS_BUCKET", "SIGNAL_S3_ENDPOINT",
	"SIGNAL_S3_REGION", "SIGNAL_WORKER_CONCURRENCY", "SIGNAL_POLL_INTERVAL",
	"SIGNAL_RETENTION_DAYS", "SIGNAL_CLEANUP_CRON",
}

func clearAllEnv(t *testing.T) {
	t.Helper()
	for _, key := range allEnvVars {
		t.Setenv(key, "")
	}
}

func TestLoad(t *testing.T) {
	for _, tc := range []struct {
		name         string
		env          map[string]string
		wantErr      bool
		wantHTTPAddr string
		wantNATSURL  string
	}{
		{
			name:    "MissingDatabaseURL",
			env:     map[string]string{"SIGNAL_LOGS_BUCKET": "logs"},
			wantErr: true,
		},
		{
			name:    "MissingBucket",
			env:     map[string]string{"SIGNAL_DATABASE_URL": "postgres://localhost/signal"},
			wantErr: true,
		},
		{
			name: "DefaultAddress",
			env: map[string]string{
				"SIGNAL_DATABASE_URL": "postgres://localhost/signal",
				"SIGNAL_LOGS_BUCKET":  "logs",
			},
			wantHTTPAddr: ":8080",
		},
		{
			name: "CustomAddress",
			env: map[string]string{
				"SIGNAL_DATABASE_URL": "postgres://db:5432/signal",
				"SIGNAL_LOGS_BUCKET":  "logs",
				"SIGNAL_HTTP_ADDR":    ":3000",
				"SIGNAL_NATS_URL":     "nats://localhost:4222",
			},
			wantHTTPAddr: ":3000",
			wantNATSURL:  "nats://localhost:4222",
		},
		{
			name: "BadConcurrency",
			env: map[string]string{
				"SIGNAL_DATABASE_URL":       "postgres://localhost/signal",
				"SIGNAL_LOGS_BUCKET":        "logs",
				"SIGNAL_WORKER_CONCURRENCY": "many",
			},
			wantErr: true,
		},
		{
			name: "ZeroRetention",
			env: map[string]string{
				"SIGNAL_DATABASE_URL":   "postgres://localhost/signal",
				"SIGNAL_LOGS_BUCKET":    "logs",
				"SIGNAL_RETENTION_DAYS": "0",
			},
			wantErr: true,
		},
		{
			name: "BadPollInterval",
			env: map[string]string{
				"SIGNAL_DATABASE_URL":  "postgres://localhost/signal",
				"SIGNAL_LOGS_BUCKET":   "logs",
				"SIGNAL_POLL_INTERVAL": "soon",
			},
			wantErr: true,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			clearAllEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}

			cfg, err := Load()
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if cfg.DatabaseURL != tc.env["SIGNAL_DATABASE_URL"] {
				t.Errorf("DatabaseURL = %q, want %q", cfg.DatabaseURL, tc.env["SIGNAL_DATABASE_URL"])
			}
			if cfg.HTTPAddr != tc.wantHTTPAddr {
				t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, tc.wantHTTPAddr)
			}
			if cfg.NATSURL != tc.wantNATSURL {
				t.Errorf("NATSURL = %q, want %q", cfg.NATSURL, tc.wantNATSURL)
			}
		})
	}
}

func TestLoadDefaults(t *testing.T) {
	clearAllEnv(t)
	t.Setenv("SIGNAL_DATABASE_URL", "postgres://localhost/signal")
	t.Setenv("SIGNAL_LOGS_BUCKET", "logs")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.S3Region != "us-east-1" {
		t.Errorf("S3Region = %q, want %q", cfg.S3Region, "us-east-1")
	}
	if cfg.WorkerConcurrency != 10 {
		t.Errorf("WorkerConcurrency = %d, want 10", cfg.WorkerConcurrency)
	}
	if cfg.PollInterval != time.Second {
		t.Errorf("PollInterval = %v, want 1s", cfg.PollInterval)
	}
	if cfg.Retention() != 14*24*time.Hour {
		t.Errorf("Retention = %v, want 336h", cfg.Retention())
	}
	if cfg.CleanupCron != "0 0 * * *" {
		t.Errorf("CleanupCron = %q", cfg.CleanupCron)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
}

func TestLoadFile(t *testing.T) {
	clearAllEnv(t)
	path := filepath.Join(t.TempDir(), "signal.toml")
	err := os.WriteFile(path, []byte(`
database_url = "postgres://file/signal"
logs_bucket = "file-logs"
http_addr = ":9000"
s3_endpoint = "http://minio:9000"
worker_concurrency = 4
poll_interval = "250ms"
retention_days = 7
`), 0o600)
	if err != nil {
		t.Fatal(err)
	}
	t.Setenv("SIGNAL_CONFIG_FILE", path)
	t.Setenv("SIGNAL_HTTP_ADDR", ":9100")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.DatabaseURL != "postgres://file/signal" || cfg.LogsBucket != "file-logs" {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.HTTPAddr != ":9100" {
		t.Errorf("HTTPAddr = %q, env should override the file", cfg.HTTPAddr)
	}
	if cfg.S3Endpoint != "http://minio:9000" {
		t.Errorf("S3Endpoint = %q", cfg.S3Endpoint)
	}
	if cfg.WorkerConcurrency != 4 || cfg.PollInterval != 250*time.Millisecond || cfg.RetentionDays != 7 {
		t.Errorf("worker settings = %d %v %d", cfg.WorkerConcurrency, cfg.PollInterval, cfg.RetentionDays)
	}
	if cfg.S3Region != "us-east-1" {
		t.Errorf("S3Region = %q, defaults should survive the file", cfg.S3Region)
	}
}

func TestLoadFile_Missing(t *testing.T) {
	clearAllEnv(t)
	t.Setenv("SIGNAL_CONFIG_FILE", filepath.Join(t.TempDir(), "missing.toml"))
	if _, err := Load(); err == nil {
		t.Fatal("expected error for a missing config file")
	}
}
