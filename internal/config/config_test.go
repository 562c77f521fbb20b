package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Fatalf("addr = %q", cfg.Server.Addr)
	}
	if cfg.Refresh.InterCallDelay != 400*time.Millisecond {
		t.Fatalf("inter-call delay = %v", cfg.Refresh.InterCallDelay)
	}
	if cfg.Refresh.BatchSize != 5 {
		t.Fatalf("batch size = %d", cfg.Refresh.BatchSize)
	}
}

func TestLoad_FileAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  addr: ":9090"
refresh:
  schedule: "@every 30s"
  daily_ttl: 2h
storage:
  backend: postgres
  postgres_dsn: "postgres://file-dsn"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	t.Setenv("MARKETDATA_POSTGRES_DSN", "postgres://env-dsn")
	t.Setenv("FINNHUB_API_KEY", "env-key")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":9090" {
		t.Fatalf("addr = %q", cfg.Server.Addr)
	}
	if cfg.Refresh.Schedule != "@every 30s" {
		t.Fatalf("schedule = %q", cfg.Refresh.Schedule)
	}
	if cfg.Refresh.DailyTTL != 2*time.Hour {
		t.Fatalf("daily ttl = %v", cfg.Refresh.DailyTTL)
	}
	// env wins over the file
	if cfg.Storage.PostgresDSN != "postgres://env-dsn" {
		t.Fatalf("dsn = %q", cfg.Storage.PostgresDSN)
	}
	if cfg.Finnhub.APIKey != "env-key" {
		t.Fatalf("api key = %q", cfg.Finnhub.APIKey)
	}
	// untouched values keep their defaults
	if cfg.Refresh.IndicatorTTL != 5*time.Minute {
		t.Fatalf("indicator ttl = %v", cfg.Refresh.IndicatorTTL)
	}
}
