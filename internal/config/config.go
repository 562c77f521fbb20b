// Package config loads the application configuration from a YAML file with
// environment variable overrides for deployment-specific values.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tenenciaexterior/marketdata/pkg/logger"
)

// Config is the full application configuration.
type Config struct {
	Server  ServerConfig         `yaml:"server"`
	Logging logger.LoggingConfig `yaml:"logging"`
	Finnhub FinnhubConfig        `yaml:"finnhub"`
	Yahoo   YahooConfig          `yaml:"yahoo"`
	Refresh RefreshConfig        `yaml:"refresh"`
	Stream  StreamConfig         `yaml:"stream"`
	Storage StorageConfig        `yaml:"storage"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// FinnhubConfig configures the primary source adapter.
type FinnhubConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
}

// YahooConfig configures the scraped fallback adapter.
type YahooConfig struct {
	ProxyPrefixes []string `yaml:"proxy_prefixes"`
}

// RefreshConfig configures refresh cycle behaviour.
type RefreshConfig struct {
	Schedule       string        `yaml:"schedule"`
	InterCallDelay time.Duration `yaml:"inter_call_delay"`
	BatchSize      int           `yaml:"batch_size"`
	DailyTTL       time.Duration `yaml:"daily_ttl"`
	IndicatorTTL   time.Duration `yaml:"indicator_ttl"`
}

// StreamConfig configures the push feed.
type StreamConfig struct {
	URL         string `yaml:"url"`
	MaxAttempts int    `yaml:"max_attempts"`
}

// StorageConfig selects the persistence backends. Backend is one of
// "memory", "postgres" or "redis".
type StorageConfig struct {
	Backend     string `yaml:"backend"`
	PostgresDSN string `yaml:"postgres_dsn"`
	RedisAddr   string `yaml:"redis_addr"`
	RedisDB     int    `yaml:"redis_db"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Server: ServerConfig{Addr: ":8080"},
		Logging: logger.LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Refresh: RefreshConfig{
			Schedule:       "@every 60s",
			InterCallDelay: 400 * time.Millisecond,
			BatchSize:      5,
			DailyTTL:       4 * time.Hour,
			IndicatorTTL:   5 * time.Minute,
		},
		Stream: StreamConfig{
			URL:         "wss://ws.finnhub.io",
			MaxAttempts: 10,
		},
		Storage: StorageConfig{Backend: "memory"},
	}
}

// Load reads the YAML file at path, falling back to defaults when the file is
// absent, then applies environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

// applyEnv maps deployment secrets and endpoints over the file values.
func (c *Config) applyEnv() {
	overrideString(&c.Server.Addr, "MARKETDATA_ADDR")
	overrideString(&c.Logging.Level, "MARKETDATA_LOG_LEVEL")
	overrideString(&c.Finnhub.APIKey, "FINNHUB_API_KEY")
	overrideString(&c.Finnhub.BaseURL, "FINNHUB_BASE_URL")
	overrideString(&c.Stream.URL, "MARKETDATA_STREAM_URL")
	overrideString(&c.Refresh.Schedule, "MARKETDATA_REFRESH_SCHEDULE")
	overrideString(&c.Storage.Backend, "MARKETDATA_STORAGE_BACKEND")
	overrideString(&c.Storage.PostgresDSN, "MARKETDATA_POSTGRES_DSN")
	overrideString(&c.Storage.RedisAddr, "MARKETDATA_REDIS_ADDR")
	overrideInt(&c.Storage.RedisDB, "MARKETDATA_REDIS_DB")
	overrideInt(&c.Refresh.BatchSize, "MARKETDATA_BATCH_SIZE")
}

func overrideString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func overrideInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
