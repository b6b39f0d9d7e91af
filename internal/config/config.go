package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config struct for environment variables.
type Config struct {
	RepoURL    string `envconfig:"REPO_URL" required:"true"`
	RepoBranch string `envconfig:"REPO_BRANCH" default:"master"`
	BaseURL    string `envconfig:"BASE_URL" required:"true"`

	TargetDir       string        `envconfig:"TARGET_DIR" required:"true"`
	MaxParallel     int           `envconfig:"MAX_PARALLEL" default:"3"`
	SyncInterval    time.Duration `envconfig:"SYNC_INTERVAL" default:"10m"`
	CleanupInterval time.Duration `envconfig:"CLEANUP_INTERVAL" default:"10m"`
	KeepMirroredFor time.Duration `envconfig:"KEEP_MIRRORED_FOR" default:"24h"`

	SourceToken     string        `envconfig:"SOURCE_TOKEN"`
	FetchTimeout    time.Duration `envconfig:"FETCH_TIMEOUT" default:"30s"`
	FetchMaxRetries uint          `envconfig:"FETCH_MAX_RETRIES" default:"3"`

	LogLevel          string `envconfig:"LOG_LEVEL" default:"INFO"`
	DBPath            string `envconfig:"DB_PATH" default:"mirror.db"`
	DiscordWebhookURL string `envconfig:"DISCORD_WEBHOOK_URL"`

	Web struct {
		Username        string        `split_words:"true"`
		Password        string        `split_words:"true"`
		BindAddress     string        `split_words:"true" default:"0.0.0.0:8080"`
		ReadTimeout     time.Duration `split_words:"true" default:"30s"`
		WriteTimeout    time.Duration `split_words:"true" default:"30s"`
		IdleTimeout     time.Duration `split_words:"true" default:"5s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"30s"`
	}

	Telemetry struct {
		Enabled        bool   `split_words:"true" default:"true"`
		ServiceName    string `split_words:"true" default:"mirrorfetch"`
		ServiceVersion string `split_words:"true" default:"dev"`
		OTLPEndpoint   string `envconfig:"TELEMETRY_OTLP_ENDPOINT"`
	}
}

// LoadConfig reads environment variables and populates the Config struct.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	return &cfg, nil
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
