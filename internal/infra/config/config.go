package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// AppConfig holds all configuration for the engine
type AppConfig struct {
	DatabaseURL           string
	LogLevel              string
	Environment           string
	HTTPListenAddr        string
	CronSpecDispatch      string
	CronSpecReclaim       string
	DispatchWorkers       int
	DispatchBatchSize     int
	DispatchTimeout       time.Duration
	ClaimAbandonAfter     time.Duration
	ChannelGatewayBaseURL string
	ChannelGatewayTimeout time.Duration
}

// Load reads configuration from environment variables and .env file (if present).
func Load() (*AppConfig, error) {
	// Attempt to load .env file. Errors are ignored if the file doesn't exist.
	// godotenv.Load will not override existing env variables.
	_ = godotenv.Load()

	cfg := &AppConfig{}
	var err error

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is not set")
	}

	cfg.ChannelGatewayBaseURL = os.Getenv("CHANNEL_GATEWAY_BASE_URL")
	if cfg.ChannelGatewayBaseURL == "" {
		return nil, fmt.Errorf("CHANNEL_GATEWAY_BASE_URL is not set")
	}

	cfg.LogLevel = strings.ToLower(os.Getenv("LOG_LEVEL"))
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info" // Default log level
	}

	cfg.Environment = strings.ToLower(os.Getenv("ENVIRONMENT"))
	if cfg.Environment == "" {
		cfg.Environment = "development" // Default environment
	}

	cfg.HTTPListenAddr = os.Getenv("HTTP_LISTEN_ADDR")
	if cfg.HTTPListenAddr == "" {
		cfg.HTTPListenAddr = ":8080"
	}

	cfg.CronSpecDispatch = os.Getenv("CRON_SPEC_DISPATCH")
	if cfg.CronSpecDispatch == "" {
		cfg.CronSpecDispatch = "@every 15s" // Default: poll for due actions every 15s
	}

	cfg.CronSpecReclaim = os.Getenv("CRON_SPEC_RECLAIM")
	if cfg.CronSpecReclaim == "" {
		cfg.CronSpecReclaim = "@every 1m" // Default: sweep abandoned claims every minute
	}

	if cfg.DispatchWorkers, err = intFromEnv("DISPATCH_WORKERS", 4); err != nil {
		return nil, err
	}
	if cfg.DispatchBatchSize, err = intFromEnv("DISPATCH_BATCH_SIZE", 50); err != nil {
		return nil, err
	}
	if cfg.DispatchTimeout, err = durationFromEnv("DISPATCH_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.ClaimAbandonAfter, err = durationFromEnv("CLAIM_ABANDON_AFTER", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.ChannelGatewayTimeout, err = durationFromEnv("CHANNEL_GATEWAY_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}

	return cfg, nil
}

func intFromEnv(name string, fallback int) (int, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	if v < 1 {
		return 0, fmt.Errorf("invalid %s: must be at least 1", name)
	}
	return v, nil
}

func durationFromEnv(name string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	if v <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", name)
	}
	return v, nil
}
