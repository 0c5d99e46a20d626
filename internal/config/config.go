package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/caarlos0/env/v10"
)

const (
	BackendDynamoDB = "dynamodb"
	BackendMemory   = "memory"
)

// Config holds all environment backed configuration for the messaging core.
type Config struct {
	// Storage
	StoreBackend string `env:"STORE_BACKEND" envDefault:"dynamodb"`
	StateTable   string `env:"STATE_TABLE"`

	// Optional SSM prefix for runtime overrides of the summary settings.
	ParamPrefix string `env:"PARAM_PREFIX"`

	// Optional endpoint receiving messaging events; its bearer token is read
	// from <PARAM_PREFIX>/webhook_token.
	WebhookURL string `env:"WEBHOOK_URL"`

	// Logging
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Summary and paging
	PreviewMaxRunes    int    `env:"PREVIEW_MAX_RUNES" envDefault:"80"`
	PreviewPlaceholder string `env:"PREVIEW_PLACEHOLDER" envDefault:"Encrypted message"`
	MaxWriteRetries    int    `env:"MAX_WRITE_RETRIES" envDefault:"5"`
	DefaultPageLimit   int    `env:"DEFAULT_PAGE_LIMIT" envDefault:"20"`
	MaxPageLimit       int    `env:"MAX_PAGE_LIMIT" envDefault:"100"`
}

// Load parses the environment and validates the result.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	c.StoreBackend = strings.ToLower(strings.TrimSpace(c.StoreBackend))
	switch c.StoreBackend {
	case BackendDynamoDB:
		if strings.TrimSpace(c.StateTable) == "" {
			return errors.New("config: STATE_TABLE is required for the dynamodb backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("config: unknown STORE_BACKEND %q", c.StoreBackend)
	}
	if c.PreviewMaxRunes <= 0 {
		return errors.New("config: PREVIEW_MAX_RUNES must be positive")
	}
	if c.MaxWriteRetries <= 0 {
		return errors.New("config: MAX_WRITE_RETRIES must be positive")
	}
	if c.DefaultPageLimit <= 0 || c.MaxPageLimit < c.DefaultPageLimit {
		return errors.New("config: page limits must satisfy 0 < DEFAULT_PAGE_LIMIT <= MAX_PAGE_LIMIT")
	}
	c.ParamPrefix = strings.TrimRight(strings.TrimSpace(c.ParamPrefix), "/")
	c.WebhookURL = strings.TrimSpace(c.WebhookURL)
	if c.WebhookURL != "" && c.ParamPrefix == "" {
		return errors.New("config: WEBHOOK_URL requires PARAM_PREFIX for the webhook token")
	}
	return nil
}

// SlogLevel maps LOG_LEVEL onto slog levels, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
