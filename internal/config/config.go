// Package config loads and validates CityFeed's environment-driven
// configuration.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds all server configuration.
//
// Tags:
//
//	env: environment variable name
//	envDefault: default value if not set
type Config struct {
	// Server basics
	BindAddr      string `env:"BIND_ADDR" envDefault:"0.0.0.0:3001"`
	RedisURL      string `env:"REDIS_URL"`
	ServerSecret  string `env:"SERVER_SECRET"`
	AllowedOrigin string `env:"ALLOWED_ORIGIN"`

	// Optional remote moderation
	ModerationAPIKey string        `env:"MODERATION_API_KEY" envDefault:""`
	ModerationURL    string        `env:"MODERATION_API_URL" envDefault:"https://api.moderatecontent.example/v1/check"`
	ModerationTimeout time.Duration `env:"MODERATION_TIMEOUT" envDefault:"5s"`

	// Request-level suspension timeout (§5 of the spec)
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"30s"`

	// Trusted proxy addresses allowed to set X-Forwarded-For / Cf-Connecting-Ip.
	// Comma separated; empty means "trust the immediate peer only".
	TrustedProxies string `env:"TRUSTED_PROXIES" envDefault:""`

	// Graceful shutdown drain deadline
	ShutdownDrain time.Duration `env:"SHUTDOWN_DRAIN" envDefault:"10s"`

	// Monitoring
	MetricsInterval time.Duration `env:"METRICS_INTERVAL" envDefault:"15s"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Environment
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
}

// Load reads configuration from an optional .env file and the environment.
// Priority: env vars > .env file > defaults.
func Load(logger *zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if logger != nil {
			logger.Info().Msg("no .env file found (using environment variables only)")
		}
	} else if logger != nil {
		logger.Info().Msg("loaded configuration from .env file")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Validate checks configuration for the fatal conditions called out in the
// spec: a missing server secret or Redis URL must prevent startup.
func (c *Config) Validate() error {
	if len(c.ServerSecret) < 32 {
		return fmt.Errorf("SERVER_SECRET is required and must be at least 32 bytes, got %d", len(c.ServerSecret))
	}
	if c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}
	if c.Environment == "production" && c.AllowedOrigin == "" {
		return fmt.Errorf("ALLOWED_ORIGIN is required in production")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("LOG_LEVEL must be one of: debug, info, warn, error (got: %s)", c.LogLevel)
	}
	validLogFormats := map[string]bool{"json": true, "console": true}
	if !validLogFormats[c.LogFormat] {
		return fmt.Errorf("LOG_FORMAT must be one of: json, console (got: %s)", c.LogFormat)
	}

	return nil
}

// RemoteModerationEnabled reports whether a moderation API key is configured.
func (c *Config) RemoteModerationEnabled() bool {
	return c.ModerationAPIKey != ""
}

// LogConfig emits the loaded configuration as a structured log line,
// omitting secrets.
func (c *Config) LogConfig(logger zerolog.Logger) {
	logger.Info().
		Str("environment", c.Environment).
		Str("bind_addr", c.BindAddr).
		Str("allowed_origin", c.AllowedOrigin).
		Bool("remote_moderation", c.RemoteModerationEnabled()).
		Dur("request_timeout", c.RequestTimeout).
		Dur("shutdown_drain", c.ShutdownDrain).
		Dur("metrics_interval", c.MetricsInterval).
		Str("log_level", c.LogLevel).
		Str("log_format", c.LogFormat).
		Msg("configuration loaded")
}
