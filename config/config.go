package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

type Config struct {
	Env  string `env:"ENV" envDefault:"local" validate:"required,oneof=local staging production"`
	Port string `env:"PORT" envDefault:"8080" validate:"required"`

	DatabaseURL string `env:"DATABASE_URL,required" validate:"required"`

	ProcessEveryMS         int `env:"PROCESS_EVERY_MS" envDefault:"5000" validate:"min=100"`
	DefaultLockLifetimeSec int `env:"DEFAULT_LOCK_LIFETIME_SEC" envDefault:"600" validate:"min=1"`
	DefaultConcurrency     int `env:"DEFAULT_CONCURRENCY" envDefault:"5" validate:"min=1,max=1000"`
	GlobalMaxConcurrency   int `env:"GLOBAL_MAX_CONCURRENCY" envDefault:"20" validate:"min=1,max=10000"`
	GlobalLockLimit        int `env:"GLOBAL_LOCK_LIMIT" envDefault:"20" validate:"min=1,max=10000"`

	MetricsPort  string `env:"METRICS_PORT" envDefault:"9090"`
	AdminAPIPort string `env:"ADMIN_API_PORT" envDefault:"8081"`
	LogLevel     string `env:"LOG_LEVEL" envDefault:"info" validate:"required,oneof=debug info warn error"`
}

func Load() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// SlogLevel converts the LOG_LEVEL string to a slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ProcessEvery is the processor poll cadence as a time.Duration.
func (c *Config) ProcessEvery() time.Duration {
	return time.Duration(c.ProcessEveryMS) * time.Millisecond
}

// DefaultLockLifetime is the fallback lock lifetime for definitions that
// don't set their own.
func (c *Config) DefaultLockLifetime() time.Duration {
	return time.Duration(c.DefaultLockLifetimeSec) * time.Second
}
