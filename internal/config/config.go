// Package config loads guildmark settings from the environment.
//
// An optional .env file is read first; variables already set in the
// process environment win over it. Command-line flags override both.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/roach88/guildmark/internal/engine"
)

// Config holds process-wide settings.
type Config struct {
	DBPath            string        `env:"GUILDMARK_DB"                 envDefault:"guildmark.db"`
	SweepBatchSize    int           `env:"GUILDMARK_SWEEP_BATCH_SIZE"   envDefault:"100"`
	SweepInterval     time.Duration `env:"GUILDMARK_SWEEP_INTERVAL"     envDefault:"1h"`
	UnknownConditions string        `env:"GUILDMARK_UNKNOWN_CONDITIONS" envDefault:"open"`
	LogLevel          string        `env:"GUILDMARK_LOG_LEVEL"          envDefault:"info"`
}

// Load reads the given dotenv files (default ".env"), skipping ones that
// do not exist, then parses and validates the environment.
func Load(dotenvFiles ...string) (Config, error) {
	if len(dotenvFiles) == 0 {
		dotenvFiles = []string{".env"}
	}
	for _, path := range dotenvFiles {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return Config{}, fmt.Errorf("load %s: %w", path, err)
		}
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks value ranges that env tags cannot express.
func (c Config) Validate() error {
	if strings.TrimSpace(c.DBPath) == "" {
		return fmt.Errorf("GUILDMARK_DB must not be empty")
	}
	if c.SweepBatchSize <= 0 {
		return fmt.Errorf("GUILDMARK_SWEEP_BATCH_SIZE must be positive, got %d", c.SweepBatchSize)
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("GUILDMARK_SWEEP_INTERVAL must be positive, got %s", c.SweepInterval)
	}
	if _, err := c.Policy(); err != nil {
		return fmt.Errorf("GUILDMARK_UNKNOWN_CONDITIONS: %w", err)
	}
	if _, err := c.Level(); err != nil {
		return fmt.Errorf("GUILDMARK_LOG_LEVEL: %w", err)
	}
	return nil
}

// Policy returns how unknown rule conditions evaluate.
func (c Config) Policy() (engine.UnknownConditionPolicy, error) {
	return engine.ParseUnknownConditionPolicy(c.UnknownConditions)
}

// Level returns the slog level named by LogLevel.
func (c Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(c.LogLevel))); err != nil {
		return slog.LevelInfo, err
	}
	return level, nil
}
