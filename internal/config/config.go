// Package config loads service configuration from environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Store backend names accepted in the STORE variable.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Config holds every runtime setting, with local-development defaults.
type Config struct {
	Port  string `env:"PORT" envDefault:"8080"`
	Store string `env:"STORE" envDefault:"postgres"`

	DBHost     string `env:"DB_HOST" envDefault:"localhost"`
	DBPort     string `env:"DB_PORT" envDefault:"5432"`
	DBUser     string `env:"DB_USER" envDefault:"postgres"`
	DBPassword string `env:"DB_PASSWORD" envDefault:"postgres"`
	DBName     string `env:"DB_NAME" envDefault:"registrations"`
	DBSSLMode  string `env:"DB_SSLMODE" envDefault:"disable"`

	// LockTimeout bounds how long a registration waits behind another
	// writer on the same event before failing as busy.
	LockTimeout time.Duration `env:"LOCK_TIMEOUT" envDefault:"5s"`
}

// Load parses the environment into a Config.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.Store != StorePostgres && cfg.Store != StoreMemory {
		return Config{}, fmt.Errorf("unknown STORE %q (want %s or %s)", cfg.Store, StorePostgres, StoreMemory)
	}
	return cfg, nil
}

// DSN builds a libpq-compatible connection string.
func (c Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode,
	)
}
