// Package config loads server configuration in three layers: compiled-in
// defaults, then an optional YAML file, then environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Store driver names accepted in StoreDriver.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config holds server configuration.
type Config struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"log_level"`

	StoreDriver string `yaml:"store_driver"`
	DatabaseURL string `yaml:"database_url"`
	SQLitePath  string `yaml:"sqlite_path"`
	RedisURL    string `yaml:"redis_url"`

	VerifyWorkers   int `yaml:"verify_workers"`
	VerifyTimeoutMS int `yaml:"verify_timeout_ms"`
}

// Default returns the compiled-in configuration.
func Default() *Config {
	return &Config{
		Port:            "8080",
		LogLevel:        "info",
		StoreDriver:     "", // inferred from DatabaseURL/SQLitePath when empty
		VerifyWorkers:   4,
		VerifyTimeoutMS: 30000,
	}
}

// Load builds the effective configuration: defaults first, the YAML file
// at path second (skipped when path is empty), environment variables
// last. The result is validated before being returned.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays environment variables onto cfg. Unset and empty
// variables leave the current value in place.
func applyEnv(cfg *Config) error {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("STORE_DRIVER"); v != "" {
		cfg.StoreDriver = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.SQLitePath = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.RedisURL = v
	}
	if v := os.Getenv("VERIFY_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("VERIFY_WORKERS: %w", err)
		}
		cfg.VerifyWorkers = n
	}
	if v := os.Getenv("VERIFY_TIMEOUT_MS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("VERIFY_TIMEOUT_MS: %w", err)
		}
		cfg.VerifyTimeoutMS = n
	}
	return nil
}

// Validate resolves the store driver and bounds-checks the numeric
// settings. An empty StoreDriver is inferred: postgres when a database
// URL is set, sqlite when a file path is set, memory otherwise.
func (c *Config) Validate() error {
	if c.StoreDriver == "" {
		switch {
		case c.DatabaseURL != "":
			c.StoreDriver = DriverPostgres
		case c.SQLitePath != "":
			c.StoreDriver = DriverSQLite
		default:
			c.StoreDriver = DriverMemory
		}
	}

	switch c.StoreDriver {
	case DriverMemory:
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("store driver %q requires DATABASE_URL", DriverPostgres)
		}
	case DriverSQLite:
		if c.SQLitePath == "" {
			c.SQLitePath = "navproof.db"
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.StoreDriver)
	}

	if c.VerifyWorkers < 1 {
		return fmt.Errorf("verify_workers must be at least 1, got %d", c.VerifyWorkers)
	}
	if c.VerifyTimeoutMS < 1 {
		return fmt.Errorf("verify_timeout_ms must be at least 1, got %d", c.VerifyTimeoutMS)
	}
	return nil
}

// VerifyTimeout returns the batch verification deadline as a duration.
func (c *Config) VerifyTimeout() time.Duration {
	return time.Duration(c.VerifyTimeoutMS) * time.Millisecond
}
