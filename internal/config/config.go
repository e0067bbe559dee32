// Package config loads server configuration from an optional YAML file
// with environment-variable overrides. A .env file is honored when
// present so local development matches deployed environments.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

// LimitsConfig configures the optional position limiter. Zero values
// disable it.
type LimitsConfig struct {
	MaxPerSymbol     float64 `yaml:"max_per_symbol"`
	MaxPerUnderlying float64 `yaml:"max_per_underlying"`
}

// Config holds the server settings.
type Config struct {
	Port string `yaml:"port"`

	// Storage selection: DatabaseURL wins, then SQLitePath, then the
	// in-memory store. RedisURL layers a read-through cache over
	// PostgreSQL.
	DatabaseURL string `yaml:"database_url"`
	RedisURL    string `yaml:"redis_url"`
	SQLitePath  string `yaml:"sqlite_path"`

	// CacheTTLSeconds bounds Redis memory for cached runs.
	CacheTTLSeconds int `yaml:"cache_ttl_seconds"`

	Limits LimitsConfig `yaml:"limits"`
}

// Load reads the YAML file named by CONFIG_FILE (if any), then applies
// environment overrides. Missing settings fall back to defaults.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:            "8080",
		CacheTTLSeconds: 300,
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.Port = getEnvDefault("PORT", cfg.Port)
	cfg.DatabaseURL = getEnvDefault("DATABASE_URL", cfg.DatabaseURL)
	cfg.RedisURL = getEnvDefault("REDIS_URL", cfg.RedisURL)
	cfg.SQLitePath = getEnvDefault("SQLITE_PATH", cfg.SQLitePath)

	if v := os.Getenv("CACHE_TTL_SECONDS"); v != "" {
		ttl, err := strconv.Atoi(v)
		if err != nil || ttl <= 0 {
			return nil, fmt.Errorf("CACHE_TTL_SECONDS must be a positive integer, got %q", v)
		}
		cfg.CacheTTLSeconds = ttl
	}
	if v := os.Getenv("MAX_PER_SYMBOL"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 {
			return nil, fmt.Errorf("MAX_PER_SYMBOL must be a non-negative number, got %q", v)
		}
		cfg.Limits.MaxPerSymbol = f
	}
	if v := os.Getenv("MAX_PER_UNDERLYING"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 {
			return nil, fmt.Errorf("MAX_PER_UNDERLYING must be a non-negative number, got %q", v)
		}
		cfg.Limits.MaxPerUnderlying = f
	}

	return cfg, nil
}

func getEnvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
