// Package config loads the YAML application configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// AppConfig holds process-level inputs shared by all commands.
type AppConfig struct {
	ConfigPath string
}

// Config is the parsed application configuration.
type Config struct {
	Listen   string         `yaml:"listen"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Auth     AuthConfig     `yaml:"auth"`
	Provider ProviderConfig `yaml:"provider"`
	Log      LogConfig      `yaml:"log"`
}

// DatabaseConfig selects the relational store.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// RedisConfig selects the atomic reservation counter store. An empty
// address falls back to the in-process counter, which is only safe for
// single-instance deployments.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// AuthConfig configures session token validation.
type AuthConfig struct {
	JWTSecret     string `yaml:"jwt-secret"`
	TokenTTLHours int    `yaml:"token-ttl-hours"`
}

// SessionTTL returns the configured session token lifetime.
func (a AuthConfig) SessionTTL() time.Duration {
	if a.TokenTTLHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(a.TokenTTLHours) * time.Hour
}

// ProviderConfig configures the inference provider client.
type ProviderConfig struct {
	BaseURL string `yaml:"base-url"`
	APIKey  string `yaml:"api-key"`
}

// LogConfig configures logging output and rotation.
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max-size-mb"`
	MaxBackups int    `yaml:"max-backups"`
	MaxAgeDays int    `yaml:"max-age-days"`
}

// Load reads and parses the configuration file, applying defaults.
func Load(path string) (*Config, error) {
	raw, errRead := os.ReadFile(path)
	if errRead != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, errRead)
	}

	var cfg Config
	if errUnmarshal := yaml.Unmarshal(raw, &cfg); errUnmarshal != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, errUnmarshal)
	}

	if strings.TrimSpace(cfg.Listen) == "" {
		cfg.Listen = ":8080"
	}
	if strings.TrimSpace(cfg.Database.DSN) == "" {
		cfg.Database.DSN = "hushbox.db"
	}
	if strings.TrimSpace(cfg.Provider.BaseURL) == "" {
		cfg.Provider.BaseURL = "https://api.openai.com/v1"
	}
	return &cfg, nil
}

// ResolveConfigPath applies the default config location when none is set.
func ResolveConfigPath(path string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed != "" {
		return trimmed
	}
	return "config.yaml"
}
