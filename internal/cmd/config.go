package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the process configuration, read from a YAML file with
// environment variable overrides on top.
type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Poll struct {
		DurationSeconds  int `yaml:"duration_seconds"`
		RetentionMinutes int `yaml:"retention_minutes"`
	} `yaml:"poll"`
	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
}

func defaultConfig() *Config {
	var cfg Config
	cfg.Server.Port = "8080"
	cfg.Poll.DurationSeconds = 60
	cfg.Poll.RetentionMinutes = 10
	cfg.Log.Level = "info"
	return &cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// loadConfig reads the YAML config at path, falling back to defaults when
// the file does not exist, then applies env overrides.
func loadConfig(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg.Server.Port = getEnv("PORT", cfg.Server.Port)
	cfg.Poll.DurationSeconds = getEnvAsInt("POLL_DURATION_SECONDS", cfg.Poll.DurationSeconds)
	cfg.Poll.RetentionMinutes = getEnvAsInt("ROOM_RETENTION_MINUTES", cfg.Poll.RetentionMinutes)
	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)

	return cfg, nil
}

// PollDuration returns the configured voting window.
func (c *Config) PollDuration() time.Duration {
	return time.Duration(c.Poll.DurationSeconds) * time.Second
}

// Retention returns how long ended rooms are kept before eviction. Zero
// disables eviction.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.Poll.RetentionMinutes) * time.Minute
}
