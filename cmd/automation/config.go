package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
)

// Config holds all automation engine configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	DBPath       string `json:"db_path"`
	LogLevel     string `json:"log_level"`
	PoolSize     int    `json:"pool_size"`
	MaxSteps     int    `json:"max_steps"`
	LeaseSeconds int    `json:"lease_seconds"`
	TickSeconds  int    `json:"tick_seconds"`
	WorkerID     string `json:"worker_id"`
}

func defaultConfig() Config {
	return Config{
		DBPath:       filepath.Join(automationDir(), "automation.db"),
		LogLevel:     "info",
		PoolSize:     4,
		MaxSteps:     100,
		LeaseSeconds: 300,
		TickSeconds:  60,
	}
}

func automationDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".practiq"
	}
	return filepath.Join(home, ".practiq")
}

func settingsPath() string {
	return filepath.Join(automationDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("AUTOMATION_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("AUTOMATION_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("AUTOMATION_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PoolSize = n
		}
	}
	if v := os.Getenv("AUTOMATION_MAX_STEPS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxSteps = n
		}
	}
	if v := os.Getenv("AUTOMATION_LEASE_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.LeaseSeconds = n
		}
	}
	if v := os.Getenv("AUTOMATION_TICK_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.TickSeconds = n
		}
	}
	if v := os.Getenv("AUTOMATION_WORKER_ID"); v != "" {
		cfg.WorkerID = v
	}

	return cfg
}
