package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()
	assert.NotEmpty(t, cfg.DBPath)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 100, cfg.MaxSteps)
	assert.Equal(t, 60, cfg.TickSeconds)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("AUTOMATION_DB_PATH", "/tmp/custom.db")
	t.Setenv("AUTOMATION_LOG_LEVEL", "debug")
	t.Setenv("AUTOMATION_POOL_SIZE", "8")
	t.Setenv("AUTOMATION_MAX_STEPS", "not-a-number")

	cfg := loadConfig()
	assert.Equal(t, "/tmp/custom.db", cfg.DBPath)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 8, cfg.PoolSize)
	assert.Equal(t, 100, cfg.MaxSteps, "bad numeric env value keeps the default")
}
