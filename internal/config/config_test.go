package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoggerConfig(t *testing.T) {
	config := LoggerConfig{
		Level:       "debug",
		Format:      "json",
		OutputPaths: []string{"stdout", "stderr"},
	}

	assert.Equal(t, "debug", config.Level)
	assert.Equal(t, "json", config.Format)
	assert.Contains(t, config.OutputPaths, "stdout")
}

func TestDatabaseConfig(t *testing.T) {
	config := DatabaseConfig{
		Driver:          "sqlite3",
		DSN:             ":memory:",
		MaxConnections:  10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}

	assert.Equal(t, "sqlite3", config.Driver)
	assert.Equal(t, ":memory:", config.DSN)
	assert.Equal(t, 10, config.MaxConnections)
}

func TestTestingConfig(t *testing.T) {
	config := TestingConfig{
		Timeout:           15 * time.Second,
		MaxPayloadsPerJob: 5,
		UserAgent:         "test-agent",
		RequestsPerSecond: 10,
		MinHostDelay:      100 * time.Millisecond,
	}

	assert.Equal(t, 15*time.Second, config.Timeout)
	assert.Equal(t, 5, config.MaxPayloadsPerJob)
	assert.Equal(t, 10.0, config.RequestsPerSecond)
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	assert.Equal(t, "info", config.Logger.Level)
	assert.Equal(t, "postgres", config.Database.Driver)
	assert.Equal(t, "localhost:6379", config.Redis.Addr)
	assert.Equal(t, 3, config.Worker.Count)
	assert.Equal(t, 5, config.Testing.MaxPayloadsPerJob)
	assert.Equal(t, 15*time.Second, config.Testing.Timeout)
	assert.False(t, config.Security.EnableAuth)
}
