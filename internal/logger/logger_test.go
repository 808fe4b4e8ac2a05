package logger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/huntplane/huntplane/internal/config"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		config  config.LoggerConfig
		wantErr bool
	}{
		{
			name: "valid json config",
			config: config.LoggerConfig{
				Level:  "debug",
				Format: "json",
			},
			wantErr: false,
		},
		{
			name: "valid console config",
			config: config.LoggerConfig{
				Level:  "info",
				Format: "console",
			},
			wantErr: false,
		},
		{
			name: "invalid level",
			config: config.LoggerConfig{
				Level:  "invalid",
				Format: "json",
			},
			wantErr: true,
		},
		{
			name:    "empty config uses defaults",
			config:  config.LoggerConfig{},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.config)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, logger)
			} else {
				assert.NoError(t, err)
				assert.NotNil(t, logger)
			}
		})
	}
}

func TestLoggerMethods(t *testing.T) {
	logger, err := New(config.LoggerConfig{Level: "debug", Format: "json"})
	require.NoError(t, err)

	logger.Info("test info message")
	logger.Infow("test structured info", "key", "value", "number", 42)

	logger.Debug("test debug message")
	logger.Debugw("test structured debug", "key", "value")

	logger.Warn("test warn message")
	logger.Warnw("test structured warn", "key", "value")

	logger.Error("test error message")
	logger.Errorw("test structured error", "key", "value")
}

func TestWithContext(t *testing.T) {
	logger, err := New(config.LoggerConfig{Level: "debug", Format: "json"})
	require.NoError(t, err)

	ctx := context.Background()

	contextLogger := logger.WithContext(ctx)
	contextLogger.Info("test with context")
	contextLogger.Debug("debug with context")
	contextLogger.Warn("warn with context")
	contextLogger.Error("error with context")
}

func TestStartOperation(t *testing.T) {
	logger, err := New(config.LoggerConfig{Level: "debug", Format: "json"})
	require.NoError(t, err)

	ctx := context.Background()

	newCtx, span := logger.StartOperation(ctx, "test.operation",
		"key1", "value1",
		"key2", 123,
	)

	assert.NotNil(t, newCtx)
	assert.NotNil(t, span)

	span.End()
}

func TestFinishOperation(t *testing.T) {
	logger, err := New(config.LoggerConfig{Level: "debug", Format: "json"})
	require.NoError(t, err)

	ctx, span := logger.StartOperation(context.Background(), "test.operation")
	logger.FinishOperation(ctx, span, "test.operation", time.Now(), nil)

	ctx, span = logger.StartOperation(context.Background(), "test.failing")
	logger.FinishOperation(ctx, span, "test.failing", time.Now(), errors.New("boom"))
}

func TestWithFields(t *testing.T) {
	logger, err := New(config.LoggerConfig{Level: "debug", Format: "json"})
	require.NoError(t, err)

	fieldLogger := logger.WithFields("component", "test", "version", "1.0")
	assert.NotNil(t, fieldLogger)

	fieldLogger.Info("test from field logger")
}

func TestWithComponent(t *testing.T) {
	logger, err := New(config.LoggerConfig{Level: "debug", Format: "json"})
	require.NoError(t, err)

	componentLogger := logger.WithComponent("test-component")
	assert.NotNil(t, componentLogger)
	componentLogger.Info("test from component logger")
}

func TestWithTarget(t *testing.T) {
	logger, err := New(config.LoggerConfig{Level: "debug", Format: "json"})
	require.NoError(t, err)

	targetLogger := logger.WithTarget("target-12345")
	assert.NotNil(t, targetLogger)
	targetLogger.Info("test from target logger")
}

func TestWithJobID(t *testing.T) {
	logger, err := New(config.LoggerConfig{Level: "debug", Format: "json"})
	require.NoError(t, err)

	jobLogger := logger.WithJobID("job-12345")
	assert.NotNil(t, jobLogger)
	jobLogger.Info("test from job logger")
}

func TestWithCandidate(t *testing.T) {
	logger, err := New(config.LoggerConfig{Level: "debug", Format: "json"})
	require.NoError(t, err)

	candidateLogger := logger.WithCandidate("candidate-12345")
	assert.NotNil(t, candidateLogger)
	candidateLogger.Info("test from candidate logger")
}

func TestLogHelpers(t *testing.T) {
	logger, err := New(config.LoggerConfig{Level: "debug", Format: "json"})
	require.NoError(t, err)

	ctx := context.Background()
	logger.LogDuration(ctx, "test.op", time.Now().Add(-5*time.Millisecond))
	logger.LogError(ctx, errors.New("boom"), "test.op", "key", "value")
	logger.LogHTTPRequest(ctx, "GET", "https://example.com/api", 200, 10*time.Millisecond)
	logger.LogDatabaseOperation(ctx, "insert", "targets", 1, time.Millisecond)
	logger.LogFinding(ctx, "attack_type", "XSS", "severity", "medium")
}

func TestFromContext(t *testing.T) {
	logger, err := New(config.LoggerConfig{Level: "debug", Format: "json"})
	require.NoError(t, err)

	ctx := WithLogger(context.Background(), logger)
	assert.Equal(t, logger, FromContext(ctx))

	// Unset context returns a usable fallback.
	assert.NotNil(t, FromContext(context.Background()))
}

func TestLoggerConcurrency(t *testing.T) {
	logger, err := New(config.LoggerConfig{Level: "debug", Format: "json"})
	require.NoError(t, err)

	done := make(chan bool, 10)
	for i := 0; i < 10; i++ {
		go func(id int) {
			logger.Infow("concurrent log", "goroutine", id)
			done <- true
		}(i)
	}

	for i := 0; i < 10; i++ {
		<-done
	}
}
