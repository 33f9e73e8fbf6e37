package config

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"HTTP_PORT", "LOG_LEVEL", "STORAGE_BACKEND", "REQUEST_TIMEOUT", "KAFKA_BROKERS", "REDIS_DB", "DB_NAME"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, logrus.InfoLevel, cfg.LogLevel)
	assert.Equal(t, BackendMemory, cfg.StorageBackend)
	assert.Equal(t, 10*time.Second, cfg.RequestTimeout)
	assert.Empty(t, cfg.KafkaBrokers)
	assert.Equal(t, "laundry", cfg.Database.Name)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("STORAGE_BACKEND", "redis")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("REQUEST_TIMEOUT", "3s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, logrus.DebugLevel, cfg.LogLevel)
	assert.Equal(t, BackendRedis, cfg.StorageBackend)
	assert.Equal(t, 2, cfg.RedisDB)
	assert.Equal(t, 3*time.Second, cfg.RequestTimeout)
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := map[string]string{
		"LOG_LEVEL":       "chatty",
		"STORAGE_BACKEND": "floppy",
		"REQUEST_TIMEOUT": "soon",
		"REDIS_DB":        "one",
	}
	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestOpenBackendLocal(t *testing.T) {
	cfg := &Config{DataDir: t.TempDir()}
	logger := NewLogger(logrus.ErrorLevel)

	for _, kind := range []string{BackendMemory, BackendFile} {
		backend, closeFn, err := cfg.OpenBackend(context.Background(), kind, logger)
		require.NoError(t, err, kind)
		require.NoError(t, backend.WriteAll(context.Background(), "orders", []byte("[]")))
		data, err := backend.ReadAll(context.Background(), "orders")
		require.NoError(t, err)
		assert.Equal(t, "[]", string(data))
		assert.NoError(t, closeFn())
	}

	_, closeFn, err := cfg.OpenBackend(context.Background(), "tape", logger)
	assert.Error(t, err)
	assert.NotNil(t, closeFn)
}
