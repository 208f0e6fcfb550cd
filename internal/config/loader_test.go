package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := NewLoader("", zaptest.NewLogger(t)).Load()
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.Queue.Concurrency)
	assert.Equal(t, 3, cfg.Queue.MaxRetries)
	assert.Equal(t, 100, cfg.Queue.RateLimit)
	assert.Equal(t, time.Minute, cfg.Queue.RateWindow)
	assert.Equal(t, time.Hour, cfg.Pipeline.CacheTTL)
	assert.Equal(t, 1_000_000.0, cfg.Venues.MaxAmount)
	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Address())
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("queue:\n  concurrency: 4\n  base_backoff: 250ms\nlog_level: debug\n"), 0o600))
	t.Setenv("ORDERFLOW_QUEUE_MAX_RETRIES", "5")

	cfg, err := NewLoader(path, zaptest.NewLogger(t)).Load()
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Queue.Concurrency)
	assert.Equal(t, 250*time.Millisecond, cfg.Queue.BaseBackoff)
	assert.Equal(t, 5, cfg.Queue.MaxRetries)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("database:\n  driver: mysql\n"), 0o600))

	_, err := NewLoader(path, zaptest.NewLogger(t)).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation failed")
}

func TestWatchReloadsLogLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: info\n"), 0o600))

	loader := NewLoader(path, zaptest.NewLogger(t))
	_, err := loader.Load()
	require.NoError(t, err)

	changed := make(chan string, 1)
	loader.OnChange(func(c *Config) {
		select {
		case changed <- c.LogLevel:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, loader.Watch(ctx))

	require.NoError(t, os.WriteFile(path, []byte("log_level: warn\n"), 0o600))

	select {
	case level := <-changed:
		assert.Equal(t, "warn", level)
		assert.Equal(t, "warn", loader.Current().LogLevel)
	case <-time.After(5 * time.Second):
		t.Fatal("config change not observed")
	}
}
