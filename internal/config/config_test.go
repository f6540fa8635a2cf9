package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 8, cfg.Gateway.Workers)
	assert.Equal(t, 256, cfg.Gateway.QueueSize)
	assert.Equal(t, 10*time.Second, cfg.Gateway.HandlerTimeout)
	assert.Equal(t, time.Minute, cfg.Gateway.IdempotencyBucket)
	assert.Equal(t, 5, cfg.Breaker.FailureThreshold)
	assert.Equal(t, 60*time.Second, cfg.Breaker.Window)
	assert.Equal(t, 30*time.Second, cfg.Breaker.Cooldown)
	assert.Equal(t, 8, cfg.DLQ.MaxAttempts)
	assert.Equal(t, time.Second, cfg.DLQ.BaseBackoff)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Redis.Enabled)
	assert.False(t, cfg.NATS.Enabled)
	assert.False(t, cfg.OpenSearch.Enabled)
	assert.Empty(t, cfg.Database.URL)
}

func TestLoad_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `server:
  port: 9999
gateway:
  workers: 2
breaker:
  failure_threshold: 3
  cooldown: 10s
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, 2, cfg.Gateway.Workers)
	assert.Equal(t, 3, cfg.Breaker.FailureThreshold)
	assert.Equal(t, 10*time.Second, cfg.Breaker.Cooldown)
	// untouched values keep their defaults
	assert.Equal(t, 256, cfg.Gateway.QueueSize)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)
}
