package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err) // explicit path must exist

	cfg, err = Load("")
	require.NoError(t, err)
	require.Equal(t, 9400, cfg.Server.Port)
	require.Equal(t, "localhost:6379", cfg.Redis.Addr())
	require.False(t, cfg.Lock.StrictSiblings)
	require.Equal(t, 30*time.Second, cfg.Lock.DefaultTTL)
	require.Equal(t, 1024, cfg.Lock.MaxPathBytes)
	require.Equal(t, 5*time.Second, cfg.Lock.Retry.AcquireTimeout)
	require.Equal(t, 50*time.Millisecond, cfg.Lock.Retry.BaseDelay)
	require.Equal(t, 16, cfg.Lock.Retry.MaxBackoffFactor)
	require.Equal(t, 3, cfg.Slots.MaxConcurrent)
	require.Equal(t, 5*time.Minute, cfg.Slots.TTL)
	require.EqualValues(t, 0, cfg.Quota.TierLimitBytes)
	require.Equal(t, time.Hour, cfg.Quota.TTL)
	require.True(t, cfg.Metrics.Enabled)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  port: 8080
redis:
  host: redis.internal
  port: 6380
lock:
  strict_siblings: true
  default_ttl: 45s
slots:
  max_concurrent: 5
quota:
  tier_limit_bytes: 1073741824
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, "redis.internal:6380", cfg.Redis.Addr())
	require.True(t, cfg.Lock.StrictSiblings)
	require.Equal(t, 45*time.Second, cfg.Lock.DefaultTTL)
	require.Equal(t, 5, cfg.Slots.MaxConcurrent)
	require.EqualValues(t, 1073741824, cfg.Quota.TierLimitBytes)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("COORD_REDIS_HOST", "override.example")
	t.Setenv("COORD_SLOTS_MAX_CONCURRENT", "7")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "override.example", cfg.Redis.Host)
	require.Equal(t, 7, cfg.Slots.MaxConcurrent)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	cfg := base()
	cfg.Server.Port = 0
	require.Error(t, cfg.Validate())

	cfg = base()
	cfg.Redis.Host = ""
	require.Error(t, cfg.Validate())

	cfg = base()
	cfg.Lock.DefaultTTL = 0
	require.Error(t, cfg.Validate())

	cfg = base()
	cfg.Lock.Retry.MaxBackoffFactor = 0
	require.Error(t, cfg.Validate())

	cfg = base()
	cfg.Slots.MaxConcurrent = 0
	require.Error(t, cfg.Validate())

	cfg = base()
	cfg.Quota.TierLimitBytes = -1
	require.Error(t, cfg.Validate())

	cfg = base()
	cfg.Logging.Level = "verbose"
	require.Error(t, cfg.Validate())
}
