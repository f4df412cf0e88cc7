package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiset-co/sai-cache/types"
)

const sample = `
name: feed-cache
version: 1.2.0
logger:
  level: debug
store:
  type: redis
  operation_timeout: 2s
  config:
    address: 127.0.0.1:6379
    pool_size: 20
cache:
  default_ttl: 30m
  negative_ttl: 45s
  lock_retries: 5
  compression:
    enabled: true
    threshold: 2048
ranking:
  leaderboards:
    - name: post:rank:hot
      keep_top_n: 500
      trim_schedule: "@every 10m"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadMergesDefaults(t *testing.T) {
	cm, err := NewConfigurationManager(context.Background(), writeConfig(t, sample))
	require.NoError(t, err)

	cfg := cm.GetConfig()
	assert.Equal(t, "feed-cache", cfg.Name)
	assert.Equal(t, 2*time.Second, cfg.Store.OperationTimeout)
	assert.Equal(t, 30*time.Minute, cfg.Cache.DefaultTTL)
	assert.Equal(t, 45*time.Second, cfg.Cache.NegativeTTL)
	assert.Equal(t, 5, cfg.Cache.LockRetries)
	assert.Equal(t, 100*time.Millisecond, cfg.Cache.LockBackoff)
	assert.Equal(t, 5*time.Second, cfg.Lock.TTL)
	assert.True(t, cfg.Cache.Compression.Enabled)
	assert.Equal(t, 2048, cfg.Cache.Compression.Threshold)
	require.Len(t, cfg.Ranking.Leaderboards, 1)
	assert.Equal(t, int64(500), cfg.Ranking.Leaderboards[0].KeepTopN)
}

func TestPathLookups(t *testing.T) {
	cm, err := NewConfigurationManager(context.Background(), writeConfig(t, sample))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:6379", cm.GetValue("store.config.address", ""))
	assert.Equal(t, "fallback", cm.GetValue("store.config.missing", "fallback"))

	var store struct {
		Address  string `yaml:"address"`
		PoolSize int    `yaml:"pool_size"`
	}
	require.NoError(t, cm.GetAs("store.config", &store))
	assert.Equal(t, 20, store.PoolSize)

	err = cm.GetAs("nope", &store)
	assert.ErrorIs(t, err, types.ErrConfigInvalidPath)

	paths, err := cm.GetAllPaths()
	require.NoError(t, err)
	assert.Contains(t, paths, "store.config.pool_size")
	assert.Contains(t, paths, "cache.compression.threshold")
}

func TestValidationRejectsBadValues(t *testing.T) {
	_, err := NewConfigurationManager(context.Background(), writeConfig(t, `
name: x
version: "1"
cache:
  lock_retries: 50
`))
	assert.ErrorIs(t, err, types.ErrConfigValidateFailed)

	_, err = NewConfigurationManager(context.Background(), writeConfig(t, "name: [unclosed"))
	assert.ErrorIs(t, err, types.ErrConfigParseFailed)
}

func TestValidationSpansSections(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		field string
	}{
		{
			name:  "negative ttl longer than default",
			body:  "cache:\n  default_ttl: 1m\n  negative_ttl: 5m\n",
			field: "Cache.NegativeTTL",
		},
		{
			name:  "lock wait outlives lock",
			body:  "cache:\n  lock_retries: 5\n  lock_backoff: 1s\nlock:\n  ttl: 2s\n",
			field: "Cache.LockBackoff",
		},
		{
			name:  "duplicate leaderboard",
			body:  "ranking:\n  leaderboards:\n    - {name: hot, keep_top_n: 5, trim_schedule: \"@hourly\"}\n    - {name: hot, keep_top_n: 9, trim_schedule: \"@daily\"}\n",
			field: "Leaderboards[1].Name",
		},
		{
			name:  "leaderboard without maintenance",
			body:  "ranking:\n  leaderboards:\n    - {name: idle}\n",
			field: "Leaderboards[0]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := NewLoader().Parse([]byte(tt.body))
			require.ErrorIs(t, err, types.ErrConfigValidateFailed)
			assert.Contains(t, err.Error(), tt.field)
		})
	}

	_, _, err := NewLoader().Parse([]byte("cache:\n  lock_retries: 3\n  lock_backoff: 1s\nlock:\n  ttl: 4s\n"))
	assert.NoError(t, err)
}

func TestMissingFile(t *testing.T) {
	_, err := NewConfigurationManager(context.Background(), filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorIs(t, err, types.ErrConfigNotFound)
}

func TestStaticManager(t *testing.T) {
	cfg := NewLoader().Defaults()
	cfg.Store.Type = "memory"

	cm, err := NewStaticManager(context.Background(), cfg)
	require.NoError(t, err)
	assert.Same(t, cfg, cm.GetConfig())
	assert.Equal(t, "memory", cm.GetValue("store.type", ""))
	assert.Equal(t, "1h0m0s", cm.GetValue("cache.default_ttl", ""))

	cfg.Lock.TTL = time.Minute
	_, err = NewStaticManager(context.Background(), cfg)
	assert.ErrorIs(t, err, types.ErrConfigValidateFailed)
}

func TestLifecycle(t *testing.T) {
	cm, err := NewStaticManager(context.Background(), NewLoader().Defaults())
	require.NoError(t, err)

	require.NoError(t, cm.Start())
	assert.True(t, cm.IsRunning())
	assert.ErrorIs(t, cm.Start(), types.ErrAlreadyRunning)
	require.NoError(t, cm.Stop())
	assert.ErrorIs(t, cm.Stop(), types.ErrNotRunning)
}
