package service

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiset-co/sai-cache/cache"
	"github.com/saiset-co/sai-cache/config"
	"github.com/saiset-co/sai-cache/cron"
	"github.com/saiset-co/sai-cache/keyspace"
	"github.com/saiset-co/sai-cache/types"
)

func testConfig(addr string) *types.ServiceConfig {
	cfg := config.NewLoader().Defaults()
	cfg.Logger.Level = "error"
	cfg.Store.Config = map[string]interface{}{"address": addr}
	cfg.Metrics = &types.MetricsConfig{Enabled: true, Type: "memory"}
	cfg.Cron = &types.CronConfig{Enabled: true, Timezone: "UTC"}
	cfg.Ranking.Leaderboards = []types.LeaderboardConfig{{
		Name:         keyspace.PostHotRank(),
		KeepTopN:     2,
		TrimSchedule: "@every 1h",
	}}
	return cfg
}

func TestServiceWiresAndRuns(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(s.Close)

	svc, err := New(context.Background(), testConfig(s.Addr()))
	require.NoError(t, err)

	require.NoError(t, svc.Start())
	assert.True(t, svc.IsRunning())
	assert.ErrorIs(t, svc.Start(), types.ErrAlreadyRunning)

	ctx := context.Background()
	c := svc.Container()

	orchestrator, err := c.Orchestrator()
	require.NoError(t, err)
	value, found, err := cache.GetOrLoad(ctx, orchestrator, "greeting", time.Minute, func(context.Context) (string, bool, error) {
		return "hello", true, nil
	})
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "hello", value)
	assert.True(t, s.Exists("greeting"))

	repositories, err := c.Repositories()
	require.NoError(t, err)
	_, applied, ok := repositories.Likes.Like(ctx, 1, keyspace.TargetPost, 9)
	assert.True(t, ok)
	assert.True(t, applied)

	engine, err := c.Ranking()
	require.NoError(t, err)
	for i := 1; i <= 5; i++ {
		require.NoError(t, engine.Upsert(ctx, keyspace.PostHotRank(), strconv.Itoa(i), float64(i)))
	}

	scheduler, err := c.Cron()
	require.NoError(t, err)
	require.Len(t, scheduler.Jobs(), 1)
	require.NoError(t, scheduler.(*cron.Manager).Run("ranking:trim:"+keyspace.PostHotRank()))

	size, err := engine.Size(ctx, keyspace.PostHotRank())
	require.NoError(t, err)
	assert.Equal(t, int64(2), size)

	healthManager, err := c.Health()
	require.NoError(t, err)
	report := healthManager.Check(ctx)
	assert.Equal(t, types.StatusHealthy, report.Status)
	assert.Contains(t, report.Checks, "store")

	metricsManager, err := c.Metrics()
	require.NoError(t, err)
	assert.Positive(t, metricsManager.Counter("cache_lookups_total", map[string]string{"result": "miss"}).Get())

	require.NoError(t, svc.Stop())
	assert.False(t, svc.IsRunning())
	assert.ErrorIs(t, svc.Stop(), types.ErrNotRunning)
}

func TestServiceFromFile(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(s.Close)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: feed-cache
version: 0.1.0
logger:
  level: error
store:
  type: redis
  config:
    address: `+s.Addr()+`
cache:
  default_ttl: 10m
health:
  enabled: false
`), 0o600))

	svc, err := NewService(context.Background(), path)
	require.NoError(t, err)

	_, err = svc.Container().Cron()
	assert.ErrorIs(t, err, types.ErrCronIsDisabled)
	_, err = svc.Container().Health()
	assert.ErrorIs(t, err, types.ErrComponentNotFound)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	require.Eventually(t, svc.IsRunning, time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("service did not stop")
	}
	assert.False(t, svc.IsRunning())
}

func TestServiceRejectsBadInput(t *testing.T) {
	_, err := NewService(context.Background(), "")
	assert.ErrorIs(t, err, types.ErrConfigInvalidPath)

	cfg := config.NewLoader().Defaults()
	cfg.Store.Type = "cassandra"
	_, err = New(context.Background(), cfg)
	assert.ErrorIs(t, err, types.ErrStoreTypeUnknown)
}

func TestFailedWiringReleasesStore(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(s.Close)

	cfg := testConfig(s.Addr())
	cfg.Ranking.Leaderboards[0].TrimSchedule = "not a schedule"

	_, err = New(context.Background(), cfg)
	require.Error(t, err)
	assert.Eventually(t, func() bool { return s.CurrentConnectionCount() == 0 }, time.Second, 10*time.Millisecond)
}
