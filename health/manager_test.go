package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-cache/logger"
	"github.com/saiset-co/sai-cache/store"
	"github.com/saiset-co/sai-cache/types"
)

type staticConfig struct {
	types.ConfigManager
	cfg *types.ServiceConfig
}

func (s staticConfig) GetConfig() *types.ServiceConfig { return s.cfg }

func newManager(t *testing.T, timeout time.Duration) *Manager {
	t.Helper()

	cfg := &types.ServiceConfig{
		Name:    "feed-cache",
		Version: "1.0.0",
		Store:   &types.StoreConfig{Type: "memory"},
		Health:  &types.HealthConfig{Enabled: true, Timeout: timeout},
	}
	manager, err := NewManager(context.Background(), staticConfig{cfg: cfg}, logger.NewZapWrapper(zap.NewNop()))
	require.NoError(t, err)
	return manager
}

func TestCheckAggregates(t *testing.T) {
	manager := newManager(t, time.Second)

	manager.RegisterChecker("ok", func(context.Context) types.HealthCheck {
		return types.HealthCheck{Status: types.StatusHealthy}
	})
	report := manager.Check(context.Background())
	assert.Equal(t, types.StatusHealthy, report.Status)
	assert.Equal(t, "feed-cache", report.Service.Name)
	assert.NotEmpty(t, report.Service.Build)

	manager.RegisterChecker("maybe", func(context.Context) types.HealthCheck {
		return types.HealthCheck{Status: types.StatusUnknown}
	})
	assert.Equal(t, types.StatusUnknown, manager.Check(context.Background()).Status)

	manager.RegisterChecker("broken", func(context.Context) types.HealthCheck {
		panic("checker bug")
	})
	report = manager.Check(context.Background())
	assert.Equal(t, types.StatusUnhealthy, report.Status)
	assert.Equal(t, types.HealthSummary{Total: 3, Healthy: 1, Unhealthy: 1, Unknown: 1}, report.Summary)
	assert.Equal(t, "memory", report.Service.Store)
	assert.Contains(t, report.Checks["broken"].Message, "checker bug")
	assert.Equal(t, "broken", manager.LastResults()["broken"].Name)
}

func TestCheckTimeout(t *testing.T) {
	manager := newManager(t, 20*time.Millisecond)

	manager.RegisterChecker("slow", func(ctx context.Context) types.HealthCheck {
		time.Sleep(time.Second)
		return types.HealthCheck{Status: types.StatusHealthy}
	})

	report := manager.Check(context.Background())
	assert.Equal(t, types.StatusUnhealthy, report.Status)
	assert.Equal(t, types.ErrHealthCheckTimeout.Error(), report.Checks["slow"].Message)
}

func TestStoreChecker(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(s.Close)

	client, err := store.NewRedisStore(context.Background(), logger.NewZapWrapper(zap.NewNop()), &types.StoreConfig{
		Type:   "redis",
		Config: &store.RedisConfig{Address: s.Addr()},
	})
	require.NoError(t, err)

	check := StoreChecker(client)
	healthy := check(context.Background())
	assert.Equal(t, types.StatusHealthy, healthy.Status)
	assert.Contains(t, healthy.Details, "latency")

	s.Close()
	result := check(context.Background())
	assert.Equal(t, types.StatusDegraded, result.Status)
	assert.Equal(t, "loader", result.Details["mode"])
	assert.NotEmpty(t, result.Message)
}

func TestDegradedStoreDoesNotMaskUnhealthy(t *testing.T) {
	manager := newManager(t, time.Second)

	manager.RegisterChecker("store", func(context.Context) types.HealthCheck {
		return types.HealthCheck{Status: types.StatusDegraded}
	})
	manager.RegisterChecker("maybe", func(context.Context) types.HealthCheck {
		return types.HealthCheck{Status: types.StatusUnknown}
	})
	report := manager.Check(context.Background())
	assert.Equal(t, types.StatusDegraded, report.Status)
	assert.Equal(t, 1, report.Summary.Degraded)

	manager.RegisterChecker("cron", LifecycleChecker(&component{}))
	assert.Equal(t, types.StatusUnhealthy, manager.Check(context.Background()).Status)
}

type component struct{ running bool }

func (c *component) Start() error    { c.running = true; return nil }
func (c *component) Stop() error     { return errors.New("unused") }
func (c *component) IsRunning() bool { return c.running }

func TestLifecycleCheckerAndManagerLifecycle(t *testing.T) {
	manager := newManager(t, time.Second)
	c := &component{}
	check := LifecycleChecker(c)

	assert.Equal(t, types.StatusUnhealthy, check(context.Background()).Status)
	require.NoError(t, c.Start())
	assert.Equal(t, types.StatusHealthy, check(context.Background()).Status)

	require.NoError(t, manager.Start())
	assert.ErrorIs(t, manager.Start(), types.ErrAlreadyRunning)
	require.NoError(t, manager.Stop())
	assert.ErrorIs(t, manager.Stop(), types.ErrNotRunning)
}
