package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-cache/logger"
	"github.com/saiset-co/sai-cache/metrics"
	"github.com/saiset-co/sai-cache/types"
)

type staticConfig struct {
	types.ConfigManager
	cfg *types.ServiceConfig
}

func (s staticConfig) GetConfig() *types.ServiceConfig { return s.cfg }

func TestStoreManagerInstrumentsOperations(t *testing.T) {
	log := logger.NewZapWrapper(zap.NewNop())
	m := metrics.NewMemoryMetrics(context.Background(), log)

	store, err := NewStoreManager(context.Background(), staticConfig{cfg: &types.ServiceConfig{
		Store: &types.StoreConfig{Type: "memory", Config: map[string]interface{}{"max_entries": 100}},
	}}, log, m)
	require.NoError(t, err)
	require.NoError(t, store.Start())
	defer store.Stop()

	ctx := context.Background()
	require.NoError(t, store.Set(ctx, "k", []byte("v"), time.Minute))
	_, found, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)
	_, found, err = store.Get(ctx, "absent")
	require.NoError(t, err)
	assert.False(t, found)

	assert.Equal(t, float64(1), m.Counter("store_operations_total", map[string]string{"operation": "set", "result": "success"}).Get())
	assert.Equal(t, float64(1), m.Counter("store_operations_total", map[string]string{"operation": "get", "result": "hit"}).Get())
	assert.Equal(t, float64(1), m.Counter("store_operations_total", map[string]string{"operation": "get", "result": "miss"}).Get())
	assert.Equal(t, uint64(2), m.Histogram("store_operation_duration_seconds", nil, map[string]string{"operation": "get"}).GetCount())
}

func TestStoreManagerCustomAndUnknownTypes(t *testing.T) {
	log := logger.NewZapWrapper(zap.NewNop())

	RegisterStore("scratch", func(config *types.StoreConfig) (types.StoreManager, error) {
		return NewMemoryStore(context.Background(), log, config)
	})

	store, err := NewStoreManager(context.Background(), staticConfig{cfg: &types.ServiceConfig{
		Store: &types.StoreConfig{Type: "scratch"},
	}}, log, nil)
	require.NoError(t, err)
	require.NoError(t, store.Start())
	require.NoError(t, store.Ping(context.Background()))
	require.NoError(t, store.Stop())

	_, err = NewStoreManager(context.Background(), staticConfig{cfg: &types.ServiceConfig{
		Store: &types.StoreConfig{Type: "etcd"},
	}}, log, nil)
	assert.ErrorIs(t, err, types.ErrStoreTypeUnknown)

	_, err = NewStoreManager(context.Background(), staticConfig{cfg: &types.ServiceConfig{}}, log, nil)
	assert.ErrorIs(t, err, types.ErrConfigIsNil)
}
