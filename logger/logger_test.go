package logger

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/saiset-co/sai-cache/types"
)

type staticConfig struct {
	types.ConfigManager
	cfg *types.ServiceConfig
}

func (s staticConfig) GetConfig() *types.ServiceConfig { return s.cfg }

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, parseLogLevel("DEBUG"))
	assert.Equal(t, zapcore.WarnLevel, parseLogLevel("warning"))
	assert.Equal(t, zapcore.ErrorLevel, parseLogLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, parseLogLevel("nonsense"))
}

func TestNewDefaultLoggerWritesJSONToFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "logs", "cache.log")

	l, err := NewDefaultLogger(&types.LoggerConfig{
		Level: "info",
		Config: map[string]interface{}{
			"format": FormatJSON,
			"output": "file",
			"file":   file,
			"fields": map[string]interface{}{"service": "sai-cache"},
		},
	})
	require.NoError(t, err)

	l.Info("store degraded", zap.String("key", "post:detail:1"))
	require.NoError(t, l.(*ZapWrapper).Sync())

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), `"key":"post:detail:1"`))
	assert.True(t, strings.Contains(string(data), `"service":"sai-cache"`))
}

func TestEnsureLogDirRejectsEmptyPath(t *testing.T) {
	assert.ErrorIs(t, ensureLogDir(""), types.ErrLogFileIsEmpty)
}

func TestManagerLifecycle(t *testing.T) {
	m, err := NewManager(context.Background(), staticConfig{cfg: &types.ServiceConfig{
		Logger: &types.LoggerConfig{Level: "error", Config: map[string]interface{}{"output": "stderr"}},
	}})
	require.NoError(t, err)

	require.NoError(t, m.Start())
	assert.True(t, m.IsRunning())
	assert.ErrorIs(t, m.Start(), types.ErrAlreadyRunning)

	require.NoError(t, m.Stop())
	assert.False(t, m.IsRunning())
}

func TestManagerRejectsUnknownType(t *testing.T) {
	_, err := NewManager(context.Background(), staticConfig{cfg: &types.ServiceConfig{
		Logger: &types.LoggerConfig{Type: "syslog", Level: "info"},
	}})
	assert.ErrorIs(t, err, types.ErrLoggerTypeUnknown)
}

func TestComponentTagsEntries(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	root := NewZapWrapper(zap.New(core))

	Component(root, "cache").Warn("Cache lock unavailable, degrading to loader", zap.String("key", "post:detail:1"))

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, map[string]interface{}{"component": "cache", "key": "post:detail:1"}, entries[0].ContextMap())
}

func TestCustomLoggerType(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	RegisterLogger("observed", func(config *types.LoggerConfig) (types.Logger, error) {
		return NewZapWrapper(zap.New(core)), nil
	})

	m, err := NewManager(context.Background(), staticConfig{cfg: &types.ServiceConfig{
		Logger: &types.LoggerConfig{Type: "observed", Level: "info"},
	}})
	require.NoError(t, err)

	m.Component("ranking").Info("Leaderboard trimmed")
	m.Debug("dropped")

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "ranking", logs.All()[0].ContextMap()["component"])
}

func TestSamplingDropsRepeats(t *testing.T) {
	file := filepath.Join(t.TempDir(), "sampled.log")

	l, err := NewDefaultLogger(&types.LoggerConfig{
		Level: "info",
		Config: map[string]interface{}{
			"format":   FormatJSON,
			"output":   OutputFile,
			"file":     file,
			"sampling": map[string]interface{}{"initial": 2, "thereafter": 0},
		},
	})
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		l.Warn("Cache probe failed, degrading to loader")
	}
	require.NoError(t, l.(*ZapWrapper).Sync())

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(data), "Cache probe failed"))
}
