package config

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/saiset-co/sai-cache/keyspace"
	"github.com/saiset-co/sai-cache/types"
)

type Loader struct {
	validator *validator.Validate
}

func NewLoader() *Loader {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterStructValidation(validateServiceConfig, types.ServiceConfig{})

	return &Loader{validator: v}
}

// validateServiceConfig checks the rules that span sections.
func validateServiceConfig(sl validator.StructLevel) {
	config := sl.Current().Interface().(types.ServiceConfig)

	if c := config.Cache; c != nil {
		if c.NegativeTTL > c.DefaultTTL {
			sl.ReportError(c.NegativeTTL, "Cache.NegativeTTL", "negative_ttl", "ltefield", "default_ttl")
		}
		// Total lock wait stays below the lock TTL.
		if config.Lock != nil && time.Duration(c.LockRetries)*c.LockBackoff >= config.Lock.TTL {
			sl.ReportError(c.LockBackoff, "Cache.LockBackoff", "lock_backoff", "lock_wait_lt_ttl", config.Lock.TTL.String())
		}
	}

	if r := config.Ranking; r != nil {
		seen := make(map[string]struct{}, len(r.Leaderboards))
		for i, board := range r.Leaderboards {
			field := fmt.Sprintf("Ranking.Leaderboards[%d]", i)
			if _, dup := seen[board.Name]; dup {
				sl.ReportError(board.Name, field+".Name", "name", "unique", "")
			}
			seen[board.Name] = struct{}{}

			if board.KeepTopN == 0 && board.DecayPrefix == "" {
				sl.ReportError(board.Name, field, "leaderboard", "maintenance", "keep_top_n|decay_prefix")
			}
		}
	}
}

// LoadFromFile reads the YAML file at configPath over Defaults and validates
// the result. The raw document is returned as well for path lookups.
func (l *Loader) LoadFromFile(ctx context.Context, configPath string) (*types.ServiceConfig, map[string]interface{}, error) {
	if configPath == "" {
		return nil, nil, types.ErrConfigNotFound
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, nil, types.Errorf(types.ErrConfigNotFound, "file: %s", configPath)
	}

	data, err := l.ReadFileWithTimeout(ctx, configPath)
	if err != nil {
		return nil, nil, types.WrapError(err, "failed to read config file")
	}

	return l.Parse(data)
}

// Parse decodes data over Defaults and validates it.
func (l *Loader) Parse(data []byte) (*types.ServiceConfig, map[string]interface{}, error) {
	config := l.Defaults()

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, nil, types.Errorf(types.ErrConfigParseFailed, "%v", err)
	}

	raw := make(map[string]interface{})
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, nil, types.Errorf(types.ErrConfigParseFailed, "%v", err)
	}

	if err := l.Validate(config); err != nil {
		return nil, nil, err
	}

	return config, raw, nil
}

func (l *Loader) Validate(config *types.ServiceConfig) error {
	if config == nil {
		return types.ErrConfigIsNil
	}
	if err := l.validator.Struct(config); err != nil {
		return types.Errorf(types.ErrConfigValidateFailed, "%v", err)
	}
	return nil
}

func (l *Loader) ReadFileWithTimeout(ctx context.Context, filepath string) ([]byte, error) {
	type result struct {
		data []byte
		err  error
	}

	resultChan := make(chan result, 1)

	go func() {
		data, err := os.ReadFile(filepath)
		resultChan <- result{data: data, err: err}
	}()

	select {
	case res := <-resultChan:
		return res.data, res.err
	case <-ctx.Done():
		return nil, types.WrapError(ctx.Err(), "file read timeout")
	}
}

func (l *Loader) Defaults() *types.ServiceConfig {
	return &types.ServiceConfig{
		Name:    "sai-cache",
		Version: "dev",
		Logger: &types.LoggerConfig{
			Level: "info",
		},
		Store: &types.StoreConfig{
			Type:             "redis",
			OperationTimeout: 3 * time.Second,
		},
		Cache: &types.CacheConfig{
			DefaultTTL:  keyspace.DefaultTTL,
			NegativeTTL: keyspace.NegativeTTL,
			JitterRange: keyspace.JitterRange,
			LockRetries: 3,
			LockBackoff: 100 * time.Millisecond,
			Compression: &types.CompressionConfig{
				Enabled:   false,
				Threshold: 1024,
				Quality:   4,
			},
		},
		Lock: &types.LockConfig{
			TTL: keyspace.LockTTL,
		},
		Ranking: &types.RankingConfig{
			DefaultTTL:     keyspace.RankingTTL,
			EmptyResultTTL: keyspace.EmptyResultTTL,
		},
		Metrics: &types.MetricsConfig{
			Enabled: false,
			Type:    "memory",
		},
		Cron: &types.CronConfig{
			Enabled:  false,
			Timezone: "UTC",
		},
		Health: &types.HealthConfig{
			Enabled: true,
			Timeout: 5 * time.Second,
		},
	}
}
