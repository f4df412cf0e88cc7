package types

import (
	"time"
)

type ConfigManager interface {
	Load() error
	GetConfig() *ServiceConfig
	GetValue(path string, defaultValue interface{}) interface{}
	GetAs(path string, target interface{}) error
}

type ServiceConfig struct {
	Name    string         `yaml:"name" json:"name" validate:"required"`
	Version string         `yaml:"version" json:"version" validate:"required"`
	Logger  *LoggerConfig  `yaml:"logger" json:"logger" validate:"required"`
	Store   *StoreConfig   `yaml:"store" json:"store" validate:"required"`
	Cache   *CacheConfig   `yaml:"cache" json:"cache" validate:"required"`
	Lock    *LockConfig    `yaml:"lock" json:"lock" validate:"required"`
	Ranking *RankingConfig `yaml:"ranking" json:"ranking" validate:"required"`
	Metrics *MetricsConfig `yaml:"metrics" json:"metrics"`
	Cron    *CronConfig    `yaml:"cron" json:"cron"`
	Health  *HealthConfig  `yaml:"health" json:"health"`
}

type LoggerConfig struct {
	Type   string      `yaml:"type" json:"type"`
	Level  string      `yaml:"level" json:"level" validate:"required"`
	Config interface{} `yaml:"config" json:"config"`
}

type StoreConfig struct {
	Type             string        `yaml:"type" json:"type" validate:"required"`
	OperationTimeout time.Duration `yaml:"operation_timeout" json:"operation_timeout" validate:"min=0"`
	Config           interface{}   `yaml:"config" json:"config"`
}

type CacheConfig struct {
	DefaultTTL        time.Duration      `yaml:"default_ttl" json:"default_ttl" validate:"gt=0"`
	NegativeTTL       time.Duration      `yaml:"negative_ttl" json:"negative_ttl" validate:"gt=0"`
	JitterRange       time.Duration      `yaml:"jitter_range" json:"jitter_range" validate:"min=0"`
	LockRetries       int                `yaml:"lock_retries" json:"lock_retries" validate:"min=0,max=10"`
	LockBackoff       time.Duration      `yaml:"lock_backoff" json:"lock_backoff" validate:"min=0"`
	AllowKeysFallback bool               `yaml:"allow_keys_fallback" json:"allow_keys_fallback"`
	Compression       *CompressionConfig `yaml:"compression" json:"compression"`
}

type CompressionConfig struct {
	Enabled   bool `yaml:"enabled" json:"enabled"`
	Threshold int  `yaml:"threshold" json:"threshold" validate:"min=0"`
	Quality   int  `yaml:"quality" json:"quality" validate:"min=0,max=11"`
}

type LockConfig struct {
	TTL time.Duration `yaml:"ttl" json:"ttl" validate:"min=1s,max=10s"`
}

type RankingConfig struct {
	DefaultTTL     time.Duration       `yaml:"default_ttl" json:"default_ttl" validate:"min=0"`
	EmptyResultTTL time.Duration       `yaml:"empty_result_ttl" json:"empty_result_ttl" validate:"gt=0"`
	Leaderboards   []LeaderboardConfig `yaml:"leaderboards" json:"leaderboards" validate:"dive"`
}

// LeaderboardConfig describes scheduled maintenance for leaderboards.
// Name targets a single board, DecayPrefix targets every board under a prefix.
type LeaderboardConfig struct {
	Name          string  `yaml:"name" json:"name" validate:"required"`
	KeepTopN      int64   `yaml:"keep_top_n" json:"keep_top_n" validate:"min=0"`
	TrimSchedule  string  `yaml:"trim_schedule" json:"trim_schedule" validate:"required_with=KeepTopN"`
	DecayPrefix   string  `yaml:"decay_prefix" json:"decay_prefix"`
	DecayFactor   float64 `yaml:"decay_factor" json:"decay_factor" validate:"min=0,max=1"`
	DecaySchedule string  `yaml:"decay_schedule" json:"decay_schedule" validate:"required_with=DecayPrefix"`
	MinScore      float64 `yaml:"min_score" json:"min_score"`
}

type MetricsConfig struct {
	Enabled bool              `yaml:"enabled" json:"enabled"`
	Type    string            `yaml:"type" json:"type" validate:"required_if=Enabled true"`
	Config  interface{}       `yaml:"config" json:"config"`
	Labels  map[string]string `yaml:"labels" json:"labels"`
}

type CronConfig struct {
	Enabled    bool          `yaml:"enabled" json:"enabled"`
	Timezone   string        `yaml:"timezone" json:"timezone" validate:"required_if=Enabled true"`
	JobTimeout time.Duration `yaml:"job_timeout" json:"job_timeout" validate:"min=0"`
}

type HealthConfig struct {
	Enabled bool          `yaml:"enabled" json:"enabled"`
	Timeout time.Duration `yaml:"timeout" json:"timeout" validate:"min=0"`
}
