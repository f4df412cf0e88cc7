package types

import (
	"time"
)

// Names of the instruments emitted by the cache layer. Backends look these up
// in the metrics catalog for help text and default buckets.
const (
	MetricCacheLookups           = "cache_lookups_total"
	MetricCacheLoaderCalls       = "cache_loader_calls_total"
	MetricCacheLock              = "cache_lock_total"
	MetricCachePopulateFailures  = "cache_populate_failures_total"
	MetricStoreOperations        = "store_operations_total"
	MetricStoreOperationDuration = "store_operation_duration_seconds"
	MetricLockOperations         = "lock_operations_total"
	MetricRankingStoreFailures   = "ranking_store_failures_total"
	MetricRankingMembers         = "ranking_members_total"
	MetricCronJobExecutions      = "cron_job_executions_total"
	MetricCronJobDuration        = "cron_job_duration_seconds"
	MetricCronActiveJobs         = "cron_active_jobs"
	MetricCronSchedulerRunning   = "cron_scheduler_running"
)

type MetricKind string

const (
	MetricKindCounter   MetricKind = "counter"
	MetricKindGauge     MetricKind = "gauge"
	MetricKindHistogram MetricKind = "histogram"
)

type MetricsManager interface {
	LifecycleManager
	Counter(name string, labels map[string]string) Counter
	Gauge(name string, labels map[string]string) Gauge
	// Histogram falls back to the catalog buckets for name when buckets is nil.
	Histogram(name string, buckets []float64, labels map[string]string) Histogram
	Snapshot() ([]MetricValue, error)
}

type Counter interface {
	Inc()
	Add(value float64)
	Get() float64
}

type Gauge interface {
	Set(value float64)
	Inc()
	Dec()
	Add(value float64)
	Sub(value float64)
	Get() float64
}

type Histogram interface {
	Observe(value float64)
	ObserveDuration(start time.Time)
	GetCount() uint64
	GetSum() float64
}

type MetricsManagerCreator func(config *MetricsConfig) (MetricsManager, error)

// MetricValue is one labelled series as read back from a backend. Histograms
// report their sample sum in Value and their sample count in Count.
type MetricValue struct {
	Name   string            `json:"name"`
	Kind   MetricKind        `json:"kind"`
	Value  float64           `json:"value"`
	Count  uint64            `json:"count,omitempty"`
	Labels map[string]string `json:"labels,omitempty"`
}
