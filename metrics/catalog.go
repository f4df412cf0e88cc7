package metrics

import (
	"sort"
	"strings"

	"github.com/saiset-co/sai-cache/types"
)

// Descriptor documents one instrument: what it measures, how it is labelled
// and, for histograms, the buckets used when the caller passes none.
type Descriptor struct {
	Name    string
	Kind    types.MetricKind
	Help    string
	Labels  []string
	Buckets []float64
}

// Store round trips are sub-millisecond on a healthy Redis; the upper buckets
// catch the operation timeout firing.
var storeLatencyBuckets = []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 3}

var jobDurationBuckets = []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60}

var catalog = map[string]Descriptor{}

func init() {
	for _, d := range []Descriptor{
		{Name: types.MetricCacheLookups, Kind: types.MetricKindCounter, Labels: []string{"result"},
			Help: "Cache probes by outcome: hit, negative_hit, miss or degraded."},
		{Name: types.MetricCacheLoaderCalls, Kind: types.MetricKindCounter, Labels: []string{"variant"},
			Help: "Source-of-truth loader invocations by orchestration variant."},
		{Name: types.MetricCacheLock, Kind: types.MetricKindCounter, Labels: []string{"result"},
			Help: "Rebuild lock outcomes seen by get-or-load with lock."},
		{Name: types.MetricCachePopulateFailures, Kind: types.MetricKindCounter,
			Help: "Cache writes that failed after a successful load."},
		{Name: types.MetricStoreOperations, Kind: types.MetricKindCounter, Labels: []string{"operation", "result"},
			Help: "Store client calls by operation and result."},
		{Name: types.MetricStoreOperationDuration, Kind: types.MetricKindHistogram, Labels: []string{"operation"},
			Help: "Store client call latency in seconds.", Buckets: storeLatencyBuckets},
		{Name: types.MetricLockOperations, Kind: types.MetricKindCounter, Labels: []string{"result"},
			Help: "Distributed lock acquire and release outcomes."},
		{Name: types.MetricRankingStoreFailures, Kind: types.MetricKindCounter, Labels: []string{"operation"},
			Help: "Leaderboard operations that degraded on a store failure."},
		{Name: types.MetricRankingMembers, Kind: types.MetricKindCounter, Labels: []string{"operation"},
			Help: "Leaderboard members written or removed."},
		{Name: types.MetricCronJobExecutions, Kind: types.MetricKindCounter, Labels: []string{"job_name", "result"},
			Help: "Maintenance job runs by job and result."},
		{Name: types.MetricCronJobDuration, Kind: types.MetricKindHistogram, Labels: []string{"job_name"},
			Help: "Maintenance job run time in seconds.", Buckets: jobDurationBuckets},
		{Name: types.MetricCronActiveJobs, Kind: types.MetricKindGauge,
			Help: "Maintenance jobs currently registered."},
		{Name: types.MetricCronSchedulerRunning, Kind: types.MetricKindGauge,
			Help: "1 while the maintenance scheduler is running."},
	} {
		catalog[d.Name] = d
	}
}

// Describe returns the catalog entry for name. Unknown names get a generic
// descriptor so embedding applications can emit their own instruments.
func Describe(name string) (Descriptor, bool) {
	d, ok := catalog[name]
	if !ok {
		return Descriptor{Name: name, Help: strings.ReplaceAll(name, "_", " ")}, false
	}
	return d, true
}

// Catalog lists every known instrument ordered by name.
func Catalog() []Descriptor {
	out := make([]Descriptor, 0, len(catalog))
	for _, d := range catalog {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func bucketsFor(name string, buckets []float64) []float64 {
	if len(buckets) > 0 {
		return buckets
	}
	if d, ok := catalog[name]; ok && len(d.Buckets) > 0 {
		return d.Buckets
	}
	return storeLatencyBuckets
}

func labelNames(labels map[string]string) []string {
	names := make([]string, 0, len(labels))
	for name := range labels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func sortSnapshot(values []types.MetricValue) {
	sort.Slice(values, func(i, j int) bool {
		if values[i].Name != values[j].Name {
			return values[i].Name < values[j].Name
		}
		return labelKey(values[i].Labels) < labelKey(values[j].Labels)
	})
}

func labelKey(labels map[string]string) string {
	var b strings.Builder
	for _, name := range labelNames(labels) {
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(labels[name])
		b.WriteByte(',')
	}
	return b.String()
}
