package metrics

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-cache/types"
	"github.com/saiset-co/sai-cache/utils"
)

type PrometheusConfig struct {
	Namespace       string            `yaml:"namespace" json:"namespace"`
	Subsystem       string            `yaml:"subsystem" json:"subsystem"`
	Labels          map[string]string `yaml:"labels" json:"labels"`
	EnableGoMetrics bool              `yaml:"enable_go_metrics" json:"enable_go_metrics"`
}

// PrometheusMetrics registers every instrument on a private registry. Label
// names are fixed the first time a name is seen; catalog entries fix them up
// front.
type PrometheusMetrics struct {
	ctx        context.Context
	logger     types.Logger
	config     *PrometheusConfig
	registry   *prometheus.Registry
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
	mu         sync.Mutex
	running    int32
}

func NewPrometheusMetrics(ctx context.Context, logger types.Logger, config *types.MetricsConfig) (*PrometheusMetrics, error) {
	promConfig := &PrometheusConfig{
		Namespace:       "sai_cache",
		Labels:          make(map[string]string),
		EnableGoMetrics: true,
	}

	if config.Config != nil {
		if err := utils.UnmarshalConfig(config.Config, promConfig); err != nil {
			return nil, fmt.Errorf("%w: %w", types.ErrMetricsConfigInvalid, err)
		}
	}

	if promConfig.Labels == nil {
		promConfig.Labels = make(map[string]string)
	}
	for name, value := range config.Labels {
		if _, exists := promConfig.Labels[name]; !exists {
			promConfig.Labels[name] = value
		}
	}

	registry := prometheus.NewRegistry()
	if promConfig.EnableGoMetrics {
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	logger.Info("Prometheus metrics initialized",
		zap.String("namespace", promConfig.Namespace),
		zap.String("subsystem", promConfig.Subsystem),
		zap.Bool("go_metrics", promConfig.EnableGoMetrics))

	return &PrometheusMetrics{
		ctx:        ctx,
		logger:     logger,
		config:     promConfig,
		registry:   registry,
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}, nil
}

func (p *PrometheusMetrics) Start() error {
	if !atomic.CompareAndSwapInt32(&p.running, 0, 1) {
		return types.ErrAlreadyRunning
	}
	p.logger.Info("Prometheus metrics started")
	return nil
}

func (p *PrometheusMetrics) Stop() error {
	if !atomic.CompareAndSwapInt32(&p.running, 1, 0) {
		return types.ErrNotRunning
	}
	p.logger.Info("Prometheus metrics stopped")
	return nil
}

func (p *PrometheusMetrics) IsRunning() bool {
	return atomic.LoadInt32(&p.running) == 1
}

func (p *PrometheusMetrics) opts(name string, labels map[string]string) (prometheus.Opts, []string) {
	d, known := Describe(name)
	names := labelNames(labels)
	if known && len(d.Labels) > 0 {
		names = d.Labels
	}

	return prometheus.Opts{
		Namespace:   p.config.Namespace,
		Subsystem:   p.config.Subsystem,
		Name:        name,
		Help:        d.Help,
		ConstLabels: p.config.Labels,
	}, names
}

func (p *PrometheusMetrics) register(name string, collector prometheus.Collector) bool {
	if err := p.registry.Register(collector); err != nil {
		p.logger.Error("Failed to register prometheus metric", zap.String("name", name), zap.Error(err))
		return false
	}
	return true
}

func (p *PrometheusMetrics) Counter(name string, labels map[string]string) types.Counter {
	p.mu.Lock()
	defer p.mu.Unlock()

	vec, exists := p.counters[name]
	if !exists {
		opts, names := p.opts(name, labels)
		vec = prometheus.NewCounterVec(prometheus.CounterOpts(opts), names)
		if !p.register(name, vec) {
			return &emptyCounter{}
		}
		p.counters[name] = vec
	}

	counter, err := vec.GetMetricWith(labels)
	if err != nil {
		p.logger.Error("Counter labels do not match", zap.String("name", name), zap.Error(err))
		return &emptyCounter{}
	}
	return &PrometheusCounter{logger: p.logger, counter: counter}
}

func (p *PrometheusMetrics) Gauge(name string, labels map[string]string) types.Gauge {
	p.mu.Lock()
	defer p.mu.Unlock()

	vec, exists := p.gauges[name]
	if !exists {
		opts, names := p.opts(name, labels)
		vec = prometheus.NewGaugeVec(prometheus.GaugeOpts(opts), names)
		if !p.register(name, vec) {
			return &emptyGauge{}
		}
		p.gauges[name] = vec
	}

	gauge, err := vec.GetMetricWith(labels)
	if err != nil {
		p.logger.Error("Gauge labels do not match", zap.String("name", name), zap.Error(err))
		return &emptyGauge{}
	}
	return &PrometheusGauge{logger: p.logger, gauge: gauge}
}

func (p *PrometheusMetrics) Histogram(name string, buckets []float64, labels map[string]string) types.Histogram {
	p.mu.Lock()
	defer p.mu.Unlock()

	vec, exists := p.histograms[name]
	if !exists {
		opts, names := p.opts(name, labels)
		vec = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   opts.Namespace,
			Subsystem:   opts.Subsystem,
			Name:        opts.Name,
			Help:        opts.Help,
			ConstLabels: opts.ConstLabels,
			Buckets:     bucketsFor(name, buckets),
		}, names)
		if !p.register(name, vec) {
			return &emptyHistogram{}
		}
		p.histograms[name] = vec
	}

	observer, err := vec.GetMetricWith(labels)
	if err != nil {
		p.logger.Error("Histogram labels do not match", zap.String("name", name), zap.Error(err))
		return &emptyHistogram{}
	}
	return &PrometheusHistogram{observer: observer}
}

// Snapshot gathers the registry, Go runtime collectors included.
func (p *PrometheusMetrics) Snapshot() ([]types.MetricValue, error) {
	families, err := p.registry.Gather()
	if err != nil {
		p.logger.Error("Failed to gather prometheus metrics", zap.Error(err))
		return nil, err
	}

	var values []types.MetricValue
	for _, family := range families {
		for _, m := range family.GetMetric() {
			value := types.MetricValue{Name: family.GetName(), Labels: make(map[string]string)}
			for _, label := range m.GetLabel() {
				value.Labels[label.GetName()] = label.GetValue()
			}

			switch family.GetType() {
			case dto.MetricType_COUNTER:
				value.Kind = types.MetricKindCounter
				value.Value = m.GetCounter().GetValue()
			case dto.MetricType_GAUGE:
				value.Kind = types.MetricKindGauge
				value.Value = m.GetGauge().GetValue()
			case dto.MetricType_HISTOGRAM:
				value.Kind = types.MetricKindHistogram
				value.Value = m.GetHistogram().GetSampleSum()
				value.Count = m.GetHistogram().GetSampleCount()
			default:
				continue
			}

			values = append(values, value)
		}
	}

	sortSnapshot(values)
	return values, nil
}

// Handler exposes the registry in the Prometheus text format for the embedding application to mount.
func (p *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{ErrorLog: promErrorLog{p.logger}})
}

type promErrorLog struct {
	logger types.Logger
}

func (l promErrorLog) Println(v ...interface{}) {
	l.logger.Error("Prometheus handler error", zap.String("error", fmt.Sprint(v...)))
}

type PrometheusCounter struct {
	logger  types.Logger
	counter prometheus.Counter
}

func (c *PrometheusCounter) Inc()              { c.counter.Inc() }
func (c *PrometheusCounter) Add(value float64) { c.counter.Add(value) }

func (c *PrometheusCounter) Get() float64 {
	metric := &dto.Metric{}
	if err := c.counter.Write(metric); err != nil {
		c.logger.Error("Failed to read counter", zap.Error(err))
	}
	return metric.GetCounter().GetValue()
}

type PrometheusGauge struct {
	logger types.Logger
	gauge  prometheus.Gauge
}

func (g *PrometheusGauge) Set(value float64) { g.gauge.Set(value) }
func (g *PrometheusGauge) Inc()              { g.gauge.Inc() }
func (g *PrometheusGauge) Dec()              { g.gauge.Dec() }
func (g *PrometheusGauge) Add(value float64) { g.gauge.Add(value) }
func (g *PrometheusGauge) Sub(value float64) { g.gauge.Sub(value) }

func (g *PrometheusGauge) Get() float64 {
	metric := &dto.Metric{}
	if err := g.gauge.Write(metric); err != nil {
		g.logger.Error("Failed to read gauge", zap.Error(err))
	}
	return metric.GetGauge().GetValue()
}

type PrometheusHistogram struct {
	observer prometheus.Observer
}

func (h *PrometheusHistogram) Observe(value float64) {
	h.observer.Observe(value)
}

func (h *PrometheusHistogram) ObserveDuration(start time.Time) {
	h.observer.Observe(time.Since(start).Seconds())
}

func (h *PrometheusHistogram) read() *dto.Histogram {
	metric, ok := h.observer.(prometheus.Metric)
	if !ok {
		return nil
	}

	out := &dto.Metric{}
	if err := metric.Write(out); err != nil {
		return nil
	}
	return out.GetHistogram()
}

func (h *PrometheusHistogram) GetCount() uint64 {
	return h.read().GetSampleCount()
}

func (h *PrometheusHistogram) GetSum() float64 {
	return h.read().GetSampleSum()
}
