package metrics

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-cache/types"
)

type ManagerState int32

const (
	ManagerStateStopped ManagerState = iota
	ManagerStateStarting
	ManagerStateRunning
	ManagerStateStopping
)

const (
	TypeMemory     = "memory"
	TypePrometheus = "prometheus"
)

// Manager fronts the configured metrics backend. With metrics disabled, or
// while the backend is not running, it hands out no-op instruments so the
// cache layer never branches on configuration.
type Manager struct {
	ctx             context.Context
	cancel          context.CancelFunc
	logger          types.Logger
	backend         types.MetricsManager
	backendType     string
	state           atomic.Value
	shutdownTimeout time.Duration
}

var customMetricsCreators = sync.Map{}

// RegisterMetricsManager makes a backend selectable by metrics.type.
func RegisterMetricsManager(metricsManagerName string, creator types.MetricsManagerCreator) {
	customMetricsCreators.Store(metricsManagerName, creator)
}

func NewManager(ctx context.Context, config types.ConfigManager, logger types.Logger) (*Manager, error) {
	managerCtx, cancel := context.WithCancel(ctx)

	manager := &Manager{
		ctx:             managerCtx,
		cancel:          cancel,
		logger:          logger,
		shutdownTimeout: 10 * time.Second,
	}
	manager.state.Store(ManagerStateStopped)

	metricsConfig := config.GetConfig().Metrics
	if metricsConfig == nil || !metricsConfig.Enabled {
		logger.Info("Metrics disabled, using no-op instruments")
		return manager, nil
	}

	backend, err := manager.createBackend(metricsConfig)
	if err != nil {
		cancel()
		return nil, types.WrapError(err, "failed to initialize metrics manager")
	}

	manager.backend = backend
	manager.backendType = metricsConfig.Type
	logger.Info("Metrics manager initialized",
		zap.String("type", metricsConfig.Type),
		zap.Int("catalog", len(catalog)))

	return manager, nil
}

func (w *Manager) createBackend(metricsConfig *types.MetricsConfig) (types.MetricsManager, error) {
	switch metricsConfig.Type {
	case TypeMemory:
		return NewMemoryMetrics(w.ctx, w.logger), nil
	case TypePrometheus:
		return NewPrometheusMetrics(w.ctx, w.logger, metricsConfig)
	}

	creator, exists := customMetricsCreators.Load(metricsConfig.Type)
	if !exists {
		return nil, types.Errorf(types.ErrMetricsTypeUnknown, "type: %s", metricsConfig.Type)
	}
	return creator.(types.MetricsManagerCreator)(metricsConfig)
}

func (w *Manager) Start() error {
	if !w.transitionState(ManagerStateStopped, ManagerStateStarting) {
		return types.ErrAlreadyRunning
	}

	if w.backend != nil {
		if err := w.backend.Start(); err != nil {
			w.setState(ManagerStateStopped)
			return types.Errorf(types.ErrMetricsStartFailed, "%s: %v", w.backendType, err)
		}
	}

	w.setState(ManagerStateRunning)
	w.logger.Info("Metrics manager started", zap.String("type", w.backendType))
	return nil
}

func (w *Manager) Stop() error {
	if !w.transitionState(ManagerStateRunning, ManagerStateStopping) {
		return types.ErrNotRunning
	}

	defer func() {
		w.setState(ManagerStateStopped)
		w.cancel()
	}()

	if w.backend == nil {
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- w.backend.Stop() }()

	select {
	case err := <-done:
		if err != nil {
			w.logger.Error("Error during metrics manager shutdown", zap.Error(err))
			return nil
		}
		w.logger.Info("Metrics manager stopped gracefully")
	case <-time.After(w.shutdownTimeout):
		w.logger.Warn("Metrics manager stop timeout", zap.Duration("timeout", w.shutdownTimeout))
	}

	return nil
}

func (w *Manager) IsRunning() bool {
	return w.getState() == ManagerStateRunning
}

func (w *Manager) getState() ManagerState {
	return w.state.Load().(ManagerState)
}

func (w *Manager) setState(newState ManagerState) bool {
	currentState := w.getState()
	return w.state.CompareAndSwap(currentState, newState)
}

func (w *Manager) transitionState(from, to ManagerState) bool {
	return w.state.CompareAndSwap(from, to)
}

func (w *Manager) live() bool {
	return w.backend != nil && w.IsRunning()
}

func (w *Manager) Counter(name string, labels map[string]string) types.Counter {
	if w.live() {
		return w.backend.Counter(name, labels)
	}
	return &emptyCounter{}
}

func (w *Manager) Gauge(name string, labels map[string]string) types.Gauge {
	if w.live() {
		return w.backend.Gauge(name, labels)
	}
	return &emptyGauge{}
}

func (w *Manager) Histogram(name string, buckets []float64, labels map[string]string) types.Histogram {
	if w.live() {
		return w.backend.Histogram(name, buckets, labels)
	}
	return &emptyHistogram{}
}

// Snapshot reads every series back from the backend; empty while disabled.
func (w *Manager) Snapshot() ([]types.MetricValue, error) {
	if w.live() {
		return w.backend.Snapshot()
	}
	return nil, nil
}

// Handler returns the scrape handler when the backend is Prometheus, nil otherwise.
func (w *Manager) Handler() http.Handler {
	if p, ok := w.backend.(*PrometheusMetrics); ok {
		return p.Handler()
	}
	return nil
}

type emptyCounter struct{}

func (c *emptyCounter) Inc()          {}
func (c *emptyCounter) Add(_ float64) {}
func (c *emptyCounter) Get() float64  { return 0 }

type emptyGauge struct{}

func (g *emptyGauge) Set(_ float64) {}
func (g *emptyGauge) Inc()          {}
func (g *emptyGauge) Dec()          {}
func (g *emptyGauge) Add(_ float64) {}
func (g *emptyGauge) Sub(_ float64) {}
func (g *emptyGauge) Get() float64  { return 0 }

type emptyHistogram struct{}

func (h *emptyHistogram) Observe(_ float64)           {}
func (h *emptyHistogram) ObserveDuration(_ time.Time) {}
func (h *emptyHistogram) GetCount() uint64            { return 0 }
func (h *emptyHistogram) GetSum() float64             { return 0 }
