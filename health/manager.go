package health

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/saiset-co/sai-cache/types"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

type Manager struct {
	ctx          context.Context
	cancel       context.CancelFunc
	config       types.ConfigManager
	logger       types.Logger
	checkers     map[string]types.HealthChecker
	results      map[string]types.HealthCheck
	startTime    time.Time
	build        string
	mu           sync.RWMutex
	state        atomic.Value
	checkTimeout time.Duration
}

func NewManager(ctx context.Context, config types.ConfigManager, logger types.Logger) (*Manager, error) {
	managerCtx, cancel := context.WithCancel(ctx)

	manager := &Manager{
		ctx:          managerCtx,
		cancel:       cancel,
		config:       config,
		logger:       logger,
		checkers:     make(map[string]types.HealthChecker),
		results:      make(map[string]types.HealthCheck),
		startTime:    time.Now(),
		build:        getBuildInfo(),
		checkTimeout: 5 * time.Second,
	}

	if healthConfig := config.GetConfig().Health; healthConfig != nil && healthConfig.Timeout > 0 {
		manager.checkTimeout = healthConfig.Timeout
	}

	manager.state.Store(StateStopped)

	return manager, nil
}

func (hm *Manager) RegisterChecker(name string, checker types.HealthChecker) {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	hm.checkers[name] = checker
}

// Check runs every registered checker concurrently and reports the worst
// status among them.
func (hm *Manager) Check(ctx context.Context) types.HealthReport {
	hm.mu.RLock()
	checkers := make(map[string]types.HealthChecker, len(hm.checkers))
	for name, checker := range hm.checkers {
		checkers[name] = checker
	}
	hm.mu.RUnlock()

	checkCtx, cancel := context.WithTimeout(ctx, hm.checkTimeout)
	defer cancel()

	var g errgroup.Group
	results := make(map[string]types.HealthCheck, len(checkers))
	var resultMu sync.Mutex

	for name, checker := range checkers {
		name, checker := name, checker
		g.Go(func() error {
			result := hm.executeCheck(checkCtx, name, checker)

			resultMu.Lock()
			results[name] = result
			resultMu.Unlock()
			return nil
		})
	}

	_ = g.Wait()

	hm.mu.Lock()
	hm.results = results
	hm.mu.Unlock()

	report := hm.buildReport(results)
	if report.Status != types.StatusHealthy {
		hm.logger.Warn("Health check not healthy",
			zap.String("status", string(report.Status)),
			zap.Int("degraded", report.Summary.Degraded),
			zap.Int("unhealthy", report.Summary.Unhealthy))
	}
	return report
}

// LastResults returns the results of the most recent Check.
func (hm *Manager) LastResults() map[string]types.HealthCheck {
	hm.mu.RLock()
	defer hm.mu.RUnlock()

	results := make(map[string]types.HealthCheck, len(hm.results))
	for name, result := range hm.results {
		results[name] = result
	}
	return results
}

func (hm *Manager) Start() error {
	if !hm.transitionState(StateStopped, StateStarting) {
		return types.ErrAlreadyRunning
	}

	hm.startTime = time.Now()
	hm.setState(StateRunning)

	hm.logger.Info("Health manager started", zap.String("build", hm.build))
	return nil
}

func (hm *Manager) Stop() error {
	if !hm.transitionState(StateRunning, StateStopping) {
		return types.ErrNotRunning
	}

	defer func() {
		hm.setState(StateStopped)
		hm.cancel()
	}()

	hm.mu.Lock()
	hm.checkers = make(map[string]types.HealthChecker)
	hm.mu.Unlock()

	hm.logger.Info("Health manager stopped gracefully")
	return nil
}

func (hm *Manager) IsRunning() bool {
	return hm.getState() == StateRunning
}

func (hm *Manager) getState() State {
	return hm.state.Load().(State)
}

func (hm *Manager) setState(newState State) bool {
	currentState := hm.getState()
	return hm.state.CompareAndSwap(currentState, newState)
}

func (hm *Manager) transitionState(from, to State) bool {
	return hm.state.CompareAndSwap(from, to)
}

func (hm *Manager) executeCheck(ctx context.Context, name string, checker types.HealthChecker) types.HealthCheck {
	start := time.Now()

	resultChan := make(chan types.HealthCheck, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultChan <- types.HealthCheck{
					Name:      name,
					Status:    types.StatusUnhealthy,
					Message:   types.Errorf(types.ErrHealthCheckFailed, "panic: %v", r).Error(),
					LastCheck: time.Now(),
					Duration:  time.Since(start),
				}
			}
		}()

		result := checker(ctx)
		result.Name = name
		result.LastCheck = time.Now()
		result.Duration = time.Since(start)
		resultChan <- result
	}()

	select {
	case result := <-resultChan:
		return result
	case <-hm.ctx.Done():
		return types.HealthCheck{
			Name:      name,
			Status:    types.StatusUnhealthy,
			Message:   "Health manager shutting down",
			LastCheck: time.Now(),
			Duration:  time.Since(start),
		}
	case <-ctx.Done():
		return types.HealthCheck{
			Name:      name,
			Status:    types.StatusUnhealthy,
			Message:   types.ErrHealthCheckTimeout.Error(),
			LastCheck: time.Now(),
			Duration:  time.Since(start),
		}
	}
}

func (hm *Manager) buildReport(results map[string]types.HealthCheck) types.HealthReport {
	summary := types.HealthSummary{Total: len(results)}

	overallStatus := types.StatusHealthy
	for _, result := range results {
		switch result.Status {
		case types.StatusHealthy:
			summary.Healthy++
		case types.StatusDegraded:
			summary.Degraded++
		case types.StatusUnhealthy:
			summary.Unhealthy++
		default:
			summary.Unknown++
		}

		if result.Status.Severity() > overallStatus.Severity() {
			overallStatus = result.Status
		}
	}

	service := types.ServiceInfo{Build: hm.build}
	if config := hm.config.GetConfig(); config != nil {
		service.Name = config.Name
		service.Version = config.Version
		if config.Store != nil {
			service.Store = config.Store.Type
		}
	}

	return types.HealthReport{
		Status:    overallStatus,
		Timestamp: time.Now(),
		Uptime:    time.Since(hm.startTime),
		Service:   service,
		Checks:    results,
		Summary:   summary,
	}
}

// SlowPingThreshold marks a reachable store as degraded.
const SlowPingThreshold = 250 * time.Millisecond

// StoreChecker pings the store. An unreachable or slow store reports degraded:
// reads keep working by falling through to the source of truth.
func StoreChecker(store types.StoreClient) types.HealthChecker {
	return func(ctx context.Context) types.HealthCheck {
		start := time.Now()
		err := store.Ping(ctx)
		latency := time.Since(start)

		details := map[string]interface{}{"latency": latency.String()}
		switch {
		case err != nil:
			details["mode"] = "loader"
			return types.HealthCheck{Status: types.StatusDegraded, Message: err.Error(), Details: details}
		case latency > SlowPingThreshold:
			return types.HealthCheck{Status: types.StatusDegraded, Message: "store ping slow", Details: details}
		}
		return types.HealthCheck{Status: types.StatusHealthy, Details: details}
	}
}

// LifecycleChecker reports a component healthy while it is running.
func LifecycleChecker(component types.LifecycleManager) types.HealthChecker {
	return func(context.Context) types.HealthCheck {
		if !component.IsRunning() {
			return types.HealthCheck{Status: types.StatusUnhealthy, Message: "not running"}
		}
		return types.HealthCheck{Status: types.StatusHealthy}
	}
}
