// Package service is the composition root: it builds every component from one
// configuration, in dependency order, and owns their lifecycle.
package service

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-cache/cache"
	"github.com/saiset-co/sai-cache/config"
	"github.com/saiset-co/sai-cache/cron"
	"github.com/saiset-co/sai-cache/health"
	"github.com/saiset-co/sai-cache/lock"
	"github.com/saiset-co/sai-cache/logger"
	"github.com/saiset-co/sai-cache/metrics"
	"github.com/saiset-co/sai-cache/ranking"
	"github.com/saiset-co/sai-cache/repository"
	"github.com/saiset-co/sai-cache/sai"
	"github.com/saiset-co/sai-cache/store"
	"github.com/saiset-co/sai-cache/types"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

type component struct {
	name    string
	manager types.LifecycleManager
}

type Service struct {
	ctx        context.Context
	cancel     context.CancelFunc
	container  *sai.Container
	logger     types.Logger
	components []component
	state      atomic.Value
}

// NewService loads the YAML file at configPath and wires the service from it.
func NewService(ctx context.Context, configPath string) (*Service, error) {
	if configPath == "" {
		return nil, types.ErrConfigInvalidPath
	}

	configManager, err := config.NewConfigurationManager(ctx, configPath)
	if err != nil {
		return nil, types.WrapError(err, "failed to register config manager")
	}

	return build(ctx, configManager)
}

// New wires the service from an in-memory configuration.
func New(ctx context.Context, cfg *types.ServiceConfig) (*Service, error) {
	configManager, err := config.NewStaticManager(ctx, cfg)
	if err != nil {
		return nil, types.WrapError(err, "failed to register config manager")
	}

	return build(ctx, configManager)
}

func build(ctx context.Context, configManager *config.ConfigurationManager) (*Service, error) {
	serviceCtx, cancel := context.WithCancel(ctx)

	s := &Service{
		ctx:       serviceCtx,
		cancel:    cancel,
		container: sai.NewContainer(),
	}
	s.state.Store(StateStopped)

	if err := s.registerProviders(serviceCtx, configManager); err != nil {
		cancel()
		s.closeStore()
		return nil, err
	}

	return s, nil
}

func (s *Service) registerProviders(ctx context.Context, configManager *config.ConfigurationManager) error {
	cfg := configManager.GetConfig()

	s.container.SetConfig(configManager)
	s.add("config", configManager)

	loggerManager, err := logger.NewManager(ctx, configManager)
	if err != nil {
		return types.WrapError(err, "failed to register logger")
	}
	s.logger = loggerManager
	s.container.SetLogger(loggerManager)
	s.add("logger", loggerManager)

	metricsManager, err := metrics.NewManager(ctx, configManager, loggerManager.Component("metrics"))
	if err != nil {
		return types.WrapError(err, "failed to register metrics manager")
	}
	s.container.SetMetrics(metricsManager)
	s.add("metrics", metricsManager)

	var healthManager *health.Manager
	if cfg.Health != nil && cfg.Health.Enabled {
		healthManager, err = health.NewManager(ctx, configManager, loggerManager.Component("health"))
		if err != nil {
			return types.WrapError(err, "failed to register health manager")
		}
		s.container.SetHealth(healthManager)
	}

	storeManager, err := store.NewStoreManager(ctx, configManager, loggerManager.Component("store"), metricsManager)
	if err != nil {
		return types.WrapError(err, "failed to register store")
	}
	s.container.SetStore(storeManager)
	s.add("store", storeManager)

	if healthManager != nil {
		healthManager.RegisterChecker("store", health.StoreChecker(storeManager))
		s.add("health", healthManager)
	}

	locker := lock.NewDistributedLock(storeManager, loggerManager.Component("lock"), metricsManager, cfg.Lock)
	s.container.SetLock(locker)

	orchestrator, err := cache.NewOrchestrator(storeManager, locker, loggerManager.Component("cache"), metricsManager, cfg.Cache)
	if err != nil {
		return types.WrapError(err, "failed to register cache orchestrator")
	}
	s.container.SetOrchestrator(orchestrator)

	engine := ranking.NewEngine(storeManager, loggerManager.Component("ranking"), metricsManager, cfg.Ranking)
	s.container.SetRanking(engine)

	s.container.SetRepositories(repository.NewSet(orchestrator, engine, loggerManager.Component("repository")))

	if cfg.Cron != nil && cfg.Cron.Enabled {
		cronManager, err := cron.NewManager(ctx, configManager, loggerManager.Component("cron"), metricsManager)
		if err != nil {
			return types.WrapError(err, "failed to register cron manager")
		}

		if err := ranking.NewMaintenance(engine, loggerManager.Component("ranking"), cfg.Ranking).Register(cronManager); err != nil {
			return types.WrapError(err, "failed to register ranking maintenance")
		}

		s.container.SetCron(cronManager)
		s.add("cron", cronManager)
	}

	loggerManager.Info("Service wired",
		zap.String("name", cfg.Name),
		zap.String("version", cfg.Version),
		zap.String("store", cfg.Store.Type))

	return nil
}

func (s *Service) add(name string, manager types.LifecycleManager) {
	s.components = append(s.components, component{name: name, manager: manager})
}

// Start starts every component in wiring order. On failure the components
// already started are stopped again and the store is closed; build a new
// Service to retry.
func (s *Service) Start() error {
	if !s.transitionState(StateStopped, StateStarting) {
		return types.ErrAlreadyRunning
	}

	for i, c := range s.components {
		if err := c.manager.Start(); err != nil {
			s.logger.Error("Failed to start component", zap.String("component", c.name), zap.Error(err))
			_ = s.stopComponents(s.components[:i])
			s.closeStore()
			s.setState(StateStopped)
			return types.Errorf(types.ErrComponentStartFailed, "%s: %v", c.name, err)
		}
	}

	s.setState(StateRunning)
	s.logger.Info("Service started successfully")
	return nil
}

// Stop stops every component in reverse wiring order and reports all failures.
func (s *Service) Stop() error {
	if !s.transitionState(StateRunning, StateStopping) {
		return types.ErrNotRunning
	}

	defer func() {
		s.setState(StateStopped)
		s.cancel()
	}()

	s.logger.Info("Stopping service components...")
	return s.stopComponents(s.components)
}

// Run starts the service and blocks until ctx is done or the process receives
// SIGINT or SIGTERM, then stops it.
func (s *Service) Run(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signals)

	select {
	case sig := <-signals:
		s.logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
	case <-ctx.Done():
		s.logger.Info("Service context cancelled")
	case <-s.ctx.Done():
	}

	return s.Stop()
}

func (s *Service) stopComponents(components []component) error {
	var errs []error

	for i := len(components) - 1; i >= 0; i-- {
		c := components[i]
		if !c.manager.IsRunning() {
			continue
		}

		start := time.Now()
		if err := c.manager.Stop(); err != nil {
			s.logger.Error("Failed to stop component", zap.String("component", c.name), zap.Error(err))
			errs = append(errs, types.Errorf(types.ErrComponentStopFailed, "%s: %v", c.name, err))
			continue
		}
		s.logger.Debug("Component stopped", zap.String("component", c.name), zap.Duration("took", time.Since(start)))
	}

	return errors.Join(errs...)
}

// closeStore releases the store connection when wiring or startup fails half way.
func (s *Service) closeStore() {
	storeManager, err := s.container.Store()
	if err != nil {
		return
	}
	if err := storeManager.Close(); err != nil && s.logger != nil {
		s.logger.Warn("Failed to close store", zap.Error(err))
	}
}

func (s *Service) Container() *sai.Container {
	return s.container
}

func (s *Service) Context() context.Context {
	return s.ctx
}

func (s *Service) IsRunning() bool {
	return s.getState() == StateRunning
}

func (s *Service) getState() State {
	return s.state.Load().(State)
}

func (s *Service) setState(newState State) bool {
	currentState := s.getState()
	return s.state.CompareAndSwap(currentState, newState)
}

func (s *Service) transitionState(from, to State) bool {
	return s.state.CompareAndSwap(from, to)
}
