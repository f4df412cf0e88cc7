// Package sai holds the component container the service wires. There is no
// package-level instance: every consumer receives the container explicitly.
package sai

import (
	"sync/atomic"

	"github.com/saiset-co/sai-cache/cache"
	"github.com/saiset-co/sai-cache/lock"
	"github.com/saiset-co/sai-cache/logger"
	"github.com/saiset-co/sai-cache/metrics"
	"github.com/saiset-co/sai-cache/ranking"
	"github.com/saiset-co/sai-cache/repository"
	"github.com/saiset-co/sai-cache/store"
	"github.com/saiset-co/sai-cache/types"
)

type Container struct {
	config       atomic.Pointer[types.ConfigManager]
	logger       atomic.Pointer[types.LoggerManager]
	metrics      atomic.Pointer[types.MetricsManager]
	health       atomic.Pointer[types.HealthManager]
	store        atomic.Pointer[types.StoreManager]
	cron         atomic.Pointer[types.CronManager]
	lock         atomic.Pointer[lock.DistributedLock]
	orchestrator atomic.Pointer[cache.Orchestrator]
	ranking      atomic.Pointer[ranking.Engine]
	repositories atomic.Pointer[repository.Set]
}

func NewContainer() *Container {
	return &Container{}
}

func RegisterStore(storeName string, creator types.StoreCreator) {
	store.RegisterStore(storeName, creator)
}

func RegisterMetricsManager(metricsManagerName string, creator types.MetricsManagerCreator) {
	metrics.RegisterMetricsManager(metricsManagerName, creator)
}

func RegisterLogger(loggerName string, creator types.LoggerCreator) {
	logger.RegisterLogger(loggerName, creator)
}

func load[T any](ptr *atomic.Pointer[T], name string) (T, error) {
	if value := ptr.Load(); value != nil {
		return *value, nil
	}
	var zero T
	return zero, types.Errorf(types.ErrComponentNotFound, "%s not initialized", name)
}

func loadPtr[T any](ptr *atomic.Pointer[T], name string) (*T, error) {
	if value := ptr.Load(); value != nil {
		return value, nil
	}
	return nil, types.Errorf(types.ErrComponentNotFound, "%s not initialized", name)
}

func (c *Container) Config() (types.ConfigManager, error) { return load(&c.config, "config") }
func (c *Container) Logger() (types.LoggerManager, error) { return load(&c.logger, "logger") }
func (c *Container) Metrics() (types.MetricsManager, error) {
	return load(&c.metrics, "metrics")
}
func (c *Container) Health() (types.HealthManager, error) { return load(&c.health, "health") }
func (c *Container) Store() (types.StoreManager, error)   { return load(&c.store, "store") }

// Cron fails with ErrCronIsDisabled when scheduling is switched off.
func (c *Container) Cron() (types.CronManager, error) {
	if value := c.cron.Load(); value != nil {
		return *value, nil
	}
	return nil, types.ErrCronIsDisabled
}

func (c *Container) Lock() (*lock.DistributedLock, error) { return loadPtr(&c.lock, "lock") }
func (c *Container) Orchestrator() (*cache.Orchestrator, error) {
	return loadPtr(&c.orchestrator, "cache orchestrator")
}
func (c *Container) Ranking() (*ranking.Engine, error) { return loadPtr(&c.ranking, "ranking engine") }
func (c *Container) Repositories() (*repository.Set, error) {
	return loadPtr(&c.repositories, "repositories")
}

func (c *Container) SetConfig(config types.ConfigManager)         { c.config.Store(&config) }
func (c *Container) SetLogger(logger types.LoggerManager)         { c.logger.Store(&logger) }
func (c *Container) SetMetrics(metrics types.MetricsManager)      { c.metrics.Store(&metrics) }
func (c *Container) SetHealth(health types.HealthManager)         { c.health.Store(&health) }
func (c *Container) SetStore(store types.StoreManager)            { c.store.Store(&store) }
func (c *Container) SetCron(cron types.CronManager)               { c.cron.Store(&cron) }
func (c *Container) SetLock(l *lock.DistributedLock)              { c.lock.Store(l) }
func (c *Container) SetOrchestrator(o *cache.Orchestrator)        { c.orchestrator.Store(o) }
func (c *Container) SetRanking(engine *ranking.Engine)            { c.ranking.Store(engine) }
func (c *Container) SetRepositories(repositories *repository.Set) { c.repositories.Store(repositories) }
