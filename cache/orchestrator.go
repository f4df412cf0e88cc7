// Package cache implements cache-aside reads over a types.StoreClient:
// negative caching, TTL jitter, lock-guarded population, batch loads and
// degradation to the loader whenever the store is unavailable.
package cache

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-cache/keyspace"
	"github.com/saiset-co/sai-cache/types"
)

type lookup int

const (
	lookupMiss lookup = iota
	lookupHit
	lookupNegative
	lookupFailed
)

func (l lookup) String() string {
	switch l {
	case lookupHit:
		return "hit"
	case lookupNegative:
		return "negative_hit"
	case lookupFailed:
		return "degraded"
	default:
		return "miss"
	}
}

// Orchestrator holds only immutable settings and collaborators. All request
// state lives on the caller's stack.
type Orchestrator struct {
	store   types.StoreClient
	locker  types.Locker
	logger  types.Logger
	metrics types.MetricsManager
	codec   *Codec

	defaultTTL        time.Duration
	negativeTTL       time.Duration
	jitterRange       time.Duration
	lockRetries       int
	lockBackoff       time.Duration
	allowKeysFallback bool
}

func NewOrchestrator(store types.StoreClient, locker types.Locker, logger types.Logger, metrics types.MetricsManager, config *types.CacheConfig) (*Orchestrator, error) {
	if store == nil || locker == nil {
		return nil, types.Errorf(types.ErrCacheInvalidConfig, "store and locker are required")
	}

	o := &Orchestrator{
		store:       store,
		locker:      locker,
		logger:      logger,
		metrics:     metrics,
		codec:       NewCodec(nil),
		defaultTTL:  keyspace.DefaultTTL,
		negativeTTL: keyspace.NegativeTTL,
		jitterRange: keyspace.JitterRange,
		lockRetries: 3,
		lockBackoff: 100 * time.Millisecond,
	}

	if config != nil {
		if config.DefaultTTL > 0 {
			o.defaultTTL = config.DefaultTTL
		}
		if config.NegativeTTL > 0 {
			o.negativeTTL = config.NegativeTTL
		}
		if config.JitterRange > 0 {
			o.jitterRange = config.JitterRange
		}
		if config.LockRetries > 0 {
			o.lockRetries = config.LockRetries
		}
		if config.LockBackoff > 0 {
			o.lockBackoff = config.LockBackoff
		}
		o.allowKeysFallback = config.AllowKeysFallback
		o.codec = NewCodec(config.Compression)
	}

	logger.Info("Cache orchestrator initialized",
		zap.Duration("default_ttl", o.defaultTTL),
		zap.Duration("negative_ttl", o.negativeTTL),
		zap.Duration("jitter_range", o.jitterRange),
		zap.Int("lock_retries", o.lockRetries),
		zap.Duration("lock_backoff", o.lockBackoff))

	return o, nil
}

func (o *Orchestrator) Store() types.StoreClient {
	return o.store
}

// positiveTTL adds whole-second jitter in [0, jitterRange).
func (o *Orchestrator) positiveTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		ttl = o.defaultTTL
	}

	seconds := int64(o.jitterRange / time.Second)
	if seconds <= 0 {
		return ttl
	}
	return ttl + time.Duration(rand.Int63n(seconds))*time.Second
}

func (o *Orchestrator) negativeTTLFor(ttl time.Duration) time.Duration {
	if ttl > 0 && ttl < o.negativeTTL {
		return ttl
	}
	return o.negativeTTL
}

func probe[T any](ctx context.Context, o *Orchestrator, key string) (T, lookup) {
	var zero T

	raw, found, err := o.store.Get(ctx, key)
	if err != nil {
		o.logger.Warn("Cache probe failed, degrading to loader",
			zap.String("key", key), zap.String("operation", "get"), zap.Error(err))
		return zero, lookupFailed
	}
	if !found {
		return zero, lookupMiss
	}
	if IsNegative(raw) {
		return zero, lookupNegative
	}

	value, err := decode[T](raw)
	if err != nil {
		o.logger.Warn("Dropping undecodable cache entry", zap.String("key", key), zap.Error(err))
		if _, delErr := o.store.Delete(ctx, key); delErr != nil {
			o.logger.Warn("Failed to drop undecodable cache entry", zap.String("key", key), zap.Error(delErr))
		}
		return zero, lookupMiss
	}
	return value, lookupHit
}

func populate[T any](ctx context.Context, o *Orchestrator, key string, value T, found bool, ttl time.Duration) {
	var (
		payload []byte
		expiry  time.Duration
		err     error
	)

	if found {
		payload, err = o.codec.Encode(value)
		if err != nil {
			o.recordPopulateFailure()
			o.logger.Error("Failed to encode cache value", zap.String("key", key), zap.Error(err))
			return
		}
		expiry = o.positiveTTL(ttl)
	} else {
		payload = NegativeSentinel
		expiry = o.negativeTTLFor(ttl)
	}

	if err = o.store.Set(ctx, key, payload, expiry); err != nil {
		o.recordPopulateFailure()
		o.logger.Warn("Cache populate failed",
			zap.String("key", key), zap.String("operation", "set"), zap.Error(err))
		return
	}

	o.logger.Debug("Cache populated",
		zap.String("key", key), zap.Bool("negative", !found), zap.Duration("ttl", expiry))
}

func (o *Orchestrator) recordLookup(state lookup) {
	if o.metrics == nil {
		return
	}
	o.metrics.Counter(types.MetricCacheLookups, map[string]string{"result": state.String()}).Inc()
}

func (o *Orchestrator) recordLoad(variant string) {
	if o.metrics == nil {
		return
	}
	o.metrics.Counter(types.MetricCacheLoaderCalls, map[string]string{"variant": variant}).Inc()
}

func (o *Orchestrator) recordLock(result string) {
	if o.metrics == nil {
		return
	}
	o.metrics.Counter(types.MetricCacheLock, map[string]string{"result": result}).Inc()
}

func (o *Orchestrator) recordPopulateFailure() {
	if o.metrics == nil {
		return
	}
	o.metrics.Counter(types.MetricCachePopulateFailures, nil).Inc()
}

// backoff sleeps between lock attempts and reports false when ctx ends first.
func (o *Orchestrator) backoff(ctx context.Context) bool {
	timer := time.NewTimer(o.lockBackoff)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
