package cache

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-cache/types"
)

// GetOrLoad returns the cached value for key, or calls loader on a miss and
// caches the outcome. A negative entry short-circuits to found=false without
// calling loader. Store failures degrade to loader. Loader errors are
// returned unchanged.
func GetOrLoad[T any](ctx context.Context, o *Orchestrator, key string, ttl time.Duration, loader types.Loader[T]) (T, bool, error) {
	return getOrLoad(ctx, o, key, ttl, loader, "single")
}

func getOrLoad[T any](ctx context.Context, o *Orchestrator, key string, ttl time.Duration, loader types.Loader[T], variant string) (T, bool, error) {
	var zero T

	if key == "" {
		return zero, false, types.ErrCacheKeyEmpty
	}
	if loader == nil {
		return zero, false, types.ErrCacheLoaderIsNil
	}

	value, state := probe[T](ctx, o, key)
	o.recordLookup(state)

	switch state {
	case lookupHit:
		return value, true, nil
	case lookupNegative:
		return zero, false, nil
	case lookupFailed:
		o.recordLoad(variant)
		return loader(ctx)
	}

	o.recordLoad(variant)
	value, found, err := loader(ctx)
	if err != nil {
		return zero, false, err
	}

	populate(ctx, o, key, value, found, ttl)
	return value, found, nil
}

// GetOrLoadWithLock behaves like GetOrLoad but lets only the holder of a
// per-key distributed lock call loader. Waiters back off and re-probe. When
// the retry budget runs out, or the lock cannot be reached at all, the call
// falls back to loader without writing the cache.
func GetOrLoadWithLock[T any](ctx context.Context, o *Orchestrator, key string, ttl time.Duration, loader types.Loader[T]) (T, bool, error) {
	var zero T

	if key == "" {
		return zero, false, types.ErrCacheKeyEmpty
	}
	if loader == nil {
		return zero, false, types.ErrCacheLoaderIsNil
	}

	value, state := probe[T](ctx, o, key)
	o.recordLookup(state)

	switch state {
	case lookupHit:
		return value, true, nil
	case lookupNegative:
		return zero, false, nil
	case lookupFailed:
		o.recordLoad("degraded")
		return loader(ctx)
	}

	lockKey := "cache:" + key

	for attempt := 1; attempt <= o.lockRetries; attempt++ {
		token, err := o.locker.TryLock(ctx, lockKey)
		if err == nil {
			o.recordLock("acquired")
			return loadUnderLock(ctx, o, key, lockKey, token, ttl, loader)
		}

		if !errors.Is(err, types.ErrLockNotAcquired) {
			o.recordLock("unavailable")
			o.logger.Warn("Cache lock unavailable, degrading to loader", zap.String("key", key), zap.Error(err))
			break
		}

		o.recordLock("contended")
		if !o.backoff(ctx) {
			o.logger.Debug("Cache lock wait cancelled", zap.String("key", key), zap.Error(ctx.Err()))
			break
		}

		value, state = probe[T](ctx, o, key)
		if state == lookupHit {
			o.recordLookup(state)
			return value, true, nil
		}
		if state == lookupNegative {
			o.recordLookup(state)
			return zero, false, nil
		}
		if state == lookupFailed {
			o.recordLookup(state)
			break
		}

		if attempt == o.lockRetries {
			o.recordLock("exhausted")
			o.logger.Warn("Cache lock retries exhausted, degrading to loader",
				zap.String("key", key), zap.Int("retries", o.lockRetries))
		}
	}

	o.recordLoad("degraded")
	return loader(ctx)
}

func loadUnderLock[T any](ctx context.Context, o *Orchestrator, key, lockKey string, token types.LockToken, ttl time.Duration, loader types.Loader[T]) (T, bool, error) {
	var zero T

	defer func() {
		if _, err := o.locker.Unlock(context.WithoutCancel(ctx), lockKey, token); err != nil {
			o.logger.Warn("Cache lock release failed", zap.String("key", key), zap.Error(err))
		}
	}()

	value, state := probe[T](ctx, o, key)
	switch state {
	case lookupHit:
		o.recordLookup(state)
		return value, true, nil
	case lookupNegative:
		o.recordLookup(state)
		return zero, false, nil
	case lookupFailed:
		o.recordLookup(state)
		o.recordLoad("degraded")
		return loader(ctx)
	}

	o.recordLoad("locked")
	value, found, err := loader(ctx)
	if err != nil {
		return zero, false, err
	}

	populate(ctx, o, key, value, found, ttl)
	return value, found, nil
}
