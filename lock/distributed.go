package lock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-cache/keyspace"
	"github.com/saiset-co/sai-cache/types"
)

// DistributedLock is a non-blocking lease on a store key. Retry policy
// belongs to the caller.
type DistributedLock struct {
	store   types.StoreClient
	logger  types.Logger
	metrics types.MetricsManager
	ttl     time.Duration
}

func NewDistributedLock(store types.StoreClient, logger types.Logger, metrics types.MetricsManager, config *types.LockConfig) *DistributedLock {
	ttl := keyspace.LockTTL
	if config != nil && config.TTL > 0 {
		ttl = config.TTL
	}

	return &DistributedLock{
		store:   store,
		logger:  logger,
		metrics: metrics,
		ttl:     ttl,
	}
}

func (l *DistributedLock) TTL() time.Duration {
	return l.ttl
}

// TryLock sets lock:<key> to a fresh token if nobody holds it. It returns
// ErrLockNotAcquired when another holder owns the key. Store failures come
// back as errors matching both ErrLockUnavailable and ErrStoreUnavailable.
func (l *DistributedLock) TryLock(ctx context.Context, key string) (types.LockToken, error) {
	if key == "" {
		return "", types.ErrLockKeyEmpty
	}

	lockKey := keyspace.Lock(key)
	token := types.LockToken(uuid.NewString())

	acquired, err := l.store.SetNX(ctx, lockKey, []byte(token), l.ttl)
	if err != nil {
		l.record("unavailable")
		l.logger.Warn("Lock acquire failed", zap.String("key", lockKey), zap.Error(err))
		return "", types.NewLockError("acquire", lockKey, err)
	}

	if !acquired {
		l.record("contended")
		l.logger.Debug("Lock held elsewhere", zap.String("key", lockKey))
		return "", types.ErrLockNotAcquired
	}

	l.record("acquired")
	l.logger.Debug("Lock acquired", zap.String("key", lockKey), zap.Duration("ttl", l.ttl))
	return token, nil
}

// Unlock deletes lock:<key> only while it still carries token. A holder whose
// lease already expired gets released=false and leaves the new holder alone.
func (l *DistributedLock) Unlock(ctx context.Context, key string, token types.LockToken) (bool, error) {
	if key == "" {
		return false, types.ErrLockKeyEmpty
	}

	lockKey := keyspace.Lock(key)

	released, err := l.store.CompareAndDelete(ctx, lockKey, []byte(token))
	if err != nil {
		l.logger.Warn("Lock release failed", zap.String("key", lockKey), zap.Error(err))
		return false, types.NewLockError("release", lockKey, err)
	}

	if !released {
		l.record("stale_release")
		l.logger.Warn("Lock expired or taken over before release", zap.String("key", lockKey))
		return false, nil
	}

	l.record("released")
	l.logger.Debug("Lock released", zap.String("key", lockKey))
	return true, nil
}

// WithLock runs fn while holding key and releases it on every exit path.
// fn is not called when the lock cannot be taken.
func (l *DistributedLock) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) (err error) {
	token, err := l.TryLock(ctx, key)
	if err != nil {
		return err
	}

	defer func() {
		if _, unlockErr := l.Unlock(context.WithoutCancel(ctx), key, token); unlockErr != nil {
			l.logger.Warn("Lock release after scoped call failed",
				zap.String("key", key),
				zap.Bool("call_failed", err != nil),
				zap.Error(unlockErr))
		}
	}()

	return fn(ctx)
}

func (l *DistributedLock) record(result string) {
	if l.metrics == nil {
		return
	}
	l.metrics.Counter(types.MetricLockOperations, map[string]string{"result": result}).Inc()
}
