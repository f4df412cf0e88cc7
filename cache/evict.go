package cache

import (
	"context"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-cache/keyspace"
	"github.com/saiset-co/sai-cache/types"
)

const evictBatchSize = 500

// Evict deletes key. Store failures are logged, only an empty key is an error.
func (o *Orchestrator) Evict(ctx context.Context, key string) error {
	if key == "" {
		return types.ErrCacheKeyEmpty
	}

	if _, err := o.store.Delete(ctx, key); err != nil {
		o.logger.Warn("Cache evict failed",
			zap.String("key", key), zap.String("operation", "delete"), zap.Error(err))
		return nil
	}

	o.logger.Debug("Cache evicted", zap.String("key", key))
	return nil
}

// BatchEvict deletes keyPrefix:<id> for every id in one call.
func BatchEvict[ID comparable](ctx context.Context, o *Orchestrator, keyPrefix string, ids []ID) error {
	if len(ids) == 0 {
		return nil
	}

	keys := make([]string, 0, len(ids))
	for _, id := range uniqueIDs(ids) {
		keys = append(keys, keyspace.Key(keyPrefix, id))
	}

	deleted, err := o.store.Delete(ctx, keys...)
	if err != nil {
		o.logger.Warn("Cache batch evict failed",
			zap.String("prefix", keyPrefix), zap.Int("keys", len(keys)), zap.Error(err))
		return nil
	}

	o.logger.Debug("Cache batch evicted", zap.String("prefix", keyPrefix), zap.Int64("deleted", deleted))
	return nil
}

// EvictPattern deletes every key matching pattern using the cursor scan. The
// blocking KEYS listing is only tried when the scan fails and the
// allow_keys_fallback option is set.
func (o *Orchestrator) EvictPattern(ctx context.Context, pattern string) (int64, error) {
	if pattern == "" {
		return 0, types.ErrCacheKeyEmpty
	}

	var (
		total int64
		batch = make([]string, 0, evictBatchSize)
	)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		deleted, err := o.store.Delete(ctx, batch...)
		if err != nil {
			o.logger.Warn("Cache pattern evict delete failed",
				zap.String("pattern", pattern), zap.Int("keys", len(batch)), zap.Error(err))
		}
		total += deleted
		batch = batch[:0]
	}

	iter := o.store.Scan(ctx, pattern, evictBatchSize)
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == evictBatchSize {
			flush()
		}
	}
	flush()

	if err := iter.Err(); err != nil {
		o.logger.Warn("Cache pattern scan failed", zap.String("pattern", pattern), zap.Error(err))

		if !o.allowKeysFallback {
			return total, nil
		}

		keys, err := o.store.Keys(ctx, pattern)
		if err != nil {
			o.logger.Warn("Cache pattern keys fallback failed", zap.String("pattern", pattern), zap.Error(err))
			return total, nil
		}

		o.logger.Warn("Cache pattern evict fell back to blocking key listing",
			zap.String("pattern", pattern), zap.Int("keys", len(keys)))

		for _, key := range keys {
			batch = append(batch, key)
			if len(batch) == evictBatchSize {
				flush()
			}
		}
		flush()
	}

	o.logger.Debug("Cache pattern evicted", zap.String("pattern", pattern), zap.Int64("deleted", total))
	return total, nil
}
