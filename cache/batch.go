package cache

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-cache/keyspace"
	"github.com/saiset-co/sai-cache/types"
)

// BatchGetOrLoad resolves ids through one multi-get on keyPrefix:<id>.
// Negative entries are left out of the result. Misses go to loader in a single
// call, and ids it does not return are cached as negative. When the multi-get
// fails every id is passed to loader and nothing is written.
func BatchGetOrLoad[ID comparable, T any](
	ctx context.Context,
	o *Orchestrator,
	keyPrefix string,
	ids []ID,
	ttl time.Duration,
	loader types.BatchLoader[ID, T],
	extract types.IDExtractor[ID, T],
) (map[ID]T, error) {
	if loader == nil {
		return nil, types.ErrCacheLoaderIsNil
	}
	if extract == nil {
		return nil, types.ErrCacheExtractorNil
	}

	ids = uniqueIDs(ids)
	result := make(map[ID]T, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = keyspace.Key(keyPrefix, id)
	}

	raws, err := o.store.MGet(ctx, keys...)
	if err != nil {
		o.recordLookup(lookupFailed)
		o.logger.Warn("Cache batch probe failed, degrading to loader",
			zap.String("prefix", keyPrefix), zap.Int("ids", len(ids)), zap.Error(err))

		o.recordLoad("batch")
		loaded, err := loader(ctx, ids)
		if err != nil {
			return nil, err
		}
		for _, value := range loaded {
			result[extract(value)] = value
		}
		return result, nil
	}

	missed := make([]ID, 0, len(ids))
	missedKeys := make(map[ID]string)

	for i, id := range ids {
		raw := raws[i]
		switch {
		case raw == nil:
			missed = append(missed, id)
			missedKeys[id] = keys[i]
		case IsNegative(raw):
			o.recordLookup(lookupNegative)
		default:
			value, err := decode[T](raw)
			if err != nil {
				o.logger.Warn("Reloading undecodable cache entry", zap.String("key", keys[i]), zap.Error(err))
				missed = append(missed, id)
				missedKeys[id] = keys[i]
				continue
			}
			o.recordLookup(lookupHit)
			result[id] = value
		}
	}

	o.logger.Debug("Cache batch probe",
		zap.String("prefix", keyPrefix),
		zap.Int("total", len(ids)),
		zap.Int("hit", len(result)),
		zap.Int("miss", len(missed)))

	if len(missed) == 0 {
		return result, nil
	}

	for range missed {
		o.recordLookup(lookupMiss)
	}

	o.recordLoad("batch")
	loaded, err := loader(ctx, missed)
	if err != nil {
		return nil, err
	}

	loadedByID := make(map[ID]T, len(loaded))
	for _, value := range loaded {
		id := extract(value)
		if _, requested := missedKeys[id]; !requested {
			continue
		}
		if _, dup := loadedByID[id]; !dup {
			loadedByID[id] = value
		}
	}

	toCache := make(map[string][]byte, len(missed))
	expiries := make(map[string]time.Duration, len(missed))

	for _, id := range missed {
		key := missedKeys[id]

		value, ok := loadedByID[id]
		if !ok {
			toCache[key] = NegativeSentinel
			expiries[key] = o.negativeTTLFor(ttl)
			continue
		}

		result[id] = value

		payload, err := o.codec.Encode(value)
		if err != nil {
			o.recordPopulateFailure()
			o.logger.Error("Failed to encode cache value", zap.String("key", key), zap.Error(err))
			continue
		}
		toCache[key] = payload
		expiries[key] = o.positiveTTL(ttl)
	}

	populateBatch(ctx, o, toCache, expiries)
	return result, nil
}

// populateBatch is one MSET followed by per-key EXPIRE. It is not atomic.
func populateBatch(ctx context.Context, o *Orchestrator, values map[string][]byte, expiries map[string]time.Duration) {
	if len(values) == 0 {
		return
	}

	if err := o.store.MSet(ctx, values); err != nil {
		o.recordPopulateFailure()
		o.logger.Warn("Cache batch populate failed",
			zap.Int("keys", len(values)), zap.String("operation", "mset"), zap.Error(err))
		return
	}

	for key, ttl := range expiries {
		if _, err := o.store.Expire(ctx, key, ttl); err != nil {
			o.recordPopulateFailure()
			o.logger.Warn("Cache batch expire failed",
				zap.String("key", key), zap.String("operation", "expire"), zap.Error(err))
		}
	}
}

func uniqueIDs[ID comparable](ids []ID) []ID {
	seen := make(map[ID]struct{}, len(ids))
	unique := make([]ID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}
	return unique
}
