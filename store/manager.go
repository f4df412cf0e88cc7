package store

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-cache/types"
)

var customStoreCreators = make(map[string]types.StoreCreator)

func RegisterStore(storeName string, creator types.StoreCreator) {
	customStoreCreators[storeName] = creator
}

func NewStoreManager(ctx context.Context, config types.ConfigManager, logger types.Logger, metrics types.MetricsManager) (types.StoreManager, error) {
	storeConfig := config.GetConfig().Store
	if storeConfig == nil {
		return nil, types.ErrConfigIsNil
	}

	storeName := storeConfig.Type

	var impl types.StoreManager
	var err error

	switch storeName {
	case "memory":
		impl, err = NewMemoryStore(ctx, logger, storeConfig)
	case "redis":
		impl, err = NewRedisStore(ctx, logger, storeConfig)
	default:
		if creator, exists := customStoreCreators[storeName]; exists {
			impl, err = creator(storeConfig)
		} else {
			return nil, types.Errorf(types.ErrStoreTypeUnknown, "type: %s", storeName)
		}
	}

	if err != nil {
		return nil, err
	}

	logger.Info("Store initialized", zap.String("type", storeName))

	return NewInstrumentedStore(logger, metrics, impl), nil
}

// instrumentedStore records per-operation counters and latency for any StoreManager.
type instrumentedStore struct {
	impl    types.StoreManager
	logger  types.Logger
	metrics types.MetricsManager
}

func NewInstrumentedStore(logger types.Logger, metrics types.MetricsManager, impl types.StoreManager) types.StoreManager {
	return &instrumentedStore{
		impl:    impl,
		logger:  logger,
		metrics: metrics,
	}
}

func (s *instrumentedStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	start := time.Now()
	value, found, err := s.impl.Get(ctx, key)

	result := "hit"
	if err != nil {
		result = "error"
	} else if !found {
		result = "miss"
	}

	s.record("get", result, start, err)
	return value, found, err
}

func (s *instrumentedStore) MGet(ctx context.Context, keys ...string) ([][]byte, error) {
	start := time.Now()
	values, err := s.impl.MGet(ctx, keys...)
	s.record("mget", outcome(err), start, err)
	return values, err
}

func (s *instrumentedStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	start := time.Now()
	err := s.impl.Set(ctx, key, value, ttl)
	s.record("set", outcome(err), start, err)
	return err
}

func (s *instrumentedStore) MSet(ctx context.Context, values map[string][]byte) error {
	start := time.Now()
	err := s.impl.MSet(ctx, values)
	s.record("mset", outcome(err), start, err)
	return err
}

func (s *instrumentedStore) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	start := time.Now()
	ok, err := s.impl.SetNX(ctx, key, value, ttl)
	s.record("setnx", outcome(err), start, err)
	return ok, err
}

func (s *instrumentedStore) CompareAndDelete(ctx context.Context, key string, expected []byte) (bool, error) {
	start := time.Now()
	ok, err := s.impl.CompareAndDelete(ctx, key, expected)
	s.record("compare_and_delete", outcome(err), start, err)
	return ok, err
}

func (s *instrumentedStore) Delete(ctx context.Context, keys ...string) (int64, error) {
	start := time.Now()
	n, err := s.impl.Delete(ctx, keys...)
	s.record("delete", outcome(err), start, err)
	return n, err
}

func (s *instrumentedStore) Exists(ctx context.Context, key string) (bool, error) {
	start := time.Now()
	ok, err := s.impl.Exists(ctx, key)
	s.record("exists", outcome(err), start, err)
	return ok, err
}

func (s *instrumentedStore) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	start := time.Now()
	ok, err := s.impl.Expire(ctx, key, ttl)
	s.record("expire", outcome(err), start, err)
	return ok, err
}

func (s *instrumentedStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	start := time.Now()
	ttl, err := s.impl.TTL(ctx, key)
	s.record("ttl", outcome(err), start, err)
	return ttl, err
}

func (s *instrumentedStore) Increment(ctx context.Context, key string, delta int64) (int64, error) {
	start := time.Now()
	n, err := s.impl.Increment(ctx, key, delta)
	s.record("increment", outcome(err), start, err)
	return n, err
}

func (s *instrumentedStore) SetAdd(ctx context.Context, key string, members ...string) (int64, error) {
	start := time.Now()
	n, err := s.impl.SetAdd(ctx, key, members...)
	s.record("sadd", outcome(err), start, err)
	return n, err
}

func (s *instrumentedStore) SetRemove(ctx context.Context, key string, members ...string) (int64, error) {
	start := time.Now()
	n, err := s.impl.SetRemove(ctx, key, members...)
	s.record("srem", outcome(err), start, err)
	return n, err
}

func (s *instrumentedStore) SetIsMember(ctx context.Context, key, member string) (bool, error) {
	start := time.Now()
	ok, err := s.impl.SetIsMember(ctx, key, member)
	s.record("sismember", outcome(err), start, err)
	return ok, err
}

func (s *instrumentedStore) SetMembers(ctx context.Context, key string) ([]string, error) {
	start := time.Now()
	members, err := s.impl.SetMembers(ctx, key)
	s.record("smembers", outcome(err), start, err)
	return members, err
}

func (s *instrumentedStore) SetSize(ctx context.Context, key string) (int64, error) {
	start := time.Now()
	n, err := s.impl.SetSize(ctx, key)
	s.record("scard", outcome(err), start, err)
	return n, err
}

func (s *instrumentedStore) ZAdd(ctx context.Context, key, member string, score float64) error {
	start := time.Now()
	err := s.impl.ZAdd(ctx, key, member, score)
	s.record("zadd", outcome(err), start, err)
	return err
}

func (s *instrumentedStore) ZRemove(ctx context.Context, key string, members ...string) (int64, error) {
	start := time.Now()
	n, err := s.impl.ZRemove(ctx, key, members...)
	s.record("zrem", outcome(err), start, err)
	return n, err
}

func (s *instrumentedStore) ZRevRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	began := time.Now()
	members, err := s.impl.ZRevRange(ctx, key, start, stop)
	s.record("zrevrange", outcome(err), began, err)
	return members, err
}

func (s *instrumentedStore) ZRevRangeWithScores(ctx context.Context, key string, start, stop int64) ([]types.RankEntry, error) {
	began := time.Now()
	entries, err := s.impl.ZRevRangeWithScores(ctx, key, start, stop)
	s.record("zrevrange_withscores", outcome(err), began, err)
	return entries, err
}

func (s *instrumentedStore) ZRangeWithScores(ctx context.Context, key string, start, stop int64) ([]types.RankEntry, error) {
	began := time.Now()
	entries, err := s.impl.ZRangeWithScores(ctx, key, start, stop)
	s.record("zrange_withscores", outcome(err), began, err)
	return entries, err
}

func (s *instrumentedStore) ZScore(ctx context.Context, key, member string) (float64, bool, error) {
	start := time.Now()
	score, found, err := s.impl.ZScore(ctx, key, member)
	s.record("zscore", outcome(err), start, err)
	return score, found, err
}

func (s *instrumentedStore) ZRevRank(ctx context.Context, key, member string) (int64, bool, error) {
	start := time.Now()
	rank, found, err := s.impl.ZRevRank(ctx, key, member)
	s.record("zrevrank", outcome(err), start, err)
	return rank, found, err
}

func (s *instrumentedStore) ZCard(ctx context.Context, key string) (int64, error) {
	start := time.Now()
	n, err := s.impl.ZCard(ctx, key)
	s.record("zcard", outcome(err), start, err)
	return n, err
}

func (s *instrumentedStore) ZRemRangeByRank(ctx context.Context, key string, start, stop int64) (int64, error) {
	began := time.Now()
	n, err := s.impl.ZRemRangeByRank(ctx, key, start, stop)
	s.record("zremrangebyrank", outcome(err), began, err)
	return n, err
}

func (s *instrumentedStore) IncrementAndTag(ctx context.Context, counterKey, setKey, member string, delta int64, ttl time.Duration) (int64, bool, error) {
	start := time.Now()
	count, applied, err := s.impl.IncrementAndTag(ctx, counterKey, setKey, member, delta, ttl)
	s.record("increment_and_tag", outcome(err), start, err)
	return count, applied, err
}

func (s *instrumentedStore) Scan(ctx context.Context, pattern string, count int64) types.KeyIterator {
	s.record("scan", "success", time.Now(), nil)
	return s.impl.Scan(ctx, pattern, count)
}

func (s *instrumentedStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	start := time.Now()
	keys, err := s.impl.Keys(ctx, pattern)
	s.record("keys", outcome(err), start, err)
	return keys, err
}

func (s *instrumentedStore) Ping(ctx context.Context) error {
	start := time.Now()
	err := s.impl.Ping(ctx)
	s.record("ping", outcome(err), start, err)
	return err
}

func (s *instrumentedStore) Start() error {
	start := time.Now()
	err := s.impl.Start()
	s.record("start", outcome(err), start, err)
	return err
}

func (s *instrumentedStore) Stop() error {
	return s.impl.Stop()
}

func (s *instrumentedStore) Close() error {
	return s.impl.Close()
}

func (s *instrumentedStore) IsRunning() bool {
	return s.impl.IsRunning()
}

func (s *instrumentedStore) record(operation, result string, start time.Time, err error) {
	if err != nil {
		s.logger.Debug("Store operation failed", zap.String("operation", operation), zap.Error(err))
	}

	if s.metrics == nil {
		return
	}

	s.metrics.Counter(types.MetricStoreOperations, map[string]string{
		"operation": operation,
		"result":    result,
	}).Inc()

	s.metrics.Histogram(types.MetricStoreOperationDuration, nil,
		map[string]string{"operation": operation},
	).ObserveDuration(start)
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
