package store

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-cache/types"
	"github.com/saiset-co/sai-cache/utils"
)

type RedisConfig struct {
	Address            string        `yaml:"address" json:"address"`
	Host               string        `yaml:"host" json:"host"`
	Port               int           `yaml:"port" json:"port"`
	Password           string        `yaml:"password" json:"password"`
	DB                 int           `yaml:"db" json:"db"`
	PoolSize           int           `yaml:"pool_size" json:"pool_size"`
	MinIdleConnections int           `yaml:"min_idle_connections" json:"min_idle_connections"`
	DialTimeout        time.Duration `yaml:"dial_timeout" json:"dial_timeout"`
	ReadTimeout        time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout       time.Duration `yaml:"write_timeout" json:"write_timeout"`
	KeyPrefix          string        `yaml:"key_prefix" json:"key_prefix"`
}

// compareAndDeleteScript removes KEYS[1] only while it still holds ARGV[1].
var compareAndDeleteScript = redis.NewScript(`
if redis.call('get', KEYS[1]) == ARGV[1] then
	return redis.call('del', KEYS[1])
else
	return 0
end
`)

// incrementAndTagScript moves ARGV[1] in or out of set KEYS[2] and applies
// ARGV[2] to counter KEYS[1] only when the membership actually changed.
var incrementAndTagScript = redis.NewScript(`
local delta = tonumber(ARGV[2])
local ttl = tonumber(ARGV[3])
local changed
if delta >= 0 then
	changed = redis.call('sadd', KEYS[2], ARGV[1])
else
	changed = redis.call('srem', KEYS[2], ARGV[1])
end
local count
if changed == 1 then
	count = redis.call('incrby', KEYS[1], delta)
	if count < 0 then
		redis.call('set', KEYS[1], 0)
		count = 0
	end
else
	count = tonumber(redis.call('get', KEYS[1]) or '0')
end
if ttl > 0 then
	redis.call('expire', KEYS[1], ttl)
	redis.call('expire', KEYS[2], ttl)
end
return {count, changed}
`)

type RedisStore struct {
	logger           types.Logger
	config           *RedisConfig
	client           *redis.Client
	operationTimeout time.Duration
	started          int32
	closed           int32
}

func NewRedisStore(ctx context.Context, logger types.Logger, config *types.StoreConfig) (*RedisStore, error) {
	var redisConfig = &RedisConfig{
		Host:               "localhost",
		Port:               6379,
		Password:           "",
		DB:                 0,
		PoolSize:           10,
		MinIdleConnections: 2,
		DialTimeout:        5 * time.Second,
		ReadTimeout:        3 * time.Second,
		WriteTimeout:       3 * time.Second,
	}

	if config.Config != nil {
		err := utils.UnmarshalConfig(config.Config, redisConfig)
		if err != nil {
			return nil, types.WrapError(err, "failed to unmarshal redis store config")
		}
	}

	store := &RedisStore{
		logger:           logger,
		config:           redisConfig,
		operationTimeout: config.OperationTimeout,
	}

	if store.operationTimeout <= 0 {
		store.operationTimeout = redisConfig.ReadTimeout
	}

	store.initRedisClient()

	if err := store.ping(ctx); err != nil {
		_ = store.client.Close()
		return nil, types.WrapError(err, "failed to connect to redis")
	}

	return store, nil
}

func (r *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	ctx, cancel := r.opContext(ctx)
	defer cancel()

	value, err := r.client.Get(ctx, r.buildFullKey(key)).Bytes()
	if err != nil {
		if types.IsError(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, types.NewStoreError("get", key, err)
	}

	return value, true, nil
}

func (r *RedisStore) MGet(ctx context.Context, keys ...string) ([][]byte, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	ctx, cancel := r.opContext(ctx)
	defer cancel()

	values, err := r.client.MGet(ctx, r.buildFullKeys(keys)...).Result()
	if err != nil {
		return nil, types.NewStoreError("mget", strings.Join(keys, ","), err)
	}

	result := make([][]byte, len(keys))
	for i, value := range values {
		switch v := value.(type) {
		case string:
			result[i] = []byte(v)
		case []byte:
			result[i] = v
		}
	}

	return result, nil
}

func (r *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return types.NewStoreError("set", key, types.ErrStoreKeyEmpty)
	}

	ctx, cancel := r.opContext(ctx)
	defer cancel()

	if err := r.client.Set(ctx, r.buildFullKey(key), value, ttl).Err(); err != nil {
		return types.NewStoreError("set", key, err)
	}

	return nil
}

func (r *RedisStore) MSet(ctx context.Context, values map[string][]byte) error {
	if len(values) == 0 {
		return nil
	}

	ctx, cancel := r.opContext(ctx)
	defer cancel()

	pairs := make(map[string]interface{}, len(values))
	for key, value := range values {
		pairs[r.buildFullKey(key)] = value
	}

	if err := r.client.MSet(ctx, pairs).Err(); err != nil {
		return types.NewStoreError("mset", "", err)
	}

	return nil
}

func (r *RedisStore) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	ctx, cancel := r.opContext(ctx)
	defer cancel()

	ok, err := r.client.SetNX(ctx, r.buildFullKey(key), value, ttl).Result()
	if err != nil {
		return false, types.NewStoreError("setnx", key, err)
	}

	return ok, nil
}

func (r *RedisStore) CompareAndDelete(ctx context.Context, key string, expected []byte) (bool, error) {
	ctx, cancel := r.opContext(ctx)
	defer cancel()

	deleted, err := compareAndDeleteScript.Run(ctx, r.client, []string{r.buildFullKey(key)}, expected).Int64()
	if err != nil {
		return false, types.NewStoreError("compare_and_delete", key, err)
	}

	return deleted == 1, nil
}

func (r *RedisStore) Delete(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}

	ctx, cancel := r.opContext(ctx)
	defer cancel()

	deleted, err := r.client.Del(ctx, r.buildFullKeys(keys)...).Result()
	if err != nil {
		return 0, types.NewStoreError("delete", strings.Join(keys, ","), err)
	}

	return deleted, nil
}

func (r *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	ctx, cancel := r.opContext(ctx)
	defer cancel()

	n, err := r.client.Exists(ctx, r.buildFullKey(key)).Result()
	if err != nil {
		return false, types.NewStoreError("exists", key, err)
	}

	return n > 0, nil
}

func (r *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ctx, cancel := r.opContext(ctx)
	defer cancel()

	ok, err := r.client.Expire(ctx, r.buildFullKey(key), ttl).Result()
	if err != nil {
		return false, types.NewStoreError("expire", key, err)
	}

	return ok, nil
}

func (r *RedisStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	ctx, cancel := r.opContext(ctx)
	defer cancel()

	ttl, err := r.client.TTL(ctx, r.buildFullKey(key)).Result()
	if err != nil {
		return 0, types.NewStoreError("ttl", key, err)
	}

	return ttl, nil
}

func (r *RedisStore) Increment(ctx context.Context, key string, delta int64) (int64, error) {
	ctx, cancel := r.opContext(ctx)
	defer cancel()

	value, err := r.client.IncrBy(ctx, r.buildFullKey(key), delta).Result()
	if err != nil {
		return 0, types.NewStoreError("increment", key, err)
	}

	return value, nil
}

func (r *RedisStore) SetAdd(ctx context.Context, key string, members ...string) (int64, error) {
	if len(members) == 0 {
		return 0, nil
	}

	ctx, cancel := r.opContext(ctx)
	defer cancel()

	added, err := r.client.SAdd(ctx, r.buildFullKey(key), toInterfaces(members)...).Result()
	if err != nil {
		return 0, types.NewStoreError("sadd", key, err)
	}

	return added, nil
}

func (r *RedisStore) SetRemove(ctx context.Context, key string, members ...string) (int64, error) {
	if len(members) == 0 {
		return 0, nil
	}

	ctx, cancel := r.opContext(ctx)
	defer cancel()

	removed, err := r.client.SRem(ctx, r.buildFullKey(key), toInterfaces(members)...).Result()
	if err != nil {
		return 0, types.NewStoreError("srem", key, err)
	}

	return removed, nil
}

func (r *RedisStore) SetIsMember(ctx context.Context, key, member string) (bool, error) {
	ctx, cancel := r.opContext(ctx)
	defer cancel()

	ok, err := r.client.SIsMember(ctx, r.buildFullKey(key), member).Result()
	if err != nil {
		return false, types.NewStoreError("sismember", key, err)
	}

	return ok, nil
}

func (r *RedisStore) SetMembers(ctx context.Context, key string) ([]string, error) {
	ctx, cancel := r.opContext(ctx)
	defer cancel()

	members, err := r.client.SMembers(ctx, r.buildFullKey(key)).Result()
	if err != nil {
		return nil, types.NewStoreError("smembers", key, err)
	}

	return members, nil
}

func (r *RedisStore) SetSize(ctx context.Context, key string) (int64, error) {
	ctx, cancel := r.opContext(ctx)
	defer cancel()

	size, err := r.client.SCard(ctx, r.buildFullKey(key)).Result()
	if err != nil {
		return 0, types.NewStoreError("scard", key, err)
	}

	return size, nil
}

func (r *RedisStore) ZAdd(ctx context.Context, key, member string, score float64) error {
	ctx, cancel := r.opContext(ctx)
	defer cancel()

	if err := r.client.ZAdd(ctx, r.buildFullKey(key), redis.Z{Score: score, Member: member}).Err(); err != nil {
		return types.NewStoreError("zadd", key, err)
	}

	return nil
}

func (r *RedisStore) ZRemove(ctx context.Context, key string, members ...string) (int64, error) {
	if len(members) == 0 {
		return 0, nil
	}

	ctx, cancel := r.opContext(ctx)
	defer cancel()

	removed, err := r.client.ZRem(ctx, r.buildFullKey(key), toInterfaces(members)...).Result()
	if err != nil {
		return 0, types.NewStoreError("zrem", key, err)
	}

	return removed, nil
}

func (r *RedisStore) ZRevRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	ctx, cancel := r.opContext(ctx)
	defer cancel()

	members, err := r.client.ZRevRange(ctx, r.buildFullKey(key), start, stop).Result()
	if err != nil {
		return nil, types.NewStoreError("zrevrange", key, err)
	}

	return members, nil
}

func (r *RedisStore) ZRevRangeWithScores(ctx context.Context, key string, start, stop int64) ([]types.RankEntry, error) {
	ctx, cancel := r.opContext(ctx)
	defer cancel()

	zs, err := r.client.ZRevRangeWithScores(ctx, r.buildFullKey(key), start, stop).Result()
	if err != nil {
		return nil, types.NewStoreError("zrevrange_withscores", key, err)
	}

	return toRankEntries(zs), nil
}

func (r *RedisStore) ZRangeWithScores(ctx context.Context, key string, start, stop int64) ([]types.RankEntry, error) {
	ctx, cancel := r.opContext(ctx)
	defer cancel()

	zs, err := r.client.ZRangeWithScores(ctx, r.buildFullKey(key), start, stop).Result()
	if err != nil {
		return nil, types.NewStoreError("zrange_withscores", key, err)
	}

	return toRankEntries(zs), nil
}

func (r *RedisStore) ZScore(ctx context.Context, key, member string) (float64, bool, error) {
	ctx, cancel := r.opContext(ctx)
	defer cancel()

	score, err := r.client.ZScore(ctx, r.buildFullKey(key), member).Result()
	if err != nil {
		if types.IsError(err, redis.Nil) {
			return 0, false, nil
		}
		return 0, false, types.NewStoreError("zscore", key, err)
	}

	return score, true, nil
}

func (r *RedisStore) ZRevRank(ctx context.Context, key, member string) (int64, bool, error) {
	ctx, cancel := r.opContext(ctx)
	defer cancel()

	rank, err := r.client.ZRevRank(ctx, r.buildFullKey(key), member).Result()
	if err != nil {
		if types.IsError(err, redis.Nil) {
			return 0, false, nil
		}
		return 0, false, types.NewStoreError("zrevrank", key, err)
	}

	return rank, true, nil
}

func (r *RedisStore) ZCard(ctx context.Context, key string) (int64, error) {
	ctx, cancel := r.opContext(ctx)
	defer cancel()

	size, err := r.client.ZCard(ctx, r.buildFullKey(key)).Result()
	if err != nil {
		return 0, types.NewStoreError("zcard", key, err)
	}

	return size, nil
}

func (r *RedisStore) ZRemRangeByRank(ctx context.Context, key string, start, stop int64) (int64, error) {
	ctx, cancel := r.opContext(ctx)
	defer cancel()

	removed, err := r.client.ZRemRangeByRank(ctx, r.buildFullKey(key), start, stop).Result()
	if err != nil {
		return 0, types.NewStoreError("zremrangebyrank", key, err)
	}

	return removed, nil
}

func (r *RedisStore) IncrementAndTag(ctx context.Context, counterKey, setKey, member string, delta int64, ttl time.Duration) (int64, bool, error) {
	ctx, cancel := r.opContext(ctx)
	defer cancel()

	keys := []string{r.buildFullKey(counterKey), r.buildFullKey(setKey)}
	reply, err := incrementAndTagScript.Run(ctx, r.client, keys, member, delta, ttlSeconds(ttl)).Int64Slice()
	if err != nil {
		return 0, false, types.NewStoreError("increment_and_tag", counterKey, err)
	}

	if len(reply) != 2 {
		return 0, false, types.NewStoreError("increment_and_tag", counterKey,
			types.Errorf(types.ErrStoreScriptFailed, "unexpected reply length %d", len(reply)))
	}

	return reply[0], reply[1] == 1, nil
}

func (r *RedisStore) Scan(ctx context.Context, pattern string, count int64) types.KeyIterator {
	iter := r.client.Scan(ctx, 0, r.buildFullKey(pattern), count).Iterator()
	return &redisKeyIterator{iter: iter, prefix: r.prefix()}
}

func (r *RedisStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	ctx, cancel := r.opContext(ctx)
	defer cancel()

	keys, err := r.client.Keys(ctx, r.buildFullKey(pattern)).Result()
	if err != nil {
		return nil, types.NewStoreError("keys", pattern, err)
	}

	prefix := r.prefix()
	for i, key := range keys {
		keys[i] = strings.TrimPrefix(key, prefix)
	}

	return keys, nil
}

func (r *RedisStore) Ping(ctx context.Context) error {
	if err := r.ping(ctx); err != nil {
		return types.NewStoreError("ping", "", err)
	}
	return nil
}

func (r *RedisStore) Start() error {
	if atomic.LoadInt32(&r.closed) == 1 {
		return types.ErrStoreClosed
	}
	if !atomic.CompareAndSwapInt32(&r.started, 0, 1) {
		return nil
	}

	r.logger.Info("Redis store started",
		zap.String("addr", r.client.Options().Addr),
		zap.Int("db", r.config.DB))

	return nil
}

func (r *RedisStore) Stop() error {
	atomic.StoreInt32(&r.started, 0)
	return r.Close()
}

// Close shuts the connection pool. The store cannot be started again.
func (r *RedisStore) Close() error {
	if r.client == nil || !atomic.CompareAndSwapInt32(&r.closed, 0, 1) {
		return nil
	}
	atomic.StoreInt32(&r.started, 0)

	if err := r.client.Close(); err != nil {
		r.logger.Error("Failed to close Redis client", zap.Error(err))
		return types.WrapError(err, "failed to close redis client")
	}

	r.logger.Info("Redis store closed successfully")
	return nil
}

func (r *RedisStore) IsRunning() bool {
	return atomic.LoadInt32(&r.started) == 1
}

func (r *RedisStore) initRedisClient() {
	addr := r.config.Address
	if addr == "" {
		addr = fmt.Sprintf("%s:%d", r.config.Host, r.config.Port)
	}

	r.client = redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     r.config.Password,
		DB:           r.config.DB,
		PoolSize:     r.config.PoolSize,
		MinIdleConns: r.config.MinIdleConnections,
		DialTimeout:  r.config.DialTimeout,
		ReadTimeout:  r.config.ReadTimeout,
		WriteTimeout: r.config.WriteTimeout,
	})
}

func (r *RedisStore) ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return r.client.Ping(ctx).Err()
}

func (r *RedisStore) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.operationTimeout)
}

func (r *RedisStore) prefix() string {
	if r.config.KeyPrefix != "" {
		return r.config.KeyPrefix + ":"
	}
	return ""
}

func (r *RedisStore) buildFullKey(key string) string {
	return r.prefix() + key
}

func (r *RedisStore) buildFullKeys(keys []string) []string {
	full := make([]string, len(keys))
	for i, key := range keys {
		full[i] = r.buildFullKey(key)
	}
	return full
}

type redisKeyIterator struct {
	iter   *redis.ScanIterator
	prefix string
}

func (it *redisKeyIterator) Next(ctx context.Context) bool {
	return it.iter.Next(ctx)
}

func (it *redisKeyIterator) Val() string {
	return strings.TrimPrefix(it.iter.Val(), it.prefix)
}

func (it *redisKeyIterator) Err() error {
	if err := it.iter.Err(); err != nil {
		return types.NewStoreError("scan", "", err)
	}
	return nil
}

func toInterfaces(values []string) []interface{} {
	result := make([]interface{}, len(values))
	for i, v := range values {
		result[i] = v
	}
	return result
}

func toRankEntries(zs []redis.Z) []types.RankEntry {
	entries := make([]types.RankEntry, 0, len(zs))
	for _, z := range zs {
		member, _ := z.Member.(string)
		entries = append(entries, types.RankEntry{Member: member, Score: z.Score})
	}
	return entries
}

func ttlSeconds(ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	seconds := int64(ttl / time.Second)
	if seconds == 0 {
		return 1
	}
	return seconds
}
