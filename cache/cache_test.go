package cache

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-cache/keyspace"
	"github.com/saiset-co/sai-cache/lock"
	"github.com/saiset-co/sai-cache/logger"
	"github.com/saiset-co/sai-cache/metrics"
	"github.com/saiset-co/sai-cache/store"
	"github.com/saiset-co/sai-cache/types"
)

type post struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
}

type fixture struct {
	o       *Orchestrator
	redis   *miniredis.Miniredis
	metrics *metrics.MemoryMetrics
}

func testConfig() *types.CacheConfig {
	return &types.CacheConfig{
		DefaultTTL:  time.Hour,
		NegativeTTL: time.Minute,
		JitterRange: time.Minute,
		LockRetries: 3,
		LockBackoff: 20 * time.Millisecond,
	}
}

func newFixture(t *testing.T, config *types.CacheConfig) fixture {
	t.Helper()

	s, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(s.Close)

	log := logger.NewZapWrapper(zap.NewNop())
	client, err := store.NewRedisStore(context.Background(), log, &types.StoreConfig{
		Type:   "redis",
		Config: &store.RedisConfig{Address: s.Addr()},
	})
	require.NoError(t, err)
	require.NoError(t, client.Start())
	t.Cleanup(func() { _ = client.Stop() })

	m := metrics.NewMemoryMetrics(context.Background(), log)
	locker := lock.NewDistributedLock(client, log, m, &types.LockConfig{TTL: 5 * time.Second})

	o, err := NewOrchestrator(client, locker, log, m, config)
	require.NoError(t, err)

	return fixture{o: o, redis: s, metrics: m}
}

// failingStore fails every call it overrides, like a store that is down.
type failingStore struct {
	types.StoreClient
}

var errDown = types.NewStoreError("get", "any", errors.New("connection refused"))

func (failingStore) Get(context.Context, string) ([]byte, bool, error) { return nil, false, errDown }
func (failingStore) MGet(context.Context, ...string) ([][]byte, error) { return nil, errDown }
func (failingStore) Set(context.Context, string, []byte, time.Duration) error {
	return errDown
}
func (failingStore) MSet(context.Context, map[string][]byte) error { return errDown }
func (failingStore) SetNX(context.Context, string, []byte, time.Duration) (bool, error) {
	return false, errDown
}
func (failingStore) CompareAndDelete(context.Context, string, []byte) (bool, error) {
	return false, errDown
}
func (failingStore) Delete(context.Context, ...string) (int64, error) { return 0, errDown }

func TestGetOrLoadCachesAbsence(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	var calls int32
	loader := func(ctx context.Context) (post, bool, error) {
		atomic.AddInt32(&calls, 1)
		return post{}, false, nil
	}

	for i := 0; i < 2; i++ {
		_, found, err := GetOrLoad(ctx, f.o, "post:detail:404", 10*time.Minute, loader)
		require.NoError(t, err)
		assert.False(t, found)
	}

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	stored, err := f.redis.Get("post:detail:404")
	require.NoError(t, err)
	assert.Equal(t, "NULL", stored)
	assert.Equal(t, time.Minute, f.redis.TTL("post:detail:404"))
	assert.Equal(t, 1.0, f.metrics.Counter("cache_lookups_total", map[string]string{"result": "negative_hit"}).Get())
}

func TestNegativeTTLNeverExceedsRequestedTTL(t *testing.T) {
	f := newFixture(t, testConfig())

	_, _, err := GetOrLoad(context.Background(), f.o, "k", 30*time.Second, func(ctx context.Context) (string, bool, error) {
		return "", false, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, f.redis.TTL("k"))
}

func TestGetOrLoadHit(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	var calls int32
	loader := func(ctx context.Context) (post, bool, error) {
		atomic.AddInt32(&calls, 1)
		return post{ID: 1, Title: "hello"}, true, nil
	}

	first, found, err := GetOrLoad(ctx, f.o, "post:detail:1", time.Hour, loader)
	require.NoError(t, err)
	require.True(t, found)

	second, found, err := GetOrLoad(ctx, f.o, "post:detail:1", time.Hour, loader)
	require.NoError(t, err)
	require.True(t, found)

	assert.Equal(t, first, second)
	assert.Equal(t, post{ID: 1, Title: "hello"}, second)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, 1.0, f.metrics.Counter("cache_lookups_total", map[string]string{"result": "hit"}).Get())
}

func TestPositiveTTLStaysInsideJitterWindow(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()
	base := 10 * time.Minute

	for i := 0; i < 50; i++ {
		key := "jitter:" + strconv.Itoa(i)
		_, _, err := GetOrLoad(ctx, f.o, key, base, func(ctx context.Context) (int, bool, error) {
			return i, true, nil
		})
		require.NoError(t, err)

		ttl := f.redis.TTL(key)
		assert.GreaterOrEqual(t, ttl, base)
		assert.Less(t, ttl, base+time.Minute)
		assert.Zero(t, ttl%time.Second)
	}
}

func TestLoaderErrorPropagatesAndIsNotCached(t *testing.T) {
	f := newFixture(t, testConfig())
	boom := errors.New("database exploded")

	_, _, err := GetOrLoad(context.Background(), f.o, "k", time.Hour, func(ctx context.Context) (string, bool, error) {
		return "", false, boom
	})
	assert.Same(t, boom, err)
	assert.False(t, f.redis.Exists("k"))

	_, _, err = GetOrLoadWithLock(context.Background(), f.o, "k", time.Hour, func(ctx context.Context) (string, bool, error) {
		return "", false, boom
	})
	assert.Same(t, boom, err)
	assert.False(t, f.redis.Exists("k"))
	assert.False(t, f.redis.Exists("lock:cache:k"))
}

func TestStoreOutageDegradesToLoader(t *testing.T) {
	log := logger.NewZapWrapper(zap.NewNop())
	down := failingStore{}
	o, err := NewOrchestrator(down, lock.NewDistributedLock(down, log, nil, nil), log, nil, testConfig())
	require.NoError(t, err)
	ctx := context.Background()

	value, found, err := GetOrLoad(ctx, o, "post:detail:1", time.Hour, func(ctx context.Context) (string, bool, error) {
		return "fresh", true, nil
	})
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "fresh", value)

	value, found, err = GetOrLoadWithLock(ctx, o, "post:detail:1", time.Hour, func(ctx context.Context) (string, bool, error) {
		return "fresh", true, nil
	})
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "fresh", value)

	var requested []int64
	batch, err := BatchGetOrLoad(ctx, o, "post:detail", []int64{1, 2}, time.Hour,
		func(ctx context.Context, ids []int64) ([]post, error) {
			requested = ids
			return []post{{ID: 1, Title: "one"}}, nil
		},
		func(p post) int64 { return p.ID })
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, requested)
	assert.Equal(t, map[int64]post{1: {ID: 1, Title: "one"}}, batch)

	list, err := GetListOrLoad(ctx, o, "post:hot:cache", time.Hour, func(ctx context.Context) ([]int64, error) {
		return []int64{3, 2, 1}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 2, 1}, list)

	assert.NoError(t, o.Evict(ctx, "post:detail:1"))
}

func TestGetOrLoadWithLockLoadsOnce(t *testing.T) {
	config := testConfig()
	config.LockRetries = 10
	config.LockBackoff = 25 * time.Millisecond
	f := newFixture(t, config)

	var (
		calls int32
		wg    sync.WaitGroup
		start = make(chan struct{})
	)

	const workers = 16
	results := make([]post, workers)
	errs := make([]error, workers)

	loader := func(ctx context.Context) (post, bool, error) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(30 * time.Millisecond)
		return post{ID: 7, Title: "hot"}, true, nil
	}

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			results[i], _, errs[i] = GetOrLoadWithLock(context.Background(), f.o, "post:detail:7", time.Hour, loader)
		}(i)
	}

	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, post{ID: 7, Title: "hot"}, results[i])
	}
	assert.False(t, f.redis.Exists("lock:cache:post:detail:7"))
}

func TestGetOrLoadWithLockDegradesWhenLockStaysHeld(t *testing.T) {
	f := newFixture(t, testConfig())
	require.NoError(t, f.redis.Set("lock:cache:post:detail:9", "someone-else"))

	var calls int32
	value, found, err := GetOrLoadWithLock(context.Background(), f.o, "post:detail:9", time.Hour, func(ctx context.Context) (string, bool, error) {
		atomic.AddInt32(&calls, 1)
		return "direct", true, nil
	})
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "direct", value)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	assert.False(t, f.redis.Exists("post:detail:9"))
	stored, _ := f.redis.Get("lock:cache:post:detail:9")
	assert.Equal(t, "someone-else", stored)
	assert.Equal(t, 1.0, f.metrics.Counter("cache_lock_total", map[string]string{"result": "exhausted"}).Get())
}

func TestGetOrLoadWithLockStopsWaitingOnCancel(t *testing.T) {
	config := testConfig()
	config.LockBackoff = time.Hour
	f := newFixture(t, config)
	require.NoError(t, f.redis.Set("lock:cache:k", "someone-else"))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	started := time.Now()
	value, _, err := GetOrLoadWithLock(ctx, f.o, "k", time.Hour, func(ctx context.Context) (string, bool, error) {
		return "direct", true, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "direct", value)
	assert.Less(t, time.Since(started), 5*time.Second)
}

func TestGetOrLoadWithLockSeesValuePopulatedByHolder(t *testing.T) {
	f := newFixture(t, testConfig())
	require.NoError(t, f.redis.Set("lock:cache:k", "someone-else"))

	go func() {
		time.Sleep(10 * time.Millisecond)
		payload, _ := f.o.codec.Encode("from-holder")
		_ = f.redis.Set("k", string(payload))
	}()

	value, found, err := GetOrLoadWithLock(context.Background(), f.o, "k", time.Hour, func(ctx context.Context) (string, bool, error) {
		t.Error("loader must not run while another holder populates the key")
		return "", false, nil
	})
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "from-holder", value)
}

func TestBatchGetOrLoadPartitions(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	payload, err := f.o.codec.Encode(post{ID: 1, Title: "a"})
	require.NoError(t, err)
	require.NoError(t, f.redis.Set("post:detail:1", string(payload)))
	require.NoError(t, f.redis.Set("post:detail:2", "NULL"))

	var requested []int64
	result, err := BatchGetOrLoad(ctx, f.o, "post:detail", []int64{1, 2, 3, 4}, 10*time.Minute,
		func(ctx context.Context, ids []int64) ([]post, error) {
			requested = append([]int64(nil), ids...)
			return []post{{ID: 3, Title: "c"}}, nil
		},
		func(p post) int64 { return p.ID })
	require.NoError(t, err)

	assert.Equal(t, []int64{3, 4}, requested)
	assert.Equal(t, map[int64]post{1: {ID: 1, Title: "a"}, 3: {ID: 3, Title: "c"}}, result)
	_, hasTwo := result[2]
	assert.False(t, hasTwo)

	negative, err := f.redis.Get("post:detail:4")
	require.NoError(t, err)
	assert.Equal(t, "NULL", negative)
	assert.Equal(t, time.Minute, f.redis.TTL("post:detail:4"))

	ttl := f.redis.TTL("post:detail:3")
	assert.GreaterOrEqual(t, ttl, 10*time.Minute)
	assert.Less(t, ttl, 11*time.Minute)

	again, err := BatchGetOrLoad(ctx, f.o, "post:detail", []int64{1, 2, 3, 4}, 10*time.Minute,
		func(ctx context.Context, ids []int64) ([]post, error) {
			t.Errorf("unexpected reload of %v", ids)
			return nil, nil
		},
		func(p post) int64 { return p.ID })
	require.NoError(t, err)
	assert.Equal(t, result, again)
}

func TestBatchGetOrLoadPropagatesLoaderError(t *testing.T) {
	f := newFixture(t, testConfig())
	boom := errors.New("batch failed")

	_, err := BatchGetOrLoad(context.Background(), f.o, "user:info", []int64{1}, time.Hour,
		func(ctx context.Context, ids []int64) ([]post, error) { return nil, boom },
		func(p post) int64 { return p.ID })
	assert.Same(t, boom, err)
	assert.False(t, f.redis.Exists("user:info:1"))
}

func TestBatchGetOrLoadEmptyIDs(t *testing.T) {
	f := newFixture(t, testConfig())

	result, err := BatchGetOrLoad(context.Background(), f.o, "user:info", nil, time.Hour,
		func(ctx context.Context, ids []int64) ([]post, error) {
			t.Error("loader called for empty id set")
			return nil, nil
		},
		func(p post) int64 { return p.ID })
	require.NoError(t, err)
	assert.Empty(t, result)
}

func TestUndecodableEntryIsReloaded(t *testing.T) {
	f := newFixture(t, testConfig())
	require.NoError(t, f.redis.Set("k", "{legacy-json}"))

	value, found, err := GetOrLoad(context.Background(), f.o, "k", time.Hour, func(ctx context.Context) (string, bool, error) {
		return "fresh", true, nil
	})
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "fresh", value)

	stored, err := f.redis.Get("k")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(stored, "j"))
}

func TestCompressedValuesRoundTrip(t *testing.T) {
	config := testConfig()
	config.Compression = &types.CompressionConfig{Enabled: true, Threshold: 64, Quality: 5}
	f := newFixture(t, config)
	ctx := context.Background()

	long := strings.Repeat("cache-aside ", 100)
	_, _, err := GetOrLoad(ctx, f.o, "post:detail:big", time.Hour, func(ctx context.Context) (post, bool, error) {
		return post{ID: 99, Title: long}, true, nil
	})
	require.NoError(t, err)

	stored, err := f.redis.Get("post:detail:big")
	require.NoError(t, err)
	assert.Equal(t, byte('b'), stored[0])
	assert.Less(t, len(stored), len(long))

	value, found, err := GetOrLoad(ctx, f.o, "post:detail:big", time.Hour, func(ctx context.Context) (post, bool, error) {
		t.Error("compressed entry was not served from cache")
		return post{}, false, nil
	})
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, long, value.Title)
}

func TestGetListOrLoad(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	var calls int32
	empty := func(ctx context.Context) ([]int64, error) {
		atomic.AddInt32(&calls, 1)
		return nil, nil
	}

	for i := 0; i < 2; i++ {
		list, err := GetListOrLoad(ctx, f.o, "comment:rank:hot:post:1", time.Hour, empty)
		require.NoError(t, err)
		assert.NotNil(t, list)
		assert.Empty(t, list)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	list, err := GetListOrLoad(ctx, f.o, "post:hot:cache", time.Hour, func(ctx context.Context) ([]int64, error) {
		return []int64{5, 4}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{5, 4}, list)

	cached, err := GetListOrLoad(ctx, f.o, "post:hot:cache", time.Hour, empty)
	require.NoError(t, err)
	assert.Equal(t, []int64{5, 4}, cached)
}

func TestEviction(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	for _, key := range []string{"post:detail:1", "post:detail:2", "post:detail:3", "user:info:1"} {
		require.NoError(t, f.redis.Set(key, "x"))
	}

	require.NoError(t, f.o.Evict(ctx, "post:detail:1"))
	assert.False(t, f.redis.Exists("post:detail:1"))
	assert.ErrorIs(t, f.o.Evict(ctx, ""), types.ErrCacheKeyEmpty)

	require.NoError(t, BatchEvict(ctx, f.o, "post:detail", []int64{2, 2, 9}))
	assert.False(t, f.redis.Exists("post:detail:2"))
	assert.True(t, f.redis.Exists("post:detail:3"))

	deleted, err := f.o.EvictPattern(ctx, "post:*")
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
	assert.False(t, f.redis.Exists("post:detail:3"))
	assert.True(t, f.redis.Exists("user:info:1"))
}

// scanlessStore serves every call except the cursor scan.
type scanlessStore struct {
	types.StoreClient
}

func (scanlessStore) Scan(context.Context, string, int64) types.KeyIterator { return failedScan{} }

type failedScan struct{}

func (failedScan) Next(context.Context) bool { return false }
func (failedScan) Val() string               { return "" }
func (failedScan) Err() error {
	return types.NewStoreError("scan", "", errors.New("ERR unknown command 'scan'"))
}

func TestEvictPatternKeysFallback(t *testing.T) {
	tests := []struct {
		name      string
		allow     bool
		deleted   int64
		remaining bool
	}{
		{name: "disabled", allow: false, deleted: 0, remaining: true},
		{name: "enabled", allow: true, deleted: 3, remaining: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, testConfig())
			ctx := context.Background()

			for _, key := range []string{"post:detail:1", "post:detail:2", "post:detail:3", "user:info:1"} {
				require.NoError(t, f.redis.Set(key, "x"))
			}

			config := testConfig()
			config.AllowKeysFallback = tt.allow
			log := logger.NewZapWrapper(zap.NewNop())
			client := scanlessStore{StoreClient: f.o.Store()}
			o, err := NewOrchestrator(client, lock.NewDistributedLock(client, log, nil, nil), log, f.metrics, config)
			require.NoError(t, err)

			deleted, err := o.EvictPattern(ctx, "post:detail:*")
			require.NoError(t, err)
			assert.Equal(t, tt.deleted, deleted)

			for _, key := range []string{"post:detail:1", "post:detail:2", "post:detail:3"} {
				assert.Equal(t, tt.remaining, f.redis.Exists(key), key)
			}
			assert.True(t, f.redis.Exists("user:info:1"))
		})
	}
}

func TestZeroConfigKeepsDefaults(t *testing.T) {
	log := logger.NewZapWrapper(zap.NewNop())
	client := failingStore{}
	o, err := NewOrchestrator(client, lock.NewDistributedLock(client, log, nil, nil), log, nil, &types.CacheConfig{})
	require.NoError(t, err)

	assert.Equal(t, keyspace.DefaultTTL, o.defaultTTL)
	assert.Equal(t, keyspace.NegativeTTL, o.negativeTTL)
	assert.Equal(t, keyspace.JitterRange, o.jitterRange)
	assert.Positive(t, o.jitterRange)
}

func TestCodecNeverProducesSentinel(t *testing.T) {
	codec := NewCodec(nil)

	payload, err := codec.Encode("NULL")
	require.NoError(t, err)
	assert.False(t, IsNegative(payload))

	value, err := decode[string](payload)
	require.NoError(t, err)
	assert.Equal(t, "NULL", value)

	_, err = decode[string]([]byte("xyz"))
	assert.ErrorIs(t, err, types.ErrCacheDecodeFailed)
}

func TestOrchestratorValidatesArguments(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	_, _, err := GetOrLoad[string](ctx, f.o, "", time.Hour, func(ctx context.Context) (string, bool, error) { return "", false, nil })
	assert.ErrorIs(t, err, types.ErrCacheKeyEmpty)

	_, _, err = GetOrLoadWithLock[string](ctx, f.o, "k", time.Hour, nil)
	assert.ErrorIs(t, err, types.ErrCacheLoaderIsNil)

	_, err = BatchGetOrLoad[int64, post](ctx, f.o, "p", []int64{1}, time.Hour, func(ctx context.Context, ids []int64) ([]post, error) { return nil, nil }, nil)
	assert.ErrorIs(t, err, types.ErrCacheExtractorNil)

	_, err = NewOrchestrator(nil, nil, logger.NewZapWrapper(zap.NewNop()), nil, nil)
	assert.ErrorIs(t, err, types.ErrCacheInvalidConfig)
}
