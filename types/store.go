package types

import (
	"context"
	"time"
)

// StoreClient is the key-value store surface used by the cache and ranking layers.
//
// Lookups report (value, found, err): found=false with a nil error means the key
// is absent. A non-nil error is always an infrastructure failure and satisfies
// errors.Is(err, ErrStoreUnavailable).
//
// Increment never sets a TTL. Callers that need one pair it with Expire.
type StoreClient interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// MGet returns one slot per key, nil for absent keys.
	MGet(ctx context.Context, keys ...string) ([][]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	MSet(ctx context.Context, values map[string][]byte) error
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	CompareAndDelete(ctx context.Context, key string, expected []byte) (bool, error)
	Delete(ctx context.Context, keys ...string) (int64, error)
	Exists(ctx context.Context, key string) (bool, error)
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	TTL(ctx context.Context, key string) (time.Duration, error)
	Increment(ctx context.Context, key string, delta int64) (int64, error)

	SetAdd(ctx context.Context, key string, members ...string) (int64, error)
	SetRemove(ctx context.Context, key string, members ...string) (int64, error)
	SetIsMember(ctx context.Context, key, member string) (bool, error)
	SetMembers(ctx context.Context, key string) ([]string, error)
	SetSize(ctx context.Context, key string) (int64, error)

	ZAdd(ctx context.Context, key, member string, score float64) error
	ZRemove(ctx context.Context, key string, members ...string) (int64, error)
	ZRevRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	ZRevRangeWithScores(ctx context.Context, key string, start, stop int64) ([]RankEntry, error)
	ZRangeWithScores(ctx context.Context, key string, start, stop int64) ([]RankEntry, error)
	ZScore(ctx context.Context, key, member string) (float64, bool, error)
	// ZRevRank is zero-based.
	ZRevRank(ctx context.Context, key, member string) (int64, bool, error)
	ZCard(ctx context.Context, key string) (int64, error)
	ZRemRangeByRank(ctx context.Context, key string, start, stop int64) (int64, error)

	// IncrementAndTag applies delta to counterKey and the matching membership
	// change of member in setKey as one atomic unit. A positive delta adds the
	// member, a negative one removes it. When the membership is already in the
	// requested state nothing changes and applied is false. Both keys get ttl.
	IncrementAndTag(ctx context.Context, counterKey, setKey, member string, delta int64, ttl time.Duration) (count int64, applied bool, err error)

	// Scan iterates keys matching pattern with a non-blocking cursor.
	Scan(ctx context.Context, pattern string, count int64) KeyIterator
	// Keys is a blocking listing. Only use it when Scan is unavailable.
	Keys(ctx context.Context, pattern string) ([]string, error)
	Ping(ctx context.Context) error
}

// TTL sentinels, matching the values go-redis reports.
const (
	TTLNoExpiry   time.Duration = -1
	TTLKeyMissing time.Duration = -2
)

type KeyIterator interface {
	Next(ctx context.Context) bool
	Val() string
	Err() error
}

type StoreManager interface {
	LifecycleManager
	StoreClient
	// Close releases connections and workers whether or not the store was
	// started. It is safe to call more than once.
	Close() error
}

type StoreCreator func(config *StoreConfig) (StoreManager, error)
