// Package repository holds the domain cache adapters built on the cache
// orchestrator, the ranking engine and the raw store. Store failures never
// escape an adapter: reads report cached=false and the caller goes to its
// source of truth.
package repository

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-cache/cache"
	"github.com/saiset-co/sai-cache/keyspace"
	"github.com/saiset-co/sai-cache/ranking"
	"github.com/saiset-co/sai-cache/types"
)

const emptyMarker = "1"

type base struct {
	store  types.StoreClient
	logger types.Logger
	domain string
}

func newBase(store types.StoreClient, logger types.Logger, domain string) base {
	return base{store: store, logger: logger, domain: domain}
}

func (b base) failed(operation, key string, err error) {
	b.logger.Warn("Cache adapter store operation failed",
		zap.String("domain", b.domain),
		zap.String("operation", operation),
		zap.String("key", key),
		zap.Error(err))
}

func (b base) count(ctx context.Context, key string) (int64, bool) {
	raw, found, err := b.store.Get(ctx, key)
	if err != nil {
		b.failed("get", key, err)
		return 0, false
	}
	if !found {
		return 0, false
	}

	n, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		b.logger.Warn("Cached counter is not an integer", zap.String("key", key), zap.ByteString("value", raw))
		return 0, false
	}
	return n, true
}

func (b base) setCount(ctx context.Context, key string, n int64, ttl time.Duration) {
	if err := b.store.Set(ctx, key, []byte(strconv.FormatInt(n, 10)), ttl); err != nil {
		b.failed("set", key, err)
	}
}

// incrementCount always refreshes the TTL after the increment, since the
// store never sets one on Increment.
func (b base) incrementCount(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, bool) {
	n, err := b.store.Increment(ctx, key, delta)
	if err != nil {
		b.failed("incrby", key, err)
		return 0, false
	}

	if _, err := b.store.Expire(ctx, key, ttl); err != nil {
		b.failed("expire", key, err)
	}
	return n, true
}

// incrementCountFloor is incrementCount that resets negative results to zero.
func (b base) incrementCountFloor(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, bool) {
	n, ok := b.incrementCount(ctx, key, delta, ttl)
	if ok && n < 0 {
		b.setCount(ctx, key, 0, ttl)
		return 0, true
	}
	return n, ok
}

// replaceSet rewrites key with members, or records an empty marker when there are none.
func (b base) replaceSet(ctx context.Context, key string, members []string, ttl, emptyTTL time.Duration) {
	marker := keyspace.Empty(key)

	if _, err := b.store.Delete(ctx, key, marker); err != nil {
		b.failed("delete", key, err)
		return
	}

	if len(members) == 0 {
		if err := b.store.Set(ctx, marker, []byte(emptyMarker), emptyTTL); err != nil {
			b.failed("set", marker, err)
		}
		return
	}

	if _, err := b.store.SetAdd(ctx, key, members...); err != nil {
		b.failed("sadd", key, err)
		return
	}
	if _, err := b.store.Expire(ctx, key, ttl); err != nil {
		b.failed("expire", key, err)
	}
}

// readSet returns the cached members. cached=false means nothing is known.
func (b base) readSet(ctx context.Context, key string) ([]string, bool) {
	marker := keyspace.Empty(key)

	empty, err := b.store.Exists(ctx, marker)
	if err != nil {
		b.failed("exists", marker, err)
		return nil, false
	}
	if empty {
		return []string{}, true
	}

	members, err := b.store.SetMembers(ctx, key)
	if err != nil {
		b.failed("smembers", key, err)
		return nil, false
	}
	if len(members) == 0 {
		return nil, false
	}
	return members, true
}

func (b base) deleteKeys(ctx context.Context, keys ...string) {
	if _, err := b.store.Delete(ctx, keys...); err != nil {
		b.failed("delete", keys[0], err)
	}
}

func formatIDs(ids []int64) []string {
	members := make([]string, len(ids))
	for i, id := range ids {
		members[i] = strconv.FormatInt(id, 10)
	}
	return members
}

// parseIDs drops members that are not integers.
func parseIDs(members []string) []int64 {
	ids := make([]int64, 0, len(members))
	for _, member := range members {
		id, err := strconv.ParseInt(member, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

func formatScores(scores map[int64]float64) map[string]float64 {
	members := make(map[string]float64, len(scores))
	for id, score := range scores {
		members[strconv.FormatInt(id, 10)] = score
	}
	return members
}

// Set bundles the adapters that need no caller-supplied value type. Post and
// user profile caches are generic and built by the caller.
type Set struct {
	Comments  *CommentCache
	Users     *UserRankingCache
	Follows   *FollowCache
	Likes     *LikeCache
	Favorites *FavoriteCache
	Tags      *TagCache
}

func NewSet(orchestrator *cache.Orchestrator, engine *ranking.Engine, logger types.Logger) *Set {
	store := orchestrator.Store()

	return &Set{
		Comments:  NewCommentCache(store, engine, logger),
		Users:     NewUserRankingCache(store, engine, logger),
		Follows:   NewFollowCache(store, logger),
		Likes:     NewLikeCache(store, engine, logger),
		Favorites: NewFavoriteCache(store, logger),
		Tags:      NewTagCache(orchestrator, logger),
	}
}
