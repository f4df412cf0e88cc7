package repository

import (
	"context"
	"strconv"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-cache/keyspace"
	"github.com/saiset-co/sai-cache/ranking"
	"github.com/saiset-co/sai-cache/types"
)

// LikeCache keeps like counters, the per-user liked set and a most-liked
// board per target type. The user set is a partial cache: membership confirms
// a like, absence proves nothing.
type LikeCache struct {
	base
	ranking *ranking.Engine
}

func NewLikeCache(store types.StoreClient, engine *ranking.Engine, logger types.Logger) *LikeCache {
	return &LikeCache{base: newBase(store, logger, "like"), ranking: engine}
}

func (c *LikeCache) Count(ctx context.Context, target keyspace.TargetType, targetID int64) (int64, bool) {
	return c.count(ctx, keyspace.LikeCount(target, targetID))
}

func (c *LikeCache) SetCount(ctx context.Context, target keyspace.TargetType, targetID, n int64) {
	c.setCount(ctx, keyspace.LikeCount(target, targetID), n, keyspace.CountTTL)
}

func (c *LikeCache) IncrementCount(ctx context.Context, target keyspace.TargetType, targetID, delta int64) (int64, bool) {
	return c.incrementCountFloor(ctx, keyspace.LikeCount(target, targetID), delta, keyspace.CountTTL)
}

func (c *LikeCache) EvictCount(ctx context.Context, target keyspace.TargetType, targetID int64) {
	c.deleteKeys(ctx, keyspace.LikeCount(target, targetID))
}

// Like records userID liking the target. The counter moves only when the user
// set actually changed, and both change together. ok=false means the store
// could not be updated and the caller should evict instead.
func (c *LikeCache) Like(ctx context.Context, userID int64, target keyspace.TargetType, targetID int64) (count int64, applied bool, ok bool) {
	return c.toggle(ctx, userID, target, targetID, 1)
}

func (c *LikeCache) Unlike(ctx context.Context, userID int64, target keyspace.TargetType, targetID int64) (count int64, applied bool, ok bool) {
	return c.toggle(ctx, userID, target, targetID, -1)
}

func (c *LikeCache) toggle(ctx context.Context, userID int64, target keyspace.TargetType, targetID, delta int64) (int64, bool, bool) {
	countKey := keyspace.LikeCount(target, targetID)
	setKey := keyspace.UserLikes(target, userID)

	count, applied, err := c.store.IncrementAndTag(ctx, countKey, setKey, strconv.FormatInt(targetID, 10), delta, keyspace.RelationTTL)
	if err != nil {
		c.failed("increment_and_tag", countKey, err)
		return 0, false, false
	}

	if _, err := c.store.Expire(ctx, countKey, keyspace.CountTTL); err != nil {
		c.failed("expire", countKey, err)
	}

	if applied {
		c.rank(ctx, target, targetID, count)
	}

	c.logger.Debug("Like toggled",
		zap.Int64("user_id", userID),
		zap.String("target", target.String()),
		zap.Int64("target_id", targetID),
		zap.Int64("delta", delta),
		zap.Bool("applied", applied),
		zap.Int64("count", count))
	return count, applied, true
}

// rank moves targetID on the most-liked board; a target with no likes leaves it.
func (c *LikeCache) rank(ctx context.Context, target keyspace.TargetType, targetID, count int64) {
	board := keyspace.LikeRank(target)
	member := strconv.FormatInt(targetID, 10)

	var err error
	if count > 0 {
		err = c.ranking.Upsert(ctx, board, member, float64(count))
	} else {
		err = c.ranking.Remove(ctx, board, member)
	}
	if err != nil {
		c.failed("rank", board, err)
	}
}

// MostLiked returns up to n target ids of one type, most liked first. The
// board is advisory: concurrent toggles may leave a score one step behind
// the counter until the next toggle.
func (c *LikeCache) MostLiked(ctx context.Context, target keyspace.TargetType, n int64) ([]int64, error) {
	members, err := c.ranking.TopN(ctx, keyspace.LikeRank(target), n)
	if err != nil {
		return nil, err
	}
	return parseIDs(members), nil
}

// IsLiked is true only when the cache confirms the like.
func (c *LikeCache) IsLiked(ctx context.Context, userID int64, target keyspace.TargetType, targetID int64) bool {
	key := keyspace.UserLikes(target, userID)

	liked, err := c.store.SetIsMember(ctx, key, strconv.FormatInt(targetID, 10))
	if err != nil {
		c.failed("sismember", key, err)
		return false
	}
	return liked
}

// BatchLiked returns only the target ids confirmed as liked. Ids missing from
// the result must be checked against the source of truth.
func (c *LikeCache) BatchLiked(ctx context.Context, userID int64, target keyspace.TargetType, targetIDs []int64) map[int64]bool {
	result := make(map[int64]bool)
	if len(targetIDs) == 0 {
		return result
	}

	key := keyspace.UserLikes(target, userID)
	members, err := c.store.SetMembers(ctx, key)
	if err != nil {
		c.failed("smembers", key, err)
		return result
	}

	liked := make(map[string]struct{}, len(members))
	for _, member := range members {
		liked[member] = struct{}{}
	}

	for _, targetID := range targetIDs {
		if _, ok := liked[strconv.FormatInt(targetID, 10)]; ok {
			result[targetID] = true
		}
	}
	return result
}

// CacheLikedIDs seeds the user's liked set from the source of truth.
func (c *LikeCache) CacheLikedIDs(ctx context.Context, userID int64, target keyspace.TargetType, targetIDs []int64) {
	if len(targetIDs) == 0 {
		return
	}

	key := keyspace.UserLikes(target, userID)
	if _, err := c.store.SetAdd(ctx, key, formatIDs(targetIDs)...); err != nil {
		c.failed("sadd", key, err)
		return
	}
	if _, err := c.store.Expire(ctx, key, keyspace.RelationTTL); err != nil {
		c.failed("expire", key, err)
	}
}
