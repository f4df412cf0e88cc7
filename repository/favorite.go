package repository

import (
	"context"

	"github.com/saiset-co/sai-cache/keyspace"
	"github.com/saiset-co/sai-cache/types"
)

// FavoriteCache keeps favorite counters and each user's favorited set,
// with members encoded as <target type>:<target id>.
type FavoriteCache struct {
	base
}

func NewFavoriteCache(store types.StoreClient, logger types.Logger) *FavoriteCache {
	return &FavoriteCache{base: newBase(store, logger, "favorite")}
}

func favoriteMember(target keyspace.TargetType, targetID int64) string {
	return keyspace.Key(target, targetID)
}

func (c *FavoriteCache) Count(ctx context.Context, target keyspace.TargetType, targetID int64) (int64, bool) {
	return c.count(ctx, keyspace.FavoriteCount(target, targetID))
}

func (c *FavoriteCache) SetCount(ctx context.Context, target keyspace.TargetType, targetID, n int64) {
	c.setCount(ctx, keyspace.FavoriteCount(target, targetID), n, keyspace.CountTTL)
}

func (c *FavoriteCache) IncrementCount(ctx context.Context, target keyspace.TargetType, targetID, delta int64) (int64, bool) {
	return c.incrementCountFloor(ctx, keyspace.FavoriteCount(target, targetID), delta, keyspace.CountTTL)
}

func (c *FavoriteCache) EvictCount(ctx context.Context, target keyspace.TargetType, targetID int64) {
	c.deleteKeys(ctx, keyspace.FavoriteCount(target, targetID))
}

// UpdateRelation adds or removes the target from the user's favorited set.
func (c *FavoriteCache) UpdateRelation(ctx context.Context, userID int64, target keyspace.TargetType, targetID int64, favorite bool) {
	key := keyspace.UserFavorites(userID)
	member := favoriteMember(target, targetID)

	if !favorite {
		if _, err := c.store.SetRemove(ctx, key, member); err != nil {
			c.failed("srem", key, err)
		}
		return
	}

	if _, err := c.store.SetAdd(ctx, key, member); err != nil {
		c.failed("sadd", key, err)
		return
	}
	if _, err := c.store.Expire(ctx, key, keyspace.DefaultTTL); err != nil {
		c.failed("expire", key, err)
	}
}

// IsFavorited is true only when the cache confirms the favorite.
func (c *FavoriteCache) IsFavorited(ctx context.Context, userID int64, target keyspace.TargetType, targetID int64) bool {
	key := keyspace.UserFavorites(userID)

	favorited, err := c.store.SetIsMember(ctx, key, favoriteMember(target, targetID))
	if err != nil {
		c.failed("sismember", key, err)
		return false
	}
	return favorited
}

func (c *FavoriteCache) UserCount(ctx context.Context, userID int64) (int64, bool) {
	return c.count(ctx, keyspace.UserFavoriteCount(userID))
}

func (c *FavoriteCache) SetUserCount(ctx context.Context, userID, n int64) {
	c.setCount(ctx, keyspace.UserFavoriteCount(userID), n, keyspace.DefaultTTL)
}

// IncrementUserCount never lets the counter drop below zero.
func (c *FavoriteCache) IncrementUserCount(ctx context.Context, userID, delta int64) (int64, bool) {
	return c.incrementCountFloor(ctx, keyspace.UserFavoriteCount(userID), delta, keyspace.DefaultTTL)
}
