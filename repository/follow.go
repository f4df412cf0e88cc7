package repository

import (
	"context"

	"github.com/saiset-co/sai-cache/keyspace"
	"github.com/saiset-co/sai-cache/types"
)

// FollowCache stores follow graph slices as sets. A cached empty list is an
// explicit marker, so "no follows" and "not cached" stay distinguishable.
type FollowCache struct {
	base
}

func NewFollowCache(store types.StoreClient, logger types.Logger) *FollowCache {
	return &FollowCache{base: newBase(store, logger, "follow")}
}

func (c *FollowCache) CacheFollowing(ctx context.Context, userID int64, followingIDs []int64) {
	c.replaceSet(ctx, keyspace.FollowFollowing(userID), formatIDs(followingIDs), keyspace.RelationTTL, keyspace.EmptyResultTTL)
}

func (c *FollowCache) Following(ctx context.Context, userID int64) ([]int64, bool) {
	return c.readIDs(ctx, keyspace.FollowFollowing(userID))
}

func (c *FollowCache) CacheFollowers(ctx context.Context, userID int64, followerIDs []int64) {
	c.replaceSet(ctx, keyspace.FollowFollowers(userID), formatIDs(followerIDs), keyspace.RelationTTL, keyspace.EmptyResultTTL)
}

func (c *FollowCache) Followers(ctx context.Context, userID int64) ([]int64, bool) {
	return c.readIDs(ctx, keyspace.FollowFollowers(userID))
}

func (c *FollowCache) CacheMutual(ctx context.Context, userID int64, mutualIDs []int64) {
	c.replaceSet(ctx, keyspace.FollowMutual(userID), formatIDs(mutualIDs), keyspace.RelationTTL, keyspace.EmptyResultTTL)
}

func (c *FollowCache) Mutual(ctx context.Context, userID int64) ([]int64, bool) {
	return c.readIDs(ctx, keyspace.FollowMutual(userID))
}

func (c *FollowCache) CacheFollowingCount(ctx context.Context, userID, n int64) {
	c.setCount(ctx, keyspace.FollowFollowingCount(userID), n, keyspace.RelationTTL)
}

func (c *FollowCache) FollowingCount(ctx context.Context, userID int64) (int64, bool) {
	return c.count(ctx, keyspace.FollowFollowingCount(userID))
}

func (c *FollowCache) CacheFollowersCount(ctx context.Context, userID, n int64) {
	c.setCount(ctx, keyspace.FollowFollowersCount(userID), n, keyspace.RelationTTL)
}

func (c *FollowCache) FollowersCount(ctx context.Context, userID int64) (int64, bool) {
	return c.count(ctx, keyspace.FollowFollowersCount(userID))
}

func (c *FollowCache) CacheStatus(ctx context.Context, followerID, followedID int64, following bool) {
	key := keyspace.FollowStatus(followerID, followedID)
	value := "0"
	if following {
		value = "1"
	}
	if err := c.store.Set(ctx, key, []byte(value), keyspace.RelationTTL); err != nil {
		c.failed("set", key, err)
	}
}

// Status reports whether followerID follows followedID, and whether that is known.
func (c *FollowCache) Status(ctx context.Context, followerID, followedID int64) (following bool, cached bool) {
	key := keyspace.FollowStatus(followerID, followedID)

	raw, found, err := c.store.Get(ctx, key)
	if err != nil {
		c.failed("get", key, err)
		return false, false
	}
	if !found {
		return false, false
	}
	return string(raw) == "1", true
}

// EvictUser drops every follow key owned by userID, empty markers included.
func (c *FollowCache) EvictUser(ctx context.Context, userID int64) {
	following := keyspace.FollowFollowing(userID)
	followers := keyspace.FollowFollowers(userID)
	mutual := keyspace.FollowMutual(userID)

	c.deleteKeys(ctx,
		following, keyspace.Empty(following),
		followers, keyspace.Empty(followers),
		mutual, keyspace.Empty(mutual),
		keyspace.FollowFollowingCount(userID),
		keyspace.FollowFollowersCount(userID))
}

// EvictRelation drops the status of the pair and both users' follow keys.
func (c *FollowCache) EvictRelation(ctx context.Context, followerID, followedID int64) {
	c.deleteKeys(ctx, keyspace.FollowStatus(followerID, followedID))
	c.EvictUser(ctx, followerID)
	c.EvictUser(ctx, followedID)
}

func (c *FollowCache) readIDs(ctx context.Context, key string) ([]int64, bool) {
	members, cached := c.readSet(ctx, key)
	if !cached {
		return nil, false
	}
	return parseIDs(members), true
}
