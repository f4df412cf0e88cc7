package repository

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-cache/cache"
	"github.com/saiset-co/sai-cache/keyspace"
	"github.com/saiset-co/sai-cache/types"
)

// Tag is the cached projection of a hot tag.
type Tag struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	PostCount int64     `json:"post_count,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TagCache caches hot tag lists per time range and limit.
type TagCache struct {
	base
	cache *cache.Orchestrator
}

func NewTagCache(orchestrator *cache.Orchestrator, logger types.Logger) *TagCache {
	return &TagCache{
		base:  newBase(orchestrator.Store(), logger, "tag"),
		cache: orchestrator,
	}
}

// HotTags returns the hot tags for timeRange, loading them on a miss. An
// empty range defaults to all time. A freshly loaded empty list is kept for
// TagEmptyResultTTL.
func (c *TagCache) HotTags(ctx context.Context, timeRange keyspace.TimeRange, limit int, loader types.ListLoader[Tag]) ([]Tag, error) {
	if limit <= 0 {
		return nil, types.Errorf(types.ErrRankingLimitInvalid, "limit: %d", limit)
	}
	if timeRange == "" {
		timeRange = keyspace.TimeRangeAll
	}
	if loader == nil {
		return nil, types.ErrCacheLoaderIsNil
	}

	key := keyspace.TagHot(timeRange, limit)
	loaded := false

	tags, err := cache.GetListOrLoad(ctx, c.cache, key, keyspace.DefaultTTL, func(ctx context.Context) ([]Tag, error) {
		loaded = true
		return loader(ctx)
	})
	if err != nil {
		return nil, err
	}

	if loaded && len(tags) == 0 {
		if _, err := c.store.Expire(ctx, key, keyspace.TagEmptyResultTTL); err != nil {
			c.failed("expire", key, err)
		}
	}
	return tags, nil
}

// RefreshHotTags drops the cached list and loads it again.
func (c *TagCache) RefreshHotTags(ctx context.Context, timeRange keyspace.TimeRange, limit int, loader types.ListLoader[Tag]) ([]Tag, error) {
	if timeRange == "" {
		timeRange = keyspace.TimeRangeAll
	}
	if limit > 0 {
		if err := c.cache.Evict(ctx, keyspace.TagHot(timeRange, limit)); err != nil {
			return nil, err
		}
	}
	return c.HotTags(ctx, timeRange, limit, loader)
}

// EvictHotTags drops the lists of one time range at every limit, or of every
// time range when timeRange is empty.
func (c *TagCache) EvictHotTags(ctx context.Context, timeRange keyspace.TimeRange) (int64, error) {
	pattern := keyspace.Pattern(keyspace.TagHotPrefix())
	if timeRange != "" {
		pattern = keyspace.Pattern(keyspace.TagHotPrefix(), timeRange)
	}

	deleted, err := c.cache.EvictPattern(ctx, pattern)
	if err != nil {
		return 0, err
	}

	c.logger.Debug("Hot tags evicted", zap.String("time_range", timeRange.String()), zap.Int64("deleted", deleted))
	return deleted, nil
}
