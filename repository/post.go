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

type PostCounter int

const (
	PostViews PostCounter = iota
	PostLikes
	PostFavorites
	PostComments
)

func (c PostCounter) key(postID int64) string {
	switch c {
	case PostLikes:
		return keyspace.PostLikeCount(postID)
	case PostFavorites:
		return keyspace.PostFavoriteCount(postID)
	case PostComments:
		return keyspace.PostCommentCount(postID)
	default:
		return keyspace.PostViewCount(postID)
	}
}

// PostCache caches post details of type P, the global hot ranking and the
// per-post counters.
type PostCache[P any] struct {
	base
	cache    *cache.Orchestrator
	ranking  *ranking.Engine
	strategy types.ScoreStrategy
	postID   types.IDExtractor[int64, P]
}

func NewPostCache[P any](orchestrator *cache.Orchestrator, engine *ranking.Engine, logger types.Logger, postID types.IDExtractor[int64, P]) *PostCache[P] {
	return &PostCache[P]{
		base:     newBase(orchestrator.Store(), logger, "post"),
		cache:    orchestrator,
		ranking:  engine,
		strategy: ranking.RedditHot{},
		postID:   postID,
	}
}

// WithStrategy swaps the hot score strategy.
func (c *PostCache[P]) WithStrategy(strategy types.ScoreStrategy) *PostCache[P] {
	c.strategy = strategy
	return c
}

// Detail is lock-guarded since a single hot post can draw many concurrent misses.
func (c *PostCache[P]) Detail(ctx context.Context, postID int64, loader types.Loader[P]) (P, bool, error) {
	return cache.GetOrLoadWithLock(ctx, c.cache, keyspace.PostDetail(postID), keyspace.DefaultTTL, loader)
}

func (c *PostCache[P]) Details(ctx context.Context, postIDs []int64, loader types.BatchLoader[int64, P]) (map[int64]P, error) {
	return cache.BatchGetOrLoad(ctx, c.cache, keyspace.PostDetailPrefix(), postIDs, keyspace.DefaultTTL, loader, c.postID)
}

func (c *PostCache[P]) EvictDetail(ctx context.Context, postID int64) error {
	return c.cache.Evict(ctx, keyspace.PostDetail(postID))
}

func (c *PostCache[P]) EvictDetails(ctx context.Context, postIDs []int64) error {
	return cache.BatchEvict(ctx, c.cache, keyspace.PostDetailPrefix(), postIDs)
}

// HotList caches the materialised hot id list produced by loader.
func (c *PostCache[P]) HotList(ctx context.Context, loader types.ListLoader[int64]) ([]int64, error) {
	return cache.GetListOrLoad(ctx, c.cache, keyspace.PostHotCache(), keyspace.PostHotRankTTL, loader)
}

func (c *PostCache[P]) UpdateHotScore(ctx context.Context, postID int64, engagement types.Engagement, now time.Time) (float64, error) {
	score := c.strategy.Score(engagement, now)
	if err := c.ranking.Upsert(ctx, keyspace.PostHotRank(), strconv.FormatInt(postID, 10), score); err != nil {
		return 0, err
	}
	return score, nil
}

func (c *PostCache[P]) HotIDs(ctx context.Context, start, end int64) ([]int64, error) {
	members, err := c.ranking.Range(ctx, keyspace.PostHotRank(), start, end)
	if err != nil {
		return nil, err
	}
	return parseIDs(members), nil
}

// RebuildHotRank replaces the whole ranking. An empty map leaves an empty marker.
func (c *PostCache[P]) RebuildHotRank(ctx context.Context, scores map[int64]float64) error {
	err := c.ranking.ReplaceAll(ctx, keyspace.PostHotRank(), formatScores(scores), keyspace.PostHotRankTTL)
	if err == nil {
		c.logger.Info("Post hot ranking rebuilt", zap.Int("posts", len(scores)))
	}
	return err
}

func (c *PostCache[P]) IsHotRankEmpty(ctx context.Context) (bool, error) {
	return c.ranking.IsEmptyResultCached(ctx, keyspace.PostHotRank())
}

func (c *PostCache[P]) RemoveFromHotRank(ctx context.Context, postIDs ...int64) error {
	return c.ranking.RemoveMany(ctx, keyspace.PostHotRank(), formatIDs(postIDs)...)
}

func (c *PostCache[P]) HotScore(ctx context.Context, postID int64) (float64, bool, error) {
	return c.ranking.Score(ctx, keyspace.PostHotRank(), strconv.FormatInt(postID, 10))
}

func (c *PostCache[P]) HotRankSize(ctx context.Context) (int64, error) {
	return c.ranking.Size(ctx, keyspace.PostHotRank())
}

func (c *PostCache[P]) TrimHotRank(ctx context.Context, keep int64) (int64, error) {
	return c.ranking.TrimToTopN(ctx, keyspace.PostHotRank(), keep)
}

func (c *PostCache[P]) Count(ctx context.Context, counter PostCounter, postID int64) (int64, bool) {
	return c.count(ctx, counter.key(postID))
}

func (c *PostCache[P]) SetCount(ctx context.Context, counter PostCounter, postID, n int64) {
	c.setCount(ctx, counter.key(postID), n, keyspace.CountTTL)
}

func (c *PostCache[P]) IncrementCount(ctx context.Context, counter PostCounter, postID, delta int64) (int64, bool) {
	return c.incrementCountFloor(ctx, counter.key(postID), delta, keyspace.CountTTL)
}

// EvictCounters drops every counter of postID.
func (c *PostCache[P]) EvictCounters(ctx context.Context, postID int64) {
	c.deleteKeys(ctx,
		PostViews.key(postID),
		PostLikes.key(postID),
		PostFavorites.key(postID),
		PostComments.key(postID))
}
