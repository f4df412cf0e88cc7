package repository

import (
	"context"
	"strconv"
	"time"

	"github.com/saiset-co/sai-cache/keyspace"
	"github.com/saiset-co/sai-cache/ranking"
	"github.com/saiset-co/sai-cache/types"
)

// MaxHotComments bounds each comment hot ranking after TrimHotRank.
const MaxHotComments = 100

// CommentCache keeps per-target comment and reply hot rankings, updated
// incrementally, and comment counters.
type CommentCache struct {
	base
	ranking  *ranking.Engine
	strategy types.ScoreStrategy
}

func NewCommentCache(store types.StoreClient, engine *ranking.Engine, logger types.Logger) *CommentCache {
	return &CommentCache{
		base:     newBase(store, logger, "comment"),
		ranking:  engine,
		strategy: ranking.CommentHeat{},
	}
}

func (c *CommentCache) WithStrategy(strategy types.ScoreStrategy) *CommentCache {
	c.strategy = strategy
	return c
}

func (c *CommentCache) HotIDs(ctx context.Context, commentType keyspace.CommentType, targetID, start, end int64) ([]int64, error) {
	members, err := c.ranking.Range(ctx, keyspace.CommentHotRank(commentType, targetID), start, end)
	if err != nil {
		return nil, err
	}
	return parseIDs(members), nil
}

// CacheHotRank merges scores into the ranking and refreshes its TTL. Unlike a
// rebuild it keeps members that are not in scores.
func (c *CommentCache) CacheHotRank(ctx context.Context, commentType keyspace.CommentType, targetID int64, scores map[int64]float64) error {
	board := keyspace.CommentHotRank(commentType, targetID)

	if len(scores) == 0 {
		return c.cacheEmpty(ctx, board)
	}

	if _, err := c.ranking.BatchUpsert(ctx, board, formatScores(scores)); err != nil {
		return err
	}
	return c.ranking.Expire(ctx, board, keyspace.CommentTTL)
}

func (c *CommentCache) IsHotRankEmpty(ctx context.Context, commentType keyspace.CommentType, targetID int64) (bool, error) {
	return c.ranking.IsEmptyResultCached(ctx, keyspace.CommentHotRank(commentType, targetID))
}

func (c *CommentCache) UpdateHotScore(ctx context.Context, commentType keyspace.CommentType, targetID, commentID int64, engagement types.Engagement, now time.Time) (float64, error) {
	score := c.strategy.Score(engagement, now)
	err := c.ranking.Upsert(ctx, keyspace.CommentHotRank(commentType, targetID), strconv.FormatInt(commentID, 10), score)
	return score, err
}

// TrimHotRank bounds the target ranking to MaxHotComments. It belongs on a
// maintenance path, not on every score update.
func (c *CommentCache) TrimHotRank(ctx context.Context, commentType keyspace.CommentType, targetID int64) (int64, error) {
	return c.ranking.TrimToTopN(ctx, keyspace.CommentHotRank(commentType, targetID), MaxHotComments)
}

func (c *CommentCache) RemoveFromHotRank(ctx context.Context, commentType keyspace.CommentType, targetID int64, commentIDs ...int64) error {
	return c.ranking.RemoveMany(ctx, keyspace.CommentHotRank(commentType, targetID), formatIDs(commentIDs)...)
}

func (c *CommentCache) ReplyHotIDs(ctx context.Context, commentType keyspace.CommentType, targetID, commentID, start, end int64) ([]int64, error) {
	members, err := c.ranking.Range(ctx, keyspace.ReplyHotRank(commentType, targetID, commentID), start, end)
	if err != nil {
		return nil, err
	}
	return parseIDs(members), nil
}

func (c *CommentCache) UpdateReplyScore(ctx context.Context, commentType keyspace.CommentType, targetID, commentID, replyID int64, engagement types.Engagement, now time.Time) (float64, error) {
	board := keyspace.ReplyHotRank(commentType, targetID, commentID)
	score := c.strategy.Score(engagement, now)

	if err := c.ranking.Upsert(ctx, board, strconv.FormatInt(replyID, 10), score); err != nil {
		return 0, err
	}
	return score, c.ranking.Expire(ctx, board, keyspace.CommentTTL)
}

func (c *CommentCache) Count(ctx context.Context, target keyspace.TargetType, targetID int64) (int64, bool) {
	return c.count(ctx, keyspace.CommentCount(target, targetID))
}

func (c *CommentCache) IncrementCount(ctx context.Context, target keyspace.TargetType, targetID, delta int64) (int64, bool) {
	return c.incrementCountFloor(ctx, keyspace.CommentCount(target, targetID), delta, keyspace.CommentTTL)
}

func (c *CommentCache) cacheEmpty(ctx context.Context, board string) error {
	marker := keyspace.Empty(board)
	if err := c.store.Set(ctx, marker, []byte(emptyMarker), keyspace.ShortEmptyResultTTL); err != nil {
		c.failed("set", marker, err)
	}
	return nil
}
