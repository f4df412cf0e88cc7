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

// UserRankingCache serves the user leaderboards, one per sort type.
type UserRankingCache struct {
	base
	ranking *ranking.Engine
}

func NewUserRankingCache(store types.StoreClient, engine *ranking.Engine, logger types.Logger) *UserRankingCache {
	return &UserRankingCache{base: newBase(store, logger, "user_ranking"), ranking: engine}
}

func (c *UserRankingCache) IDs(ctx context.Context, sortType string, start, end int64) ([]int64, error) {
	members, err := c.ranking.Range(ctx, keyspace.UserRanking(sortType), start, end)
	if err != nil {
		return nil, err
	}
	return parseIDs(members), nil
}

// Rebuild replaces the leaderboard for sortType.
func (c *UserRankingCache) Rebuild(ctx context.Context, sortType string, scores map[int64]float64) error {
	return c.ranking.ReplaceAll(ctx, keyspace.UserRanking(sortType), formatScores(scores), keyspace.RankingTTL)
}

// RebuildFromEngagement scores users with the UserRanking strategy for
// sortType and replaces the leaderboard.
func (c *UserRankingCache) RebuildFromEngagement(ctx context.Context, sortType string, users map[int64]types.Engagement, now time.Time) error {
	strategy := ranking.UserRanking{SortType: sortType}

	scores := make(map[int64]float64, len(users))
	for userID, engagement := range users {
		scores[userID] = strategy.Score(engagement, now)
	}

	if err := c.Rebuild(ctx, sortType, scores); err != nil {
		return err
	}

	c.logger.Info("User ranking rebuilt", zap.String("sort_type", sortType), zap.Int("users", len(scores)))
	return nil
}

func (c *UserRankingCache) Update(ctx context.Context, sortType string, userID int64, score float64) error {
	return c.ranking.Upsert(ctx, keyspace.UserRanking(sortType), strconv.FormatInt(userID, 10), score)
}

func (c *UserRankingCache) BatchUpdate(ctx context.Context, sortType string, scores map[int64]float64) error {
	if len(scores) == 0 {
		return nil
	}
	_, err := c.ranking.BatchUpsert(ctx, keyspace.UserRanking(sortType), formatScores(scores))
	return err
}

func (c *UserRankingCache) Remove(ctx context.Context, sortType string, userID int64) error {
	return c.ranking.Remove(ctx, keyspace.UserRanking(sortType), strconv.FormatInt(userID, 10))
}

// Cleanup drops user ids that no longer resolve to a user.
func (c *UserRankingCache) Cleanup(ctx context.Context, sortType string, invalidIDs ...int64) error {
	return c.ranking.RemoveMany(ctx, keyspace.UserRanking(sortType), formatIDs(invalidIDs)...)
}

func (c *UserRankingCache) Score(ctx context.Context, sortType string, userID int64) (float64, bool, error) {
	return c.ranking.Score(ctx, keyspace.UserRanking(sortType), strconv.FormatInt(userID, 10))
}

func (c *UserRankingCache) Rank(ctx context.Context, sortType string, userID int64) (int64, error) {
	return c.ranking.Rank(ctx, keyspace.UserRanking(sortType), strconv.FormatInt(userID, 10))
}

func (c *UserRankingCache) Size(ctx context.Context, sortType string) (int64, error) {
	return c.ranking.Size(ctx, keyspace.UserRanking(sortType))
}

func (c *UserRankingCache) Exists(ctx context.Context, sortType string) (bool, error) {
	return c.ranking.Exists(ctx, keyspace.UserRanking(sortType))
}

func (c *UserRankingCache) CacheEmptyResult(ctx context.Context, sortType string) error {
	return c.ranking.CacheEmptyResult(ctx, keyspace.UserRanking(sortType))
}

func (c *UserRankingCache) IsEmptyResultCached(ctx context.Context, sortType string) (bool, error) {
	return c.ranking.IsEmptyResultCached(ctx, keyspace.UserRanking(sortType))
}

// UserInfoCache caches user profiles of type U.
type UserInfoCache[U any] struct {
	cache  *cache.Orchestrator
	userID types.IDExtractor[int64, U]
}

func NewUserInfoCache[U any](orchestrator *cache.Orchestrator, userID types.IDExtractor[int64, U]) *UserInfoCache[U] {
	return &UserInfoCache[U]{cache: orchestrator, userID: userID}
}

func (c *UserInfoCache[U]) Info(ctx context.Context, userID int64, loader types.Loader[U]) (U, bool, error) {
	return cache.GetOrLoad(ctx, c.cache, keyspace.UserInfo(userID), keyspace.UserInfoTTL, loader)
}

func (c *UserInfoCache[U]) Infos(ctx context.Context, userIDs []int64, loader types.BatchLoader[int64, U]) (map[int64]U, error) {
	return cache.BatchGetOrLoad(ctx, c.cache, keyspace.UserInfoPrefix(), userIDs, keyspace.UserInfoTTL, loader, c.userID)
}

func (c *UserInfoCache[U]) Evict(ctx context.Context, userIDs ...int64) error {
	return cache.BatchEvict(ctx, c.cache, keyspace.UserInfoPrefix(), userIDs)
}
