// Package ranking stores named leaderboards as sorted sets. The engine only
// orders the scores it is given; ScoreStrategy implementations compute them.
package ranking

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-cache/keyspace"
	"github.com/saiset-co/sai-cache/types"
)

// NotRanked is returned by Rank for members absent from the board.
const NotRanked int64 = -1

const emptyMarkerValue = "1"

// Engine degrades on store failures: reads return empty results and writes
// are logged. Only invalid arguments come back as errors.
type Engine struct {
	store          types.StoreClient
	logger         types.Logger
	metrics        types.MetricsManager
	defaultTTL     time.Duration
	emptyResultTTL time.Duration
}

func NewEngine(store types.StoreClient, logger types.Logger, metrics types.MetricsManager, config *types.RankingConfig) *Engine {
	engine := &Engine{
		store:          store,
		logger:         logger,
		metrics:        metrics,
		defaultTTL:     keyspace.RankingTTL,
		emptyResultTTL: keyspace.EmptyResultTTL,
	}

	if config != nil {
		if config.DefaultTTL > 0 {
			engine.defaultTTL = config.DefaultTTL
		}
		if config.EmptyResultTTL > 0 {
			engine.emptyResultTTL = config.EmptyResultTTL
		}
	}

	return engine
}

func (e *Engine) Upsert(ctx context.Context, board, member string, score float64) error {
	if err := validateEntry(board, member, score); err != nil {
		return err
	}

	if err := e.store.ZAdd(ctx, board, member, score); err != nil {
		e.storeFailed("zadd", board, err, zap.String("member", member))
	}
	return nil
}

// BatchUpsert validates every entry before writing any. Writes are issued
// one member at a time and may apply partially if the store fails midway.
func (e *Engine) BatchUpsert(ctx context.Context, board string, scores map[string]float64) (int, error) {
	if board == "" {
		return 0, types.ErrRankingNameEmpty
	}
	for member, score := range scores {
		if err := validateEntry(board, member, score); err != nil {
			return 0, err
		}
	}

	applied := 0
	for member, score := range scores {
		if err := e.store.ZAdd(ctx, board, member, score); err != nil {
			e.storeFailed("zadd", board, err, zap.String("member", member), zap.Int("applied", applied))
			continue
		}
		applied++
	}

	e.logger.Debug("Leaderboard batch upsert",
		zap.String("board", board), zap.Int("requested", len(scores)), zap.Int("applied", applied))
	return applied, nil
}

// TopN returns up to n members, highest score first.
func (e *Engine) TopN(ctx context.Context, board string, n int64) ([]string, error) {
	if n <= 0 {
		return []string{}, validateBoard(board)
	}
	return e.Range(ctx, board, 0, n-1)
}

// Range returns members ranked start..stop (zero-based, inclusive), highest first.
func (e *Engine) Range(ctx context.Context, board string, start, stop int64) ([]string, error) {
	if err := validateBoard(board); err != nil {
		return nil, err
	}
	if start < 0 || (stop >= 0 && stop < start) {
		return nil, types.Errorf(types.ErrRankingLimitInvalid, "range %d..%d", start, stop)
	}

	members, err := e.store.ZRevRange(ctx, board, start, stop)
	if err != nil {
		e.storeFailed("zrevrange", board, err)
		return []string{}, nil
	}
	return members, nil
}

func (e *Engine) TopNWithScores(ctx context.Context, board string, n int64) ([]types.RankEntry, error) {
	if err := validateBoard(board); err != nil {
		return nil, err
	}
	if n <= 0 {
		return []types.RankEntry{}, nil
	}

	entries, err := e.store.ZRevRangeWithScores(ctx, board, 0, n-1)
	if err != nil {
		e.storeFailed("zrevrange", board, err)
		return []types.RankEntry{}, nil
	}
	return entries, nil
}

func (e *Engine) Remove(ctx context.Context, board, member string) error {
	return e.RemoveMany(ctx, board, member)
}

// RemoveMany drops members, typically ids whose source record no longer exists.
func (e *Engine) RemoveMany(ctx context.Context, board string, members ...string) error {
	if err := validateBoard(board); err != nil {
		return err
	}
	if len(members) == 0 {
		return nil
	}

	removed, err := e.store.ZRemove(ctx, board, members...)
	if err != nil {
		e.storeFailed("zrem", board, err, zap.Int("members", len(members)))
		return nil
	}

	e.logger.Debug("Leaderboard members removed", zap.String("board", board), zap.Int64("removed", removed))
	return nil
}

// Rank is 1-based and descending. Absent members and store failures give NotRanked.
func (e *Engine) Rank(ctx context.Context, board, member string) (int64, error) {
	if err := validateBoard(board); err != nil {
		return NotRanked, err
	}

	rank, found, err := e.store.ZRevRank(ctx, board, member)
	if err != nil {
		e.storeFailed("zrevrank", board, err, zap.String("member", member))
		return NotRanked, nil
	}
	if !found {
		return NotRanked, nil
	}
	return rank + 1, nil
}

func (e *Engine) Score(ctx context.Context, board, member string) (float64, bool, error) {
	if err := validateBoard(board); err != nil {
		return 0, false, err
	}

	score, found, err := e.store.ZScore(ctx, board, member)
	if err != nil {
		e.storeFailed("zscore", board, err, zap.String("member", member))
		return 0, false, nil
	}
	return score, found, nil
}

func (e *Engine) Size(ctx context.Context, board string) (int64, error) {
	if err := validateBoard(board); err != nil {
		return 0, err
	}

	size, err := e.store.ZCard(ctx, board)
	if err != nil {
		e.storeFailed("zcard", board, err)
		return 0, nil
	}
	return size, nil
}

func (e *Engine) Exists(ctx context.Context, board string) (bool, error) {
	if err := validateBoard(board); err != nil {
		return false, err
	}

	exists, err := e.store.Exists(ctx, board)
	if err != nil {
		e.storeFailed("exists", board, err)
		return false, nil
	}
	return exists, nil
}

// Expire sets the board TTL, falling back to the configured default.
func (e *Engine) Expire(ctx context.Context, board string, ttl time.Duration) error {
	if err := validateBoard(board); err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = e.defaultTTL
	}

	if _, err := e.store.Expire(ctx, board, ttl); err != nil {
		e.storeFailed("expire", board, err)
	}
	return nil
}

// TrimToTopN keeps the n highest-ranked members and returns how many were removed.
func (e *Engine) TrimToTopN(ctx context.Context, board string, n int64) (int64, error) {
	if err := validateBoard(board); err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, types.Errorf(types.ErrRankingLimitInvalid, "keep %d", n)
	}

	size, err := e.store.ZCard(ctx, board)
	if err != nil {
		e.storeFailed("zcard", board, err)
		return 0, nil
	}
	if size <= n {
		return 0, nil
	}

	removed, err := e.store.ZRemRangeByRank(ctx, board, 0, size-n-1)
	if err != nil {
		e.storeFailed("zremrangebyrank", board, err, zap.Int64("keep", n))
		return 0, nil
	}

	e.record("trim", removed)
	e.logger.Debug("Leaderboard trimmed",
		zap.String("board", board), zap.Int64("keep", n), zap.Int64("removed", removed))
	return removed, nil
}

// ReplaceAll rebuilds board from scores: delete, upsert, expire. Readers may
// see an empty board in between. An empty score map leaves the board deleted
// and records the empty-result marker instead.
func (e *Engine) ReplaceAll(ctx context.Context, board string, scores map[string]float64, ttl time.Duration) error {
	if err := validateBoard(board); err != nil {
		return err
	}
	for member, score := range scores {
		if err := validateEntry(board, member, score); err != nil {
			return err
		}
	}

	if _, err := e.store.Delete(ctx, board, keyspace.Empty(board)); err != nil {
		e.storeFailed("delete", board, err)
		return nil
	}

	if len(scores) == 0 {
		return e.CacheEmptyResult(ctx, board)
	}

	applied, _ := e.BatchUpsert(ctx, board, scores)
	if err := e.Expire(ctx, board, ttl); err != nil {
		return err
	}

	e.record("replace", int64(applied))
	e.logger.Debug("Leaderboard replaced", zap.String("board", board), zap.Int("size", applied))
	return nil
}

// CacheEmptyResult records that board is known to be empty at its source.
func (e *Engine) CacheEmptyResult(ctx context.Context, board string) error {
	if err := validateBoard(board); err != nil {
		return err
	}

	marker := keyspace.Empty(board)
	if err := e.store.Set(ctx, marker, []byte(emptyMarkerValue), e.emptyResultTTL); err != nil {
		e.storeFailed("set", marker, err)
	}
	return nil
}

func (e *Engine) IsEmptyResultCached(ctx context.Context, board string) (bool, error) {
	if err := validateBoard(board); err != nil {
		return false, err
	}

	marker := keyspace.Empty(board)
	exists, err := e.store.Exists(ctx, marker)
	if err != nil {
		e.storeFailed("exists", marker, err)
		return false, nil
	}
	return exists, nil
}

func (e *Engine) storeFailed(operation, board string, err error, fields ...zap.Field) {
	e.logger.Warn("Leaderboard store operation failed",
		append([]zap.Field{zap.String("board", board), zap.String("operation", operation), zap.Error(err)}, fields...)...)

	if e.metrics != nil {
		e.metrics.Counter(types.MetricRankingStoreFailures, map[string]string{"operation": operation}).Inc()
	}
}

func (e *Engine) record(operation string, members int64) {
	if e.metrics == nil {
		return
	}
	e.metrics.Counter(types.MetricRankingMembers, map[string]string{"operation": operation}).Add(float64(members))
}

func validateBoard(board string) error {
	if board == "" {
		return types.ErrRankingNameEmpty
	}
	return nil
}

func validateEntry(board, member string, score float64) error {
	if board == "" {
		return types.ErrRankingNameEmpty
	}
	if member == "" {
		return types.ErrRankingMemberEmpty
	}
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return types.Errorf(types.ErrRankingScoreInvalid, "member %s: %v", member, score)
	}
	return nil
}
