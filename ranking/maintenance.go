package ranking

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-cache/keyspace"
	"github.com/saiset-co/sai-cache/types"
)

const scanBatch = 100

// Decay multiplies every score on board by factor and drops members that end
// below minScore. It reads the whole board and rewrites it member by member,
// so concurrent upserts during a pass may be overwritten by the decayed value.
func (e *Engine) Decay(ctx context.Context, board string, factor, minScore float64) (decayed, removed int64, err error) {
	if err = validateBoard(board); err != nil {
		return 0, 0, err
	}
	if factor <= 0 || factor > 1 {
		return 0, 0, types.Errorf(types.ErrRankingScoreInvalid, "decay factor %v", factor)
	}

	entries, err := e.store.ZRangeWithScores(ctx, board, 0, -1)
	if err != nil {
		e.storeFailed("zrange", board, err)
		return 0, 0, nil
	}

	var drop []string
	for _, entry := range entries {
		score := entry.Score * factor
		if score < minScore {
			drop = append(drop, entry.Member)
			continue
		}
		if err := e.store.ZAdd(ctx, board, entry.Member, score); err != nil {
			e.storeFailed("zadd", board, err, zap.String("member", entry.Member))
			continue
		}
		decayed++
	}

	if len(drop) > 0 {
		n, err := e.store.ZRemove(ctx, board, drop...)
		if err != nil {
			e.storeFailed("zrem", board, err, zap.Int("members", len(drop)))
		}
		removed = n
	}

	e.record("decay", decayed)
	e.logger.Debug("Leaderboard decayed",
		zap.String("board", board),
		zap.Float64("factor", factor),
		zap.Int64("decayed", decayed),
		zap.Int64("removed", removed))
	return decayed, removed, nil
}

// Maintenance owns the scheduled trim and decay passes configured per leaderboard.
type Maintenance struct {
	engine *Engine
	logger types.Logger
	boards []types.LeaderboardConfig
}

func NewMaintenance(engine *Engine, logger types.Logger, config *types.RankingConfig) *Maintenance {
	m := &Maintenance{engine: engine, logger: logger}
	if config != nil {
		m.boards = config.Leaderboards
	}
	return m
}

// Register adds one cron job per configured trim or decay schedule.
func (m *Maintenance) Register(scheduler types.CronManager) error {
	for _, board := range m.boards {
		board := board

		if board.KeepTopN > 0 && board.TrimSchedule != "" {
			err := scheduler.Add("ranking:trim:"+board.Name, board.TrimSchedule, func(ctx context.Context) error {
				_, err := m.engine.TrimToTopN(ctx, board.Name, board.KeepTopN)
				return err
			})
			if err != nil {
				return types.WrapError(err, "failed to schedule leaderboard trim")
			}
		}

		if board.DecayPrefix != "" && board.DecaySchedule != "" {
			err := scheduler.Add("ranking:decay:"+board.Name, board.DecaySchedule, func(ctx context.Context) error {
				_, err := m.DecayPrefix(ctx, board.DecayPrefix, board.DecayFactor, board.MinScore)
				return err
			})
			if err != nil {
				return types.WrapError(err, "failed to schedule leaderboard decay")
			}
		}
	}

	m.logger.Info("Leaderboard maintenance registered", zap.Int("leaderboards", len(m.boards)))
	return nil
}

// DecayPrefix applies Decay to every board under prefix, found with the
// cursor scan. Empty-result markers and lock keys are skipped.
func (m *Maintenance) DecayPrefix(ctx context.Context, prefix string, factor, minScore float64) (int, error) {
	if prefix == "" {
		return 0, types.ErrRankingNameEmpty
	}

	emptySuffix := keyspace.Separator + keyspace.EmptySuffix
	boards := 0

	iter := m.engine.store.Scan(ctx, keyspace.Pattern(prefix), scanBatch)
	for iter.Next(ctx) {
		board := iter.Val()
		if strings.HasSuffix(board, emptySuffix) || strings.HasPrefix(board, keyspace.LockPrefix+keyspace.Separator) {
			continue
		}

		if _, _, err := m.engine.Decay(ctx, board, factor, minScore); err != nil {
			return boards, err
		}
		boards++
	}

	if err := iter.Err(); err != nil {
		m.logger.Warn("Leaderboard decay scan failed", zap.String("prefix", prefix), zap.Error(err))
	}

	m.logger.Info("Leaderboard decay pass finished", zap.String("prefix", prefix), zap.Int("boards", boards))
	return boards, nil
}
