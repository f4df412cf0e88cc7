package ranking

import (
	"context"
	"math"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-cache/logger"
	"github.com/saiset-co/sai-cache/store"
	"github.com/saiset-co/sai-cache/types"
)

func newEngine(t *testing.T) (*Engine, *miniredis.Miniredis) {
	t.Helper()

	s, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(s.Close)

	log := logger.NewZapWrapper(zap.NewNop())
	client, err := store.NewRedisStore(context.Background(), log, &types.StoreConfig{
		Type:   "redis",
		Config: &store.RedisConfig{Address: s.Addr()},
	})
	require.NoError(t, err)
	require.NoError(t, client.Start())
	t.Cleanup(func() { _ = client.Stop() })

	return NewEngine(client, log, nil, &types.RankingConfig{DefaultTTL: 5 * time.Minute, EmptyResultTTL: time.Minute}), s
}

func TestTopNOrdersByScore(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()

	require.NoError(t, e.Upsert(ctx, "hot", "p1", 10))
	require.NoError(t, e.Upsert(ctx, "hot", "p2", 20))
	require.NoError(t, e.Upsert(ctx, "hot", "p3", 5))

	top, err := e.TopN(ctx, "hot", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"p2", "p1"}, top)

	withScores, err := e.TopNWithScores(ctx, "hot", 5)
	require.NoError(t, err)
	assert.Equal(t, []types.RankEntry{{Member: "p2", Score: 20}, {Member: "p1", Score: 10}, {Member: "p3", Score: 5}}, withScores)

	page, err := e.Range(ctx, "hot", 1, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"p1", "p3"}, page)

	require.NoError(t, e.Upsert(ctx, "hot", "p3", 30))
	top, err = e.TopN(ctx, "hot", 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"p3"}, top)
}

func TestRankScoreSize(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()

	applied, err := e.BatchUpsert(ctx, "user:rank:fans", map[string]float64{"1": 3, "2": 9, "3": 6})
	require.NoError(t, err)
	assert.Equal(t, 3, applied)

	rank, err := e.Rank(ctx, "user:rank:fans", "2")
	require.NoError(t, err)
	assert.Equal(t, int64(1), rank)

	rank, err = e.Rank(ctx, "user:rank:fans", "1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), rank)

	rank, err = e.Rank(ctx, "user:rank:fans", "404")
	require.NoError(t, err)
	assert.Equal(t, NotRanked, rank)

	score, found, err := e.Score(ctx, "user:rank:fans", "3")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 6.0, score)

	_, found, err = e.Score(ctx, "user:rank:fans", "404")
	require.NoError(t, err)
	assert.False(t, found)

	size, err := e.Size(ctx, "user:rank:fans")
	require.NoError(t, err)
	assert.Equal(t, int64(3), size)

	require.NoError(t, e.Remove(ctx, "user:rank:fans", "2"))
	require.NoError(t, e.RemoveMany(ctx, "user:rank:fans", "1", "404"))

	size, err = e.Size(ctx, "user:rank:fans")
	require.NoError(t, err)
	assert.Equal(t, int64(1), size)
}

func TestTrimToTopNKeepsHighest(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		require.NoError(t, e.Upsert(ctx, "hot", "p"+strconv.Itoa(i), float64(i*10)))
	}

	removed, err := e.TrimToTopN(ctx, "hot", 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), removed)

	size, err := e.Size(ctx, "hot")
	require.NoError(t, err)
	assert.Equal(t, int64(2), size)

	top, err := e.TopN(ctx, "hot", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"p5", "p4"}, top)

	removed, err = e.TrimToTopN(ctx, "hot", 2)
	require.NoError(t, err)
	assert.Zero(t, removed)

	_, err = e.TrimToTopN(ctx, "hot", -1)
	assert.ErrorIs(t, err, types.ErrRankingLimitInvalid)
}

func TestReplaceAll(t *testing.T) {
	e, s := newEngine(t)
	ctx := context.Background()

	require.NoError(t, e.Upsert(ctx, "user:rank:likes", "stale", 100))
	require.NoError(t, e.CacheEmptyResult(ctx, "user:rank:likes"))

	require.NoError(t, e.ReplaceAll(ctx, "user:rank:likes", map[string]float64{"1": 1, "2": 2}, 0))

	top, err := e.TopN(ctx, "user:rank:likes", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"2", "1"}, top)
	assert.Equal(t, 5*time.Minute, s.TTL("user:rank:likes"))

	cached, err := e.IsEmptyResultCached(ctx, "user:rank:likes")
	require.NoError(t, err)
	assert.False(t, cached)

	require.NoError(t, e.ReplaceAll(ctx, "user:rank:likes", nil, time.Minute))
	exists, err := e.Exists(ctx, "user:rank:likes")
	require.NoError(t, err)
	assert.False(t, exists)

	cached, err = e.IsEmptyResultCached(ctx, "user:rank:likes")
	require.NoError(t, err)
	assert.True(t, cached)

	marker, err := s.Get("user:rank:likes:empty")
	require.NoError(t, err)
	assert.Equal(t, "1", marker)
	assert.Equal(t, time.Minute, s.TTL("user:rank:likes:empty"))
}

func TestValidation(t *testing.T) {
	e, s := newEngine(t)
	ctx := context.Background()

	assert.ErrorIs(t, e.Upsert(ctx, "", "m", 1), types.ErrRankingNameEmpty)
	assert.ErrorIs(t, e.Upsert(ctx, "hot", "", 1), types.ErrRankingMemberEmpty)
	assert.ErrorIs(t, e.Upsert(ctx, "hot", "m", math.NaN()), types.ErrRankingScoreInvalid)
	assert.ErrorIs(t, e.Upsert(ctx, "hot", "m", math.Inf(1)), types.ErrRankingScoreInvalid)

	_, err := e.BatchUpsert(ctx, "hot", map[string]float64{"ok": 1, "bad": math.Inf(-1)})
	assert.ErrorIs(t, err, types.ErrRankingScoreInvalid)
	assert.False(t, s.Exists("hot"))

	_, err = e.Range(ctx, "hot", 5, 2)
	assert.ErrorIs(t, err, types.ErrRankingLimitInvalid)
}

func TestStoreOutageDegrades(t *testing.T) {
	e, s := newEngine(t)
	ctx := context.Background()
	s.Close()

	require.NoError(t, e.Upsert(ctx, "hot", "p1", 1))

	top, err := e.TopN(ctx, "hot", 3)
	require.NoError(t, err)
	assert.Empty(t, top)

	rank, err := e.Rank(ctx, "hot", "p1")
	require.NoError(t, err)
	assert.Equal(t, NotRanked, rank)

	size, err := e.Size(ctx, "hot")
	require.NoError(t, err)
	assert.Zero(t, size)

	cached, err := e.IsEmptyResultCached(ctx, "hot")
	require.NoError(t, err)
	assert.False(t, cached)
}

func TestDecay(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()

	_, err := e.BatchUpsert(ctx, "comment:hot:zset:post:1", map[string]float64{"a": 100, "b": 5})
	require.NoError(t, err)

	decayed, removed, err := e.Decay(ctx, "comment:hot:zset:post:1", 0.98, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(1), decayed)
	assert.Equal(t, int64(1), removed)

	score, found, err := e.Score(ctx, "comment:hot:zset:post:1", "a")
	require.NoError(t, err)
	assert.True(t, found)
	assert.InDelta(t, 98.0, score, 1e-9)

	_, _, err = e.Decay(ctx, "comment:hot:zset:post:1", 1.5, 5)
	assert.ErrorIs(t, err, types.ErrRankingScoreInvalid)
}

type recordingScheduler struct {
	types.CronManager
	jobs  map[string]types.CronJob
	specs map[string]string
}

func (r *recordingScheduler) Add(name, spec string, job types.CronJob) error {
	r.jobs[name] = job
	r.specs[name] = spec
	return nil
}

func TestMaintenanceRegistersAndRunsJobs(t *testing.T) {
	e, s := newEngine(t)
	ctx := context.Background()

	for i := 1; i <= 4; i++ {
		require.NoError(t, e.Upsert(ctx, "post:rank:hot", strconv.Itoa(i), float64(i)))
	}
	require.NoError(t, e.Upsert(ctx, "comment:hot:zset:post:1", "c1", 50))
	require.NoError(t, e.Upsert(ctx, "comment:hot:zset:post:2", "c2", 5))
	require.NoError(t, e.CacheEmptyResult(ctx, "comment:hot:zset:post:3"))

	m := NewMaintenance(e, logger.NewZapWrapper(zap.NewNop()), &types.RankingConfig{
		Leaderboards: []types.LeaderboardConfig{
			{Name: "post:rank:hot", KeepTopN: 2, TrimSchedule: "0 */10 * * * *"},
			{Name: "comment-decay", DecayPrefix: "comment:hot:zset", DecayFactor: 0.98, DecaySchedule: "0 0 * * * *", MinScore: 5},
		},
	})

	scheduler := &recordingScheduler{jobs: map[string]types.CronJob{}, specs: map[string]string{}}
	require.NoError(t, m.Register(scheduler))
	require.Len(t, scheduler.jobs, 2)
	assert.Equal(t, "0 */10 * * * *", scheduler.specs["ranking:trim:post:rank:hot"])

	require.NoError(t, scheduler.jobs["ranking:trim:post:rank:hot"](ctx))
	top, err := e.TopN(ctx, "post:rank:hot", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"4", "3"}, top)

	require.NoError(t, scheduler.jobs["ranking:decay:comment-decay"](ctx))
	score, found, err := e.Score(ctx, "comment:hot:zset:post:1", "c1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.InDelta(t, 49.0, score, 1e-9)
	assert.False(t, s.Exists("comment:hot:zset:post:2"))
	assert.True(t, s.Exists("comment:hot:zset:post:3:empty"))
}

func TestStrategies(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	fresh := types.Engagement{Likes: 90, Comments: 20, Favorites: 0, Views: 0, CreatedAt: now}
	assert.InDelta(t, 2.0, RedditHot{}.Score(fresh, now), 1e-9)

	aged := fresh
	aged.CreatedAt = now.Add(-25 * time.Hour)
	assert.InDelta(t, 0.0, RedditHot{}.Score(aged, now), 1e-9)

	assert.InDelta(t, -1.0, RedditHot{}.Score(types.Engagement{CreatedAt: now.Add(-12*time.Hour - 30*time.Minute)}, now), 0.05)

	comment := types.Engagement{Likes: 3, Replies: 2, CreatedAt: now.Add(-36 * time.Hour)}
	assert.InDelta(t, 3+4+2.5, CommentHeat{}.Score(comment, now), 1e-9)
	comment.CreatedAt = now.Add(-100 * time.Hour)
	assert.InDelta(t, 7.0, CommentHeat{}.Score(comment, now), 1e-9)

	decayed := types.Engagement{Likes: 5, Replies: 10, CreatedAt: now.Add(-12 * time.Hour)}
	assert.InDelta(t, 40*0.8, DecayedEngagement{}.Score(decayed, now), 1e-9)

	user := types.Engagement{Followers: 10, Likes: 20, Posts: 5}
	assert.Equal(t, 10*1e6+20, UserRanking{SortType: UserSortFans}.Score(user, now))
	assert.Equal(t, 20*1e6+10, UserRanking{SortType: UserSortLikes}.Score(user, now))
	assert.Equal(t, 5*1e6+20, UserRanking{SortType: UserSortPosts}.Score(user, now))
	assert.InDelta(t, 13.0, UserRanking{SortType: UserSortComprehensive}.Score(user, now), 1e-9)

	strategy, ok := StrategyByName("Comprehensive")
	require.True(t, ok)
	assert.Equal(t, "comprehensive", strategy.Name())

	_, ok = StrategyByName("unknown")
	assert.False(t, ok)
}
