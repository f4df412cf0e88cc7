package ranking

import (
	"math"
	"strings"
	"sync"
	"time"

	"github.com/saiset-co/sai-cache/types"
)

var customStrategies = sync.Map{}

// RegisterStrategy makes a custom strategy available through StrategyByName.
func RegisterStrategy(strategy types.ScoreStrategy) {
	customStrategies.Store(strings.ToLower(strategy.Name()), strategy)
}

func StrategyByName(name string) (types.ScoreStrategy, bool) {
	switch strings.ToLower(name) {
	case "reddit_hot":
		return RedditHot{}, true
	case "comment_heat":
		return CommentHeat{}, true
	case "decayed_engagement":
		return DecayedEngagement{}, true
	case UserSortFans, UserSortLikes, UserSortPosts, UserSortComprehensive:
		return UserRanking{SortType: strings.ToLower(name)}, true
	}

	if strategy, ok := customStrategies.Load(strings.ToLower(name)); ok {
		return strategy.(types.ScoreStrategy), true
	}
	return nil, false
}

// hoursSince counts whole elapsed hours. A zero creation time counts as fresh.
func hoursSince(createdAt, now time.Time) float64 {
	if createdAt.IsZero() || now.Before(createdAt) {
		return 0
	}
	return math.Floor(now.Sub(createdAt).Hours())
}

// RedditHot scores posts: log10 of weighted engagement minus age/12.5h.
type RedditHot struct{}

func (RedditHot) Name() string { return "reddit_hot" }

func (RedditHot) Score(e types.Engagement, now time.Time) float64 {
	points := e.Likes + e.Comments/2 + e.Favorites*2 + e.Views/100
	return math.Log10(math.Max(1, float64(points))) - hoursSince(e.CreatedAt, now)/12.5
}

// CommentHeat adds a freshness bonus that fades to zero over 72 hours.
type CommentHeat struct{}

func (CommentHeat) Name() string { return "comment_heat" }

func (CommentHeat) Score(e types.Engagement, now time.Time) float64 {
	freshness := math.Max(0, 1-hoursSince(e.CreatedAt, now)/72)
	return float64(e.Likes) + float64(e.Replies)*2 + freshness*5
}

// DecayedEngagement loses 20% every 12 hours.
type DecayedEngagement struct{}

func (DecayedEngagement) Name() string { return "decayed_engagement" }

func (DecayedEngagement) Score(e types.Engagement, now time.Time) float64 {
	decay := math.Pow(0.8, hoursSince(e.CreatedAt, now)/12)
	return float64(e.Likes*2+e.Replies*3) * decay
}

const (
	UserSortFans          = "fans"
	UserSortLikes         = "likes"
	UserSortPosts         = "posts"
	UserSortComprehensive = "comprehensive"
)

// secondaryWeight keeps the secondary counter from overtaking the primary one.
const secondaryWeight = 1_000_000

// UserRanking scores users for one sort type. Single-counter sorts break ties
// on a secondary counter.
type UserRanking struct {
	SortType string
}

func (u UserRanking) Name() string { return u.SortType }

func (u UserRanking) Score(e types.Engagement, _ time.Time) float64 {
	switch u.SortType {
	case UserSortFans:
		return float64(e.Followers)*secondaryWeight + float64(e.Likes)
	case UserSortLikes:
		return float64(e.Likes)*secondaryWeight + float64(e.Followers)
	case UserSortPosts:
		return float64(e.Posts)*secondaryWeight + float64(e.Likes)
	default:
		return float64(e.Followers)*0.4 + float64(e.Likes)*0.4 + float64(e.Posts)*0.2
	}
}
