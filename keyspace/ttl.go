package keyspace

import (
	"time"
)

const (
	DefaultTTL          = time.Hour
	CountTTL            = 30 * 24 * time.Hour
	RelationTTL         = 30 * time.Minute
	RankingTTL          = 5 * time.Minute
	EmptyResultTTL      = time.Minute
	ShortEmptyResultTTL = 30 * time.Second
	TagEmptyResultTTL   = 5 * time.Minute
	CommentTTL          = 10 * time.Minute
	PostHotRankTTL      = 30 * time.Minute
	UserInfoTTL         = 5 * time.Minute

	NegativeTTL = time.Minute
	JitterRange = 60 * time.Second
	LockTTL     = 5 * time.Second
)
