package types

import (
	"time"
)

type RankEntry struct {
	Member string  `json:"member"`
	Score  float64 `json:"score"`
}

// Engagement is the raw activity snapshot a ScoreStrategy turns into a score.
type Engagement struct {
	Likes     int64     `json:"likes"`
	Comments  int64     `json:"comments"`
	Replies   int64     `json:"replies"`
	Favorites int64     `json:"favorites"`
	Views     int64     `json:"views"`
	Followers int64     `json:"followers"`
	Posts     int64     `json:"posts"`
	CreatedAt time.Time `json:"created_at"`
}

type ScoreStrategy interface {
	Name() string
	Score(e Engagement, now time.Time) float64
}
