package keyspace

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type label struct{ v string }

func (l *label) String() string { return l.v }

func TestKey(t *testing.T) {
	var nilLabel *label
	var nilInt *int64
	id := int64(7)

	tests := []struct {
		name  string
		parts []interface{}
		want  string
	}{
		{name: "joins in order", parts: []interface{}{"post", "detail", int64(42)}, want: "post:detail:42"},
		{name: "filters nil", parts: []interface{}{"comment", nil, "rank", nil}, want: "comment:rank"},
		{name: "filters nil pointers", parts: []interface{}{"a", nilLabel, nilInt, "b"}, want: "a:b"},
		{name: "dereferences pointers", parts: []interface{}{"user", &id}, want: "user:7"},
		{name: "stringer", parts: []interface{}{"x", &label{v: "y"}}, want: "x:y"},
		{name: "typed enum lowercase", parts: []interface{}{"like", TargetType("POST"), 1}, want: "like:post:1"},
		{name: "text lowercase", parts: []interface{}{"Post", "HOT", int64(3)}, want: "post:hot:3"},
		{name: "stringer lowercase", parts: []interface{}{"x", &label{v: "Weekly"}}, want: "x:weekly"},
		{name: "empty", parts: nil, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Key(tt.parts...))
		})
	}
}

func TestKeyIsDeterministic(t *testing.T) {
	assert.Equal(t, Key("post", "detail", 1), Key("post", "detail", 1))
	assert.Equal(t, PostDetail(1), Key(PostDetailPrefix(), int64(1)))
}

func TestNamedKeys(t *testing.T) {
	assert.Equal(t, "post:detail:1", PostDetail(1))
	assert.Equal(t, "post:rank:hot", PostHotRank())
	assert.Equal(t, "post:rank:hot:empty", Empty(PostHotRank()))
	assert.Equal(t, "lock:cache:post:detail:1", Lock(Key("cache", PostDetail(1))))
	assert.Equal(t, "user:rank:followers", UserRanking("FOLLOWERS"))
	assert.Equal(t, "comment:rank:hot:post:3", CommentHotRank(CommentTypePost, 3))
	assert.Equal(t, "comment:rank:hot:post:3:9", ReplyHotRank(CommentTypePost, 3, 9))
	assert.Equal(t, "like:count:comment:5", LikeCount(TargetComment, 5))
	assert.Equal(t, "user:like:post:2", UserLikes(TargetPost, 2))
	assert.Equal(t, "follow:status:1:2", FollowStatus(1, 2))
	assert.Equal(t, "favorite:count:post:8", FavoriteCount(TargetPost, 8))
	assert.Equal(t, "comment:rank:hot:*", Pattern(CommentHotRankPrefix()))
}

func TestTTLTable(t *testing.T) {
	assert.LessOrEqual(t, NegativeTTL, DefaultTTL)
	assert.Less(t, LockTTL.Seconds(), 10.0)
	assert.Equal(t, 60.0, JitterRange.Seconds())
}

func TestBuildersDoNotCollide(t *testing.T) {
	keys := []string{
		PostDetail(1), PostViewCount(1), PostLikeCount(1), PostFavoriteCount(1),
		PostCommentCount(1), PostHotRank(), PostHotCache(),
		UserInfo(1), UserFollowing(1), UserFollowers(1),
		UserRanking("likes"), LikeRelation(TargetPost, 1), UserLikes(TargetPost, 1),
		LikeCount(TargetPost, 1), LikeRank(TargetPost), CommentHotRank(CommentTypePost, 1),
		CommentCount(TargetPost, 1), FollowFollowing(1),
		FollowFollowers(1), FollowFollowingCount(1), FollowFollowersCount(1),
		FollowMutual(1), FavoriteCount(TargetPost, 1), UserFavorites(1),
		UserFavoriteCount(1), TagHot(TimeRangeWeek, 10), TagHot(TimeRangeAll, 10),
	}

	seen := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		_, dup := seen[key]
		assert.False(t, dup, key)
		seen[key] = struct{}{}
	}

	assert.Equal(t, "like:essay:4", LikeRelation(TargetEssay, 4))
	assert.Equal(t, "like:rank:comment", LikeRank(TargetComment))
	assert.Equal(t, "tag:hot:week:20", TagHot(TimeRangeWeek, 20))
	assert.Equal(t, "tag:hot:today:10", TagHot(TimeRange("TODAY"), 10))
	assert.Equal(t, "tag:hot", TagHotPrefix())
}
