// Package keyspace builds the deterministic store keys shared by every cache
// and ranking consumer, together with the TTL table they are written with.
package keyspace

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

const (
	Separator   = ":"
	EmptySuffix = "empty"
	LockPrefix  = "lock"
)

// Key joins the non-nil parts with ":" in call order. Text parts are
// lowercased; numbers render in base 10.
func Key(parts ...interface{}) string {
	var b strings.Builder
	for _, part := range parts {
		s, ok := render(part)
		if !ok {
			continue
		}
		if b.Len() > 0 {
			b.WriteString(Separator)
		}
		b.WriteString(s)
	}
	return b.String()
}

func render(part interface{}) (string, bool) {
	switch v := part.(type) {
	case nil:
		return "", false
	case string:
		return strings.ToLower(v), true
	case int:
		return strconv.Itoa(v), true
	case int32:
		return strconv.FormatInt(int64(v), 10), true
	case int64:
		return strconv.FormatInt(v, 10), true
	case uint:
		return strconv.FormatUint(uint64(v), 10), true
	case uint32:
		return strconv.FormatUint(uint64(v), 10), true
	case uint64:
		return strconv.FormatUint(v, 10), true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(v), true
	case fmt.Stringer:
		if isNilPointer(v) {
			return "", false
		}
		return strings.ToLower(v.String()), true
	}

	if isNilPointer(part) {
		return "", false
	}

	rv := reflect.ValueOf(part)
	if rv.Kind() == reflect.Pointer {
		return render(rv.Elem().Interface())
	}

	return strings.ToLower(fmt.Sprint(part)), true
}

func isNilPointer(v interface{}) bool {
	rv := reflect.ValueOf(v)
	return rv.Kind() == reflect.Pointer && rv.IsNil()
}

// Empty is the marker key recording a confirmed-empty result for key.
func Empty(key string) string {
	return key + Separator + EmptySuffix
}

// Lock is the namespace used by the distributed lock for key.
func Lock(key string) string {
	return LockPrefix + Separator + key
}

// Pattern appends a glob wildcard to the key built from parts.
func Pattern(parts ...interface{}) string {
	return Key(parts...) + Separator + "*"
}

// CommentType is the kind of entity a comment thread hangs off.
type CommentType string

const (
	CommentTypePost  CommentType = "post"
	CommentTypeEssay CommentType = "essay"
	CommentTypeTopic CommentType = "topic"
)

func (t CommentType) String() string {
	return strings.ToLower(string(t))
}

// TargetType is the kind of entity that can be liked or favorited.
type TargetType string

const (
	TargetPost    TargetType = "post"
	TargetComment TargetType = "comment"
	TargetEssay   TargetType = "essay"
)

func (t TargetType) String() string {
	return strings.ToLower(string(t))
}

// Post keys.

func PostDetail(postID int64) string        { return Key("post", "detail", postID) }
func PostDetailPrefix() string              { return Key("post", "detail") }
func PostViewCount(postID int64) string     { return Key("post", "view", "count", postID) }
func PostLikeCount(postID int64) string     { return Key("post", "like", "count", postID) }
func PostFavoriteCount(postID int64) string { return Key("post", "favorite", "count", postID) }
func PostCommentCount(postID int64) string  { return Key("post", "comment", "count", postID) }
func PostHotRank() string                   { return Key("post", "rank", "hot") }
func PostHotCache() string                  { return Key("post", "hot", "cache") }

// User keys.

func UserInfo(userID int64) string      { return Key("user", "info", userID) }
func UserInfoPrefix() string            { return Key("user", "info") }
func UserFollowing(userID int64) string { return Key("user", "following", userID) }
func UserFollowers(userID int64) string { return Key("user", "followers", userID) }

// UserRanking is the leaderboard of users ordered by sortType.
func UserRanking(sortType string) string { return Key("user", "rank", sortType) }

// Like keys.

func LikeRelation(target TargetType, targetID int64) string {
	return Key("like", target, targetID)
}

func UserLikes(target TargetType, userID int64) string {
	return Key("user", "like", target, userID)
}

func LikeCount(target TargetType, targetID int64) string {
	return Key("like", "count", target, targetID)
}

// LikeRank orders targets of one type by like count.
func LikeRank(target TargetType) string { return Key("like", "rank", target) }

// Comment keys.

func CommentHotRank(commentType CommentType, targetID int64) string {
	return Key("comment", "rank", "hot", commentType, targetID)
}

func ReplyHotRank(commentType CommentType, targetID, commentID int64) string {
	return Key("comment", "rank", "hot", commentType, targetID, commentID)
}

func CommentHotRankPrefix() string { return Key("comment", "rank", "hot") }

func CommentCount(target TargetType, targetID int64) string {
	return Key("comment", "count", target, targetID)
}

// Follow keys.

func FollowFollowing(userID int64) string      { return Key("follow", "following", userID) }
func FollowFollowers(userID int64) string      { return Key("follow", "followers", userID) }
func FollowFollowingCount(userID int64) string { return Key("follow", "following_count", userID) }
func FollowFollowersCount(userID int64) string { return Key("follow", "followers_count", userID) }
func FollowMutual(userID int64) string         { return Key("follow", "mutual", userID) }
func FollowStatus(followerID, followedID int64) string {
	return Key("follow", "status", followerID, followedID)
}

// Favorite keys.

func FavoriteCount(target TargetType, targetID int64) string {
	return Key("favorite", "count", target, targetID)
}

func UserFavorites(userID int64) string     { return Key("user", "favorite", userID) }
func UserFavoriteCount(userID int64) string { return Key("user", "favorite", "count", userID) }

// Tag keys.

// TimeRange is the window a hot tag list is computed over.
type TimeRange string

const (
	TimeRangeToday TimeRange = "today"
	TimeRangeWeek  TimeRange = "week"
	TimeRangeMonth TimeRange = "month"
	TimeRangeAll   TimeRange = "all"
)

func (r TimeRange) String() string {
	return strings.ToLower(string(r))
}

func TagHot(timeRange TimeRange, limit int) string { return Key("tag", "hot", timeRange, limit) }
func TagHotPrefix() string                         { return Key("tag", "hot") }
