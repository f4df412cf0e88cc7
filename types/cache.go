package types

import (
	"context"
)

// Loader fetches one value from the source of truth. found=false marks a
// confirmed absence that is cached as a negative entry.
type Loader[T any] func(ctx context.Context) (value T, found bool, err error)

// BatchLoader fetches the values for ids. Missing ids are simply left out.
type BatchLoader[ID comparable, T any] func(ctx context.Context, ids []ID) ([]T, error)

type IDExtractor[ID comparable, T any] func(value T) ID

type ListLoader[T any] func(ctx context.Context) ([]T, error)

type Locker interface {
	TryLock(ctx context.Context, key string) (LockToken, error)
	Unlock(ctx context.Context, key string, token LockToken) (bool, error)
}

type LockToken string
