package cache

import (
	"context"
	"time"

	"github.com/saiset-co/sai-cache/types"
)

// GetListOrLoad caches a whole list under key. An empty list is cached as a
// negative entry, and callers always receive a non-nil slice.
func GetListOrLoad[T any](ctx context.Context, o *Orchestrator, key string, ttl time.Duration, loader types.ListLoader[T]) ([]T, error) {
	if loader == nil {
		return nil, types.ErrCacheLoaderIsNil
	}

	values, _, err := getOrLoad(ctx, o, key, ttl, func(ctx context.Context) ([]T, bool, error) {
		values, err := loader(ctx)
		return values, len(values) > 0, err
	}, "list")
	if err != nil {
		return nil, err
	}

	if values == nil {
		values = []T{}
	}
	return values, nil
}
