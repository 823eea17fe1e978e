package cache

import (
	"context"
	"time"
)

// CatalogCache holds JSON-encoded catalog listings (products, service
// offerings) so read-heavy endpoints avoid hitting the store on every
// request. Implementations must treat a miss and an error identically from
// the caller's point of view: callers fall back to the repository.
type CatalogCache interface {
	Get(ctx context.Context, key string, dest any) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

type NoopCatalogCache struct{}

func (NoopCatalogCache) Get(_ context.Context, _ string, _ any) (bool, error) {
	return false, nil
}

func (NoopCatalogCache) Set(_ context.Context, _ string, _ any, _ time.Duration) error {
	return nil
}

func (NoopCatalogCache) Delete(_ context.Context, _ ...string) error {
	return nil
}
