package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/guildhall/guildhall/pkg/cache"
	"github.com/jonboulle/clockwork"
)

// NewCache creates the workflow cache named by cacheURL: empty disables
// caching, "memory" keeps graphs in process, redis:// and rediss:// use Redis.
// The returned func releases the cache's resources.
func NewCache(ctx context.Context, cacheURL string) (cache.WorkflowCache, func() error, error) {
	noClose := func() error { return nil }

	switch {
	case cacheURL == "":
		return cache.Noop{}, noClose, nil
	case cacheURL == "memory":
		return cache.NewMemory(clockwork.NewRealClock(), cache.DefaultTTL), noClose, nil
	case strings.HasPrefix(cacheURL, "redis://"), strings.HasPrefix(cacheURL, "rediss://"):
		redisCache, err := cache.NewRedisFromURL(ctx, cacheURL, cache.DefaultTTL)
		if err != nil {
			return nil, nil, err
		}

		return redisCache, redisCache.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported cache URL %q", cacheURL)
	}
}
